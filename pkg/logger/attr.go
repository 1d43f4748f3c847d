package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.String(strconv.Itoa(i), err.Error()))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error records err under the key "error". Nil errors produce an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// UserID records the user identifier under the key "user_id".
// Nil ids and empty strings produce an empty Attr.
func UserID(id any) slog.Attr {
	return stringer("user_id", id)
}

// EventKey records the deduplication key of a webhook delivery.
func EventKey(key string) slog.Attr {
	return slog.String("event_key", key)
}

// EventType records the normalized lifecycle event type.
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// ProviderEventType records the event type as named by the billing provider.
func ProviderEventType(eventType string) slog.Attr {
	return slog.String("provider_event_type", eventType)
}

func SubscriptionID(id string) slog.Attr {
	return slog.String("subscription_id", id)
}

func CustomerID(id string) slog.Attr {
	return slog.String("customer_id", id)
}

// Plan records the entitlement plan.
func Plan(plan fmt.Stringer) slog.Attr {
	return slog.String("plan", plan.String())
}

func Resource(res string) slog.Attr {
	return slog.String("resource", res)
}

func Outcome(outcome string) slog.Attr {
	return slog.String("outcome", outcome)
}

func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// Transition records a status change as "from" and "to".
func Transition(from, to string) slog.Attr {
	return Group("status", slog.String("from", from), slog.String("to", to))
}

// Duration records elapsed time under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func stringer(key string, v any) slog.Attr {
	switch x := v.(type) {
	case nil:
		return slog.Attr{}
	case string:
		if x == "" {
			return slog.Attr{}
		}
		return slog.String(key, x)
	case fmt.Stringer:
		return slog.String(key, x.String())
	}
	return slog.Any(key, v)
}
