package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
)

// EventType is a normalized provider notification.
type EventType string

const (
	EventCheckoutCompleted       EventType = "checkout_completed"
	EventSubscriptionUpdated     EventType = "subscription_updated"
	EventSubscriptionDeleted     EventType = "subscription_deleted"
	EventInvoicePaymentSucceeded EventType = "invoice_payment_succeeded"
	EventInvoicePaymentFailed    EventType = "invoice_payment_failed"

	// EventUnrecognized marks provider events outside the lifecycle.
	EventUnrecognized EventType = "unrecognized"
)

// Period is a subscription's current billing period.
type Period struct {
	StartAt time.Time
	EndAt   time.Time
}

// Metadata is the application data attached to a checkout.
type Metadata struct {
	UserID       string
	Plan         string
	BillingCycle string
}

// Event is a verified provider notification mapped onto the lifecycle.
type Event struct {
	ID           string
	Type         EventType
	ProviderType string
	OccurredAt   time.Time

	SubscriptionID string
	CustomerID     string
	PriceID        string
	Metadata       Metadata

	// Status is the provider subscription status mapped to ours; empty when
	// the event does not carry one.
	Status            entitlement.Status
	CancelAtPeriodEnd bool
	Period            *Period

	// InitialInvoice is set on the first invoice of a new subscription,
	// whose quota was already granted by the checkout.
	InitialInvoice bool
}

func (e *Event) needsPeriod() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventSubscriptionUpdated:
		return e.Period == nil && e.SubscriptionID != ""
	}
	return false
}

// Provider verifies and normalizes webhook deliveries of one billing
// provider and re-fetches subscription periods when an event omits them.
type Provider interface {
	// ParseEvent returns ErrSignatureInvalid when verification fails and
	// ErrMalformedEvent when a verified payload cannot be decoded.
	ParseEvent(ctx context.Context, payload []byte, signature string) (*Event, error)
	FetchPeriod(ctx context.Context, subscriptionID string) (*Period, error)
}
