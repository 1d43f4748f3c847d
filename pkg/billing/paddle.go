package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

// PaddleProvider maps Paddle Billing notifications to lifecycle events.
type PaddleProvider struct {
	client   *paddle.SDK
	verifier *paddle.WebhookVerifier
	maxAge   time.Duration
	now      func() time.Time
}

func NewPaddle(cfg Config) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(cfg.PaddleEnvironment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, errors.Join(ErrInvalidEnvironment, fmt.Errorf("paddle environment %q", cfg.PaddleEnvironment))
	}
	if err != nil {
		return nil, fmt.Errorf("billing: create paddle client: %w", err)
	}

	return &PaddleProvider{
		client:   client,
		verifier: paddle.NewWebhookVerifier(cfg.WebhookSecret),
		maxAge:   cfg.SignatureMaxAge,
		now:      time.Now,
	}, nil
}

type paddleEnvelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type paddleSubscription struct {
	ID                   string        `json:"id"`
	Status               string        `json:"status"`
	CustomerID           string        `json:"customer_id"`
	CurrentBillingPeriod *paddlePeriod `json:"current_billing_period"`
	ScheduledChange      *struct {
		Action string `json:"action"`
	} `json:"scheduled_change"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	Origin         string         `json:"origin"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	Items          []struct {
		PriceID string `json:"price_id"`
	} `json:"items"`
}

func (p *PaddleProvider) ParseEvent(ctx context.Context, payload []byte, signature string) (*subscription.Event, error) {
	if err := p.verify(ctx, payload, signature); err != nil {
		return nil, signatureError(err)
	}

	var env paddleEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, malformed(err)
	}

	ev := &subscription.Event{
		ID:           env.EventID,
		Type:         subscription.EventUnrecognized,
		ProviderType: env.EventType,
		OccurredAt:   env.OccurredAt.UTC(),
	}

	switch env.EventType {
	case "subscription.updated", "subscription.canceled":
		var s paddleSubscription
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, malformed(err)
		}
		ev.Type = subscription.EventSubscriptionUpdated
		if env.EventType == "subscription.canceled" {
			ev.Type = subscription.EventSubscriptionDeleted
		}
		ev.SubscriptionID = s.ID
		ev.CustomerID = s.CustomerID
		ev.Status = mapStatus(s.Status)
		ev.CancelAtPeriodEnd = s.ScheduledChange != nil && s.ScheduledChange.Action == "cancel"
		if s.CurrentBillingPeriod != nil {
			ev.Period = &subscription.Period{StartAt: s.CurrentBillingPeriod.StartsAt, EndAt: s.CurrentBillingPeriod.EndsAt}
		}
		if len(s.Items) > 0 {
			ev.PriceID = s.Items[0].Price.ID
		}

	case "transaction.completed", "transaction.payment_failed":
		var tx paddleTransaction
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return nil, malformed(err)
		}
		if tx.SubscriptionID == "" {
			return ev, nil
		}
		ev.SubscriptionID = tx.SubscriptionID
		ev.CustomerID = tx.CustomerID
		if len(tx.Items) > 0 {
			ev.PriceID = tx.Items[0].PriceID
		}
		if tx.BillingPeriod != nil {
			ev.Period = &subscription.Period{StartAt: tx.BillingPeriod.StartsAt, EndAt: tx.BillingPeriod.EndsAt}
		}

		custom := stringValues(tx.CustomData)
		recurring := tx.Origin == "subscription_recurring"
		switch {
		case env.EventType == "transaction.payment_failed":
			ev.Type = subscription.EventInvoicePaymentFailed
		case !recurring && metadataValue(custom, "userId", "user_id") != "":
			ev.Type = subscription.EventCheckoutCompleted
			ev.Metadata = subscription.Metadata{
				UserID:       metadataValue(custom, "userId", "user_id"),
				Plan:         custom["plan"],
				BillingCycle: metadataValue(custom, "billingCycle", "billing_cycle"),
			}
		default:
			ev.Type = subscription.EventInvoicePaymentSucceeded
			ev.InitialInvoice = !recurring
		}
	}

	return ev, nil
}

// FetchPeriod reads the subscription's current billing period from the API.
func (p *PaddleProvider) FetchPeriod(ctx context.Context, subscriptionID string) (*subscription.Period, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, errors.Join(subscription.ErrPeriodUnavailable, fmt.Errorf("paddle: get subscription %s: %w", subscriptionID, err))
	}
	if sub.CurrentBillingPeriod == nil {
		return nil, subscription.ErrPeriodUnavailable
	}
	start, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.StartsAt)
	if err != nil {
		return nil, errors.Join(subscription.ErrPeriodUnavailable, err)
	}
	end, err := time.Parse(time.RFC3339, sub.CurrentBillingPeriod.EndsAt)
	if err != nil {
		return nil, errors.Join(subscription.ErrPeriodUnavailable, err)
	}
	return &subscription.Period{StartAt: start.UTC(), EndAt: end.UTC()}, nil
}

// verify checks the "ts=<unix>;h1=<hex>" signature with the SDK verifier,
// which needs a request, and enforces the timestamp window.
func (p *PaddleProvider) verify(ctx context.Context, payload []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Paddle-Signature", signature)

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("signature mismatch")
	}

	if p.maxAge > 0 {
		ts, err := paddleTimestamp(signature)
		if err != nil {
			return err
		}
		if age := p.now().Sub(ts); age > p.maxAge || age < -maxClockSkew {
			return fmt.Errorf("signature timestamp outside window: %v", age)
		}
	}
	return nil
}

// stringValues keeps the string entries of Paddle custom data.
func stringValues(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func paddleTimestamp(signature string) (time.Time, error) {
	for part := range strings.SplitSeq(signature, ";") {
		if v, ok := strings.CutPrefix(part, "ts="); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid signature timestamp: %w", err)
			}
			return time.Unix(n, 0), nil
		}
	}
	return time.Time{}, errors.New("signature timestamp missing")
}
