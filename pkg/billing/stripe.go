package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	stripesub "github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

// StripeProvider maps Stripe webhook events to lifecycle events.
type StripeProvider struct {
	secret    string
	tolerance time.Duration
	subs      *stripesub.Client
}

func NewStripe(cfg Config) (*StripeProvider, error) {
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	p := &StripeProvider{
		secret:    cfg.WebhookSecret,
		tolerance: cfg.SignatureMaxAge,
	}
	if cfg.APIKey != "" {
		p.subs = &stripesub.Client{B: stripe.GetBackend(stripe.APIBackend), Key: cfg.APIKey}
	}
	return p, nil
}

func (p *StripeProvider) ParseEvent(_ context.Context, payload []byte, signature string) (*subscription.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		Tolerance:                p.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, signatureError(err)
		}
		return nil, malformed(err)
	}

	ev := &subscription.Event{
		ID:           event.ID,
		Type:         subscription.EventUnrecognized,
		ProviderType: string(event.Type),
		OccurredAt:   time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, malformed(err)
		}
		if s.Mode != stripe.CheckoutSessionModeSubscription {
			return ev, nil
		}
		ev.Type = subscription.EventCheckoutCompleted
		ev.Metadata = subscription.Metadata{
			UserID:       firstNonEmpty(metadataValue(s.Metadata, "userId", "user_id"), s.ClientReferenceID),
			Plan:         s.Metadata["plan"],
			BillingCycle: metadataValue(s.Metadata, "billingCycle", "billing_cycle"),
		}
		if s.Customer != nil {
			ev.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			ev.SubscriptionID = s.Subscription.ID
			if s.Subscription.CurrentPeriodEnd > 0 {
				ev.Period = stripePeriod(s.Subscription.CurrentPeriodStart, s.Subscription.CurrentPeriodEnd)
			}
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var s stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, malformed(err)
		}
		ev.Type = subscription.EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			ev.Type = subscription.EventSubscriptionDeleted
		}
		ev.SubscriptionID = s.ID
		if s.Customer != nil {
			ev.CustomerID = s.Customer.ID
		}
		ev.Status = mapStatus(string(s.Status))
		ev.CancelAtPeriodEnd = s.CancelAtPeriodEnd
		if s.CurrentPeriodEnd > 0 {
			ev.Period = stripePeriod(s.CurrentPeriodStart, s.CurrentPeriodEnd)
		}
		if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
			ev.PriceID = s.Items.Data[0].Price.ID
		}

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, malformed(err)
		}
		ev.Type = subscription.EventInvoicePaymentSucceeded
		if event.Type == "invoice.payment_failed" {
			ev.Type = subscription.EventInvoicePaymentFailed
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}
		ev.InitialInvoice = inv.BillingReason == stripe.InvoiceBillingReasonSubscriptionCreate
		if inv.Lines != nil {
			for _, line := range inv.Lines.Data {
				if line.Period != nil && line.Period.End > 0 {
					ev.Period = stripePeriod(line.Period.Start, line.Period.End)
					break
				}
			}
		}
	}

	return ev, nil
}

// FetchPeriod re-reads the subscription's current period from the API.
func (p *StripeProvider) FetchPeriod(ctx context.Context, subscriptionID string) (*subscription.Period, error) {
	if p.subs == nil {
		return nil, errors.Join(subscription.ErrPeriodUnavailable, ErrMissingAPIKey)
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	s, err := p.subs.Get(subscriptionID, params)
	if err != nil {
		return nil, errors.Join(subscription.ErrPeriodUnavailable, fmt.Errorf("stripe: get subscription %s: %w", subscriptionID, err))
	}
	return stripePeriod(s.CurrentPeriodStart, s.CurrentPeriodEnd), nil
}

func stripePeriod(start, end int64) *subscription.Period {
	return &subscription.Period{StartAt: time.Unix(start, 0).UTC(), EndAt: time.Unix(end, 0).UTC()}
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}
