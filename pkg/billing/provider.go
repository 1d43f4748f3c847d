// Package billing adapts billing provider webhooks (Stripe, Paddle, or a
// generic HMAC-signed feed) to subscription lifecycle events.
package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

// New builds the provider selected by cfg.Provider.
func New(cfg Config) (subscription.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderStripe:
		return NewStripe(cfg)
	case ProviderPaddle:
		return NewPaddle(cfg)
	case ProviderHMAC:
		return NewHMAC(cfg)
	}
	return nil, errors.Join(ErrUnknownProvider, fmt.Errorf("provider %q", cfg.Provider))
}

// SignatureHeader names the request header carrying the provider signature.
func SignatureHeader(provider string) string {
	switch strings.ToLower(provider) {
	case ProviderPaddle:
		return "Paddle-Signature"
	case ProviderHMAC:
		return HMACSignatureHeader
	}
	return "Stripe-Signature"
}

// mapStatus normalizes provider subscription statuses. Unknown values map to
// the empty status, which leaves the stored status unchanged.
func mapStatus(s string) entitlement.Status {
	switch strings.ToLower(s) {
	case "active", "trialing":
		return entitlement.StatusActive
	case "past_due", "unpaid":
		return entitlement.StatusPastDue
	case "canceled", "cancelled", "incomplete_expired":
		return entitlement.StatusCanceled
	case "incomplete", "paused":
		return entitlement.StatusInactive
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// metadataValue reads a key in either camelCase or snake_case.
func metadataValue(m map[string]string, camel, snake string) string {
	return firstNonEmpty(m[camel], m[snake])
}

func signatureError(err error) error {
	return errors.Join(subscription.ErrSignatureInvalid, err)
}

func malformed(err error) error {
	return errors.Join(subscription.ErrMalformedEvent, err)
}
