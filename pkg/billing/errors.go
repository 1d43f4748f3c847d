package billing

import "errors"

var (
	ErrUnknownProvider      = errors.New("billing: unknown provider")
	ErrMissingAPIKey        = errors.New("billing: provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing: webhook secret is required")
	ErrInvalidEnvironment   = errors.New("billing: invalid provider environment")
)
