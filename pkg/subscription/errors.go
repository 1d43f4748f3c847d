package subscription

import "errors"

var (
	ErrSignatureInvalid  = errors.New("subscription: webhook signature invalid")
	ErrMalformedEvent    = errors.New("subscription: malformed webhook event")
	ErrInvalidEvent      = errors.New("subscription: event missing required fields")
	ErrNoTransition      = errors.New("subscription: event does not apply to current state")
	ErrPeriodUnavailable = errors.New("subscription: billing period unavailable")
	ErrEventLog          = errors.New("subscription: event log failure")
)
