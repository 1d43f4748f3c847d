package subscription

import "github.com/dmitrymomot/quotakit/pkg/entitlement"

// State is the lifecycle position of a record.
type State = entitlement.Status

const (
	StateInactive = entitlement.StatusInactive
	StateActive   = entitlement.StatusActive
	StatePastDue  = entitlement.StatusPastDue
	StateCanceled = entitlement.StatusCanceled
)

// StateOf returns the lifecycle state of a record.
func StateOf(rec entitlement.Record) State {
	if rec.Status == "" {
		return StateInactive
	}
	return rec.Status
}
