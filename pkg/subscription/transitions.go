package subscription

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

type transition struct {
	from []State
	next func(m *Machine, rec entitlement.Record, ev *Event) (entitlement.Change, error)
}

var anyState = []State{StateInactive, StateActive, StatePastDue, StateCanceled}

var transitions = map[EventType]transition{
	EventCheckoutCompleted: {
		from: anyState,
		next: (*Machine).checkoutCompleted,
	},
	EventSubscriptionUpdated: {
		from: []State{StateActive, StatePastDue, StateCanceled},
		next: (*Machine).subscriptionUpdated,
	},
	EventSubscriptionDeleted: {
		from: []State{StateActive, StatePastDue, StateCanceled},
		next: (*Machine).subscriptionDeleted,
	},
	EventInvoicePaymentSucceeded: {
		from: []State{StateActive, StatePastDue, StateCanceled},
		next: (*Machine).invoicePaymentSucceeded,
	},
	EventInvoicePaymentFailed: {
		from: []State{StateActive, StatePastDue},
		next: (*Machine).invoicePaymentFailed,
	},
}

// Machine computes the record change an event causes. It never writes.
type Machine struct {
	ledger *entitlement.Ledger
}

// NewMachine builds the transition table. ledger supplies catalog lookups
// and reset amounts.
func NewMachine(ledger *entitlement.Ledger) *Machine {
	return &Machine{ledger: ledger}
}

// Next returns the change for ev applied to rec, or ErrNoTransition when
// the event does not apply in the record's current state.
func (m *Machine) Next(rec entitlement.Record, ev *Event) (entitlement.Change, error) {
	t, ok := transitions[ev.Type]
	if !ok {
		return entitlement.Change{}, errors.Join(ErrNoTransition, fmt.Errorf("event type %q", ev.Type))
	}
	if state := StateOf(rec); !slices.Contains(t.from, state) {
		return entitlement.Change{}, errors.Join(ErrNoTransition, fmt.Errorf("%s in state %s", ev.Type, state))
	}
	change, err := t.next(m, rec, ev)
	if err != nil {
		return entitlement.Change{}, err
	}
	change.Watermark = ev.OccurredAt
	return change, nil
}

func (m *Machine) checkoutCompleted(_ entitlement.Record, ev *Event) (entitlement.Change, error) {
	if ev.SubscriptionID == "" || ev.CustomerID == "" {
		return entitlement.Change{}, errors.Join(ErrInvalidEvent, errors.New("checkout without subscription or customer id"))
	}
	ref, err := m.checkoutPlan(ev)
	if err != nil {
		return entitlement.Change{}, err
	}
	reset, err := m.ledger.ResetFor(ref.Plan)
	if err != nil {
		return entitlement.Change{}, err
	}

	sub := entitlement.Subscription{
		Plan:           ref.Plan,
		Status:         entitlement.StatusActive,
		SubscriptionID: ev.SubscriptionID,
		CustomerID:     ev.CustomerID,
		BillingCycle:   ref.Cycle,
	}
	withPeriod(&sub, ev.Period)
	return entitlement.Change{Subscription: sub, Reset: &reset}, nil
}

// checkoutPlan prefers the checkout metadata and falls back to the price.
func (m *Machine) checkoutPlan(ev *Event) (plans.Ref, error) {
	var ref plans.Ref
	if ev.PriceID != "" {
		if byPrice, err := m.ledger.Catalog().PlanFor(ev.PriceID); err == nil {
			ref = byPrice
		}
	}
	if ev.Metadata.Plan != "" {
		p, err := plans.ParsePlan(ev.Metadata.Plan)
		if err != nil {
			return plans.Ref{}, errors.Join(ErrInvalidEvent, err)
		}
		ref.Plan = p
	}
	if ev.Metadata.BillingCycle != "" {
		c, err := plans.ParseCycle(ev.Metadata.BillingCycle)
		if err != nil {
			return plans.Ref{}, errors.Join(ErrInvalidEvent, err)
		}
		ref.Cycle = c
	}
	if !ref.Plan.IsPaid() {
		return plans.Ref{}, errors.Join(ErrInvalidEvent, fmt.Errorf("checkout for non-paid plan %q", ref.Plan))
	}
	return ref, nil
}

func (m *Machine) subscriptionUpdated(rec entitlement.Record, ev *Event) (entitlement.Change, error) {
	sub := rec.Subscription
	if ev.Status != "" {
		sub.Status = ev.Status
	}
	if ev.CancelAtPeriodEnd && sub.Status == entitlement.StatusActive {
		sub.Status = entitlement.StatusCanceled
	}
	if sub.Status == entitlement.StatusInactive {
		// Incomplete or paused on the provider side; keep access state.
		sub.Status = rec.Status
	}
	withPeriod(&sub, ev.Period)

	change := entitlement.Change{Subscription: sub}
	if ev.PriceID != "" {
		ref, err := m.ledger.Catalog().PlanFor(ev.PriceID)
		if err == nil && ref.Plan != rec.Plan {
			reset, err := m.ledger.ResetFor(ref.Plan)
			if err != nil {
				return entitlement.Change{}, err
			}
			change.Subscription.Plan = ref.Plan
			change.Subscription.BillingCycle = ref.Cycle
			change.Reset = &reset
		}
	}
	return change, nil
}

func (m *Machine) subscriptionDeleted(rec entitlement.Record, _ *Event) (entitlement.Change, error) {
	reset, err := m.ledger.ResetFor(plans.PlanFree)
	if err != nil {
		return entitlement.Change{}, err
	}
	return entitlement.Change{
		Subscription: entitlement.Subscription{
			Plan:       plans.PlanFree,
			Status:     entitlement.StatusInactive,
			CustomerID: rec.CustomerID,
		},
		Reset: &reset,
	}, nil
}

func (m *Machine) invoicePaymentSucceeded(rec entitlement.Record, ev *Event) (entitlement.Change, error) {
	if ev.InitialInvoice {
		return entitlement.Change{}, errors.Join(ErrNoTransition, errors.New("initial invoice already covered by checkout"))
	}
	if !rec.Plan.IsPaid() {
		return entitlement.Change{}, errors.Join(ErrNoTransition, fmt.Errorf("invoice for %s plan", rec.Plan))
	}
	reset, err := m.ledger.ResetFor(rec.Plan)
	if err != nil {
		return entitlement.Change{}, err
	}
	sub := rec.Subscription
	if sub.Status == entitlement.StatusPastDue {
		sub.Status = entitlement.StatusActive
	}
	withPeriod(&sub, ev.Period)
	return entitlement.Change{Subscription: sub, Reset: &reset}, nil
}

func (m *Machine) invoicePaymentFailed(rec entitlement.Record, _ *Event) (entitlement.Change, error) {
	sub := rec.Subscription
	sub.Status = entitlement.StatusPastDue
	return entitlement.Change{Subscription: sub}, nil
}

func withPeriod(sub *entitlement.Subscription, p *Period) {
	if p == nil {
		return
	}
	start, end := p.StartAt.UTC(), p.EndAt.UTC()
	sub.StartAt, sub.EndAt = &start, &end
}
