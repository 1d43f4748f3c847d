package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// Ledger owns every read and write of entitlement records.
type Ledger struct {
	store         Store
	catalog       *plans.Catalog
	now           func() time.Time
	logger        *slog.Logger
	readPathReset bool
}

// NewLedger wires a ledger over store using catalog for quota amounts.
func NewLedger(store Store, catalog *plans.Catalog, opts ...LedgerOption) *Ledger {
	if store == nil {
		panic("entitlement: store cannot be nil")
	}
	if catalog == nil {
		panic("entitlement: catalog cannot be nil")
	}
	l := &Ledger{
		store:   store,
		catalog: catalog,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog returns the plan catalog the ledger resets from.
func (l *Ledger) Catalog() *plans.Catalog { return l.catalog }

// Provision creates a free-plan record for the user. Calling it again for
// an existing user returns the stored record unchanged.
func (l *Ledger) Provision(ctx context.Context, userID uuid.UUID) (Record, error) {
	if userID == uuid.Nil {
		return Record{}, ErrUnauthenticated
	}
	reset, err := l.ResetFor(plans.PlanFree)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		UserID:       userID,
		Subscription: Subscription{Plan: plans.PlanFree, Status: StatusInactive},
		TokensImages: reset.Quotas.Images,
		TokensText:   reset.Quotas.Text,
		ResetAt:      reset.ResetAt,
	}
	stored, created, err := l.store.Create(ctx, rec)
	if err != nil {
		return Record{}, persistence(err)
	}
	if created {
		l.logger.InfoContext(ctx, "entitlement provisioned",
			logger.UserID(userID),
			slog.Time("reset_at", stored.ResetAt))
	}
	return stored, nil
}

// Get returns the stored record without resetting it.
func (l *Ledger) Get(ctx context.Context, userID uuid.UUID) (Record, error) {
	rec, err := l.store.Get(ctx, userID)
	return rec, persistence(err)
}

// FindBySubscription returns the record bound to a provider subscription.
func (l *Ledger) FindBySubscription(ctx context.Context, subscriptionID string) (Record, error) {
	rec, err := l.store.GetBySubscriptionID(ctx, subscriptionID)
	return rec, persistence(err)
}

// FindByCustomer returns the latest record of a provider customer.
func (l *Ledger) FindByCustomer(ctx context.Context, customerID string) (Record, error) {
	rec, err := l.store.GetByCustomerID(ctx, customerID)
	return rec, persistence(err)
}

// ResetFor builds a full refill of the plan anchored at the current time.
func (l *Ledger) ResetFor(plan plans.Plan) (Reset, error) {
	q, err := l.catalog.QuotasFor(plan)
	if err != nil {
		return Reset{}, err
	}
	return Reset{Quotas: q, ResetAt: NextReset(l.now())}, nil
}

// MaybeReset refills the record's counters if its reset time has passed and
// reports whether this call applied the refill. Pro records are left alone.
// Concurrent callers race on the store's conditional write, so the refill
// happens exactly once per period.
func (l *Ledger) MaybeReset(ctx context.Context, rec Record) (Record, bool, error) {
	now := l.now()
	if !rec.ResetDue(now) {
		return rec, false, nil
	}
	reset, err := l.ResetFor(rec.Plan)
	if err != nil {
		return rec, false, err
	}
	updated, applied, err := l.store.ResetIfDue(ctx, rec.UserID, rec.Plan, reset, now)
	if err != nil {
		return rec, false, persistence(err)
	}
	if applied {
		l.logger.InfoContext(ctx, "monthly quota reset",
			logger.UserID(rec.UserID),
			logger.Plan(rec.Plan),
			slog.Time("next_reset_at", updated.ResetAt))
	}
	return updated, applied, nil
}

// TryConsume atomically decrements one unit of the resource.
func (l *Ledger) TryConsume(ctx context.Context, userID uuid.UUID, res Resource) (Record, bool, error) {
	rec, ok, err := l.store.Decrement(ctx, userID, res)
	return rec, ok, persistence(err)
}

// Apply writes a webhook transition for current. A plan change without an
// explicit reset gets the new plan's full quotas.
func (l *Ledger) Apply(ctx context.Context, current Record, change Change) (Record, error) {
	if err := change.Subscription.Validate(); err != nil {
		return current, err
	}
	if change.Reset == nil && change.Subscription.Plan != current.Plan {
		reset, err := l.ResetFor(change.Subscription.Plan)
		if err != nil {
			return current, err
		}
		change.Reset = &reset
	}
	if change.Watermark.IsZero() {
		change.Watermark = l.now().UTC()
	}
	rec, err := l.store.Apply(ctx, current.UserID, change)
	return rec, persistence(err)
}

// Snapshot is the user-facing view of a record.
type Snapshot struct {
	UserID            uuid.UUID    `json:"userId"`
	Plan              plans.Plan   `json:"plan"`
	Status            Status       `json:"subscriptionStatus"`
	BillingCycle      plans.Cycle  `json:"billingCycle,omitempty"`
	Remaining         plans.Quotas `json:"remaining"`
	ResetAt           time.Time    `json:"resetAt"`
	ResetDue          bool         `json:"resetDue"`
	SubscriptionEndAt *time.Time   `json:"subscriptionEndAt,omitempty"`
}

// Peek returns the user's balances. Unless WithReadPathReset is set, a due
// reset is reported via ResetDue and applied by the next metered action.
func (l *Ledger) Peek(ctx context.Context, userID uuid.UUID) (Snapshot, error) {
	rec, err := l.Get(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if l.readPathReset {
		if rec, _, err = l.MaybeReset(ctx, rec); err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{
		UserID:            rec.UserID,
		Plan:              rec.Plan,
		Status:            rec.Status,
		BillingCycle:      rec.BillingCycle,
		Remaining:         rec.Remaining(),
		ResetAt:           rec.ResetAt,
		ResetDue:          rec.ResetDue(l.now()),
		SubscriptionEndAt: rec.EndAt,
	}, nil
}

func persistence(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrStaleWrite), errors.Is(err, ErrInvalidRecord), errors.Is(err, ErrPersistenceFailure):
		return err
	}
	return errors.Join(ErrPersistenceFailure, fmt.Errorf("store: %w", err))
}
