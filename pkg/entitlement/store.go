package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// Store persists entitlement records. Every mutating method is a single
// atomic conditional write; callers never read-modify-write counters.
type Store interface {
	// Create inserts the record unless one exists for the user.
	// It returns the stored record and whether it was inserted.
	Create(ctx context.Context, rec Record) (Record, bool, error)
	Get(ctx context.Context, userID uuid.UUID) (Record, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (Record, error)
	GetByCustomerID(ctx context.Context, customerID string) (Record, error)

	// Decrement consumes one unit of the resource if the record is pro,
	// the counter is unlimited, or the counter is above zero. On
	// contention only as many callers succeed as there were units.
	Decrement(ctx context.Context, userID uuid.UUID, res Resource) (Record, bool, error)

	// ResetIfDue refills the counters only while the stored reset time is
	// not after now and the stored plan equals plan.
	ResetIfDue(ctx context.Context, userID uuid.UUID, plan plans.Plan, reset Reset, now time.Time) (Record, bool, error)

	// Apply writes a webhook transition unless the stored watermark is
	// newer, in which case it fails with ErrStaleWrite.
	Apply(ctx context.Context, userID uuid.UUID, change Change) (Record, error)
}
