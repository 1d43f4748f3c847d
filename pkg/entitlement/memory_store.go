package entitlement

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// MemoryStore is an in-process Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	now     func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithMemoryClock sets the clock used for CreatedAt and UpdatedAt.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		records: make(map[uuid.UUID]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts rec unless the user already has a record, which is
// returned unchanged.
func (s *MemoryStore) Create(_ context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.UserID]; ok {
		return clone(existing), false, nil
	}
	now := s.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records[rec.UserID] = clone(rec)
	return clone(rec), true, nil
}

// Get returns the user's record or ErrUserNotFound.
func (s *MemoryStore) Get(_ context.Context, userID uuid.UUID) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrUserNotFound
	}
	return clone(rec), nil
}

// GetBySubscriptionID finds the record bound to a provider subscription.
func (s *MemoryStore) GetBySubscriptionID(_ context.Context, subscriptionID string) (Record, error) {
	return s.find(func(r Record) bool { return subscriptionID != "" && r.SubscriptionID == subscriptionID })
}

// GetByCustomerID finds the most recently updated record of a provider
// customer.
func (s *MemoryStore) GetByCustomerID(_ context.Context, customerID string) (Record, error) {
	return s.find(func(r Record) bool { return customerID != "" && r.CustomerID == customerID })
}

func (s *MemoryStore) find(match func(Record) bool) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		found Record
		ok    bool
	)
	for _, rec := range s.records {
		if match(rec) && (!ok || newer(rec, found)) {
			found, ok = rec, true
		}
	}
	if !ok {
		return Record{}, ErrUserNotFound
	}
	return clone(found), nil
}

// newer orders by UpdatedAt descending, then by user id.
func newer(a, b Record) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return bytes.Compare(a.UserID[:], b.UserID[:]) < 0
}

// Decrement takes one unit of the resource if any is left. Pro records are
// granted without touching the counters.
func (s *MemoryStore) Decrement(_ context.Context, userID uuid.UUID, res Resource) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, false, ErrUserNotFound
	}
	if rec.Plan == plans.PlanPro {
		return clone(rec), true, nil
	}

	counter := &rec.TokensText
	if res == ResourceImage {
		counter = &rec.TokensImages
	}
	next, ok := counter.Decrement()
	if !ok {
		return clone(rec), false, nil
	}
	*counter = next
	rec.UpdatedAt = s.now().UTC()
	s.records[userID] = rec
	return clone(rec), true, nil
}

// ResetIfDue refills the counters if the plan is unchanged and the reset
// time has passed, and reports whether it did.
func (s *MemoryStore) ResetIfDue(_ context.Context, userID uuid.UUID, plan plans.Plan, reset Reset, now time.Time) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, false, ErrUserNotFound
	}
	if rec.Plan != plan || rec.ResetAt.After(now) {
		return clone(rec), false, nil
	}
	rec.TokensImages = reset.Quotas.Images
	rec.TokensText = reset.Quotas.Text
	rec.ResetAt = reset.ResetAt
	rec.UpdatedAt = s.now().UTC()
	s.records[userID] = rec
	return clone(rec), true, nil
}

// Apply writes change unless the stored watermark is newer.
func (s *MemoryStore) Apply(_ context.Context, userID uuid.UUID, change Change) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return Record{}, ErrUserNotFound
	}
	if change.Stale(rec) {
		return clone(rec), ErrStaleWrite
	}
	rec = change.apply(rec, s.now().UTC())
	s.records[userID] = rec
	return clone(rec), nil
}

func clone(r Record) Record {
	r.StartAt = copyTime(r.StartAt)
	r.EndAt = copyTime(r.EndAt)
	r.LastEventAt = copyTime(r.LastEventAt)
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
