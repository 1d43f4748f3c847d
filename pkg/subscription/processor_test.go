package subscription_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/plans"
	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ParseEvent(ctx context.Context, payload []byte, signature string) (*subscription.Event, error) {
	args := m.Called(ctx, string(payload), signature)
	ev, _ := args.Get(0).(*subscription.Event)
	return ev, args.Error(1)
}

func (m *mockProvider) FetchPeriod(ctx context.Context, subscriptionID string) (*subscription.Period, error) {
	args := m.Called(ctx, subscriptionID)
	p, _ := args.Get(0).(*subscription.Period)
	return p, args.Error(1)
}

// flakyStore fails the next Apply calls while failures is positive, and
// rejects every write as a constraint violation while reject is set.
type flakyStore struct {
	*entitlement.MemoryStore
	failures atomic.Int32
	reject   atomic.Bool
}

func (s *flakyStore) Apply(ctx context.Context, userID uuid.UUID, change entitlement.Change) (entitlement.Record, error) {
	if s.reject.Load() {
		return entitlement.Record{}, errors.Join(entitlement.ErrInvalidRecord, errors.New("check constraint violated"))
	}
	if s.failures.Add(-1) >= 0 {
		return entitlement.Record{}, errors.New("connection reset by peer")
	}
	return s.MemoryStore.Apply(ctx, userID, change)
}

var (
	t0     = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	period = &subscription.Period{StartAt: t0, EndAt: t0.AddDate(0, 1, 0)}
)

type harness struct {
	provider *mockProvider
	store    *flakyStore
	ledger   *entitlement.Ledger
	gate     *entitlement.Gate
	proc     *subscription.Processor
	userID   uuid.UUID
	seq      int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &mockProvider{},
		store:    &flakyStore{MemoryStore: entitlement.NewMemoryStore()},
		userID:   uuid.New(),
	}
	h.ledger = entitlement.NewLedger(h.store, plans.Default(), entitlement.WithClock(func() time.Time { return t0 }))
	h.gate = entitlement.NewGate(h.ledger)
	h.proc = subscription.NewProcessor(h.provider, h.ledger, subscription.NewMemoryEventLog())
	_, err := h.ledger.Provision(context.Background(), h.userID)
	require.NoError(t, err)
	return h
}

// deliver registers ev under a unique payload and processes it.
func (h *harness) deliver(t *testing.T, ev *subscription.Event) subscription.Ack {
	t.Helper()
	h.seq++
	payload := ev.ID + "#" + strings.Repeat("x", h.seq)
	h.provider.On("ParseEvent", mock.Anything, payload, "sig").Return(ev, nil).Once()
	ack, err := h.proc.Handle(context.Background(), []byte(payload), "sig")
	require.NoError(t, err)
	require.True(t, ack.Accepted())
	return ack
}

func (h *harness) record(t *testing.T) entitlement.Record {
	t.Helper()
	rec, err := h.ledger.Get(context.Background(), h.userID)
	require.NoError(t, err)
	return rec
}

func (h *harness) checkout(id string, plan plans.Plan, at time.Time) *subscription.Event {
	return &subscription.Event{
		ID:             id,
		Type:           subscription.EventCheckoutCompleted,
		OccurredAt:     at,
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Metadata:       subscription.Metadata{UserID: h.userID.String(), Plan: string(plan), BillingCycle: "monthly"},
		Period:         period,
	}
}

func TestCheckoutActivatesPlan(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ack := h.deliver(t, h.checkout("evt_1", plans.PlanBasic, t0))
	assert.Equal(t, subscription.OutcomeApplied, ack.Outcome)
	assert.Equal(t, "evt_1", ack.EventKey)

	rec := h.record(t)
	assert.Equal(t, plans.PlanBasic, rec.Plan)
	assert.Equal(t, entitlement.StatusActive, rec.Status)
	assert.Equal(t, plans.CycleMonthly, rec.BillingCycle)
	assert.Equal(t, "sub_1", rec.SubscriptionID)
	assert.Equal(t, "cus_1", rec.CustomerID)
	assert.Equal(t, plans.Limited(300), rec.TokensImages)
	assert.Equal(t, plans.Limited(100), rec.TokensText)
	require.NotNil(t, rec.EndAt)
	assert.Equal(t, period.EndAt, *rec.EndAt)
}

func TestCheckoutProvisionsUnknownUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.userID = uuid.New()

	ack := h.deliver(t, h.checkout("evt_new", plans.PlanPro, t0))
	assert.Equal(t, subscription.OutcomeApplied, ack.Outcome)

	rec := h.record(t)
	assert.Equal(t, plans.PlanPro, rec.Plan)
	assert.True(t, rec.Quota(entitlement.ResourceImage).IsUnlimited())
}

func TestUpgradeUnblocksConsumption(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	for range 20 {
		res, err := h.gate.Consume(ctx, h.userID, entitlement.ResourceImage)
		require.NoError(t, err)
		require.True(t, res.Granted)
	}

	res, err := h.gate.Consume(ctx, h.userID, entitlement.ResourceImage)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.True(t, res.NeedsUpgrade)

	h.deliver(t, h.checkout("evt_upgrade", plans.PlanBasic, t0))

	res, err = h.gate.Consume(ctx, h.userID, entitlement.ResourceImage)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, plans.Limited(299), res.Remaining.Images)
}

func TestDuplicateDeliveryAppliedOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.deliver(t, h.checkout("evt_1", plans.PlanBasic, t0))
	renewal := &subscription.Event{
		ID:             "evt_renew",
		Type:           subscription.EventInvoicePaymentSucceeded,
		OccurredAt:     t0.Add(time.Hour),
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	}
	assert.Equal(t, subscription.OutcomeApplied, h.deliver(t, renewal).Outcome)

	_, err := h.gate.Consume(ctx, h.userID, entitlement.ResourceText)
	require.NoError(t, err)

	assert.Equal(t, subscription.OutcomeDuplicate, h.deliver(t, renewal).Outcome)
	assert.Equal(t, plans.Limited(99), h.record(t).TokensText)
}

func TestSubscriptionDeletedIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.deliver(t, h.checkout("evt_1", plans.PlanPro, t0))

	deleted := func(id string, at time.Time) *subscription.Event {
		return &subscription.Event{
			ID:             id,
			Type:           subscription.EventSubscriptionDeleted,
			OccurredAt:     at,
			SubscriptionID: "sub_1",
			CustomerID:     "cus_1",
		}
	}

	assert.Equal(t, subscription.OutcomeApplied, h.deliver(t, deleted("evt_del", t0.Add(time.Hour))).Outcome)
	first := h.record(t)

	assert.Equal(t, subscription.OutcomeDuplicate, h.deliver(t, deleted("evt_del", t0.Add(time.Hour))).Outcome)
	assert.Equal(t, subscription.OutcomeIgnored, h.deliver(t, deleted("evt_del_retry", t0.Add(2*time.Hour))).Outcome)

	second := h.record(t)
	assert.Equal(t, first, second)
	assert.Equal(t, plans.PlanFree, second.Plan)
	assert.Equal(t, entitlement.StatusInactive, second.Status)
	assert.Empty(t, second.SubscriptionID)
	assert.Empty(t, second.BillingCycle)
	assert.Nil(t, second.EndAt)
	assert.Equal(t, "cus_1", second.CustomerID)
	assert.Equal(t, plans.Limited(20), second.TokensImages)
}

func TestStaleUpdateDropped(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.deliver(t, h.checkout("evt_checkout", plans.PlanBasic, t0.Add(time.Minute)))

	ack := h.deliver(t, &subscription.Event{
		ID:             "evt_old",
		Type:           subscription.EventSubscriptionUpdated,
		OccurredAt:     t0,
		SubscriptionID: "sub_1",
		Status:         entitlement.StatusPastDue,
		Period:         period,
	})
	assert.Equal(t, subscription.OutcomeStale, ack.Outcome)
	assert.Equal(t, entitlement.StatusActive, h.record(t).Status)
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.deliver(t, h.checkout("evt_1", plans.PlanBasic, t0))
	end := t0.AddDate(0, 1, 0)
	ack := h.deliver(t, &subscription.Event{
		ID:                "evt_cancel",
		Type:              subscription.EventSubscriptionUpdated,
		OccurredAt:        t0.Add(time.Hour),
		SubscriptionID:    "sub_1",
		Status:            entitlement.StatusActive,
		CancelAtPeriodEnd: true,
		Period:            &subscription.Period{StartAt: t0, EndAt: end},
	})
	assert.Equal(t, subscription.OutcomeApplied, ack.Outcome)

	rec := h.record(t)
	assert.Equal(t, entitlement.StatusCanceled, rec.Status)
	assert.Equal(t, plans.PlanBasic, rec.Plan)

	res, err := h.gate.Consume(ctx, h.userID, entitlement.ResourceImage)
	require.NoError(t, err)
	assert.True(t, res.Granted)
}

func TestUpdateWithNewPriceChangesPlan(t *testing.T) {
	t.Parallel()

	specs := plans.DefaultSpecs()
	specs[1].Prices = map[plans.Cycle]map[string]string{plans.CycleMonthly: {"USD": "price_basic"}}
	specs[2].Prices = map[plans.Cycle]map[string]string{plans.CycleYearly: {"USD": "price_pro_y"}}
	catalog, err := plans.New(specs...)
	require.NoError(t, err)

	h := newHarness(t)
	h.ledger = entitlement.NewLedger(h.store, catalog, entitlement.WithClock(func() time.Time { return t0 }))
	h.proc = subscription.NewProcessor(h.provider, h.ledger, subscription.NewMemoryEventLog())

	h.deliver(t, h.checkout("evt_1", plans.PlanBasic, t0))
	ack := h.deliver(t, &subscription.Event{
		ID:             "evt_upgrade",
		Type:           subscription.EventSubscriptionUpdated,
		OccurredAt:     t0.Add(time.Hour),
		SubscriptionID: "sub_1",
		Status:         entitlement.StatusActive,
		PriceID:        "price_pro_y",
		Period:         period,
	})
	assert.Equal(t, subscription.OutcomeApplied, ack.Outcome)

	rec := h.record(t)
	assert.Equal(t, plans.PlanPro, rec.Plan)
	assert.Equal(t, plans.CycleYearly, rec.BillingCycle)
	assert.True(t, rec.TokensImages.IsUnlimited())
}

func TestInvoiceLifecycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.deliver(t, h.checkout("evt_1", plans.PlanBasic, t0))
	for range 50 {
		_, err := h.gate.Consume(ctx, h.userID, entitlement.ResourceImage)
		require.NoError(t, err)
	}

	first := h.deliver(t, &subscription.Event{
		ID:             "in_first",
		Type:           subscription.EventInvoicePaymentSucceeded,
		OccurredAt:     t0,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		InitialInvoice: true,
	})
	assert.Equal(t, subscription.OutcomeIgnored, first.Outcome)
	assert.Equal(t, plans.Limited(250), h.record(t).TokensImages)

	failed := h.deliver(t, &subscription.Event{
		ID:         "in_failed",
		Type:       subscription.EventInvoicePaymentFailed,
		OccurredAt: t0.Add(time.Hour),
		CustomerID: "cus_1",
	})
	assert.Equal(t, subscription.OutcomeApplied, failed.Outcome)
	assert.Equal(t, entitlement.StatusPastDue, h.record(t).Status)

	paid := h.deliver(t, &subscription.Event{
		ID:         "in_paid",
		Type:       subscription.EventInvoicePaymentSucceeded,
		OccurredAt: t0.Add(2 * time.Hour),
		CustomerID: "cus_1",
		Period:     &subscription.Period{StartAt: t0.AddDate(0, 1, 0), EndAt: t0.AddDate(0, 2, 0)},
	})
	assert.Equal(t, subscription.OutcomeApplied, paid.Outcome)

	rec := h.record(t)
	assert.Equal(t, entitlement.StatusActive, rec.Status)
	assert.Equal(t, plans.Limited(300), rec.TokensImages)
	require.NotNil(t, rec.EndAt)
	assert.Equal(t, t0.AddDate(0, 2, 0), *rec.EndAt)
}

func TestPeriodFetchedWhenMissing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ev := h.checkout("evt_1", plans.PlanBasic, t0)
	ev.Period = nil
	fetched := &subscription.Period{StartAt: t0, EndAt: t0.AddDate(1, 0, 0)}
	h.provider.On("FetchPeriod", mock.Anything, "sub_1").Return(fetched, nil).Once()

	assert.Equal(t, subscription.OutcomeApplied, h.deliver(t, ev).Outcome)
	rec := h.record(t)
	require.NotNil(t, rec.EndAt)
	assert.Equal(t, fetched.EndAt, *rec.EndAt)
	h.provider.AssertExpectations(t)
}

func TestPeriodFetchFailureStillApplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ev := h.checkout("evt_1", plans.PlanBasic, t0)
	ev.Period = nil
	h.provider.On("FetchPeriod", mock.Anything, "sub_1").Return(nil, subscription.ErrPeriodUnavailable).Once()

	assert.Equal(t, subscription.OutcomeApplied, h.deliver(t, ev).Outcome)
	rec := h.record(t)
	assert.Equal(t, plans.PlanBasic, rec.Plan)
	assert.Nil(t, rec.EndAt)
}

func TestFailedApplyReleasesClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.store.failures.Store(1)
	ev := h.checkout("evt_1", plans.PlanBasic, t0)
	assert.Equal(t, subscription.OutcomeFailed, h.deliver(t, ev).Outcome)
	assert.Equal(t, plans.PlanFree, h.record(t).Plan)

	assert.Equal(t, subscription.OutcomeApplied, h.deliver(t, ev).Outcome)
	assert.Equal(t, plans.PlanBasic, h.record(t).Plan)
}

func TestRejectedWriteKeepsClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.store.reject.Store(true)
	ev := h.checkout("evt_1", plans.PlanBasic, t0)
	assert.Equal(t, subscription.OutcomeIgnored, h.deliver(t, ev).Outcome)

	h.store.reject.Store(false)
	assert.Equal(t, subscription.OutcomeDuplicate, h.deliver(t, ev).Outcome)
	assert.Equal(t, plans.PlanFree, h.record(t).Plan)
}

func TestInvalidCheckoutIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	missingUser := h.checkout("evt_1", plans.PlanBasic, t0)
	missingUser.Metadata.UserID = "not-a-uuid"
	assert.Equal(t, subscription.OutcomeIgnored, h.deliver(t, missingUser).Outcome)

	freePlan := h.checkout("evt_2", plans.PlanFree, t0)
	assert.Equal(t, subscription.OutcomeIgnored, h.deliver(t, freePlan).Outcome)

	assert.Equal(t, plans.PlanFree, h.record(t).Plan)
}

func TestUnknownSubscriptionIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ack := h.deliver(t, &subscription.Event{
		ID:             "evt_1",
		Type:           subscription.EventSubscriptionUpdated,
		OccurredAt:     t0,
		SubscriptionID: "sub_unknown",
		Period:         period,
	})
	assert.Equal(t, subscription.OutcomeIgnored, ack.Outcome)
}

func TestSignatureAndPayloadFailures(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.provider.On("ParseEvent", mock.Anything, "forged", "bad").Return(nil, subscription.ErrSignatureInvalid).Once()
	ack, err := h.proc.Handle(ctx, []byte("forged"), "bad")
	assert.ErrorIs(t, err, subscription.ErrSignatureInvalid)
	assert.False(t, ack.Accepted())
	assert.Equal(t, subscription.OutcomeRejected, ack.Outcome)

	h.provider.On("ParseEvent", mock.Anything, "{", "sig").Return(nil, subscription.ErrMalformedEvent).Once()
	ack, err = h.proc.Handle(ctx, []byte("{"), "sig")
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	assert.Equal(t, subscription.OutcomeFailed, ack.Outcome)
	assert.True(t, strings.HasPrefix(ack.EventKey, "sha256:"))

	ack = h.deliver(t, &subscription.Event{ID: "evt_x", Type: subscription.EventUnrecognized, ProviderType: "customer.created"})
	assert.Equal(t, subscription.OutcomeIgnored, ack.Outcome)
}

func TestEventWithoutIDDedupedByPayload(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	ev := h.checkout("", plans.PlanBasic, t0)
	h.provider.On("ParseEvent", mock.Anything, "same-body", "sig").Return(ev, nil).Twice()

	ack, err := h.proc.Handle(ctx, []byte("same-body"), "sig")
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeApplied, ack.Outcome)
	assert.True(t, strings.HasPrefix(ack.EventKey, "sha256:"))

	again, err := h.proc.Handle(ctx, []byte("same-body"), "sig")
	require.NoError(t, err)
	assert.Equal(t, subscription.OutcomeDuplicate, again.Outcome)
	assert.Equal(t, ack.EventKey, again.EventKey)
}
