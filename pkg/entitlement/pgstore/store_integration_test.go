//go:build integration

package pgstore_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("quotakit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := pg.Config{
		ConnectionString: connStr,
		MaxOpenConns:     20,
		MaxIdleConns:     1,
		RetryAttempts:    3,
		RetryInterval:    time.Second,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg, slog.New(slog.DiscardHandler)))
	return pool
}

func TestStore(t *testing.T) {
	pool := setupPool(t)
	store := pgstore.New(pool)
	ctx := context.Background()
	now := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)
	ledger := entitlement.NewLedger(store, plans.Default(), entitlement.WithClock(func() time.Time { return now }))

	t.Run("provision and get", func(t *testing.T) {
		userID := uuid.New()
		rec, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, plans.Limited(20), rec.TokensImages)

		again, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, rec.CreatedAt, again.CreatedAt)

		_, err = store.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, entitlement.ErrUserNotFound)
	})

	t.Run("concurrent decrement grants once", func(t *testing.T) {
		userID := uuid.New()
		_, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)
		for range 19 {
			_, ok, err := store.Decrement(ctx, userID, entitlement.ResourceImage)
			require.NoError(t, err)
			require.True(t, ok)
		}

		var granted atomic.Int32
		var wg sync.WaitGroup
		for range 20 {
			wg.Go(func() {
				_, ok, err := store.Decrement(ctx, userID, entitlement.ResourceImage)
				assert.NoError(t, err)
				if ok {
					granted.Add(1)
				}
			})
		}
		wg.Wait()
		assert.Equal(t, int32(1), granted.Load())

		rec, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, plans.Limited(0), rec.TokensImages)
	})

	t.Run("reset applies once", func(t *testing.T) {
		userID := uuid.New()
		rec, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)

		later := rec.ResetAt.Add(time.Hour)
		reset := entitlement.Reset{Quotas: plans.Quotas{Images: plans.Limited(20), Text: plans.Limited(10)}, ResetAt: entitlement.NextReset(later)}

		_, applied, err := store.ResetIfDue(ctx, userID, plans.PlanFree, reset, later)
		require.NoError(t, err)
		assert.True(t, applied)

		_, applied, err = store.ResetIfDue(ctx, userID, plans.PlanFree, reset, later)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("apply with watermark and pro", func(t *testing.T) {
		userID := uuid.New()
		rec, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)

		start, end := now, now.AddDate(0, 1, 0)
		pro, err := ledger.Apply(ctx, rec, entitlement.Change{
			Subscription: entitlement.Subscription{
				Plan:           plans.PlanPro,
				Status:         entitlement.StatusActive,
				SubscriptionID: "sub_" + userID.String(),
				CustomerID:     "cus_" + userID.String(),
				BillingCycle:   plans.CycleMonthly,
				StartAt:        &start,
				EndAt:          &end,
			},
			Watermark: now,
		})
		require.NoError(t, err)
		assert.True(t, pro.TokensImages.IsUnlimited())

		bySub, err := store.GetBySubscriptionID(ctx, "sub_"+userID.String())
		require.NoError(t, err)
		assert.Equal(t, userID, bySub.UserID)

		byCustomer, err := store.GetByCustomerID(ctx, "cus_"+userID.String())
		require.NoError(t, err)
		assert.Equal(t, userID, byCustomer.UserID)

		for range 3 {
			_, ok, err := store.Decrement(ctx, userID, entitlement.ResourceText)
			require.NoError(t, err)
			assert.True(t, ok)
		}

		stale := pro.Subscription
		stale.Status = entitlement.StatusPastDue
		_, err = store.Apply(ctx, userID, entitlement.Change{Subscription: stale, Watermark: now.Add(-time.Minute)})
		assert.ErrorIs(t, err, entitlement.ErrStaleWrite)

		current, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusActive, current.Status)
		assert.True(t, current.TokensText.IsUnlimited())
	})

	t.Run("check violation is an invalid record", func(t *testing.T) {
		userID := uuid.New()
		rec, err := ledger.Provision(ctx, userID)
		require.NoError(t, err)

		bad := rec.Subscription
		bad.BillingCycle = "weekly"
		_, err = store.Apply(ctx, userID, entitlement.Change{Subscription: bad, Watermark: now})
		assert.ErrorIs(t, err, entitlement.ErrInvalidRecord)
		assert.NotErrorIs(t, err, entitlement.ErrStaleWrite)

		current, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, current.BillingCycle)
	})
}

func TestEventLog(t *testing.T) {
	pool := setupPool(t)
	log := pgstore.NewEventLog(pool)
	ctx := context.Background()

	ok, err := log.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = log.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, log.Release(ctx, "evt_1"))
	ok, err = log.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := log.Prune(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEventLogPruner(t *testing.T) {
	pool := setupPool(t)
	events := pgstore.NewEventLog(pool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := events.Claim(ctx, "evt_old")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- events.RunPruner(ctx, 10*time.Millisecond, -time.Hour, slog.New(slog.DiscardHandler))()
	}()

	require.Eventually(t, func() bool {
		fresh, err := events.Claim(ctx, "evt_old")
		return err == nil && fresh
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
