package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// DB is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `user_id, plan, tokens_images, tokens_text, reset_at,
	subscription_status, subscription_id, customer_id, billing_cycle,
	subscription_start_at, subscription_end_at, last_event_at, created_at, updated_at`

// counterColumns whitelists the columns interpolated into Decrement.
var counterColumns = map[entitlement.Resource]string{
	entitlement.ResourceImage: "tokens_images",
	entitlement.ResourceText:  "tokens_text",
}

// Store implements entitlement.Store.
type Store struct {
	db DB
}

var _ entitlement.Store = (*Store)(nil)

func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, rec entitlement.Record) (entitlement.Record, bool, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO entitlements (user_id, plan, tokens_images, tokens_text, reset_at, subscription_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+recordColumns,
		rec.UserID, string(rec.Plan), quotaArg(rec.TokensImages), quotaArg(rec.TokensText),
		rec.ResetAt, string(rec.Status),
	)
	created, err := scanRecord(row)
	if err == nil {
		return created, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return entitlement.Record{}, false, fmt.Errorf("insert entitlement: %w", err)
	}
	existing, err := s.Get(ctx, rec.UserID)
	return existing, false, err
}

func (s *Store) Get(ctx context.Context, userID uuid.UUID) (entitlement.Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM entitlements WHERE user_id = $1`, userID)
}

func (s *Store) GetBySubscriptionID(ctx context.Context, subscriptionID string) (entitlement.Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM entitlements WHERE subscription_id = $1`, subscriptionID)
}

func (s *Store) GetByCustomerID(ctx context.Context, customerID string) (entitlement.Record, error) {
	return s.getOne(ctx, `
		SELECT `+recordColumns+` FROM entitlements
		WHERE customer_id = $1
		ORDER BY updated_at DESC, user_id
		LIMIT 1`, customerID)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (entitlement.Record, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, query, arg))
	switch {
	case pg.IsNotFoundError(err):
		return entitlement.Record{}, entitlement.ErrUserNotFound
	case err != nil:
		return entitlement.Record{}, fmt.Errorf("select entitlement: %w", err)
	}
	return rec, nil
}

func (s *Store) Decrement(ctx context.Context, userID uuid.UUID, res entitlement.Resource) (entitlement.Record, bool, error) {
	col, ok := counterColumns[res]
	if !ok {
		return entitlement.Record{}, false, entitlement.ErrInvalidResource
	}

	// A NULL counter is unlimited and pro ignores counters; both match
	// without being decremented.
	query := fmt.Sprintf(`
		UPDATE entitlements
		SET %[1]s = CASE WHEN plan = 'pro' OR %[1]s IS NULL THEN %[1]s ELSE %[1]s - 1 END,
		    updated_at = now()
		WHERE user_id = $1 AND (plan = 'pro' OR %[1]s IS NULL OR %[1]s > 0)
		RETURNING %[2]s`, col, recordColumns)

	rec, err := scanRecord(s.db.QueryRow(ctx, query, userID))
	switch {
	case err == nil:
		return rec, true, nil
	case !pg.IsNotFoundError(err):
		return entitlement.Record{}, false, fmt.Errorf("decrement %s: %w", col, err)
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return entitlement.Record{}, false, err
	}
	return current, false, nil
}

func (s *Store) ResetIfDue(ctx context.Context, userID uuid.UUID, plan plans.Plan, reset entitlement.Reset, now time.Time) (entitlement.Record, bool, error) {
	rec, err := scanRecord(s.db.QueryRow(ctx, `
		UPDATE entitlements
		SET tokens_images = $3, tokens_text = $4, reset_at = $5, updated_at = now()
		WHERE user_id = $1 AND plan = $2 AND reset_at <= $6
		RETURNING `+recordColumns,
		userID, string(plan), quotaArg(reset.Quotas.Images), quotaArg(reset.Quotas.Text), reset.ResetAt, now,
	))
	switch {
	case err == nil:
		return rec, true, nil
	case !pg.IsNotFoundError(err):
		return entitlement.Record{}, false, fmt.Errorf("reset entitlement: %w", err)
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return entitlement.Record{}, false, err
	}
	return current, false, nil
}

func (s *Store) Apply(ctx context.Context, userID uuid.UUID, change entitlement.Change) (entitlement.Record, error) {
	sub := change.Subscription
	var (
		hasReset     bool
		images, text *int64
		resetAt      *time.Time
	)
	if change.Reset != nil {
		hasReset = true
		images = quotaArg(change.Reset.Quotas.Images)
		text = quotaArg(change.Reset.Quotas.Text)
		resetAt = &change.Reset.ResetAt
	}

	rec, err := scanRecord(s.db.QueryRow(ctx, `
		UPDATE entitlements SET
			plan = $2,
			subscription_status = $3,
			subscription_id = $4,
			customer_id = $5,
			billing_cycle = $6,
			subscription_start_at = $7,
			subscription_end_at = $8,
			tokens_images = CASE WHEN $9::boolean THEN $10::bigint ELSE tokens_images END,
			tokens_text = CASE WHEN $9::boolean THEN $11::bigint ELSE tokens_text END,
			reset_at = CASE WHEN $9::boolean THEN $12::timestamptz ELSE reset_at END,
			last_event_at = $13,
			updated_at = now()
		WHERE user_id = $1 AND (last_event_at IS NULL OR last_event_at <= $13)
		RETURNING `+recordColumns,
		userID, string(sub.Plan), string(sub.Status),
		nullString(sub.SubscriptionID), nullString(sub.CustomerID), nullString(string(sub.BillingCycle)),
		sub.StartAt, sub.EndAt,
		hasReset, images, text, resetAt,
		change.Watermark,
	))
	switch {
	case err == nil:
		return rec, nil
	case pg.IsDuplicateKeyError(err):
		return entitlement.Record{}, errors.Join(entitlement.ErrInvalidRecord,
			fmt.Errorf("subscription %q already bound to another user", sub.SubscriptionID))
	case pg.IsCheckViolationError(err):
		return entitlement.Record{}, errors.Join(entitlement.ErrInvalidRecord, fmt.Errorf("apply entitlement change: %w", err))
	case !pg.IsNotFoundError(err):
		return entitlement.Record{}, fmt.Errorf("apply entitlement change: %w", err)
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return entitlement.Record{}, err
	}
	return current, entitlement.ErrStaleWrite
}

func scanRecord(row pgx.Row) (entitlement.Record, error) {
	var (
		rec                  entitlement.Record
		plan, status         string
		images, text         *int64
		subID, custID, cycle *string
	)
	err := row.Scan(
		&rec.UserID, &plan, &images, &text, &rec.ResetAt,
		&status, &subID, &custID, &cycle,
		&rec.StartAt, &rec.EndAt, &rec.LastEventAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return entitlement.Record{}, err
	}

	rec.Plan = plans.Plan(plan)
	rec.Status = entitlement.Status(status)
	rec.TokensImages = quotaFrom(images)
	rec.TokensText = quotaFrom(text)
	rec.SubscriptionID = deref(subID)
	rec.CustomerID = deref(custID)
	rec.BillingCycle = plans.Cycle(deref(cycle))
	return rec, nil
}

func quotaArg(q plans.Quota) *int64 {
	n, ok := q.Count()
	if !ok {
		return nil
	}
	v := int64(n)
	return &v
}

func quotaFrom(v *int64) plans.Quota {
	if v == nil {
		return plans.Unlimited()
	}
	return plans.Limited(uint64(*v))
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
