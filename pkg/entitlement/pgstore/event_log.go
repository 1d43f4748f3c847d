package pgstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/logger"
)

// EventLog records processed webhook event keys in the webhook_events table.
type EventLog struct {
	db DB
}

func NewEventLog(db DB) *EventLog {
	return &EventLog{db: db}
}

// Claim inserts the key and reports whether this caller inserted it.
func (l *EventLog) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := l.db.Exec(ctx, `INSERT INTO webhook_events (event_key) VALUES ($1) ON CONFLICT (event_key) DO NOTHING`, key)
	if err != nil {
		return false, fmt.Errorf("claim webhook event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release forgets a claim so a redelivery is processed again.
func (l *EventLog) Release(ctx context.Context, key string) error {
	if _, err := l.db.Exec(ctx, `DELETE FROM webhook_events WHERE event_key = $1`, key); err != nil {
		return fmt.Errorf("release webhook event: %w", err)
	}
	return nil
}

// Prune deletes claims older than the retention window and returns how many
// were removed.
func (l *EventLog) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM webhook_events WHERE claimed_at < $1`, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune webhook events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunPruner deletes claims older than retention every interval until ctx is
// done. It returns a function suitable for errgroup.
func (l *EventLog) RunPruner(ctx context.Context, interval, retention time.Duration, log *slog.Logger) func() error {
	return func() error {
		if interval <= 0 {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := l.Prune(ctx, retention)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					log.ErrorContext(ctx, "failed to prune webhook events", logger.Error(err))
					continue
				}
				if n > 0 {
					log.InfoContext(ctx, "pruned webhook events", slog.Int64("deleted", n))
				}
			}
		}
	}
}
