// Package redislog stores processed webhook event keys in Redis so
// deliveries are deduplicated across instances.
package redislog

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "quotakit:webhook:event:"
	defaultTTL    = 30 * 24 * time.Hour
)

// Log implements subscription.EventLog with SET NX and a TTL.
type Log struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Log)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(l *Log) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithTTL sets how long a claim is remembered. Redeliveries after the TTL
// are processed again and rely on the record watermark.
func WithTTL(ttl time.Duration) Option {
	return func(l *Log) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// New creates a Redis event log. Keys default to a 30-day TTL.
func New(client redis.UniversalClient, opts ...Option) *Log {
	l := &Log{
		client: client,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, l.now().UTC().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redislog: claim %s: %w", key, err)
	}
	return ok, nil
}

func (l *Log) Release(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("redislog: release %s: %w", key, err)
	}
	return nil
}
