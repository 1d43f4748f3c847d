package subscription

import (
	"context"
	"sync"
)

// EventLog remembers which webhook deliveries were processed.
type EventLog interface {
	// Claim records key and reports whether it was not seen before.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key after a failed application.
	Release(ctx context.Context, key string) error
}

// MemoryEventLog is an in-process EventLog.
type MemoryEventLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{seen: make(map[string]struct{})}
}

func (l *MemoryEventLog) Claim(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}

func (l *MemoryEventLog) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, key)
	return nil
}
