package entitlement

import (
	"log/slog"
	"time"
)

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock replaces time.Now. Used by tests to cross reset boundaries.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLedgerLogger sets the logger for reset and provisioning events.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithReadPathReset makes Peek refill due counters instead of reporting
// the balance as of the last metered action.
func WithReadPathReset() LedgerOption {
	return func(l *Ledger) {
		l.readPathReset = true
	}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateLogger sets the logger used for denials and failures.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) GateOption {
	return func(g *Gate) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithUserResolver overrides how ConsumeFromContext finds the caller.
func WithUserResolver(fn UserResolver) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.resolve = fn
		}
	}
}

// WithPastDueBlocking denies metered actions while payment is past due.
func WithPastDueBlocking() GateOption {
	return func(g *Gate) {
		g.blockPastDue = true
	}
}
