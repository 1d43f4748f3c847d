package subscription

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/logger"
)

// Outcome is how a delivery was handled.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeStale     Outcome = "stale"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// Ack is returned for every delivery. Only OutcomeRejected asks the
// caller to refuse the request; everything else is acknowledged.
type Ack struct {
	Outcome   Outcome   `json:"outcome"`
	EventKey  string    `json:"eventKey,omitempty"`
	EventType EventType `json:"eventType,omitempty"`
}

// Accepted reports whether the delivery should be acknowledged.
func (a Ack) Accepted() bool { return a.Outcome != OutcomeRejected }

// Recorder observes processed deliveries.
type Recorder interface {
	ObserveWebhook(eventType string, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveWebhook(string, string, time.Duration) {}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRecorder sets the webhook outcome recorder.
func WithRecorder(r Recorder) ProcessorOption {
	return func(p *Processor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// Processor verifies, deduplicates and applies webhook deliveries.
type Processor struct {
	provider Provider
	ledger   *entitlement.Ledger
	machine  *Machine
	events   EventLog
	logger   *slog.Logger
	recorder Recorder
}

// NewProcessor creates a processor that verifies deliveries with provider,
// deduplicates them in events and writes transitions through ledger.
func NewProcessor(provider Provider, ledger *entitlement.Ledger, events EventLog, opts ...ProcessorOption) *Processor {
	if provider == nil || ledger == nil || events == nil {
		panic("subscription: provider, ledger and event log are required")
	}
	p := &Processor{
		provider: provider,
		ledger:   ledger,
		machine:  NewMachine(ledger),
		events:   events,
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one delivery. The error is non-nil only when the
// signature is invalid.
func (p *Processor) Handle(ctx context.Context, payload []byte, signature string) (Ack, error) {
	start := time.Now()

	ev, err := p.provider.ParseEvent(ctx, payload, signature)
	if err != nil {
		if errors.Is(err, ErrSignatureInvalid) {
			p.logger.WarnContext(ctx, "webhook rejected", logger.Error(err))
			p.recorder.ObserveWebhook("", string(OutcomeRejected), time.Since(start))
			return Ack{Outcome: OutcomeRejected}, err
		}
		ack := Ack{Outcome: OutcomeFailed, EventKey: payloadKey(payload)}
		p.logger.ErrorContext(ctx, "webhook payload could not be decoded",
			logger.EventKey(ack.EventKey), logger.Error(err))
		p.recorder.ObserveWebhook("", string(ack.Outcome), time.Since(start))
		return ack, nil
	}

	ack := Ack{EventKey: ev.ID, EventType: ev.Type}
	if ack.EventKey == "" {
		ack.EventKey = payloadKey(payload)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = start.UTC()
	}

	log := p.logger.With(
		logger.EventKey(ack.EventKey),
		logger.EventType(string(ev.Type)),
		logger.ProviderEventType(ev.ProviderType),
	)
	ack.Outcome = p.process(ctx, log, ev, ack.EventKey)
	elapsed := time.Since(start)
	log.InfoContext(ctx, "webhook processed", logger.Outcome(string(ack.Outcome)), logger.Duration(elapsed))
	p.recorder.ObserveWebhook(string(ev.Type), string(ack.Outcome), elapsed)
	return ack, nil
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, ev *Event, key string) Outcome {
	if ev.Type == EventUnrecognized {
		return OutcomeIgnored
	}

	claimed, err := p.events.Claim(ctx, key)
	if err != nil {
		log.ErrorContext(ctx, "failed to claim webhook event", logger.Error(errors.Join(ErrEventLog, err)))
		return OutcomeFailed
	}
	if !claimed {
		return OutcomeDuplicate
	}

	outcome, err := p.apply(ctx, log, ev)
	if outcome != OutcomeFailed {
		return outcome
	}

	if rerr := p.events.Release(ctx, key); rerr != nil {
		log.ErrorContext(ctx, "failed to apply and release webhook event",
			logger.Errors(err, errors.Join(ErrEventLog, rerr)))
		return OutcomeFailed
	}
	log.ErrorContext(ctx, "failed to apply webhook event", logger.Error(err))
	return OutcomeFailed
}

func (p *Processor) apply(ctx context.Context, log *slog.Logger, ev *Event) (Outcome, error) {
	rec, err := p.resolve(ctx, ev)
	switch {
	case errors.Is(err, entitlement.ErrUserNotFound):
		log.WarnContext(ctx, "no entitlement record for webhook event",
			logger.SubscriptionID(ev.SubscriptionID),
			logger.CustomerID(ev.CustomerID))
		return OutcomeIgnored, nil
	case errors.Is(err, ErrInvalidEvent):
		log.ErrorContext(ctx, "invalid webhook event", logger.Error(err))
		return OutcomeIgnored, nil
	case err != nil:
		return OutcomeFailed, err
	}
	log = log.With(logger.UserID(rec.UserID))

	if ev.needsPeriod() {
		period, err := p.provider.FetchPeriod(ctx, ev.SubscriptionID)
		if err != nil {
			log.WarnContext(ctx, "subscription period unavailable", logger.Error(err))
		} else {
			ev.Period = period
		}
	}

	change, err := p.machine.Next(rec, ev)
	switch {
	case errors.Is(err, ErrNoTransition):
		log.InfoContext(ctx, "webhook event skipped", logger.Reason(err.Error()))
		return OutcomeIgnored, nil
	case err != nil:
		log.ErrorContext(ctx, "webhook event cannot be applied", logger.Error(err))
		return OutcomeIgnored, nil
	}

	updated, err := p.ledger.Apply(ctx, rec, change)
	switch {
	case errors.Is(err, entitlement.ErrStaleWrite):
		log.InfoContext(ctx, "stale webhook event dropped", slog.Time("occurred_at", ev.OccurredAt))
		return OutcomeStale, nil
	case errors.Is(err, entitlement.ErrInvalidRecord), errors.Is(err, entitlement.ErrUserNotFound):
		log.ErrorContext(ctx, "webhook event rejected by ledger", logger.Error(err))
		return OutcomeIgnored, nil
	case err != nil:
		return OutcomeFailed, err
	}

	log.InfoContext(ctx, "subscription transition applied",
		logger.Transition(string(rec.Status), string(updated.Status)),
		logger.Plan(updated.Plan),
		slog.Bool("quota_reset", change.Reset != nil))
	return OutcomeApplied, nil
}

func (p *Processor) resolve(ctx context.Context, ev *Event) (entitlement.Record, error) {
	switch ev.Type {
	case EventCheckoutCompleted:
		userID, err := uuid.Parse(ev.Metadata.UserID)
		if err != nil || userID == uuid.Nil {
			return entitlement.Record{}, errors.Join(ErrInvalidEvent, errors.New("checkout metadata has no valid user id"))
		}
		return p.ledger.Provision(ctx, userID)
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		if ev.CustomerID != "" {
			rec, err := p.ledger.FindByCustomer(ctx, ev.CustomerID)
			if !errors.Is(err, entitlement.ErrUserNotFound) || ev.SubscriptionID == "" {
				return rec, err
			}
		}
	}
	if ev.SubscriptionID == "" {
		return entitlement.Record{}, entitlement.ErrUserNotFound
	}
	return p.ledger.FindBySubscription(ctx, ev.SubscriptionID)
}

// payloadKey identifies deliveries without a provider event id.
func payloadKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:])
}
