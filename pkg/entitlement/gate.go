package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/plans"
)

// Reason explains a denied consumption.
type Reason string

const (
	ReasonInsufficientQuota Reason = "insufficient_quota"
	ReasonPaymentPastDue    Reason = "payment_past_due"
)

// Outcome labels used for metrics.
const (
	OutcomeGranted         = "granted"
	OutcomeDenied          = "denied"
	OutcomeUnauthenticated = "unauthenticated"
	OutcomeNotFound        = "not_found"
	OutcomeError           = "error"
)

// Recorder observes gate decisions.
type Recorder interface {
	ObserveConsume(res Resource, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveConsume(Resource, string) {}

// Result is the outcome of a consumption attempt that reached a decision.
type Result struct {
	Granted      bool         `json:"granted"`
	Reason       Reason       `json:"reason,omitempty"`
	NeedsUpgrade bool         `json:"needsUpgrade"`
	Plan         plans.Plan   `json:"plan"`
	Remaining    plans.Quotas `json:"remaining"`
	ResetAt      time.Time    `json:"resetAt"`
}

// Err returns ErrInsufficientQuota for a quota denial and nil otherwise.
func (r Result) Err() error {
	if !r.Granted && r.Reason == ReasonInsufficientQuota {
		return ErrInsufficientQuota
	}
	return nil
}

// Gate authorizes and meters actions against the ledger.
type Gate struct {
	ledger       *Ledger
	resolve      UserResolver
	logger       *slog.Logger
	recorder     Recorder
	blockPastDue bool
}

// NewGate creates a gate over ledger. It panics if ledger is nil.
func NewGate(ledger *Ledger, opts ...GateOption) *Gate {
	if ledger == nil {
		panic("entitlement: ledger cannot be nil")
	}
	g := &Gate{
		ledger:   ledger,
		resolve:  GetUserIDFromContext,
		logger:   slog.New(slog.DiscardHandler),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ConsumeFromContext consumes for the caller found in ctx.
func (g *Gate) ConsumeFromContext(ctx context.Context, res Resource) (Result, error) {
	userID, ok := g.resolve(ctx)
	if !ok {
		g.recorder.ObserveConsume(res, OutcomeUnauthenticated)
		return Result{}, ErrUnauthenticated
	}
	return g.Consume(ctx, userID, res)
}

// Consume loads the record, applies a due monthly reset, and decrements one
// unit of the resource. A denial is a Result, not an error; errors are
// ErrUnauthenticated, ErrUserNotFound or ErrPersistenceFailure.
func (g *Gate) Consume(ctx context.Context, userID uuid.UUID, res Resource) (Result, error) {
	if res != ResourceImage && res != ResourceText {
		return Result{}, ErrInvalidResource
	}
	if userID == uuid.Nil {
		g.recorder.ObserveConsume(res, OutcomeUnauthenticated)
		return Result{}, ErrUnauthenticated
	}

	log := g.logger.With(logger.UserID(userID), logger.Resource(string(res)))

	rec, err := g.ledger.Get(ctx, userID)
	if err != nil {
		return Result{}, g.fail(ctx, log, res, err)
	}

	if rec, _, err = g.ledger.MaybeReset(ctx, rec); err != nil {
		return Result{}, g.fail(ctx, log, res, err)
	}

	if g.blockPastDue && rec.Status == StatusPastDue {
		g.recorder.ObserveConsume(res, OutcomeDenied)
		log.InfoContext(ctx, "consumption denied", logger.Reason(string(ReasonPaymentPastDue)))
		return deny(rec, ReasonPaymentPastDue, false), nil
	}

	if !rec.HasQuota(res) {
		return g.denyInsufficient(ctx, log, rec, res), nil
	}

	updated, granted, err := g.ledger.TryConsume(ctx, userID, res)
	if err != nil {
		return Result{}, g.fail(ctx, log, res, err)
	}
	if !granted {
		// Lost the race for the last unit.
		return g.denyInsufficient(ctx, log, updated, res), nil
	}

	g.recorder.ObserveConsume(res, OutcomeGranted)
	return Result{
		Granted:   true,
		Plan:      updated.Plan,
		Remaining: updated.Remaining(),
		ResetAt:   updated.ResetAt,
	}, nil
}

func (g *Gate) denyInsufficient(ctx context.Context, log *slog.Logger, rec Record, res Resource) Result {
	g.recorder.ObserveConsume(res, OutcomeDenied)
	log.InfoContext(ctx, "consumption denied",
		logger.Reason(string(ReasonInsufficientQuota)),
		logger.Plan(rec.Plan),
		slog.String("remaining", rec.Quota(res).String()))
	return deny(rec, ReasonInsufficientQuota, true)
}

func deny(rec Record, reason Reason, needsUpgrade bool) Result {
	return Result{
		Reason:       reason,
		NeedsUpgrade: needsUpgrade,
		Plan:         rec.Plan,
		Remaining:    rec.Remaining(),
		ResetAt:      rec.ResetAt,
	}
}

func (g *Gate) fail(ctx context.Context, log *slog.Logger, res Resource, err error) error {
	if errors.Is(err, ErrUserNotFound) {
		g.recorder.ObserveConsume(res, OutcomeNotFound)
		return err
	}
	g.recorder.ObserveConsume(res, OutcomeError)
	log.ErrorContext(ctx, "consumption failed", logger.Error(err))
	if errors.Is(err, ErrPersistenceFailure) {
		return err
	}
	return errors.Join(ErrPersistenceFailure, err)
}
