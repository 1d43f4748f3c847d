// Package api exposes the ledger, the consumption gate and the billing
// webhook over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/quotakit/pkg/auth"
	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/httpserver"
	"github.com/dmitrymomot/quotakit/pkg/metrics"
	"github.com/dmitrymomot/quotakit/pkg/subscription"
)

// MaxWebhookBody caps webhook payloads.
const MaxWebhookBody = 64 << 10

// Feature is a billed endpoint mounted under /v1 behind RequireQuota.
type Feature struct {
	Method   string
	Pattern  string
	Resource entitlement.Resource
	Handler  http.Handler
}

// Deps are the collaborators of the router. Auth, Metrics and Checks are
// optional.
type Deps struct {
	Ledger          *entitlement.Ledger
	Gate            *entitlement.Gate
	Processor       *subscription.Processor
	SignatureHeader string
	Auth            *auth.Service
	Metrics         *metrics.Metrics
	Checks          []httpserver.Check
	Features        []Feature
	Logger          *slog.Logger
}

type server struct {
	ledger    *entitlement.Ledger
	gate      *entitlement.Gate
	processor *subscription.Processor
	sigHeader string
	logger    *slog.Logger
}

// NewRouter builds the HTTP handler. Ledger, Gate and Processor are required.
func NewRouter(d Deps) http.Handler {
	if d.Ledger == nil || d.Gate == nil || d.Processor == nil {
		panic("api: ledger, gate and processor are required")
	}
	s := &server{
		ledger:    d.Ledger,
		gate:      d.Gate,
		processor: d.Processor,
		sigHeader: d.SignatureHeader,
		logger:    d.Logger,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Get("/healthz", httpserver.HealthCheckHandler(s.logger, d.Checks...))
	r.Post("/webhooks/billing", s.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(auth.Middleware(d.Auth, auth.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, _ error) {
				writeError(w, http.StatusUnauthorized, CodeUnauthenticated, "invalid bearer token")
			})))
		}

		r.Get("/plans", s.handleListPlans)
		r.Get("/plans/{plan}/price", s.handlePrice)

		r.Put("/account", s.handleProvision)
		r.Get("/entitlements", s.handleEntitlements)
		r.Post("/usage/{resource}", s.handleConsume)

		for _, f := range d.Features {
			r.With(RequireQuota(s.gate, f.Resource)).Method(f.Method, f.Pattern, f.Handler)
		}
	})

	return r
}
