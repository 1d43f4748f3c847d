// Command quotakit serves the entitlement ledger, the consumption gate and
// the billing webhook.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/quotakit/internal/api"
	"github.com/dmitrymomot/quotakit/pkg/auth"
	"github.com/dmitrymomot/quotakit/pkg/billing"
	"github.com/dmitrymomot/quotakit/pkg/config"
	"github.com/dmitrymomot/quotakit/pkg/entitlement"
	"github.com/dmitrymomot/quotakit/pkg/entitlement/pgstore"
	"github.com/dmitrymomot/quotakit/pkg/httpserver"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/metrics"
	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/plans"
	"github.com/dmitrymomot/quotakit/pkg/redis"
	"github.com/dmitrymomot/quotakit/pkg/subscription"
	"github.com/dmitrymomot/quotakit/pkg/subscription/redislog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := os.Stat(".env"); err == nil {
		if err := config.LoadEnv(".env"); err != nil {
			return err
		}
	}

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}

	logOpts, err := logger.FromConfig(cfg.Log)
	if err != nil {
		return err
	}
	log := logger.New(append(logOpts,
		logger.WithContextValue("request_id", middleware.RequestIDKey),
		logger.WithContextExtractors(logger.UserExtractor(auth.UserFromContext)),
	)...)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg.Postgres, log); err != nil {
		return err
	}

	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	pgEvents := pgstore.NewEventLog(pool)
	var events subscription.EventLog = pgEvents
	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		events = redislog.New(client, redislog.WithTTL(cfg.Redis.EventTTL))
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		log.InfoContext(ctx, "webhook event log backed by redis")
	}

	catalog := plans.Default()
	if cfg.PlansCatalogPath != "" {
		if catalog, err = plans.LoadFile(cfg.PlansCatalogPath); err != nil {
			return err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ledgerOpts := []entitlement.LedgerOption{entitlement.WithLedgerLogger(log)}
	if cfg.ReadPathReset {
		ledgerOpts = append(ledgerOpts, entitlement.WithReadPathReset())
	}
	ledger := entitlement.NewLedger(pgstore.New(pool), catalog, ledgerOpts...)

	gateOpts := []entitlement.GateOption{
		entitlement.WithGateLogger(log),
		entitlement.WithRecorder(m),
		entitlement.WithUserResolver(auth.UserFromContext),
	}
	if cfg.PastDueBlocking {
		gateOpts = append(gateOpts, entitlement.WithPastDueBlocking())
	}
	gate := entitlement.NewGate(ledger, gateOpts...)

	provider, err := billing.New(cfg.Billing)
	if err != nil {
		return err
	}
	processor := subscription.NewProcessor(provider, ledger, events,
		subscription.WithLogger(log),
		subscription.WithRecorder(m),
	)

	authSvc, err := auth.New(cfg.Auth)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Ledger:          ledger,
		Gate:            gate,
		Processor:       processor,
		SignatureHeader: billing.SignatureHeader(cfg.Billing.Provider),
		Auth:            authSvc,
		Metrics:         m,
		Checks:          checks,
		Logger:          log,
	})

	srv := httpserver.NewFromConfig(cfg.HTTP,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(addr string, log *slog.Logger) {
			log.Info("quotakit listening", slog.String("addr", addr), slog.String("billing_provider", cfg.Billing.Provider))
		}),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx, router) })
	if !cfg.Redis.Enabled() {
		g.Go(pgEvents.RunPruner(ctx, cfg.EventPruneEvery, cfg.EventRetention, log.With(logger.Component("event-pruner"))))
	}

	if err := g.Wait(); err != nil {
		log.Error("quotakit stopped with error", logger.Error(err))
		return err
	}
	log.Info("quotakit stopped")
	return nil
}
