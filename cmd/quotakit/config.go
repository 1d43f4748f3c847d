package main

import (
	"time"

	"github.com/dmitrymomot/quotakit/pkg/auth"
	"github.com/dmitrymomot/quotakit/pkg/billing"
	"github.com/dmitrymomot/quotakit/pkg/httpserver"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/redis"
)

type appConfig struct {
	Log      logger.Config
	HTTP     httpserver.Config
	Postgres pg.Config
	Redis    redis.Config
	Billing  billing.Config
	Auth     auth.Config

	PlansCatalogPath string        `env:"PLANS_CATALOG_PATH"`                           // YAML catalog; empty uses the built-in plans.
	PastDueBlocking  bool          `env:"PAST_DUE_BLOCKING" envDefault:"false"`         // Deny consumption while a payment is past due.
	ReadPathReset    bool          `env:"READ_PATH_RESET" envDefault:"false"`           // Reset elapsed free periods on reads too.
	EventPruneEvery  time.Duration `env:"WEBHOOK_EVENT_PRUNE_INTERVAL" envDefault:"1h"` // Zero disables pruning of the Postgres event log.
	EventRetention   time.Duration `env:"WEBHOOK_EVENT_RETENTION" envDefault:"720h"`    // How long processed webhook keys are kept in Postgres.
}
