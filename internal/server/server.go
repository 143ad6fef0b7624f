// Package server assembles the HTTP application: stores, workflow
// services, event subscribers, middleware and routes.
package server

import (
	"database/sql"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/config"
	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/handler"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/middleware"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
	"github.com/iliyamo/contract-lifecycle/internal/router"
	"github.com/iliyamo/contract-lifecycle/internal/service"
)

// dedupeTTL outlives the day an expiry alert key is scoped to.
const dedupeTTL = 48 * time.Hour

// Options are the process-level dependencies.  Redis, Clock and Forwarder
// may be nil.  Metrics must be registered with Registry.
type Options struct {
	Config    config.Config
	DB        *sql.DB
	Redis     *redis.Client
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Clock     service.Clock
	Forwarder event.Handler
}

// Services are the workflow services shared by the HTTP handlers and the
// command line tools.
type Services struct {
	Runner    *service.LifecycleRunner
	Renewals  *service.RenewalManager
	Escalator *service.Escalator
}

// Build wires stores, the event dispatcher and the workflow services.
func Build(o Options) *Services {
	cfg := o.Config
	log := o.Logger
	m := o.Metrics

	contracts := repository.NewContractRepo(o.DB)
	renewals := repository.NewRenewalRepo(o.DB)
	users := repository.NewUserRepo(o.DB)
	notifications := repository.NewNotificationRepo(o.DB)
	tx := repository.NewTxManager(o.DB)

	events := event.NewDispatcher()
	writer := service.NewNotificationWriter(notifications, m, o.Clock)
	events.Subscribe(writer.Handle, writer.Events()...)
	if o.Forwarder != nil {
		events.SubscribeAll(o.Forwarder)
	}

	var guard service.RunGuard
	if g := service.NewRedisRunGuard(o.Redis, "lifecycle", cfg.Lifecycle.RunWindow); g != nil {
		guard = g
	}
	var dedupe service.Deduper
	if d := service.NewRedisDeduper(o.Redis, "lifecycle", dedupeTTL); d != nil {
		dedupe = d
	}

	l := cfg.Lifecycle
	engine := service.NewStatusEngine(contracts, events, m, log, o.Clock, l.WarningDays)
	notifier := service.NewExpiryNotifier(contracts, renewals, events, dedupe, m, log, o.Clock, service.ExpiryOptions{
		Thresholds:      lifecycle.Thresholds(l.NotificationDays),
		HorizonDays:     l.HorizonDays,
		RenewalTermDays: l.RenewalTermDays,
	})
	escalator := service.NewEscalator(contracts, renewals, users, events, m, log, o.Clock)
	return &Services{
		Runner: service.NewLifecycleRunner(engine, notifier, escalator, notifications, guard, m, log, o.Clock, service.RunnerOptions{
			RetentionDays: l.NotificationRetentionDays,
			EscalateAfter: l.EscalateAfter,
		}),
		Renewals:  service.NewRenewalManager(contracts, renewals, tx, service.NewRenewalFactory(contracts), events, m, log, o.Clock),
		Escalator: escalator,
	}
}

// New builds the echo instance.
func New(o Options) *echo.Echo {
	svc := Build(o)
	timeout := o.Config.Lifecycle.RequestTimeout

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.WithLogger(o.Logger))
	e.Use(middleware.RequestLogger(o.Logger))
	e.Use(o.Metrics.Middleware())

	router.RegisterRoutes(e, o.DB, o.Registry)
	router.RegisterFunctions(e, router.Functions{
		Config:    o.Config,
		Redis:     o.Redis,
		Log:       o.Logger,
		Lifecycle: handler.NewLifecycleHandler(svc.Runner, timeout),
		Renewals:  handler.NewRenewalHandler(svc.Renewals, svc.Escalator, timeout),
	})
	return e
}
