package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/config"
	"github.com/iliyamo/contract-lifecycle/internal/database"
	"github.com/iliyamo/contract-lifecycle/internal/logger"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/queue"
	"github.com/iliyamo/contract-lifecycle/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, ServiceName: "contract-lifecycle"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if cfg.DB.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrate database")
		}
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb == nil {
		log.Warn().Msg("redis unavailable; rate limiting, caching and run guards are off")
	} else {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	opts := server.Options{Config: cfg, DB: db, Redis: rdb, Logger: log, Registry: reg, Metrics: m}
	if cfg.Events.Enabled {
		pub := queue.NewPublisher(queue.AMQPDialer(cfg.Events.URL, cfg.Events.Queue), cfg.Events.Queue, m, log)
		defer pub.Close()
		opts.Forwarder = pub.Handle
	}
	if cfg.Events.Consume {
		consumer := queue.NewConsumer(cfg.Events.URL, cfg.Events.Queue, cfg.Events.LogPath, log)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("event consumer stopped")
			}
		}()
	}

	e := server.New(opts)
	go func() {
		addr := ":" + cfg.Port
		log.Info().Str("addr", addr).Str("env", cfg.Env).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}
