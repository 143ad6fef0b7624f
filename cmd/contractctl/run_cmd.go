package main

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/contract-lifecycle/internal/config"
	"github.com/iliyamo/contract-lifecycle/internal/logger"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/queue"
	"github.com/iliyamo/contract-lifecycle/internal/server"
	"github.com/iliyamo/contract-lifecycle/internal/service"
)

type runOutput struct {
	Action     string `json:"action"`
	DurationMS int64  `json:"duration_ms"`
	Result     any    `json:"result"`
}

func newRunCmd() *cobra.Command {
	var (
		days  int
		force bool
		as    string
	)
	cmd := &cobra.Command{
		Use:       "run <action>",
		Short:     "Run one lifecycle action against the database, e.g. from cron",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"update_statuses", "check_expiry", "cleanup_notifications", "escalate_overdue", "daily_check"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, db, err := connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			log := logger.NewWithWriter(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env, ServiceName: "contractctl"}, os.Stderr)
			rdb := config.NewRedisClient(cfg.Redis)
			if rdb != nil {
				defer rdb.Close()
			}
			reg := prometheus.NewRegistry()
			opts := server.Options{Config: cfg, DB: db, Redis: rdb, Logger: log, Registry: reg, Metrics: metrics.New(reg)}
			if cfg.Events.Enabled {
				pub := queue.NewPublisher(queue.AMQPDialer(cfg.Events.URL, cfg.Events.Queue), cfg.Events.Queue, opts.Metrics, log)
				defer pub.Close()
				opts.Forwarder = pub.Handle
			}
			runner := server.Build(opts).Runner
			caller := model.Caller{ID: "scheduler", Role: model.Role(as)}

			start := time.Now()
			res, err := runAction(cmd, runner, caller, args[0], days, force)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runOutput{
				Action:     args[0],
				DurationMS: time.Since(start).Milliseconds(),
				Result:     res,
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Look-ahead for check_expiry (0 uses the configured horizon)")
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the run guard")
	cmd.Flags().StringVar(&as, "as", string(model.RoleSupervisor), "Role the run is performed as")
	return cmd
}

func runAction(cmd *cobra.Command, r *service.LifecycleRunner, caller model.Caller, action string, days int, force bool) (any, error) {
	ctx := cmd.Context()
	switch action {
	case "update_statuses":
		return r.UpdateStatuses(ctx, caller, force)
	case "check_expiry":
		return r.CheckExpiry(ctx, caller, days, force)
	case "cleanup_notifications":
		return r.CleanupNotifications(ctx, caller)
	case "escalate_overdue":
		return r.EscalateOverdue(ctx, caller, force)
	case "daily_check":
		return r.DailyCheck(ctx, caller, force)
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}
