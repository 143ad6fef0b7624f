package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// MaxDaysAhead bounds the look-ahead accepted from callers.
const MaxDaysAhead = 365

// CleanupResult reports how many notifications were deleted.
type CleanupResult struct {
	ReadDeleted    int64     `json:"read_deleted"`
	ExpiredDeleted int64     `json:"expired_deleted"`
	CleanedAt      time.Time `json:"cleaned_at"`
}

// RunnerOptions are the runner's time windows.
type RunnerOptions struct {
	RetentionDays int           // read notifications older than this are deleted
	EscalateAfter time.Duration // pending renewals older than this are escalated
}

// LifecycleRunner is the entry point of the lifecycle endpoint.  It checks
// the caller, applies the run guard and delegates to the status engine, the
// expiry notifier, the escalator and the notification store.
type LifecycleRunner struct {
	engine        *StatusEngine
	notifier      *ExpiryNotifier
	escalator     *Escalator
	notifications NotificationStore
	guard         RunGuard
	metrics       *metrics.Metrics
	log           zerolog.Logger
	clock         Clock
	retention     time.Duration
	escalateAfter time.Duration
}

// NewLifecycleRunner wires a LifecycleRunner.  guard may be nil.
func NewLifecycleRunner(engine *StatusEngine, notifier *ExpiryNotifier, escalator *Escalator, notifications NotificationStore,
	guard RunGuard, m *metrics.Metrics, log zerolog.Logger, clock Clock, opts RunnerOptions) *LifecycleRunner {
	return &LifecycleRunner{
		engine:        engine,
		notifier:      notifier,
		escalator:     escalator,
		notifications: notifications,
		guard:         guard,
		metrics:       m,
		log:           log.With().Str("component", "lifecycle_runner").Logger(),
		clock:         clock,
		retention:     time.Duration(opts.RetentionDays) * 24 * time.Hour,
		escalateAfter: opts.EscalateAfter,
	}
}

func authorize(caller model.Caller, action lifecycle.Action) error {
	if !lifecycle.Allowed(caller.Role, lifecycle.Ownership{}, action) {
		return fmt.Errorf("%w: role %q may not run %s", repository.ErrForbidden, caller.Role, action)
	}
	return nil
}

// acquire reports whether an unforced run may proceed.  A guard failure
// lets the run through.
func (r *LifecycleRunner) acquire(ctx context.Context, name string, force bool) bool {
	if force || r.guard == nil {
		return true
	}
	ok, err := r.guard.Acquire(ctx, name)
	if err != nil {
		r.log.Warn().Err(err).Str("action", name).Msg("run guard unavailable")
		return true
	}
	return ok
}

// finish records the outcome of a guarded run.  A failed run gives its
// lock back so the caller's retry is not reported as skipped.
func (r *LifecycleRunner) finish(ctx context.Context, action, name string, err error) {
	r.count(action, err)
	if err == nil || r.guard == nil {
		return
	}
	if rerr := r.guard.Release(ctx, name); rerr != nil {
		r.log.Warn().Err(rerr).Str("action", name).Msg("run guard not released")
	}
}

func (r *LifecycleRunner) count(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.metrics.LifecycleRuns.WithLabelValues(action, result).Inc()
}

// UpdateStatuses runs the status engine.
func (r *LifecycleRunner) UpdateStatuses(ctx context.Context, caller model.Caller, force bool) (*StatusRunResult, error) {
	const action = "update_statuses"
	if err := authorize(caller, lifecycle.ActionRunLifecycle); err != nil {
		return nil, err
	}
	if !r.acquire(ctx, action, force) {
		r.metrics.LifecycleRuns.WithLabelValues(action, "skipped").Inc()
		return &StatusRunResult{
			Skipped:       true,
			Details:       []StatusChange{},
			UpdatedCounts: map[model.ActualStatus]int{},
			TotalByStatus: map[model.ActualStatus]int{},
			UpdatedAt:     r.clock.now(),
		}, nil
	}
	res, err := r.engine.Run(ctx)
	r.finish(ctx, action, action, err)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("processed", res.ContractsProcessed).Int("updated", res.Updated()).Msg("contract statuses updated")
	return res, nil
}

// CheckExpiry runs the expiry notifier over daysAhead days; 0 means the
// configured horizon.
func (r *LifecycleRunner) CheckExpiry(ctx context.Context, caller model.Caller, daysAhead int, force bool) (*ExpiryCheckResult, error) {
	const action = "check_expiry"
	if err := authorize(caller, lifecycle.ActionRunLifecycle); err != nil {
		return nil, err
	}
	days, err := r.daysAhead(daysAhead)
	if err != nil {
		return nil, err
	}
	// each look-ahead is guarded on its own
	lock := fmt.Sprintf("%s:%d", action, days)
	if !r.acquire(ctx, lock, force) {
		r.metrics.LifecycleRuns.WithLabelValues(action, "skipped").Inc()
		return &ExpiryCheckResult{Skipped: true, Contracts: []model.ExpiringContract{}, CheckedAt: r.clock.now()}, nil
	}
	res, err := r.notifier.Check(ctx, days)
	r.finish(ctx, action, lock, err)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("expiring", res.ExpiringContracts).Int("notifications", res.NotificationsCreated).
		Int("renewals", res.RenewalsCreated).Msg("expiry check finished")
	return res, nil
}

// Expiring lists contracts ending within daysAhead days.  It is read-only
// and never guarded.
func (r *LifecycleRunner) Expiring(ctx context.Context, caller model.Caller, daysAhead int) ([]model.ExpiringContract, error) {
	if err := authorize(caller, lifecycle.ActionRunLifecycle); err != nil {
		return nil, err
	}
	days, err := r.daysAhead(daysAhead)
	if err != nil {
		return nil, err
	}
	return r.notifier.Upcoming(ctx, days)
}

// CleanupNotifications deletes read notifications past the retention period
// and notifications past their expiry.
func (r *LifecycleRunner) CleanupNotifications(ctx context.Context, caller model.Caller) (*CleanupResult, error) {
	const action = "cleanup_notifications"
	if err := authorize(caller, lifecycle.ActionCleanupNotifications); err != nil {
		return nil, err
	}
	now := r.clock.now()
	read, expired, err := r.notifications.DeleteStale(ctx, now.Add(-r.retention), now)
	r.count(action, err)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int64("read", read).Int64("expired", expired).Msg("notifications cleaned up")
	return &CleanupResult{ReadDeleted: read, ExpiredDeleted: expired, CleanedAt: now}, nil
}

// EscalateOverdue escalates manual pending renewals nobody answered within
// the configured window.
func (r *LifecycleRunner) EscalateOverdue(ctx context.Context, caller model.Caller, force bool) (*OverdueResult, error) {
	const action = "escalate_overdue"
	if err := authorize(caller, lifecycle.ActionRunLifecycle); err != nil {
		return nil, err
	}
	if !r.acquire(ctx, action, force) {
		r.metrics.LifecycleRuns.WithLabelValues(action, "skipped").Inc()
		return &OverdueResult{Skipped: true, EscalatedAt: r.clock.now()}, nil
	}
	res, err := r.escalator.EscalateOverdue(ctx, r.escalateAfter)
	r.finish(ctx, action, action, err)
	if err != nil {
		return nil, err
	}
	r.log.Info().Int("overdue", res.TotalOverdue).Int("escalated", res.EscalatedRenewals).Msg("overdue renewals escalated")
	return res, nil
}

// DailyResult is the combined outcome of DailyCheck.
type DailyResult struct {
	Skipped       bool               `json:"skipped,omitempty"`
	StatusUpdates *StatusRunResult   `json:"status_updates,omitempty"`
	Notifications *ExpiryCheckResult `json:"notifications,omitempty"`
	Escalations   *OverdueResult     `json:"escalations,omitempty"`
	Cleanup       *CleanupResult     `json:"cleanup,omitempty"`
	ExecutedAt    time.Time          `json:"executed_at"`
}

// DailyCheck is the scheduled sweep: statuses, expiry alerts and
// auto-renewals over the configured horizon, overdue escalations, then
// notification cleanup.  The first failing step aborts the sweep; steps
// already run keep their effects.
func (r *LifecycleRunner) DailyCheck(ctx context.Context, caller model.Caller, force bool) (*DailyResult, error) {
	const action = "daily_check"
	if err := authorize(caller, lifecycle.ActionDailyCheck); err != nil {
		return nil, err
	}
	res := &DailyResult{ExecutedAt: r.clock.now()}
	if !r.acquire(ctx, action, force) {
		r.metrics.LifecycleRuns.WithLabelValues(action, "skipped").Inc()
		res.Skipped = true
		return res, nil
	}

	err := func() error {
		var err error
		if res.StatusUpdates, err = r.engine.Run(ctx); err != nil {
			return fmt.Errorf("status updates: %w", err)
		}
		if res.Notifications, err = r.notifier.Check(ctx, r.notifier.HorizonDays()); err != nil {
			return fmt.Errorf("expiry check: %w", err)
		}
		if res.Escalations, err = r.escalator.EscalateOverdue(ctx, r.escalateAfter); err != nil {
			return fmt.Errorf("escalations: %w", err)
		}
		now := r.clock.now()
		read, expired, err := r.notifications.DeleteStale(ctx, now.Add(-r.retention), now)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		res.Cleanup = &CleanupResult{ReadDeleted: read, ExpiredDeleted: expired, CleanedAt: now}
		return nil
	}()
	r.finish(ctx, action, action, err)
	if err != nil {
		return nil, err
	}
	r.log.Info().
		Int("statuses_updated", res.StatusUpdates.Updated()).
		Int("notifications", res.Notifications.NotificationsCreated).
		Int("renewals", res.Notifications.RenewalsCreated).
		Int("escalated", res.Escalations.EscalatedRenewals).
		Int64("cleaned", res.Cleanup.ReadDeleted+res.Cleanup.ExpiredDeleted).
		Msg("daily lifecycle check completed")
	return res, nil
}

func (r *LifecycleRunner) daysAhead(days int) (int, error) {
	switch {
	case days == 0:
		return r.notifier.HorizonDays(), nil
	case days < 0 || days > MaxDaysAhead:
		return 0, fmt.Errorf("%w: daysAhead must be between 1 and %d", repository.ErrValidation, MaxDaysAhead)
	}
	return days, nil
}
