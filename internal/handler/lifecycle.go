package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/contract-lifecycle/internal/service"
)

// Lifecycle actions.
const (
	ActionUpdateStatuses       = "update_statuses"
	ActionCheckExpiry          = "check_expiry"
	ActionGetExpiring          = "get_expiring"
	ActionCleanupNotifications = "cleanup_notifications"
	ActionEscalateOverdue      = "escalate_overdue"
	ActionDailyCheck           = "daily_check"
)

// LifecycleHandler serves the contract-lifecycle endpoint.
type LifecycleHandler struct {
	Runner  *service.LifecycleRunner
	Timeout time.Duration
}

// NewLifecycleHandler panics on a nil runner.
func NewLifecycleHandler(runner *service.LifecycleRunner, timeout time.Duration) *LifecycleHandler {
	if runner == nil {
		panic("nil runner passed to NewLifecycleHandler")
	}
	return &LifecycleHandler{Runner: runner, Timeout: timeout}
}

// IsCacheable reports whether the request is a read-only lifecycle query.
func IsCacheable(c echo.Context) bool {
	return c.QueryParam("action") == ActionGetExpiring
}

// Handle dispatches on ?action=.
func (h *LifecycleHandler) Handle(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, err)
	}
	// range checks on daysAhead belong to the runner; only the syntax is checked here
	days, err := intParam(c, "daysAhead")
	if err != nil {
		return badRequest(c, err.Error())
	}
	force, err := boolParam(c, "force")
	if err != nil {
		return badRequest(c, err.Error())
	}

	// one deadline covers every store call the action makes
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	switch action := c.QueryParam("action"); action {
	case ActionUpdateStatuses:
		res, err := h.Runner.UpdateStatuses(ctx, caller, force)
		if err != nil {
			return fail(c, err)
		}
		msg := fmt.Sprintf("Updated %d of %d contracts", res.Updated(), res.ContractsProcessed)
		// a skipped run still answers 200 with empty counts
		if res.Skipped {
			msg = "Skipped: statuses were updated recently"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":             true,
			"skipped":             res.Skipped,
			"message":             msg,
			"updated_counts":      res.UpdatedCounts,
			"total_by_status":     res.TotalByStatus,
			"contracts_processed": res.ContractsProcessed,
			"updated_at":          res.UpdatedAt,
			"details":             res.Details,
		})
	case ActionCheckExpiry:
		res, err := h.Runner.CheckExpiry(ctx, caller, days, force)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":               true,
			"skipped":               res.Skipped,
			"expiring_contracts":    res.ExpiringContracts,
			"notifications_created": res.NotificationsCreated,
			"renewals_created":      res.RenewalsCreated,
			"contracts":             res.Contracts,
			"checked_at":            res.CheckedAt,
		})
	case ActionGetExpiring:
		// read only, so the response cache may serve it
		list, err := h.Runner.Expiring(ctx, caller, days)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":        true,
			"contracts":      list,
			"total_expiring": len(list),
			"checked_at":     now(),
		})
	case ActionCleanupNotifications:
		res, err := h.Runner.CleanupNotifications(ctx, caller)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":         true,
			"read_deleted":    res.ReadDeleted,
			"expired_deleted": res.ExpiredDeleted,
			"cleaned_at":      res.CleanedAt,
		})
	case ActionEscalateOverdue:
		res, err := h.Runner.EscalateOverdue(ctx, caller, force)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":            true,
			"skipped":            res.Skipped,
			"escalated_renewals": res.EscalatedRenewals,
			"total_overdue":      res.TotalOverdue,
			"escalated_at":       res.EscalatedAt,
		})
	case ActionDailyCheck:
		res, err := h.Runner.DailyCheck(ctx, caller, force)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, echo.Map{
			"success":     true,
			"skipped":     res.Skipped,
			"executed_at": res.ExecutedAt,
			"results":     res,
		})
	default:
		return badRequest(c, fmt.Sprintf("invalid action %q", action))
	}
}

// intParam reads an optional integer query parameter; absent is 0.
func intParam(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}
