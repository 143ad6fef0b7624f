package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/service"
)

// RenewalHandler serves the renewal-manager endpoint.
type RenewalHandler struct {
	Manager   *service.RenewalManager
	Escalator *service.Escalator
	Timeout   time.Duration
}

// NewRenewalHandler panics on nil dependencies.
func NewRenewalHandler(manager *service.RenewalManager, escalator *service.Escalator, timeout time.Duration) *RenewalHandler {
	if manager == nil || escalator == nil {
		panic("nil service passed to NewRenewalHandler")
	}
	return &RenewalHandler{Manager: manager, Escalator: escalator, Timeout: timeout}
}

var renewalStatuses = map[model.RenewalStatus]bool{
	model.RenewalPending:    true,
	model.RenewalInProgress: true,
	model.RenewalApproved:   true,
	model.RenewalRejected:   true,
	model.RenewalCancelled:  true,
}

// Handle dispatches on ?action=, defaulting to list.  Actions that read a
// body require POST.
func (h *RenewalHandler) Handle(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return fail(c, err)
	}
	// no action means list, matching a plain GET
	action := c.QueryParam("action")
	if action == "" {
		action = "list"
	}
	if (action == "create" || action == "process") && c.Request().Method != http.MethodPost {
		return c.JSON(http.StatusMethodNotAllowed, echo.Map{"success": false, "error": action + " requires POST"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.Timeout)
	defer cancel()

	switch action {
	case "list":
		return h.list(ctx, c, caller)
	case "create":
		return h.create(ctx, c, caller)
	case "process":
		return h.process(ctx, c, caller)
	case "escalate":
		return h.escalate(ctx, c, caller)
	default:
		return badRequest(c, fmt.Sprintf("invalid action %q", action))
	}
}

func (h *RenewalHandler) list(ctx context.Context, c echo.Context, caller model.Caller) error {
	// optional status filter; unknown values are rejected rather than ignored
	var status *model.RenewalStatus
	if raw := c.QueryParam("status"); raw != "" {
		st := model.RenewalStatus(raw)
		if !renewalStatuses[st] {
			return badRequest(c, fmt.Sprintf("invalid status %q", raw))
		}
		status = &st
	}
	list, metrics, err := h.Manager.List(ctx, caller, status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":    true,
		"renewals":   list,
		"metrics":    metrics,
		"fetched_at": now(),
	})
}

func (h *RenewalHandler) create(ctx context.Context, c echo.Context, caller model.Caller) error {
	// bind the body only; query parameters must not fill input fields
	var in service.CreateRenewalInput
	if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
		return badRequest(c, "invalid body")
	}
	rn, err := h.Manager.Create(ctx, caller, in)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"success": true,
		"renewal": rn,
		"message": "Renewal request created",
	})
}

func (h *RenewalHandler) process(ctx context.Context, c echo.Context, caller model.Caller) error {
	var in service.ProcessRenewalInput
	if err := (&echo.DefaultBinder{}).BindBody(c, &in); err != nil {
		return badRequest(c, "invalid body")
	}
	res, err := h.Manager.Process(ctx, caller, in)
	if err != nil {
		return fail(c, err)
	}
	// message reads "Renewal approved" or "Renewal rejected"
	body := echo.Map{
		"success": true,
		"message": fmt.Sprintf("Renewal %s", res.Renewal.Status),
		"renewal": res.Renewal,
	}
	// only approvals carry the new contract
	if res.NewContract != nil {
		body["new_contract"] = res.NewContract
	}
	return c.JSON(http.StatusOK, body)
}

func (h *RenewalHandler) escalate(ctx context.Context, c echo.Context, caller model.Caller) error {
	// the renewal id comes from the query string; escalate has no body
	res, err := h.Escalator.Escalate(ctx, caller, c.QueryParam("renewalId"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success":      true,
		"message":      "Renewal escalated to " + res.Supervisor.Name,
		"escalated_to": res.Supervisor.ID,
		"renewal":      res.Renewal,
	})
}
