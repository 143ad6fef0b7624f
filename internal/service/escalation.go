package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// EscalationReason is recorded on every escalated renewal.
const EscalationReason = "Gestor did not respond within the expected time"

// ErrNoSupervisor is returned when nobody can receive an escalation.
var ErrNoSupervisor = errors.New("no supervisor available for escalation")

// EscalationResult is the outcome of Escalate.
type EscalationResult struct {
	Renewal    *model.Renewal
	Supervisor *model.User
}

// Escalator hands stalled renewals to a supervisor.
type Escalator struct {
	contracts ContractStore
	renewals  RenewalStore
	users     UserStore
	events    event.Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger
	clock     Clock
}

// NewEscalator wires an Escalator.
func NewEscalator(contracts ContractStore, renewals RenewalStore, users UserStore, events event.Publisher,
	m *metrics.Metrics, log zerolog.Logger, clock Clock) *Escalator {
	return &Escalator{
		contracts: contracts,
		renewals:  renewals,
		users:     users,
		events:    events,
		metrics:   m,
		log:       log.With().Str("component", "escalator").Logger(),
		clock:     clock,
	}
}

// Escalate assigns an open renewal to the first supervisor or admin and
// raises its priority to urgent.  Whether the renewal is stalled is the
// caller's judgement.
func (e *Escalator) Escalate(ctx context.Context, caller model.Caller, renewalID string) (*EscalationResult, error) {
	if renewalID == "" {
		return nil, fmt.Errorf("%w: renewalId is required", repository.ErrValidation)
	}
	rn, err := e.renewals.GetByID(ctx, renewalID)
	if err != nil {
		return nil, err
	}
	if !lifecycle.IsOpenRenewal(rn.Status) {
		return nil, fmt.Errorf("%w: renewal is already %s", repository.ErrConflict, rn.Status)
	}
	c, err := e.contracts.GetByID(ctx, rn.OriginalContractID)
	if err != nil {
		return nil, err
	}
	own := lifecycle.Ownership{Owner: c.CreatedBy == caller.ID, Requester: rn.RequestedBy == caller.ID}
	if !lifecycle.Allowed(caller.Role, own, lifecycle.ActionEscalateRenewal) {
		return nil, fmt.Errorf("%w: you may not escalate this renewal", repository.ErrForbidden)
	}

	sup, err := e.supervisor(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.escalate(ctx, rn, c, sup, EscalationReason, 0); err != nil {
		return nil, err
	}
	return &EscalationResult{Renewal: rn, Supervisor: sup}, nil
}

func (e *Escalator) supervisor(ctx context.Context) (*model.User, error) {
	sup, err := e.users.FirstByRoles(ctx, model.RoleSupervisor, model.RoleAdmin)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNoSupervisor, err)
	}
	return sup, err
}

// escalate writes the escalation, updates rn in place and emits the event.
func (e *Escalator) escalate(ctx context.Context, rn *model.Renewal, c *model.Contract, sup *model.User, reason string, daysOverdue int) error {
	now := e.clock.now()
	if err := e.renewals.Escalate(ctx, rn.ID, sup.ID, reason, now); err != nil {
		return err
	}
	rn.EscalatedAt = &now
	rn.EscalatedTo = &sup.ID
	rn.EscalationReason = &reason
	rn.Priority = model.PriorityUrgent
	rn.UpdatedAt = now

	e.metrics.Escalations.Inc()
	e.log.Info().Str("renewal_id", rn.ID).Str("escalated_to", sup.ID).Int("days_overdue", daysOverdue).Msg("renewal escalated")
	if err := e.events.Publish(ctx, event.RenewalEscalated{
		RenewalID:     rn.ID,
		ContractID:    c.ID,
		ContractTitle: c.Title,
		EscalatedFrom: c.CreatedBy,
		EscalatedTo:   sup.ID,
		Reason:        reason,
		DaysOverdue:   daysOverdue,
	}); err != nil {
		e.log.Error().Err(err).Str("renewal_id", rn.ID).Msg("event delivery failed")
	}
	return nil
}

// OverdueResult summarises an escalate_overdue run.
type OverdueResult struct {
	Skipped           bool      `json:"skipped,omitempty"`
	EscalatedRenewals int       `json:"escalated_renewals"`
	TotalOverdue      int       `json:"total_overdue"`
	EscalatedAt       time.Time `json:"escalated_at"`
}

// OverdueReason is recorded on renewals escalated by EscalateOverdue.
func OverdueReason(after time.Duration) string {
	return fmt.Sprintf("Renewal request unanswered for more than %d days", int(after.Hours()/24))
}

// EscalateOverdue escalates every manual pending renewal older than after
// that was never escalated.  Auto-renewals are left alone.  A renewal that
// fails is logged and skipped; finding nobody to escalate to is not an
// error.
func (e *Escalator) EscalateOverdue(ctx context.Context, after time.Duration) (*OverdueResult, error) {
	now := e.clock.now()
	overdue, err := e.renewals.ListOverdue(ctx, now.Add(-after))
	if err != nil {
		return nil, err
	}
	res := &OverdueResult{TotalOverdue: len(overdue), EscalatedAt: now}
	if len(overdue) == 0 {
		return res, nil
	}
	sup, err := e.supervisor(ctx)
	if errors.Is(err, ErrNoSupervisor) {
		e.log.Warn().Int("overdue", len(overdue)).Msg("no supervisor found for escalation")
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	reason := OverdueReason(after)
	for i := range overdue {
		rn := &overdue[i]
		c, err := e.contracts.GetByID(ctx, rn.OriginalContractID)
		if err == nil {
			days := int(math.Ceil(now.Sub(rn.CreatedAt).Hours() / 24))
			err = e.escalate(ctx, rn, c, sup, reason, days)
		}
		if err != nil {
			e.log.Error().Err(err).Str("renewal_id", rn.ID).Msg("overdue escalation failed")
			continue
		}
		res.EscalatedRenewals++
	}
	return res, nil
}
