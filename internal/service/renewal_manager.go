package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/contract-lifecycle/internal/event"
	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// CreateRenewalInput is the body of a renewal request.
type CreateRenewalInput struct {
	OriginalContractID string              `json:"original_contract_id" validate:"required"`
	ProposedStartDate  *civil.Date         `json:"proposed_start_date" validate:"required"`
	ProposedEndDate    *civil.Date         `json:"proposed_end_date" validate:"required"`
	ProposedValue      decimal.NullDecimal `json:"proposed_value"`
	ProposedChanges    map[string]any      `json:"proposed_changes"`
	AutoRenewal        bool                `json:"auto_renewal"`
}

// ProcessRenewalInput is the body of a renewal decision.  ProcessedBy is
// accepted for compatibility; the authenticated caller is always recorded.
type ProcessRenewalInput struct {
	RenewalID      string              `json:"renewal_id" validate:"required"`
	Status         model.RenewalStatus `json:"status" validate:"required,oneof=approved rejected"`
	GestorResponse string              `json:"gestor_response"`
	ProcessedBy    string              `json:"processed_by"`
}

// ProcessResult is the outcome of Process.  NewContract is set on approval.
type ProcessResult struct {
	Renewal     *model.Renewal
	NewContract *model.Contract
}

// RenewalManager creates, lists and decides renewal requests.
type RenewalManager struct {
	contracts ContractStore
	renewals  RenewalStore
	tx        Transactor
	factory   *RenewalFactory
	events    event.Publisher
	validate  *validator.Validate
	metrics   *metrics.Metrics
	log       zerolog.Logger
	clock     Clock
	newID     func() string
}

// NewRenewalManager wires a RenewalManager.
func NewRenewalManager(contracts ContractStore, renewals RenewalStore, tx Transactor, factory *RenewalFactory,
	events event.Publisher, m *metrics.Metrics, log zerolog.Logger, clock Clock) *RenewalManager {
	return &RenewalManager{
		contracts: contracts,
		renewals:  renewals,
		tx:        tx,
		factory:   factory,
		events:    events,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   m,
		log:       log.With().Str("component", "renewal_manager").Logger(),
		clock:     clock,
		newID:     uuid.NewString,
	}
}

func (m *RenewalManager) check(v any) error {
	if err := m.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s is %s", repository.ErrValidation, jsonField(verrs[0]), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", repository.ErrValidation, err)
	}
	return nil
}

// jsonField turns a struct field name into its snake_case body key.
func jsonField(fe validator.FieldError) string {
	var b strings.Builder
	for i, r := range fe.Field() {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ownership resolves how caller relates to contract c.  The signatory
// lookup is only made when asked for and the caller is not the owner.
func (m *RenewalManager) ownership(ctx context.Context, caller model.Caller, c *model.Contract, withSignatory bool) (lifecycle.Ownership, error) {
	own := lifecycle.Ownership{Owner: c.CreatedBy == caller.ID}
	if withSignatory && !own.Owner {
		ok, err := m.contracts.IsSignatory(ctx, c.ID, caller.ID)
		if err != nil {
			return own, err
		}
		own.Signatory = ok
	}
	return own, nil
}

// Create opens a pending renewal for a contract the caller owns or signs.
func (m *RenewalManager) Create(ctx context.Context, caller model.Caller, in CreateRenewalInput) (*model.Renewal, error) {
	if err := m.check(in); err != nil {
		return nil, err
	}
	if !in.ProposedEndDate.After(*in.ProposedStartDate) {
		return nil, fmt.Errorf("%w: proposed_end_date must be after proposed_start_date", repository.ErrValidation)
	}
	if in.ProposedValue.Valid && in.ProposedValue.Decimal.IsNegative() {
		return nil, fmt.Errorf("%w: proposed_value must not be negative", repository.ErrValidation)
	}

	c, err := m.contracts.GetByID(ctx, in.OriginalContractID)
	if err != nil {
		return nil, err
	}
	own, err := m.ownership(ctx, caller, c, true)
	if err != nil {
		return nil, err
	}
	if !lifecycle.Allowed(caller.Role, own, lifecycle.ActionCreateRenewal) {
		return nil, fmt.Errorf("%w: only the contract owner or a signatory may request a renewal", repository.ErrForbidden)
	}
	if lifecycle.IsTerminalContract(c.ActualStatus) {
		return nil, fmt.Errorf("%w: contract is already %s", repository.ErrConflict, c.ActualStatus)
	}
	pending, err := m.renewals.HasPending(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: a pending renewal request already exists for this contract", repository.ErrConflict)
	}

	var days *int
	if c.EndDate != nil {
		days = ptr(lifecycle.DaysUntil(*c.EndDate, m.clock.today()))
	}
	changes := in.ProposedChanges
	if changes == nil {
		changes = map[string]any{}
	}
	rn := &model.Renewal{
		ID:                 m.newID(),
		OriginalContractID: c.ID,
		RequestedBy:        caller.ID,
		RequestedAt:        m.clock.now(),
		Status:             model.RenewalPending,
		ProposedChanges:    changes,
		ProposedStartDate:  *in.ProposedStartDate,
		ProposedEndDate:    *in.ProposedEndDate,
		ProposedValue:      in.ProposedValue,
		Priority:           lifecycle.RequestPriority(days),
		AutoRenewal:        in.AutoRenewal,
	}
	if err := m.renewals.Insert(ctx, rn); err != nil {
		return nil, err
	}
	m.metrics.RenewalsCreated.WithLabelValues("manual").Inc()
	m.log.Info().Str("renewal_id", rn.ID).Str("contract_id", c.ID).Str("priority", string(rn.Priority)).Msg("renewal requested")
	m.publish(ctx, event.RenewalRequested{
		RenewalID:     rn.ID,
		ContractID:    c.ID,
		ContractTitle: c.Title,
		ClientName:    c.ClientName,
		OwnerID:       c.CreatedBy,
		RequestedBy:   caller.ID,
		Priority:      rn.Priority,
		AutoRenewal:   rn.AutoRenewal,
	})
	return rn, nil
}

// List returns the renewals visible to caller with aggregate metrics.
// Supervisors and admins see everything; others see renewals they
// requested or that reference a contract they own.
func (m *RenewalManager) List(ctx context.Context, caller model.Caller, status *model.RenewalStatus) ([]model.RenewalView, model.RenewalMetrics, error) {
	f := repository.RenewalFilter{Status: status}
	if !lifecycle.Allowed(caller.Role, lifecycle.Ownership{}, lifecycle.ActionViewAllRenewals) {
		f.VisibleTo = caller.ID
	}
	list, err := m.renewals.List(ctx, f)
	if err != nil {
		return nil, model.RenewalMetrics{}, err
	}
	return list, Summarize(list), nil
}

// Summarize computes listing metrics.  ApprovalRate is approved/total.
func Summarize(list []model.RenewalView) model.RenewalMetrics {
	var out model.RenewalMetrics
	for _, r := range list {
		out.TotalRenewals++
		switch r.Status {
		case model.RenewalPending:
			out.PendingRenewals++
		case model.RenewalApproved:
			out.ApprovedRenewals++
		}
		if r.AutoRenewal {
			out.AutoRenewals++
		}
	}
	if out.TotalRenewals > 0 {
		out.ApprovalRate = float64(out.ApprovedRenewals) / float64(out.TotalRenewals)
	}
	return out
}

// Process approves or rejects an open renewal.  Approval creates the
// renewal contract, copies signatories, marks the original renewed and
// records the decision in one transaction.
func (m *RenewalManager) Process(ctx context.Context, caller model.Caller, in ProcessRenewalInput) (*ProcessResult, error) {
	if err := m.check(in); err != nil {
		return nil, err
	}
	response := strings.TrimSpace(in.GestorResponse)
	if in.Status == model.RenewalRejected && response == "" {
		return nil, fmt.Errorf("%w: gestor_response is required when rejecting", repository.ErrValidation)
	}

	rn, err := m.renewals.GetByID(ctx, in.RenewalID)
	if err != nil {
		return nil, err
	}
	c, err := m.contracts.GetByID(ctx, rn.OriginalContractID)
	if err != nil {
		return nil, err
	}
	own, err := m.ownership(ctx, caller, c, false)
	if err != nil {
		return nil, err
	}
	own.Requester = rn.RequestedBy == caller.ID
	// permission first: outsiders learn nothing about the renewal's state
	if !lifecycle.Allowed(caller.Role, own, lifecycle.ActionProcessRenewal) {
		return nil, fmt.Errorf("%w: only the contract owner or a supervisor may process this renewal", repository.ErrForbidden)
	}
	if err := lifecycle.ValidateRenewalTransition(rn.Status, in.Status); err != nil {
		return nil, err
	}

	now := m.clock.now()
	decision := repository.Decision{
		From:        rn.Status,
		To:          in.Status,
		ProcessedBy: caller.ID,
		ProcessedAt: now,
	}
	if response != "" {
		decision.Response = &response
	}

	var created *model.Contract
	err = m.tx.InTx(ctx, func(q repository.Querier) error {
		if in.Status == model.RenewalApproved {
			nc, err := m.factory.CreateTx(ctx, q, rn, c, response, now)
			if err != nil {
				return err
			}
			created = nc
			decision.NewContractID = &nc.ID
		}
		return m.renewals.DecideTx(ctx, q, rn.ID, decision)
	})
	if err != nil {
		return nil, err
	}

	rn.Status = in.Status
	rn.GestorResponse = decision.Response
	rn.ProcessedBy = &caller.ID
	rn.ProcessedAt = &now
	rn.NewContractID = decision.NewContractID
	rn.UpdatedAt = now
	m.metrics.RenewalDecisions.WithLabelValues(string(in.Status)).Inc()
	m.log.Info().Str("renewal_id", rn.ID).Str("contract_id", c.ID).Str("status", string(in.Status)).Msg("renewal processed")

	if created != nil {
		m.publish(ctx, event.RenewalApproved{
			RenewalID:     rn.ID,
			ContractID:    c.ID,
			ContractTitle: c.Title,
			NewContractID: created.ID,
			RequestedBy:   rn.RequestedBy,
			ProcessedBy:   caller.ID,
		})
	} else {
		m.publish(ctx, event.RenewalRejected{
			RenewalID:     rn.ID,
			ContractID:    c.ID,
			ContractTitle: c.Title,
			RequestedBy:   rn.RequestedBy,
			ProcessedBy:   caller.ID,
			Reason:        response,
		})
	}
	return &ProcessResult{Renewal: rn, NewContract: created}, nil
}

func (m *RenewalManager) publish(ctx context.Context, ev event.Event) {
	if err := m.events.Publish(ctx, ev); err != nil {
		m.log.Error().Err(err).Str("event", ev.Name()).Msg("event delivery failed")
	}
}
