package service

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/model"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

// RenewalTitleSuffix is appended to the original title.
const RenewalTitleSuffix = " (Renewal)"

// RenewalFactory clones an original contract into a draft renewal contract.
type RenewalFactory struct {
	contracts ContractWriter
	newID     func() string
}

// NewRenewalFactory wires a RenewalFactory.
func NewRenewalFactory(contracts ContractWriter) *RenewalFactory {
	return &RenewalFactory{contracts: contracts, newID: uuid.NewString}
}

// Build returns the renewal contract for rn without persisting it.
func (f *RenewalFactory) Build(rn *model.Renewal, original *model.Contract, response string, at time.Time) *model.Contract {
	variables := make(map[string]any, len(original.VariablesData)+len(rn.ProposedChanges))
	maps.Copy(variables, original.VariablesData)
	maps.Copy(variables, rn.ProposedChanges)

	value := rn.ProposedValue
	if !value.Valid {
		value = original.Value
	}
	notes := strings.TrimSpace(fmt.Sprintf("Renewal of contract %s. %s", original.ID, strings.TrimSpace(response)))
	renewalType := model.RenewalTypeManual
	if rn.AutoRenewal {
		renewalType = model.RenewalTypeAuto
	}
	start, end := rn.ProposedStartDate, rn.ProposedEndDate
	parent := original.ID

	return &model.Contract{
		ID:               f.newID(),
		TemplateID:       original.TemplateID,
		Title:            original.Title + RenewalTitleSuffix,
		Content:          original.Content,
		VariablesData:    variables,
		ClientName:       original.ClientName,
		ClientEmail:      original.ClientEmail,
		ClientPhone:      original.ClientPhone,
		Value:            value,
		StartDate:        &start,
		EndDate:          &end,
		Notes:            &notes,
		ApprovalStatus:   model.ApprovalDraft,
		ActualStatus:     model.ActualDraft,
		AutoRenewal:      original.AutoRenewal,
		ParentContractID: &parent,
		RenewalType:      &renewalType,
		CreatedBy:        original.CreatedBy,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

// CreateTx persists the renewal contract inside q: the new draft, a pending
// copy of every signatory of the original, and the original moved to
// renewed.  The caller owns the transaction and must roll it back on error.
func (f *RenewalFactory) CreateTx(ctx context.Context, q repository.Querier, rn *model.Renewal, original *model.Contract, response string, at time.Time) (*model.Contract, error) {
	if err := lifecycle.ValidateContractTransition(original.ActualStatus, model.ActualRenewed); err != nil {
		return nil, fmt.Errorf("renew contract %s: %w", original.ID, err)
	}
	c := f.Build(rn, original, response, at)
	if err := f.contracts.InsertTx(ctx, q, c); err != nil {
		return nil, err
	}

	signatories, err := f.contracts.ListSignatoriesTx(ctx, q, original.ID)
	if err != nil {
		return nil, err
	}
	copies := make([]model.Signatory, 0, len(signatories))
	for _, s := range signatories {
		s.ID = f.newID()
		s.ContractID = c.ID
		s.Status = model.SignatoryPending
		s.SignedAt = nil
		s.CreatedAt = at
		copies = append(copies, s)
	}
	if err := f.contracts.InsertSignatoriesTx(ctx, q, copies); err != nil {
		return nil, err
	}

	if err := f.contracts.UpdateActualStatusTx(ctx, q, original.ID, original.ActualStatus, model.ActualRenewed); err != nil {
		return nil, err
	}
	return c, nil
}
