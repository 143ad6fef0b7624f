package model

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// RenewalStatus is the state of a renewal request.
type RenewalStatus string

const (
	RenewalPending    RenewalStatus = "pending"
	RenewalInProgress RenewalStatus = "in_progress"
	RenewalApproved   RenewalStatus = "approved"
	RenewalRejected   RenewalStatus = "rejected"
	RenewalCancelled  RenewalStatus = "cancelled"
)

// Priority is shared by renewals and notifications.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Renewal mirrors a row of `contract_renewals`.  NewContractID is set only
// once the request is approved.  Terminal renewals are kept for audit.
type Renewal struct {
	ID                 string              `json:"id"`
	OriginalContractID string              `json:"original_contract_id"`
	RequestedBy        string              `json:"requested_by"`
	RequestedAt        time.Time           `json:"requested_at"`
	Status             RenewalStatus       `json:"status"`
	ProposedChanges    map[string]any      `json:"proposed_changes"`
	ProposedStartDate  civil.Date          `json:"proposed_start_date"`
	ProposedEndDate    civil.Date          `json:"proposed_end_date"`
	ProposedValue      decimal.NullDecimal `json:"proposed_value"`
	GestorResponse     *string             `json:"gestor_response"`
	ProcessedBy        *string             `json:"processed_by"`
	ProcessedAt        *time.Time          `json:"processed_at"`
	NewContractID      *string             `json:"new_contract_id"`
	EscalatedAt        *time.Time          `json:"escalated_at"`
	EscalatedTo        *string             `json:"escalated_to"`
	EscalationReason   *string             `json:"escalation_reason"`
	Priority           Priority            `json:"priority"`
	AutoRenewal        bool                `json:"auto_renewal"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// RenewalView is a renewal joined with its original contract, as returned
// by listings.
type RenewalView struct {
	Renewal
	OriginalContract ContractSummary `json:"original_contract"`
}

// RenewalMetrics aggregates a renewal listing.  ApprovalRate is
// approved/total and 0 for an empty listing.
type RenewalMetrics struct {
	TotalRenewals    int     `json:"total_renewals"`
	PendingRenewals  int     `json:"pending_renewals"`
	ApprovedRenewals int     `json:"approved_renewals"`
	AutoRenewals     int     `json:"auto_renewals"`
	ApprovalRate     float64 `json:"approval_rate"`
}
