// Package event defines the domain events emitted by the lifecycle and
// renewal workflows, and an in-process dispatcher that delivers them to
// subscribers such as the notification writer and the broker forwarder.
package event

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// Event names.
const (
	NameContractStatusChanged = "contract.status_changed"
	NameContractExpiring      = "contract.expiring"
	NameRenewalRequested      = "renewal.requested"
	NameRenewalApproved       = "renewal.approved"
	NameRenewalRejected       = "renewal.rejected"
	NameRenewalEscalated      = "renewal.escalated"
)

// Event is implemented by every domain event.
type Event interface {
	Name() string
}

// ContractStatusChanged is emitted for every actual_status transition.
type ContractStatusChanged struct {
	ContractID string             `json:"contract_id"`
	From       model.ActualStatus `json:"from"`
	To         model.ActualStatus `json:"to"`
	At         time.Time          `json:"at"`
}

func (ContractStatusChanged) Name() string { return NameContractStatusChanged }

// ContractExpiring is emitted when a contract hits a notification threshold.
type ContractExpiring struct {
	ContractID      string              `json:"contract_id"`
	OwnerID         string              `json:"owner_id"`
	Title           string              `json:"title"`
	ClientName      string              `json:"client_name"`
	EndDate         civil.Date          `json:"end_date"`
	DaysUntilExpiry int                 `json:"days_until_expiry"`
	AutoRenewal     bool                `json:"auto_renewal"`
	Value           decimal.NullDecimal `json:"contract_value"`
}

func (ContractExpiring) Name() string { return NameContractExpiring }

// RenewalRequested is emitted when a renewal is created, manually or by the
// expiry notifier.
type RenewalRequested struct {
	RenewalID     string         `json:"renewal_id"`
	ContractID    string         `json:"contract_id"`
	ContractTitle string         `json:"contract_title"`
	ClientName    string         `json:"client_name"`
	OwnerID       string         `json:"owner_id"`
	RequestedBy   string         `json:"requested_by"`
	Priority      model.Priority `json:"priority"`
	AutoRenewal   bool           `json:"auto_renewal"`
}

func (RenewalRequested) Name() string { return NameRenewalRequested }

// RenewalApproved is emitted after the renewal contract has been committed.
type RenewalApproved struct {
	RenewalID     string `json:"renewal_id"`
	ContractID    string `json:"original_contract_id"`
	ContractTitle string `json:"contract_title"`
	NewContractID string `json:"new_contract_id"`
	RequestedBy   string `json:"requested_by"`
	ProcessedBy   string `json:"processed_by"`
}

func (RenewalApproved) Name() string { return NameRenewalApproved }

// RenewalRejected is emitted when a renewal is rejected.
type RenewalRejected struct {
	RenewalID     string `json:"renewal_id"`
	ContractID    string `json:"original_contract_id"`
	ContractTitle string `json:"contract_title"`
	RequestedBy   string `json:"requested_by"`
	ProcessedBy   string `json:"processed_by"`
	Reason        string `json:"rejection_reason"`
}

func (RenewalRejected) Name() string { return NameRenewalRejected }

// RenewalEscalated is emitted when a stalled renewal is handed to a
// supervisor.
type RenewalEscalated struct {
	RenewalID     string `json:"renewal_id"`
	ContractID    string `json:"original_contract_id"`
	ContractTitle string `json:"contract_title"`
	EscalatedFrom string `json:"escalated_from"`
	EscalatedTo   string `json:"escalated_to"`
	Reason        string `json:"escalation_reason"`
	DaysOverdue   int    `json:"days_overdue,omitempty"`
}

func (RenewalEscalated) Name() string { return NameRenewalEscalated }
