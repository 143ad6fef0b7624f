package model

import (
	"time"

	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
)

// ApprovalStatus is the authoring/signing workflow state of a contract.
// Only signed contracts are handled by the lifecycle engine.
type ApprovalStatus string

const (
	ApprovalDraft           ApprovalStatus = "draft"
	ApprovalPendingApproval ApprovalStatus = "pending_approval"
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalRejected        ApprovalStatus = "rejected"
	ApprovalSigned          ApprovalStatus = "signed"
)

// ActualStatus is the date-derived lifecycle state of a contract.
type ActualStatus string

const (
	ActualDraft        ActualStatus = "draft"
	ActualActive       ActualStatus = "active"
	ActualExpiringSoon ActualStatus = "expiring_soon"
	ActualExpired      ActualStatus = "expired"
	ActualRenewed      ActualStatus = "renewed"
	ActualCompleted    ActualStatus = "completed"
)

// RenewalType records how a contract came to exist.
type RenewalType string

const (
	RenewalTypeOriginal RenewalType = "original"
	RenewalTypeManual   RenewalType = "manual_renewal"
	RenewalTypeAuto     RenewalType = "auto_renewal"
)

// Contract mirrors a row of the `contracts` table.
//
// Fields:
//  ID               – primary key (uuid).
//  TemplateID       – template the contract was generated from (nullable).
//  VariablesData    – template variable payload (JSON column).
//  Value            – monetary value (nullable DECIMAL).
//  StartDate/EndDate – calendar dates, no time component.
//  ParentContractID – back-reference to the contract this one renews.
//  CreatedBy        – owning user id; the only user allowed to mutate it.
type Contract struct {
	ID               string              `json:"id"`
	TemplateID       *string             `json:"template_id"`
	Title            string              `json:"title"`
	Content          string              `json:"content"`
	VariablesData    map[string]any      `json:"variables_data"`
	ClientName       string              `json:"client_name"`
	ClientEmail      string              `json:"client_email"`
	ClientPhone      *string             `json:"client_phone"`
	Value            decimal.NullDecimal `json:"contract_value"`
	StartDate        *civil.Date         `json:"start_date"`
	EndDate          *civil.Date         `json:"end_date"`
	Notes            *string             `json:"notes"`
	ApprovalStatus   ApprovalStatus      `json:"approval_status"`
	ActualStatus     ActualStatus        `json:"actual_status"`
	AutoRenewal      bool                `json:"auto_renewal"`
	ParentContractID *string             `json:"parent_contract_id"`
	RenewalType      *RenewalType        `json:"renewal_type"`
	CreatedBy        string              `json:"created_by"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// ContractSummary is the subset of a contract embedded in renewal listings.
type ContractSummary struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	ClientName  string              `json:"client_name"`
	ClientEmail string              `json:"client_email"`
	Value       decimal.NullDecimal `json:"contract_value"`
	StartDate   *civil.Date         `json:"start_date"`
	EndDate     *civil.Date         `json:"end_date"`
	AutoRenewal bool                `json:"auto_renewal"`
	CreatedBy   string              `json:"created_by"`
}

// ExpiringContract is a signed contract annotated with the number of
// calendar days left until its end date.
type ExpiringContract struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	ClientName      string              `json:"client_name"`
	ClientEmail     string              `json:"client_email"`
	EndDate         civil.Date          `json:"end_date"`
	Value           decimal.NullDecimal `json:"contract_value"`
	AutoRenewal     bool                `json:"auto_renewal"`
	ActualStatus    ActualStatus        `json:"actual_status"`
	CreatedBy       string              `json:"created_by"`
	DaysUntilExpiry int                 `json:"days_until_expiry"`
}

// SignatoryStatus is the signing state of one signatory.
type SignatoryStatus string

const (
	SignatoryPending  SignatoryStatus = "pending"
	SignatorySigned   SignatoryStatus = "signed"
	SignatoryRejected SignatoryStatus = "rejected"
)

// Signatory mirrors a row of `contract_signatories`.  Each signatory belongs
// to exactly one contract; renewals copy the rows instead of sharing them.
type Signatory struct {
	ID           string          `json:"id"`
	ContractID   string          `json:"contract_id"`
	UserID       *string         `json:"user_id"`
	Name         string          `json:"name"`
	Email        string          `json:"email"`
	Phone        *string         `json:"phone"`
	Role         string          `json:"role"`
	SigningOrder int             `json:"signing_order"`
	Status       SignatoryStatus `json:"status"`
	SignedAt     *time.Time      `json:"signed_at"`
	CreatedAt    time.Time       `json:"created_at"`
}
