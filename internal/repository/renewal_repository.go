package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-sql/civil"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// RenewalRepo provides access to renewal requests.  At most one pending
// renewal per contract is enforced by the uq_renewals_one_pending index on
// the generated pending_contract_id column; a violation surfaces as
// ErrConflict.
type RenewalRepo struct {
	db *sql.DB
}

// NewRenewalRepo returns a new RenewalRepo bound to the given database.
func NewRenewalRepo(db *sql.DB) *RenewalRepo { return &RenewalRepo{db: db} }

const renewalColumns = `r.id, r.original_contract_id, r.requested_by, r.requested_at, r.status,
       r.proposed_changes, r.proposed_start_date, r.proposed_end_date, r.proposed_value,
       r.gestor_response, r.processed_by, r.processed_at, r.new_contract_id,
       r.escalated_at, r.escalated_to, r.escalation_reason, r.priority,
       r.auto_renewal, r.created_at, r.updated_at`

// scanRenewal reads renewalColumns followed by any extra destinations.
func scanRenewal(s rowScanner, extra ...any) (*model.Renewal, error) {
	var (
		rn          model.Renewal
		changes     []byte
		start, end  time.Time
		response    sql.NullString
		processedBy sql.NullString
		processedAt sql.NullTime
		newContract sql.NullString
		escalatedAt sql.NullTime
		escalatedTo sql.NullString
		reason      sql.NullString
	)
	dest := []any{
		&rn.ID, &rn.OriginalContractID, &rn.RequestedBy, &rn.RequestedAt, &rn.Status,
		&changes, &start, &end, &rn.ProposedValue,
		&response, &processedBy, &processedAt, &newContract,
		&escalatedAt, &escalatedTo, &reason, &rn.Priority,
		&rn.AutoRenewal, &rn.CreatedAt, &rn.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var err error
	if rn.ProposedChanges, err = decodeJSON(changes); err != nil {
		return nil, err
	}
	rn.ProposedStartDate = civil.DateOf(start.UTC())
	rn.ProposedEndDate = civil.DateOf(end.UTC())
	rn.GestorResponse = stringPtr(response)
	rn.ProcessedBy = stringPtr(processedBy)
	rn.ProcessedAt = timePtr(processedAt)
	rn.NewContractID = stringPtr(newContract)
	rn.EscalatedAt = timePtr(escalatedAt)
	rn.EscalatedTo = stringPtr(escalatedTo)
	rn.EscalationReason = stringPtr(reason)
	return &rn, nil
}

// GetByID returns a renewal or ErrNotFound.
func (r *RenewalRepo) GetByID(ctx context.Context, id string) (*model.Renewal, error) {
	q := `SELECT ` + renewalColumns + ` FROM contract_renewals r WHERE r.id = ?`
	rn, err := scanRenewal(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("renewal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get renewal %s: %w", id, err)
	}
	return rn, nil
}

// HasPending reports whether the contract already has a pending renewal.
func (r *RenewalRepo) HasPending(ctx context.Context, contractID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM contract_renewals WHERE original_contract_id = ? AND status = 'pending')`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, contractID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check pending renewal: %w", err)
	}
	return ok, nil
}

// Insert stores a new renewal.  A second pending renewal for the same
// contract is rejected by the database and reported as ErrConflict.
func (r *RenewalRepo) Insert(ctx context.Context, rn *model.Renewal) error {
	changes, err := jsonArg(rn.ProposedChanges)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if rn.RequestedAt.IsZero() {
		rn.RequestedAt = now
	}
	rn.CreatedAt, rn.UpdatedAt = now, now
	// decision and escalation columns start NULL
	const stmt = `INSERT INTO contract_renewals
	    (id, original_contract_id, requested_by, requested_at, status,
	     proposed_changes, proposed_start_date, proposed_end_date, proposed_value,
	     priority, auto_renewal, created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, stmt,
		rn.ID, rn.OriginalContractID, rn.RequestedBy, rn.RequestedAt, string(rn.Status),
		changes, dateArg(rn.ProposedStartDate), dateArg(rn.ProposedEndDate), rn.ProposedValue,
		string(rn.Priority), rn.AutoRenewal, rn.CreatedAt, rn.UpdatedAt,
	)
	// the one-pending-per-contract index is the only unique key a fresh id can hit
	if isDuplicateKey(err) {
		return fmt.Errorf("contract %s already has a pending renewal: %w", rn.OriginalContractID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert renewal: %w", err)
	}
	return nil
}

// RenewalFilter narrows List.  VisibleTo, when set, restricts the result to
// renewals the user requested or that reference a contract the user owns.
type RenewalFilter struct {
	Status    *model.RenewalStatus
	VisibleTo string
}

// List returns renewals joined with their original contract, newest first.
func (r *RenewalRepo) List(ctx context.Context, f RenewalFilter) ([]model.RenewalView, error) {
	q := `SELECT ` + renewalColumns + `,
	             c.id, c.title, c.client_name, c.client_email, c.contract_value,
	             c.start_date, c.end_date, c.auto_renewal, c.created_by
	      FROM contract_renewals r
	      JOIN contracts c ON c.id = r.original_contract_id
	      WHERE 1 = 1`
	args := make([]any, 0, 3)
	// requester or contract owner
	if f.VisibleTo != "" {
		q += ` AND (r.requested_by = ? OR c.created_by = ?)`
		args = append(args, f.VisibleTo, f.VisibleTo)
	}
	if f.Status != nil {
		q += ` AND r.status = ?`
		args = append(args, string(*f.Status))
	}
	q += ` ORDER BY r.created_at DESC, r.id`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list renewals: %w", err)
	}
	defer rows.Close()
	out := make([]model.RenewalView, 0)
	for rows.Next() {
		var (
			cs         model.ContractSummary
			start, end sql.NullTime
		)
		rn, err := scanRenewal(rows,
			&cs.ID, &cs.Title, &cs.ClientName, &cs.ClientEmail, &cs.Value,
			&start, &end, &cs.AutoRenewal, &cs.CreatedBy)
		if err != nil {
			return nil, err
		}
		// contract dates may be NULL for drafts
		cs.StartDate = datePtr(start)
		cs.EndDate = datePtr(end)
		out = append(out, model.RenewalView{Renewal: *rn, OriginalContract: cs})
	}
	return out, rows.Err()
}

// Decision is the outcome written by DecideTx.
type Decision struct {
	From          model.RenewalStatus
	To            model.RenewalStatus
	Response      *string
	ProcessedBy   string
	ProcessedAt   time.Time
	NewContractID *string
}

// DecideTx records a decision on a renewal.  The update only applies while
// the renewal is still in d.From; otherwise ErrConflict is returned.
// Status and new_contract_id are written in the same statement so that
// new_contract_id is set exactly when the renewal is approved.
func (r *RenewalRepo) DecideTx(ctx context.Context, q Querier, id string, d Decision) error {
	const stmt = `UPDATE contract_renewals
	    SET status = ?, gestor_response = ?, processed_by = ?, processed_at = ?,
	        new_contract_id = ?, updated_at = ?
	    WHERE id = ? AND status = ?`
	res, err := q.ExecContext(ctx, stmt,
		string(d.To), d.Response, d.ProcessedBy, d.ProcessedAt,
		d.NewContractID, d.ProcessedAt, id, string(d.From))
	if err != nil {
		return fmt.Errorf("decide renewal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide renewal %s: %w", id, err)
	}
	// someone else decided first
	if n == 0 {
		return fmt.Errorf("renewal %s is no longer %s: %w", id, d.From, ErrConflict)
	}
	return nil
}

// Escalate assigns an open renewal to a supervisor and raises its priority
// to urgent.  ErrConflict is returned when the renewal is no longer open.
func (r *RenewalRepo) Escalate(ctx context.Context, id, to, reason string, at time.Time) error {
	const stmt = `UPDATE contract_renewals
	    SET escalated_at = ?, escalated_to = ?, escalation_reason = ?, priority = 'urgent', updated_at = ?
	    WHERE id = ? AND status IN ('pending', 'in_progress')`
	res, err := r.db.ExecContext(ctx, stmt, at, to, reason, at, id)
	if err != nil {
		return fmt.Errorf("escalate renewal %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("escalate renewal %s: %w", id, err)
	}
	// closed by a decision in the meantime
	if n == 0 {
		return fmt.Errorf("renewal %s is closed: %w", id, ErrConflict)
	}
	return nil
}

// ListOverdue returns manual pending renewals created before cutoff that
// were never escalated, oldest first.
func (r *RenewalRepo) ListOverdue(ctx context.Context, cutoff time.Time) ([]model.Renewal, error) {
	q := `SELECT ` + renewalColumns + ` FROM contract_renewals r
	    WHERE r.status = 'pending' AND r.created_at < ? AND r.escalated_at IS NULL AND r.auto_renewal = FALSE
	    ORDER BY r.created_at, r.id`
	rows, err := r.db.QueryContext(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list overdue renewals: %w", err)
	}
	defer rows.Close()

	out := make([]model.Renewal, 0)
	for rows.Next() {
		rn, err := scanRenewal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan overdue renewal: %w", err)
		}
		out = append(out, *rn)
	}
	return out, rows.Err()
}
