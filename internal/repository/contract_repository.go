package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

// ContractRepo provides access to contracts and their signatories.  All
// timestamps are stored in UTC; start/end dates are DATE columns.
type ContractRepo struct {
	db *sql.DB
}

// NewContractRepo returns a new ContractRepo bound to the given database.
func NewContractRepo(db *sql.DB) *ContractRepo { return &ContractRepo{db: db} }

const contractColumns = `id, template_id, title, content, variables_data,
       client_name, client_email, client_phone, contract_value,
       start_date, end_date, notes, approval_status, actual_status,
       auto_renewal, parent_contract_id, renewal_type, created_by,
       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(s rowScanner) (*model.Contract, error) {
	var (
		c           model.Contract
		templateID  sql.NullString
		variables   []byte
		clientPhone sql.NullString
		start, end  sql.NullTime
		notes       sql.NullString
		parentID    sql.NullString
		renewalType sql.NullString
	)
	err := s.Scan(
		&c.ID, &templateID, &c.Title, &c.Content, &variables,
		&c.ClientName, &c.ClientEmail, &clientPhone, &c.Value,
		&start, &end, &notes, &c.ApprovalStatus, &c.ActualStatus,
		&c.AutoRenewal, &parentID, &renewalType, &c.CreatedBy,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if c.VariablesData, err = decodeJSON(variables); err != nil {
		return nil, err
	}
	c.TemplateID = stringPtr(templateID)
	c.ClientPhone = stringPtr(clientPhone)
	c.StartDate = datePtr(start)
	c.EndDate = datePtr(end)
	c.Notes = stringPtr(notes)
	c.ParentContractID = stringPtr(parentID)
	if renewalType.Valid {
		rt := model.RenewalType(renewalType.String)
		c.RenewalType = &rt
	}
	return &c, nil
}

func scanContracts(rows *sql.Rows) ([]model.Contract, error) {
	defer rows.Close()
	out := make([]model.Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetByID returns a contract or ErrNotFound.
func (r *ContractRepo) GetByID(ctx context.Context, id string) (*model.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts WHERE id = ?`
	c, err := scanContract(r.db.QueryRowContext(ctx, q, id))
	// map the driver's no-rows error to the package sentinel
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

// ListSigned returns every signed contract, terminal ones included, so that
// callers can both evaluate transitions and report a status distribution.
func (r *ContractRepo) ListSigned(ctx context.Context) ([]model.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts
	      WHERE approval_status = 'signed'
	      ORDER BY end_date, id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list signed contracts: %w", err)
	}
	return scanContracts(rows)
}

// ListExpiring returns signed contracts whose end date falls within
// [from, to], ordered by end date.  When statuses is non-empty only
// contracts in one of those actual statuses are returned.
func (r *ContractRepo) ListExpiring(ctx context.Context, from, to civil.Date, statuses []model.ActualStatus) ([]model.Contract, error) {
	q := `SELECT ` + contractColumns + ` FROM contracts
	      WHERE approval_status = 'signed'
	        AND end_date IS NOT NULL
	        AND end_date BETWEEN ? AND ?`
	args := []any{dateArg(from), dateArg(to)}
	// expand the IN list to one placeholder per status
	if len(statuses) > 0 {
		q += ` AND actual_status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, s := range statuses {
			args = append(args, string(s))
		}
	}
	q += ` ORDER BY end_date, id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list expiring contracts: %w", err)
	}
	return scanContracts(rows)
}

// UpdateActualStatus moves a contract from one actual status to another.
func (r *ContractRepo) UpdateActualStatus(ctx context.Context, id string, from, to model.ActualStatus) error {
	return r.UpdateActualStatusTx(ctx, r.db, id, from, to)
}

// UpdateActualStatusTx is a compare-and-set on actual_status: the row is
// only updated while it still holds `from`.  ErrConflict is returned when
// another request changed it first.
func (r *ContractRepo) UpdateActualStatusTx(ctx context.Context, q Querier, id string, from, to model.ActualStatus) error {
	const stmt = `UPDATE contracts SET actual_status = ?, updated_at = ? WHERE id = ? AND actual_status = ?`
	res, err := q.ExecContext(ctx, stmt, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("update contract %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contract %s status: %w", id, err)
	}
	// zero rows: the contract is gone or its status moved on
	if n == 0 {
		return fmt.Errorf("contract %s is no longer %s: %w", id, from, ErrConflict)
	}
	return nil
}

// InsertTx inserts a contract inside the given transaction.  CreatedAt and
// UpdatedAt are filled in when zero.
func (r *ContractRepo) InsertTx(ctx context.Context, q Querier, c *model.Contract) error {
	variables, err := jsonArg(c.VariablesData)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}
	// NULL renewal_type for contracts created outside the renewal flow
	var renewalType any
	if c.RenewalType != nil {
		renewalType = string(*c.RenewalType)
	}
	const stmt = `INSERT INTO contracts
	    (id, template_id, title, content, variables_data,
	     client_name, client_email, client_phone, contract_value,
	     start_date, end_date, notes, approval_status, actual_status,
	     auto_renewal, parent_contract_id, renewal_type, created_by,
	     created_at, updated_at)
	    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = q.ExecContext(ctx, stmt,
		c.ID, c.TemplateID, c.Title, c.Content, variables,
		c.ClientName, c.ClientEmail, c.ClientPhone, c.Value,
		nullDateArg(c.StartDate), nullDateArg(c.EndDate), c.Notes,
		string(c.ApprovalStatus), string(c.ActualStatus),
		c.AutoRenewal, c.ParentContractID, renewalType, c.CreatedBy,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert contract: %w", err)
	}
	return nil
}

const signatoryColumns = `id, contract_id, user_id, name, email, phone, role,
       signing_order, status, signed_at, created_at`

// ListSignatoriesTx returns the signatories of a contract ordered by
// signing order.
func (r *ContractRepo) ListSignatoriesTx(ctx context.Context, q Querier, contractID string) ([]model.Signatory, error) {
	query := `SELECT ` + signatoryColumns + ` FROM contract_signatories
	          WHERE contract_id = ? ORDER BY signing_order, id`
	rows, err := q.QueryContext(ctx, query, contractID)
	if err != nil {
		return nil, fmt.Errorf("list signatories: %w", err)
	}
	defer rows.Close()
	out := make([]model.Signatory, 0)
	for rows.Next() {
		var (
			s        model.Signatory
			userID   sql.NullString
			phone    sql.NullString
			signedAt sql.NullTime
		)
		if err := rows.Scan(&s.ID, &s.ContractID, &userID, &s.Name, &s.Email, &phone,
			&s.Role, &s.SigningOrder, &s.Status, &signedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		// external signatories have no user account
		s.UserID = stringPtr(userID)
		s.Phone = stringPtr(phone)
		s.SignedAt = timePtr(signedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertSignatoriesTx inserts multiple signatories in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *ContractRepo) InsertSignatoriesTx(ctx context.Context, q Querier, signatories []model.Signatory) error {
	if len(signatories) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO contract_signatories
	    (id, contract_id, user_id, name, email, phone, role, signing_order, status, signed_at, created_at) VALUES `)
	args := make([]any, 0, len(signatories)*11)
	now := time.Now().UTC()
	// build one VALUES tuple per signatory
	for i, s := range signatories {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		created := s.CreatedAt
		if created.IsZero() {
			created = now
		}
		args = append(args, s.ID, s.ContractID, s.UserID, s.Name, s.Email, s.Phone,
			s.Role, s.SigningOrder, string(s.Status), s.SignedAt, created)
	}
	if _, err := q.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert signatories: %w", err)
	}
	return nil
}

// IsSignatory reports whether userID is registered as a signatory of the
// contract.
func (r *ContractRepo) IsSignatory(ctx context.Context, contractID, userID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM contract_signatories WHERE contract_id = ? AND user_id = ?)`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, contractID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("check signatory: %w", err)
	}
	return ok, nil
}
