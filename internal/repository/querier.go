package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-sql/civil"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so that repository
// methods can run standalone or inside a caller-owned transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxManager runs a function inside a database transaction.
type TxManager struct {
	db *sql.DB
}

// NewTxManager returns a TxManager bound to db.
func NewTxManager(db *sql.DB) *TxManager { return &TxManager{db: db} }

// InTx begins a transaction, passes it to fn and commits when fn returns
// nil.  Any error from fn rolls the transaction back.
func (m *TxManager) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// jsonArg encodes a JSON column value.  A nil map is stored as {}.
func jsonArg(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// decodeJSON decodes a JSON column into a map; empty columns yield an empty map.
func decodeJSON(raw []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode json column: %w", err)
	}
	return out, nil
}

// dateArg formats a calendar date for a DATE column.
func dateArg(d civil.Date) string { return d.String() }

// nullDateArg is dateArg for nullable columns.
func nullDateArg(d *civil.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// datePtr converts a scanned DATE into a calendar date.
func datePtr(nt sql.NullTime) *civil.Date {
	if !nt.Valid {
		return nil
	}
	d := civil.DateOf(nt.Time.UTC())
	return &d
}

// timePtr converts a scanned nullable DATETIME.
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// stringPtr converts a scanned nullable string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
