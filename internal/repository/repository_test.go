package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/golang-sql/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/contract-lifecycle/internal/model"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var contractCols = []string{
	"id", "template_id", "title", "content", "variables_data",
	"client_name", "client_email", "client_phone", "contract_value",
	"start_date", "end_date", "notes", "approval_status", "actual_status",
	"auto_renewal", "parent_contract_id", "renewal_type", "created_by",
	"created_at", "updated_at",
}

func TestContractRepo_GetByID(t *testing.T) {
	db, mock := newMock(t)
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM contracts WHERE id = ?")).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(contractCols).AddRow(
			"c1", nil, "Hosting", "body", []byte(`{"plan":"gold"}`),
			"ACME", "ops@acme.test", nil, "1200.50",
			time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC), nil,
			"signed", "active", true, nil, "original", "u-owner", created, created,
		))

	c, err := NewContractRepo(db).GetByID(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Hosting", c.Title)
	assert.Equal(t, map[string]any{"plan": "gold"}, c.VariablesData)
	assert.True(t, c.Value.Valid)
	assert.True(t, c.Value.Decimal.Equal(decimal.RequireFromString("1200.5")))
	require.NotNil(t, c.EndDate)
	assert.Equal(t, civil.Date{Year: 2026, Month: 10, Day: 25}, *c.EndDate)
	assert.Equal(t, model.ActualActive, c.ActualStatus)
	require.NotNil(t, c.RenewalType)
	assert.Equal(t, model.RenewalTypeOriginal, *c.RenewalType)
	assert.Nil(t, c.ClientPhone)
}

func TestContractRepo_GetByIDNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM contracts WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(contractCols))

	_, err := NewContractRepo(db).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContractRepo_UpdateActualStatusCompareAndSet(t *testing.T) {
	db, mock := newMock(t)
	stmt := regexp.QuoteMeta("UPDATE contracts SET actual_status = ?, updated_at = ? WHERE id = ? AND actual_status = ?")
	mock.ExpectExec(stmt).
		WithArgs("expiring_soon", sqlmock.AnyArg(), "c1", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).
		WithArgs("expired", sqlmock.AnyArg(), "c1", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewContractRepo(db)
	require.NoError(t, repo.UpdateActualStatus(context.Background(), "c1", model.ActualActive, model.ActualExpiringSoon))
	err := repo.UpdateActualStatus(context.Background(), "c1", model.ActualActive, model.ActualExpired)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestContractRepo_ListExpiringFiltersStatuses(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("end_date BETWEEN ? AND ? AND actual_status IN (?, ?) ORDER BY end_date, id")).
		WithArgs("2026-10-15", "2026-11-14", "active", "expiring_soon").
		WillReturnRows(sqlmock.NewRows(contractCols))

	out, err := NewContractRepo(db).ListExpiring(context.Background(),
		civil.Date{Year: 2026, Month: 10, Day: 15}, civil.Date{Year: 2026, Month: 11, Day: 14},
		[]model.ActualStatus{model.ActualActive, model.ActualExpiringSoon})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestContractRepo_InsertSignatoriesBulk(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contract_signatories")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	uid := "u1"
	err := NewContractRepo(db).InsertSignatoriesTx(context.Background(), db, []model.Signatory{
		{ID: "s1", ContractID: "c2", UserID: &uid, Name: "Ana", Email: "ana@x.test", Role: "client", SigningOrder: 1, Status: model.SignatoryPending},
		{ID: "s2", ContractID: "c2", Name: "Bo", Email: "bo@x.test", Role: "witness", SigningOrder: 2, Status: model.SignatoryPending},
	})
	require.NoError(t, err)
	assert.NoError(t, NewContractRepo(db).InsertSignatoriesTx(context.Background(), db, nil))
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts SET actual_status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewContractRepo(db)
	err := NewTxManager(db).InTx(context.Background(), func(q Querier) error {
		return repo.UpdateActualStatusTx(context.Background(), q, "c1", model.ActualActive, model.ActualRenewed)
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTxManager_Commits(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contracts SET actual_status")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewContractRepo(db)
	err := NewTxManager(db).InTx(context.Background(), func(q Querier) error {
		return repo.UpdateActualStatusTx(context.Background(), q, "c1", model.ActualActive, model.ActualRenewed)
	})
	assert.NoError(t, err)
}

func TestRenewalRepo_InsertDuplicatePending(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO contract_renewals")).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry for key 'uq_renewals_one_pending'"})

	err := NewRenewalRepo(db).Insert(context.Background(), &model.Renewal{
		ID: "r2", OriginalContractID: "c1", RequestedBy: "u1", Status: model.RenewalPending,
		ProposedStartDate: civil.Date{Year: 2026, Month: 10, Day: 26},
		ProposedEndDate:   civil.Date{Year: 2027, Month: 10, Day: 25},
		Priority:          model.PriorityMedium,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRenewalRepo_DecideStaleStatus(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE contract_renewals SET status = ?")).
		WithArgs("approved", nil, "u-owner", sqlmock.AnyArg(), "c2", sqlmock.AnyArg(), "r1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))

	newID := "c2"
	err := NewRenewalRepo(db).DecideTx(context.Background(), db, "r1", Decision{
		From: model.RenewalPending, To: model.RenewalApproved,
		ProcessedBy: "u-owner", ProcessedAt: time.Now().UTC(), NewContractID: &newID,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestRenewalRepo_ListVisibleTo(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{
		"id", "original_contract_id", "requested_by", "requested_at", "status",
		"proposed_changes", "proposed_start_date", "proposed_end_date", "proposed_value",
		"gestor_response", "processed_by", "processed_at", "new_contract_id",
		"escalated_at", "escalated_to", "escalation_reason", "priority",
		"auto_renewal", "created_at", "updated_at",
		"c_id", "title", "client_name", "client_email", "contract_value",
		"start_date", "end_date", "c_auto_renewal", "created_by",
	}
	now := time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE 1 = 1 AND (r.requested_by = ? OR c.created_by = ?) AND r.status = ?")).
		WithArgs("u1", "u1", "pending").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "c1", "u1", now, "pending",
			[]byte(`{"auto_generated":true}`), time.Date(2026, 10, 26, 0, 0, 0, 0, time.UTC), time.Date(2027, 10, 25, 0, 0, 0, 0, time.UTC), "1000",
			nil, nil, nil, nil,
			nil, nil, nil, "high",
			true, now, now,
			"c1", "Hosting", "ACME", "ops@acme.test", "1000",
			time.Date(2025, 10, 26, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC), true, "u1",
		))

	st := model.RenewalPending
	out, err := NewRenewalRepo(db).List(context.Background(), RenewalFilter{Status: &st, VisibleTo: "u1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Hosting", out[0].OriginalContract.Title)
	assert.Equal(t, civil.Date{Year: 2026, Month: 10, Day: 26}, out[0].ProposedStartDate)
	assert.Equal(t, true, out[0].ProposedChanges["auto_generated"])
	assert.Nil(t, out[0].NewContractID)
}

func TestRenewalRepo_EscalateClosed(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("priority = 'urgent'")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewRenewalRepo(db).Escalate(context.Background(), "r1", "sup", "reason", time.Now())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserRepo_FirstByRoles(t *testing.T) {
	db, mock := newMock(t)
	q := regexp.QuoteMeta("WHERE role IN (?, ?) ORDER BY created_at, id LIMIT 1")
	mock.ExpectQuery(q).
		WithArgs("supervisor", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "role", "created_at"}).
			AddRow("s1", "Sam", "sam@x.test", "supervisor", time.Now()))
	mock.ExpectQuery(q).
		WithArgs("supervisor", "admin").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "role", "created_at"}))

	repo := NewUserRepo(db)
	u, err := repo.FirstByRoles(context.Background(), model.RoleSupervisor, model.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "Sam", u.Name)

	_, err = repo.FirstByRoles(context.Background(), model.RoleSupervisor, model.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationRepo_DeleteStale(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE read_at IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notifications WHERE expires_at IS NOT NULL")).
		WillReturnResult(sqlmock.NewResult(0, 2))

	read, expired, err := NewNotificationRepo(db).DeleteStale(context.Background(), time.Now().AddDate(0, 0, -30), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 3, read)
	assert.EqualValues(t, 2, expired)
}

func TestRenewalRepo_ListOverdue(t *testing.T) {
	db, mock := newMock(t)
	cols := []string{
		"id", "original_contract_id", "requested_by", "requested_at", "status",
		"proposed_changes", "proposed_start_date", "proposed_end_date", "proposed_value",
		"gestor_response", "processed_by", "processed_at", "new_contract_id",
		"escalated_at", "escalated_to", "escalation_reason", "priority",
		"auto_renewal", "created_at", "updated_at",
	}
	cutoff := time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("r.escalated_at IS NULL AND r.auto_renewal = FALSE")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"r1", "c1", "u1", old, "pending",
			[]byte(`{}`), time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), time.Date(2027, 11, 1, 0, 0, 0, 0, time.UTC), nil,
			nil, nil, nil, nil,
			nil, nil, nil, "medium",
			false, old, old,
		))

	out, err := NewRenewalRepo(db).ListOverdue(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.False(t, out[0].ProposedValue.Valid)
}
