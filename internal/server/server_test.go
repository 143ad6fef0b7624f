package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/contract-lifecycle/internal/config"
	"github.com/iliyamo/contract-lifecycle/internal/metrics"
	"github.com/iliyamo/contract-lifecycle/internal/utils"
)

const secret = "integration-secret"

func newApp(t *testing.T) (*echo.Echo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := config.Config{
		JWTSecret: secret,
		Lifecycle: config.LifecycleConfig{
			NotificationDays:          []int{30, 15, 10, 5, 1},
			WarningDays:               30,
			HorizonDays:               30,
			RenewalTermDays:           365,
			NotificationRetentionDays: 30,
			EscalateAfter:             72 * time.Hour,
			RequestTimeout:            5 * time.Second,
		},
	}
	clock := func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }
	reg := prometheus.NewRegistry()
	e := New(Options{
		Config:   cfg,
		DB:       db,
		Logger:   zerolog.Nop(),
		Registry: reg,
		Metrics:  metrics.New(reg),
		Clock:    clock,
	})
	return e, mock
}

func do(t *testing.T, e *echo.Echo, method, target, role string) *httptest.ResponseRecorder {
	t.Helper()
	return send(t, e, method, target, role, "")
}

// send is do with a JSON body.
func send(t *testing.T, e *echo.Echo, method, target, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if role != "" {
		tok, err := utils.NewAccessToken(secret, "u-"+role, role, 5)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok.Token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProbes(t *testing.T) {
	e, mock := newApp(t)

	rec := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	mock.ExpectPing()
	rec = do(t, e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "contracts_http_request_duration_seconds")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFunctionsRequireToken(t *testing.T) {
	e, _ := newApp(t)
	rec := do(t, e, http.MethodGet, "/functions/v1/contract-lifecycle?action=get_expiring", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestGetExpiring(t *testing.T) {
	e, mock := newApp(t)
	mock.ExpectQuery(`end_date BETWEEN \? AND \?`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := do(t, e, http.MethodGet, "/functions/v1/contract-lifecycle?action=get_expiring&daysAhead=10", "gestor")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 0, body["total_expiring"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLifecycleRejections(t *testing.T) {
	e, mock := newApp(t)
	tests := []struct {
		name   string
		method string
		target string
		role   string
		want   int
	}{
		{"unknown action", http.MethodPost, "/functions/v1/contract-lifecycle?action=purge", "admin", http.StatusBadRequest},
		{"days out of range", http.MethodGet, "/functions/v1/contract-lifecycle?action=get_expiring&daysAhead=400", "admin", http.StatusBadRequest},
		{"days not a number", http.MethodGet, "/functions/v1/contract-lifecycle?action=get_expiring&daysAhead=soon", "admin", http.StatusBadRequest},
		{"cleanup by gestor", http.MethodPost, "/functions/v1/contract-lifecycle?action=cleanup_notifications", "gestor", http.StatusForbidden},
		{"daily check by gestor", http.MethodPost, "/functions/v1/contract-lifecycle?action=daily_check", "gestor", http.StatusForbidden},
		{"unknown role", http.MethodGet, "/functions/v1/renewal-manager", "guest", http.StatusForbidden},
		{"bad renewal status", http.MethodGet, "/functions/v1/renewal-manager?status=lost", "admin", http.StatusBadRequest},
		{"create over GET", http.MethodGet, "/functions/v1/renewal-manager?action=create", "admin", http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, e, tc.method, tc.target, tc.role)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, false, decode(t, rec)["success"])
		})
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}
