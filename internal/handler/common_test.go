package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/contract-lifecycle/internal/lifecycle"
	"github.com/iliyamo/contract-lifecycle/internal/repository"
)

func TestErrStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", repository.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: no", repository.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("renewal x: %w", repository.ErrNotFound), http.StatusNotFound},
		{repository.ErrConflict, http.StatusConflict},
		{fmt.Errorf("process: %w", lifecycle.ErrIllegalTransition), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, errStatus(tc.err), tc.err.Error())
	}
}

func TestFailHidesInternalErrors(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, fail(c, errors.New("dial tcp 10.0.0.1:3306: refused")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":"operation failed"}`, rec.Body.String())
}

func TestQueryParams(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?daysAhead=14&force=true&bad=x", nil), httptest.NewRecorder())

	n, err := intParam(c, "daysAhead")
	require.NoError(t, err)
	assert.Equal(t, 14, n)

	n, err = intParam(c, "missing")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = intParam(c, "bad")
	assert.Error(t, err)

	b, err := boolParam(c, "force")
	require.NoError(t, err)
	assert.True(t, b)

	_, err = boolParam(c, "bad")
	assert.Error(t, err)
}
