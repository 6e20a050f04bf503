//go:build !integration

package postgres

import (
	"errors"
	"testing"

	"saas-plan-payments/internal/domain"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
)

func TestGetExecutor(t *testing.T) {
	_, err := getExecutor(nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = getExecutor(nil, "not a tx")
	assert.ErrorIs(t, err, domain.ErrInvalidExecContext)
}

func TestForUpdate(t *testing.T) {
	assert.Equal(t, "SELECT 1", forUpdate("SELECT 1", nil))
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
	assert.ErrorIs(t, mapErr("op", pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("op", &pgconn.PgError{Code: pgUniqueViolation}), domain.ErrAlreadyExists)
	assert.ErrorIs(t, mapErr("op", domain.ErrInvalidExecContext), domain.ErrInvalidExecContext)

	err := mapErr("op", errors.New("boom"))
	assert.ErrorIs(t, err, domain.ErrOperationFailed)
	assert.Contains(t, err.Error(), "boom")
}
