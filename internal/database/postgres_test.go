package database

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestFormatQueryErrorStatementError(t *testing.T) {
	err := &pgconn.PgError{
		Severity: "ERROR",
		Code:     "42703",
		Message:  `column "totall" does not exist`,
	}

	msg, ok := formatQueryError(err)
	assert.True(t, ok)
	assert.Equal(t, `ERROR: column "totall" does not exist (SQL state: 42703)`, msg)
}

func TestFormatQueryErrorWrappedStatementError(t *testing.T) {
	inner := &pgconn.PgError{Code: "42P01", Message: `relation "orders" does not exist`}
	wrapped := errors.Join(errors.New("query"), inner)

	msg, ok := formatQueryError(wrapped)
	assert.True(t, ok)
	assert.Contains(t, msg, "42P01")
}

func TestFormatQueryErrorInfrastructureError(t *testing.T) {
	_, ok := formatQueryError(context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestQueryResultFailed(t *testing.T) {
	assert.False(t, QueryResult{Rows: []map[string]any{{"n": 1}}}.Failed())
	assert.True(t, QueryResult{Err: "ERROR: syntax error (SQL state: 42601)"}.Failed())
}
