package postgres

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sugartrades/sugar-flow-academy-sub001/internal/apperr"
)

func TestResolveStatementTimeoutMS_Default(t *testing.T) {
	resolved, err := resolveStatementTimeoutMS(Config{})
	require.NoError(t, err)
	assert.Equal(t, statementTimeoutDefaultMS, resolved)
}

func TestResolveStatementTimeoutMS_ConfigOverride(t *testing.T) {
	resolved, err := resolveStatementTimeoutMS(Config{StatementTimeoutMS: 45000})
	require.NoError(t, err)
	assert.Equal(t, 45000, resolved)
}

func TestResolveStatementTimeoutMS_OutOfRange(t *testing.T) {
	_, err := resolveStatementTimeoutMS(Config{StatementTimeoutMS: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of allowed range")

	_, err = resolveStatementTimeoutMS(Config{StatementTimeoutMS: statementTimeoutMaxMS + 1})
	require.Error(t, err)
}

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://u:p@localhost/db?options=-c%20statement_timeout%3D1000",
		appendStatementTimeout("postgres://u:p@localhost/db", 1000))
	assert.Equal(t,
		"postgres://u:p@localhost/db?sslmode=disable&options=-c%20statement_timeout%3D1000",
		appendStatementTimeout("postgres://u:p@localhost/db?sslmode=disable", 1000))
	assert.Equal(t, "postgres://localhost/db", appendStatementTimeout("postgres://localhost/db", 0))
}

func TestMigrations_Embedded(t *testing.T) {
	files, err := fs.Glob(Migrations(), "*.up.sql")
	require.NoError(t, err)
	assert.NotEmpty(t, files)
	assert.Equal(t, "001_initial_schema.up.sql", files[0])
}

func TestStoreErr_DataExceptionRejectsRow(t *testing.T) {
	overflow := storeErr("insert transaction", &pq.Error{Code: "22003", Message: "numeric field overflow"})
	assert.ErrorIs(t, overflow, apperr.ErrRecordRejected)
	assert.NotErrorIs(t, overflow, apperr.ErrStoreUnavailable)

	down := storeErr("insert transaction", &pq.Error{Code: "57P01", Message: "terminating connection"})
	assert.ErrorIs(t, down, apperr.ErrStoreUnavailable)

	assert.ErrorIs(t, storeErr("ping", errors.New("connection refused")), apperr.ErrStoreUnavailable)
}
