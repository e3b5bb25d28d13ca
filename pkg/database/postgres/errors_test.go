package pg

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorHelpers(t *testing.T) {
	errNotFound := errors.New("not found")
	other := errors.New("other")

	assert.Equal(t, errNotFound, CheckNoRows(sql.ErrNoRows, errNotFound))
	assert.Equal(t, other, CheckNoRows(other, errNotFound))
	assert.Nil(t, CheckNoRows(nil, errNotFound))
	assert.False(t, IsNoRows(nil))
}

func TestExecuteRetryable(t *testing.T) {
	var calls int
	err := ExecuteRetryable(func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	expected := errors.New("failure")
	err = ExecuteRetryable(func() error {
		calls++
		return expected
	})
	assert.Equal(t, expected, err)
	assert.Equal(t, 1, calls)
}
