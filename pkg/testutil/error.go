package testutil

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
)

// AssertTransactionError verifies that the provided error is a transaction
// error with the provided key.
func AssertTransactionError(t *testing.T, err error, key solana.TransactionErrorKey) {
	require.Error(t, err)

	var txErr *solana.TransactionError
	require.True(t, errors.As(err, &txErr), "not a transaction error: %v", err)
	assert.Equal(t, key, txErr.ErrorKey())
}

// AssertInstructionError verifies that the provided error is a failure of the
// instruction at index, caused by expected.
func AssertInstructionError(t *testing.T, err error, index int, expected error) {
	require.Error(t, err)

	var txErr *solana.TransactionError
	require.True(t, errors.As(err, &txErr), "not a transaction error: %v", err)
	require.NotNil(t, txErr.InstructionError(), "not an instruction error: %v", err)
	assert.Equal(t, index, txErr.InstructionError().Index)
	assert.Equal(t, expected, txErr.InstructionError().Err)
}
