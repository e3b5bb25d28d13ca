package escrow

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

func TestErrorFromTransaction(t *testing.T) {
	for _, tc := range []struct {
		err      error
		expected []error
	}{
		{ErrorAddressMismatch, []error{ErrAddressMismatch}},
		{ErrorOfferAlreadyExists, []error{ErrOfferAlreadyExists}},
		{ErrorOfferNotFound, []error{ErrOfferNotFound}},
		{ErrorOfferFieldMismatch, []error{ErrOfferFieldMismatch}},
		{ErrorOfferMintMismatch, []error{ErrOfferFieldMismatch, ErrWrongMint}},
		{ErrorInvalidAmount, []error{ErrInvalidAmount}},
		{ErrorInsufficientDelegation, []error{ErrInsufficientDelegation}},
		{token.ErrorInsufficientFunds, []error{ErrInsufficientBalance}},
		{token.ErrorMintMismatch, []error{ErrWrongMint}},
		{token.ErrorOwnerMismatch, []error{ErrWrongOwner}},
		{solana.InstructionErrorComputationalBudgetExceeded, []error{ErrComputeExceeded}},
		{solana.InstructionErrorInvalidInstructionData, []error{ErrSerialization}},
	} {
		actual := ErrorFromTransaction(solana.NewInstructionError(1, tc.err))
		for _, expected := range tc.expected {
			assert.True(t, errors.Is(actual, expected), "%v is not %v", actual, expected)
		}
	}

	assert.NoError(t, ErrorFromTransaction(nil))

	unclassified := solana.NewInstructionError(0, solana.InstructionErrorPrivilegeEscalation)
	assert.Equal(t, unclassified, ErrorFromTransaction(unclassified))

	txErr := solana.NewTransactionError(solana.TransactionErrorAccountInUse)
	assert.Equal(t, txErr, ErrorFromTransaction(txErr))
	assert.False(t, errors.Is(ErrorFromTransaction(solana.NewInstructionError(0, ErrorOfferNotFound)), ErrWrongMint))
}
