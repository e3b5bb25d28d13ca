package escrow

import (
	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const (
	// Offer account is not at its canonical address
	ErrorAddressMismatch solana.CustomError = iota + 0x1770

	// Token account mint does not match
	ErrorWrongMint

	// Account authority does not match
	ErrorWrongOwner

	// Offer account is already in use
	ErrorOfferAlreadyExists

	// Offer account does not hold an offer
	ErrorOfferNotFound

	// Maker does not match the offer
	ErrorOfferFieldMismatch

	// Mint does not match the offer
	ErrorOfferMintMismatch

	// Amounts must be non-zero
	ErrorInvalidAmount

	// Token account balance is too low
	ErrorInsufficientBalance

	// Delegated amount is too low
	ErrorInsufficientDelegation
)

var (
	ErrAddressMismatch        = errors.New("address mismatch")
	ErrWrongMint              = errors.New("wrong mint")
	ErrWrongOwner             = errors.New("wrong owner")
	ErrOfferAlreadyExists     = errors.New("offer already exists")
	ErrOfferNotFound          = errors.New("offer not found")
	ErrOfferFieldMismatch     = errors.New("offer field mismatch")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientDelegation = errors.New("insufficient delegation")
	ErrComputeExceeded        = errors.New("compute budget exceeded")
	ErrSerialization          = errors.New("serialization failure")
)

// kindError is a failure that belongs to more than one error kind.
type kindError struct {
	msg   string
	kinds []error
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Is(target error) bool {
	for _, kind := range e.kinds {
		if kind == target {
			return true
		}
	}
	return false
}

var errOfferMintMismatch = &kindError{
	msg:   "offer mint mismatch",
	kinds: []error{ErrOfferFieldMismatch, ErrWrongMint},
}

// ErrorFromTransaction classifies a failed escrow transaction into one of the
// package's error kinds, so callers can use errors.Is. Errors that don't fit
// any kind are returned unchanged.
func ErrorFromTransaction(err error) error {
	if err == nil {
		return nil
	}

	var txErr *solana.TransactionError
	if !errors.As(err, &txErr) || txErr.InstructionError() == nil {
		return err
	}
	ixErr := txErr.InstructionError()

	kind := errorKind(ixErr.Err)
	if kind == nil {
		return err
	}
	return errors.Wrapf(kind, "instruction %d", ixErr.Index)
}

func errorKind(err error) error {
	switch err {
	case ErrorAddressMismatch:
		return ErrAddressMismatch
	case ErrorWrongMint, token.ErrorMintMismatch, token.ErrorMintDecimalsMismatch:
		return ErrWrongMint
	case ErrorWrongOwner, token.ErrorOwnerMismatch:
		return ErrWrongOwner
	case ErrorOfferAlreadyExists:
		return ErrOfferAlreadyExists
	case ErrorOfferNotFound:
		return ErrOfferNotFound
	case ErrorOfferFieldMismatch:
		return ErrOfferFieldMismatch
	case ErrorOfferMintMismatch:
		return errOfferMintMismatch
	case ErrorInvalidAmount:
		return ErrInvalidAmount
	case ErrorInsufficientBalance, token.ErrorInsufficientFunds:
		return ErrInsufficientBalance
	case ErrorInsufficientDelegation:
		return ErrInsufficientDelegation
	case solana.InstructionErrorComputationalBudgetExceeded:
		return ErrComputeExceeded
	case solana.InstructionErrorInvalidInstructionData, solana.InstructionErrorInvalidAccountData:
		return ErrSerialization
	}
	return nil
}
