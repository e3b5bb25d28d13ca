package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidChange   = errors.New("invalid account change")
)

// Change is the post-transaction state of a single account. A nil Account,
// or one holding zero lamports, removes the account from the ledger.
type Change struct {
	Address ed25519.PublicKey
	Account *solana.AccountInfo
}

func (c *Change) Validate() error {
	if len(c.Address) != ed25519.PublicKeySize {
		return ErrInvalidChange
	}
	if c.Account != nil && c.Account.Lamports > 0 && len(c.Account.Owner) != ed25519.PublicKeySize {
		return ErrInvalidChange
	}
	return nil
}

// IsDeletion reports whether applying the change removes the account.
func (c *Change) IsDeletion() bool {
	return c.Account == nil || c.Account.Lamports == 0
}

// Store is the durable address to account mapping backing the runtime.
type Store interface {
	// Get returns the account at the address.
	//
	// Returns ErrAccountNotFound if no account exists.
	Get(ctx context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error)

	// GetMany returns the accounts at the provided addresses, in order. Missing
	// accounts are returned as nil entries.
	GetMany(ctx context.Context, addresses ...ed25519.PublicKey) ([]*solana.AccountInfo, error)

	// Commit applies every change in the set atomically. Either all changes
	// are visible afterwards, or none are.
	Commit(ctx context.Context, changes []*Change) error

	// Count returns the number of accounts in the ledger.
	Count(ctx context.Context) (uint64, error)
}
