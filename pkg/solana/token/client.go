package token

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var (
	// ErrAccountNotFound indicates there is no account for the given address.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidTokenAccount indicates that a Solana account exists at the
	// given address, but it is either not initialized, or not configured correctly.
	ErrInvalidTokenAccount = errors.New("invalid token account")
	// ErrInvalidMint indicates the address does not hold an initialized mint.
	ErrInvalidMint = errors.New("invalid mint")
)

// AccountGetter loads raw account state. A nil result with a nil error means
// the account does not exist.
type AccountGetter interface {
	GetAccountInfo(ctx context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error)
}

// Client provides utilities for accessing token accounts for a given token.
type Client struct {
	accounts AccountGetter
	token    ed25519.PublicKey
}

// NewClient creates a new Client.
func NewClient(accounts AccountGetter, token ed25519.PublicKey) *Client {
	return &Client{
		accounts: accounts,
		token:    token,
	}
}

func (c *Client) Token() ed25519.PublicKey {
	return c.token
}

// GetMint returns the mint state of the client's token, along with the token
// program that owns it.
func (c *Client) GetMint(ctx context.Context) (*Mint, ed25519.PublicKey, error) {
	accountInfo, err := c.accounts.GetAccountInfo(ctx, c.token)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get account info")
	} else if accountInfo == nil {
		return nil, nil, ErrAccountNotFound
	}

	if !IsTokenProgram(accountInfo.Owner) {
		return nil, nil, ErrInvalidMint
	}

	var mint Mint
	if !mint.Unmarshal(accountInfo.Data) || !mint.IsInitialized {
		return nil, nil, ErrInvalidMint
	}

	return &mint, accountInfo.Owner, nil
}

// GetAccount returns the token account info for the specified account.
//
// If the account is not initialized, or belongs to a different
// mint, then ErrInvalidTokenAccount is returned.
func (c *Client) GetAccount(ctx context.Context, accountID ed25519.PublicKey) (*Account, error) {
	accountInfo, err := c.accounts.GetAccountInfo(ctx, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get account info")
	} else if accountInfo == nil {
		return nil, ErrAccountNotFound
	}

	if !IsTokenProgram(accountInfo.Owner) {
		return nil, ErrInvalidTokenAccount
	}

	var account Account
	if !account.Unmarshal(accountInfo.Data) || account.State == AccountStateUninitialized {
		return nil, ErrInvalidTokenAccount
	}

	if !bytes.Equal(c.token, account.Mint) {
		return nil, ErrInvalidTokenAccount
	}

	return &account, nil
}

// GetBalance returns the token balance of the account, or zero if the account
// does not exist.
func (c *Client) GetBalance(ctx context.Context, accountID ed25519.PublicKey) (uint64, error) {
	account, err := c.GetAccount(ctx, accountID)
	if err == ErrAccountNotFound {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return account.Amount, nil
}
