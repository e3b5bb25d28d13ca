package testutil

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/ledger/memory"
	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// RuntimeEnv is a runtime over an in memory ledger, with a funded subsidizer
// that pays for setup transactions.
type RuntimeEnv struct {
	Runtime    *runtime.Runtime
	Store      ledger.Store
	Subsidizer ed25519.PrivateKey
}

// NewRuntimeEnv creates a RuntimeEnv using the default test configuration.
func NewRuntimeEnv(t *testing.T, opts ...runtime.Option) *RuntimeEnv {
	return NewRuntimeEnvWithOverrides(t, &runtime.TestOverrides{}, opts...)
}

// NewRuntimeEnvWithOverrides creates a RuntimeEnv with custom configuration.
func NewRuntimeEnvWithOverrides(t *testing.T, overrides *runtime.TestOverrides, opts ...runtime.Option) *RuntimeEnv {
	store := memory.New()
	env := &RuntimeEnv{
		Runtime: runtime.New(store, runtime.WithManualTestOverrides(overrides), opts...),
		Store:   store,
	}
	env.Subsidizer = SetupRandomSubsidizer(t, env)
	return env
}

// Fund airdrops lamports to the address.
func (e *RuntimeEnv) Fund(t *testing.T, address ed25519.PublicKey, lamports uint64) {
	_, err := e.Runtime.RequestAirdrop(context.Background(), address, lamports)
	require.NoError(t, err)
}

// NewFundedWallet returns a new keypair holding lamports.
func (e *RuntimeEnv) NewFundedWallet(t *testing.T, lamports uint64) ed25519.PrivateKey {
	wallet := GenerateSolanaKeypair(t)
	e.Fund(t, PublicKey(wallet), lamports)
	return wallet
}

// Submit signs and processes a transaction paid for by the first signer. The
// runtime advances to a new blockhash first, so identical transactions
// submitted twice have distinct signatures.
func (e *RuntimeEnv) Submit(ctx context.Context, signers []ed25519.PrivateKey, instructions ...solana.Instruction) (*runtime.ExecutionResult, error) {
	txn := solana.NewTransaction(PublicKey(signers[0]), instructions...)
	txn.SetBlockhash(e.Runtime.AdvanceBlockhash(ctx))
	if err := txn.Sign(signers...); err != nil {
		return nil, err
	}

	return e.Runtime.ProcessTransaction(ctx, txn)
}

// MustSubmit is Submit, failing the test on error.
func (e *RuntimeEnv) MustSubmit(t *testing.T, signers []ed25519.PrivateKey, instructions ...solana.Instruction) *runtime.ExecutionResult {
	result, err := e.Submit(context.Background(), signers, instructions...)
	require.NoError(t, err)
	return result
}

// CreateMint creates and initializes a mint owned by tokenProgram, returning
// the mint address and its mint authority.
func (e *RuntimeEnv) CreateMint(t *testing.T, tokenProgram ed25519.PublicKey, decimals byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	mint := GenerateSolanaKeypair(t)
	authority := GenerateSolanaKeypair(t)

	e.MustSubmit(
		t,
		[]ed25519.PrivateKey{e.Subsidizer, mint},
		system.CreateAccount(
			PublicKey(e.Subsidizer),
			PublicKey(mint),
			tokenProgram,
			e.Runtime.GetMinimumBalanceForRentExemption(token.MintSize),
			token.MintSize,
		),
		token.InitializeMint2(tokenProgram, PublicKey(mint), PublicKey(authority), nil, decimals),
	)

	return PublicKey(mint), authority
}

// CreateAssociatedTokenAccount creates the wallet's associated token account
// for the mint.
func (e *RuntimeEnv) CreateAssociatedTokenAccount(t *testing.T, wallet, mint, tokenProgram ed25519.PublicKey) ed25519.PublicKey {
	ix, address, err := token.CreateAssociatedTokenAccountForProgram(PublicKey(e.Subsidizer), wallet, mint, tokenProgram, false)
	require.NoError(t, err)

	e.MustSubmit(t, []ed25519.PrivateKey{e.Subsidizer}, ix)
	return address
}

// MintTo mints amount tokens into the destination token account.
func (e *RuntimeEnv) MintTo(t *testing.T, tokenProgram, mint ed25519.PublicKey, authority ed25519.PrivateKey, dest ed25519.PublicKey, amount uint64) {
	e.MustSubmit(
		t,
		[]ed25519.PrivateKey{e.Subsidizer, authority},
		token.MintTo(tokenProgram, mint, dest, PublicKey(authority), amount),
	)
}

// TokenBalance returns the amount held by a token account.
func (e *RuntimeEnv) TokenBalance(t *testing.T, address ed25519.PublicKey) uint64 {
	balance, err := e.Runtime.GetTokenAccountBalance(context.Background(), address)
	require.NoError(t, err)
	return balance
}

// GetTokenAccount returns the decoded token account at address.
func (e *RuntimeEnv) GetTokenAccount(t *testing.T, address ed25519.PublicKey) *token.Account {
	info, err := e.Runtime.GetAccountInfo(context.Background(), address)
	require.NoError(t, err)
	require.NotNil(t, info)

	var account token.Account
	require.True(t, account.Unmarshal(info.Data))
	return &account
}

// AccountExists reports whether an account is present in the ledger.
func (e *RuntimeEnv) AccountExists(t *testing.T, address ed25519.PublicKey) bool {
	info, err := e.Runtime.GetAccountInfo(context.Background(), address)
	require.NoError(t, err)
	return info != nil
}
