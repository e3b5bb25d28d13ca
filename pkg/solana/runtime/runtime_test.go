package runtime_test

import (
	"context"
	"crypto/ed25519"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/code-payments/code-escrow/pkg/solana"
	compute_budget "github.com/code-payments/code-escrow/pkg/solana/computebudget"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/testutil"
)

const (
	oneSol = 1_000_000_000
	fee    = 5000
)

func TestMain(m *testing.M) {
	reset := testutil.DisableLogging()
	code := m.Run()
	reset()
	os.Exit(code)
}

func TestRuntime_SystemTransfer(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	result, err := env.Submit(ctx, []ed25519.PrivateKey{sender}, system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000))
	require.NoError(t, err)
	assert.EqualValues(t, fee, result.Fee)
	assert.NotZero(t, result.ComputeUnitsConsumed)
	assert.NotEmpty(t, result.Logs)

	balance, err := env.Runtime.GetBalance(ctx, testutil.PublicKey(sender))
	require.NoError(t, err)
	assert.EqualValues(t, oneSol-1_000_000-fee, balance)

	balance, err = env.Runtime.GetBalance(ctx, receiver)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, balance)

	status, err := env.Runtime.GetSignatureStatus(ctx, result.Signature)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Nil(t, status.Err)
}

func TestRuntime_FailedTransactionIsNotCharged(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	result, err := env.Submit(ctx, []ed25519.PrivateKey{sender}, system.Transfer(testutil.PublicKey(sender), receiver, 2*oneSol))
	testutil.AssertInstructionError(t, err, 0, system.ErrorResultWithNegativeLamports)

	balance, err := env.Runtime.GetBalance(ctx, testutil.PublicKey(sender))
	require.NoError(t, err)
	assert.EqualValues(t, oneSol, balance)
	assert.False(t, env.AccountExists(t, receiver))

	status, err := env.Runtime.GetSignatureStatus(ctx, result.Signature)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.NotNil(t, status.Err)
	assert.Equal(t, solana.TransactionErrorInstructionError, status.Err.ErrorKey())
}

func TestRuntime_RentExemption(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	_, err := env.Submit(ctx, []ed25519.PrivateKey{sender}, system.Transfer(testutil.PublicKey(sender), receiver, 1000))
	testutil.AssertTransactionError(t, err, solana.TransactionErrorInsufficientFundsForRent)

	_, err = env.Submit(ctx, []ed25519.PrivateKey{sender}, system.Transfer(testutil.PublicKey(sender), receiver, runtime.MinimumBalanceForRentExemption(0)))
	require.NoError(t, err)
}

func TestRuntime_FeePayerValidation(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	unfunded := testutil.GenerateSolanaKeypair(t)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	_, err := env.Submit(ctx, []ed25519.PrivateKey{unfunded}, system.Transfer(testutil.PublicKey(unfunded), receiver, 1))
	testutil.AssertTransactionError(t, err, solana.TransactionErrorAccountNotFound)

	poor := env.NewFundedWallet(t, fee-1)
	_, err = env.Submit(ctx, []ed25519.PrivateKey{poor}, system.Transfer(testutil.PublicKey(poor), receiver, 1))
	testutil.AssertTransactionError(t, err, solana.TransactionErrorInsufficientFundsForFee)
}

func TestRuntime_SignatureVerification(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	txn := solana.NewTransaction(testutil.PublicKey(sender), system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000))
	bh, _ := env.Runtime.GetLatestBlockhash(ctx)
	txn.SetBlockhash(bh)
	require.NoError(t, txn.Sign(sender))

	// Tamper with the message after signing
	txn.Message.Instructions[0].Data[4]++

	_, err := env.Runtime.ProcessTransaction(ctx, txn)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorSignatureFailure)

	unsigned := solana.NewTransaction(testutil.PublicKey(sender), system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000))
	unsigned.SetBlockhash(bh)
	_, err = env.Runtime.ProcessTransaction(ctx, unsigned)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorSignatureFailure)
}

func TestRuntime_ReplayProtection(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	txn := solana.NewTransaction(testutil.PublicKey(sender), system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000))
	bh, _ := env.Runtime.GetLatestBlockhash(ctx)
	txn.SetBlockhash(bh)
	require.NoError(t, txn.Sign(sender))

	_, err := env.Runtime.ProcessTransaction(ctx, txn)
	require.NoError(t, err)

	_, err = env.Runtime.ProcessTransaction(ctx, txn)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorDuplicateSignature)

	balance, err := env.Runtime.GetBalance(ctx, receiver)
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000, balance)
}

func TestRuntime_FailedTransactionCanBeRetried(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	txn := solana.NewTransaction(testutil.PublicKey(sender), system.Transfer(testutil.PublicKey(sender), receiver, 2*oneSol))
	bh, _ := env.Runtime.GetLatestBlockhash(ctx)
	txn.SetBlockhash(bh)
	require.NoError(t, txn.Sign(sender))

	_, err := env.Runtime.ProcessTransaction(ctx, txn)
	testutil.AssertInstructionError(t, err, 0, system.ErrorResultWithNegativeLamports)

	env.Fund(t, testutil.PublicKey(sender), 2*oneSol)

	_, err = env.Runtime.ProcessTransaction(ctx, txn)
	require.NoError(t, err)
}

func TestRuntime_BlockhashExpiry(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnvWithOverrides(t, &runtime.TestOverrides{MaxRecentBlockhashes: 2})

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	bh, slot := env.Runtime.GetLatestBlockhash(ctx)
	env.Runtime.AdvanceBlockhash(ctx)
	env.Runtime.AdvanceBlockhash(ctx)

	_, latestSlot := env.Runtime.GetLatestBlockhash(ctx)
	assert.Equal(t, slot+2, latestSlot)

	txn := solana.NewTransaction(testutil.PublicKey(sender), system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000))
	txn.SetBlockhash(bh)
	require.NoError(t, txn.Sign(sender))

	_, err := env.Runtime.ProcessTransaction(ctx, txn)
	testutil.AssertTransactionError(t, err, solana.TransactionErrorBlockhashNotFound)
}

func TestRuntime_UnknownProgram(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	program := testutil.GenerateSolanaKeys(t, 1)[0]
	_, err := env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(program, []byte{0}))
	testutil.AssertTransactionError(t, err, solana.TransactionErrorProgramAccountNotFound)
}

func TestRuntime_ComputeBudget(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	sender := env.NewFundedWallet(t, oneSol)
	receiver := testutil.GenerateSolanaKeys(t, 1)[0]

	result, err := env.Submit(
		ctx,
		[]ed25519.PrivateKey{sender},
		compute_budget.SetComputeUnitLimit(200),
		system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000),
	)
	testutil.AssertInstructionError(t, err, 1, solana.InstructionErrorComputationalBudgetExceeded)
	assert.EqualValues(t, 200, result.ComputeUnitsConsumed)

	// Priority fee of 1 lamport for 1_000_000 micro-lamports per unit
	result, err = env.Submit(
		ctx,
		[]ed25519.PrivateKey{sender},
		compute_budget.SetComputeUnitLimit(1000),
		compute_budget.SetComputeUnitPrice(1000),
		system.Transfer(testutil.PublicKey(sender), receiver, 1_000_000),
	)
	require.NoError(t, err)
	assert.EqualValues(t, fee+1, result.Fee)

	balance, err := env.Runtime.GetBalance(ctx, testutil.PublicKey(sender))
	require.NoError(t, err)
	assert.EqualValues(t, oneSol-1_000_000-fee-1, balance)
}

func TestRuntime_ConcurrentTransfers(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewRuntimeEnv(t)

	const numSenders = 16
	const amount = 1_000_000

	receiver := testutil.GenerateSolanaKeys(t, 1)[0]
	senders := make([]ed25519.PrivateKey, numSenders)
	for i := range senders {
		senders[i] = env.NewFundedWallet(t, oneSol)
	}

	var eg errgroup.Group
	for _, sender := range senders {
		sender := sender
		eg.Go(func() error {
			_, err := env.Submit(ctx, []ed25519.PrivateKey{sender}, system.Transfer(testutil.PublicKey(sender), receiver, amount))
			return err
		})
	}
	require.NoError(t, eg.Wait())

	balance, err := env.Runtime.GetBalance(ctx, receiver)
	require.NoError(t, err)
	assert.EqualValues(t, numSenders*amount, balance)
}

func TestRuntime_AirdropToProgram(t *testing.T) {
	env := testutil.NewRuntimeEnv(t)

	_, err := env.Runtime.RequestAirdrop(context.Background(), system.ProgramKey[:], 1)
	assert.Error(t, err)
}
