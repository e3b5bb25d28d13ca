package runtime_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/testutil"
)

var vaultSeed = []byte("vault")

// vaultProgram creates an 8 byte account at its "vault" address and stores
// the instruction data in it.
func vaultProgram(ic *runtime.InvokeContext, accounts []*runtime.AccountRef, data []byte) error {
	if len(accounts) < 3 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}
	payer, vault := accounts[0], accounts[1]

	address, bump, err := ic.FindProgramAddress(ic.ProgramID(), vaultSeed)
	if err != nil {
		return err
	}
	if !bytes.Equal(address, vault.Key) {
		return solana.InstructionErrorInvalidSeeds
	}

	err = ic.Invoke(
		system.CreateAccount(payer.Key, vault.Key, ic.ProgramID(), ic.MinimumBalanceForRentExemption(8), 8),
		[][]byte{vaultSeed, {bump}},
	)
	if err != nil {
		return err
	}

	ic.Log("vault created")
	return vault.CopyData(0, data)
}

// thiefProgram attempts to move lamports out of an account that hasn't
// signed the instruction.
func thiefProgram(ic *runtime.InvokeContext, accounts []*runtime.AccountRef, _ []byte) error {
	return ic.Invoke(system.Transfer(accounts[0].Key, accounts[1].Key, 1))
}

// vandalProgram writes to an account it does not own.
func vandalProgram(_ *runtime.InvokeContext, accounts []*runtime.AccountRef, _ []byte) error {
	accounts[0].SetData([]byte{1})
	return nil
}

func TestInvoke_ProgramDerivedSigner(t *testing.T) {
	ctx := context.Background()

	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	env := testutil.NewRuntimeEnv(t, runtime.WithProgram(programID, runtime.ProgramFunc(vaultProgram)))

	vault, _, err := solana.FindProgramAddressAndBump(programID, vaultSeed)
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	result, err := env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		data,
		solana.NewAccountMeta(testutil.PublicKey(env.Subsidizer), true),
		solana.NewAccountMeta(vault, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	))
	require.NoError(t, err)
	assert.Contains(t, result.Logs, "Program log: vault created")

	info, err := env.Runtime.GetAccountInfo(ctx, vault)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, data, info.Data)
	assert.EqualValues(t, programID, info.Owner)
	assert.Equal(t, runtime.MinimumBalanceForRentExemption(8), info.Lamports)

	// The address is now in use
	_, err = env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		data,
		solana.NewAccountMeta(testutil.PublicKey(env.Subsidizer), true),
		solana.NewAccountMeta(vault, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	))
	testutil.AssertInstructionError(t, err, 0, system.ErrorAccountAlreadyInUse)
}

func TestInvoke_MissingAccount(t *testing.T) {
	ctx := context.Background()

	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	env := testutil.NewRuntimeEnv(t, runtime.WithProgram(programID, runtime.ProgramFunc(vaultProgram)))

	vault, _, err := solana.FindProgramAddressAndBump(programID, vaultSeed)
	require.NoError(t, err)

	// The system program isn't passed, so it can't be invoked
	_, err = env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		nil,
		solana.NewAccountMeta(testutil.PublicKey(env.Subsidizer), true),
		solana.NewAccountMeta(vault, false),
		solana.NewReadonlyAccountMeta(testutil.GenerateSolanaKeys(t, 1)[0], false),
	))
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorMissingAccount)
}

func TestInvoke_PrivilegeEscalation(t *testing.T) {
	ctx := context.Background()

	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	env := testutil.NewRuntimeEnv(t, runtime.WithProgram(programID, runtime.ProgramFunc(thiefProgram)))

	victim := env.NewFundedWallet(t, oneSol)

	_, err := env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		nil,
		solana.NewAccountMeta(testutil.PublicKey(victim), false),
		solana.NewAccountMeta(testutil.PublicKey(env.Subsidizer), false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
	))
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorPrivilegeEscalation)

	balance, err := env.Runtime.GetBalance(ctx, testutil.PublicKey(victim))
	require.NoError(t, err)
	assert.EqualValues(t, oneSol, balance)
}

func TestInvoke_ExternalAccountDataModified(t *testing.T) {
	ctx := context.Background()

	programID := testutil.GenerateSolanaKeys(t, 1)[0]
	env := testutil.NewRuntimeEnv(t, runtime.WithProgram(programID, runtime.ProgramFunc(vandalProgram)))

	victim := env.NewFundedWallet(t, oneSol)

	_, err := env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		nil,
		solana.NewAccountMeta(testutil.PublicKey(victim), false),
	))
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorExternalAccountDataModified)

	_, err = env.Submit(ctx, []ed25519.PrivateKey{env.Subsidizer}, solana.NewInstruction(
		programID,
		nil,
		solana.NewReadonlyAccountMeta(testutil.PublicKey(victim), false),
	))
	testutil.AssertInstructionError(t, err, 0, solana.InstructionErrorReadonlyDataModified)
}
