package token

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// AssociatedTokenAccountProgramKey  is the address of the associated token account program that should be used.
//
// Current key: ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL
var AssociatedTokenAccountProgramKey = ed25519.PublicKey{140, 151, 37, 143, 78, 36, 137, 241, 187, 61, 16, 41, 20, 142, 13, 131, 11, 90, 19, 153, 218, 255, 16, 132, 4, 142, 123, 216, 219, 233, 248, 89}

const (
	commandCreate byte = iota
	commandCreateIdempotent
)

// GetAssociatedAccount returns the associated account address for an SPL token.
//
// Reference: https://spl.solana.com/associated-token-account#finding-the-associated-token-account-address
func GetAssociatedAccount(wallet, mint ed25519.PublicKey) (ed25519.PublicKey, error) {
	return GetAssociatedAccountForProgram(wallet, mint, ProgramKey)
}

// GetAssociatedAccountForProgram returns the associated account address for a
// mint owned by the provided token program.
func GetAssociatedAccountForProgram(wallet, mint, program ed25519.PublicKey) (ed25519.PublicKey, error) {
	address, _, err := GetAssociatedAccountAndBump(wallet, mint, program)
	return address, err
}

func GetAssociatedAccountAndBump(wallet, mint, program ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		AssociatedTokenAccountProgramKey,
		wallet,
		program,
		mint,
	)
}

// Reference: https://github.com/solana-labs/solana-program-library/blob/0639953c7dd0f5228c3ceda3ba68fece3b46ff1d/associated-token-account/program/src/lib.rs#L54
func CreateAssociatedTokenAccount(subsidizer, wallet, mint ed25519.PublicKey) (solana.Instruction, ed25519.PublicKey, error) {
	return createAssociatedTokenAccount(commandCreate, subsidizer, wallet, mint, ProgramKey)
}

// CreateAssociatedTokenAccountIdempotent is CreateAssociatedTokenAccount, except
// it succeeds when the account already exists with the expected mint and owner.
func CreateAssociatedTokenAccountIdempotent(subsidizer, wallet, mint ed25519.PublicKey) (solana.Instruction, ed25519.PublicKey, error) {
	return createAssociatedTokenAccount(commandCreateIdempotent, subsidizer, wallet, mint, ProgramKey)
}

func CreateAssociatedTokenAccountForProgram(subsidizer, wallet, mint, program ed25519.PublicKey, idempotent bool) (solana.Instruction, ed25519.PublicKey, error) {
	command := commandCreate
	if idempotent {
		command = commandCreateIdempotent
	}
	return createAssociatedTokenAccount(command, subsidizer, wallet, mint, program)
}

func createAssociatedTokenAccount(command byte, subsidizer, wallet, mint, program ed25519.PublicKey) (solana.Instruction, ed25519.PublicKey, error) {
	addr, err := GetAssociatedAccountForProgram(wallet, mint, program)
	if err != nil {
		return solana.Instruction{}, nil, err
	}

	return solana.NewInstruction(
		AssociatedTokenAccountProgramKey,
		[]byte{command},
		solana.NewAccountMeta(subsidizer, true),
		solana.NewAccountMeta(addr, false),
		solana.NewReadonlyAccountMeta(wallet, false),
		solana.NewReadonlyAccountMeta(mint, false),
		solana.NewReadonlyAccountMeta(system.ProgramKey[:], false),
		solana.NewReadonlyAccountMeta(program, false),
		solana.NewReadonlyAccountMeta(system.RentSysVar, false),
	), addr, nil
}

// IsCreateIdempotent reports whether associated token account program
// instruction data requests the idempotent variant. Empty data is the legacy
// encoding of Create.
func IsCreateIdempotent(data []byte) (bool, error) {
	switch {
	case len(data) == 0:
		return false, nil
	case len(data) == 1 && data[0] == commandCreate:
		return false, nil
	case len(data) == 1 && data[0] == commandCreateIdempotent:
		return true, nil
	default:
		return false, solana.ErrIncorrectInstruction
	}
}

type DecompiledCreateAssociatedAccount struct {
	Subsidizer ed25519.PublicKey
	Address    ed25519.PublicKey
	Owner      ed25519.PublicKey
	Mint       ed25519.PublicKey
}

func DecompileCreateAssociatedAccount(m solana.Message, index int) (*DecompiledCreateAssociatedAccount, error) {
	return decompileCreateAssociatedAccount(m, index, false)
}

func DecompileCreateAssociatedAccountIdempotent(m solana.Message, index int) (*DecompiledCreateAssociatedAccount, error) {
	return decompileCreateAssociatedAccount(m, index, true)
}

func decompileCreateAssociatedAccount(m solana.Message, index int, idempotent bool) (*DecompiledCreateAssociatedAccount, error) {
	if index >= len(m.Instructions) {
		return nil, errors.Errorf("instruction doesn't exist at %d", index)
	}

	i := m.Instructions[index]
	if !bytes.Equal(m.Accounts[i.ProgramIndex], AssociatedTokenAccountProgramKey) {
		return nil, solana.ErrIncorrectProgram
	}

	isIdempotent, err := IsCreateIdempotent(i.Data)
	if err != nil {
		return nil, errors.Errorf("unexpected data")
	}
	if isIdempotent != idempotent {
		return nil, solana.ErrIncorrectInstruction
	}

	if len(i.Accounts) != 7 {
		return nil, errors.Errorf("invalid number of accounts: %d (expected %d)", len(i.Accounts), 7)
	}

	if !bytes.Equal(m.Accounts[i.Accounts[4]], system.ProgramKey[:]) {
		return nil, errors.Errorf("system program key mismatch")
	}
	if !IsTokenProgram(m.Accounts[i.Accounts[5]]) {
		return nil, errors.Errorf("token program key mismatch")
	}
	if !bytes.Equal(m.Accounts[i.Accounts[6]], system.RentSysVar) {
		return nil, errors.Errorf("rent sysvar mismatch")
	}

	return &DecompiledCreateAssociatedAccount{
		Subsidizer: m.Accounts[i.Accounts[0]],
		Address:    m.Accounts[i.Accounts[1]],
		Owner:      m.Accounts[i.Accounts[2]],
		Mint:       m.Accounts[i.Accounts[3]],
	}, nil
}
