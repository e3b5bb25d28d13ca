package runtime

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

// AccountRef is a program's view of an account passed to an instruction. All
// refs to the same address within a transaction share state, so changes made
// through one are visible through every other. The runtime verifies after
// each instruction that the program only made changes it was permitted to.
type AccountRef struct {
	Key        ed25519.PublicKey
	IsSigner   bool
	IsWritable bool

	state *solana.AccountInfo
}

func (a *AccountRef) Owner() ed25519.PublicKey {
	return a.state.Owner
}

func (a *AccountRef) Lamports() uint64 {
	return a.state.Lamports
}

func (a *AccountRef) Data() []byte {
	return a.state.Data
}

func (a *AccountRef) Executable() bool {
	return a.state.Executable
}

func (a *AccountRef) IsOwnedBy(program ed25519.PublicKey) bool {
	return bytes.Equal(a.state.Owner, program)
}

// IsUninitialized reports whether the account has never been created, or has
// been closed, and is therefore available for allocation.
func (a *AccountRef) IsUninitialized() bool {
	return a.state.Lamports == 0 && len(a.state.Data) == 0 && a.IsOwnedBy(system.ProgramKey[:])
}

func (a *AccountRef) SetOwner(owner ed25519.PublicKey) {
	a.state.Owner = append(ed25519.PublicKey{}, owner...)
}

func (a *AccountRef) SetData(data []byte) {
	a.state.Data = append([]byte{}, data...)
}

// CopyData writes data into the account starting at offset, without changing
// its size.
func (a *AccountRef) CopyData(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(a.state.Data) {
		return solana.InstructionErrorAccountDataTooSmall
	}
	copy(a.state.Data[offset:], data)
	return nil
}

func (a *AccountRef) Resize(size int) {
	resized := make([]byte, size)
	copy(resized, a.state.Data)
	a.state.Data = resized
}

// Debit removes lamports from the account.
func (a *AccountRef) Debit(lamports uint64) error {
	if a.state.Lamports < lamports {
		return solana.InstructionErrorInsufficientFunds
	}
	a.state.Lamports -= lamports
	return nil
}

// Credit adds lamports to the account.
func (a *AccountRef) Credit(lamports uint64) error {
	if a.state.Lamports+lamports < a.state.Lamports {
		return solana.InstructionErrorArithmeticOverflow
	}
	a.state.Lamports += lamports
	return nil
}

func (a *AccountRef) String() string {
	return base58.Encode(a.Key)
}

// TransferLamports moves lamports between two accounts.
func TransferLamports(from, to *AccountRef, lamports uint64) error {
	if err := from.Debit(lamports); err != nil {
		return err
	}
	return to.Credit(lamports)
}
