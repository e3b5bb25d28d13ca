package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"fmt"
	"math"

	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

const (
	// Compute units charged by the runtime itself.
	createProgramAddressUnits = 1500
	invokeUnits               = 1000
)

// Program is an executable program hosted by the runtime.
//
// Process is called with the instruction's accounts in the order the caller
// supplied them. Returning an error aborts the whole transaction. Programs
// should return solana.CustomError or solana.InstructionErrorKey values so
// that callers can classify the failure.
type Program interface {
	Process(ic *InvokeContext, accounts []*AccountRef, data []byte) error
}

// ProgramFunc adapts an ordinary function to a Program.
type ProgramFunc func(ic *InvokeContext, accounts []*AccountRef, data []byte) error

func (f ProgramFunc) Process(ic *InvokeContext, accounts []*AccountRef, data []byte) error {
	return f(ic, accounts, data)
}

type transactionContext struct {
	accounts map[string]*solana.AccountInfo

	computeLimit uint64
	computeUsed  uint64

	logs []string
}

type frame struct {
	program  ed25519.PublicKey
	accounts []*AccountRef

	// Unique accounts of the frame with aggregated privileges, and their state
	// at the point the frame was last verified.
	writable map[string]bool
	signer   map[string]bool
	pre      map[string]*solana.AccountInfo
}

func newFrame(program ed25519.PublicKey, accounts []*AccountRef, tx *transactionContext) *frame {
	f := &frame{
		program:  program,
		accounts: accounts,
		writable: make(map[string]bool),
		signer:   make(map[string]bool),
	}
	for _, account := range accounts {
		key := string(account.Key)
		f.writable[key] = f.writable[key] || account.IsWritable
		f.signer[key] = f.signer[key] || account.IsSigner
	}
	f.snapshot(tx)
	return f
}

func (f *frame) snapshot(tx *transactionContext) {
	f.pre = make(map[string]*solana.AccountInfo, len(f.writable))
	for key := range f.writable {
		f.pre[key] = tx.accounts[key].Clone()
	}
}

func (f *frame) find(key ed25519.PublicKey) *AccountRef {
	for _, account := range f.accounts {
		if bytes.Equal(account.Key, key) {
			return account
		}
	}
	return nil
}

// InvokeContext is the execution environment of a single top level
// instruction, including every cross-program invocation it makes.
type InvokeContext struct {
	ctx      context.Context
	rt       *Runtime
	tx       *transactionContext
	stack    []*frame
	maxDepth int
}

// Context returns the context of the transaction being processed.
func (ic *InvokeContext) Context() context.Context {
	return ic.ctx
}

// ProgramID returns the program currently executing.
func (ic *InvokeContext) ProgramID() ed25519.PublicKey {
	return ic.current().program
}

func (ic *InvokeContext) current() *frame {
	return ic.stack[len(ic.stack)-1]
}

// Log records a program log line for the transaction.
func (ic *InvokeContext) Log(format string, args ...interface{}) {
	ic.tx.logs = append(ic.tx.logs, "Program log: "+fmt.Sprintf(format, args...))
}

// ConsumeCompute charges units against the transaction's compute budget.
func (ic *InvokeContext) ConsumeCompute(units uint64) error {
	if ic.tx.computeUsed+units > ic.tx.computeLimit || ic.tx.computeUsed+units < ic.tx.computeUsed {
		ic.tx.computeUsed = ic.tx.computeLimit
		return solana.InstructionErrorComputationalBudgetExceeded
	}
	ic.tx.computeUsed += units
	return nil
}

// RemainingCompute returns the compute units left in the transaction's budget.
func (ic *InvokeContext) RemainingCompute() uint64 {
	return ic.tx.computeLimit - ic.tx.computeUsed
}

// MinimumBalanceForRentExemption returns the rent exempt minimum for an
// account holding dataLen bytes.
func (ic *InvokeContext) MinimumBalanceForRentExemption(dataLen int) uint64 {
	return MinimumBalanceForRentExemption(uint64(dataLen))
}

// CreateProgramAddress derives a program address, charging compute for the
// derivation.
func (ic *InvokeContext) CreateProgramAddress(program ed25519.PublicKey, seeds ...[]byte) (ed25519.PublicKey, error) {
	if err := ic.ConsumeCompute(createProgramAddressUnits); err != nil {
		return nil, err
	}

	address, err := solana.CreateProgramAddress(program, seeds...)
	switch err {
	case nil:
		return address, nil
	case solana.ErrMaxSeedLengthExceeded, solana.ErrTooManySeeds:
		return nil, solana.InstructionErrorMaxSeedLengthExceeded
	default:
		return nil, solana.InstructionErrorInvalidSeeds
	}
}

// FindProgramAddress searches for the canonical bump of a program address,
// charging compute for every attempt.
func (ic *InvokeContext) FindProgramAddress(program ed25519.PublicKey, seeds ...[]byte) (ed25519.PublicKey, uint8, error) {
	bump := []byte{math.MaxUint8}
	for i := 0; i < math.MaxUint8; i++ {
		address, err := ic.CreateProgramAddress(program, append(seeds, bump)...)
		if err == nil {
			return address, bump[0], nil
		}
		if err != solana.InstructionErrorInvalidSeeds {
			return nil, 0, err
		}

		bump[0]--
	}
	return nil, 0, solana.InstructionErrorInvalidSeeds
}

// Invoke executes an instruction of another program on behalf of the current
// program. Every account of the instruction must have been passed to the
// current program. Accounts keep the privileges granted to the caller, plus
// signer privilege for each program address derived from the current program
// and one set of signerSeeds.
func (ic *InvokeContext) Invoke(ix solana.Instruction, signerSeeds ...[][]byte) error {
	caller := ic.current()

	if err := ic.ConsumeCompute(invokeUnits); err != nil {
		return err
	}

	// The caller's own changes are checked before the callee can observe them
	if err := ic.verify(caller); err != nil {
		return err
	}

	var derivedSigners []ed25519.PublicKey
	for _, seeds := range signerSeeds {
		address, err := ic.CreateProgramAddress(caller.program, seeds...)
		if err != nil {
			return err
		}
		derivedSigners = append(derivedSigners, address)
	}

	if caller.find(ix.Program) == nil {
		ic.Log("Unknown program %s", base58.Encode(ix.Program))
		return solana.InstructionErrorMissingAccount
	}

	accounts := make([]*AccountRef, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		callerAccount := caller.find(meta.PublicKey)
		if callerAccount == nil {
			ic.Log("Instruction references an unknown account %s", base58.Encode(meta.PublicKey))
			return solana.InstructionErrorMissingAccount
		}

		key := string(meta.PublicKey)
		if meta.IsWritable && !caller.writable[key] {
			ic.Log("%s's writable privilege escalated", base58.Encode(meta.PublicKey))
			return solana.InstructionErrorPrivilegeEscalation
		}
		if meta.IsSigner && !caller.signer[key] && !containsKey(derivedSigners, meta.PublicKey) {
			ic.Log("%s's signer privilege escalated", base58.Encode(meta.PublicKey))
			return solana.InstructionErrorPrivilegeEscalation
		}

		accounts[i] = &AccountRef{
			Key:        callerAccount.Key,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
			state:      callerAccount.state,
		}
	}

	err := ic.execute(ix.Program, accounts, ix.Data)

	// Changes made by the callee were verified against the callee's privileges
	caller.snapshot(ic.tx)

	return err
}

func (ic *InvokeContext) execute(programID ed25519.PublicKey, accounts []*AccountRef, data []byte) error {
	program, ok := ic.rt.programs[string(programID)]
	if !ok {
		return solana.InstructionErrorUnsupportedProgramID
	}

	depth := len(ic.stack) + 1
	if depth > ic.maxDepth {
		return solana.InstructionErrorCallDepth
	}
	for i, f := range ic.stack {
		// Only direct recursion is permitted
		if bytes.Equal(f.program, programID) && i != len(ic.stack)-1 {
			return solana.InstructionErrorReentrancyNotAllowed
		}
	}

	encodedID := base58.Encode(programID)
	ic.tx.logs = append(ic.tx.logs, fmt.Sprintf("Program %s invoke [%d]", encodedID, depth))

	f := newFrame(programID, accounts, ic.tx)
	ic.stack = append(ic.stack, f)

	before := ic.tx.computeUsed
	err := program.Process(ic, accounts, data)
	if err == nil {
		err = ic.verify(f)
	}

	ic.stack = ic.stack[:len(ic.stack)-1]

	ic.tx.logs = append(ic.tx.logs, fmt.Sprintf(
		"Program %s consumed %d of %d compute units",
		encodedID,
		ic.tx.computeUsed-before,
		ic.tx.computeLimit-before,
	))
	if err != nil {
		ic.tx.logs = append(ic.tx.logs, fmt.Sprintf("Program %s failed: %s", encodedID, err.Error()))
		return err
	}
	ic.tx.logs = append(ic.tx.logs, fmt.Sprintf("Program %s success", encodedID))
	return nil
}

// verify checks that every change made while the frame's program was in
// control is one the program was permitted to make.
func (ic *InvokeContext) verify(f *frame) error {
	var preTotal, postTotal uint64
	for key, pre := range f.pre {
		post := ic.tx.accounts[key]

		preTotal += pre.Lamports
		postTotal += post.Lamports

		if pre.Equal(post) {
			continue
		}

		writable := f.writable[key]
		isOwner := bytes.Equal(pre.Owner, f.program)

		if pre.Executable != post.Executable {
			return solana.InstructionErrorExecutableModified
		}
		if pre.Executable {
			if pre.Lamports != post.Lamports {
				return solana.InstructionErrorExecutableLamportChange
			}
			return solana.InstructionErrorExecutableDataModified
		}

		if !bytes.Equal(pre.Owner, post.Owner) {
			if !writable || !isOwner || !isZeroed(post.Data) {
				return solana.InstructionErrorModifiedProgramID
			}
		}

		if pre.Lamports != post.Lamports {
			if !writable {
				return solana.InstructionErrorReadonlyLamportChange
			}
			if post.Lamports < pre.Lamports && !isOwner {
				return solana.InstructionErrorExternalAccountLamportSpend
			}
		}

		if !bytes.Equal(pre.Data, post.Data) || len(pre.Data) != len(post.Data) {
			if !writable {
				return solana.InstructionErrorReadonlyDataModified
			}
			if !isOwner {
				return solana.InstructionErrorExternalAccountDataModified
			}
			if len(post.Data) > system.MaxPermittedDataLength {
				return solana.InstructionErrorInvalidRealloc
			}
		}
	}

	if preTotal != postTotal {
		return solana.InstructionErrorUnbalancedInstruction
	}
	return nil
}

func isZeroed(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, k := range keys {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}
