package runtime

import (
	"crypto/ed25519"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

const systemProgramUnits = 150

func processSystemInstruction(ic *InvokeContext, accounts []*AccountRef, data []byte) error {
	if err := ic.ConsumeCompute(systemProgramUnits); err != nil {
		return err
	}

	command, err := system.GetCommand(data)
	if err != nil {
		return solana.InstructionErrorInvalidInstructionData
	}

	switch command {
	case system.CommandCreateAccount:
		lamports, size, owner, err := system.ParseCreateAccountIxnData(data)
		if err != nil {
			return solana.InstructionErrorInvalidInstructionData
		}
		if len(accounts) < 2 {
			return solana.InstructionErrorNotEnoughAccountKeys
		}
		return systemCreateAccount(ic, accounts[0], accounts[1], lamports, size, owner)

	case system.CommandTransfer:
		lamports, err := system.ParseTransferIxnData(data)
		if err != nil {
			return solana.InstructionErrorInvalidInstructionData
		}
		if len(accounts) < 2 {
			return solana.InstructionErrorNotEnoughAccountKeys
		}
		return systemTransfer(ic, accounts[0], accounts[1], lamports)

	case system.CommandAssign:
		owner, err := system.ParseAssignIxnData(data)
		if err != nil {
			return solana.InstructionErrorInvalidInstructionData
		}
		if len(accounts) < 1 {
			return solana.InstructionErrorNotEnoughAccountKeys
		}
		return systemAssign(ic, accounts[0], owner)

	case system.CommandAllocate:
		size, err := system.ParseAllocateIxnData(data)
		if err != nil {
			return solana.InstructionErrorInvalidInstructionData
		}
		if len(accounts) < 1 {
			return solana.InstructionErrorNotEnoughAccountKeys
		}
		return systemAllocate(ic, accounts[0], size)

	default:
		return solana.InstructionErrorInvalidInstructionData
	}
}

func systemCreateAccount(ic *InvokeContext, funder, account *AccountRef, lamports, size uint64, owner ed25519.PublicKey) error {
	// An account with lamports is in use, even if it holds no data
	if account.Lamports() > 0 {
		ic.Log("Create Account: account %s already in use", account)
		return system.ErrorAccountAlreadyInUse
	}

	if err := systemAllocate(ic, account, size); err != nil {
		return err
	}
	if err := systemAssign(ic, account, owner); err != nil {
		return err
	}
	return systemTransfer(ic, funder, account, lamports)
}

func systemTransfer(ic *InvokeContext, from, to *AccountRef, lamports uint64) error {
	if !from.IsSigner {
		ic.Log("Transfer: `from` account %s must sign", from)
		return solana.InstructionErrorMissingRequiredSignature
	}
	if len(from.Data()) > 0 {
		ic.Log("Transfer: `from` must not carry data")
		return solana.InstructionErrorInvalidArgument
	}
	if from.Lamports() < lamports {
		ic.Log("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return system.ErrorResultWithNegativeLamports
	}
	return TransferLamports(from, to, lamports)
}

func systemAssign(ic *InvokeContext, account *AccountRef, owner ed25519.PublicKey) error {
	if account.IsOwnedBy(owner) {
		return nil
	}
	if !account.IsSigner {
		ic.Log("Assign: account %s must sign", account)
		return solana.InstructionErrorMissingRequiredSignature
	}
	account.SetOwner(owner)
	return nil
}

func systemAllocate(ic *InvokeContext, account *AccountRef, size uint64) error {
	if !account.IsSigner {
		ic.Log("Allocate: 'to' account %s must sign", account)
		return solana.InstructionErrorMissingRequiredSignature
	}
	if len(account.Data()) > 0 || !account.IsOwnedBy(system.ProgramKey[:]) {
		ic.Log("Allocate: account %s already in use", account)
		return system.ErrorAccountAlreadyInUse
	}
	if size > system.MaxPermittedDataLength {
		ic.Log("Allocate: requested %d, max allowed %d", size, system.MaxPermittedDataLength)
		return system.ErrorInvalidAccountDataLength
	}

	account.Resize(int(size))
	return nil
}
