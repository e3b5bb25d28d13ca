package runtime

import (
	"bytes"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

const associatedTokenAccountUnits = 2000

// processAssociatedTokenAccountInstruction implements Create and
// CreateIdempotent of the associated token account program.
//
// Accounts:
//  0. [writable, signer] Funding account
//  1. [writable] Associated token account address
//  2. [] Wallet address
//  3. [] Token mint
//  4. [] System program
//  5. [] Token program
//  6. [] Rent sysvar (optional)
func processAssociatedTokenAccountInstruction(ic *InvokeContext, accounts []*AccountRef, data []byte) error {
	if err := ic.ConsumeCompute(associatedTokenAccountUnits); err != nil {
		return err
	}

	idempotent, err := token.IsCreateIdempotent(data)
	if err != nil {
		return solana.InstructionErrorInvalidInstructionData
	}
	if idempotent {
		ic.Log("CreateIdempotent")
	} else {
		ic.Log("Create")
	}

	if len(accounts) < 6 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}
	funder, associated, wallet, mint, tokenProgram := accounts[0], accounts[1], accounts[2], accounts[3], accounts[5]

	if !token.IsTokenProgram(tokenProgram.Key) {
		return solana.InstructionErrorIncorrectProgramID
	}

	address, bump, err := ic.FindProgramAddress(ic.ProgramID(), wallet.Key, tokenProgram.Key, mint.Key)
	if err != nil {
		return err
	}
	if !bytes.Equal(address, associated.Key) {
		ic.Log("Error: Associated address does not match seed derivation")
		return solana.InstructionErrorInvalidSeeds
	}

	if idempotent && associated.IsOwnedBy(tokenProgram.Key) {
		var existing token.Account
		if existing.Unmarshal(associated.Data()) &&
			bytes.Equal(existing.Owner, wallet.Key) &&
			bytes.Equal(existing.Mint, mint.Key) {
			return nil
		}
		return solana.InstructionErrorIllegalOwner
	}

	if !associated.IsOwnedBy(system.ProgramKey[:]) {
		return solana.InstructionErrorIllegalOwner
	}
	if !mint.IsOwnedBy(tokenProgram.Key) {
		return solana.InstructionErrorIncorrectProgramID
	}

	signerSeeds := [][]byte{wallet.Key, tokenProgram.Key, mint.Key, {bump}}
	required := ic.MinimumBalanceForRentExemption(token.AccountSize)

	// Accounts may have been pre-funded, in which case only the remainder is
	// transferred before allocating.
	if associated.Lamports() > 0 {
		if associated.Lamports() < required {
			err := ic.Invoke(system.Transfer(funder.Key, associated.Key, required-associated.Lamports()))
			if err != nil {
				return err
			}
		}
		if err := ic.Invoke(system.Allocate(associated.Key, token.AccountSize), signerSeeds); err != nil {
			return err
		}
		if err := ic.Invoke(system.Assign(associated.Key, tokenProgram.Key), signerSeeds); err != nil {
			return err
		}
	} else {
		err := ic.Invoke(
			system.CreateAccount(funder.Key, associated.Key, tokenProgram.Key, required, token.AccountSize),
			signerSeeds,
		)
		if err != nil {
			return err
		}
	}

	ic.Log("Initialize the associated token account")
	return ic.Invoke(token.InitializeAccount3(tokenProgram.Key, associated.Key, mint.Key, wallet.Key))
}
