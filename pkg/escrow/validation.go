package escrow

import (
	"bytes"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

func checkProgramAccounts(ataProgram, tokenProgram, systemProgram *runtime.AccountRef) error {
	if !bytes.Equal(ataProgram.Key, ASSOCIATED_TOKEN_PROGRAM_ID) {
		return solana.InstructionErrorIncorrectProgramID
	}
	if !token.IsTokenProgram(tokenProgram.Key) {
		return solana.InstructionErrorIncorrectProgramID
	}
	if !bytes.Equal(systemProgram.Key, SYSTEM_PROGRAM_ID) {
		return solana.InstructionErrorIncorrectProgramID
	}
	return nil
}

func loadMint(ref *runtime.AccountRef, tokenProgram ed25519.PublicKey) (*token.Mint, error) {
	if !ref.IsOwnedBy(tokenProgram) {
		return nil, solana.InstructionErrorIncorrectProgramID
	}

	var mint token.Mint
	if !mint.Unmarshal(ref.Data()) || !mint.IsInitialized {
		return nil, solana.InstructionErrorInvalidAccountData
	}
	return &mint, nil
}

// loadTokenAccount decodes a token account, returning nil if the account has
// not been allocated yet.
func loadTokenAccount(ref *runtime.AccountRef, tokenProgram ed25519.PublicKey) (*token.Account, error) {
	if !isAllocated(ref) {
		return nil, nil
	}
	if !ref.IsOwnedBy(tokenProgram) {
		return nil, solana.InstructionErrorIllegalOwner
	}

	var account token.Account
	if !account.Unmarshal(ref.Data()) {
		return nil, solana.InstructionErrorInvalidAccountData
	}
	if account.State == token.AccountStateUninitialized {
		return nil, solana.InstructionErrorUninitializedAccount
	}
	return &account, nil
}

// checkAssociatedAccount verifies ref is the associated token account of
// (wallet, mint). If required is false the account may not exist yet, in which
// case a nil account is returned.
func checkAssociatedAccount(ic *runtime.InvokeContext, ref *runtime.AccountRef, wallet, mint, tokenProgram ed25519.PublicKey, required bool) (*token.Account, error) {
	account, err := loadTokenAccount(ref, tokenProgram)
	if err != nil {
		return nil, err
	}

	if account == nil {
		if required {
			ic.Log("Token account %s is not initialized", ref)
			return nil, solana.InstructionErrorUninitializedAccount
		}
	} else {
		if !bytes.Equal(account.Mint, mint) {
			ic.Log("Token account %s has the wrong mint", ref)
			return nil, ErrorWrongMint
		}
		if !bytes.Equal(account.Owner, wallet) {
			ic.Log("Token account %s has the wrong owner", ref)
			return nil, ErrorWrongOwner
		}
	}

	if err := checkAssociatedAddress(ic, ref, wallet, mint, tokenProgram); err != nil {
		return nil, err
	}
	return account, nil
}

func checkAssociatedAddress(ic *runtime.InvokeContext, ref *runtime.AccountRef, wallet, mint, tokenProgram ed25519.PublicKey) error {
	expected, _, err := ic.FindProgramAddress(ASSOCIATED_TOKEN_PROGRAM_ID, wallet, tokenProgram, mint)
	if err != nil {
		return err
	}
	if !bytes.Equal(expected, ref.Key) {
		ic.Log("%s is not the associated token account of %s", ref, base58.Encode(wallet))
		return ErrorAddressMismatch
	}
	return nil
}

// isAllocated reports whether an account has been claimed by a program. An
// account holding only lamports can still be allocated.
func isAllocated(ref *runtime.AccountRef) bool {
	return !ref.IsOwnedBy(SYSTEM_PROGRAM_ID) || len(ref.Data()) > 0
}

func createAssociatedTokenAccount(funder, wallet, mint, tokenProgram ed25519.PublicKey, idempotent bool) (solana.Instruction, error) {
	ix, _, err := token.CreateAssociatedTokenAccountForProgram(funder, wallet, mint, tokenProgram, idempotent)
	if err != nil {
		return solana.Instruction{}, solana.InstructionErrorInvalidSeeds
	}
	return withoutRentSysvar(ix), nil
}

// withoutRentSysvar removes the rent sysvar from an instruction's accounts. The
// associated token account program no longer reads it, and the escrow
// instructions don't pass it.
func withoutRentSysvar(ix solana.Instruction) solana.Instruction {
	accounts := make([]solana.AccountMeta, 0, len(ix.Accounts))
	for _, account := range ix.Accounts {
		if !bytes.Equal(account.PublicKey, system.RentSysVar) {
			accounts = append(accounts, account)
		}
	}
	ix.Accounts = accounts
	return ix
}

func offerSeeds(maker ed25519.PublicKey, id uint64) [][]byte {
	return [][]byte{OfferPrefix, maker, idSeed(id)}
}

func offerSignerSeeds(offer *OfferAccount) [][]byte {
	return append(offerSeeds(offer.Maker, offer.Id), []byte{offer.Bump})
}
