package escrow

import (
	"bytes"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
)

type takeOfferAccounts struct {
	taker              *runtime.AccountRef
	maker              *runtime.AccountRef
	tokenMintA         *runtime.AccountRef
	tokenMintB         *runtime.AccountRef
	takerTokenAccountA *runtime.AccountRef
	takerTokenAccountB *runtime.AccountRef
	makerTokenAccountA *runtime.AccountRef
	makerTokenAccountB *runtime.AccountRef
	offer              *runtime.AccountRef
	vault              *runtime.AccountRef
	ataProgram         *runtime.AccountRef
	tokenProgram       *runtime.AccountRef
	systemProgram      *runtime.AccountRef
}

func (p *Program) parseTakeOfferAccounts(accounts []*runtime.AccountRef) (*takeOfferAccounts, error) {
	expected := 12
	if p.strategy == StrategyVault {
		expected++
	}
	if len(accounts) < expected {
		return nil, solana.InstructionErrorNotEnoughAccountKeys
	}

	parsed := &takeOfferAccounts{
		taker:              accounts[0],
		maker:              accounts[1],
		tokenMintA:         accounts[2],
		tokenMintB:         accounts[3],
		takerTokenAccountA: accounts[4],
		takerTokenAccountB: accounts[5],
		makerTokenAccountA: accounts[6],
		makerTokenAccountB: accounts[7],
		offer:              accounts[8],
	}

	remaining := accounts[9:]
	if p.strategy == StrategyVault {
		parsed.vault = remaining[0]
		remaining = remaining[1:]
	}
	parsed.ataProgram = remaining[0]
	parsed.tokenProgram = remaining[1]
	parsed.systemProgram = remaining[2]

	return parsed, nil
}

func (p *Program) takeOffer(ic *runtime.InvokeContext, refs []*runtime.AccountRef) error {
	accounts, err := p.parseTakeOfferAccounts(refs)
	if err != nil {
		return err
	}

	if !accounts.taker.IsSigner {
		return solana.InstructionErrorMissingRequiredSignature
	}
	if err := checkProgramAccounts(accounts.ataProgram, accounts.tokenProgram, accounts.systemProgram); err != nil {
		return err
	}

	offer, err := p.loadOffer(ic, accounts.offer)
	if err != nil {
		return err
	}

	if !bytes.Equal(offer.Maker, accounts.maker.Key) {
		ic.Log("Maker %s does not match the offer", accounts.maker)
		return ErrorOfferFieldMismatch
	}
	if !accounts.maker.IsOwnedBy(SYSTEM_PROGRAM_ID) {
		return ErrorWrongOwner
	}
	if !bytes.Equal(offer.TokenMintA, accounts.tokenMintA.Key) || !bytes.Equal(offer.TokenMintB, accounts.tokenMintB.Key) {
		ic.Log("Mints do not match the offer")
		return ErrorOfferMintMismatch
	}

	mintA, err := loadMint(accounts.tokenMintA, accounts.tokenProgram.Key)
	if err != nil {
		return err
	}
	mintB, err := loadMint(accounts.tokenMintB, accounts.tokenProgram.Key)
	if err != nil {
		return err
	}

	tokenProgram := accounts.tokenProgram.Key
	checks := []struct {
		ref      *runtime.AccountRef
		wallet   *runtime.AccountRef
		mint     *runtime.AccountRef
		required bool
	}{
		{accounts.takerTokenAccountA, accounts.taker, accounts.tokenMintA, false},
		{accounts.takerTokenAccountB, accounts.taker, accounts.tokenMintB, true},
		{accounts.makerTokenAccountA, accounts.maker, accounts.tokenMintA, true},
		{accounts.makerTokenAccountB, accounts.maker, accounts.tokenMintB, false},
	}
	for _, check := range checks {
		if _, err := checkAssociatedAccount(ic, check.ref, check.wallet.Key, check.mint.Key, tokenProgram, check.required); err != nil {
			return err
		}
	}

	takerTokenAccountB, err := loadTokenAccount(accounts.takerTokenAccountB, tokenProgram)
	if err != nil {
		return err
	}
	if takerTokenAccountB.Amount < offer.TokenBWantedAmount {
		ic.Log("Taker holds %d, but %d is wanted", takerTokenAccountB.Amount, offer.TokenBWantedAmount)
		return ErrorInsufficientBalance
	}

	if err := p.delivery.validateTake(ic, accounts, offer); err != nil {
		return err
	}

	// Destination accounts are created on demand at the taker's expense
	for _, destination := range []struct {
		ref    *runtime.AccountRef
		wallet *runtime.AccountRef
		mint   *runtime.AccountRef
	}{
		{accounts.takerTokenAccountA, accounts.taker, accounts.tokenMintA},
		{accounts.makerTokenAccountB, accounts.maker, accounts.tokenMintB},
	} {
		if isAllocated(destination.ref) {
			continue
		}

		create, err := createAssociatedTokenAccount(
			accounts.taker.Key,
			destination.wallet.Key,
			destination.mint.Key,
			tokenProgram,
			true,
		)
		if err != nil {
			return err
		}
		if err := ic.Invoke(create); err != nil {
			return err
		}
	}

	if err := p.delivery.releaseB(ic, accounts, offer, mintB.Decimals); err != nil {
		return err
	}
	if err := p.delivery.releaseA(ic, accounts, offer, mintA.Decimals); err != nil {
		return err
	}

	return closeProgramAccount(accounts.offer, accounts.maker)
}

// loadOffer decodes an offer owned by the current program and verifies it is
// stored at the address derived from its own fields.
func (p *Program) loadOffer(ic *runtime.InvokeContext, ref *runtime.AccountRef) (*OfferAccount, error) {
	if !ref.IsOwnedBy(ic.ProgramID()) {
		ic.Log("Offer %s does not exist", ref)
		return nil, ErrorOfferNotFound
	}

	var offer OfferAccount
	if err := offer.Unmarshal(ref.Data()); err != nil {
		ic.Log("Offer %s does not exist", ref)
		return nil, ErrorOfferNotFound
	}

	address, err := ic.CreateProgramAddress(ic.ProgramID(), offerSignerSeeds(&offer)...)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(address, ref.Key) {
		ic.Log("Offer %s is not at its derived address", ref)
		return nil, ErrorAddressMismatch
	}

	return &offer, nil
}

// closeProgramAccount returns an account owned by the current program to the
// system program, refunding its lamports to destination.
func closeProgramAccount(account, destination *runtime.AccountRef) error {
	if err := runtime.TransferLamports(account, destination, account.Lamports()); err != nil {
		return err
	}
	account.SetData(nil)
	account.SetOwner(SYSTEM_PROGRAM_ID)
	return nil
}
