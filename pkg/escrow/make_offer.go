package escrow

import (
	"bytes"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/system"
)

type makeOfferAccounts struct {
	maker              *runtime.AccountRef
	tokenMintA         *runtime.AccountRef
	tokenMintB         *runtime.AccountRef
	makerTokenAccountA *runtime.AccountRef
	offer              *runtime.AccountRef
	vault              *runtime.AccountRef
	ataProgram         *runtime.AccountRef
	tokenProgram       *runtime.AccountRef
	systemProgram      *runtime.AccountRef
}

func (p *Program) parseMakeOfferAccounts(accounts []*runtime.AccountRef) (*makeOfferAccounts, error) {
	expected := 8
	if p.strategy == StrategyVault {
		expected++
	}
	if len(accounts) < expected {
		return nil, solana.InstructionErrorNotEnoughAccountKeys
	}

	parsed := &makeOfferAccounts{
		maker:              accounts[0],
		tokenMintA:         accounts[1],
		tokenMintB:         accounts[2],
		makerTokenAccountA: accounts[3],
		offer:              accounts[4],
	}

	remaining := accounts[5:]
	if p.strategy == StrategyVault {
		parsed.vault = remaining[0]
		remaining = remaining[1:]
	}
	parsed.ataProgram = remaining[0]
	parsed.tokenProgram = remaining[1]
	parsed.systemProgram = remaining[2]

	return parsed, nil
}

func (p *Program) makeOffer(ic *runtime.InvokeContext, refs []*runtime.AccountRef, args *MakeOfferInstructionArgs) error {
	accounts, err := p.parseMakeOfferAccounts(refs)
	if err != nil {
		return err
	}

	if !accounts.maker.IsSigner {
		return solana.InstructionErrorMissingRequiredSignature
	}
	if err := checkProgramAccounts(accounts.ataProgram, accounts.tokenProgram, accounts.systemProgram); err != nil {
		return err
	}

	if args.TokenAOfferedAmount == 0 || args.TokenBWantedAmount == 0 {
		ic.Log("Offered and wanted amounts must be non-zero")
		return ErrorInvalidAmount
	}

	mintA, err := loadMint(accounts.tokenMintA, accounts.tokenProgram.Key)
	if err != nil {
		return err
	}
	if _, err := loadMint(accounts.tokenMintB, accounts.tokenProgram.Key); err != nil {
		return err
	}

	makerTokenAccountA, err := checkAssociatedAccount(
		ic,
		accounts.makerTokenAccountA,
		accounts.maker.Key,
		accounts.tokenMintA.Key,
		accounts.tokenProgram.Key,
		true,
	)
	if err != nil {
		return err
	}

	seeds := offerSeeds(accounts.maker.Key, args.Id)
	address, bump, err := ic.FindProgramAddress(ic.ProgramID(), seeds...)
	if err != nil {
		return err
	}
	if !bytes.Equal(address, accounts.offer.Key) {
		ic.Log("Offer %s is not at its derived address", accounts.offer)
		return ErrorAddressMismatch
	}
	if isAllocated(accounts.offer) {
		ic.Log("Offer %s is already in use", accounts.offer)
		return ErrorOfferAlreadyExists
	}

	if makerTokenAccountA.Amount < args.TokenAOfferedAmount {
		ic.Log("Maker holds %d, but offered %d", makerTokenAccountA.Amount, args.TokenAOfferedAmount)
		return ErrorInsufficientBalance
	}

	if err := p.delivery.validateMake(ic, accounts); err != nil {
		return err
	}

	err = createProgramAccount(
		ic,
		accounts.maker,
		accounts.offer,
		OfferAccountSize,
		append(seeds, []byte{bump}),
	)
	if err != nil {
		return err
	}

	if err := p.delivery.commitA(ic, accounts, args.TokenAOfferedAmount, mintA.Decimals); err != nil {
		return err
	}

	offer := &OfferAccount{
		Id:                  args.Id,
		Maker:               accounts.maker.Key,
		TokenMintA:          accounts.tokenMintA.Key,
		TokenMintB:          accounts.tokenMintB.Key,
		TokenAOfferedAmount: args.TokenAOfferedAmount,
		TokenBWantedAmount:  args.TokenBWantedAmount,
		Bump:                bump,
	}
	return accounts.offer.CopyData(0, offer.Marshal())
}

// createProgramAccount allocates a rent exempt account owned by the current
// program at a program derived address, paid for by funder. The address may
// already hold lamports.
func createProgramAccount(ic *runtime.InvokeContext, funder, account *runtime.AccountRef, size int, signerSeeds [][]byte) error {
	rent := ic.MinimumBalanceForRentExemption(size)

	if account.Lamports() == 0 {
		return ic.Invoke(
			system.CreateAccount(funder.Key, account.Key, ic.ProgramID(), rent, uint64(size)),
			signerSeeds,
		)
	}

	if account.Lamports() < rent {
		if err := ic.Invoke(system.Transfer(funder.Key, account.Key, rent-account.Lamports())); err != nil {
			return err
		}
	}
	if err := ic.Invoke(system.Allocate(account.Key, uint64(size)), signerSeeds); err != nil {
		return err
	}
	return ic.Invoke(system.Assign(account.Key, ic.ProgramID()), signerSeeds)
}
