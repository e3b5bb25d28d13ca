package escrow

import (
	"bytes"

	"github.com/code-payments/code-escrow/pkg/solana/runtime"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// delivery moves tokens between the parties of an offer. Both strategies
// provide the same guarantees: once commitA succeeds, the offered token A can
// only leave the maker's control through releaseA for the same offer.
type delivery interface {
	// validateMake checks the strategy specific accounts of a MakeOffer.
	validateMake(ic *runtime.InvokeContext, accounts *makeOfferAccounts) error

	// commitA reserves amount of token A for the offer.
	commitA(ic *runtime.InvokeContext, accounts *makeOfferAccounts, amount uint64, decimals uint8) error

	// validateTake checks that the token A committed to the offer is still
	// available to the taker.
	validateTake(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount) error

	// releaseB moves the wanted token B from the taker to the maker.
	releaseB(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error

	// releaseA moves the offered token A to the taker.
	releaseA(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error
}

func newDelivery(strategy Strategy) delivery {
	switch strategy {
	case StrategyApprove:
		return &approveDelivery{}
	default:
		return &vaultDelivery{}
	}
}

// vaultDelivery holds token A in an associated token account of the offer.
type vaultDelivery struct{}

func (d *vaultDelivery) validateMake(ic *runtime.InvokeContext, accounts *makeOfferAccounts) error {
	if err := checkAssociatedAddress(ic, accounts.vault, accounts.offer.Key, accounts.tokenMintA.Key, accounts.tokenProgram.Key); err != nil {
		return err
	}
	if isAllocated(accounts.vault) {
		ic.Log("Vault %s is already in use", accounts.vault)
		return ErrorOfferAlreadyExists
	}
	return nil
}

func (d *vaultDelivery) commitA(ic *runtime.InvokeContext, accounts *makeOfferAccounts, amount uint64, decimals uint8) error {
	createVault, err := createAssociatedTokenAccount(
		accounts.maker.Key,
		accounts.offer.Key,
		accounts.tokenMintA.Key,
		accounts.tokenProgram.Key,
		false,
	)
	if err != nil {
		return err
	}
	if err := ic.Invoke(createVault); err != nil {
		return err
	}

	return ic.Invoke(token.TransferChecked(
		accounts.tokenProgram.Key,
		accounts.makerTokenAccountA.Key,
		accounts.tokenMintA.Key,
		accounts.vault.Key,
		accounts.maker.Key,
		amount,
		decimals,
	))
}

func (d *vaultDelivery) validateTake(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount) error {
	vault, err := checkAssociatedAccount(ic, accounts.vault, accounts.offer.Key, accounts.tokenMintA.Key, accounts.tokenProgram.Key, true)
	if err != nil {
		return err
	}
	if vault.Amount < offer.TokenAOfferedAmount {
		return ErrorInsufficientBalance
	}
	return nil
}

func (d *vaultDelivery) releaseB(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error {
	return ic.Invoke(token.TransferChecked(
		accounts.tokenProgram.Key,
		accounts.takerTokenAccountB.Key,
		accounts.tokenMintB.Key,
		accounts.makerTokenAccountB.Key,
		accounts.taker.Key,
		offer.TokenBWantedAmount,
		decimals,
	))
}

func (d *vaultDelivery) releaseA(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error {
	seeds := offerSignerSeeds(offer)

	// Anything sent to the vault after it was funded goes to the taker, so
	// that the vault can always be closed.
	vault, err := loadTokenAccount(accounts.vault, accounts.tokenProgram.Key)
	if err != nil {
		return err
	}

	err = ic.Invoke(token.TransferChecked(
		accounts.tokenProgram.Key,
		accounts.vault.Key,
		accounts.tokenMintA.Key,
		accounts.takerTokenAccountA.Key,
		accounts.offer.Key,
		vault.Amount,
		decimals,
	), seeds)
	if err != nil {
		return err
	}

	return ic.Invoke(token.CloseAccount(
		accounts.tokenProgram.Key,
		accounts.vault.Key,
		accounts.maker.Key,
		accounts.offer.Key,
	), seeds)
}

// approveDelivery leaves token A with the maker and delegates it to the offer.
type approveDelivery struct{}

func (d *approveDelivery) validateMake(_ *runtime.InvokeContext, _ *makeOfferAccounts) error {
	return nil
}

func (d *approveDelivery) commitA(ic *runtime.InvokeContext, accounts *makeOfferAccounts, amount uint64, _ uint8) error {
	return ic.Invoke(token.Approve(
		accounts.tokenProgram.Key,
		accounts.makerTokenAccountA.Key,
		accounts.offer.Key,
		accounts.maker.Key,
		amount,
	))
}

func (d *approveDelivery) validateTake(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount) error {
	makerTokenAccountA, err := loadTokenAccount(accounts.makerTokenAccountA, accounts.tokenProgram.Key)
	if err != nil {
		return err
	}

	if makerTokenAccountA.Amount < offer.TokenAOfferedAmount {
		ic.Log("Maker no longer holds the offered amount")
		return ErrorInsufficientBalance
	}
	if !makerTokenAccountA.IsDelegatedTo(accounts.offer.Key) || makerTokenAccountA.DelegatedAmount < offer.TokenAOfferedAmount {
		ic.Log("Offer is no longer delegated the offered amount")
		return ErrorInsufficientDelegation
	}
	return nil
}

func (d *approveDelivery) releaseB(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error {
	err := ic.Invoke(token.Approve(
		accounts.tokenProgram.Key,
		accounts.takerTokenAccountB.Key,
		accounts.offer.Key,
		accounts.taker.Key,
		offer.TokenBWantedAmount,
	))
	if err != nil {
		return err
	}

	return ic.Invoke(token.TransferChecked(
		accounts.tokenProgram.Key,
		accounts.takerTokenAccountB.Key,
		accounts.tokenMintB.Key,
		accounts.makerTokenAccountB.Key,
		accounts.offer.Key,
		offer.TokenBWantedAmount,
		decimals,
	), offerSignerSeeds(offer))
}

func (d *approveDelivery) releaseA(ic *runtime.InvokeContext, accounts *takeOfferAccounts, offer *OfferAccount, decimals uint8) error {
	err := ic.Invoke(token.TransferChecked(
		accounts.tokenProgram.Key,
		accounts.makerTokenAccountA.Key,
		accounts.tokenMintA.Key,
		accounts.takerTokenAccountA.Key,
		accounts.offer.Key,
		offer.TokenAOfferedAmount,
		decimals,
	), offerSignerSeeds(offer))
	if err != nil {
		return err
	}

	return revokeOfferDelegations(ic, accounts)
}

// revokeOfferDelegations clears any delegation to the offer left on accounts
// the taker owns. Transfers between an account and itself don't consume a
// delegation, so this only has work to do when a maker takes their own offer.
func revokeOfferDelegations(ic *runtime.InvokeContext, accounts *takeOfferAccounts) error {
	for _, ref := range []*runtime.AccountRef{accounts.takerTokenAccountB, accounts.makerTokenAccountA} {
		account, err := loadTokenAccount(ref, accounts.tokenProgram.Key)
		if err != nil {
			return err
		}
		if account == nil || !account.IsDelegatedTo(accounts.offer.Key) {
			continue
		}
		if !bytes.Equal(account.Owner, accounts.taker.Key) {
			continue
		}

		err = ic.Invoke(token.Revoke(accounts.tokenProgram.Key, ref.Key, accounts.taker.Key))
		if err != nil {
			return err
		}
	}
	return nil
}
