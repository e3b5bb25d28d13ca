package runtime

import (
	"bytes"
	"crypto/ed25519"

	"github.com/code-payments/code-escrow/pkg/solana"
	"github.com/code-payments/code-escrow/pkg/solana/token"
)

// Approximate costs of the token program's instructions.
const (
	tokenInitializeUnits = 2500
	tokenTransferUnits   = 4500
	tokenDefaultUnits    = 3000
)

// processTokenInstruction implements the token program. The same processor
// serves both token program ids, and only the base mint and account layouts
// are supported. Native accounts and multisig authorities are not.
func processTokenInstruction(ic *InvokeContext, accounts []*AccountRef, data []byte) error {
	if len(data) == 0 {
		return token.ErrorInvalidInstruction
	}

	p := &tokenProcessor{ic: ic, accounts: accounts, data: data}

	switch token.Command(data[0]) {
	case token.CommandInitializeMint:
		ic.Log("Instruction: InitializeMint")
		return p.initializeMint()
	case token.CommandInitializeMint2:
		ic.Log("Instruction: InitializeMint2")
		return p.initializeMint()
	case token.CommandInitializeAccount:
		ic.Log("Instruction: InitializeAccount")
		return p.initializeAccount(token.CommandInitializeAccount)
	case token.CommandInitializeAccount2:
		ic.Log("Instruction: InitializeAccount2")
		return p.initializeAccount(token.CommandInitializeAccount2)
	case token.CommandInitializeAccount3:
		ic.Log("Instruction: InitializeAccount3")
		return p.initializeAccount(token.CommandInitializeAccount3)
	case token.CommandTransfer:
		ic.Log("Instruction: Transfer")
		return p.transfer(false)
	case token.CommandTransferChecked:
		ic.Log("Instruction: TransferChecked")
		return p.transfer(true)
	case token.CommandApprove:
		ic.Log("Instruction: Approve")
		return p.approve(false)
	case token.CommandApproveChecked:
		ic.Log("Instruction: ApproveChecked")
		return p.approve(true)
	case token.CommandRevoke:
		ic.Log("Instruction: Revoke")
		return p.revoke()
	case token.CommandSetAuthority:
		ic.Log("Instruction: SetAuthority")
		return p.setAuthority()
	case token.CommandMintTo:
		ic.Log("Instruction: MintTo")
		return p.mintTo(false)
	case token.CommandMintToChecked:
		ic.Log("Instruction: MintToChecked")
		return p.mintTo(true)
	case token.CommandBurn:
		ic.Log("Instruction: Burn")
		return p.burn(false)
	case token.CommandBurnChecked:
		ic.Log("Instruction: BurnChecked")
		return p.burn(true)
	case token.CommandCloseAccount:
		ic.Log("Instruction: CloseAccount")
		return p.closeAccount()
	case token.CommandFreezeAccount:
		ic.Log("Instruction: FreezeAccount")
		return p.setFrozen(true)
	case token.CommandThawAccount:
		ic.Log("Instruction: ThawAccount")
		return p.setFrozen(false)
	default:
		return token.ErrorInvalidInstruction
	}
}

type tokenProcessor struct {
	ic       *InvokeContext
	accounts []*AccountRef
	data     []byte
}

func (p *tokenProcessor) account(i int) (*AccountRef, error) {
	if i >= len(p.accounts) {
		return nil, solana.InstructionErrorNotEnoughAccountKeys
	}
	return p.accounts[i], nil
}

func (p *tokenProcessor) accountRange(n int) ([]*AccountRef, error) {
	if len(p.accounts) < n {
		return nil, solana.InstructionErrorNotEnoughAccountKeys
	}
	return p.accounts[:n], nil
}

func (p *tokenProcessor) initializeMint() error {
	if err := p.ic.ConsumeCompute(tokenInitializeUnits); err != nil {
		return err
	}

	decimals, mintAuthority, freezeAuthority, err := token.ParseInitializeMintIxnData(p.data)
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	mintRef, err := p.account(0)
	if err != nil {
		return err
	}
	if !mintRef.IsOwnedBy(p.ic.ProgramID()) {
		return solana.InstructionErrorIncorrectProgramID
	}
	if len(mintRef.Data()) != token.MintSize {
		return solana.InstructionErrorInvalidAccountData
	}

	var mint token.Mint
	mint.Unmarshal(mintRef.Data())
	if mint.IsInitialized {
		return token.ErrorAlreadyInUse
	}
	if mintRef.Lamports() < p.ic.MinimumBalanceForRentExemption(token.MintSize) {
		return token.ErrorNotRentExempt
	}

	mint = token.Mint{
		MintAuthority:   mintAuthority,
		Decimals:        decimals,
		IsInitialized:   true,
		FreezeAuthority: freezeAuthority,
	}
	return mintRef.CopyData(0, mint.Marshal())
}

func (p *tokenProcessor) initializeAccount(command token.Command) error {
	if err := p.ic.ConsumeCompute(tokenInitializeUnits); err != nil {
		return err
	}

	var owner ed25519.PublicKey
	switch command {
	case token.CommandInitializeAccount:
		if len(p.data) != 1 {
			return token.ErrorInvalidInstruction
		}
		ownerRef, err := p.account(2)
		if err != nil {
			return err
		}
		owner = ownerRef.Key
	default:
		if len(p.data) != 1+ed25519.PublicKeySize {
			return token.ErrorInvalidInstruction
		}
		owner = append(ed25519.PublicKey{}, p.data[1:]...)
	}

	refs, err := p.accountRange(2)
	if err != nil {
		return err
	}
	accountRef, mintRef := refs[0], refs[1]

	if !accountRef.IsOwnedBy(p.ic.ProgramID()) {
		return solana.InstructionErrorIncorrectProgramID
	}
	if len(accountRef.Data()) != token.AccountSize {
		return solana.InstructionErrorInvalidAccountData
	}

	var account token.Account
	account.Unmarshal(accountRef.Data())
	if account.State != token.AccountStateUninitialized {
		return token.ErrorAlreadyInUse
	}
	if accountRef.Lamports() < p.ic.MinimumBalanceForRentExemption(token.AccountSize) {
		return token.ErrorNotRentExempt
	}

	if _, err := p.loadMint(mintRef); err != nil {
		if err == token.ErrorUninitializedState {
			return token.ErrorInvalidMint
		}
		return err
	}

	account = token.Account{
		Mint:  append(ed25519.PublicKey{}, mintRef.Key...),
		Owner: owner,
		State: token.AccountStateInitialized,
	}
	return accountRef.CopyData(0, account.Marshal())
}

func (p *tokenProcessor) transfer(checked bool) error {
	if err := p.ic.ConsumeCompute(tokenTransferUnits); err != nil {
		return err
	}

	var amount uint64
	var decimals byte
	var err error
	var sourceRef, mintRef, destRef, authorityRef *AccountRef
	if checked {
		amount, decimals, err = token.ParseCheckedAmountIxnData(p.data)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		refs, err := p.accountRange(4)
		if err != nil {
			return err
		}
		sourceRef, mintRef, destRef, authorityRef = refs[0], refs[1], refs[2], refs[3]
	} else {
		amount, err = token.ParseAmountIxnData(p.data)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		refs, err := p.accountRange(3)
		if err != nil {
			return err
		}
		sourceRef, destRef, authorityRef = refs[0], refs[1], refs[2]
	}

	source, err := p.loadAccount(sourceRef)
	if err != nil {
		return err
	}
	dest, err := p.loadAccount(destRef)
	if err != nil {
		return err
	}

	if source.State == token.AccountStateFrozen || dest.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}
	if source.Amount < amount {
		p.ic.Log("Error: insufficient funds")
		return token.ErrorInsufficientFunds
	}
	if !bytes.Equal(source.Mint, dest.Mint) {
		p.ic.Log("Error: account not associated with this Mint")
		return token.ErrorMintMismatch
	}

	if checked {
		if !bytes.Equal(source.Mint, mintRef.Key) {
			p.ic.Log("Error: account not associated with this Mint")
			return token.ErrorMintMismatch
		}
		mint, err := p.loadMint(mintRef)
		if err != nil {
			return err
		}
		if mint.Decimals != decimals {
			return token.ErrorMintDecimalsMismatch
		}
	}

	if err := p.spend(source, authorityRef, amount); err != nil {
		return err
	}

	// Self transfers are validated but leave the account untouched
	if bytes.Equal(sourceRef.Key, destRef.Key) {
		return nil
	}

	source.Amount -= amount
	if dest.Amount+amount < dest.Amount {
		return token.ErrorOverflow
	}
	dest.Amount += amount

	if err := sourceRef.CopyData(0, source.Marshal()); err != nil {
		return err
	}
	return destRef.CopyData(0, dest.Marshal())
}

func (p *tokenProcessor) approve(checked bool) error {
	if err := p.ic.ConsumeCompute(tokenDefaultUnits); err != nil {
		return err
	}

	var amount uint64
	var decimals byte
	var err error
	var sourceRef, mintRef, delegateRef, ownerRef *AccountRef
	if checked {
		amount, decimals, err = token.ParseCheckedAmountIxnData(p.data)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		refs, err := p.accountRange(4)
		if err != nil {
			return err
		}
		sourceRef, mintRef, delegateRef, ownerRef = refs[0], refs[1], refs[2], refs[3]
	} else {
		amount, err = token.ParseAmountIxnData(p.data)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		refs, err := p.accountRange(3)
		if err != nil {
			return err
		}
		sourceRef, delegateRef, ownerRef = refs[0], refs[1], refs[2]
	}

	source, err := p.loadAccount(sourceRef)
	if err != nil {
		return err
	}
	if source.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}

	if checked {
		if !bytes.Equal(source.Mint, mintRef.Key) {
			return token.ErrorMintMismatch
		}
		mint, err := p.loadMint(mintRef)
		if err != nil {
			return err
		}
		if mint.Decimals != decimals {
			return token.ErrorMintDecimalsMismatch
		}
	}

	if err := validateAuthority(source.Owner, ownerRef); err != nil {
		return err
	}

	source.Delegate = append(ed25519.PublicKey{}, delegateRef.Key...)
	source.DelegatedAmount = amount
	return sourceRef.CopyData(0, source.Marshal())
}

func (p *tokenProcessor) revoke() error {
	if err := p.ic.ConsumeCompute(tokenDefaultUnits); err != nil {
		return err
	}

	refs, err := p.accountRange(2)
	if err != nil {
		return err
	}
	sourceRef, ownerRef := refs[0], refs[1]

	source, err := p.loadAccount(sourceRef)
	if err != nil {
		return err
	}
	if source.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}

	// Either the owner or the current delegate may revoke
	if !source.IsDelegatedTo(ownerRef.Key) {
		if err := validateAuthority(source.Owner, ownerRef); err != nil {
			return err
		}
	} else if !ownerRef.IsSigner {
		return solana.InstructionErrorMissingRequiredSignature
	}

	source.Delegate = nil
	source.DelegatedAmount = 0
	return sourceRef.CopyData(0, source.Marshal())
}

func (p *tokenProcessor) setAuthority() error {
	if err := p.ic.ConsumeCompute(tokenDefaultUnits); err != nil {
		return err
	}

	authorityType, newAuthority, err := token.ParseSetAuthorityIxnData(p.data)
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	refs, err := p.accountRange(2)
	if err != nil {
		return err
	}
	targetRef, authorityRef := refs[0], refs[1]

	if !targetRef.IsOwnedBy(p.ic.ProgramID()) {
		return solana.InstructionErrorIncorrectProgramID
	}

	switch len(targetRef.Data()) {
	case token.AccountSize:
		account, err := p.loadAccount(targetRef)
		if err != nil {
			return err
		}
		if account.State == token.AccountStateFrozen {
			return token.ErrorAccountFrozen
		}

		switch authorityType {
		case token.AuthorityTypeAccountHolder:
			if err := validateAuthority(account.Owner, authorityRef); err != nil {
				return err
			}
			if len(newAuthority) == 0 {
				return token.ErrorInvalidInstruction
			}
			account.Owner = newAuthority
			account.Delegate = nil
			account.DelegatedAmount = 0
		case token.AuthorityTypeCloseAccount:
			current := account.CloseAuthority
			if len(current) == 0 {
				current = account.Owner
			}
			if err := validateAuthority(current, authorityRef); err != nil {
				return err
			}
			account.CloseAuthority = newAuthority
		default:
			return token.ErrorAuthorityTypeNotSupported
		}
		return targetRef.CopyData(0, account.Marshal())

	case token.MintSize:
		mint, err := p.loadMint(targetRef)
		if err != nil {
			return err
		}

		switch authorityType {
		case token.AuthorityTypeMintTokens:
			if len(mint.MintAuthority) == 0 {
				return token.ErrorFixedSupply
			}
			if err := validateAuthority(mint.MintAuthority, authorityRef); err != nil {
				return err
			}
			mint.MintAuthority = newAuthority
		case token.AuthorityTypeFreezeAccount:
			if len(mint.FreezeAuthority) == 0 {
				return token.ErrorMintCannotFreeze
			}
			if err := validateAuthority(mint.FreezeAuthority, authorityRef); err != nil {
				return err
			}
			mint.FreezeAuthority = newAuthority
		default:
			return token.ErrorAuthorityTypeNotSupported
		}
		return targetRef.CopyData(0, mint.Marshal())

	default:
		return solana.InstructionErrorInvalidArgument
	}
}

func (p *tokenProcessor) mintTo(checked bool) error {
	if err := p.ic.ConsumeCompute(tokenTransferUnits); err != nil {
		return err
	}

	var amount uint64
	var decimals byte
	var err error
	if checked {
		amount, decimals, err = token.ParseCheckedAmountIxnData(p.data)
	} else {
		amount, err = token.ParseAmountIxnData(p.data)
	}
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	refs, err := p.accountRange(3)
	if err != nil {
		return err
	}
	mintRef, destRef, authorityRef := refs[0], refs[1], refs[2]

	dest, err := p.loadAccount(destRef)
	if err != nil {
		return err
	}
	if dest.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}
	if !bytes.Equal(dest.Mint, mintRef.Key) {
		return token.ErrorMintMismatch
	}

	mint, err := p.loadMint(mintRef)
	if err != nil {
		return err
	}
	if checked && mint.Decimals != decimals {
		return token.ErrorMintDecimalsMismatch
	}
	if len(mint.MintAuthority) == 0 {
		return token.ErrorFixedSupply
	}
	if err := validateAuthority(mint.MintAuthority, authorityRef); err != nil {
		return err
	}

	if dest.Amount+amount < dest.Amount || mint.Supply+amount < mint.Supply {
		return token.ErrorOverflow
	}
	dest.Amount += amount
	mint.Supply += amount

	if err := destRef.CopyData(0, dest.Marshal()); err != nil {
		return err
	}
	return mintRef.CopyData(0, mint.Marshal())
}

func (p *tokenProcessor) burn(checked bool) error {
	if err := p.ic.ConsumeCompute(tokenTransferUnits); err != nil {
		return err
	}

	var amount uint64
	var decimals byte
	var err error
	if checked {
		amount, decimals, err = token.ParseCheckedAmountIxnData(p.data)
	} else {
		amount, err = token.ParseAmountIxnData(p.data)
	}
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	refs, err := p.accountRange(3)
	if err != nil {
		return err
	}
	sourceRef, mintRef, authorityRef := refs[0], refs[1], refs[2]

	source, err := p.loadAccount(sourceRef)
	if err != nil {
		return err
	}
	if source.State == token.AccountStateFrozen {
		return token.ErrorAccountFrozen
	}
	if source.Amount < amount {
		return token.ErrorInsufficientFunds
	}
	if !bytes.Equal(source.Mint, mintRef.Key) {
		return token.ErrorMintMismatch
	}

	mint, err := p.loadMint(mintRef)
	if err != nil {
		return err
	}
	if checked && mint.Decimals != decimals {
		return token.ErrorMintDecimalsMismatch
	}

	if err := p.spend(source, authorityRef, amount); err != nil {
		return err
	}

	source.Amount -= amount
	if mint.Supply < amount {
		return token.ErrorOverflow
	}
	mint.Supply -= amount

	if err := sourceRef.CopyData(0, source.Marshal()); err != nil {
		return err
	}
	return mintRef.CopyData(0, mint.Marshal())
}

func (p *tokenProcessor) closeAccount() error {
	if err := p.ic.ConsumeCompute(tokenDefaultUnits); err != nil {
		return err
	}

	refs, err := p.accountRange(3)
	if err != nil {
		return err
	}
	sourceRef, destRef, authorityRef := refs[0], refs[1], refs[2]

	if bytes.Equal(sourceRef.Key, destRef.Key) {
		return solana.InstructionErrorInvalidAccountData
	}

	source, err := p.loadAccount(sourceRef)
	if err != nil {
		return err
	}
	if source.Amount != 0 {
		p.ic.Log("Error: non-native account has balance")
		return token.ErrorNonNativeHasBalance
	}

	closeAuthority := source.CloseAuthority
	if len(closeAuthority) == 0 {
		closeAuthority = source.Owner
	}
	if err := validateAuthority(closeAuthority, authorityRef); err != nil {
		return err
	}

	if err := TransferLamports(sourceRef, destRef, sourceRef.Lamports()); err != nil {
		return err
	}

	// Closed accounts are returned to the system program so the address can
	// be reused.
	sourceRef.SetData(nil)
	sourceRef.SetOwner(make(ed25519.PublicKey, ed25519.PublicKeySize))
	return nil
}

func (p *tokenProcessor) setFrozen(frozen bool) error {
	if err := p.ic.ConsumeCompute(tokenDefaultUnits); err != nil {
		return err
	}

	refs, err := p.accountRange(3)
	if err != nil {
		return err
	}
	accountRef, mintRef, authorityRef := refs[0], refs[1], refs[2]

	account, err := p.loadAccount(accountRef)
	if err != nil {
		return err
	}
	if frozen == (account.State == token.AccountStateFrozen) {
		return token.ErrorInvalidState
	}
	if !bytes.Equal(account.Mint, mintRef.Key) {
		return token.ErrorMintMismatch
	}

	mint, err := p.loadMint(mintRef)
	if err != nil {
		return err
	}
	if len(mint.FreezeAuthority) == 0 {
		return token.ErrorMintCannotFreeze
	}
	if err := validateAuthority(mint.FreezeAuthority, authorityRef); err != nil {
		return err
	}

	account.State = token.AccountStateInitialized
	if frozen {
		account.State = token.AccountStateFrozen
	}
	return accountRef.CopyData(0, account.Marshal())
}

// spend authorizes moving amount out of source, either by its owner or by its
// delegate within the delegated allowance. Delegated spends reduce the
// allowance on source.
func (p *tokenProcessor) spend(source *token.Account, authorityRef *AccountRef, amount uint64) error {
	if source.IsDelegatedTo(authorityRef.Key) {
		if !authorityRef.IsSigner {
			return solana.InstructionErrorMissingRequiredSignature
		}
		if source.DelegatedAmount < amount {
			p.ic.Log("Error: insufficient delegated amount")
			return token.ErrorInsufficientFunds
		}
		source.DelegatedAmount -= amount
		if source.DelegatedAmount == 0 {
			source.Delegate = nil
		}
		return nil
	}

	if err := validateAuthority(source.Owner, authorityRef); err != nil {
		p.ic.Log("Error: owner does not match")
		return err
	}
	return nil
}

func (p *tokenProcessor) loadAccount(ref *AccountRef) (*token.Account, error) {
	if !ref.IsOwnedBy(p.ic.ProgramID()) {
		return nil, solana.InstructionErrorIncorrectProgramID
	}

	var account token.Account
	if !account.Unmarshal(ref.Data()) {
		return nil, solana.InstructionErrorInvalidAccountData
	}
	if account.State == token.AccountStateUninitialized {
		return nil, token.ErrorUninitializedState
	}
	if account.IsNative != nil {
		return nil, token.ErrorNativeNotSupported
	}
	return &account, nil
}

func (p *tokenProcessor) loadMint(ref *AccountRef) (*token.Mint, error) {
	if !ref.IsOwnedBy(p.ic.ProgramID()) {
		return nil, solana.InstructionErrorIncorrectProgramID
	}

	var mint token.Mint
	if !mint.Unmarshal(ref.Data()) {
		return nil, solana.InstructionErrorInvalidAccountData
	}
	if !mint.IsInitialized {
		return nil, token.ErrorUninitializedState
	}
	return &mint, nil
}

func validateAuthority(expected ed25519.PublicKey, authorityRef *AccountRef) error {
	if !bytes.Equal(expected, authorityRef.Key) {
		return token.ErrorOwnerMismatch
	}
	if !authorityRef.IsSigner {
		return solana.InstructionErrorMissingRequiredSignature
	}
	return nil
}
