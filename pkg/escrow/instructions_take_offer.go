package escrow

import (
	"bytes"
	"crypto/ed25519"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var takeOfferInstructionDiscriminator = []byte{
	0x80, 0x9c, 0xf2, 0xcf, 0xed, 0xc0, 0x67, 0xf0,
}

// TakeOffer carries no arguments; everything it needs is in the offer.
type TakeOfferInstructionArgs struct {
}

type TakeOfferInstructionAccounts struct {
	Strategy Strategy

	Taker              ed25519.PublicKey
	Maker              ed25519.PublicKey
	TokenMintA         ed25519.PublicKey
	TokenMintB         ed25519.PublicKey
	TakerTokenAccountA ed25519.PublicKey
	TakerTokenAccountB ed25519.PublicKey
	MakerTokenAccountA ed25519.PublicKey
	MakerTokenAccountB ed25519.PublicKey
	Offer              ed25519.PublicKey

	// Only used by StrategyVault
	Vault ed25519.PublicKey

	TokenProgram ed25519.PublicKey
}

func NewTakeOfferInstruction(
	accounts *TakeOfferInstructionAccounts,
	args *TakeOfferInstructionArgs,
) solana.Instruction {
	var offset int

	// Serialize instruction arguments
	data := make([]byte, len(takeOfferInstructionDiscriminator))

	putDiscriminator(data, takeOfferInstructionDiscriminator, &offset)

	metas := []solana.AccountMeta{
		{
			PublicKey:  accounts.Taker,
			IsWritable: true,
			IsSigner:   true,
		},
		{
			PublicKey:  accounts.Maker,
			IsWritable: true,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.TokenMintA,
			IsWritable: false,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.TokenMintB,
			IsWritable: false,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.TakerTokenAccountA,
			IsWritable: true,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.TakerTokenAccountB,
			IsWritable: true,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.MakerTokenAccountA,
			IsWritable: true,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.MakerTokenAccountB,
			IsWritable: true,
			IsSigner:   false,
		},
		{
			PublicKey:  accounts.Offer,
			IsWritable: true,
			IsSigner:   false,
		},
	}
	if accounts.Strategy == StrategyVault {
		metas = append(metas, solana.AccountMeta{
			PublicKey:  accounts.Vault,
			IsWritable: true,
			IsSigner:   false,
		})
	}
	metas = append(metas, programAccountMetas(accounts.TokenProgram)...)

	return solana.Instruction{
		Program: accounts.Strategy.ProgramID(),

		// Instruction args
		Data: data,

		// Instruction accounts
		Accounts: metas,
	}
}

func TakeOfferInstructionFromBinary(data []byte) (*TakeOfferInstructionArgs, error) {
	var offset int
	var discriminator []byte

	if len(data) < len(takeOfferInstructionDiscriminator) {
		return nil, ErrInvalidInstructionData
	}

	getDiscriminator(data, &discriminator, &offset)
	if !bytes.Equal(discriminator, takeOfferInstructionDiscriminator) {
		return nil, ErrInvalidInstructionData
	}

	return &TakeOfferInstructionArgs{}, nil
}
