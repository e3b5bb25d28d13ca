package escrow

import (
	"bytes"
	"crypto/ed25519"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var makeOfferInstructionDiscriminator = []byte{
	0xd6, 0x62, 0x61, 0x23, 0x3b, 0x0c, 0x2c, 0xb2,
}

const (
	MakeOfferInstructionArgsSize = (8 + // id
		8 + // token_a_offered_amount
		8) // token_b_wanted_amount
)

type MakeOfferInstructionArgs struct {
	Id                  uint64
	TokenAOfferedAmount uint64
	TokenBWantedAmount  uint64
}

type MakeOfferInstructionAccounts struct {
	Strategy Strategy

	Maker              ed25519.PublicKey
	TokenMintA         ed25519.PublicKey
	TokenMintB         ed25519.PublicKey
	MakerTokenAccountA ed25519.PublicKey
	Offer              ed25519.PublicKey

	// Only used by StrategyVault
	Vault ed25519.PublicKey

	TokenProgram ed25519.PublicKey
}

func NewMakeOfferInstruction(
	accounts *MakeOfferInstructionAccounts,
	args *MakeOfferInstructionArgs,
) solana.Instruction {
	var offset int

	// Serialize instruction arguments
	data := make([]byte,
		len(makeOfferInstructionDiscriminator)+
			MakeOfferInstructionArgsSize)

	putDiscriminator(data, makeOfferInstructionDiscriminator, &offset)
	putUint64(data, args.Id, &offset)
	putUint64(data, args.TokenAOfferedAmount, &offset)
	putUint64(data, args.TokenBWantedAmount, &offset)

	metas := []solana.AccountMeta{
		{
			PublicKey:  accounts.Maker,
			IsWritable: true,
			IsSigner:   true,
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
			PublicKey:  accounts.MakerTokenAccountA,
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

func MakeOfferInstructionFromBinary(data []byte) (*MakeOfferInstructionArgs, error) {
	var offset int
	var discriminator []byte

	if len(data) < len(makeOfferInstructionDiscriminator)+MakeOfferInstructionArgsSize {
		return nil, ErrInvalidInstructionData
	}

	getDiscriminator(data, &discriminator, &offset)
	if !bytes.Equal(discriminator, makeOfferInstructionDiscriminator) {
		return nil, ErrInvalidInstructionData
	}

	var args MakeOfferInstructionArgs
	getUint64(data, &args.Id, &offset)
	getUint64(data, &args.TokenAOfferedAmount, &offset)
	getUint64(data, &args.TokenBWantedAmount, &offset)

	return &args, nil
}

func programAccountMetas(tokenProgram ed25519.PublicKey) []solana.AccountMeta {
	return []solana.AccountMeta{
		{
			PublicKey:  ASSOCIATED_TOKEN_PROGRAM_ID,
			IsWritable: false,
			IsSigner:   false,
		},
		{
			PublicKey:  tokenProgram,
			IsWritable: false,
			IsSigner:   false,
		},
		{
			PublicKey:  SYSTEM_PROGRAM_ID,
			IsWritable: false,
			IsSigner:   false,
		},
	}
}
