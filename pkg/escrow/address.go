package escrow

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/code-payments/code-escrow/pkg/solana"
)

var (
	OfferPrefix = []byte("offer")
)

type GetOfferAddressArgs struct {
	Strategy Strategy
	Maker    ed25519.PublicKey
	Id       uint64
}

// GetOfferAddress derives the canonical address of a maker's offer, along with
// the bump that is stored in the offer.
func GetOfferAddress(args *GetOfferAddressArgs) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		args.Strategy.ProgramID(),
		OfferPrefix,
		args.Maker,
		idSeed(args.Id),
	)
}

type GetVaultAddressArgs struct {
	Offer        ed25519.PublicKey
	Mint         ed25519.PublicKey
	TokenProgram ed25519.PublicKey
}

// GetVaultAddress returns the vault of an offer made with StrategyVault, which
// is the offer's associated token account for token A.
func GetVaultAddress(args *GetVaultAddressArgs) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(
		ASSOCIATED_TOKEN_PROGRAM_ID,
		args.Offer,
		args.TokenProgram,
		args.Mint,
	)
}

func idSeed(id uint64) []byte {
	seed := make([]byte, 8)
	binary.LittleEndian.PutUint64(seed, id)
	return seed
}
