package escrow

import (
	"bytes"
	"crypto/ed25519"
	"errors"
)

var (
	ErrInvalidProgram         = errors.New("invalid program id")
	ErrInvalidAccountData     = errors.New("unexpected account data")
	ErrInvalidInstructionData = errors.New("unexpected instruction data")
)

var (
	VAULT_PROGRAM_ADDRESS = mustBase58Decode("8mtEyFoPPp47tAccHJaa272CEFGczzDQJNqvNCcUUWjo")
	VAULT_PROGRAM_ID      = ed25519.PublicKey(VAULT_PROGRAM_ADDRESS)

	APPROVE_PROGRAM_ADDRESS = mustBase58Decode("C1cUvDnDKvN64HwAJp7Awfrb2LMiLQZywqfShFF73XcN")
	APPROVE_PROGRAM_ID      = ed25519.PublicKey(APPROVE_PROGRAM_ADDRESS)
)

var (
	SYSTEM_PROGRAM_ID           = ed25519.PublicKey(mustBase58Decode("11111111111111111111111111111111"))
	SPL_TOKEN_PROGRAM_ID        = ed25519.PublicKey(mustBase58Decode("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"))
	SPL_TOKEN_2022_PROGRAM_ID   = ed25519.PublicKey(mustBase58Decode("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"))
	ASSOCIATED_TOKEN_PROGRAM_ID = ed25519.PublicKey(mustBase58Decode("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"))
)

// Strategy is how an offer holds the maker's token A until it is taken. Each
// strategy is deployed as its own program.
type Strategy uint8

const (
	// StrategyVault moves token A into a vault token account whose authority
	// is the offer.
	StrategyVault Strategy = iota

	// StrategyApprove leaves token A in the maker's account, delegating
	// authority over it to the offer.
	StrategyApprove
)

// ProgramID returns the address of the program implementing the strategy.
func (s Strategy) ProgramID() ed25519.PublicKey {
	switch s {
	case StrategyApprove:
		return APPROVE_PROGRAM_ID
	default:
		return VAULT_PROGRAM_ID
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyVault:
		return "vault"
	case StrategyApprove:
		return "approve"
	default:
		return "unknown"
	}
}

// StrategyFromProgramID returns the strategy implemented by a program.
func StrategyFromProgramID(program ed25519.PublicKey) (Strategy, error) {
	switch {
	case bytes.Equal(program, VAULT_PROGRAM_ID):
		return StrategyVault, nil
	case bytes.Equal(program, APPROVE_PROGRAM_ID):
		return StrategyApprove, nil
	default:
		return 0, ErrInvalidProgram
	}
}
