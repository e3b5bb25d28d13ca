package testutil

import (
	"crypto/ed25519"
	"testing"
)

// DefaultSubsidizerBalance is enough SOL to pay for thousands of test
// transactions and account creations.
const DefaultSubsidizerBalance = 1_000_000_000_000

// SetupRandomSubsidizer creates a funded fee payer in the environment.
func SetupRandomSubsidizer(t *testing.T, env *RuntimeEnv) ed25519.PrivateKey {
	subsidizer := GenerateSolanaKeypair(t)
	env.Fund(t, PublicKey(subsidizer), DefaultSubsidizerBalance)
	return subsidizer
}
