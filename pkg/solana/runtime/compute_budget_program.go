package runtime

import (
	"bytes"
	"crypto/ed25519"

	compute_budget "github.com/code-payments/code-escrow/pkg/solana/computebudget"
)

const (
	computeBudgetCommandSetComputeUnitLimit byte = 2
	computeBudgetCommandSetComputeUnitPrice byte = 3

	computeBudgetUnits = 150
)

func isComputeBudgetProgram(key ed25519.PublicKey) bool {
	return bytes.Equal(key, compute_budget.ProgramKey)
}

// processComputeBudgetInstruction charges for compute budget instructions,
// which are applied before the transaction executes.
func processComputeBudgetInstruction(ic *InvokeContext, _ []*AccountRef, _ []byte) error {
	return ic.ConsumeCompute(computeBudgetUnits)
}
