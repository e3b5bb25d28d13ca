package runtime

// Reference: https://github.com/solana-labs/solana/blob/f02a78d8fff2dd7297dc6ce6eb5a68a3002f5359/sdk/program/src/rent.rs
const (
	// AccountStorageOverhead is the number of bytes charged for every account
	// in addition to its data.
	AccountStorageOverhead = 128

	// LamportsPerByteYear is the rent rate.
	LamportsPerByteYear = 3480

	// ExemptionThresholdYears is the number of years of rent an account must
	// hold to be exempt from collection.
	ExemptionThresholdYears = 2
)

// MinimumBalanceForRentExemption returns the lamports an account with dataLen
// bytes of data must hold to be rent exempt.
func MinimumBalanceForRentExemption(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * LamportsPerByteYear * ExemptionThresholdYears
}

// isRentExempt reports whether an account state is acceptable at the end of a
// transaction. Accounts with zero lamports are removed.
func isRentExempt(lamports uint64, dataLen int) bool {
	return lamports == 0 || lamports >= MinimumBalanceForRentExemption(uint64(dataLen))
}
