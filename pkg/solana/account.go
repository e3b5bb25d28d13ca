package solana

import (
	"bytes"
	"crypto/ed25519"
)

// AccountInfo is the on-chain state held at an address.
type AccountInfo struct {
	Data       []byte
	Owner      ed25519.PublicKey
	Lamports   uint64
	Executable bool
}

// Clone returns a deep copy of the account.
func (a *AccountInfo) Clone() *AccountInfo {
	if a == nil {
		return nil
	}

	cloned := &AccountInfo{
		Lamports:   a.Lamports,
		Executable: a.Executable,
	}
	if a.Data != nil {
		cloned.Data = make([]byte, len(a.Data))
		copy(cloned.Data, a.Data)
	}
	if a.Owner != nil {
		cloned.Owner = make(ed25519.PublicKey, len(a.Owner))
		copy(cloned.Owner, a.Owner)
	}
	return cloned
}

// Equal reports whether two accounts hold identical state.
func (a *AccountInfo) Equal(other *AccountInfo) bool {
	if a == nil || other == nil {
		return a == other
	}

	return a.Lamports == other.Lamports &&
		a.Executable == other.Executable &&
		bytes.Equal(a.Owner, other.Owner) &&
		bytes.Equal(a.Data, other.Data)
}
