package memory

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/solana"
)

type store struct {
	mu       sync.RWMutex
	accounts map[string]*solana.AccountInfo
}

// New returns a new in memory ledger.Store
func New() ledger.Store {
	return &store{
		accounts: make(map[string]*solana.AccountInfo),
	}
}

func (s *store) reset() {
	s.mu.Lock()
	s.accounts = make(map[string]*solana.AccountInfo)
	s.mu.Unlock()
}

// Get implements ledger.Store.Get
func (s *store) Get(_ context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[base58.Encode(address)]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return account.Clone(), nil
}

// GetMany implements ledger.Store.GetMany
func (s *store) GetMany(_ context.Context, addresses ...ed25519.PublicKey) ([]*solana.AccountInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]*solana.AccountInfo, len(addresses))
	for i, address := range addresses {
		res[i] = s.accounts[base58.Encode(address)].Clone()
	}
	return res, nil
}

// Commit implements ledger.Store.Commit
func (s *store) Commit(_ context.Context, changes []*ledger.Change) error {
	for _, change := range changes {
		if err := change.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, change := range changes {
		key := base58.Encode(change.Address)
		if change.IsDeletion() {
			delete(s.accounts, key)
			continue
		}
		s.accounts[key] = change.Account.Clone()
	}
	return nil
}

// Count implements ledger.Store.Count
func (s *store) Count(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.accounts)), nil
}
