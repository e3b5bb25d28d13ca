package postgres

import (
	"context"
	"crypto/ed25519"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/solana"
)

type store struct {
	db *sqlx.DB
}

// New returns a postgres backed ledger.Store
func New(db *sql.DB) ledger.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Get implements ledger.Store.Get
func (s *store) Get(ctx context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error) {
	obj, err := dbGet(ctx, s.db, base58.Encode(address))
	if err != nil {
		return nil, err
	}
	return fromModel(obj)
}

// GetMany implements ledger.Store.GetMany
func (s *store) GetMany(ctx context.Context, addresses ...ed25519.PublicKey) ([]*solana.AccountInfo, error) {
	res := make([]*solana.AccountInfo, len(addresses))
	if len(addresses) == 0 {
		return res, nil
	}

	encoded := make([]string, len(addresses))
	for i, address := range addresses {
		encoded[i] = base58.Encode(address)
	}

	models, err := dbGetBatch(ctx, s.db, encoded...)
	if err != nil {
		return nil, err
	}

	byAddress := make(map[string]*model, len(models))
	for _, m := range models {
		byAddress[m.Address] = m
	}

	for i, address := range encoded {
		m, ok := byAddress[address]
		if !ok {
			continue
		}

		res[i], err = fromModel(m)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Commit implements ledger.Store.Commit
func (s *store) Commit(ctx context.Context, changes []*ledger.Change) error {
	return dbCommit(ctx, s.db, changes)
}

// Count implements ledger.Store.Count
func (s *store) Count(ctx context.Context) (uint64, error) {
	return dbGetCount(ctx, s.db)
}
