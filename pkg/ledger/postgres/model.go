package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mr-tron/base58"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/solana"

	pgutil "github.com/code-payments/code-escrow/pkg/database/postgres"
)

const (
	tableName = "ledger__core_account"
)

type model struct {
	Id            sql.NullInt64 `db:"id"`
	Address       string        `db:"address"`
	Owner         string        `db:"owner"`
	Lamports      int64         `db:"lamports"`
	Data          []byte        `db:"data"`
	Executable    bool          `db:"executable"`
	LastUpdatedAt time.Time     `db:"last_updated_at"`
}

func toModel(change *ledger.Change) (*model, error) {
	if err := change.Validate(); err != nil {
		return nil, err
	}
	if change.Account.Lamports > math.MaxInt64 {
		return nil, ledger.ErrInvalidChange
	}

	data := change.Account.Data
	if data == nil {
		data = []byte{}
	}

	return &model{
		Address:       base58.Encode(change.Address),
		Owner:         base58.Encode(change.Account.Owner),
		Lamports:      int64(change.Account.Lamports),
		Data:          data,
		Executable:    change.Account.Executable,
		LastUpdatedAt: time.Now(),
	}, nil
}

func fromModel(obj *model) (*solana.AccountInfo, error) {
	owner, err := base58.Decode(obj.Owner)
	if err != nil {
		return nil, err
	}

	return &solana.AccountInfo{
		Data:       obj.Data,
		Owner:      owner,
		Lamports:   uint64(obj.Lamports),
		Executable: obj.Executable,
	}, nil
}

func (m *model) dbUpsert(ctx context.Context, tx *sqlx.Tx) error {
	query := `INSERT INTO ` + tableName + `
		(address, owner, lamports, data, executable, last_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address)
		DO UPDATE
			SET owner = $2, lamports = $3, data = $4, executable = $5, last_updated_at = $6
			WHERE ` + tableName + `.address = $1
		RETURNING
			id, address, owner, lamports, data, executable, last_updated_at`

	return tx.QueryRowxContext(
		ctx,
		query,
		m.Address,
		m.Owner,
		m.Lamports,
		m.Data,
		m.Executable,
		m.LastUpdatedAt.UTC(),
	).StructScan(m)
}

func dbDelete(ctx context.Context, tx *sqlx.Tx, address string) error {
	query := `DELETE FROM ` + tableName + ` WHERE address = $1`
	_, err := tx.ExecContext(ctx, query, address)
	return err
}

func dbCommit(ctx context.Context, db *sqlx.DB, changes []*ledger.Change) error {
	// Validate the whole set before touching the DB
	upserts := make(map[int]*model)
	for i, change := range changes {
		if change.IsDeletion() {
			if err := change.Validate(); err != nil {
				return err
			}
			continue
		}

		m, err := toModel(change)
		if err != nil {
			return err
		}
		upserts[i] = m
	}

	return pgutil.ExecuteRetryable(func() error {
		return pgutil.ExecuteInTx(ctx, db, sql.LevelRepeatableRead, func(tx *sqlx.Tx) error {
			for i, change := range changes {
				var err error
				if m, ok := upserts[i]; ok {
					err = m.dbUpsert(ctx, tx)
				} else {
					err = dbDelete(ctx, tx, base58.Encode(change.Address))
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func dbGet(ctx context.Context, db *sqlx.DB, address string) (*model, error) {
	res := &model{}

	query := `SELECT
		id, address, owner, lamports, data, executable, last_updated_at
		FROM ` + tableName + `
		WHERE address = $1`

	err := db.GetContext(ctx, res, query, address)
	if err != nil {
		return nil, pgutil.CheckNoRows(err, ledger.ErrAccountNotFound)
	}
	return res, nil
}

func dbGetBatch(ctx context.Context, db *sqlx.DB, addresses ...string) ([]*model, error) {
	res := []*model{}

	// Addresses are base58 encoded, so they can be inlined safely
	individualFilters := make([]string, len(addresses))
	for i, address := range addresses {
		individualFilters[i] = fmt.Sprintf("'%s'", address)
	}

	query := fmt.Sprintf(
		`SELECT id, address, owner, lamports, data, executable, last_updated_at
		FROM `+tableName+`
		WHERE address IN (%s)`,
		strings.Join(individualFilters, ", "),
	)

	err := db.SelectContext(ctx, &res, query)
	if err != nil && !pgutil.IsNoRows(err) {
		return nil, err
	}
	return res, nil
}

func dbGetCount(ctx context.Context, db *sqlx.DB) (uint64, error) {
	var res uint64

	query := `SELECT COUNT(*) FROM ` + tableName
	err := db.GetContext(ctx, &res, query)
	if err != nil {
		return 0, err
	}
	return res, nil
}
