package leveldb

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/solana"
)

var accountKeyPrefix = []byte("account:")

const encodedHeaderSize = (32 + // owner
	8 + // lamports
	1) // executable

type store struct {
	db *leveldb.DB
}

// New returns a ledger.Store backed by an opened LevelDB database. The caller
// retains ownership of db.
func New(db *leveldb.DB) ledger.Store {
	return &store{
		db: db,
	}
}

// Open opens (or creates) a LevelDB database at path and returns a store over
// it, along with a function to close the database.
func Open(path string) (ledger.Store, func() error, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, nil, err
	}
	return New(db), db.Close, nil
}

// Get implements ledger.Store.Get
func (s *store) Get(_ context.Context, address ed25519.PublicKey) (*solana.AccountInfo, error) {
	value, err := s.db.Get(accountKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ledger.ErrAccountNotFound
	} else if err != nil {
		return nil, err
	}
	return decodeAccount(value)
}

// GetMany implements ledger.Store.GetMany
func (s *store) GetMany(_ context.Context, addresses ...ed25519.PublicKey) ([]*solana.AccountInfo, error) {
	snapshot, err := s.db.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snapshot.Release()

	res := make([]*solana.AccountInfo, len(addresses))
	for i, address := range addresses {
		value, err := snapshot.Get(accountKey(address), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		res[i], err = decodeAccount(value)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Commit implements ledger.Store.Commit
func (s *store) Commit(_ context.Context, changes []*ledger.Change) error {
	batch := new(leveldb.Batch)
	for _, change := range changes {
		if err := change.Validate(); err != nil {
			return err
		}

		if change.IsDeletion() {
			batch.Delete(accountKey(change.Address))
			continue
		}
		batch.Put(accountKey(change.Address), encodeAccount(change.Account))
	}

	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

// Count implements ledger.Store.Count
func (s *store) Count(_ context.Context) (uint64, error) {
	iter := s.db.NewIterator(util.BytesPrefix(accountKeyPrefix), nil)
	defer iter.Release()

	var count uint64
	for iter.Next() {
		count++
	}
	return count, iter.Error()
}

func accountKey(address ed25519.PublicKey) []byte {
	key := make([]byte, len(accountKeyPrefix)+len(address))
	copy(key, accountKeyPrefix)
	copy(key[len(accountKeyPrefix):], address)
	return key
}

func encodeAccount(account *solana.AccountInfo) []byte {
	value := make([]byte, encodedHeaderSize+len(account.Data))
	copy(value, account.Owner)
	binary.LittleEndian.PutUint64(value[32:], account.Lamports)
	if account.Executable {
		value[40] = 1
	}
	copy(value[encodedHeaderSize:], account.Data)
	return value
}

func decodeAccount(value []byte) (*solana.AccountInfo, error) {
	if len(value) < encodedHeaderSize {
		return nil, errors.New("invalid encoded account")
	}

	account := &solana.AccountInfo{
		Owner:      make(ed25519.PublicKey, ed25519.PublicKeySize),
		Lamports:   binary.LittleEndian.Uint64(value[32:]),
		Executable: value[40] == 1,
		Data:       make([]byte, len(value)-encodedHeaderSize),
	}
	copy(account.Owner, value)
	copy(account.Data, value[encodedHeaderSize:])
	return account, nil
}
