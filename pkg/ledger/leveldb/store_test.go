package leveldb

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/ledger/tests"
	"github.com/code-payments/code-escrow/pkg/solana"
)

func TestLedgerLevelDBStore(t *testing.T) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	defer db.Close()

	teardown := func() {
		iter := db.NewIterator(util.BytesPrefix(accountKeyPrefix), nil)
		defer iter.Release()

		batch := new(leveldb.Batch)
		for iter.Next() {
			batch.Delete(append([]byte{}, iter.Key()...))
		}
		require.NoError(t, iter.Error())
		require.NoError(t, db.Write(batch, nil))
	}

	tests.RunTests(t, New(db), teardown)
}

func TestLedgerLevelDBStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	s, closeFunc, err := Open(dir)
	require.NoError(t, err)

	address := make(ed25519.PublicKey, ed25519.PublicKeySize)
	address[0] = 1
	expected := &solana.AccountInfo{
		Owner:      make(ed25519.PublicKey, ed25519.PublicKeySize),
		Lamports:   42,
		Data:       []byte("persisted"),
		Executable: true,
	}
	require.NoError(t, s.Commit(context.Background(), []*ledger.Change{{Address: address, Account: expected}}))
	require.NoError(t, closeFunc())

	s, closeFunc, err = Open(dir)
	require.NoError(t, err)
	defer closeFunc()

	actual, err := s.Get(context.Background(), address)
	require.NoError(t, err)
	assert.True(t, expected.Equal(actual))
}
