package tests

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/ledger"
	"github.com/code-payments/code-escrow/pkg/solana"
)

func RunTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testRoundTrip,
		testUpdate,
		testDelete,
		testGetMany,
		testCommitInvalid,
		testCount,
	} {
		tf(t, s)
		teardown()
	}
}

func testRoundTrip(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	address := newKey(t)

	actual, err := s.Get(ctx, address)
	assert.Equal(t, ledger.ErrAccountNotFound, err)
	assert.Nil(t, actual)

	expected := &solana.AccountInfo{
		Data:       []byte{1, 2, 3, 4},
		Owner:      newKey(t),
		Lamports:   1_000_000,
		Executable: false,
	}
	require.NoError(t, s.Commit(ctx, []*ledger.Change{{Address: address, Account: expected}}))

	actual, err = s.Get(ctx, address)
	require.NoError(t, err)
	assert.True(t, expected.Equal(actual))

	// Mutating the returned copy must not affect the ledger
	actual.Data[0] = 0xff
	actual.Lamports = 1

	actual, err = s.Get(ctx, address)
	require.NoError(t, err)
	assert.True(t, expected.Equal(actual))
}

func testUpdate(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	address := newKey(t)
	owner := newKey(t)

	require.NoError(t, s.Commit(ctx, []*ledger.Change{{
		Address: address,
		Account: &solana.AccountInfo{Owner: owner, Lamports: 10},
	}}))

	updated := &solana.AccountInfo{
		Data:     make([]byte, 129),
		Owner:    newKey(t),
		Lamports: 20,
	}
	updated.Data[128] = 254
	require.NoError(t, s.Commit(ctx, []*ledger.Change{{Address: address, Account: updated}}))

	actual, err := s.Get(ctx, address)
	require.NoError(t, err)
	assert.True(t, updated.Equal(actual))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func testDelete(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	closed := newKey(t)
	removed := newKey(t)
	owner := newKey(t)

	require.NoError(t, s.Commit(ctx, []*ledger.Change{
		{Address: closed, Account: &solana.AccountInfo{Owner: owner, Lamports: 10, Data: []byte{1}}},
		{Address: removed, Account: &solana.AccountInfo{Owner: owner, Lamports: 10}},
	}))

	require.NoError(t, s.Commit(ctx, []*ledger.Change{
		{Address: closed, Account: &solana.AccountInfo{Owner: owner, Lamports: 0, Data: []byte{1}}},
		{Address: removed, Account: nil},
	}))

	for _, address := range []ed25519.PublicKey{closed, removed} {
		_, err := s.Get(ctx, address)
		assert.Equal(t, ledger.ErrAccountNotFound, err)
	}

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	// Deleting an account that doesn't exist is a no-op
	require.NoError(t, s.Commit(ctx, []*ledger.Change{{Address: newKey(t)}}))
}

func testGetMany(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	var addresses []ed25519.PublicKey
	var changes []*ledger.Change
	for i := 0; i < 5; i++ {
		address := newKey(t)
		addresses = append(addresses, address)

		// Leave every other account missing
		if i%2 == 1 {
			continue
		}
		changes = append(changes, &ledger.Change{
			Address: address,
			Account: &solana.AccountInfo{Owner: newKey(t), Lamports: uint64(i + 1), Data: []byte{byte(i)}},
		})
	}
	require.NoError(t, s.Commit(ctx, changes))

	actual, err := s.GetMany(ctx, addresses...)
	require.NoError(t, err)
	require.Len(t, actual, len(addresses))

	for i, account := range actual {
		if i%2 == 1 {
			assert.Nil(t, account)
			continue
		}

		require.NotNil(t, account)
		assert.EqualValues(t, i+1, account.Lamports)
		assert.Equal(t, []byte{byte(i)}, account.Data)
	}

	actual, err = s.GetMany(ctx)
	require.NoError(t, err)
	assert.Empty(t, actual)
}

func testCommitInvalid(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	valid := newKey(t)

	err := s.Commit(ctx, []*ledger.Change{
		{Address: valid, Account: &solana.AccountInfo{Owner: newKey(t), Lamports: 10}},
		{Address: []byte{1, 2, 3}, Account: &solana.AccountInfo{Owner: newKey(t), Lamports: 10}},
	})
	assert.Equal(t, ledger.ErrInvalidChange, err)

	// Nothing from the failed change set is applied
	_, err = s.Get(ctx, valid)
	assert.Equal(t, ledger.ErrAccountNotFound, err)
}

func testCount(t *testing.T, s ledger.Store) {
	ctx := context.Background()

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Commit(ctx, []*ledger.Change{{
			Address: newKey(t),
			Account: &solana.AccountInfo{Owner: newKey(t), Lamports: 1},
		}}))

		count, err = s.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, i+1, count)
	}
}

func newKey(t *testing.T) ed25519.PublicKey {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub
}
