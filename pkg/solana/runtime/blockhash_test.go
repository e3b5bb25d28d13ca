package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/code-escrow/pkg/solana"
)

func TestBlockhashQueue(t *testing.T) {
	var genesis solana.Blockhash
	genesis[0] = 1

	q := newBlockhashQueue(genesis, 3)

	latest, slot := q.latest()
	assert.Equal(t, genesis, latest)
	assert.EqualValues(t, 0, slot)

	var sig1, sig2 solana.Signature
	sig1[0] = 1
	sig2[0] = 2

	q.record(genesis, sig1, nil)
	q.record(genesis, sig2, solana.NewTransactionError(solana.TransactionErrorAccountInUse))

	assert.True(t, q.isProcessed(genesis, sig1))
	assert.False(t, q.isProcessed(genesis, sig2))

	status, ok := q.status(sig2)
	require.True(t, ok)
	require.NotNil(t, status.Err)
	assert.Equal(t, solana.TransactionErrorAccountInUse, status.Err.ErrorKey())

	h1 := q.advance(0)
	h2 := q.advance(0)
	assert.NotEqual(t, genesis, h1)
	assert.NotEqual(t, h1, h2)
	assert.True(t, q.isRecent(genesis))

	// Advancing is deterministic given the same history
	replica := newBlockhashQueue(genesis, 3)
	assert.Equal(t, h1, replica.advance(0))

	q.advance(0)
	assert.False(t, q.isRecent(genesis))
	assert.False(t, q.isProcessed(genesis, sig1))

	_, ok = q.status(sig1)
	assert.False(t, ok)

	_, slot = q.latest()
	assert.EqualValues(t, 3, slot)
}
