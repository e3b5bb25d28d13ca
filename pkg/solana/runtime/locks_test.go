package runtime

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectingLocker(t *testing.T) {
	l := newRejectingLocker()

	a, b, c := []byte("a"), []byte("b"), []byte("c")

	unlock, ok := l.lock([][]byte{a}, [][]byte{b})
	require.True(t, ok)

	// Write-write and read-write conflicts
	_, ok = l.lock([][]byte{a}, nil)
	assert.False(t, ok)
	_, ok = l.lock(nil, [][]byte{a})
	assert.False(t, ok)
	_, ok = l.lock([][]byte{b}, nil)
	assert.False(t, ok)

	// Shared reads and disjoint writes
	unlockRead, ok := l.lock([][]byte{c}, [][]byte{b})
	require.True(t, ok)

	unlock()
	unlockRead()

	unlock, ok = l.lock([][]byte{a, b, c}, nil)
	require.True(t, ok)
	unlock()

	assert.Empty(t, l.writeSet)
	assert.Empty(t, l.readSet)
}

func TestWaitingLocker(t *testing.T) {
	l := newWaitingLocker(16)

	key := []byte("account")

	unlock, ok := l.lock([][]byte{key}, nil)
	require.True(t, ok)

	var mu sync.Mutex
	var acquired bool

	done := make(chan struct{})
	go func() {
		defer close(done)

		unlock, ok := l.lock([][]byte{key}, nil)
		assert.True(t, ok)

		mu.Lock()
		acquired = true
		mu.Unlock()

		unlock()
	}()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.False(t, acquired)
	mu.Unlock()

	unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "lock was never acquired")
	}

	mu.Lock()
	assert.True(t, acquired)
	mu.Unlock()
}
