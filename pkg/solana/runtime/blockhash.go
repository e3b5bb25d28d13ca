package runtime

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/code-payments/code-escrow/pkg/solana"
)

// SignatureStatus is the outcome of a processed transaction.
type SignatureStatus struct {
	Slot uint64
	Err  *solana.TransactionError
}

// blockhashQueue tracks the recent blockhashes transactions may reference, and
// the transactions processed against each. Signatures are forgotten once their
// blockhash expires, at which point the transaction can no longer be replayed.
//
// Not safe for concurrent use.
type blockhashQueue struct {
	maxAge int

	slot   uint64
	hashes []solana.Blockhash

	processed map[solana.Blockhash]map[solana.Signature]struct{}
	statuses  map[solana.Signature]*SignatureStatus
	byHash    map[solana.Blockhash][]solana.Signature
}

func newBlockhashQueue(genesis solana.Blockhash, maxAge int) *blockhashQueue {
	return &blockhashQueue{
		maxAge:    maxAge,
		hashes:    []solana.Blockhash{genesis},
		processed: make(map[solana.Blockhash]map[solana.Signature]struct{}),
		statuses:  make(map[solana.Signature]*SignatureStatus),
		byHash:    make(map[solana.Blockhash][]solana.Signature),
	}
}

func (q *blockhashQueue) latest() (solana.Blockhash, uint64) {
	return q.hashes[len(q.hashes)-1], q.slot
}

// advance produces the next blockhash, expiring the oldest once the queue is
// full.
func (q *blockhashQueue) advance(maxAge int) solana.Blockhash {
	if maxAge > 0 {
		q.maxAge = maxAge
	}

	prev, _ := q.latest()
	q.slot++

	var slot [8]byte
	binary.LittleEndian.PutUint64(slot[:], q.slot)
	next := solana.Blockhash(sha256.Sum256(append(prev[:], slot[:]...)))

	q.hashes = append(q.hashes, next)
	for len(q.hashes) > q.maxAge {
		q.expire(q.hashes[0])
		q.hashes = q.hashes[1:]
	}

	return next
}

func (q *blockhashQueue) expire(hash solana.Blockhash) {
	for _, sig := range q.byHash[hash] {
		delete(q.statuses, sig)
	}
	delete(q.byHash, hash)
	delete(q.processed, hash)
}

func (q *blockhashQueue) isRecent(hash solana.Blockhash) bool {
	for _, h := range q.hashes {
		if h == hash {
			return true
		}
	}
	return false
}

func (q *blockhashQueue) isProcessed(hash solana.Blockhash, sig solana.Signature) bool {
	_, ok := q.processed[hash][sig]
	return ok
}

// record stores the outcome of a transaction. Only successful transactions
// count towards replay protection, since failed ones have no effect.
func (q *blockhashQueue) record(hash solana.Blockhash, sig solana.Signature, txErr *solana.TransactionError) {
	if _, ok := q.statuses[sig]; !ok {
		q.byHash[hash] = append(q.byHash[hash], sig)
	}
	q.statuses[sig] = &SignatureStatus{
		Slot: q.slot,
		Err:  txErr,
	}

	if txErr != nil {
		return
	}

	if q.processed[hash] == nil {
		q.processed[hash] = make(map[solana.Signature]struct{})
	}
	q.processed[hash][sig] = struct{}{}
}

func (q *blockhashQueue) status(sig solana.Signature) (*SignatureStatus, bool) {
	status, ok := q.statuses[sig]
	if !ok {
		return nil, false
	}
	copied := *status
	return &copied, true
}
