// Package replay implements the bounded circular replay buffer from
// spec.md §4.5: fixed capacity C across three parallel arrays (obs,
// target_policy, target_value), thread-safe add and random-sample, with
// samples drawn only from populated slots.
//
// original_source/src/replaybuffer.h samples uniformly across the entire
// fixed-size buffer regardless of how many slots have actually been
// written, which means an early, mostly-empty buffer returns garbage
// zero-value samples. spec.md §8 property 4 explicitly requires sampling
// only from populated slots, so this implementation deliberately departs
// from the original's behavior rather than reproducing its bug.
package replay

import (
	"math/rand"
	"sync"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/obs"
)

// Buffer is a fixed-capacity ring of (observation, target policy, target
// value) tuples. It is safe for concurrent producers and a single or
// multiple consumers.
type Buffer struct {
	mu sync.Mutex

	obs    []float32 // capacity * obs.Size
	pol    []float32 // capacity * chess.P
	val    []float32 // capacity

	capacity   int
	writeIndex int
	total      uint64 // monotonic insert count, never wraps back down
}

// New returns an empty buffer with room for capacity tuples.
func New(capacity int) *Buffer {
	errs.Invariant(capacity > 0, "replay buffer capacity must be positive")
	return &Buffer{
		obs:      make([]float32, capacity*obs.Size),
		pol:      make([]float32, capacity*chess.P),
		val:      make([]float32, capacity),
		capacity: capacity,
	}
}

// Size returns the buffer's fixed capacity, C.
func (b *Buffer) Size() int { return b.capacity }

// Count returns the number of tuples ever inserted, uncapped — this can
// exceed Size() once the ring has wrapped.
func (b *Buffer) Count() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// populated returns how many of the capacity slots currently hold a real
// tuple. Caller must hold b.mu.
func (b *Buffer) populated() int {
	if b.total >= uint64(b.capacity) {
		return b.capacity
	}
	return int(b.total)
}

// Add copies (o, pol, v) into the next write slot, taking the lock for
// the duration of the copy so a reader never observes a partially written
// slot (spec.md §4.5's invariant).
func (b *Buffer) Add(o []float32, pol []float32, v float32) {
	errs.Invariant(len(o) == obs.Size, "replay add: observation has wrong length")
	errs.Invariant(len(pol) == chess.P, "replay add: policy has wrong length")

	b.mu.Lock()
	defer b.mu.Unlock()

	slot := b.writeIndex
	copy(b.obs[slot*obs.Size:(slot+1)*obs.Size], o)
	copy(b.pol[slot*chess.P:(slot+1)*chess.P], pol)
	b.val[slot] = v

	b.writeIndex = (b.writeIndex + 1) % b.capacity
	b.total++
}

// SelectBatch copies n samples chosen uniformly with replacement from the
// populated portion of the buffer into the caller-provided output slices,
// which must each be sized for n samples. It is a programmer error to
// call SelectBatch on an empty buffer.
func (b *Buffer) SelectBatch(rng *rand.Rand, n int, outObs, outPol []float32, outVal []float32) {
	errs.Invariant(len(outObs) == n*obs.Size, "select batch: observation output has wrong length")
	errs.Invariant(len(outPol) == n*chess.P, "select batch: policy output has wrong length")
	errs.Invariant(len(outVal) == n, "select batch: value output has wrong length")

	b.mu.Lock()
	defer b.mu.Unlock()

	pop := b.populated()
	errs.Invariant(pop > 0, "select batch called on an empty replay buffer")

	for i := 0; i < n; i++ {
		slot := rng.Intn(pop)
		copy(outObs[i*obs.Size:(i+1)*obs.Size], b.obs[slot*obs.Size:(slot+1)*obs.Size])
		copy(outPol[i*chess.P:(i+1)*chess.P], b.pol[slot*chess.P:(slot+1)*chess.P])
		outVal[i] = b.val[slot]
	}
}

// Clear resets both indices without zeroing the backing arrays, matching
// spec.md §4.5's clear() contract — used when flush_old_rpb fires after a
// generation change.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeIndex = 0
	b.total = 0
}
