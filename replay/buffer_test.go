package replay

import (
	"math/rand"
	"testing"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/obs"
)

func fill(v float32) []float32 {
	o := make([]float32, obs.Size)
	for i := range o {
		o[i] = v
	}
	return o
}

func fillPolicy(v float32) []float32 {
	p := make([]float32, chess.P)
	for i := range p {
		p[i] = v
	}
	return p
}

// TestBufferRoundTrip exercises S3 from spec.md §8: writing fewer than
// capacity tuples and sampling must only ever return those tuples.
func TestBufferRoundTrip(t *testing.T) {
	b := New(10)
	for i := 0; i < 4; i++ {
		b.Add(fill(float32(i)), fillPolicy(float32(i)), float32(i))
	}
	if b.Count() != 4 {
		t.Fatalf("count = %d, want 4", b.Count())
	}

	rng := rand.New(rand.NewSource(5))
	outObs := make([]float32, 20*obs.Size)
	outPol := make([]float32, 20*chess.P)
	outVal := make([]float32, 20)
	b.SelectBatch(rng, 20, outObs, outPol, outVal)

	for i := 0; i < 20; i++ {
		v := outVal[i]
		if v < 0 || v > 3 {
			t.Fatalf("sampled value %v from an unpopulated slot", v)
		}
		if outObs[i*obs.Size] != v {
			t.Fatalf("sampled obs/value mismatch at sample %d: obs[0]=%v value=%v", i, outObs[i*obs.Size], v)
		}
	}
}

// TestSelectBatchNeverReturnsUnpopulatedSlots exercises property 4: with a
// buffer far from full, every sampled tuple's provenance must trace back
// to a real Add call, never a zero-valued unwritten slot.
func TestSelectBatchNeverReturnsUnpopulatedSlots(t *testing.T) {
	b := New(1000)
	const writes = 7
	for i := 0; i < writes; i++ {
		b.Add(fill(float32(i+1)), fillPolicy(1), float32(i+1))
	}

	rng := rand.New(rand.NewSource(9))
	outObs := make([]float32, 500*obs.Size)
	outPol := make([]float32, 500*chess.P)
	outVal := make([]float32, 500)
	b.SelectBatch(rng, 500, outObs, outPol, outVal)

	for i := 0; i < 500; i++ {
		if outVal[i] < 1 || outVal[i] > writes {
			t.Fatalf("sample %d has value %v, outside the range of populated slots", i, outVal[i])
		}
	}
}

func TestClearResetsCountNotCapacity(t *testing.T) {
	b := New(5)
	b.Add(fill(1), fillPolicy(1), 1)
	b.Clear()
	if b.Count() != 0 {
		t.Fatalf("count after clear = %d, want 0", b.Count())
	}
	if b.Size() != 5 {
		t.Fatalf("size after clear = %d, want 5", b.Size())
	}
}

func TestBufferWrapsAfterCapacity(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(fill(float32(i)), fillPolicy(1), float32(i))
	}
	if b.Count() != 5 {
		t.Fatalf("count = %d, want 5", b.Count())
	}
	rng := rand.New(rand.NewSource(1))
	outObs := make([]float32, obs.Size)
	outPol := make([]float32, chess.P)
	outVal := make([]float32, 1)
	for i := 0; i < 50; i++ {
		b.SelectBatch(rng, 1, outObs, outPol, outVal)
		if outVal[0] < 2 || outVal[0] > 4 {
			t.Fatalf("post-wrap sample %v should come from {2,3,4}", outVal[0])
		}
	}
}
