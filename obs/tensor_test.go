package obs

import (
	"testing"

	"github.com/climbtree/chesszero/chess"
)

func TestEncodeIsDeterministic(t *testing.T) {
	e := chess.New()
	a := make([]float32, Size)
	b := make([]float32, Size)
	Encode(e, a)
	Encode(e, b)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encode not deterministic at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEncodeHeaderReplicatedAcrossSquares(t *testing.T) {
	e := chess.New()
	buf := make([]float32, Size)
	Encode(e, buf)
	for sq := 1; sq < H*W; sq++ {
		for f := 0; f < 18; f++ { // header occupies the first 18 features
			base := index(0, 0, f)
			got := index(sq/W, sq%W, f)
			if buf[base] != buf[got] {
				t.Fatalf("header feature %d not replicated at square %d", f, sq)
			}
		}
	}
}

func TestEncodeStartingPositionHasThirtyTwoPieces(t *testing.T) {
	e := chess.New()
	buf := make([]float32, Size)
	Encode(e, buf)
	count := 0
	for sq := 0; sq < H*W; sq++ {
		for f := 18; f < F; f++ {
			if buf[index(sq/W, sq%W, f)] == 1 {
				count++
			}
		}
	}
	if count != 32 {
		t.Fatalf("expected 32 pieces on the starting position, got %d", count)
	}
}
