package movecodec

import "testing"

// TestBijectionAllSquarePairs exercises property 1 from spec.md §8: for every
// move geometry that Encode accepts, Decode must reproduce it exactly, for
// both sides to move.
func TestBijectionAllSquarePairs(t *testing.T) {
	for _, white := range []bool{true, false} {
		count := 0
		for from := 0; from < 64; from++ {
			for to := 0; to < 64; to++ {
				if from == to {
					continue
				}
				for _, promo := range []Promo{PromoNone, PromoKnight, PromoBishop, PromoRook} {
					action, ok := Encode(from, to, promo, white)
					if !ok {
						continue
					}
					if action < 0 || action >= P {
						t.Fatalf("encode(%d,%d,%d,%v) out of range: %d", from, to, promo, white, action)
					}
					gotFrom, gotTo, gotPromo, ok := Decode(action, white)
					if !ok {
						t.Fatalf("decode(%d) reported not ok for an action Encode produced", action)
					}
					if gotFrom != from || gotTo != to || gotPromo != promo {
						t.Fatalf("round trip mismatch: encoded (%d,%d,%d) -> %d -> (%d,%d,%d)",
							from, to, promo, action, gotFrom, gotTo, gotPromo)
					}
					count++
				}
			}
		}
		if count == 0 {
			t.Fatalf("no moves encoded for white=%v", white)
		}
	}
}

func TestEncodeThenDecodeIsIdentityForKnownMoves(t *testing.T) {
	cases := []struct {
		from, to int
		promo    Promo
		white    bool
	}{
		{from: 12, to: 28, promo: PromoNone, white: true},  // e2-e4
		{from: 6, to: 21, promo: PromoNone, white: true},   // Ng1-f3
		{from: 52, to: 60, promo: PromoNone, white: false}, // e7-e8 direction from black POV space
		{from: 48, to: 57, promo: PromoKnight, white: true},
	}
	for _, c := range cases {
		action, ok := Encode(c.from, c.to, c.promo, c.white)
		if !ok {
			t.Fatalf("encode failed for case %+v", c)
		}
		from, to, promo, ok := Decode(action, c.white)
		if !ok || from != c.from || to != c.to || promo != c.promo {
			t.Fatalf("round trip broke for %+v: got from=%d to=%d promo=%d ok=%v", c, from, to, promo, ok)
		}
	}
}

func TestDecodeRejectsOutOfRange(t *testing.T) {
	if _, _, _, ok := Decode(-1, true); ok {
		t.Fatalf("expected Decode(-1) to fail")
	}
	if _, _, _, ok := Decode(P, true); ok {
		t.Fatalf("expected Decode(P) to fail")
	}
}

func TestEncodeRejectsNonGeometricMove(t *testing.T) {
	// A (2,3) delta is neither a ray, a knight move, nor a valid
	// under-promotion direction.
	if _, ok := Encode(0, 0+2*8+3, PromoNone, true); ok {
		t.Fatalf("expected Encode to reject a non-geometric delta")
	}
}
