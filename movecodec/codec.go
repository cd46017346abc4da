// Package movecodec implements the bijection between concrete chess moves
// and a fixed integer policy index, described in spec.md §4.1.
//
// P = 73*64 = 4672: each of the 64 source squares owns 73 slots — 56 "ray"
// slots (8 directions x 7 distances), 8 knight slots, and 9 under-promotion
// slots (3 forward directions x 3 non-queen pieces). Slots are anchored at
// the source square in the mover's point of view: when the side to move is
// the second player, both squares are reflected through the board's center
// before indexing, and decode reapplies the same reflection.
//
// Queen promotions are ordinary ray moves; only knight/bishop/rook
// promotions get dedicated slots. Encode/Decode are pure integer math with
// no board awareness — the caller (chess.Env) is responsible for turning a
// decoded (from, to, promo) triple into a real, possibly illegal, move
// attempt.
package movecodec

// P is the size of the fixed policy index space.
const P = 73 * 64

const slotsPerSquare = 73

// Promo identifies the promotion piece encoded by an under-promotion slot.
// PromoNone covers both non-promoting moves and queen promotions, which
// share the ray slots.
type Promo int

const (
	PromoNone Promo = iota
	PromoKnight
	PromoBishop
	PromoRook
)

// ray directions in (deltaRank, deltaFile) order: N, NE, E, SE, S, SW, W, NW.
var rayDirs = [8][2]int{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1},
	{-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// knight offsets in (deltaRank, deltaFile) order, arbitrary but fixed.
var knightOffsets = [8][2]int{
	{1, 2}, {2, 1}, {2, -1}, {1, -2},
	{-1, -2}, {-2, -1}, {-2, 1}, {-1, 2},
}

// under-promotion directions are always one rank forward in the mover's POV:
// capture-left, push, capture-right.
var underDirs = [3][2]int{{1, -1}, {1, 0}, {1, 1}}
var underPieces = [3]Promo{PromoKnight, PromoBishop, PromoRook}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func sign(x int) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func reflect(sq int) int { return 63 - sq }

// Encode maps a move played by the side to move (whiteToMove) into
// [0, P). It returns ok=false if the move's geometry does not correspond
// to any policy slot (e.g. a piece drop, or a promo request for queen
// which callers must submit as PromoNone routed through the ray slots).
func Encode(from, to int, promo Promo, whiteToMove bool) (int, bool) {
	f, t := from, to
	if !whiteToMove {
		f, t = reflect(from), reflect(to)
	}

	fr, ff := f/8, f%8
	tr, tf := t/8, t%8
	dr, df := tr-fr, tf-ff

	var slot int
	switch {
	case promo != PromoNone:
		dirIdx := -1
		for i, d := range underDirs {
			if d[0] == dr && d[1] == df {
				dirIdx = i
				break
			}
		}
		if dirIdx < 0 {
			return 0, false
		}
		pieceIdx := -1
		for i, p := range underPieces {
			if p == promo {
				pieceIdx = i
				break
			}
		}
		if pieceIdx < 0 {
			return 0, false
		}
		slot = 64 + dirIdx*3 + pieceIdx

	case isKnightDelta(dr, df):
		idx := -1
		for i, o := range knightOffsets {
			if o[0] == dr && o[1] == df {
				idx = i
				break
			}
		}
		if idx < 0 {
			return 0, false
		}
		slot = 56 + idx

	default:
		dist := max(abs(dr), abs(df))
		if dist == 0 || dist > 7 {
			return 0, false
		}
		sdr, sdf := sign(dr), sign(df)
		if dr != sdr*dist || df != sdf*dist {
			return 0, false // not a pure straight/diagonal ray
		}
		dirIdx := -1
		for i, d := range rayDirs {
			if d[0] == sdr && d[1] == sdf {
				dirIdx = i
				break
			}
		}
		if dirIdx < 0 {
			return 0, false
		}
		slot = dirIdx*7 + (dist - 1)
	}

	return f*slotsPerSquare + slot, true
}

// Decode inverts Encode. ok=false only for a structurally malformed action
// index (out of range) or one whose geometry runs off the board; a
// structurally valid but illegal-in-context move is still returned with
// ok=true, per spec.md §4.1 — the caller must reject it against the actual
// position.
func Decode(action int, whiteToMove bool) (from, to int, promo Promo, ok bool) {
	if action < 0 || action >= P {
		return 0, 0, 0, false
	}

	f := action / slotsPerSquare
	slot := action % slotsPerSquare

	var dr, df int
	switch {
	case slot < 56:
		dirIdx := slot / 7
		dist := slot%7 + 1
		dr = rayDirs[dirIdx][0] * dist
		df = rayDirs[dirIdx][1] * dist
		promo = PromoNone
	case slot < 64:
		idx := slot - 56
		dr = knightOffsets[idx][0]
		df = knightOffsets[idx][1]
		promo = PromoNone
	default:
		idx := slot - 64
		dirIdx := idx / 3
		pieceIdx := idx % 3
		dr = underDirs[dirIdx][0]
		df = underDirs[dirIdx][1]
		promo = underPieces[pieceIdx]
	}

	fr, ff := f/8, f%8
	tr, tf := fr+dr, ff+df
	if tr < 0 || tr > 7 || tf < 0 || tf > 7 {
		return 0, 0, 0, false
	}
	t := tr*8 + tf

	if !whiteToMove {
		f, t = reflect(f), reflect(t)
	}
	return f, t, promo, true
}

func isKnightDelta(dr, df int) bool {
	a, b := abs(dr), abs(df)
	return (a == 1 && b == 2) || (a == 2 && b == 1)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
