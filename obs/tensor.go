// Package obs builds the observation tensor spec.md §3 describes: shape
// [H=8, W=8, F=30], side-to-move point of view, with a header of bit-planes
// replicated across every square followed by twelve one-hot piece planes.
//
// The pooled-buffer pattern (Get/Put around a sync.Pool) is grounded on
// brensch-snek2's executor/convert/convert.go, which uses the same
// allocate-once-reuse-forever discipline for per-inference feature tensors.
package obs

import (
	"sync"

	"github.com/climbtree/chesszero/chess"
	"github.com/dylhunn/dragontoothmg"
)

const (
	H = chess.H
	W = chess.W
	F = chess.F
	Size = H * W * F
)

var floatPool = sync.Pool{
	New: func() any {
		b := make([]float32, Size)
		return &b
	},
}

// Get returns a pooled buffer of length Size. Callers must zero it via
// Encode (which always overwrites every element) before reading.
func Get() *[]float32 { return floatPool.Get().(*[]float32) }

// Put returns a buffer obtained from Get back to the pool.
func Put(b *[]float32) { floatPool.Put(b) }

// index returns the flat offset of (rank, file, feature) in a [H,W,F]
// row-major layout.
func index(rank, file, feature int) int {
	return (rank*W+file)*F + feature
}

// Encode writes the observation tensor for e's current position into dst,
// which must have length Size. Encode is a pure function of e's state: two
// calls with the same position produce byte-identical output (spec.md §8
// property 6).
func Encode(e *chess.Env, dst []float32) {
	if len(dst) < Size {
		panic("obs: destination buffer too small")
	}
	for i := range dst[:Size] {
		dst[i] = 0
	}

	white := e.Turn() > 0
	ply := e.Ply() & 0xFF
	halfmove := e.HalfmoveClock() & 0x3F
	wK, wQ, bK, bQ := e.CastlingRights()
	selfK, selfQ, oppK, oppQ := wK, wQ, bK, bQ
	if !white {
		selfK, selfQ, oppK, oppQ = bK, bQ, wK, wQ
	}

	for povRank := 0; povRank < H; povRank++ {
		for povFile := 0; povFile < W; povFile++ {
			sq := povToSquare(povRank, povFile, white)

			base := 0
			for bit := 0; bit < 8; bit++ {
				dst[index(povRank, povFile, base+bit)] = float32((ply >> bit) & 1)
			}
			base += 8
			for bit := 0; bit < 6; bit++ {
				dst[index(povRank, povFile, base+bit)] = float32((halfmove >> bit) & 1)
			}
			base += 6
			dst[index(povRank, povFile, base+0)] = boolF(selfK)
			dst[index(povRank, povFile, base+1)] = boolF(selfQ)
			dst[index(povRank, povFile, base+2)] = boolF(oppK)
			dst[index(povRank, povFile, base+3)] = boolF(oppQ)
			base += 4

			piece, isWhite, occupied := e.PieceAt(sq)
			if occupied {
				own := isWhite == white
				planeOffset := pieceIndex(piece)
				if !own {
					planeOffset += 6
				}
				dst[index(povRank, povFile, base+planeOffset)] = 1
			}
		}
	}
}

func boolF(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// povToSquare maps a (rank, file) coordinate in the side-to-move's point of
// view back to an absolute board square, reflecting through the center when
// black is to move — the same reflection movecodec applies to moves.
func povToSquare(povRank, povFile int, white bool) int {
	sq := povRank*8 + povFile
	if !white {
		sq = 63 - sq
	}
	return sq
}

func pieceIndex(p dragontoothmg.Piece) int {
	switch p {
	case dragontoothmg.Pawn:
		return 0
	case dragontoothmg.Knight:
		return 1
	case dragontoothmg.Bishop:
		return 2
	case dragontoothmg.Rook:
		return 3
	case dragontoothmg.Queen:
		return 4
	case dragontoothmg.King:
		return 5
	default:
		return -1
	}
}
