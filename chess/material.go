package chess

import (
	"math/bits"

	"github.com/dylhunn/dragontoothmg"
)

// pieceValues are centipawn values used by the heuristic evaluation; no
// third-party evaluation library
// exists in the corpus, so this is a direct hand-rolled port of the
// standard piece-value table the same way Oliverans-GooseEngine's
// see.go/moveordering.go do it.
var pieceValues = [7]int{0, 100, 320, 330, 500, 900, 0}

func popcount(bb uint64) int { return bits.OnesCount64(bb) }

func sideMaterialCounts(side dragontoothmg.Bitboards) (pawns, knights, bishops, rooks, queens int) {
	return popcount(side.Pawns), popcount(side.Knights), popcount(side.Bishops), popcount(side.Rooks), popcount(side.Queens)
}

// insufficientMaterial implements spec.md §4.2's fixed list: K-K, K-vs-KB,
// KB-vs-KB, K-vs-KN, KN-vs-KN. Following original_source/kami/env.h:316-327
// exactly, the KB-vs-KB and KN-vs-KN cases require only equal material (one
// minor of the matching kind per side), not same-colored bishops: the
// original never inspects bishop square color at all, so neither do we.
func (e *Env) insufficientMaterial() bool {
	wp, wn, wb, wr, wq := sideMaterialCounts(e.board.White)
	bp, bn, bb2, br, bq := sideMaterialCounts(e.board.Black)

	if wp+bp+wr+br+wq+bq != 0 {
		return false // any pawn, rook, or queen on the board rules this out
	}

	whiteMinor := wn + wb
	blackMinor := bn + bb2
	if whiteMinor == 0 && blackMinor == 0 {
		return true // K-K
	}
	if wb+bb2 == 0 && wn+bn == 1 {
		return true // K vs KN
	}
	if wn+bn == 0 && wb+bb2 == 1 {
		return true // K vs KB
	}
	if wn == 1 && bn == 1 && wb == 0 && bb2 == 0 {
		return true // KN vs KN
	}
	if wb == 1 && bb2 == 1 && wn == 0 && bn == 0 {
		return true // KB vs KB
	}
	return false
}

// HeuristicEval returns a centipawn-like material+mobility evaluation from
// the perspective of the side to move — dragontoothmg supplies move
// generation and bitboards but no evaluation function, so this package
// supplies one directly, in the style of Oliverans-GooseEngine's
// searchutil.go piece-square/material scoring.
func HeuristicEval(b *dragontoothmg.Board) int {
	material := materialScore(b.White) - materialScore(b.Black)

	mobility := 0
	board := *b
	ownMoves := len(board.GenerateLegalMoves())
	board.Wtomove = !board.Wtomove
	oppMoves := len(board.GenerateLegalMoves())
	mobility = (ownMoves - oppMoves) * 2

	// material is White-minus-Black; mobility is already relative to the
	// side to move, so only material is flipped when Black is to move.
	if !b.Wtomove {
		material = -material
	}
	return material + mobility
}

func materialScore(side dragontoothmg.Bitboards) int {
	return popcount(side.Pawns)*pieceValues[dragontoothmg.Pawn] +
		popcount(side.Knights)*pieceValues[dragontoothmg.Knight] +
		popcount(side.Bishops)*pieceValues[dragontoothmg.Bishop] +
		popcount(side.Rooks)*pieceValues[dragontoothmg.Rook] +
		popcount(side.Queens)*pieceValues[dragontoothmg.Queen]
}
