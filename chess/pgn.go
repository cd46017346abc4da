package chess

import (
	"fmt"
	"strings"

	"github.com/dylhunn/dragontoothmg"
)

var pieceLetters = map[dragontoothmg.Piece]string{
	dragontoothmg.Knight: "N",
	dragontoothmg.Bishop: "B",
	dragontoothmg.Rook:   "R",
	dragontoothmg.Queen:  "Q",
	dragontoothmg.King:   "K",
}

var files = "abcdefgh"

func squareName(sq int) string {
	return fmt.Sprintf("%c%d", files[sq%8], sq/8+1)
}

// renderPGN produces a best-effort SAN move-text for a finished game,
// replayed from the standard starting position. It writes piece letters,
// capture markers, castling and promotions; it adds no check or mate
// markers and does no disambiguation between same-type pieces, which is
// sufficient for archival/debugging rather than strict tournament PGN
// export.
func renderPGN(moves []dragontoothmg.Move, result string) string {
	var b strings.Builder
	replay := New()
	for i, m := range moves {
		if i%2 == 0 {
			fmt.Fprintf(&b, "%d. ", i/2+1)
		}
		b.WriteString(sanFor(replay, m))
		b.WriteString(" ")
		replay.pushMove(m)
	}
	b.WriteString(result)
	return b.String()
}

func sanFor(e *Env, m dragontoothmg.Move) string {
	from, to := int(m.From()), int(m.To())
	piece, isWhite := pieceAt(&e.board, from)
	capture := dragontoothmg.IsCapture(m, &e.board)

	if piece == dragontoothmg.King && abs64(to-from) == 2 {
		if to%8 == 6 {
			return "O-O"
		}
		return "O-O-O"
	}

	var sb strings.Builder
	letter, isPiece := pieceLetters[piece]
	if isPiece {
		sb.WriteString(letter)
	}

	if piece == dragontoothmg.Pawn && capture {
		sb.WriteString(string(files[from%8]))
	}
	if capture {
		sb.WriteString("x")
	}
	sb.WriteString(squareName(to))

	if promo := m.Promote(); promo != 0 {
		sb.WriteString("=")
		sb.WriteString(pieceLetters[promo])
	}
	_ = isWhite
	return sb.String()
}

func pieceAt(b *dragontoothmg.Board, sq int) (dragontoothmg.Piece, bool) {
	mask := uint64(1) << uint(sq)
	if b.White.Pawns&mask != 0 {
		return dragontoothmg.Pawn, true
	}
	if b.White.Knights&mask != 0 {
		return dragontoothmg.Knight, true
	}
	if b.White.Bishops&mask != 0 {
		return dragontoothmg.Bishop, true
	}
	if b.White.Rooks&mask != 0 {
		return dragontoothmg.Rook, true
	}
	if b.White.Queens&mask != 0 {
		return dragontoothmg.Queen, true
	}
	if b.White.Kings&mask != 0 {
		return dragontoothmg.King, true
	}
	if b.Black.Pawns&mask != 0 {
		return dragontoothmg.Pawn, false
	}
	if b.Black.Knights&mask != 0 {
		return dragontoothmg.Knight, false
	}
	if b.Black.Bishops&mask != 0 {
		return dragontoothmg.Bishop, false
	}
	if b.Black.Rooks&mask != 0 {
		return dragontoothmg.Rook, false
	}
	if b.Black.Queens&mask != 0 {
		return dragontoothmg.Queen, false
	}
	if b.Black.Kings&mask != 0 {
		return dragontoothmg.King, false
	}
	return 0, false
}

func abs64(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
