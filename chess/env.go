// Package chess is the game environment described in spec.md §4.2. It
// wraps a dragontoothmg.Board plus a move-history stack behind the Env
// interface the MCTS core depends on: actions, observe, push/pop, terminal
// detection, a bootstrap heuristic, and PGN/FEN formatting.
//
// The rules engine itself (legality, Zobrist hashing, FEN parsing) is
// entirely delegated to github.com/dylhunn/dragontoothmg; this package only
// adds what that library does not provide — repetition/halfmove tracking,
// the policy-index adapter (movecodec), heuristic evaluation, and PGN
// rendering.
package chess

import (
	"fmt"
	"strings"

	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/movecodec"
	"github.com/dylhunn/dragontoothmg"
)

// Board dimensions and observation depth, per spec.md §3.
const (
	H = 8
	W = 8
	F = 30
	P = movecodec.P
)

// RepetitionThreshold resolves spec.md §9's open question in favor of
// tournament-chess convention (>= 3, not > 3).
const RepetitionThreshold = 3

// HalfmoveLimit is the ply count at which the fifty-move rule fires. The
// counter here is plies since the last pawn move or capture, and spec.md §4.2
// fixes the threshold at 50 rather than the traditional 100 (50 full moves);
// this is a deliberate spec choice, not a bug in this implementation.
const HalfmoveLimit = 50

// Reason names why terminal() returned true.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonCheckmate
	ReasonStalemate
	ReasonFiftyMove
	ReasonRepetition
	ReasonInsufficientMaterial
)

func (r Reason) String() string {
	switch r {
	case ReasonCheckmate:
		return "checkmate"
	case ReasonStalemate:
		return "stalemate"
	case ReasonFiftyMove:
		return "fifty-move"
	case ReasonRepetition:
		return "repetition"
	case ReasonInsufficientMaterial:
		return "insufficient-material"
	default:
		return "none"
	}
}

type undoEntry struct {
	state         func()
	move          dragontoothmg.Move
	prevHalfmove  int
	prevHash      uint64
	prevLegal     []dragontoothmg.Move
	prevLegalOK   bool
}

// Env is the mutable game-state stack the MCTS tree pushes and pops along a
// single search path. It is created once per tree (spec.md §3, "Lifetime")
// and is not safe for concurrent use.
type Env struct {
	board dragontoothmg.Board

	halfmoveClock int
	hashCounts    map[uint64]int

	history []undoEntry
	moves   []dragontoothmg.Move // move list for ToPGN

	legal   []dragontoothmg.Move
	legalOK bool
}

// New returns an Env at the standard starting position.
func New() *Env {
	e, err := FromFEN(dragontoothmg.Startpos)
	if err != nil {
		// Startpos is a library constant; a parse failure here is a
		// programmer error, not a runtime condition.
		panic(errs.Wrap(errs.ErrProgrammerInvariant, "parse startpos"))
	}
	return e
}

// FromFEN returns an Env initialized from a FEN string.
func FromFEN(fen string) (*Env, error) {
	board := dragontoothmg.ParseFen(fen)
	e := &Env{
		board:      board,
		hashCounts: make(map[uint64]int, 64),
	}
	e.hashCounts[board.Hash()]++
	return e, nil
}

// Turn returns +1 if white is to move, -1 otherwise.
func (e *Env) Turn() int {
	if e.board.Wtomove {
		return 1
	}
	return -1
}

// Ply returns the number of half-moves played so far.
func (e *Env) Ply() int { return len(e.history) }

// HalfmoveClock returns plies since the last pawn move or capture.
func (e *Env) HalfmoveClock() int { return e.halfmoveClock }

// RepetitionCount returns how many times the current position (by Zobrist
// hash) has occurred, including the current occurrence.
func (e *Env) RepetitionCount() int { return e.hashCounts[e.board.Hash()] }

func (e *Env) legalMoves() []dragontoothmg.Move {
	if !e.legalOK {
		e.legal = e.board.GenerateLegalMoves()
		e.legalOK = true
	}
	return e.legal
}

// Actions returns the legal moves at the current position, encoded into the
// fixed policy index space. The result is memoized until the next Push/Pop.
func (e *Env) Actions() []int {
	moves := e.legalMoves()
	out := make([]int, 0, len(moves))
	for _, m := range moves {
		a, ok := movecodec.Encode(int(m.From()), int(m.To()), promoOf(m), e.board.Wtomove)
		errs.Invariant(ok, "legal move failed to encode")
		out = append(out, a)
	}
	return out
}

func promoOf(m dragontoothmg.Move) movecodec.Promo {
	switch m.Promote() {
	case dragontoothmg.Knight:
		return movecodec.PromoKnight
	case dragontoothmg.Bishop:
		return movecodec.PromoBishop
	case dragontoothmg.Rook:
		return movecodec.PromoRook
	default:
		return movecodec.PromoNone // covers "no promotion" and queen promotion
	}
}

// findLegal returns the legal move matching a decoded (from, to, promo)
// triple, or ok=false if no such legal move exists — the codec's decode is a
// partial inverse and callers must treat a mismatch as "no move" (spec.md
// §4.1).
func (e *Env) findLegal(from, to int, promo movecodec.Promo) (dragontoothmg.Move, bool) {
	for _, m := range e.legalMoves() {
		if int(m.From()) != from || int(m.To()) != to {
			continue
		}
		if promoOf(m) == promo {
			return m, true
		}
	}
	return 0, false
}

// Push decodes action against the current side to move and, if it names a
// legal move, applies it. It returns false (and leaves the environment
// unchanged) if the action does not decode to a legal move here.
func (e *Env) Push(action int) bool {
	from, to, promo, ok := movecodec.Decode(action, e.board.Wtomove)
	if !ok {
		return false
	}
	m, ok := e.findLegal(from, to, promo)
	if !ok {
		return false
	}
	return e.pushMove(m)
}

func (e *Env) pushMove(m dragontoothmg.Move) bool {
	isPawnOrCapture := isPawnMove(&e.board, m) || dragontoothmg.IsCapture(m, &e.board)

	entry := undoEntry{
		move:         m,
		prevHalfmove: e.halfmoveClock,
		prevHash:     e.board.Hash(),
		prevLegal:    e.legal,
		prevLegalOK:  e.legalOK,
	}
	entry.state = e.board.Apply(m)

	if isPawnOrCapture {
		e.halfmoveClock = 0
	} else {
		e.halfmoveClock++
	}

	e.history = append(e.history, entry)
	e.moves = append(e.moves, m)
	e.hashCounts[e.board.Hash()]++
	e.legalOK = false
	return true
}

// Pop undoes the last Push. It is a programmer error to call Pop with no
// history.
func (e *Env) Pop() {
	errs.Invariant(len(e.history) > 0, "pop with empty history")
	n := len(e.history) - 1
	entry := e.history[n]

	e.hashCounts[e.board.Hash()]--
	if e.hashCounts[e.board.Hash()] == 0 {
		delete(e.hashCounts, e.board.Hash())
	}

	entry.state()
	e.halfmoveClock = entry.prevHalfmove
	e.legal = entry.prevLegal
	e.legalOK = entry.prevLegalOK

	e.history = e.history[:n]
	e.moves = e.moves[:len(e.moves)-1]
}

func isPawnMove(b *dragontoothmg.Board, m dragontoothmg.Move) bool {
	var pawns uint64
	if b.Wtomove {
		pawns = b.White.Pawns
	} else {
		pawns = b.Black.Pawns
	}
	return pawns&(1<<m.From()) != 0
}

// Terminal reports whether the position is over, per spec.md §4.2: the
// fifty-move rule, threefold-or-more repetition, insufficient material, or
// no legal moves (checkmate/stalemate). value is absolute and
// White-positive (White checkmated → -1, Black checkmated → +1, every
// draw → 0), matching original_source/kami/env.h's terminal_str: it does
// not depend on which side is to move at this position, only on who
// actually won.
func (e *Env) Terminal() (over bool, value float64, reason Reason) {
	if e.halfmoveClock >= HalfmoveLimit {
		return true, 0, ReasonFiftyMove
	}
	if e.RepetitionCount() >= RepetitionThreshold {
		return true, 0, ReasonRepetition
	}
	if e.insufficientMaterial() {
		return true, 0, ReasonInsufficientMaterial
	}
	if len(e.legalMoves()) == 0 {
		if e.board.OurKingInCheck() {
			// The side to move is mated, so the mover's opponent wins:
			// value is the negation of whoever is currently to move.
			return true, -float64(e.Turn()), ReasonCheckmate
		}
		return true, 0, ReasonStalemate
	}
	return false, 0, ReasonNone
}

// BootstrapValue evaluates the heuristic at the current position and
// returns it divided by window, clamped to [-1, 1], from the perspective of
// the player who made the last move (the side not to move) — the same
// convention Tree.Expand uses for the model's value (spec.md §4.3 step 4,
// resolving the sign/timing open question in §9: evaluated at the leaf's
// resulting state, in the action-maker's point of view).
func (e *Env) BootstrapValue(window float64) float64 {
	if window == 0 {
		window = 1
	}
	cp := -float64(HeuristicEval(&e.board))
	v := cp / window
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	return v
}

// ToFEN requires nothing about terminal state and is used for logging and
// debugging positions mid-search.
func (e *Env) ToFEN() string { return e.board.ToFen() }

// ToPGN renders the full move history as a PGN move-text string. It is a
// programmer error to call it before the game has reached a terminal state.
func (e *Env) ToPGN(result string) string {
	over, _, _ := e.Terminal()
	errs.Invariant(over, "ToPGN called on a non-terminal position")
	return renderPGN(e.moves, result)
}

// Clone returns a deep, independent copy suitable for the evaluator and
// checkpointed self-play, which need to fork a position without disturbing
// the original tree's environment.
func (e *Env) Clone() *Env {
	clone := &Env{
		board:         e.board,
		halfmoveClock: e.halfmoveClock,
		hashCounts:    make(map[uint64]int, len(e.hashCounts)),
		history:       append([]undoEntry(nil), e.history...),
		moves:         append([]dragontoothmg.Move(nil), e.moves...),
		legal:         append([]dragontoothmg.Move(nil), e.legal...),
		legalOK:       e.legalOK,
	}
	for k, v := range e.hashCounts {
		clone.hashCounts[k] = v
	}
	return clone
}

// PieceAt returns the piece occupying sq (0=a1..63=h8) and whether it is
// white's, or ok=false if the square is empty.
func (e *Env) PieceAt(sq int) (piece dragontoothmg.Piece, isWhite bool, ok bool) {
	p, w := pieceAt(&e.board, sq)
	if p == 0 {
		return 0, false, false
	}
	return p, w, true
}

// CastlingRights parses the current FEN's castling field, since
// dragontoothmg does not expose it as typed fields directly.
func (e *Env) CastlingRights() (whiteK, whiteQ, blackK, blackQ bool) {
	fields := strings.Fields(e.ToFEN())
	if len(fields) < 3 {
		return false, false, false, false
	}
	rights := fields[2]
	return strings.Contains(rights, "K"),
		strings.Contains(rights, "Q"),
		strings.Contains(rights, "k"),
		strings.Contains(rights, "q")
}

func (e *Env) String() string {
	return fmt.Sprintf("Env{fen=%s ply=%d halfmove=%d}", e.ToFEN(), e.Ply(), e.halfmoveClock)
}
