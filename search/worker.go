// Package search implements the batched search worker from spec.md §4.4:
// a fixed pool of concurrent MCTS trees that share one model handle,
// batching leaf evaluations across all of them before calling infer once
// per round, and feeding completed games into the shared replay buffer.
//
// The main-loop shape (drive each tree until it needs inference or hits
// its node quota, then run one batched infer, then expand every tree with
// its slice of the result) is grounded on
// brensch-snek2/executor/inference/onnx.go's batchLoop, but restructured
// per spec.md §4.4: there the client queued individual requests from
// unrelated callers behind a channel and a ticker; here the worker itself
// owns all ibatch trees and is the sole caller, so batch assembly is a
// plain loop over owned slots rather than a channel-select loop, and
// there is no timeout — a round always waits for every slot to either
// need inference or finish committing at the node quota.
package search

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/mcts"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/obs"
	"github.com/climbtree/chesszero/replay"
)

// Config is the self-play tuning surface from spec.md §4.4 and §6.
type Config struct {
	IBatch        int
	Nodes         int // per-tree node quota before a root commit
	AlphaInitial  float64
	AlphaDecay    float64
	AlphaFinal    float64
	AlphaCutoff   int
	DrawValue     float64
	FlushOldTrees bool
	MCTS          mcts.Config
}

// trajectory is spec.md §3's Trajectory entry: captured at root commit,
// later labeled with the game's terminal value.
type trajectory struct {
	obs          []float32
	targetPolicy []float32
	pov          int
}

type treeSlot struct {
	tree             *mcts.Tree
	sourceGeneration uint64
	trajectories     []trajectory
	obsBuf           []float32
}

// Worker drives IBatch concurrent trees against one shared model.Handle
// and replay.Buffer. It is not safe for concurrent use by more than one
// goroutine — spec.md §5 assigns each inference-search worker its own
// exclusive tree ownership.
type Worker struct {
	cfg   Config
	model model.Handle
	buf   *replay.Buffer
	rng   *rand.Rand
	onPGN func(pgn string, plies int, result string)

	slots []treeSlot

	uncommitted atomic.Int64 // status: total trajectories awaiting a terminal commit
}

// NewWorker builds a worker with cfg.IBatch fresh trees, each starting a
// new game from the standard position.
func NewWorker(cfg Config, m model.Handle, buf *replay.Buffer, onPGN func(pgn string, plies int, result string), rng *rand.Rand) *Worker {
	errs.Invariant(cfg.IBatch > 0, "search worker requires ibatch > 0")
	w := &Worker{cfg: cfg, model: m, buf: buf, onPGN: onPGN, rng: rng}
	w.slots = make([]treeSlot, cfg.IBatch)
	for i := range w.slots {
		w.slots[i] = w.freshSlot()
	}
	return w
}

func (w *Worker) freshSlot() treeSlot {
	env := chess.New()
	return treeSlot{
		tree:             mcts.New(env, w.cfg.MCTS, w.rng),
		sourceGeneration: w.model.Generation(),
		obsBuf:           make([]float32, obs.Size),
	}
}

// Uncommitted reports the total number of captured trajectories not yet
// flushed to the replay buffer, for the shared status slot spec.md §4.4
// requires.
func (w *Worker) Uncommitted() int64 { return w.uncommitted.Load() }

// Run drives RunOnce in a loop until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := w.RunOnce(); err != nil {
			return err
		}
	}
}

// RunOnce drives one full round: every slot either fills the shared
// inference batch or exhausts commits without needing one, then (if the
// batch is non-empty) runs one model.Infer call and expands every
// waiting tree with its slice of the result.
func (w *Worker) RunOnce() error {
	pendingIdx := make([]int, 0, len(w.slots))
	batchInputs := make([]float32, 0, len(w.slots)*obs.Size)

	for i := range w.slots {
		s := &w.slots[i]

		if w.cfg.FlushOldTrees {
			gen := w.model.Generation()
			if gen > s.sourceGeneration {
				w.uncommitted.Add(-int64(len(s.trajectories)))
				*s = w.freshSlot()
				s.sourceGeneration = gen
			}
		}

		for {
			if s.tree.RootVisits() >= w.cfg.Nodes {
				terminalGame := w.commitRoot(s)
				if terminalGame {
					*s = w.freshSlot()
				}
				continue
			}
			ready := s.tree.Select(s.obsBuf)
			if ready {
				pendingIdx = append(pendingIdx, i)
				batchInputs = append(batchInputs, s.obsBuf...)
				break
			}
		}
	}

	if len(pendingIdx) == 0 {
		return nil
	}

	out, err := w.model.Infer(model.Batch{Inputs: batchInputs, B: len(pendingIdx)})
	if err != nil {
		return err
	}
	for k, i := range pendingIdx {
		policy := out.Policy[k*chess.P : (k+1)*chess.P]
		value := float64(out.Value[k])
		w.slots[i].tree.Expand(policy, value, false)
	}
	return nil
}

// commitRoot performs spec.md §4.4 step 3: snapshot the target policy,
// capture the trajectory, sample and commit an action, and — if the game
// just ended — flush every captured trajectory for this tree into the
// replay buffer. It returns whether the post-commit position is terminal.
func (w *Worker) commitRoot(s *treeSlot) (terminal bool) {
	snap := make([]float32, chess.P)
	s.tree.Snapshot(snap)

	obsSnap := make([]float32, obs.Size)
	obs.Encode(s.tree.Env, obsSnap)
	pov := -s.tree.Env.Turn()

	alpha := alphaForPly(s.tree.Env.Ply(), w.cfg)
	action := s.tree.Pick(alpha)
	ok := s.tree.Push(action)
	errs.Invariant(ok, "commitRoot: pick returned an action the tree could not push")

	s.trajectories = append(s.trajectories, trajectory{obs: obsSnap, targetPolicy: snap, pov: pov})
	w.uncommitted.Add(1)

	over, value, _ := s.tree.Env.Terminal()
	if !over {
		return false
	}

	if w.onPGN != nil {
		result := pgnResult(value)
		w.onPGN(s.tree.Env.ToPGN(result), s.tree.Env.Ply(), result)
	}

	for _, traj := range s.trajectories {
		targetValue := w.cfg.DrawValue
		if value != 0 {
			targetValue = float64(traj.pov) * value
		}
		w.buf.Add(traj.obs, traj.targetPolicy, float32(targetValue))
	}
	w.uncommitted.Add(-int64(len(s.trajectories)))
	s.trajectories = nil
	return true
}

// alphaForPly implements spec.md §4.4's piecewise sampling-temperature
// curve: ply < cutoff ? decay^ply * initial : final.
func alphaForPly(ply int, cfg Config) float64 {
	if ply < cfg.AlphaCutoff {
		return math.Pow(cfg.AlphaDecay, float64(ply)) * cfg.AlphaInitial
	}
	return cfg.AlphaFinal
}

// pgnResult maps chess.Env.Terminal's absolute, White-positive value to a
// standard PGN result tag.
func pgnResult(value float64) string {
	switch {
	case value > 0:
		return "1-0"
	case value < 0:
		return "0-1"
	default:
		return "1/2-1/2"
	}
}
