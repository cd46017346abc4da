// Package train implements the Trainer Worker and Evaluator from
// spec.md §4.6/§4.7: clone-sample-train-evaluate-gate around a shared
// model.Handle and replay.Buffer.
package train

import (
	"context"
	"math/rand"
	"sync"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/mcts"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/obs"
	"golang.org/x/sync/errgroup"
)

// EvalConfig is the evaluator's tuning surface: spec.md §6's
// evaluate_batch/evaluate_games/evaluate_nodes/evaluate_target_pct.
type EvalConfig struct {
	Batch     int
	Games     int
	Nodes     int
	TargetPct int
	MCTS      mcts.Config
}

// Evaluate plays EvalConfig.Games full games between current and
// candidate, interleaving EvalConfig.Batch concurrent trees (one
// goroutine per tree, fanned out with errgroup — model.Handle's Infer is
// safe under concurrent callers per spec.md §5's reader-writer
// discipline). It reports whether the candidate should be promoted.
//
// Each round plays one full game per tree, then checks two early-abort
// conditions from spec.md §4.7: the running score can no longer
// mathematically reach target given the games left, or the score has
// already clinched it. It also aborts with ErrTransientEvaluator the
// moment another trainer promotes a newer generation than the candidate
// mid-evaluation.
func Evaluate(current, candidate model.Handle, cfg EvalConfig, rng *rand.Rand) (bool, error) {
	errs.Invariant(cfg.Batch > 0, "evaluator requires evaluate_batch > 0")
	errs.Invariant(cfg.Games > 0, "evaluator requires evaluate_games > 0")

	target := float64(cfg.Games) * float64(cfg.TargetPct) / 100

	candidateTurn := make([]int, cfg.Batch)
	for i := range candidateTurn {
		if i%2 == 0 {
			candidateTurn[i] = 1
		} else {
			candidateTurn[i] = -1
		}
	}

	var (
		mu    sync.Mutex
		score float64
		games int
	)

	for games < cfg.Games {
		if current.Generation() >= candidate.Generation() {
			return false, errs.Wrap(errs.ErrTransientEvaluator, "current model was promoted past candidate mid-evaluation")
		}

		batch := cfg.Batch
		if remaining := cfg.Games - games; remaining < batch {
			batch = remaining
		}

		g, _ := errgroup.WithContext(context.Background())
		roundScores := make([]float64, batch)
		for i := 0; i < batch; i++ {
			i := i
			turn := candidateTurn[i%len(candidateTurn)]
			seed := rng.Int63()
			g.Go(func() error {
				tree := mcts.New(chess.New(), cfg.MCTS, rand.New(rand.NewSource(seed)))
				s, err := playOneGame(current, candidate, tree, turn, cfg.Nodes)
				if err != nil {
					return err
				}
				roundScores[i] = s
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return false, err
		}

		mu.Lock()
		for _, s := range roundScores {
			score += s
			games++
		}
		mu.Unlock()
		for i := range candidateTurn {
			candidateTurn[i] = -candidateTurn[i]
		}

		remaining := cfg.Games - games
		if score+float64(remaining) < target {
			return false, nil
		}
		if score >= target {
			return true, nil
		}
	}

	return score/float64(games)*100 >= float64(cfg.TargetPct), nil
}

// playOneGame drives tree to a terminal position, routing each leaf's
// inference to current or candidate depending on whether the side to
// move matches candidateTurn, and returns the candidate's score
// contribution in [0,1] per spec.md §4.7 (0.5 for a draw). Every Expand
// call disables the bootstrap heuristic so gating measures the model
// alone.
func playOneGame(current, candidate model.Handle, tree *mcts.Tree, candidateTurn int, nodes int) (float64, error) {
	obsBuf := make([]float32, obs.Size)
	for {
		if tree.RootVisits() >= nodes {
			action := tree.Pick(0)
			ok := tree.Push(action)
			errs.Invariant(ok, "evaluator: pick returned an action the tree could not push")

			over, value, _ := tree.Env.Terminal()
			if over {
				// value is absolute and White-positive; candidateTurn is
				// which color the candidate played this game, so
				// value*candidateTurn is +1 if the candidate won, -1 if it
				// lost, 0 on a draw, and the /2+0.5 rescale matches spec.md
				// §4.7's [0,1] score contribution.
				return value*float64(candidateTurn)/2 + 0.5, nil
			}
			continue
		}

		ready := tree.Select(obsBuf)
		if !ready {
			continue
		}

		m := current
		if tree.Env.Turn() == candidateTurn {
			m = candidate
		}
		out, err := m.Infer(model.Batch{Inputs: obsBuf, B: 1})
		if err != nil {
			return 0, errs.Wrap(errs.ErrTransientEvaluator, "evaluator infer failed")
		}
		tree.Expand(out.Policy, float64(out.Value[0]), true)
	}
}
