// Package mcts implements the search core described in spec.md §4.3: a
// batched, single-tree-at-a-time Monte Carlo Tree Search with PUCT
// selection, Dirichlet-style noise at expansion, optional value
// bootstrapping from a domain heuristic, and temperature-controlled
// sampling at the root.
//
// The tree topology follows spec.md §9's design note: an index-based arena
// per tree, parent links as indices rather than pointers, and root-commit
// as a "reroot" that discards everything outside the selected subtree. This
// mirrors brensch-snek2's executor/mcts/node.go — a slice-backed node with
// visit/value/prior fields and a fixed child fan-out — generalized from a
//4-way grid game to chess's variable branching factor and reworked to
// carry the config-driven PUCT/noise/bootstrap machinery spec.md §4.3
// requires.
package mcts

import (
	"math"
	"math/rand"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/obs"
)

type nodeIdx int32

const noNode nodeIdx = -1

// node is one arena slot. children is empty for an unexpanded or terminal
// node and otherwise covers exactly the legal moves of the post-action
// state, per spec.md §3's Node invariants.
type node struct {
	parent   nodeIdx
	action   int // policy index that produced this node; -1 for the root
	turn     int // sign of the player who played the move leading here
	prior    float64
	visits   int
	valueSum float64
	children []nodeIdx
	expanded bool
	terminal bool
}

// Config holds the MCTS tuning surface from spec.md §4.3, sourced from
// config.Config at construction.
type Config struct {
	Cpuct                float64
	ForceExpandUnvisited bool
	UnvisitedValue       float64 // in [-1, 1], the source's "unvisited_node_value_pct" / 100
	BootstrapWeight      float64
	BootstrapWindow      float64
	BootstrapAmp         float64
	ScaleCpuctByActions  bool
	NoiseAlpha           float64
	NoiseWeight          float64
}

// Tree is a single MCTS search tree over one owned chess.Env. It is not
// safe for concurrent use: within a tree, selection, expansion, and root
// commits are strictly serialized by whichever search worker owns it
// (spec.md §5).
type Tree struct {
	Env    *chess.Env
	cfg    Config
	rng    *rand.Rand
	nodes  []node
	root   nodeIdx
	target nodeIdx // pending leaf awaiting Expand; noNode otherwise
}

// New creates a tree rooted at env's current position. The root's turn is
// -env.Turn() so that each child's turn equals the sign of the player who
// played the move leading to it (spec.md §3).
func New(env *chess.Env, cfg Config, rng *rand.Rand) *Tree {
	t := &Tree{Env: env, cfg: cfg, rng: rng}
	t.resetArena()
	return t
}

func (t *Tree) resetArena() {
	t.nodes = t.nodes[:0]
	t.nodes = append(t.nodes, node{parent: noNode, action: -1, turn: -t.Env.Turn()})
	t.root = 0
	t.target = noNode
}

// Reset discards the tree's arena and rebinds it to env, dropping all
// accumulated statistics.
func (t *Tree) Reset(env *chess.Env) {
	t.Env = env
	t.resetArena()
}

// RootVisits exposes the root's visit count for observability/status
// reporting.
func (t *Tree) RootVisits() int { return t.nodes[t.root].visits }

// NodeCount exposes the arena size for observability.
func (t *Tree) NodeCount() int { return len(t.nodes) }

// PendingExpand reports whether the tree is parked at a leaf awaiting
// Expand.
func (t *Tree) PendingExpand() bool { return t.target != noNode }

// Select descends from the root by PUCT until it either reaches a terminal
// position (in which case it backs up the terminal value itself and
// returns ready=false, with the environment and target reset at the root)
// or an unexpanded non-terminal leaf (writes the observation into obsBuf,
// parks target at the leaf with the environment pushed along the selected
// path, and returns ready=true — Expand must be the next call).
func (t *Tree) Select(obsBuf []float32) (ready bool) {
	errs.Invariant(t.target == noNode, "select called with an expand already pending")

	cur := t.root
	for t.nodes[cur].expanded {
		cur = t.bestChild(cur)
		ok := t.Env.Push(t.nodes[cur].action)
		errs.Invariant(ok, "failed to replay a previously expanded child's action")
	}

	over, value, _ := t.Env.Terminal()
	if over {
		t.nodes[cur].terminal = true
		// Env.Terminal already returns an absolute, White-positive value;
		// backpropAndPop reuses this single v at every ancestor level
		// (each node derives its own perspective as v * its own turn), so
		// it is passed straight through here — unlike Expand's backup
		// below, whose model value is relative to the player who moved
		// into the leaf and is scaled by the leaf's turn first.
		t.backpropAndPop(cur, value)
		return false
	}

	obs.Encode(t.Env, obsBuf)
	t.target = cur
	return true
}

func (t *Tree) bestChild(parent nodeIdx) nodeIdx {
	p := &t.nodes[parent]
	errs.Invariant(len(p.children) > 0, "bestChild called on a childless expanded node")

	if t.cfg.ForceExpandUnvisited {
		for _, c := range p.children {
			if t.nodes[c].visits == 0 {
				return c
			}
		}
	}

	cpuctEff := t.cfg.Cpuct
	if t.cfg.ScaleCpuctByActions {
		cpuctEff /= float64(len(p.children))
	}
	sqrtParent := math.Sqrt(float64(p.visits))

	best := p.children[0]
	bestScore := math.Inf(-1)
	for _, c := range p.children {
		child := &t.nodes[c]
		var q float64
		if child.visits > 0 {
			q = child.valueSum / float64(child.visits)
		} else {
			q = 0.5 + t.cfg.UnvisitedValue*float64(child.turn)/2
		}
		u := q + child.prior*cpuctEff*sqrtParent/(1+float64(child.visits))
		if u > bestScore {
			bestScore = u
			best = c
		}
	}
	return best
}

// Expand supplies the leaf's priors and value after inference and advances
// the tree per spec.md §4.3: renormalize the policy over legal actions,
// blend in Dirichlet-style noise, create the leaf's children, compute the
// (optionally bootstrap-blended) backup value, and propagate it to the
// root while popping the environment back to the root state.
func (t *Tree) Expand(policy []float32, value float64, disableBootstrap bool) {
	errs.Invariant(t.target != noNode, "expand called with no pending target")
	leaf := t.target

	actions := t.Env.Actions()
	errs.Invariant(len(actions) > 0, "expand at a non-terminal leaf with no legal actions")

	p := make([]float64, len(actions))
	sum := 0.0
	for i, a := range actions {
		pi := float64(policy[a])
		errs.Invariant(pi == pi && pi >= 0, "policy entry is NaN or negative")
		p[i] = pi
		sum += pi
	}
	if sum <= 0 {
		for i := range p {
			p[i] = 1.0 / float64(len(p))
		}
	} else {
		for i := range p {
			p[i] /= sum
		}
	}

	noise := sampleDirichlet(t.rng, len(actions), t.cfg.NoiseAlpha)
	priors := make([]float64, len(actions))
	for i := range p {
		priors[i] = (1-t.cfg.NoiseWeight)*p[i] + t.cfg.NoiseWeight*noise[i]
	}

	childTurn := -t.nodes[leaf].turn
	children := make([]nodeIdx, len(actions))
	for i, a := range actions {
		idx := nodeIdx(len(t.nodes))
		t.nodes = append(t.nodes, node{parent: leaf, action: a, turn: childTurn, prior: priors[i]})
		children[i] = idx
	}
	t.nodes[leaf].children = children
	t.nodes[leaf].expanded = true

	// value (and the heuristic) arrive from the point of view of the
	// player who made the move into the leaf — the convention of the search
	// worker's training labels (pov = -env.Turn() at capture). That player
	// is the leaf's own turn, so scaling by target.turn yields the
	// absolute, White-positive value backpropAndPop expects.
	blended := value
	if t.cfg.BootstrapWeight > 0 && !disableBootstrap {
		bw := t.cfg.BootstrapWeight
		heuristic := t.Env.BootstrapValue(t.cfg.BootstrapWindow) * t.cfg.BootstrapAmp
		blended = (1-bw)*value + bw*heuristic
	}
	vEff := blended * float64(t.nodes[leaf].turn)

	t.backpropAndPop(leaf, vEff)
	t.target = noNode
}

// backpropAndPop walks from node up to the root, applying
// n += 1; w += 0.5 + (v * turn) / 2 at each node (spec.md §4.3's Backprop),
// popping the environment once per level so it ends up back at the root.
func (t *Tree) backpropAndPop(leaf nodeIdx, v float64) {
	cur := leaf
	for {
		n := &t.nodes[cur]
		n.visits++
		n.valueSum += 0.5 + v*float64(n.turn)/2
		if cur == t.root {
			return
		}
		t.Env.Pop()
		cur = n.parent
	}
}

// Push commits action at the root: drops all root children except the one
// matching it, rotates that child into the new root, and advances the
// environment. It returns false if no root child matches action.
//
// The old root and its other children become unreachable arena garbage;
// the tree is never compacted, and the batched search worker bounds memory
// by replacing the whole tree when a game ends or its source generation
// goes stale (spec.md §4.4) rather than compacting on every commit, matching
// spec.md §9's "wholesale arena drop" recommendation over incremental
// reclamation.
func (t *Tree) Push(action int) bool {
	root := &t.nodes[t.root]
	chosen := noNode
	for _, c := range root.children {
		if t.nodes[c].action == action {
			chosen = c
			break
		}
	}
	if chosen == noNode {
		return false
	}
	ok := t.Env.Push(action)
	errs.Invariant(ok, "root commit action not legal in environment")

	t.nodes[chosen].parent = noNode
	t.root = chosen
	return true
}

// Pick samples an action from the root's children: argmax by visit count
// when alpha < 0.1 (deterministic), otherwise proportional to n^(1/alpha).
func (t *Tree) Pick(alpha float64) int {
	root := &t.nodes[t.root]
	errs.Invariant(len(root.children) > 0, "pick called on an unexpanded root")

	if alpha < 0.1 {
		best := root.children[0]
		bestN := -1
		for _, c := range root.children {
			if t.nodes[c].visits > bestN {
				bestN = t.nodes[c].visits
				best = c
			}
		}
		return t.nodes[best].action
	}

	weights := make([]float64, len(root.children))
	total := 0.0
	for i, c := range root.children {
		w := math.Pow(float64(t.nodes[c].visits), 1/alpha)
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return t.nodes[root.children[0]].action
	}
	r := t.rng.Float64() * total
	acc := 0.0
	for i, c := range root.children {
		acc += weights[i]
		if r <= acc {
			return t.nodes[c].action
		}
	}
	return t.nodes[root.children[len(root.children)-1]].action
}

// Snapshot zeroes dst (which must have length chess.P) and sets
// dst[c.action] = c.visits / (root.visits - 1) for each root child,
// producing the training policy target (spec.md §4.3).
func (t *Tree) Snapshot(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	root := &t.nodes[t.root]
	denom := float64(root.visits - 1)
	if denom <= 0 {
		denom = 1
	}
	for _, c := range root.children {
		dst[t.nodes[c].action] = float32(float64(t.nodes[c].visits) / denom)
	}
}
