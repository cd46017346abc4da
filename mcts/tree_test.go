package mcts

import (
	"math/rand"
	"testing"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/movecodec"
	"github.com/climbtree/chesszero/obs"
)

func testConfig() Config {
	return Config{
		Cpuct:                1.5,
		ForceExpandUnvisited: true,
		UnvisitedValue:       0,
		ScaleCpuctByActions:  false,
		NoiseAlpha:           0.3,
		NoiseWeight:          0.25,
	}
}

// uniformPolicy returns a policy vector that assigns equal mass to a
// fixed constant everywhere; Expand renormalizes over legal actions, so
// its exact scale does not matter.
func uniformPolicy() []float32 {
	p := make([]float32, chess.P)
	for i := range p {
		p[i] = 1
	}
	return p
}

// runCycle drives one full select/(expand|terminal-backprop) cycle with a
// mocked uniform-policy, value-0 model, and reports whether the tree is
// still growing (true) or the tree's root position itself was terminal on
// entry (should never happen for a live game).
func runCycle(t *Tree, policy []float32) {
	buf := obs.Get()
	defer obs.Put(buf)
	ready := t.Select(*buf)
	if ready {
		t.Expand(policy, 0, true)
	}
}

// TestTreeArithmetic exercises spec.md §8 property 3: root.n == 1 +
// Σ children.n, and, in the force_expand_unvisited regime where every
// cycle visits a previously-unvisited node until none remain at the
// shallowest depth, root.n tracks the number of completed cycles.
func TestTreeArithmetic(t *testing.T) {
	env := chess.New()
	tree := New(env, testConfig(), rand.New(rand.NewSource(3)))
	policy := uniformPolicy()

	const cycles = 200
	for i := 0; i < cycles; i++ {
		runCycle(tree, policy)
	}

	root := &tree.nodes[tree.root]
	sum := 0
	for _, c := range root.children {
		sum += tree.nodes[c].visits
	}
	if root.visits != sum+1 {
		t.Fatalf("root.visits=%d but sum(children.visits)+1=%d", root.visits, sum+1)
	}
	if root.visits != cycles+1 {
		t.Fatalf("root.visits=%d, expected %d (initial 1 plus one per cycle)", root.visits, cycles+1)
	}
}

// TestSelectExpandPushRoundTrip exercises the basic protocol: Select
// returns ready, Expand clears the pending target, and after enough
// visits Push/Pick/Snapshot all agree on the root's best-visited child.
func TestSelectExpandPushRoundTrip(t *testing.T) {
	env := chess.New()
	tree := New(env, testConfig(), rand.New(rand.NewSource(11)))
	policy := uniformPolicy()

	for i := 0; i < 50; i++ {
		runCycle(tree, policy)
	}

	snap := make([]float32, chess.P)
	tree.Snapshot(snap)
	total := float32(0)
	for _, p := range snap {
		total += p
	}
	if total < 0.99 || total > 1.01 {
		t.Fatalf("snapshot policy should sum to ~1, got %v", total)
	}

	action := tree.Pick(0)
	if !tree.Push(action) {
		t.Fatalf("push failed for an action returned by pick")
	}
}

// TestForcedMateIsFound exercises S2 from spec.md §8: with a uniform prior
// and value ≡ 0, driving enough selections must surface the only
// checkmating move via deterministic (alpha=0) pick.
func TestForcedMateIsFound(t *testing.T) {
	// White to move: Re1-e8 is checkmate (black's king on g8 is boxed in
	// by its own pawns on f7/g7/h7).
	env, err := chess.FromFEN("6k1/5ppp/8/8/8/8/8/4R2K w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	cfg := testConfig()
	cfg.NoiseWeight = 0 // isolate PUCT/backprop correctness from noise
	tree := New(env, cfg, rand.New(rand.NewSource(42)))
	policy := uniformPolicy()

	for i := 0; i < 1024; i++ {
		runCycle(tree, policy)
	}

	action := tree.Pick(0)
	from, to, _, ok := movecodec.Decode(action, true)
	if !ok {
		t.Fatalf("pick returned an undecodable action %d", action)
	}
	// e1 = 4, e8 = 60 in a standard 0=a1..63=h8 mapping.
	if from != 4 || to != 60 {
		t.Fatalf("expected pick to select Re1-e8 (4->60), got %d->%d", from, to)
	}
}
