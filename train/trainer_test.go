package train

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/mcts"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/obs"
	"github.com/climbtree/chesszero/replay"
)

func mctsTestConfig() mcts.Config {
	return mcts.Config{
		Cpuct:                1.5,
		ForceExpandUnvisited: true,
		UnvisitedValue:       0,
		NoiseAlpha:           0.3,
		NoiseWeight:          0.25,
	}
}

// stubModel is a minimal model.Handle for trainer/evaluator tests: Infer
// returns a uniform policy and a caller-controlled value, Train always
// succeeds and bumps the generation, Clone is a deep, independent copy.
// Write records the generation under path in a checkpoint map shared with
// every clone, and Read loads the generation back from it, so a promotion
// (candidate writes, production model reads) is observable.
type stubModel struct {
	mu          sync.Mutex
	generation  uint64
	value       float32
	checkpoints map[string]uint64
}

func newStub(value float32) *stubModel {
	return &stubModel{value: value, checkpoints: make(map[string]uint64)}
}

func (m *stubModel) Infer(batch model.Batch) (model.Output, error) {
	out := model.Output{Policy: make([]float32, batch.B*chess.P), Value: make([]float32, batch.B)}
	m.mu.Lock()
	v := m.value
	m.mu.Unlock()
	for i := 0; i < batch.B; i++ {
		for j := 0; j < chess.P; j++ {
			out.Policy[i*chess.P+j] = 1.0 / float32(chess.P)
		}
		out.Value[i] = v
	}
	return out, nil
}

func (m *stubModel) Train(samples []model.Sample, detectAnomaly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generation++
	return nil
}

func (m *stubModel) Clone() model.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &stubModel{generation: m.generation, value: m.value, checkpoints: m.checkpoints}
}

func (m *stubModel) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *stubModel) Write(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[path] = m.generation
	return nil
}

func (m *stubModel) Read(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen, ok := m.checkpoints[path]; ok {
		m.generation = gen
	}
	return nil
}

var _ model.Handle = (*stubModel)(nil)

func fillBuffer(buf *replay.Buffer, n int, value float32) {
	o := make([]float32, obs.Size)
	p := make([]float32, chess.P)
	for i := 0; i < chess.P; i++ {
		p[i] = 1.0 / float32(chess.P)
	}
	for i := 0; i < n; i++ {
		buf.Add(o, p, value)
	}
}

func testTrainerConfig(capacity int) Config {
	return Config{
		ReplayCapacity:    capacity,
		RpbTrainPct:       25,
		TrainingSamplePct: 10,
		DetectAnomaly:     true,
		FlushOldRpb:       false,
		ModelPath:         filepath.Join("", "model.chkpt"),
		PollInterval:      time.Millisecond,
		Eval: EvalConfig{
			Batch:     2,
			Games:     2,
			Nodes:     4,
			TargetPct: 0, // accept whatever the candidate scores, isolating the wait/train/promote wiring
			MCTS:      mctsTestConfig(),
		},
	}
}

// TestRunOnceWaitsThenPromotesWithLenientTarget exercises the full
// clone-sample-train-evaluate-gate loop with a target_pct of 0, which any
// non-negative score satisfies, so this test is really checking the
// wiring: the trainer must wait for enough samples, then promote once the
// evaluator returns true.
func TestRunOnceWaitsThenPromotesWithLenientTarget(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	cfg := testTrainerConfig(1000)
	cfg.ModelPath = filepath.Join(t.TempDir(), "model.chkpt")

	buf := replay.New(1000)
	fillBuffer(buf, 300, 0)

	m := newStub(0)
	tr := New(0, cfg, m, buf, rng, nil)

	before := m.Generation()
	if err := tr.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if m.Generation() <= before {
		t.Fatalf("generation did not advance after promotion: before=%d after=%d", before, m.Generation())
	}
	if _, ok := m.checkpoints[cfg.ModelPath]; !ok {
		t.Fatalf("promoted candidate was never written to a checkpoint")
	}
}

// TestRunOnceRejectsAndAdvancesTargetCount exercises the rejection path:
// an evaluate_target_pct of 101 can never be satisfied, so the candidate
// must always be rejected and the model left untouched.
func TestRunOnceRejectsAndAdvancesTargetCount(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	cfg := testTrainerConfig(1000)
	cfg.Eval.TargetPct = 101

	buf := replay.New(1000)
	fillBuffer(buf, 300, 0)

	m := newStub(0)
	tr := New(0, cfg, m, buf, rng, nil)

	before := m.Generation()
	targetBefore := tr.targetCount
	if err := tr.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if m.Generation() != before {
		t.Fatalf("generation advanced despite an unreachable target: before=%d after=%d", before, m.Generation())
	}
	if tr.targetCount <= targetBefore {
		t.Fatalf("target_count did not advance after rejection")
	}
}

// TestRunOnceReturnsWhenContextCanceledDuringWait guards against the
// Coordinator.Stop deadlock: a trainer parked in the wait loop below
// target_count must wake up and return as soon as ctx is canceled,
// rather than sleeping through PollInterval forever with nothing left to
// grow the buffer.
func TestRunOnceReturnsWhenContextCanceledDuringWait(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := testTrainerConfig(1000)
	cfg.PollInterval = time.Hour // would hang the test if the ctx check didn't fire first

	buf := replay.New(1000) // stays empty: targetCount is never reached
	m := newStub(0)
	tr := New(0, cfg, m, buf, rng, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- tr.RunOnce(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected the canceled context's error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatalf("RunOnce did not return after context cancellation")
	}
}
