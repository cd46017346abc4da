package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/config"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/replay"
)

// stubHandle is a minimal model.Handle for coordinator tests: uniform
// policy, fixed value, no real training.
type stubHandle struct{ generation uint64 }

func (m *stubHandle) Infer(batch model.Batch) (model.Output, error) {
	out := model.Output{Policy: make([]float32, batch.B*chess.P), Value: make([]float32, batch.B)}
	for i := range out.Policy {
		out.Policy[i] = 1.0 / float32(chess.P)
	}
	return out, nil
}
func (m *stubHandle) Train([]model.Sample, bool) error { m.generation++; return nil }
func (m *stubHandle) Clone() model.Handle              { c := *m; return &c }
func (m *stubHandle) Generation() uint64               { return m.generation }
func (m *stubHandle) Write(string) error               { return nil }
func (m *stubHandle) Read(string) error                { return nil }

var _ model.Handle = (*stubHandle)(nil)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InferenceThreads = 1
	cfg.TrainingThreads = 0
	cfg.SelfplayBatch = 1
	cfg.SelfplayNodes = 4
	cfg.ReplayBufferSize = 100
	return cfg
}

func TestStartStopLifecycle(t *testing.T) {
	c := New(testConfig(), &stubHandle{}, replay.New(100), nil)

	code, _ := c.Status()
	if code != StatusStopped {
		t.Fatalf("initial status = %d, want StatusStopped", code)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	code, _ = c.Status()
	if code != StatusRunning {
		t.Fatalf("status after start = %d, want StatusRunning", code)
	}

	time.Sleep(20 * time.Millisecond)
	c.Stop()

	code, _ = c.Status()
	if code != StatusStopped {
		t.Fatalf("status after stop = %d, want StatusStopped", code)
	}
}

func TestStartTwiceFails(t *testing.T) {
	c := New(testConfig(), &stubHandle{}, replay.New(100), nil)
	if err := c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	if err := c.Start(); err == nil {
		t.Fatalf("expected an error starting an already-running coordinator")
	}
}

func TestGetNextPGNServicedByOnPGN(t *testing.T) {
	c := New(testConfig(), &stubHandle{}, replay.New(100), nil)

	done := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		pgn, err := c.GetNextPGN(ctx, time.Millisecond)
		if err != nil {
			t.Errorf("get next pgn: %v", err)
			return
		}
		done <- pgn
	}()

	time.Sleep(5 * time.Millisecond)
	c.onPGN("1. e4 e5 *", 2, "*")

	select {
	case pgn := <-done:
		if pgn != "1. e4 e5 *" {
			t.Fatalf("got pgn %q, want %q", pgn, "1. e4 e5 *")
		}
	case <-time.After(time.Second):
		t.Fatalf("GetNextPGN never returned")
	}
}

func TestGetRbufReportsBufferState(t *testing.T) {
	buf := replay.New(50)
	c := New(testConfig(), &stubHandle{}, buf, nil)

	size, count := c.GetRbuf()
	if size != 50 || count != 0 {
		t.Fatalf("get rbuf = (%d, %d), want (50, 0)", size, count)
	}
}

func TestOnPGNArchivesWhenDirConfigured(t *testing.T) {
	c := New(testConfig(), &stubHandle{}, replay.New(100), nil)
	dir := t.TempDir()
	if err := c.SetArchiveDir(dir); err != nil {
		t.Fatalf("set archive dir: %v", err)
	}

	c.onPGN("1. e4 e5 1/2-1/2", 2, "1/2-1/2")
	c.onPGN("1. d4 d5 1/2-1/2", 2, "1/2-1/2")

	path, games, err := c.FinalizeArchive()
	if err != nil {
		t.Fatalf("finalize archive: %v", err)
	}
	if games != 2 {
		t.Fatalf("archived games = %d, want 2", games)
	}
	if path == "" {
		t.Fatalf("expected a non-empty archive path")
	}
}

func TestSetArchiveDirNoOpWhenEmpty(t *testing.T) {
	c := New(testConfig(), &stubHandle{}, replay.New(100), nil)
	if err := c.SetArchiveDir(""); err != nil {
		t.Fatalf("set archive dir with empty string should be a no-op: %v", err)
	}
	c.onPGN("1. e4 e5 1/2-1/2", 2, "1/2-1/2") // must not panic with no archive configured
}
