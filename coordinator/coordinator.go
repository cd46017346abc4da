// Package coordinator implements the lifecycle controller from
// spec.md §4.8: it owns the shared model handle and replay buffer, starts
// the configured number of search and trainer workers against them, and
// exposes the small set of hooks (start, stop, get_next_pgn, get_rbuf)
// that an external CLI or UI drives.
package coordinator

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/climbtree/chesszero/config"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/mcts"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/replay"
	"github.com/climbtree/chesszero/search"
	"github.com/climbtree/chesszero/store"
	"github.com/climbtree/chesszero/train"
	"github.com/google/uuid"
)

// Status codes for the RUNNING→WAITING→STOPPED lifecycle spec.md §4.8
// describes.
const (
	StatusStopped int32 = iota
	StatusRunning
	StatusWaiting
)

// Coordinator wires config.Config into running search and trainer
// workers, and mediates access to the shared model and replay buffer for
// an external caller (a CLI, a TUI, or the websocket broadcaster in this
// package).
type Coordinator struct {
	cfg    config.Config
	model  model.Handle
	buffer *replay.Buffer
	logger *slog.Logger

	statusCode atomic.Int32
	statusMu   sync.Mutex
	statusMsg  string

	wantsPGN atomic.Bool
	retPGN   atomic.Value // string

	broadcaster *Broadcaster

	archiveMu sync.Mutex
	archive   *store.GameWriter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Coordinator around an already-constructed model handle and
// replay buffer; callers choose the backend (DeepModel or OnnxModel) and
// buffer capacity before wiring them in here.
func New(cfg config.Config, m model.Handle, buffer *replay.Buffer, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		model:       m,
		buffer:      buffer,
		logger:      logger,
		broadcaster: NewBroadcaster(logger),
	}
}

// SetArchiveDir opens a store.GameWriter under dir so every finished
// self-play game is durably archived alongside the live PGN broadcast.
// Passing an empty dir disables archiving (the default).
func (c *Coordinator) SetArchiveDir(dir string) error {
	if dir == "" {
		return nil
	}
	w, err := store.NewGameWriter(dir)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "open game archive writer")
	}
	c.archiveMu.Lock()
	c.archive = w
	c.archiveMu.Unlock()
	return nil
}

// FinalizeArchive closes the current archive file, if any, moving it out
// of the writer's tmp/ directory. Coordinator.Stop calls this
// automatically; callers only need it to force a rotation mid-run.
func (c *Coordinator) FinalizeArchive() (path string, games int, err error) {
	c.archiveMu.Lock()
	w := c.archive
	c.archive = nil
	c.archiveMu.Unlock()
	if w == nil {
		return "", 0, nil
	}
	return w.Finalize()
}

// Broadcaster exposes the websocket status/PGN broadcaster so callers can
// mount it into an http.ServeMux.
func (c *Coordinator) Broadcaster() *Broadcaster { return c.broadcaster }

// WriteModel and ReadModel expose the CLI's write/read hooks (spec.md
// §6) without handing callers the model.Handle directly: the handle's own
// RWMutex already gives read exclusive to write per spec.md §5, so these
// are thin pass-throughs, not a second lock layer.
func (c *Coordinator) WriteModel(path string) error {
	if path == "" {
		path = c.cfg.ModelPath
	}
	if err := c.model.Write(path); err != nil {
		return errs.Wrap(errs.ErrIO, "write model checkpoint")
	}
	return nil
}

func (c *Coordinator) ReadModel(path string) error {
	if path == "" {
		path = c.cfg.ModelPath
	}
	if err := c.model.Read(path); err != nil {
		return errs.Wrap(errs.ErrIO, "read model checkpoint")
	}
	return nil
}

// ModelGeneration reports the shared model's current generation, used by
// the TUI dashboard.
func (c *Coordinator) ModelGeneration() uint64 { return c.model.Generation() }

// Status reports the current lifecycle code and the last status message.
func (c *Coordinator) Status() (int32, string) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.statusCode.Load(), c.statusMsg
}

func (c *Coordinator) setStatus(code int32, msg string) {
	c.statusMu.Lock()
	c.statusMsg = msg
	c.statusMu.Unlock()
	c.statusCode.Store(code)
	c.broadcaster.BroadcastStatus(code, msg)
}

// GetRbuf reports the replay buffer's fixed capacity and lifetime insert
// count, spec.md §4.8's get_rbuf status hook.
func (c *Coordinator) GetRbuf() (size int, count uint64) {
	return c.buffer.Size(), c.buffer.Count()
}

// Start launches inference_threads search workers and training_threads
// trainer workers, all bound to the shared model and buffer, and
// transitions the lifecycle to RUNNING. It returns immediately; workers
// run until Stop is called.
func (c *Coordinator) Start() error {
	if c.statusCode.Load() != StatusStopped {
		return errs.Wrap(errs.ErrProgrammerInvariant, "coordinator already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.setStatus(StatusRunning, "starting workers")

	searchCfg := searchConfigFrom(c.cfg)
	for i := 0; i < c.cfg.InferenceThreads; i++ {
		i := i
		rng := rand.New(rand.NewSource(int64(i) + 1))
		w := search.NewWorker(searchCfg, c.model, c.buffer, c.onPGN, rng)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := w.Run(ctx); err != nil && ctx.Err() == nil && c.logger != nil {
				c.logger.Error("search worker exited", "worker", i, "err", err)
			}
		}()
	}

	trainCfg := trainerConfigFrom(c.cfg)
	for j := 0; j < c.cfg.TrainingThreads; j++ {
		j := j
		rng := rand.New(rand.NewSource(int64(j) + 1_000_000))
		tr := train.New(j, trainCfg, c.model, c.buffer, rng, c.logger)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if c.statusCode.Load() != StatusRunning {
					return
				}
				if err := tr.RunOnce(ctx); err != nil {
					if ctx.Err() != nil {
						return
					}
					if c.logger != nil {
						c.logger.Error("trainer iteration failed", "worker", j, "err", err)
					}
					time.Sleep(time.Second)
				}
			}
		}()
	}

	c.setStatus(StatusRunning, "running")
	return nil
}

// Stop transitions RUNNING→WAITING, cancels every worker's context, joins
// them, and finally transitions to STOPPED, per spec.md §4.8.
func (c *Coordinator) Stop() {
	if c.statusCode.Load() != StatusRunning {
		return
	}
	c.setStatus(StatusWaiting, "stopping")
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if _, _, err := c.FinalizeArchive(); err != nil && c.logger != nil {
		c.logger.Warn("failed to finalize game archive on stop", "err", err)
	}
	c.setStatus(StatusStopped, "stopped")
}

// GetNextPGN requests the PGN of the next self-play game to finish, and
// blocks (polling every interval) until a search worker services the
// request or ctx is canceled — spec.md §4.8's atomic-flag-and-poll
// handoff.
func (c *Coordinator) GetNextPGN(ctx context.Context, interval time.Duration) (string, error) {
	c.wantsPGN.Store(true)
	for {
		if v, ok := c.retPGN.Swap("").(string); ok && v != "" {
			return v, nil
		}
		select {
		case <-ctx.Done():
			c.wantsPGN.Store(false)
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

// onPGN is passed to every search worker as its terminal-game callback.
// It always feeds the live broadcaster and, if an archive directory was
// configured, appends a durable GameRecord; it services at most one
// pending GetNextPGN request per game (spec.md's "ret_pgn populated
// exactly once per request").
func (c *Coordinator) onPGN(pgn string, plies int, result string) {
	c.broadcaster.BroadcastPGN(pgn)
	if c.wantsPGN.CompareAndSwap(true, false) {
		c.retPGN.Store(pgn)
	}

	c.archiveMu.Lock()
	w := c.archive
	c.archiveMu.Unlock()
	if w == nil {
		return
	}
	row := store.GameRecord{
		GameID:          uuid.NewString(),
		PGN:             pgn,
		Result:          result,
		Plies:           int32(plies),
		ModelGeneration: c.model.Generation(),
		Source:          "selfplay",
	}
	if err := w.Append(row); err != nil && c.logger != nil {
		c.logger.Warn("failed to archive finished game", "err", err)
	}
}

func searchConfigFrom(cfg config.Config) search.Config {
	return search.Config{
		IBatch:        cfg.SelfplayBatch,
		Nodes:         cfg.SelfplayNodes,
		AlphaInitial:  cfg.SelfplayAlphaInitial,
		AlphaDecay:    cfg.SelfplayAlphaDecay,
		AlphaFinal:    cfg.SelfplayAlphaFinal,
		AlphaCutoff:   cfg.SelfplayAlphaCutoff,
		DrawValue:     float64(cfg.DrawValuePct) / 100,
		FlushOldTrees: cfg.FlushOldTrees,
		MCTS:          mctsConfigFrom(cfg),
	}
}

func trainerConfigFrom(cfg config.Config) train.Config {
	return train.Config{
		ReplayCapacity:    cfg.ReplayBufferSize,
		RpbTrainPct:       cfg.RpbTrainPct,
		TrainingSamplePct: cfg.TrainingSamplePct,
		DetectAnomaly:     cfg.TrainingDetectAnomaly,
		FlushOldRpb:       cfg.FlushOldRpb,
		ModelPath:         cfg.ModelPath,
		PollInterval:      2 * time.Second,
		Eval: train.EvalConfig{
			Batch:     cfg.EvaluateBatch,
			Games:     cfg.EvaluateGames,
			Nodes:     cfg.EvaluateNodes,
			TargetPct: cfg.EvaluateTargetPct,
			MCTS:      mctsConfigFrom(cfg),
		},
	}
}

// mctsConfigFrom translates config.Config's percent knobs into the raw
// values mcts.Config wants: unvisited_node_value_pct/100 is fed straight
// through as the [-1,1] default value (mcts.Config.UnvisitedValue's own
// doc comment defines it exactly this way), and bootstrap_amp_pct/100 is
// a plain multiplier (100% is a no-op).
func mctsConfigFrom(cfg config.Config) mcts.Config {
	return mcts.Config{
		Cpuct:                cfg.Cpuct,
		ForceExpandUnvisited: cfg.ForceExpandUnvisited,
		UnvisitedValue:       float64(cfg.UnvisitedNodeValuePct) / 100,
		BootstrapWeight:      cfg.BootstrapWeight,
		BootstrapWindow:      float64(cfg.BootstrapWindow),
		BootstrapAmp:         float64(cfg.BootstrapAmpPct) / 100,
		ScaleCpuctByActions:  cfg.ScaleCpuctByActions,
		NoiseAlpha:           cfg.MCTSNoiseAlpha,
		NoiseWeight:          cfg.MCTSNoiseWeight,
	}
}
