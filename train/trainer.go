package train

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/obs"
	"github.com/climbtree/chesszero/replay"
)

// Config is the trainer's tuning surface: spec.md §4.6's rpb_train_pct,
// training_sample_pct, training_detect_anomaly, and flush_old_rpb, plus the model checkpoint
// path used for atomic in-production promotion.
type Config struct {
	ReplayCapacity    int
	RpbTrainPct       int
	TrainingSamplePct int
	DetectAnomaly     bool
	FlushOldRpb       bool
	ModelPath         string

	PollInterval time.Duration

	Eval EvalConfig
}

// Trainer runs the clone-sample-train-evaluate-gate loop of spec.md §4.6
// against a shared model handle and replay buffer.
type Trainer struct {
	cfg    Config
	model  model.Handle
	buffer *replay.Buffer
	rng    *rand.Rand
	logger *slog.Logger
	id     int

	targetFrom  uint64
	targetCount uint64
	targetIncr  uint64
}

// New builds a Trainer bound to model and buffer. id identifies the
// worker; no trainer emits per-inference-worker partial counts.
func New(id int, cfg Config, m model.Handle, buffer *replay.Buffer, rng *rand.Rand, logger *slog.Logger) *Trainer {
	errs.Invariant(cfg.ReplayCapacity > 0, "trainer requires a positive replay capacity")
	incr := uint64(cfg.ReplayCapacity * cfg.RpbTrainPct / 100)
	return &Trainer{
		cfg:         cfg,
		model:       m,
		buffer:      buffer,
		rng:         rng,
		logger:      logger,
		id:          id,
		targetFrom:  0,
		targetCount: incr,
		targetIncr:  incr,
	}
}

// RunOnce performs one full iteration of the trainer loop: wait for
// enough fresh samples, clone the model, train the clone, evaluate it
// against the live model, and gate promotion on the result. It blocks
// (sleeping in PollInterval increments) until the wait condition clears
// or ctx is canceled, so callers typically run it in its own goroutine in
// a loop. Per spec.md §5's "workers check status at each outer-loop
// iteration," the wait loop itself is the outer loop here and checks ctx
// on every increment rather than only between RunOnce calls — otherwise a
// trainer parked below target_count when Coordinator.Stop cancels ctx
// would never wake up, and wg.Wait() would deadlock.
func (tr *Trainer) RunOnce(ctx context.Context) error {
	for tr.buffer.Count() < tr.targetCount {
		if tr.logger != nil {
			tr.logger.Info("trainer waiting for replay buffer",
				"worker", tr.id,
				"count", tr.buffer.Count(),
				"target", tr.targetCount)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tr.cfg.PollInterval):
		}
	}

	candidate := tr.model.Clone()

	trajectories := tr.cfg.ReplayCapacity * tr.cfg.TrainingSamplePct / 100
	errs.Invariant(trajectories > 0, "trainer training_sample_pct produced zero samples")

	samples, err := tr.sampleTrainingSet(trajectories)
	if err != nil {
		return err
	}
	if err := candidate.Train(samples, tr.cfg.DetectAnomaly); err != nil {
		if tr.logger != nil {
			tr.logger.Warn("candidate training failed, rejecting", "worker", tr.id, "err", err)
		}
		tr.targetCount += tr.targetIncr
		return nil
	}

	accepted, err := Evaluate(tr.model, candidate, tr.cfg.Eval, tr.rng)
	if err != nil {
		if tr.logger != nil {
			tr.logger.Warn("evaluation aborted, rejecting candidate", "worker", tr.id, "err", err)
		}
		tr.targetCount += tr.targetIncr
		return nil
	}

	if !accepted {
		if tr.logger != nil {
			tr.logger.Info("candidate rejected", "worker", tr.id, "generation", candidate.Generation())
		}
		tr.targetCount += tr.targetIncr
		return nil
	}

	if err := candidate.Write(tr.cfg.ModelPath); err != nil {
		return errs.Wrap(errs.ErrIO, "write promoted candidate checkpoint")
	}
	if err := tr.model.Read(tr.cfg.ModelPath); err != nil {
		return errs.Wrap(errs.ErrIO, "read promoted candidate into production model")
	}
	if tr.logger != nil {
		tr.logger.Info("candidate promoted", "worker", tr.id, "generation", tr.model.Generation())
	}

	if tr.cfg.FlushOldRpb {
		tr.buffer.Clear()
	}
	count := tr.buffer.Count()
	tr.targetCount = count + tr.targetIncr
	if uint64(tr.cfg.ReplayCapacity) > tr.targetCount {
		tr.targetCount = uint64(tr.cfg.ReplayCapacity)
	}
	tr.targetFrom = count
	return nil
}

func (tr *Trainer) sampleTrainingSet(n int) ([]model.Sample, error) {
	outObs := make([]float32, n*obs.Size)
	outPol := make([]float32, n*chess.P)
	outVal := make([]float32, n)
	tr.buffer.SelectBatch(tr.rng, n, outObs, outPol, outVal)

	samples := make([]model.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = model.Sample{
			Obs:          outObs[i*obs.Size : (i+1)*obs.Size],
			TargetPolicy: outPol[i*chess.P : (i+1)*chess.P],
			TargetValue:  outVal[i],
		}
	}
	return samples, nil
}
