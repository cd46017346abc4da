package model

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/climbtree/chesszero/chess"
	"github.com/climbtree/chesszero/errs"
	"github.com/patrikeh/go-deep"
	"github.com/patrikeh/go-deep/training"
)

// DeepModel is a pure-Go Handle backed by github.com/patrikeh/go-deep,
// grounded on MONTplusa-skate-area-battle-game/pkg/ai/sneuaiolake's use
// of deep.NewNeural/Predict/ApplyWeights/Dump and
// patrikeh/go-deep/training's SGD trainer. It combines the policy and
// value heads into one network with a single output layer of width
// chess.P+1: a softmax over the first chess.P outputs gives the policy,
// and a tanh of the last gives the value — the split the teacher's
// example never needed (it only ever trained a single scalar evaluation)
// but this network's chess-domain output contract requires.
//
// DeepModel is the default backend: used directly in tests, and as the
// local trainable model when no onnxruntime_go session is configured.
type DeepModel struct {
	mu         sync.RWMutex
	network    *deep.Neural
	hidden     []int
	lr         float64
	generation uint64 // accessed via atomic
}

// NewDeepModel builds a fresh, randomly initialized network with the
// given hidden layer widths and learning rate (spec.md §6's
// training_mlr).
func NewDeepModel(hidden []int, lr float64) *DeepModel {
	m := &DeepModel{hidden: append([]int(nil), hidden...), lr: lr}
	m.network = buildNetwork(hidden)
	return m
}

func buildNetwork(hidden []int) *deep.Neural {
	layout := append(append([]int(nil), hidden...), chess.P+1)
	return deep.NewNeural(&deep.Config{
		Inputs:     obsSize,
		Layout:     layout,
		Activation: deep.ActivationReLU,
		Mode:       deep.ModeRegression,
		Weight:     deep.NewNormal(0.0, 0.1),
		Bias:       true,
	})
}

func (m *DeepModel) Infer(batch Batch) (Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Output{
		Policy: make([]float32, batch.B*chess.P),
		Value:  make([]float32, batch.B),
	}
	for i := 0; i < batch.B; i++ {
		in := toFloat64(batch.Inputs[i*obsSize : (i+1)*obsSize])
		raw := m.network.Predict(in)
		errs.Invariant(len(raw) == chess.P+1, "go-deep output width does not match chess.P+1")

		softmaxInto(raw[:chess.P], out.Policy[i*chess.P:(i+1)*chess.P])
		out.Value[i] = float32(math.Tanh(raw[chess.P]))
	}
	return out, nil
}

func (m *DeepModel) Train(samples []Sample, detectAnomaly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	backup := m.network.Dump().Weights

	examples := make(training.Examples, len(samples))
	for i, s := range samples {
		response := make([]float64, chess.P+1)
		copy(response, toFloat64(s.TargetPolicy))
		response[chess.P] = float64(s.TargetValue)
		examples[i] = training.Example{Input: toFloat64(s.Obs), Response: response}
	}
	examples.Shuffle()

	trainer := training.NewTrainer(training.NewSGD(m.lr, 0.5, 0.0, false), 0)
	trainer.Train(m.network, examples, nil, 1)

	if detectAnomaly && weightsHaveNonFinite(m.network.Dump().Weights) {
		m.network.ApplyWeights(backup)
		return errs.Wrap(errs.ErrTransientEvaluator, "training produced non-finite weights")
	}

	atomic.AddUint64(&m.generation, 1)
	return nil
}

func weightsHaveNonFinite(w [][][]float64) bool {
	for _, layer := range w {
		for _, neuron := range layer {
			for _, v := range neuron {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return true
				}
			}
		}
	}
	return false
}

func (m *DeepModel) Clone() Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clone := &DeepModel{hidden: append([]int(nil), m.hidden...), lr: m.lr}
	clone.network = buildNetwork(m.hidden)
	clone.network.ApplyWeights(m.network.Dump().Weights)
	atomic.StoreUint64(&clone.generation, atomic.LoadUint64(&m.generation))
	return clone
}

func (m *DeepModel) Generation() uint64 { return atomic.LoadUint64(&m.generation) }

type deepCheckpoint struct {
	Generation uint64        `json:"generation"`
	Hidden     []int         `json:"hidden"`
	Weights    [][][]float64 `json:"weights"`
}

// Write serializes weights and generation to path via a temp-file-then-
// rename, matching the atomic write pattern brensch-snek2's
// scraper/store/parquet.go uses for its own durable output.
func (m *DeepModel) Write(path string) error {
	m.mu.RLock()
	ck := deepCheckpoint{
		Generation: atomic.LoadUint64(&m.generation),
		Hidden:     m.hidden,
		Weights:    m.network.Dump().Weights,
	}
	m.mu.RUnlock()

	data, err := json.Marshal(ck)
	if err != nil {
		return errs.Wrap(errs.ErrIO, "marshal checkpoint")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.ErrIO, "write checkpoint temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(errs.ErrIO, "rename checkpoint temp file")
	}
	return nil
}

func (m *DeepModel) Read(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errs.Wrap(errs.ErrIO, "read checkpoint")
	}
	var ck deepCheckpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return errs.Wrap(errs.ErrIO, "unmarshal checkpoint")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden = ck.Hidden
	m.network = buildNetwork(ck.Hidden)
	m.network.ApplyWeights(ck.Weights)
	atomic.StoreUint64(&m.generation, ck.Generation)
	return nil
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func softmaxInto(logits []float64, dst []float32) {
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	exps := make([]float64, len(logits))
	for i, v := range logits {
		e := math.Exp(v - max)
		exps[i] = e
		sum += e
	}
	if sum <= 0 {
		for i := range dst {
			dst[i] = float32(1.0 / float64(len(dst)))
		}
		return
	}
	for i, e := range exps {
		dst[i] = float32(e / sum)
	}
}

// seedInputForTests builds a deterministic pseudo-random observation, used
// only by this package's own tests to exercise Infer/Train without a real
// chess.Env.
func seedInputForTests(rng *rand.Rand) []float32 {
	in := make([]float32, obsSize)
	for i := range in {
		in[i] = float32(rng.Float64())
	}
	return in
}
