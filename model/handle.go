// Package model implements the ModelHandle contract from spec.md §6 and
// §9: batched inference, training, cloning, checkpoint read/write, and a
// monotone generation counter, with single-writer/multi-reader access
// enforced by a RWMutex the way the teacher's own long-lived shared state
// is guarded (see brensch-snek2/executor/inference/pool.go's round-robin
// client pool, which the same discipline of "reads run concurrently,
// mutation is exclusive" is drawn from).
//
// Two backends satisfy Handle: DeepModel (github.com/patrikeh/go-deep, a
// pure-Go trainable network used for tests and as the default local
// backend) and OnnxModel (github.com/yalue/onnxruntime_go, used in
// production for a real convolutional residual tower). Both share the
// same policy/value I/O contract from spec.md §6: infer(batch) returns a
// row-stochastic policy and a value in [-1, 1] per sample.
package model

import "github.com/climbtree/chesszero/chess"

// Batch is one inference request: B observations, each of length
// obs.Size, laid out contiguously.
type Batch struct {
	Inputs []float32 // B * obs.Size
	B      int
}

// Output holds one inference response: a row-stochastic policy of length
// chess.P and a value in [-1, 1], per sample.
type Output struct {
	Policy []float32 // B * chess.P
	Value  []float32 // B
}

// Sample is one training example: an observation, its target policy
// (length chess.P, the MCTS visit distribution), and its target value in
// [-1, 1].
type Sample struct {
	Obs          []float32 // obs.Size
	TargetPolicy []float32 // chess.P
	TargetValue  float32
}

// Handle is the model contract spec.md §6/§9 requires of every backend:
// batched inference, training with anomaly detection, cloning for
// candidate evaluation, checkpoint persistence, and a monotone generation
// counter.
type Handle interface {
	// Infer runs one forward pass over batch and returns the policy and
	// value for every sample. Safe for concurrent callers.
	Infer(batch Batch) (Output, error)

	// Train runs one or more epochs of SGD over shuffled minibatches of
	// samples. On success it increments Generation(). detectAnomaly
	// aborts the update (returning errs.ErrTransientEvaluator-derived
	// errors) if a resulting weight or loss is non-finite.
	Train(samples []Sample, detectAnomaly bool) error

	// Clone returns an independent copy sharing no mutable state with the
	// receiver, used by the evaluator to hold a frozen "current" model
	// while a candidate is trained.
	Clone() Handle

	// Generation returns the number of accepted training updates. It is
	// read via an atomic load and is safe to call concurrently with
	// Infer/Train.
	Generation() uint64

	// Write serializes the model (weights and generation) to path using
	// an atomic temp-file-then-rename so a crash mid-write cannot corrupt
	// the last-good checkpoint.
	Write(path string) error

	// Read replaces the receiver's weights and generation with the
	// checkpoint at path.
	Read(path string) error
}

// obsSize is the flattened input width every backend expects; kept here
// rather than importing obs directly into every call site.
const obsSize = chess.H * chess.W * chess.F
