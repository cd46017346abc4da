// Package errs defines the engine's error taxonomy: sentinel values that
// callers can match with errors.Is, plus a couple of constructors used at
// the boundaries where a raw error needs tagging before it propagates.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrProgrammerInvariant marks a broken internal invariant: no legal
	// moves at a non-terminal node, a policy vector containing NaN or a
	// negative entry, a root with no child matching a committed action.
	// These are bugs, not runtime conditions; callers should not retry.
	ErrProgrammerInvariant = errors.New("engine: broken invariant")

	// ErrIO marks a checkpoint read/write failure. It must never crash the
	// running engine; the CLI surfaces it and the caller keeps its prior
	// weights.
	ErrIO = errors.New("engine: io failure")

	// ErrTransientEvaluator marks an evaluator match that could not run to
	// completion (inference failure, aborted mid-match). The trainer
	// treats it as a rejection of the candidate.
	ErrTransientEvaluator = errors.New("engine: transient evaluator failure")

	// ErrConfig marks a malformed options file, or an operation the
	// configured model backend does not support. config.Load logs a
	// warning and returns it together with the default config.
	ErrConfig = errors.New("engine: invalid config")
)

// Invariant panics with ErrProgrammerInvariant wrapped around msg. It is the
// engine's assertion primitive for broken invariants. No search or trainer
// loop recovers this panic, so it ends the whole process.
func Invariant(cond bool, msg string) {
	if !cond {
		panic(Wrap(ErrProgrammerInvariant, msg))
	}
}

// Wrap attaches msg as context to sentinel using fmt.Errorf's %w so that
// errors.Is(result, sentinel) keeps working after wrapping.
func Wrap(sentinel error, msg string) error {
	return fmt.Errorf("%s: %w", msg, sentinel)
}
