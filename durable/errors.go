package durable

import (
	"errors"
	"fmt"

	"github.com/dshills/durable-go/durable/store"
)

// ErrInterrupted is matched by every error that aborted a pass because the
// interruption signal was asserted. It is an expected outcome: run the pass
// again to resume.
var ErrInterrupted = errors.New("execution pass interrupted")

// ErrStoreUnavailable is matched by every error caused by a failed store read
// or write. It is fatal to the pass, since continuing without the record
// store would break memoization.
var ErrStoreUnavailable = errors.New("step record store unavailable")

// ErrReplayMismatch indicates the workflow reached a different label at a
// sequence number that a previous pass recorded. The workflow's step order
// is not deterministic (wall-clock time, randomness or external state
// influenced which step ran).
var ErrReplayMismatch = errors.New("replay mismatch: step order diverged from recorded history")

// ErrPayloadDecode indicates a recorded result could not be decoded into the
// type the step now returns, or was written by an unknown codec.
var ErrPayloadDecode = errors.New("recorded result cannot be decoded")

// Interruption points polled by the step executor.
const (
	PointBeforeWork   = "before_work"
	PointBeforeCommit = "before_commit"
)

// InterruptError reports where a pass was interrupted.
//
// At PointBeforeWork the step's record was not touched. At PointBeforeCommit
// the work ran but its outcome was not recorded; the record stays RUNNING and
// the next pass re-runs the work.
type InterruptError struct {
	Key    store.StepKey
	Point  string
	Reason string
}

func (e *InterruptError) Error() string {
	msg := fmt.Sprintf("step %s interrupted %s", e.Key, e.Point)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is makes errors.Is(err, ErrInterrupted) true.
func (e *InterruptError) Is(target error) bool {
	return target == ErrInterrupted
}

// StoreError wraps a store failure with the operation and key involved.
type StoreError struct {
	Op  string // "get", "upsert" or "list"
	Key store.StepKey
	Err error
}

func (e *StoreError) Error() string {
	if e.Key.ExecutionID != "" && e.Key.Sequence > 0 {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// Is makes errors.Is(err, ErrStoreUnavailable) true.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// StepError is a step failure: the step's work returned an error and the
// record was marked FAILED.
//
// Err is the work's error. It is nil when the failure was replayed from a
// FAILED record under KeepFailed, in which case only Message is known.
type StepError struct {
	Label    string
	Sequence int
	Message  string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (seq %d) failed: %s", e.Label, e.Sequence, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// EngineError represents a configuration or usage error.
//
// Common codes:
//   - "NIL_STORE": New was called without a store
//   - "INVALID_OPTION": an option value is out of range
//   - "INVALID_EXECUTION_ID": empty or containing the key separator
//   - "INVALID_STEP": empty label or missing work function
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Outcome is how a pass (or a single step) ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeStepFailure
	OutcomeInterrupted
	OutcomeStoreUnavailable
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStepFailure:
		return "step_failure"
	case OutcomeInterrupted:
		return "interrupted"
	case OutcomeStoreUnavailable:
		return "store_unavailable"
	default:
		return "failed"
	}
}

// Classify maps an error returned by Run, Step, Do or Parallel to an Outcome.
//
// Interruption is checked first: a pass that was interrupted while a sibling
// branch also failed is still resumable.
func Classify(err error) Outcome {
	var stepErr *StepError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrInterrupted):
		return OutcomeInterrupted
	case errors.Is(err, ErrStoreUnavailable):
		return OutcomeStoreUnavailable
	case errors.As(err, &stepErr):
		return OutcomeStepFailure
	default:
		return OutcomeFailed
	}
}

// abortsPass reports whether err must stop every later step of the pass.
// Step failures do not: they are returned to the workflow, which decides.
func abortsPass(err error) bool {
	return errors.Is(err, ErrInterrupted) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrReplayMismatch) ||
		errors.Is(err, ErrPayloadDecode)
}
