package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/durable/store"
)

// Step runs work at most once per logical invocation across any number of
// passes and returns its result.
//
// The invocation's identity is (execution ID, label, next sequence number).
// If the store holds a COMPLETED record for it, the recorded result is
// decoded and returned without calling work. Otherwise a RUNNING record is
// written, work runs, and the outcome is recorded as COMPLETED or FAILED.
//
// Errors:
//   - *StepError when work fails (record FAILED)
//   - ErrInterrupted (*InterruptError) when the pass's signal is asserted
//     before work starts or before its outcome is committed
//   - ErrStoreUnavailable (*StoreError) when the store fails
//   - ErrReplayMismatch, ErrPayloadDecode for non-deterministic workflows
//     and incompatible result types
//
// After any error other than *StepError the pass is aborted and every later
// Step, Do or Parallel call returns that same error.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func Step[T any](ctx context.Context, p *Pass, label string, work func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.err(); err != nil {
		return zero, err
	}
	if err := validateStep(label, work == nil); err != nil {
		return zero, err
	}

	key := store.StepKey{ExecutionID: p.executionID, Label: label, Sequence: p.seq.Next()}
	v, err := execute(ctx, p, p.sig, key, work)
	return v, p.abort(err)
}

// Do is Step for work that returns no value.
func Do(ctx context.Context, p *Pass, label string, work func(context.Context) error) error {
	if work == nil {
		return validateStep(label, true)
	}
	_, err := Step(ctx, p, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, work(ctx)
	})
	return err
}

func validateStep(label string, nilWork bool) error {
	if label == "" {
		return &EngineError{Message: "step label cannot be empty", Code: "INVALID_STEP"}
	}
	if nilWork {
		return &EngineError{Message: "step " + label + ": work cannot be nil", Code: "INVALID_STEP"}
	}
	return nil
}

// execute is the step algorithm for an already-allocated key. sig is the
// pass's signal, or a Parallel child of it.
func execute[T any](ctx context.Context, p *Pass, sig *Interrupt, key store.StepKey, work func(context.Context) (T, error)) (T, error) {
	var zero T
	e := p.engine

	if err := p.checkReplay(key); err != nil {
		return zero, err
	}

	prev, err := e.store.Get(ctx, key)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return zero, &StoreError{Op: "get", Key: key, Err: err}
	}

	if found {
		switch prev.Status {
		case store.StatusCompleted:
			return memoized[T](p, key, prev)
		case store.StatusFailed:
			if e.opts.FailedSteps == KeepFailed {
				e.metrics.IncStep(key.Label, stepOutcomeReplayedFailed)
				e.emitStep(key, emit.MsgStepFailed, map[string]any{
					"attempt":  prev.Attempt,
					"error":    prev.Error,
					"replayed": true,
				})
				return zero, &StepError{Label: key.Label, Sequence: key.Sequence, Message: prev.Error}
			}
		case store.StatusRunning:
			// The previous pass stopped inside the zombie window. The work
			// may or may not have taken effect; run it again.
			e.metrics.IncZombie(key.Label)
			e.emitStep(key, emit.MsgStepZombie, map[string]any{"attempt": prev.Attempt})
			e.logger.Warn("re-running unconfirmed step",
				slog.String("execution_id", key.ExecutionID),
				slog.String("step", key.Label),
				slog.Int("sequence", key.Sequence),
				slog.Int("attempt", prev.Attempt),
			)
		}
	}

	if sig.Asserted() {
		e.metrics.IncStep(key.Label, stepOutcomeInterrupted)
		return zero, &InterruptError{Key: key, Point: PointBeforeWork, Reason: sig.Reason()}
	}

	attempt := prev.Attempt + 1
	running := store.Record{Key: key, Status: store.StatusRunning, Attempt: attempt, UpdatedAt: e.now()}
	if err := e.store.Upsert(ctx, running); err != nil {
		if errors.Is(err, store.ErrRecordCompleted) {
			return reloadCompleted[T](ctx, p, key)
		}
		return zero, &StoreError{Op: "upsert", Key: key, Err: err}
	}
	e.emitStep(key, emit.MsgStepRunning, map[string]any{"attempt": attempt})

	start := e.now()
	result, tries, workErr := runWork(ctx, e, sig, key, work)
	elapsed := e.now().Sub(start)

	if sig.Asserted() {
		// Zombie window: the outcome is dropped and the record stays RUNNING.
		e.metrics.IncStep(key.Label, stepOutcomeInterrupted)
		return zero, &InterruptError{Key: key, Point: PointBeforeCommit, Reason: sig.Reason()}
	}

	var payload *store.Payload
	if workErr == nil {
		data, encErr := e.codec.Encode(result)
		if encErr != nil {
			workErr = fmt.Errorf("encode result with %s codec: %w", e.codec.Name(), encErr)
		} else {
			payload = &store.Payload{Codec: e.codec.Name(), Data: data}
		}
	}

	if workErr != nil {
		msg := workErr.Error()
		if msg == "" {
			msg = "step returned an error with an empty message"
		}
		failed := store.Record{Key: key, Status: store.StatusFailed, Error: msg, Attempt: attempt, UpdatedAt: e.now()}
		if err := e.store.Upsert(ctx, failed); err != nil {
			return zero, &StoreError{Op: "upsert", Key: key, Err: err}
		}
		e.metrics.IncStep(key.Label, stepOutcomeFailed)
		e.metrics.RecordStepLatency(key.Label, "error", elapsed)
		e.emitStep(key, emit.MsgStepFailed, map[string]any{
			"attempt":     attempt,
			"tries":       tries,
			"error":       msg,
			"duration_ms": elapsed.Milliseconds(),
		})
		return zero, &StepError{Label: key.Label, Sequence: key.Sequence, Message: msg, Err: workErr}
	}

	completed := store.Record{Key: key, Status: store.StatusCompleted, Result: payload, Attempt: attempt, UpdatedAt: e.now()}
	if err := e.store.Upsert(ctx, completed); err != nil {
		if errors.Is(err, store.ErrRecordCompleted) {
			return reloadCompleted[T](ctx, p, key)
		}
		return zero, &StoreError{Op: "upsert", Key: key, Err: err}
	}
	e.metrics.IncStep(key.Label, stepOutcomeCompleted)
	e.metrics.RecordStepLatency(key.Label, "success", elapsed)
	e.emitStep(key, emit.MsgStepCompleted, map[string]any{
		"attempt":     attempt,
		"tries":       tries,
		"duration_ms": elapsed.Milliseconds(),
	})
	return result, nil
}

// reloadCompleted handles a conditional write that lost to a concurrent
// writer: the winner's result is the step's result.
func reloadCompleted[T any](ctx context.Context, p *Pass, key store.StepKey) (T, error) {
	rec, err := p.engine.store.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, &StoreError{Op: "get", Key: key, Err: err}
	}
	return memoized[T](p, key, rec)
}

func memoized[T any](p *Pass, key store.StepKey, rec store.Record) (T, error) {
	e := p.engine
	v, err := decodeResult[T](e, rec)
	if err != nil {
		return v, err
	}
	e.metrics.IncStep(key.Label, stepOutcomeMemoized)
	e.emitStep(key, emit.MsgStepMemoized, map[string]any{"attempt": rec.Attempt})
	e.logger.Debug("returning recorded result",
		slog.String("execution_id", key.ExecutionID),
		slog.String("step", key.Label),
		slog.Int("sequence", key.Sequence),
	)
	return v, nil
}

func decodeResult[T any](e *Engine, rec store.Record) (T, error) {
	var v T
	if rec.Result == nil {
		return v, fmt.Errorf("%w: %s has no result", ErrPayloadDecode, rec.Key)
	}

	codec := e.codec
	if rec.Result.Codec != codec.Name() {
		c, err := CodecByName(rec.Result.Codec)
		if err != nil {
			return v, fmt.Errorf("%w: %s: %v", ErrPayloadDecode, rec.Key, err)
		}
		codec = c
	}
	if err := codec.Decode(rec.Result.Data, &v); err != nil {
		return v, fmt.Errorf("%w: %s with %s codec: %v", ErrPayloadDecode, rec.Key, codec.Name(), err)
	}
	return v, nil
}

func (e *Engine) emitStep(key store.StepKey, msg string, meta map[string]any) {
	e.emitter.Emit(emit.Event{
		ExecutionID: key.ExecutionID,
		Sequence:    key.Sequence,
		Label:       key.Label,
		Msg:         msg,
		Meta:        meta,
	})
}
