package durable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/durable/store"
)

// Engine executes workflow passes against a step record store.
//
// An Engine holds no per-execution state and is safe for concurrent use.
// Running two passes of the same execution ID at the same time is not
// supported; the store's conditional writes keep COMPLETED records intact
// but the passes will race on RUNNING records.
type Engine struct {
	store   store.Store
	opts    Options
	emitter emit.Emitter
	logger  *slog.Logger
	metrics *PrometheusMetrics
	codec   Codec
	now     func() time.Time

	policies      map[string]StepPolicy
	defaultPolicy StepPolicy
}

// New creates an Engine backed by st.
//
// Returns an *EngineError if st is nil or an option is invalid.
func New(st store.Store, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, &EngineError{Message: "store cannot be nil", Code: "NIL_STORE"}
	}

	cfg := &engineConfig{opts: DefaultOptions()}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	e := &Engine{
		store:   st,
		opts:    cfg.opts,
		emitter: cfg.emitter,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		codec:   cfg.codec,
		now:     cfg.clock,

		policies:      cfg.policies,
		defaultPolicy: cfg.defaultPolicy,
	}
	if e.emitter == nil {
		e.emitter = emit.NewNullEmitter()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if e.codec == nil {
		e.codec = JSONCodec{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Options returns the engine's effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// History returns every record of executionID ordered by sequence. The
// store must implement store.Lister.
func (e *Engine) History(ctx context.Context, executionID string) ([]store.Record, error) {
	lister, ok := e.store.(store.Lister)
	if !ok {
		return nil, &EngineError{Message: "store does not support listing records", Code: "UNSUPPORTED"}
	}
	records, err := lister.List(ctx, executionID)
	if err != nil {
		return nil, &StoreError{Op: "list", Key: store.StepKey{ExecutionID: executionID}, Err: err}
	}
	return records, nil
}

// NewExecutionID returns a random execution ID.
func NewExecutionID() string {
	return uuid.NewString()
}

// Workflow is ordinary Go code that performs its side effects through Step,
// Do, Parallel and ForEach on the given Pass.
type Workflow[T any] func(ctx context.Context, p *Pass) (T, error)

// Run executes one pass of wf for executionID. Resuming after a crash or an
// interruption is calling Run again with the same executionID.
//
// sig may be nil. The returned error is nil on success; otherwise Classify
// tells an interruption (resume later) from a step failure or a store
// failure.
//
// If wf swallows an interruption or store error and returns nil, Run still
// reports that error: the pass did not finish.
func Run[T any](ctx context.Context, e *Engine, executionID string, sig *Interrupt, wf Workflow[T]) (T, error) {
	var zero T
	if e == nil {
		return zero, &EngineError{Message: "engine cannot be nil", Code: "NIL_ENGINE"}
	}
	if wf == nil {
		return zero, &EngineError{Message: "workflow cannot be nil", Code: "INVALID_WORKFLOW"}
	}
	if err := validateExecutionID(executionID); err != nil {
		return zero, err
	}

	p := &Pass{
		engine:      e,
		executionID: executionID,
		seq:         NewSequencer(),
		sig:         sig,
	}

	e.emitter.Emit(emit.Event{ExecutionID: executionID, Msg: emit.MsgPassStarted})
	e.logger.Debug("pass started", slog.String("execution_id", executionID))

	result, err := runPass(ctx, p, wf)
	if err == nil {
		err = p.err()
	}

	outcome := Classify(err)
	e.metrics.IncPass(outcome)

	switch outcome {
	case OutcomeSuccess:
		e.emitter.Emit(emit.Event{
			ExecutionID: executionID,
			Msg:         emit.MsgPassCompleted,
			Meta:        map[string]any{"steps": p.seq.Current()},
		})
		return result, nil
	case OutcomeInterrupted:
		e.emitter.Emit(emit.Event{
			ExecutionID: executionID,
			Msg:         emit.MsgPassInterrupted,
			Meta:        map[string]any{"error": err.Error(), "steps": p.seq.Current()},
		})
		e.logger.Info("pass interrupted",
			slog.String("execution_id", executionID),
			slog.String("error", err.Error()),
		)
	default:
		e.emitter.Emit(emit.Event{
			ExecutionID: executionID,
			Msg:         emit.MsgPassFailed,
			Meta:        map[string]any{"error": err.Error(), "outcome": outcome.String()},
		})
		e.logger.Warn("pass failed",
			slog.String("execution_id", executionID),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()),
		)
	}
	return zero, err
}

func runPass[T any](ctx context.Context, p *Pass, wf Workflow[T]) (T, error) {
	if err := p.loadHistory(ctx); err != nil {
		var zero T
		return zero, err
	}
	return wf(ctx, p)
}

func validateExecutionID(id string) error {
	if id == "" {
		return &EngineError{Message: "execution ID cannot be empty", Code: "INVALID_EXECUTION_ID"}
	}
	if strings.Contains(id, "|") {
		return &EngineError{Message: "execution ID cannot contain '|': " + id, Code: "INVALID_EXECUTION_ID"}
	}
	return nil
}

// Pass is one top-to-bottom traversal of a workflow. It owns the pass's
// Sequencer and interruption signal. A Pass must not be retained after the
// workflow returns.
type Pass struct {
	engine      *Engine
	executionID string
	seq         *Sequencer
	sig         *Interrupt

	// history maps recorded sequences to labels for strict replay. It is
	// written once before the workflow starts and only read afterwards.
	history map[int]string

	mu       sync.Mutex
	abortErr error
}

// ExecutionID returns the execution this pass belongs to.
func (p *Pass) ExecutionID() string {
	return p.executionID
}

// Sequence returns the last sequence number handed out in this pass.
func (p *Pass) Sequence() int {
	return p.seq.Current()
}

// Progress sends a human-readable progress message to the observation sink.
// It has no effect on execution.
func (p *Pass) Progress(msg string, meta map[string]any) {
	fields := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		fields[k] = v
	}
	fields["message"] = msg
	p.engine.emitter.Emit(emit.Event{
		ExecutionID: p.executionID,
		Sequence:    p.seq.Current(),
		Msg:         emit.MsgProgress,
		Meta:        fields,
	})
}

func (p *Pass) loadHistory(ctx context.Context) error {
	if !p.engine.opts.StrictReplay {
		return nil
	}
	lister, ok := p.engine.store.(store.Lister)
	if !ok {
		return nil
	}
	records, err := lister.List(ctx, p.executionID)
	if err != nil {
		return p.abort(&StoreError{Op: "list", Key: store.StepKey{ExecutionID: p.executionID}, Err: err})
	}
	p.history = make(map[int]string, len(records))
	for _, rec := range records {
		p.history[rec.Key.Sequence] = rec.Key.Label
	}
	return nil
}

// checkReplay returns ErrReplayMismatch when a previous pass recorded a
// different label at key's sequence.
func (p *Pass) checkReplay(key store.StepKey) error {
	recorded, ok := p.history[key.Sequence]
	if !ok || recorded == key.Label {
		return nil
	}
	return &replayMismatchError{key: key, recorded: recorded}
}

type replayMismatchError struct {
	key      store.StepKey
	recorded string
}

func (e *replayMismatchError) Error() string {
	return fmt.Sprintf("%v: sequence %d of %s was recorded as %q but the workflow reached %q",
		ErrReplayMismatch, e.key.Sequence, e.key.ExecutionID, e.recorded, e.key.Label)
}

func (e *replayMismatchError) Is(target error) bool {
	return target == ErrReplayMismatch
}

// abort records err as the reason every later step of the pass fails, if
// err is of a kind that must stop the pass. It returns err unchanged.
func (p *Pass) abort(err error) error {
	if err == nil || !abortsPass(err) {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.abortErr == nil {
		p.abortErr = err
	}
	return err
}

func (p *Pass) err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortErr
}
