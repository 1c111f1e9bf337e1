package durable

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dshills/durable-go/durable/emit"
)

// FailedStepPolicy decides what a new pass does with a step whose record is
// FAILED from an earlier pass.
type FailedStepPolicy int

const (
	// RetryFailed runs the work again, overwriting the FAILED record with a
	// fresh RUNNING attempt. This is the default.
	RetryFailed FailedStepPolicy = iota

	// KeepFailed replays the recorded failure as a *StepError without
	// running the work. Retrying then takes an explicit pass with
	// RetryFailed.
	KeepFailed
)

func (p FailedStepPolicy) String() string {
	switch p {
	case RetryFailed:
		return "retry"
	case KeepFailed:
		return "keep"
	}
	return fmt.Sprintf("FailedStepPolicy(%d)", int(p))
}

// ParseFailedStepPolicy accepts "retry" or "keep".
func ParseFailedStepPolicy(s string) (FailedStepPolicy, error) {
	switch s {
	case "retry", "":
		return RetryFailed, nil
	case "keep":
		return KeepFailed, nil
	}
	return 0, fmt.Errorf("unknown failed step policy %q (want retry or keep)", s)
}

// Options holds the engine's plain-value settings.
type Options struct {
	// MaxConcurrent bounds how many branches of one Parallel call run at
	// once. Zero means unbounded.
	MaxConcurrent int

	// FailedSteps is the policy for FAILED records found on resume.
	FailedSteps FailedStepPolicy

	// StrictReplay loads the execution's recorded history at the start of
	// each pass and fails with ErrReplayMismatch when a step reaches a
	// recorded sequence under a different label. It needs a store that
	// implements store.Lister and is ignored otherwise.
	StrictReplay bool

	// DefaultStepTimeout bounds each attempt of a step's work when its
	// StepPolicy sets no Timeout. Zero means no limit.
	DefaultStepTimeout time.Duration
}

// DefaultOptions returns the options New starts from.
func DefaultOptions() Options {
	return Options{StrictReplay: true}
}

// Option is a functional option for configuring an Engine.
//
// Example:
//
//	eng, err := durable.New(st,
//	    durable.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	    durable.WithCodec(durable.MsgpackCodec{}),
//	    durable.WithMaxConcurrent(4),
//	)
type Option func(*engineConfig) error

// engineConfig collects options before New validates them.
type engineConfig struct {
	opts    Options
	emitter emit.Emitter
	logger  *slog.Logger
	metrics *PrometheusMetrics
	codec   Codec
	clock   func() time.Time

	policies      map[string]StepPolicy
	defaultPolicy StepPolicy
}

// WithOptions replaces every plain-value setting at once. Options applied
// after it still override individual fields.
func WithOptions(opts Options) Option {
	return func(cfg *engineConfig) error {
		cfg.opts = opts
		return nil
	}
}

// WithEmitter sets the observation sink. Default: emit.NullEmitter.
func WithEmitter(emitter emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = emitter
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics. Default: discard.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.logger = logger
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithCodec sets the codec used to encode new results. Records written by
// another built-in codec remain readable. Default: JSONCodec.
func WithCodec(codec Codec) Option {
	return func(cfg *engineConfig) error {
		if codec == nil {
			return &EngineError{Message: "codec cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.codec = codec
		return nil
	}
}

// WithClock overrides the time source for record timestamps and step
// latency. Tests use it to get stable UpdatedAt values.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.clock = now
		return nil
	}
}

// WithMaxConcurrent bounds concurrent branches per Parallel call.
// Zero means unbounded.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: fmt.Sprintf("max concurrent must be >= 0, got %d", n), Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxConcurrent = n
		return nil
	}
}

// WithFailedStepPolicy sets what a pass does with FAILED records.
func WithFailedStepPolicy(policy FailedStepPolicy) Option {
	return func(cfg *engineConfig) error {
		if policy != RetryFailed && policy != KeepFailed {
			return &EngineError{Message: "unknown failed step policy " + policy.String(), Code: "INVALID_OPTION"}
		}
		cfg.opts.FailedSteps = policy
		return nil
	}
}

// WithStrictReplay turns replay-mismatch detection on or off.
func WithStrictReplay(enabled bool) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.StrictReplay = enabled
		return nil
	}
}

// WithStepTimeout sets Options.DefaultStepTimeout.
func WithStepTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: fmt.Sprintf("step timeout must be >= 0, got %v", d), Code: "INVALID_OPTION"}
		}
		cfg.opts.DefaultStepTimeout = d
		return nil
	}
}

// WithStepPolicy sets the policy for every step with the given label.
//
// Example:
//
//	durable.WithStepPolicy("notify_manager", durable.StepPolicy{
//	    Timeout: 10 * time.Second,
//	    Retry: &durable.RetryPolicy{
//	        MaxAttempts: 3,
//	        BaseDelay:   200 * time.Millisecond,
//	        MaxDelay:    2 * time.Second,
//	        Retryable:   isTransient,
//	    },
//	})
func WithStepPolicy(label string, policy StepPolicy) Option {
	return func(cfg *engineConfig) error {
		if label == "" {
			return &EngineError{Message: "step policy label cannot be empty", Code: "INVALID_OPTION"}
		}
		if err := policy.validate(); err != nil {
			return &EngineError{Message: fmt.Sprintf("step policy for %q: %v", label, err), Code: "INVALID_OPTION"}
		}
		if cfg.policies == nil {
			cfg.policies = make(map[string]StepPolicy)
		}
		cfg.policies[label] = policy
		return nil
	}
}

// WithDefaultStepPolicy sets the policy for steps without a label-specific
// one.
func WithDefaultStepPolicy(policy StepPolicy) Option {
	return func(cfg *engineConfig) error {
		if err := policy.validate(); err != nil {
			return &EngineError{Message: fmt.Sprintf("default step policy: %v", err), Code: "INVALID_OPTION"}
		}
		cfg.defaultPolicy = policy
		return nil
	}
}
