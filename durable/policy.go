package durable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/durable/store"
)

// ErrInvalidRetryPolicy is returned for a RetryPolicy that fails Validate.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// StepPolicy configures how a step's work runs within one pass. It never
// changes what is recorded: the step still ends in one COMPLETED or FAILED
// record for the pass.
type StepPolicy struct {
	// Timeout bounds each attempt of the work. Zero falls back to
	// Options.DefaultStepTimeout; both zero means no limit.
	Timeout time.Duration

	// Retry re-runs failed work inside the pass. Nil means one attempt.
	Retry *RetryPolicy
}

// RetryPolicy retries transient work failures with exponential backoff and
// jitter.
type RetryPolicy struct {
	// MaxAttempts counts the first attempt. 1 means no retries.
	MaxAttempts int

	// BaseDelay is the backoff base: min(BaseDelay*2^n, MaxDelay) + jitter.
	BaseDelay time.Duration

	// MaxDelay caps the exponential part. Zero means no cap.
	MaxDelay time.Duration

	// Retryable reports whether an error is worth another attempt. Nil
	// treats every error as permanent.
	Retryable func(error) bool
}

// Validate checks MaxAttempts >= 1 and MaxDelay >= BaseDelay when both are
// set.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidRetryPolicy, rp.MaxAttempts)
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must be >= 0", ErrInvalidRetryPolicy)
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return fmt.Errorf("%w: max delay %v is below base delay %v", ErrInvalidRetryPolicy, rp.MaxDelay, rp.BaseDelay)
	}
	return nil
}

func (sp StepPolicy) validate() error {
	if sp.Timeout < 0 {
		return fmt.Errorf("step timeout must be >= 0, got %v", sp.Timeout)
	}
	if sp.Retry != nil {
		return sp.Retry.Validate()
	}
	return nil
}

// computeBackoff returns the delay before retry n (0 for the first retry).
func computeBackoff(n int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 0; i < n; i++ {
		if (maxDelay > 0 && delay >= maxDelay) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	return delay + rand.N(base) // #nosec G404 -- jitter for retry timing, not security
}

// policyFor returns the policy registered for label, or the engine default.
func (e *Engine) policyFor(label string) StepPolicy {
	if sp, ok := e.policies[label]; ok {
		return sp
	}
	return e.defaultPolicy
}

func (e *Engine) stepTimeout(sp StepPolicy) time.Duration {
	if sp.Timeout > 0 {
		return sp.Timeout
	}
	return e.opts.DefaultStepTimeout
}

// runWork runs work under the step's policy and reports how many attempts
// it took. Retries stop as soon as the interruption signal is asserted or
// ctx is done, including during the backoff wait; no attempt starts after
// the signal. The caller's pre-commit check handles the signal.
func runWork[T any](ctx context.Context, e *Engine, sig *Interrupt, key store.StepKey, work func(context.Context) (T, error)) (T, int, error) {
	sp := e.policyFor(key.Label)
	timeout := e.stepTimeout(sp)

	maxAttempts := 1
	if sp.Retry != nil {
		maxAttempts = sp.Retry.MaxAttempts
	}

	var (
		result T
		err    error
	)
	for try := 1; try <= maxAttempts; try++ {
		if try > 1 {
			delay := computeBackoff(try-2, sp.Retry.BaseDelay, sp.Retry.MaxDelay)
			e.metrics.IncStep(key.Label, stepOutcomeRetried)
			e.emitStep(key, emit.MsgStepRetrying, map[string]any{
				"try":      try,
				"error":    err.Error(),
				"delay_ms": delay.Milliseconds(),
			})
			e.logger.Debug("retrying step",
				slog.String("execution_id", key.ExecutionID),
				slog.String("step", key.Label),
				slog.Int("try", try),
				slog.Duration("delay", delay),
			)
			if !sleepCtx(ctx, delay) || sig.Asserted() {
				return result, try - 1, err
			}
		}

		result, err = runWithTimeout(ctx, key, timeout, work)
		if err == nil {
			return result, try, nil
		}
		if !retryable(sp.Retry, err) || sig.Asserted() || ctx.Err() != nil {
			return result, try, err
		}
	}
	return result, maxAttempts, err
}

func retryable(rp *RetryPolicy, err error) bool {
	return rp != nil && rp.Retryable != nil && rp.Retryable(err)
}

// runWithTimeout bounds one attempt. An attempt that overruns fails with a
// STEP_TIMEOUT *EngineError whatever the work itself returned.
func runWithTimeout[T any](ctx context.Context, key store.StepKey, timeout time.Duration, work func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return work(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := work(tctx)
	if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, &EngineError{
			Message: fmt.Sprintf("step %s exceeded timeout of %v", key, timeout),
			Code:    "STEP_TIMEOUT",
		}
	}
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
