package durable

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/durable-go/durable/store"
)

// Branch is one step invocation prepared for Parallel. Build it with Call.
type Branch struct {
	label string
	run   func(ctx context.Context, p *Pass, sig *Interrupt, key store.StepKey) (any, error)
}

// Label returns the step label the branch runs under.
func (b Branch) Label() string {
	return b.label
}

// Call prepares a step invocation for Parallel. Nothing runs and no
// sequence number is allocated until Parallel is called.
//
// Branch work receives only a context. It cannot reach the Pass, so it
// cannot start nested steps whose sequence numbers would depend on
// goroutine scheduling.
func Call[T any](label string, work func(context.Context) (T, error)) Branch {
	b := Branch{label: label}
	if work != nil {
		b.run = func(ctx context.Context, p *Pass, sig *Interrupt, key store.StepKey) (any, error) {
			return execute(ctx, p, sig, key, work)
		}
	}
	return b
}

// Parallel runs branches concurrently and returns their results in argument
// order. results[i] has the type returned by the work given to the i-th
// Call.
//
// Sequence numbers are allocated for every branch, in argument order, before
// any branch starts, so the numbering is the same on every pass no matter
// which branch finishes first. Memoized branches return their recorded
// results; the rest run concurrently, at most Options.MaxConcurrent at a
// time.
//
// Fail-fast: the first branch to fail, be interrupted or hit a store error
// decides the returned error, and Parallel returns it at once without
// waiting for the other branches. Its siblings are signaled to stop at their
// next interruption check and their context is canceled; a sibling stopped
// that way leaves its record as it was (absent or RUNNING), so the next pass
// runs it again. Siblings' own outcomes are discarded.
func Parallel(ctx context.Context, p *Pass, branches ...Branch) ([]any, error) {
	if err := p.err(); err != nil {
		return nil, err
	}
	for i, b := range branches {
		if err := validateStep(b.label, b.run == nil); err != nil {
			return nil, fmt.Errorf("parallel branch %d: %w", i, err)
		}
	}

	keys := make([]store.StepKey, len(branches))
	for i, b := range branches {
		keys[i] = store.StepKey{ExecutionID: p.executionID, Label: b.label, Sequence: p.seq.Next()}
	}

	e := p.engine
	sig := p.sig.child()
	results := make([]any, len(branches))

	// The branch that asserts sig owns the fan-out's error; siblings that
	// stop because of it must not replace it. done closes at that moment.
	var (
		once     sync.Once
		firstErr error
	)
	done := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.MaxConcurrent > 0 {
		g.SetLimit(e.opts.MaxConcurrent)
	}

	// g.Go blocks at the concurrency limit, so branches are launched off the
	// caller's goroutine too.
	waitErr := make(chan error, 1)
	go func() {
		for i, b := range branches {
			g.Go(func() error {
				e.metrics.AddInflightBranches(1)
				defer e.metrics.AddInflightBranches(-1)

				v, err := b.run(gctx, p, sig, keys[i])
				if err != nil {
					once.Do(func() {
						firstErr = err
						sig.Assert(fmt.Sprintf("parallel branch %q (seq %d) ended the fan-out", b.label, keys[i].Sequence))
						close(done)
					})
					return err
				}
				results[i] = v
				return nil
			})
		}
		waitErr <- g.Wait()
	}()

	select {
	case <-done:
		// Siblings still running stop at their pre-commit check and leave
		// their records RUNNING; their outcomes are not waited for.
		return nil, p.abort(firstErr)
	case err := <-waitErr:
		if err != nil {
			if firstErr != nil {
				err = firstErr
			}
			return nil, p.abort(err)
		}
		return results, nil
	}
}

// ForEach runs work once per item as parallel branches that share label.
// Each item gets its own sequence number, in slice order, so repeated labels
// never collide. Results are returned in item order.
func ForEach[T, R any](ctx context.Context, p *Pass, label string, items []T, work func(context.Context, T) (R, error)) ([]R, error) {
	if work == nil {
		return nil, validateStep(label, true)
	}

	branches := make([]Branch, len(items))
	for i, item := range items {
		branches[i] = Call(label, func(ctx context.Context) (R, error) {
			return work(ctx, item)
		})
	}

	results, err := Parallel(ctx, p, branches...)
	if err != nil {
		return nil, err
	}

	out := make([]R, len(results))
	for i, v := range results {
		out[i], _ = v.(R)
	}
	return out, nil
}
