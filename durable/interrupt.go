package durable

import (
	"context"
	"sync"
	"sync/atomic"
)

// Interrupt is the interruption signal for a pass: an explicit token the
// caller can assert at any time. The step executor polls it at two points
// only, immediately before starting a step's work and immediately before
// committing its outcome. Work already running is never pre-empted.
//
// A nil *Interrupt is valid and never asserted.
type Interrupt struct {
	parent *Interrupt

	asserted atomic.Bool
	mu       sync.Mutex
	reason   string
}

// NewInterrupt returns an unasserted token.
func NewInterrupt() *Interrupt {
	return &Interrupt{}
}

// InterruptOnDone returns a token that is asserted when ctx is done, with the
// context's cause as the reason. Wire it to signal.NotifyContext to treat
// SIGINT as an interruption.
func InterruptOnDone(ctx context.Context) *Interrupt {
	i := NewInterrupt()
	context.AfterFunc(ctx, func() {
		reason := "context done"
		if cause := context.Cause(ctx); cause != nil {
			reason = cause.Error()
		}
		i.Assert(reason)
	})
	return i
}

// Assert raises the signal. The first reason sticks; later calls are no-ops.
func (i *Interrupt) Assert(reason string) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.asserted.Load() {
		return
	}
	i.reason = reason
	i.asserted.Store(true)
}

// Asserted reports whether this token or any ancestor has been asserted.
func (i *Interrupt) Asserted() bool {
	for t := i; t != nil; t = t.parent {
		if t.asserted.Load() {
			return true
		}
	}
	return false
}

// Reason returns the reason of the nearest asserted token, or "".
func (i *Interrupt) Reason() string {
	for t := i; t != nil; t = t.parent {
		if t.asserted.Load() {
			t.mu.Lock()
			r := t.reason
			t.mu.Unlock()
			return r
		}
	}
	return ""
}

// child returns a token asserted whenever i is, which can also be asserted
// on its own without affecting i. Parallel uses one per fan-out so a failing
// branch can stop its siblings without interrupting the whole pass.
func (i *Interrupt) child() *Interrupt {
	return &Interrupt{parent: i}
}
