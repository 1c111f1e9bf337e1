package durable

import "sync/atomic"

// Sequencer hands out the per-pass step ordinals 1, 2, 3, ... with no gaps
// and no reuse. It is safe for concurrent use, but Parallel allocates all of
// its ordinals from the calling goroutine so the order never depends on
// scheduling.
//
// A Sequencer is never persisted. Every pass starts a new one and re-derives
// the same numbers by walking the workflow from the top.
type Sequencer struct {
	last atomic.Int64
}

// NewSequencer returns a Sequencer whose first Next is 1.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next ordinal.
func (s *Sequencer) Next() int {
	return int(s.last.Add(1))
}

// Current returns the last ordinal handed out, or 0 before the first Next.
func (s *Sequencer) Current() int {
	return int(s.last.Load())
}
