package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by execution ID.
//
// Use cases:
//   - Tests asserting on what a pass did
//   - The CLI's inspect command, which prints a pass's events after it ends
//
// Warning: nothing is evicted until Clear is called.
//
// Example usage:
//
//	buf := emit.NewBufferedEmitter()
//	eng, _ := durable.New(st, durable.WithEmitter(buf))
//	durable.Run(ctx, eng, "exec-1", nil, wf)
//
//	memoized := buf.GetHistoryWithFilter("exec-1", emit.HistoryFilter{Msg: emit.MsgStepMemoized})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // executionID -> events
}

// HistoryFilter selects events from a buffered history.
//
// All fields are optional and combine with AND logic.
//
// Example:
//
//	lo, hi := 2, 4
//	filter := emit.HistoryFilter{
//		Label:       "enroll_course",
//		MinSequence: &lo,
//		MaxSequence: &hi,
//	}
type HistoryFilter struct {
	Label       string // exact step label (empty = any)
	Msg         string // exact message (empty = any)
	MinSequence *int   // inclusive lower bound (nil = none)
	MaxSequence *int   // inclusive upper bound (nil = none)
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit appends event to its execution's history.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.ExecutionID] = append(b.events[event.ExecutionID], event)
}

// GetHistory returns a copy of every event for executionID in emission
// order, or an empty slice.
func (b *BufferedEmitter) GetHistory(executionID string) []Event {
	return b.GetHistoryWithFilter(executionID, HistoryFilter{})
}

// GetHistoryWithFilter returns a copy of the events for executionID that
// match filter, in emission order. It never returns nil.
func (b *BufferedEmitter) GetHistoryWithFilter(executionID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Event, 0, len(b.events[executionID]))
	for _, event := range b.events[executionID] {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Label != "" && event.Label != f.Label {
		return false
	}
	if f.Msg != "" && event.Msg != f.Msg {
		return false
	}
	if f.MinSequence != nil && event.Sequence < *f.MinSequence {
		return false
	}
	if f.MaxSequence != nil && event.Sequence > *f.MaxSequence {
		return false
	}
	return true
}

// Clear drops the history for executionID, or every history when
// executionID is empty.
func (b *BufferedEmitter) Clear(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if executionID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, executionID)
}
