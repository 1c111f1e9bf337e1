package durable

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/durable/store"
)

type harness struct {
	engine *Engine
	store  *store.MemStore
	events *emit.BufferedEmitter
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st := store.NewMemStore()
	return newHarnessOn(t, st, opts...)
}

// newHarnessOn builds a fresh engine over an existing store, the way a
// restarted process would.
func newHarnessOn(t *testing.T, st *store.MemStore, opts ...Option) *harness {
	t.Helper()
	events := emit.NewBufferedEmitter()
	eng, err := New(st, append([]Option{WithEmitter(events)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{engine: eng, store: st, events: events}
}

func (h *harness) record(t *testing.T, execID, label string, seq int) (store.Record, bool) {
	t.Helper()
	rec, err := h.store.Get(context.Background(), store.StepKey{ExecutionID: execID, Label: label, Sequence: seq})
	if errors.Is(err, store.ErrNotFound) {
		return store.Record{}, false
	}
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	return rec, true
}

// counter counts how many times each label's work actually ran.
type counter struct {
	mu   sync.Mutex
	runs map[string]int
}

func newCounter() *counter {
	return &counter{runs: make(map[string]int)}
}

func (c *counter) hit(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs[label]++
}

func (c *counter) get(label string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[label]
}

// value returns work for label that counts its invocations and returns v.
func value[T any](c *counter, label string, v T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		c.hit(label)
		return v, nil
	}
}

// flakyStore is a Store (without Lister) whose reads or writes can be made
// to fail.
type flakyStore struct {
	inner      *store.MemStore
	failGet    atomic.Bool
	failUpsert atomic.Bool
	gets       atomic.Int32
	upserts    atomic.Int32
}

var errDiskGone = errors.New("disk gone")

func newFlakyStore() *flakyStore {
	return &flakyStore{inner: store.NewMemStore()}
}

func (f *flakyStore) Get(ctx context.Context, key store.StepKey) (store.Record, error) {
	f.gets.Add(1)
	if f.failGet.Load() {
		return store.Record{}, errDiskGone
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyStore) Upsert(ctx context.Context, rec store.Record) error {
	f.upserts.Add(1)
	if f.failUpsert.Load() {
		return errDiskGone
	}
	return f.inner.Upsert(ctx, rec)
}
