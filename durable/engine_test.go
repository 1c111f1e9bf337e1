package durable

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/durable-go/durable/emit"
	"github.com/dshills/durable-go/durable/store"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		st   store.Store
		opts []Option
		code string
	}{
		{name: "nil store", st: nil, code: "NIL_STORE"},
		{name: "negative concurrency", st: store.NewMemStore(), opts: []Option{WithMaxConcurrent(-1)}, code: "INVALID_OPTION"},
		{name: "nil codec", st: store.NewMemStore(), opts: []Option{WithCodec(nil)}, code: "INVALID_OPTION"},
		{name: "nil clock", st: store.NewMemStore(), opts: []Option{WithClock(nil)}, code: "INVALID_OPTION"},
		{name: "unknown policy", st: store.NewMemStore(), opts: []Option{WithFailedStepPolicy(FailedStepPolicy(9))}, code: "INVALID_OPTION"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.st, tt.opts...)
			var ee *EngineError
			if !errors.As(err, &ee) || ee.Code != tt.code {
				t.Errorf("expected EngineError %s, got %v", tt.code, err)
			}
		})
	}

	t.Run("defaults", func(t *testing.T) {
		eng, err := New(store.NewMemStore())
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		want := Options{StrictReplay: true}
		if diff := cmp.Diff(want, eng.Options()); diff != "" {
			t.Errorf("default options mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("WithOptions then override", func(t *testing.T) {
		eng, err := New(store.NewMemStore(),
			WithOptions(Options{MaxConcurrent: 3, FailedSteps: KeepFailed}),
			WithStrictReplay(true),
		)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		want := Options{MaxConcurrent: 3, FailedSteps: KeepFailed, StrictReplay: true}
		if diff := cmp.Diff(want, eng.Options()); diff != "" {
			t.Errorf("options mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestRun_Validation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	noop := func(context.Context, *Pass) (int, error) { return 0, nil }

	for _, id := range []string{"", "a|b"} {
		_, err := Run(ctx, h.engine, id, nil, noop)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "INVALID_EXECUTION_ID" {
			t.Errorf("execution ID %q: expected INVALID_EXECUTION_ID, got %v", id, err)
		}
	}

	if _, err := Run[int](ctx, h.engine, "exec", nil, nil); err == nil {
		t.Error("expected error for nil workflow")
	}
	if _, err := Run(ctx, nil, "exec", nil, noop); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestRun_EventSequence(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	wf := func(ctx context.Context, p *Pass) (string, error) {
		p.Progress("creating account", map[string]any{"employee": "ada"})
		return Step(ctx, p, "create_account", func(context.Context) (string, error) { return "u-1", nil })
	}

	if _, err := Run(ctx, h.engine, "exec", nil, wf); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if _, err := Run(ctx, h.engine, "exec", nil, wf); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	var msgs []string
	for _, e := range h.events.GetHistory("exec") {
		msgs = append(msgs, e.Msg)
	}
	want := []string{
		emit.MsgPassStarted, emit.MsgProgress, emit.MsgStepRunning, emit.MsgStepCompleted, emit.MsgPassCompleted,
		emit.MsgPassStarted, emit.MsgProgress, emit.MsgStepMemoized, emit.MsgPassCompleted,
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}

	progress := h.events.GetHistoryWithFilter("exec", emit.HistoryFilter{Msg: emit.MsgProgress})[0]
	if progress.Meta["message"] != "creating account" || progress.Meta["employee"] != "ada" {
		t.Errorf("unexpected progress meta: %v", progress.Meta)
	}
	completed := h.events.GetHistoryWithFilter("exec", emit.HistoryFilter{Msg: emit.MsgStepCompleted})[0]
	if completed.Sequence != 1 || completed.Label != "create_account" {
		t.Errorf("unexpected step event identity: %+v", completed)
	}
}

func TestRun_SwallowedInterruptIsReported(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	sig := NewInterrupt()
	sig.Assert("shutdown")

	_, err := Run(ctx, h.engine, "exec", sig, func(ctx context.Context, p *Pass) (int, error) {
		if _, err := Step(ctx, p, "a", func(context.Context) (int, error) { return 1, nil }); err != nil {
			return 0, nil // ignores the error
		}
		return 1, nil
	})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if n := len(h.events.GetHistoryWithFilter("exec", emit.HistoryFilter{Msg: emit.MsgPassInterrupted})); n != 1 {
		t.Errorf("expected pass_interrupted event, got %d", n)
	}
}

func TestRun_ListFailureFailsPass(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	eng, _ := New(st)
	_ = st.Close()

	_, err := Run(ctx, eng, "exec", nil, func(context.Context, *Pass) (int, error) { return 1, nil })
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "list" {
		t.Fatalf("expected list StoreError, got %v", err)
	}
	if !errors.Is(err, store.ErrClosed) {
		t.Error("expected StoreError to unwrap to ErrClosed")
	}
}

func TestEngine_History(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a lister", func(t *testing.T) {
		eng, _ := New(newFlakyStore())
		_, err := eng.History(ctx, "exec")
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "UNSUPPORTED" {
			t.Errorf("expected UNSUPPORTED, got %v", err)
		}
	})

	t.Run("lists in sequence order", func(t *testing.T) {
		h := newHarness(t)
		if err := runDo(ctx, h.engine, "exec", "a", "b", "c"); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		records, err := h.engine.History(ctx, "exec")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		var labels []string
		for _, r := range records {
			labels = append(labels, r.Key.Label)
		}
		if diff := cmp.Diff([]string{"a", "b", "c"}, labels); diff != "" {
			t.Errorf("labels mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestEngine_LogsZombieReruns(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	h := newHarness(t, WithLogger(logger))

	sig := NewInterrupt()
	_, _ = Run(ctx, h.engine, "exec", sig, func(ctx context.Context, p *Pass) (int, error) {
		return Step(ctx, p, "a", func(context.Context) (int, error) {
			sig.Assert("crash")
			return 1, nil
		})
	})
	if _, err := Run(ctx, h.engine, "exec", nil, func(ctx context.Context, p *Pass) (int, error) {
		return Step(ctx, p, "a", func(context.Context) (int, error) { return 1, nil })
	}); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if !strings.Contains(buf.String(), "re-running unconfirmed step") {
		t.Errorf("expected zombie warning in log, got %q", buf.String())
	}
}

func TestNewExecutionID(t *testing.T) {
	a, b := NewExecutionID(), NewExecutionID()
	if a == b {
		t.Error("expected distinct IDs")
	}
	if err := validateExecutionID(a); err != nil {
		t.Errorf("generated ID is not valid: %v", err)
	}
}
