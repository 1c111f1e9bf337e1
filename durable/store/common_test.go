package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dshills/durable-go/durable/store"
)

// backend is a Store that also lists and closes, which all three
// implementations do.
type backend interface {
	store.Store
	store.Lister
	Close() error
}

// backends returns every Store implementation under test. MySQL is skipped
// unless TEST_MYSQL_DSN is set.
func backends() []struct {
	name string
	open func(t *testing.T) backend
} {
	return []struct {
		name string
		open func(t *testing.T) backend
	}{
		{
			name: "MemStore",
			open: func(t *testing.T) backend {
				return store.NewMemStore()
			},
		},
		{
			name: "SQLiteStore",
			open: func(t *testing.T) backend {
				st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "steps.db"))
				if err != nil {
					t.Fatalf("NewSQLiteStore failed: %v", err)
				}
				return st
			},
		},
		{
			name: "MySQLStore",
			open: func(t *testing.T) backend {
				dsn := os.Getenv("TEST_MYSQL_DSN")
				if dsn == "" {
					t.Skip("Skipping MySQL test: TEST_MYSQL_DSN not set")
				}
				st, err := store.NewMySQLStore(dsn)
				if err != nil {
					t.Fatalf("NewMySQLStore failed: %v", err)
				}
				return st
			},
		},
	}
}

// uniqueExecution keeps runs against a shared MySQL database apart.
func uniqueExecution(t *testing.T) string {
	return fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

func running(key store.StepKey, attempt int) store.Record {
	return store.Record{Key: key, Status: store.StatusRunning, Attempt: attempt, UpdatedAt: epoch}
}

func completed(key store.StepKey, data string) store.Record {
	return store.Record{
		Key:       key,
		Status:    store.StatusCompleted,
		Result:    &store.Payload{Codec: "json", Data: []byte(data)},
		Attempt:   1,
		UpdatedAt: epoch.Add(time.Second),
	}
}

func TestStoreContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing key", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "absent", Sequence: 1}
				if _, err := st.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			})

			t.Run("running then completed round trip", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "charge", Sequence: 1}
				if err := st.Upsert(ctx, running(key, 1)); err != nil {
					t.Fatalf("Upsert RUNNING failed: %v", err)
				}

				got, err := st.Get(ctx, key)
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if diff := cmp.Diff(running(key, 1), got); diff != "" {
					t.Errorf("RUNNING record mismatch (-want +got):\n%s", diff)
				}

				want := completed(key, `{"id":42}`)
				if err := st.Upsert(ctx, want); err != nil {
					t.Fatalf("Upsert COMPLETED failed: %v", err)
				}
				got, err = st.Get(ctx, key)
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("COMPLETED record mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("completed record is never overwritten", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "email", Sequence: 2}
				want := completed(key, `"sent"`)
				if err := st.Upsert(ctx, want); err != nil {
					t.Fatalf("Upsert failed: %v", err)
				}

				err := st.Upsert(ctx, running(key, 2))
				if !errors.Is(err, store.ErrRecordCompleted) {
					t.Fatalf("expected ErrRecordCompleted, got %v", err)
				}

				got, err := st.Get(ctx, key)
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("completed record changed (-want +got):\n%s", diff)
				}
			})

			t.Run("failed record can be replaced", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "flaky", Sequence: 1}
				failed := store.Record{Key: key, Status: store.StatusFailed, Error: "boom", Attempt: 1, UpdatedAt: epoch}
				if err := st.Upsert(ctx, failed); err != nil {
					t.Fatalf("Upsert FAILED failed: %v", err)
				}
				if err := st.Upsert(ctx, running(key, 2)); err != nil {
					t.Fatalf("Upsert RUNNING over FAILED failed: %v", err)
				}

				got, err := st.Get(ctx, key)
				if err != nil {
					t.Fatalf("Get failed: %v", err)
				}
				if got.Status != store.StatusRunning || got.Attempt != 2 || got.Error != "" {
					t.Errorf("expected RUNNING attempt 2 with no error, got %+v", got)
				}
			})

			t.Run("invalid records are rejected", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "bad", Sequence: 1}
				bad := store.Record{Key: key, Status: store.StatusCompleted, UpdatedAt: epoch}
				if err := st.Upsert(ctx, bad); err == nil {
					t.Fatal("expected error for COMPLETED record without result")
				}
				if _, err := st.Get(ctx, key); !errors.Is(err, store.ErrNotFound) {
					t.Fatalf("rejected record was stored: %v", err)
				}
			})

			t.Run("list orders by sequence and isolates executions", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				exec := uniqueExecution(t)
				for _, seq := range []int{3, 1, 2} {
					key := store.StepKey{ExecutionID: exec, Label: "loop", Sequence: seq}
					if err := st.Upsert(ctx, completed(key, fmt.Sprint(seq))); err != nil {
						t.Fatalf("Upsert failed: %v", err)
					}
				}
				other := store.StepKey{ExecutionID: exec + "-other", Label: "loop", Sequence: 1}
				if err := st.Upsert(ctx, running(other, 1)); err != nil {
					t.Fatalf("Upsert failed: %v", err)
				}

				records, err := st.List(ctx, exec)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				var seqs []int
				for _, rec := range records {
					seqs = append(seqs, rec.Key.Sequence)
				}
				if diff := cmp.Diff([]int{1, 2, 3}, seqs); diff != "" {
					t.Errorf("sequence order mismatch (-want +got):\n%s", diff)
				}

				empty, err := st.List(ctx, exec+"-missing")
				if err != nil {
					t.Fatalf("List of unknown execution failed: %v", err)
				}
				if len(empty) != 0 {
					t.Errorf("expected no records, got %d", len(empty))
				}
			})

			t.Run("concurrent upserts on distinct keys", func(t *testing.T) {
				st := b.open(t)
				defer st.Close()

				exec := uniqueExecution(t)
				var wg sync.WaitGroup
				errs := make(chan error, 10)
				for i := 1; i <= 10; i++ {
					wg.Add(1)
					go func(seq int) {
						defer wg.Done()
						key := store.StepKey{ExecutionID: exec, Label: "branch", Sequence: seq}
						if err := st.Upsert(ctx, completed(key, fmt.Sprint(seq))); err != nil {
							errs <- err
						}
					}(i)
				}
				wg.Wait()
				close(errs)
				for err := range errs {
					t.Errorf("concurrent Upsert failed: %v", err)
				}

				records, err := st.List(ctx, exec)
				if err != nil {
					t.Fatalf("List failed: %v", err)
				}
				if len(records) != 10 {
					t.Errorf("expected 10 records, got %d", len(records))
				}
			})

			t.Run("closed store", func(t *testing.T) {
				st := b.open(t)
				if err := st.Close(); err != nil {
					t.Fatalf("Close failed: %v", err)
				}
				if err := st.Close(); err != nil {
					t.Errorf("second Close should be a no-op, got %v", err)
				}

				key := store.StepKey{ExecutionID: uniqueExecution(t), Label: "late", Sequence: 1}
				if _, err := st.Get(ctx, key); !errors.Is(err, store.ErrClosed) {
					t.Errorf("Get after Close: expected ErrClosed, got %v", err)
				}
				if err := st.Upsert(ctx, running(key, 1)); !errors.Is(err, store.ErrClosed) {
					t.Errorf("Upsert after Close: expected ErrClosed, got %v", err)
				}
			})
		})
	}
}
