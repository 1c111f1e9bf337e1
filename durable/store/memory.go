package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store and Lister.
//
// Designed for:
//   - Testing and development
//   - Single-process demos where losing records on exit is acceptable
//
// MemStore is safe for concurrent use. Records are copied on the way in and
// out, so callers never share payload buffers with the store.
type MemStore struct {
	mu      sync.RWMutex
	records map[StepKey]Record
	closed  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[StepKey]Record),
	}
}

// Get returns the record for key or ErrNotFound.
func (m *MemStore) Get(_ context.Context, key StepKey) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrClosed
	}

	rec, ok := m.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

// Upsert stores rec unless a COMPLETED record already holds the key.
func (m *MemStore) Upsert(_ context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if prev, ok := m.records[rec.Key]; ok && prev.Status == StatusCompleted {
		return ErrRecordCompleted
	}
	m.records[rec.Key] = cloneRecord(rec)
	return nil
}

// List returns the execution's records ordered by sequence.
func (m *MemStore) List(_ context.Context, executionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	out := make([]Record, 0)
	for key, rec := range m.records {
		if key.ExecutionID == executionID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.Sequence < out[j].Key.Sequence
	})
	return out, nil
}

// Len returns the number of stored records across all executions.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Close marks the store closed. Later calls return ErrClosed.
// Calling Close more than once is a no-op.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MarshalJSON serializes every record, ordered by rendered key so the output
// is stable.
//
// Example:
//
//	data, err := mem.MarshalJSON()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	os.WriteFile("records.json", data, 0o644)
func (m *MemStore) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.String() < records[j].Key.String()
	})

	return json.Marshal(struct {
		Records []Record `json:"records"`
	}{Records: records})
}

// UnmarshalJSON replaces the store contents with a snapshot produced by
// MarshalJSON. Every record is validated before anything is replaced.
func (m *MemStore) UnmarshalJSON(data []byte) error {
	var snapshot struct {
		Records []Record `json:"records"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}

	records := make(map[StepKey]Record, len(snapshot.Records))
	for _, rec := range snapshot.Records {
		if err := rec.Validate(); err != nil {
			return err
		}
		records[rec.Key] = rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = records
	return nil
}

func cloneRecord(rec Record) Record {
	if rec.Result != nil {
		p := *rec.Result
		p.Data = append([]byte(nil), rec.Result.Data...)
		rec.Result = &p
	}
	return rec
}
