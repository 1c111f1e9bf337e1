package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of Store and Lister.
//
// It keeps the step table in a single-file database. Designed for:
//   - Development and demos with zero setup
//   - Single-process workflows that must survive a restart
//
// Features:
//   - Auto-migration on first use
//   - WAL mode so readers (inspect) do not block the executor
//   - Conditional upsert: a COMPLETED row is never overwritten
//
// Schema:
//   - step_records: one row per step key
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore opens (creating if needed) the database at path.
//
// path may be a file path such as "./durable.db" or ":memory:" for a
// throwaway database.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./durable.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:   db,
		path: path,
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS step_records (
			step_key TEXT NOT NULL PRIMARY KEY,
			execution_id TEXT NOT NULL,
			label TEXT NOT NULL,
			seq INTEGER NOT NULL,
			status TEXT NOT NULL,
			result_codec TEXT NULL,
			result_data BLOB NULL,
			error TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create step_records table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_step_records_execution ON step_records(execution_id, seq)"); err != nil {
		return fmt.Errorf("failed to create idx_step_records_execution: %w", err)
	}

	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the record for key or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, key StepKey) (Record, error) {
	if err := s.checkOpen(); err != nil {
		return Record{}, err
	}

	query := `
		SELECT execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at
		FROM step_records
		WHERE step_key = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load step record: %w", err)
	}
	return rec, nil
}

// Upsert inserts rec or replaces the existing non-completed row.
func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	// The WHERE clause on the update arm turns the upsert into a no-op when
	// the stored row is COMPLETED; RowsAffected is then zero.
	query := `
		INSERT INTO step_records
		(step_key, execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(step_key) DO UPDATE SET
			status = excluded.status,
			result_codec = excluded.result_codec,
			result_data = excluded.result_data,
			error = excluded.error,
			attempt = excluded.attempt,
			updated_at = excluded.updated_at
		WHERE step_records.status <> 'COMPLETED'
	`

	codec, data := payloadColumns(rec.Result)
	res, err := s.db.ExecContext(ctx, query,
		rec.Key.String(),
		rec.Key.ExecutionID,
		rec.Key.Label,
		rec.Key.Sequence,
		string(rec.Status),
		codec,
		data,
		rec.Error,
		rec.Attempt,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert step record: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read upsert result: %w", err)
	}
	if n == 0 {
		return ErrRecordCompleted
	}
	return nil
}

// List returns the execution's records ordered by sequence.
func (s *SQLiteStore) List(ctx context.Context, executionID string) ([]Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `
		SELECT execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at
		FROM step_records
		WHERE execution_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}
	return out, nil
}

// Close closes the database. Calling Close more than once is a no-op.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		status    string
		codec     sql.NullString
		data      []byte
		updatedAt string
	)
	if err := row.Scan(
		&rec.Key.ExecutionID,
		&rec.Key.Label,
		&rec.Key.Sequence,
		&status,
		&codec,
		&data,
		&rec.Error,
		&rec.Attempt,
		&updatedAt,
	); err != nil {
		return Record{}, err
	}

	rec.Status = Status(status)
	if codec.Valid {
		rec.Result = &Payload{Codec: codec.String, Data: data}
	}

	ts, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	rec.UpdatedAt = ts
	return rec, nil
}

func payloadColumns(p *Payload) (codec any, data any) {
	if p == nil {
		return nil, nil
	}
	// A zero-length result must still read back as non-NULL.
	if p.Data == nil {
		return p.Codec, []byte{}
	}
	return p.Codec, p.Data
}
