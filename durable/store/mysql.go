package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers that mean a concurrent writer touched the same key
// first. The upsert transaction is retried when it sees one.
const (
	mysqlErrDuplicateEntry = 1062
	mysqlErrDeadlock       = 1213

	maxUpsertAttempts = 3
)

// MySQLStore is a MySQL/MariaDB implementation of Store and Lister.
//
// Designed for:
//   - Deployments where the step table must outlive the host
//   - Operators who want to query step history with SQL
//
// Upserts run inside a transaction that locks the row with SELECT ... FOR
// UPDATE, which gives the same "never overwrite COMPLETED" guarantee as the
// SQLite store's conditional upsert.
//
// Schema:
//   - step_records: one row per step key
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore connects using a go-sql-driver DSN and creates the schema.
//
// Example DSNs:
//
//	user:password@tcp(localhost:3306)/durable
//	user:password@tcp(127.0.0.1:3306)/durable?timeout=5s
//
// Security Warning:
//
//	Never hardcode credentials. Read the DSN from the environment
//	(DURABLE_MYSQL_DSN for the CLI).
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	m := &MySQLStore{db: db}
	if err := m.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return m, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	table := `
		CREATE TABLE IF NOT EXISTS step_records (
			step_key VARCHAR(767) NOT NULL PRIMARY KEY,
			execution_id VARCHAR(255) NOT NULL,
			label VARCHAR(255) NOT NULL,
			seq INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			result_codec VARCHAR(32) NULL,
			result_data LONGBLOB NULL,
			error TEXT NOT NULL,
			attempt INT NOT NULL DEFAULT 0,
			updated_at VARCHAR(40) NOT NULL,
			INDEX idx_step_records_execution (execution_id, seq)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin
	`
	if _, err := m.db.ExecContext(ctx, table); err != nil {
		return fmt.Errorf("failed to create step_records table: %w", err)
	}
	return nil
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Get returns the record for key or ErrNotFound.
func (m *MySQLStore) Get(ctx context.Context, key StepKey) (Record, error) {
	if err := m.checkOpen(); err != nil {
		return Record{}, err
	}

	query := `
		SELECT execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at
		FROM step_records
		WHERE step_key = ?
	`

	rec, err := scanRecord(m.db.QueryRowContext(ctx, query, key.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load step record: %w", err)
	}
	return rec, nil
}

// Upsert inserts rec or replaces the existing non-completed row.
//
// Two writers inserting the same new key race on the primary key; the loser
// gets a duplicate-entry or deadlock error and retries, at which point it
// sees the winner's row under the lock.
func (m *MySQLStore) Upsert(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := m.checkOpen(); err != nil {
		return err
	}

	var err error
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		err = m.upsertTx(ctx, rec)
		if !isWriteConflict(err) {
			return err
		}
	}
	return err
}

func isWriteConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrDuplicateEntry || myErr.Number == mysqlErrDeadlock
}

func (m *MySQLStore) upsertTx(ctx context.Context, rec Record) (err error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status string
	lockErr := tx.QueryRowContext(ctx,
		"SELECT status FROM step_records WHERE step_key = ? FOR UPDATE",
		rec.Key.String(),
	).Scan(&status)

	codec, data := payloadColumns(rec.Result)
	updatedAt := rec.UpdatedAt.UTC().Format(time.RFC3339Nano)

	switch {
	case errors.Is(lockErr, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO step_records
			(step_key, execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rec.Key.String(), rec.Key.ExecutionID, rec.Key.Label, rec.Key.Sequence,
			string(rec.Status), codec, data, rec.Error, rec.Attempt, updatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step record: %w", err)
		}
	case lockErr != nil:
		return fmt.Errorf("failed to lock step record: %w", lockErr)
	case Status(status) == StatusCompleted:
		return ErrRecordCompleted
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE step_records
			SET status = ?, result_codec = ?, result_data = ?, error = ?, attempt = ?, updated_at = ?
			WHERE step_key = ?
		`,
			string(rec.Status), codec, data, rec.Error, rec.Attempt, updatedAt, rec.Key.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to update step record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// List returns the execution's records ordered by sequence.
func (m *MySQLStore) List(ctx context.Context, executionID string) ([]Record, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT execution_id, label, seq, status, result_codec, result_data, error, attempt, updated_at
		FROM step_records
		WHERE execution_id = ?
		ORDER BY seq ASC
	`, executionID)
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

// Close closes the connection pool. Calling Close more than once is a no-op.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// Ping verifies the database connection is alive.
func (m *MySQLStore) Ping(ctx context.Context) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	return m.db.PingContext(ctx)
}
