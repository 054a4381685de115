package workerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrRecordNotFound is returned when a key has no record on this node
var ErrRecordNotFound = errors.New("record not found")

// SQLStore implements Store over a worker node's relational database
type SQLStore struct {
	db *sql.DB
}

// Options bound the connection footprint per worker node
type Options struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to a worker node and ensures its records table
func Open(ctx context.Context, dsn string, opts Options) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open worker database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	store := &SQLStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure worker schema: %w", err)
	}

	return store, nil
}

// ensureSchema creates the records table when missing. Idempotent, so
// re-registering an existing node is safe.
func (s *SQLStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			key TEXT PRIMARY KEY,
			record_type TEXT NOT NULL DEFAULT '',
			payload BYTEA NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_record_type ON records (record_type)`,
		`CREATE INDEX IF NOT EXISTS idx_records_owner ON records (owner)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Ping verifies the node answers within the context deadline
func (s *SQLStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("worker ping failed: %w", err)
	}
	return nil
}

// Put inserts or replaces the record for its key
func (s *SQLStore) Put(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, record_type, payload, owner, size_bytes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (key) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			payload = EXCLUDED.payload,
			owner = EXCLUDED.owner,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = EXCLUDED.updated_at`,
		rec.Key, rec.RecordType, rec.Payload, rec.Owner, rec.SizeBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

// Get returns the record for a key
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT key, record_type, payload, owner, size_bytes, created_at, updated_at
		FROM records WHERE key = $1`, key).
		Scan(&rec.Key, &rec.RecordType, &rec.Payload, &rec.Owner,
			&rec.SizeBytes, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record for a key
func (s *SQLStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE key = $1`, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete record: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// Search returns records matching the query, newest first
func (s *SQLStore) Search(ctx context.Context, q Query) ([]*Record, error) {
	query := `SELECT key, record_type, payload, owner, size_bytes, created_at, updated_at
		FROM records WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if q.RecordType != "" {
		args = append(args, q.RecordType)
		query += fmt.Sprintf(" AND record_type = $%d", len(args))
	}
	if q.Owner != "" {
		args = append(args, q.Owner)
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, key ASC"

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.RecordType, &rec.Payload, &rec.Owner,
			&rec.SizeBytes, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Usage reports the node's footprint from the records table itself
func (s *SQLStore) Usage(ctx context.Context) (*Usage, error) {
	var u Usage
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0), COUNT(*) FROM records`).
		Scan(&u.UsedBytes, &u.RecordCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker usage: %w", err)
	}
	return &u, nil
}

// Close closes the connection to the worker node
func (s *SQLStore) Close() error {
	return s.db.Close()
}
