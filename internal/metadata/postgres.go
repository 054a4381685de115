package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/quiltdb/quilt/internal/config"
)

// PostgresStore implements Store on a relational registry
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens the registry database and ensures the schema
func NewPostgresStore(cfg config.MetadataConfig) (*PostgresStore, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &PostgresStore{db: db}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ensure metadata schema: %w", err)
	}

	return store, nil
}

// ensureSchema creates the registry tables when missing. Idempotent.
func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS worker_nodes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			dsn TEXT NOT NULL UNIQUE,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			is_current_writer BOOLEAN NOT NULL DEFAULT FALSE,
			used_bytes BIGINT NOT NULL DEFAULT 0,
			capacity_bytes BIGINT NOT NULL DEFAULT 0,
			record_count BIGINT NOT NULL DEFAULT 0,
			health_status TEXT NOT NULL DEFAULT 'unknown',
			latency_ms BIGINT NOT NULL DEFAULT 0,
			last_probed_at TIMESTAMPTZ,
			added_by TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS shard_mappings (
			key TEXT PRIMARY KEY,
			record_type TEXT NOT NULL DEFAULT '',
			node_id TEXT NOT NULL REFERENCES worker_nodes(id),
			size_bytes BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_shard_mappings_node_id ON shard_mappings (node_id)`,
		`CREATE TABLE IF NOT EXISTS router_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

const nodeColumns = `id, name, dsn, active, is_current_writer, used_bytes, capacity_bytes,
	record_count, health_status, latency_ms, last_probed_at, added_by, notes, created_at`

func scanNode(row interface{ Scan(...interface{}) error }) (*WorkerNode, error) {
	var n WorkerNode
	var lastProbed sql.NullTime
	err := row.Scan(
		&n.ID, &n.Name, &n.DSN, &n.Active, &n.IsCurrentWriter,
		&n.UsedBytes, &n.CapacityBytes, &n.RecordCount,
		&n.HealthStatus, &n.LatencyMillis, &lastProbed,
		&n.AddedBy, &n.Notes, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastProbed.Valid {
		t := lastProbed.Time
		n.LastProbedAt = &t
	}
	return &n, nil
}

// ListNodes returns nodes in stable registration order
func (s *PostgresStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*WorkerNode, error) {
	query := `SELECT ` + nodeColumns + ` FROM worker_nodes`
	if filter.ActiveOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*WorkerNode
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (s *PostgresStore) getNodeBy(ctx context.Context, column, value string) (*WorkerNode, error) {
	query := fmt.Sprintf(`SELECT %s FROM worker_nodes WHERE %s = $1`, nodeColumns, column)
	node, err := scanNode(s.db.QueryRowContext(ctx, query, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node by %s: %w", column, err)
	}
	return node, nil
}

// GetNode returns a node by id
func (s *PostgresStore) GetNode(ctx context.Context, id string) (*WorkerNode, error) {
	return s.getNodeBy(ctx, "id", id)
}

// GetNodeByName returns a node by its unique name
func (s *PostgresStore) GetNodeByName(ctx context.Context, name string) (*WorkerNode, error) {
	return s.getNodeBy(ctx, "name", name)
}

// GetNodeByDSN returns a node by its connection descriptor
func (s *PostgresStore) GetNodeByDSN(ctx context.Context, dsn string) (*WorkerNode, error) {
	return s.getNodeBy(ctx, "dsn", dsn)
}

// SaveNode inserts or updates a node by id
func (s *PostgresStore) SaveNode(ctx context.Context, node *WorkerNode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worker_nodes (`+nodeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			dsn = EXCLUDED.dsn,
			active = EXCLUDED.active,
			is_current_writer = EXCLUDED.is_current_writer,
			used_bytes = EXCLUDED.used_bytes,
			capacity_bytes = EXCLUDED.capacity_bytes,
			record_count = EXCLUDED.record_count,
			health_status = EXCLUDED.health_status,
			latency_ms = EXCLUDED.latency_ms,
			last_probed_at = EXCLUDED.last_probed_at,
			added_by = EXCLUDED.added_by,
			notes = EXCLUDED.notes`,
		node.ID, node.Name, node.DSN, node.Active, node.IsCurrentWriter,
		node.UsedBytes, node.CapacityBytes, node.RecordCount,
		node.HealthStatus, node.LatencyMillis, node.LastProbedAt,
		node.AddedBy, node.Notes, node.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save node %s: %w", node.Name, err)
	}
	return nil
}

// DeactivateNode soft-deletes a node and clears its writer flag
func (s *PostgresStore) DeactivateNode(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE worker_nodes SET active = FALSE, is_current_writer = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate node: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCurrentWriter clears all writer flags and sets the given node's flag.
// A single statement keeps the uniqueness invariant even under races.
func (s *PostgresStore) SetCurrentWriter(ctx context.Context, id string) error {
	if id == "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE worker_nodes SET is_current_writer = FALSE WHERE is_current_writer = TRUE`)
		if err != nil {
			return fmt.Errorf("failed to clear writer flags: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE worker_nodes SET is_current_writer = (id = $1)
		 WHERE is_current_writer = TRUE OR id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to set current writer: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustNodeUsage applies usage deltas, clamping counters at zero
func (s *PostgresStore) AdjustNodeUsage(ctx context.Context, id string, bytesDelta, recordsDelta int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_nodes SET
			used_bytes = GREATEST(0, used_bytes + $2),
			record_count = GREATEST(0, record_count + $3)
		WHERE id = $1`, id, bytesDelta, recordsDelta)
	if err != nil {
		return fmt.Errorf("failed to adjust node usage: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNodeUsage overwrites usage counters with authoritative values
func (s *PostgresStore) SetNodeUsage(ctx context.Context, id string, usedBytes, recordCount int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE worker_nodes SET used_bytes = $2, record_count = $3 WHERE id = $1`,
		id, usedBytes, recordCount)
	if err != nil {
		return fmt.Errorf("failed to set node usage: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetNodeHealth records the latest probe outcome
func (s *PostgresStore) SetNodeHealth(ctx context.Context, id string, status HealthStatus, latencyMillis int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worker_nodes SET
			health_status = $2,
			latency_ms = $3,
			last_probed_at = now()
		WHERE id = $1`, id, status, latencyMillis)
	if err != nil {
		return fmt.Errorf("failed to set node health: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMapping returns the mapping for a key
func (s *PostgresStore) GetMapping(ctx context.Context, key string) (*ShardMapping, error) {
	var m ShardMapping
	err := s.db.QueryRowContext(ctx, `
		SELECT key, record_type, node_id, size_bytes, created_at, updated_at
		FROM shard_mappings WHERE key = $1`, key).
		Scan(&m.Key, &m.RecordType, &m.NodeID, &m.SizeBytes, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return &m, nil
}

// PutMappingWithUsage upserts the mapping and adjusts the owning node's
// counters in one transaction
func (s *PostgresStore) PutMappingWithUsage(ctx context.Context, m *ShardMapping, bytesDelta, recordsDelta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mapping tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shard_mappings (key, record_type, node_id, size_bytes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (key) DO UPDATE SET
			record_type = EXCLUDED.record_type,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = EXCLUDED.updated_at`,
		m.Key, m.RecordType, m.NodeID, m.SizeBytes, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert mapping: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE worker_nodes SET
			used_bytes = GREATEST(0, used_bytes + $2),
			record_count = GREATEST(0, record_count + $3)
		WHERE id = $1`, m.NodeID, bytesDelta, recordsDelta); err != nil {
		return fmt.Errorf("failed to adjust usage for mapping: %w", err)
	}

	return tx.Commit()
}

// DeleteMappingWithUsage removes the mapping and adjusts the owning
// node's counters in one transaction
func (s *PostgresStore) DeleteMappingWithUsage(ctx context.Context, key, nodeID string, bytesDelta, recordsDelta int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin mapping tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM shard_mappings WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE worker_nodes SET
			used_bytes = GREATEST(0, used_bytes + $2),
			record_count = GREATEST(0, record_count + $3)
		WHERE id = $1`, nodeID, bytesDelta, recordsDelta); err != nil {
		return fmt.Errorf("failed to adjust usage for delete: %w", err)
	}

	return tx.Commit()
}

// AggregateUsage sums counters over active nodes
func (s *PostgresStore) AggregateUsage(ctx context.Context) (*UsageSummary, error) {
	var summary UsageSummary
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(used_bytes), 0),
			COALESCE(SUM(capacity_bytes), 0),
			COALESCE(SUM(record_count), 0)
		FROM worker_nodes WHERE active = TRUE`).
		Scan(&summary.ActiveNodes, &summary.TotalUsedBytes,
			&summary.TotalCapacityBytes, &summary.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}

	var writer sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT name FROM worker_nodes WHERE is_current_writer = TRUE AND active = TRUE LIMIT 1`).
		Scan(&writer)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve current writer: %w", err)
	}
	if writer.Valid {
		summary.CurrentWriter = writer.String
	}

	return &summary, nil
}

// GetSetting returns a runtime setting value
func (s *PostgresStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM router_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// PutSetting upserts a runtime setting
func (s *PostgresStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO router_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to put setting %s: %w", key, err)
	}
	return nil
}

// Close closes the registry database
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
