package metadata

import (
	"context"
	"time"
)

// WithTimeout wraps a Store so every registry call carries an
// operation timeout, even when the caller passes a background or raw
// request context. A non-positive timeout returns the store unchanged.
func WithTimeout(s Store, timeout time.Duration) Store {
	if timeout <= 0 {
		return s
	}
	return &timeoutStore{next: s, timeout: timeout}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (t *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.timeout)
}

func (t *timeoutStore) ListNodes(ctx context.Context, filter NodeFilter) ([]*WorkerNode, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.ListNodes(ctx, filter)
}

func (t *timeoutStore) GetNode(ctx context.Context, id string) (*WorkerNode, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetNode(ctx, id)
}

func (t *timeoutStore) GetNodeByName(ctx context.Context, name string) (*WorkerNode, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetNodeByName(ctx, name)
}

func (t *timeoutStore) GetNodeByDSN(ctx context.Context, dsn string) (*WorkerNode, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetNodeByDSN(ctx, dsn)
}

func (t *timeoutStore) SaveNode(ctx context.Context, node *WorkerNode) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.SaveNode(ctx, node)
}

func (t *timeoutStore) DeactivateNode(ctx context.Context, id string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.DeactivateNode(ctx, id)
}

func (t *timeoutStore) SetCurrentWriter(ctx context.Context, id string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.SetCurrentWriter(ctx, id)
}

func (t *timeoutStore) AdjustNodeUsage(ctx context.Context, id string, bytesDelta, recordsDelta int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.AdjustNodeUsage(ctx, id, bytesDelta, recordsDelta)
}

func (t *timeoutStore) SetNodeUsage(ctx context.Context, id string, usedBytes, recordCount int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.SetNodeUsage(ctx, id, usedBytes, recordCount)
}

func (t *timeoutStore) SetNodeHealth(ctx context.Context, id string, status HealthStatus, latencyMillis int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.SetNodeHealth(ctx, id, status, latencyMillis)
}

func (t *timeoutStore) GetMapping(ctx context.Context, key string) (*ShardMapping, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetMapping(ctx, key)
}

func (t *timeoutStore) PutMappingWithUsage(ctx context.Context, m *ShardMapping, bytesDelta, recordsDelta int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.PutMappingWithUsage(ctx, m, bytesDelta, recordsDelta)
}

func (t *timeoutStore) DeleteMappingWithUsage(ctx context.Context, key, nodeID string, bytesDelta, recordsDelta int64) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.DeleteMappingWithUsage(ctx, key, nodeID, bytesDelta, recordsDelta)
}

func (t *timeoutStore) AggregateUsage(ctx context.Context) (*UsageSummary, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.AggregateUsage(ctx)
}

func (t *timeoutStore) GetSetting(ctx context.Context, key string) (string, error) {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.GetSetting(ctx, key)
}

func (t *timeoutStore) PutSetting(ctx context.Context, key, value string) error {
	ctx, cancel := t.bound(ctx)
	defer cancel()
	return t.next.PutSetting(ctx, key, value)
}

func (t *timeoutStore) Close() error {
	return t.next.Close()
}
