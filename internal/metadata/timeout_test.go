package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadlineRecorder captures the context deadline each wrapped call
// arrives with
type deadlineRecorder struct {
	*MemoryStore
	hasDeadline bool
	deadline    time.Time
}

func (r *deadlineRecorder) GetMapping(ctx context.Context, key string) (*ShardMapping, error) {
	r.deadline, r.hasDeadline = ctx.Deadline()
	return r.MemoryStore.GetMapping(ctx, key)
}

func (r *deadlineRecorder) ListNodes(ctx context.Context, filter NodeFilter) ([]*WorkerNode, error) {
	r.deadline, r.hasDeadline = ctx.Deadline()
	return r.MemoryStore.ListNodes(ctx, filter)
}

func TestWithTimeoutBoundsEveryCall(t *testing.T) {
	rec := &deadlineRecorder{MemoryStore: NewMemoryStore()}
	store := WithTimeout(rec, 5*time.Second)

	_, err := store.GetMapping(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.True(t, rec.hasDeadline, "registry call ran without a deadline")
	assert.WithinDuration(t, time.Now().Add(5*time.Second), rec.deadline, time.Second)

	_, err = store.ListNodes(context.Background(), NodeFilter{})
	require.NoError(t, err)
	assert.True(t, rec.hasDeadline)
}

func TestWithTimeoutKeepsEarlierDeadline(t *testing.T) {
	rec := &deadlineRecorder{MemoryStore: NewMemoryStore()}
	store := WithTimeout(rec, time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _ = store.GetMapping(ctx, "missing")
	require.True(t, rec.hasDeadline)
	assert.True(t, rec.deadline.Before(time.Now().Add(time.Minute)),
		"a tighter caller deadline must survive the wrapper")
}

func TestWithTimeoutZeroIsPassThrough(t *testing.T) {
	mem := NewMemoryStore()
	wrapped, ok := WithTimeout(mem, 0).(*MemoryStore)
	require.True(t, ok)
	assert.Same(t, mem, wrapped)
}
