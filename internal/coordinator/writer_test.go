package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/nodepool"
	"github.com/quiltdb/quilt/internal/workerstore"
)

// testEnv wires the coordinator against in-memory backends. Worker
// stores are keyed by DSN so tests can reach into a node's data.
type testEnv struct {
	store   *metadata.MemoryStore
	pool    *nodepool.Manager
	pub     *events.MemoryPublisher
	writer  *WriteTargetRouter
	records *RecordCoordinator
	prober  *HealthProber
	cfg     config.RouterConfig

	mu      sync.Mutex
	workers map[string]*workerstore.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   metadata.NewMemoryStore(),
		pub:     events.NewMemoryPublisher(),
		workers: make(map[string]*workerstore.MemoryStore),
		cfg: config.RouterConfig{
			SoftLimitMB:     1,
			NodeTimeout:     2 * time.Second,
			MetadataTimeout: 2 * time.Second,
			ProbeInterval:   time.Minute,
			ProbeTimeout:    time.Second,
		},
	}

	logger := logging.NewDevelopment()
	env.pool = nodepool.NewManagerWithOpener(logger,
		func(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error) {
			return env.worker(node.DSN), nil
		})

	emitter := events.NewEmitter(env.pub, logger)
	registry := metadata.WithTimeout(env.store, env.cfg.MetadataTimeout)
	env.writer = NewWriteTargetRouter(logger, registry, env.pool, emitter, env.cfg)
	env.records = NewRecordCoordinator(logger, registry, env.pool, env.writer, emitter, env.cfg)
	env.prober = NewHealthProber(logger, registry, env.pool, emitter, env.cfg)

	t.Cleanup(env.pool.CloseAll)
	return env
}

// worker returns the in-memory store behind a DSN, creating it on
// first use
func (e *testEnv) worker(dsn string) *workerstore.MemoryStore {
	e.mu.Lock()
	defer e.mu.Unlock()

	ws, ok := e.workers[dsn]
	if !ok {
		ws = workerstore.NewMemoryStore()
		e.workers[dsn] = ws
	}
	return ws
}

func (e *testEnv) register(t *testing.T, name, dsn string) *metadata.WorkerNode {
	t.Helper()
	node, err := e.writer.RegisterNode(context.Background(), RegisterRequest{
		Name: name, DSN: dsn, AddedBy: "test",
	})
	require.NoError(t, err)
	return node
}

// fillNode pushes a node's registry usage over the soft limit
func (e *testEnv) fillNode(t *testing.T, id string) {
	t.Helper()
	over := e.cfg.SoftLimitMB*1024*1024 + 1
	require.NoError(t, e.store.SetNodeUsage(context.Background(), id, over, 1))
}

// eventsOfType decodes published audit events and filters by type
func (e *testEnv) eventsOfType(t *testing.T, eventType string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, raw := range e.pub.Messages(events.Subject) {
		var ev events.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (e *testEnv) writerCount(t *testing.T) int {
	t.Helper()
	nodes, err := e.store.ListNodes(context.Background(), metadata.NodeFilter{ActiveOnly: true})
	require.NoError(t, err)
	count := 0
	for _, n := range nodes {
		if n.IsCurrentWriter {
			count++
		}
	}
	return count
}

func TestRegisterNodeBootstrapsWriter(t *testing.T) {
	env := newTestEnv(t)

	first := env.register(t, "alpha", "dsn-alpha")
	assert.True(t, first.IsCurrentWriter)
	assert.True(t, first.Active)
	assert.Equal(t, metadata.HealthOnline, first.HealthStatus)

	second := env.register(t, "beta", "dsn-beta")
	assert.False(t, second.IsCurrentWriter)

	assert.Equal(t, 1, env.writerCount(t))

	registered := env.eventsOfType(t, events.TypeNodeRegistered)
	assert.Len(t, registered, 2)
	assert.Equal(t, "test", registered[0].Actor)
}

func TestRegisterNodeDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alpha", "dsn-alpha")

	_, err := env.writer.RegisterNode(context.Background(), RegisterRequest{
		Name: "alpha", DSN: "dsn-other",
	})
	assert.ErrorIs(t, err, ErrNodeExists)

	_, err = env.writer.RegisterNode(context.Background(), RegisterRequest{
		Name: "gamma", DSN: "dsn-alpha",
	})
	assert.ErrorIs(t, err, ErrNodeExists)
}

func TestRegisterNodeValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.writer.RegisterNode(context.Background(), RegisterRequest{DSN: "dsn"})
	assert.Error(t, err)

	_, err = env.writer.RegisterNode(context.Background(), RegisterRequest{Name: "n"})
	assert.Error(t, err)
}

func TestRegisterNodeUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.worker("dsn-down").SetFailing(true)

	_, err := env.writer.RegisterNode(context.Background(), RegisterRequest{
		Name: "down", DSN: "dsn-down",
	})
	assert.ErrorIs(t, err, ErrNodeUnavailable)

	nodes, lerr := env.store.ListNodes(context.Background(), metadata.NodeFilter{})
	require.NoError(t, lerr)
	assert.Empty(t, nodes, "unreachable node must not be persisted")
}

func TestAcquireKeepsWriterUnderLimit(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "alpha", "dsn-alpha")
	env.register(t, "beta", "dsn-beta")

	for i := 0; i < 3; i++ {
		node, err := env.writer.Acquire(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first.ID, node.ID)
	}

	// A stable writer produces no switch events beyond bootstrap
	assert.Empty(t, env.eventsOfType(t, events.TypeWriterSwitch))
}

func TestAcquireSwitchesOnCapacity(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "alpha", "dsn-alpha")
	second := env.register(t, "beta", "dsn-beta")

	env.fillNode(t, first.ID)

	node, err := env.writer.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, node.ID)

	// Old writer is demoted, exactly one flag remains
	prev, err := env.store.GetNode(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, prev.IsCurrentWriter)
	assert.Equal(t, 1, env.writerCount(t))

	switches := env.eventsOfType(t, events.TypeWriterSwitch)
	require.Len(t, switches, 1)
	assert.Equal(t, "capacity", switches[0].Reason)
	assert.Equal(t, second.ID, switches[0].NodeID)
	assert.Equal(t, first.ID, switches[0].PrevNodeID)
}

func TestAcquirePromotesInRegistrationOrder(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "alpha", "dsn-alpha")
	second := env.register(t, "beta", "dsn-beta")
	env.register(t, "gamma", "dsn-gamma")

	env.fillNode(t, first.ID)

	node, err := env.writer.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, node.ID, "earliest registered eligible node wins")
}

func TestAcquireExhaustion(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "alpha", "dsn-alpha")
	second := env.register(t, "beta", "dsn-beta")

	env.fillNode(t, first.ID)
	env.fillNode(t, second.ID)

	_, err := env.writer.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoWriterAvailable)

	// Registry reflects the no-writer state
	summary, serr := env.store.AggregateUsage(context.Background())
	require.NoError(t, serr)
	assert.Empty(t, summary.CurrentWriter)

	exhausted := env.eventsOfType(t, events.TypeWriterExhausted)
	require.Len(t, exhausted, 1)
	assert.Equal(t, first.ID, exhausted[0].PrevNodeID)
}

func TestAcquireNoNodes(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.writer.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoWriterAvailable)
}

func TestSoftLimitSettingOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	assert.Equal(t, int64(1024*1024), env.writer.SoftLimitBytes(ctx))

	require.NoError(t, env.store.PutSetting(ctx, metadata.SettingSoftLimitMB, "5"))
	assert.Equal(t, int64(5*1024*1024), env.writer.SoftLimitBytes(ctx))

	// Malformed values fall back to the configured default
	require.NoError(t, env.store.PutSetting(ctx, metadata.SettingSoftLimitMB, "lots"))
	assert.Equal(t, int64(1024*1024), env.writer.SoftLimitBytes(ctx))
}

func TestDeactivateNode(t *testing.T) {
	env := newTestEnv(t)
	first := env.register(t, "alpha", "dsn-alpha")
	second := env.register(t, "beta", "dsn-beta")

	require.NoError(t, env.writer.DeactivateNode(context.Background(), first.ID, "ops"))

	got, err := env.store.GetNode(context.Background(), first.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.False(t, got.IsCurrentWriter)

	// Next acquire promotes the survivor
	node, err := env.writer.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second.ID, node.ID)

	deactivated := env.eventsOfType(t, events.TypeNodeDeactivated)
	require.Len(t, deactivated, 1)
	assert.Equal(t, "ops", deactivated[0].Actor)
}

func TestDeactivateUnknownNode(t *testing.T) {
	env := newTestEnv(t)
	err := env.writer.DeactivateNode(context.Background(), "missing", "ops")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAcquireConcurrentSingleWriter(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alpha", "dsn-alpha")
	env.register(t, "beta", "dsn-beta")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.writer.Acquire(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.writerCount(t))
}
