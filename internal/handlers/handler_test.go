package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/coordinator"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/models"
	"github.com/quiltdb/quilt/internal/nodepool"
	"github.com/quiltdb/quilt/internal/workerstore"
)

// testApp wires handlers over in-memory backends
type testApp struct {
	app     *fiber.App
	store   *metadata.MemoryStore
	writer  *coordinator.WriteTargetRouter
	workers map[string]*workerstore.MemoryStore
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	ta := &testApp{
		store:   metadata.NewMemoryStore(),
		workers: make(map[string]*workerstore.MemoryStore),
	}

	logger := logging.NewDevelopment()
	cfg := config.RouterConfig{
		SoftLimitMB:     1,
		NodeTimeout:     2 * time.Second,
		MetadataTimeout: 2 * time.Second,
		ProbeInterval:   time.Minute,
		ProbeTimeout:    time.Second,
	}

	pool := nodepool.NewManagerWithOpener(logger,
		func(ctx context.Context, node *metadata.WorkerNode) (workerstore.Store, error) {
			ws, ok := ta.workers[node.DSN]
			if !ok {
				ws = workerstore.NewMemoryStore()
				ta.workers[node.DSN] = ws
			}
			return ws, nil
		})

	emitter := events.NewEmitter(events.NewMemoryPublisher(), logger)
	registry := metadata.WithTimeout(ta.store, cfg.MetadataTimeout)
	ta.writer = coordinator.NewWriteTargetRouter(logger, registry, pool, emitter, cfg)
	records := coordinator.NewRecordCoordinator(logger, registry, pool, ta.writer, emitter, cfg)
	prober := coordinator.NewHealthProber(logger, registry, pool, emitter, cfg)

	h := New(logger, registry, ta.writer, records, prober, cfg)

	app := fiber.New()
	app.Use(logging.FiberMiddleware(logger))
	app.Get("/health", h.Health)
	v1 := app.Group("/v1")
	v1.Post("/nodes", h.AddNode)
	v1.Get("/nodes", h.ListNodes)
	v1.Post("/nodes/ping", h.PingNodes)
	v1.Get("/nodes/:id", h.GetNode)
	v1.Delete("/nodes/:id", h.RemoveNode)
	v1.Post("/records", h.WriteRecord)
	v1.Get("/records", h.SearchRecords)
	v1.Get("/records/:key", h.ReadRecord)
	v1.Delete("/records/:key", h.DeleteRecord)
	v1.Get("/stats", h.Stats)

	ta.app = app
	return ta
}

// addNode registers a node through the API and returns its response
func (ta *testApp) addNode(t *testing.T, name, dsn string) models.NodeResponse {
	t.Helper()
	resp := ta.request(t, "POST", "/v1/nodes",
		models.AddNodeRequest{Name: name, DSN: dsn})
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("addNode %s: expected 201, got %d", name, resp.StatusCode)
	}
	var node models.NodeResponse
	decodeBody(t, resp.Body, &node)
	return node
}

func (ta *testApp) request(t *testing.T, method, target string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, r io.Reader, v interface{}) {
	t.Helper()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", string(data), err)
	}
}

func TestHandler_Health(t *testing.T) {
	ta := newTestApp(t)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := ta.app.Test(req)
	if err != nil {
		t.Fatalf("Failed to perform request: %v", err)
	}

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("Expected status %d, got %d", fiber.StatusOK, resp.StatusCode)
	}

	var healthResp models.HealthResponse
	decodeBody(t, resp.Body, &healthResp)

	if healthResp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", healthResp.Status)
	}
	if healthResp.Timestamp == "" {
		t.Error("Expected non-empty timestamp")
	}
}
