package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/quiltdb/quilt/internal/config"
	"github.com/quiltdb/quilt/internal/events"
	"github.com/quiltdb/quilt/internal/logging"
	"github.com/quiltdb/quilt/internal/metadata"
	"github.com/quiltdb/quilt/internal/nodepool"
)

// HealthProber periodically pings every active node and refreshes its
// health status and usage counters in the registry. Probing observes
// and records; it never deactivates a node or moves the writer flag.
type HealthProber struct {
	logger  *logging.Logger
	store   metadata.Store
	pool    nodepool.Pool
	emitter *events.Emitter
	cfg     config.RouterConfig

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ProbeReport summarizes one sweep over the fleet
type ProbeReport struct {
	Probed  int               `json:"probed"`
	Online  int               `json:"success_count"`
	Offline int               `json:"failure_count"`
	Nodes   []NodeProbeStatus `json:"nodes"`
}

// NodeProbeStatus is one node's probe outcome
type NodeProbeStatus struct {
	NodeID        string `json:"node_id"`
	NodeName      string `json:"node"`
	Status        string `json:"status"`
	LatencyMillis int64  `json:"latency_ms"`
	Error         string `json:"error,omitempty"`
}

// NewHealthProber creates the prober
func NewHealthProber(logger *logging.Logger, store metadata.Store, pool nodepool.Pool,
	emitter *events.Emitter, cfg config.RouterConfig,
) *HealthProber {
	return &HealthProber{
		logger:   logger,
		store:    store,
		pool:     pool,
		emitter:  emitter,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start launches the periodic probe loop
func (p *HealthProber) Start() {
	p.wg.Add(1)
	go p.run()
	p.logger.Info("Health prober started", "interval", p.cfg.ProbeInterval.String())
}

// Stop halts the loop and waits for an in-flight sweep to finish
func (p *HealthProber) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
	p.logger.Info("Health prober stopped")
}

func (p *HealthProber) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeInterval)
			if !p.scheduledSweepEnabled(ctx) {
				p.logger.Debug("Scheduled probe skipped, prober disabled via setting")
				cancel()
				continue
			}
			if _, err := p.ProbeAll(ctx); err != nil {
				p.logger.Error("Probe sweep failed", "error", err)
			}
			cancel()
		}
	}
}

// ProbeAll sweeps every active node once. The prober_enabled setting
// skips scheduled sweeps when set to "false"; explicit calls through
// the API still run.
func (p *HealthProber) ProbeAll(ctx context.Context) (*ProbeReport, error) {
	nodes, err := p.store.ListNodes(ctx, metadata.NodeFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	report := &ProbeReport{Probed: len(nodes), Nodes: make([]NodeProbeStatus, 0, len(nodes))}
	if len(nodes) == 0 {
		return report, nil
	}

	var wg sync.WaitGroup
	statusChan := make(chan NodeProbeStatus, len(nodes))

	for _, node := range nodes {
		wg.Add(1)
		go func(node *metadata.WorkerNode) {
			defer wg.Done()
			statusChan <- p.probeNode(ctx, node)
		}(node)
	}

	go func() {
		wg.Wait()
		close(statusChan)
	}()

	for st := range statusChan {
		if st.Status == string(metadata.HealthOnline) {
			report.Online++
		} else {
			report.Offline++
		}
		report.Nodes = append(report.Nodes, st)
	}

	p.logger.Debug("Probe sweep complete",
		"probed", report.Probed, "online", report.Online, "offline", report.Offline)
	return report, nil
}

// probeNode pings one node and, when reachable, pulls its authoritative
// usage counters into the registry.
func (p *HealthProber) probeNode(ctx context.Context, node *metadata.WorkerNode) NodeProbeStatus {
	st := NodeProbeStatus{NodeID: node.ID, NodeName: node.Name}

	ws, err := p.pool.Get(ctx, node)
	if err != nil {
		return p.markOffline(ctx, node, st, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	if err := ws.Ping(probeCtx); err != nil {
		return p.markOffline(ctx, node, st, err)
	}
	latency := time.Since(start).Milliseconds()

	usage, err := ws.Usage(probeCtx)
	if err != nil {
		return p.markOffline(ctx, node, st, err)
	}

	if err := p.store.SetNodeHealth(ctx, node.ID, metadata.HealthOnline, latency); err != nil {
		p.logger.Error("Failed to record node health", "node", node.Name, "error", err)
	}
	if err := p.store.SetNodeUsage(ctx, node.ID, usage.UsedBytes, usage.RecordCount); err != nil {
		p.logger.Error("Failed to record node usage", "node", node.Name, "error", err)
	}

	st.Status = string(metadata.HealthOnline)
	st.LatencyMillis = latency
	return st
}

func (p *HealthProber) markOffline(ctx context.Context, node *metadata.WorkerNode, st NodeProbeStatus, cause error) NodeProbeStatus {
	if err := p.store.SetNodeHealth(ctx, node.ID, metadata.HealthOffline, 0); err != nil {
		p.logger.Error("Failed to record node health", "node", node.Name, "error", err)
	}

	p.logger.Warn("Node probe failed", "node", node.Name, "error", cause)
	p.emitter.Emit(ctx, events.Event{
		Type:     events.TypeNodeOffline,
		NodeID:   node.ID,
		NodeName: node.Name,
		Reason:   cause.Error(),
	})

	st.Status = string(metadata.HealthOffline)
	st.Error = cause.Error()
	return st
}

// scheduledSweepEnabled consults the prober_enabled setting
func (p *HealthProber) scheduledSweepEnabled(ctx context.Context) bool {
	val, err := p.store.GetSetting(ctx, metadata.SettingProberEnabled)
	if err != nil || val == "" {
		return true
	}
	return val != "false"
}
