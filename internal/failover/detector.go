// internal/failover/detector.go
package failover

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/events"
	"github.com/FairForge/arbiter/internal/probe"
)

// NodeStore is the slice of the registry the detector needs.
type NodeStore interface {
	List(ctx context.Context) ([]cluster.NodeInfo, error)
	StaleNodes(ctx context.Context, olderThan time.Duration) ([]cluster.NodeInfo, error)
	SetStatus(ctx context.Context, nodeID string, status cluster.NodeStatus) error
}

// Config controls sweep cadence and the two liveness thresholds.
type Config struct {
	// SweepInterval is how often the detector evaluates peers.
	SweepInterval time.Duration
	// DownAfter is the heartbeat age beyond which a node counts as
	// unresponsive regardless of probe results.
	DownAfter time.Duration
	// FailureThreshold is the consecutive failed sweeps before a node
	// is marked unavailable.
	FailureThreshold int
	// RecoveryThreshold is the consecutive healthy sweeps before a
	// previously failed node returns to standby.
	RecoveryThreshold int
}

// Detector watches every registered peer from the active node. It combines
// heartbeat staleness from the registry with optional per-node probes,
// feeds both into a HealthTracker, and turns state transitions into
// registry status updates and events.
//
// The detector never moves the lease. When the active node dies its lease
// expires and a standby acquires it; the detector's job is to keep node
// statuses and operators informed.
type Detector struct {
	cluster string
	selfID  string
	cfg     Config
	nodes   NodeStore
	bus     events.Bus
	tracker *HealthTracker
	logger  *zap.Logger

	mu       sync.RWMutex
	active   bool
	probes   map[string]probe.Prober
	names    map[string]string
	observer Observer
}

// Observer receives every probe result as it is measured. The supervisor
// points this at the Prometheus check metrics.
type Observer func(node string, latency time.Duration, healthy bool)

// NewDetector wires a detector for one cluster. selfID is this node's
// registry ID; the detector never judges its own liveness.
func NewDetector(clusterName, selfID string, cfg Config, nodes NodeStore, bus events.Bus, logger *zap.Logger) *Detector {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	if cfg.DownAfter <= 0 {
		cfg.DownAfter = 15 * time.Second
	}
	d := &Detector{
		cluster: clusterName,
		selfID:  selfID,
		cfg:     cfg,
		nodes:   nodes,
		bus:     bus,
		logger:  logger,
		probes:  make(map[string]probe.Prober),
		names:   make(map[string]string),
	}
	d.tracker = NewHealthTracker(cfg.FailureThreshold, cfg.RecoveryThreshold, d.handleTransition)
	return d
}

// AttachProbe adds an active check for the named node. Without a probe a
// node is judged on heartbeat staleness alone.
func (d *Detector) AttachProbe(nodeName string, p probe.Prober) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probes[nodeName] = p
}

// SetProbes replaces the whole probe set and closes displaced probes
// that hold resources. Config reload uses this.
func (d *Detector) SetProbes(probes map[string]probe.Prober) {
	if probes == nil {
		probes = make(map[string]probe.Prober)
	}
	d.mu.Lock()
	old := d.probes
	d.probes = probes
	d.mu.Unlock()

	for _, p := range old {
		if c, ok := p.(io.Closer); ok {
			_ = c.Close()
		}
	}
}

// SetObserver installs a probe-result callback. May be nil.
func (d *Detector) SetObserver(fn Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

func (d *Detector) observe(node string, latency time.Duration, healthy bool) {
	d.mu.RLock()
	fn := d.observer
	d.mu.RUnlock()
	if fn != nil {
		fn(node, latency, healthy)
	}
}

// SetActive enables or disables sweeping. Only the lease holder sweeps;
// everyone else would race it writing node statuses.
func (d *Detector) SetActive(active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = active
}

func (d *Detector) isActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// Run sweeps until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !d.isActive() {
				continue
			}
			if err := d.Sweep(ctx); err != nil {
				d.logger.Warn("health sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep evaluates every peer once. Exported so a manual check can be
// triggered through the API.
func (d *Detector) Sweep(ctx context.Context) error {
	nodes, err := d.nodes.List(ctx)
	if err != nil {
		return fmt.Errorf("list nodes: %w", err)
	}

	stale, err := d.nodes.StaleNodes(ctx, d.cfg.DownAfter)
	if err != nil {
		return fmt.Errorf("find stale nodes: %w", err)
	}
	staleIDs := make(map[string]bool, len(stale))
	for _, n := range stale {
		staleIDs[n.ID] = true
	}

	seen := make(map[string]bool, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		if node.ID == d.selfID || node.Maintenance || node.Status == cluster.StatusStopped {
			continue
		}
		seen[node.ID] = true
		d.rememberName(node.ID, node.Name)
		d.tracker.Track(node.ID)

		healthy := !staleIDs[node.ID]
		var checkErr error
		var latency time.Duration
		if staleIDs[node.ID] {
			checkErr = fmt.Errorf("no heartbeat for over %s", d.cfg.DownAfter)
		}

		if p := d.probeFor(node.Name); p != nil {
			start := time.Now()
			checkOK := true
			if err := p.Check(ctx); err != nil {
				healthy = false
				checkOK = false
				if checkErr == nil {
					checkErr = err
				}
			}
			latency = time.Since(start)
			d.observe(node.Name, latency, checkOK)
		}

		d.tracker.Report(node.ID, healthy, latency, checkErr)
	}

	// Deregistered nodes stop being judged.
	for id := range d.tracker.Snapshot() {
		if !seen[id] {
			d.tracker.Forget(id)
		}
	}
	return nil
}

// Snapshot exposes per-node health for the status API.
func (d *Detector) Snapshot() map[string]NodeHealth {
	return d.tracker.Snapshot()
}

func (d *Detector) probeFor(nodeName string) probe.Prober {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.probes[nodeName]
}

func (d *Detector) rememberName(id, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[id] = name
}

func (d *Detector) nameFor(id string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if name, ok := d.names[id]; ok {
		return name
	}
	return id
}

// handleTransition runs synchronously inside Sweep via the tracker
// callback. Registry writes get their own deadline so a slow database
// cannot wedge the sweep for long.
func (d *Detector) handleTransition(tr Transition) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := d.nameFor(tr.NodeID)

	switch tr.To {
	case StateFailed:
		d.logger.Warn("node failed health checks",
			zap.String("node", name),
			zap.String("node_id", tr.NodeID),
			zap.Error(tr.Err))
		if err := d.nodes.SetStatus(ctx, tr.NodeID, cluster.StatusUnavailable); err != nil {
			d.logger.Error("failed to mark node unavailable",
				zap.String("node_id", tr.NodeID), zap.Error(err))
		}
		d.publish(ctx, events.NodeDown, tr, fmt.Sprintf("node %s marked unavailable", name))

	case StateDegraded:
		d.logger.Warn("node degraded",
			zap.String("node", name),
			zap.String("node_id", tr.NodeID),
			zap.Error(tr.Err))
		d.publish(ctx, events.ClusterDegraded, tr, fmt.Sprintf("node %s failing health checks", name))

	case StateHealthy:
		if tr.From != StateRecovering && tr.From != StateFailed {
			return
		}
		d.logger.Info("node recovered",
			zap.String("node", name),
			zap.String("node_id", tr.NodeID))
		if err := d.nodes.SetStatus(ctx, tr.NodeID, cluster.StatusStandby); err != nil {
			d.logger.Error("failed to mark node standby",
				zap.String("node_id", tr.NodeID), zap.Error(err))
		}
		d.publish(ctx, events.NodeRecovered, tr, fmt.Sprintf("node %s recovered", name))
	}
}

func (d *Detector) publish(ctx context.Context, typ events.EventType, tr Transition, msg string) {
	details := map[string]any{
		"from": tr.From.String(),
		"to":   tr.To.String(),
	}
	if tr.Err != nil {
		details["error"] = tr.Err.Error()
	}
	d.bus.Publish(ctx, events.Event{
		Cluster: d.cluster,
		Type:    typ,
		NodeID:  tr.NodeID,
		Message: msg,
		Details: details,
	})
}
