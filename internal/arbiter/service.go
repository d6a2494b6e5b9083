package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/FairForge/arbiter/internal/api"
	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/dnspub"
	"github.com/FairForge/arbiter/internal/failover"
	"github.com/FairForge/arbiter/internal/lease"
	"github.com/FairForge/arbiter/internal/replication"
)

// The supervisor is the API surface's view of the cluster; these
// methods implement api.ClusterService and dnspub.Source.
var (
	_ api.ClusterService = (*Supervisor)(nil)
	_ dnspub.Source      = (*Supervisor)(nil)
)

// Status assembles the full cluster snapshot: lease, nodes, counters.
func (s *Supervisor) Status(ctx context.Context) (*cluster.Status, error) {
	nodes, err := s.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}

	li, err := s.leaseStore.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}
	if li != nil {
		for i := range nodes {
			if nodes[i].ID == li.HolderID {
				li.HolderName = nodes[i].Name
				break
			}
		}
	}

	status := &cluster.Status{
		Cluster:     s.cfg.Cluster.Name,
		Lease:       li,
		Nodes:       nodes,
		GeneratedAt: time.Now().UTC(),
	}
	status.Summarize()
	return status, nil
}

// Nodes returns the registry view.
func (s *Supervisor) Nodes(ctx context.Context) ([]cluster.NodeInfo, error) {
	return s.registry.List(ctx)
}

// Node returns one registry row.
func (s *Supervisor) Node(ctx context.Context, nodeID string) (*cluster.NodeInfo, error) {
	return s.registry.Get(ctx, nodeID)
}

// SetMaintenance flips a node's maintenance flag. A node in maintenance
// keeps heartbeating but the detector stops probing it and it is not
// counted against cluster health.
func (s *Supervisor) SetMaintenance(ctx context.Context, nodeID string, on bool) error {
	return s.registry.SetMaintenance(ctx, nodeID, on)
}

// RemoveNode drops a node's registration. A live node re-registers on
// its next heartbeat; this is for clearing out retired peers.
func (s *Supervisor) RemoveNode(ctx context.Context, nodeID string) error {
	return s.registry.Remove(ctx, nodeID)
}

// Switchover steps the active node down so a standby takes the next
// term. Only the lease holder can perform it, and the anti-flap limiter
// allows at most one per cooldown window.
func (s *Supervisor) Switchover(ctx context.Context) error {
	if s.manager == nil || !s.manager.IsActive() {
		return lease.ErrNotHolder
	}
	if s.switchLimit != nil && !s.switchLimit.Allow() {
		return fmt.Errorf("switchover rate limited: one per %s", s.cfg.Failover.SwitchoverCooldown)
	}
	return s.manager.StepDown(ctx, s.cfg.Failover.SwitchoverCooldown)
}

// NodeHealth is the detector's current per-node view. Fresh only on the
// active node; standbys report whatever their last active term saw.
func (s *Supervisor) NodeHealth() map[string]failover.NodeHealth {
	return s.detector.Snapshot()
}

// Replication reports the watcher's last collection, zero when the
// watcher is disabled.
func (s *Supervisor) Replication() replication.Status {
	if s.repl == nil {
		return replication.Status{}
	}
	return s.repl.Status()
}

// IsActive reports whether this node currently holds the lease.
func (s *Supervisor) IsActive() bool {
	return s.manager != nil && s.manager.IsActive()
}

// Ping checks the shared database, the one dependency arbitration
// cannot run without.
func (s *Supervisor) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Snapshot supplies the DNS publisher with the answer set: the active
// node plus every up server. Addresses that fail to parse as IPs are
// resolved by the publisher at render time.
func (s *Supervisor) Snapshot(ctx context.Context) (dnspub.Snapshot, error) {
	nodes, err := s.registry.List(ctx)
	if err != nil {
		return dnspub.Snapshot{}, fmt.Errorf("list nodes: %w", err)
	}

	li, err := s.leaseStore.Get(ctx)
	if err != nil {
		return dnspub.Snapshot{}, fmt.Errorf("read lease: %w", err)
	}

	snap := dnspub.Snapshot{
		Cluster: s.cfg.Cluster.Name,
		Nodes:   nodes,
	}
	if li.Live() {
		snap.Epoch = li.Epoch
		for i := range nodes {
			if nodes[i].ID == li.HolderID {
				snap.Active = &nodes[i]
				break
			}
		}
	}
	return snap, nil
}
