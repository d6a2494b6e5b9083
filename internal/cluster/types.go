// internal/cluster/types.go
// Shared vocabulary for the arbitration layer. Every package that talks
// about nodes, leases, or cluster state imports these types rather than
// defining its own.
package cluster

import (
	"fmt"
	"time"
)

// NodeRole distinguishes lease candidates from data-collection relays.
type NodeRole string

const (
	// RoleServer nodes participate in active/standby arbitration.
	RoleServer NodeRole = "server"
	// RoleProxy nodes are tracked for liveness only and never hold the lease.
	RoleProxy NodeRole = "proxy"
)

// Valid reports whether r is a known role.
func (r NodeRole) Valid() bool {
	return r == RoleServer || r == RoleProxy
}

// NodeStatus is the arbitration state of a node as recorded in the registry.
type NodeStatus string

const (
	// StatusActive marks the current lease holder.
	StatusActive NodeStatus = "active"
	// StatusStandby marks a healthy node waiting to take over.
	StatusStandby NodeStatus = "standby"
	// StatusUnavailable marks a node whose heartbeats have gone stale.
	StatusUnavailable NodeStatus = "unavailable"
	// StatusStopped marks a node that shut down cleanly.
	StatusStopped NodeStatus = "stopped"
)

// Valid reports whether s is a known status.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusActive, StatusStandby, StatusUnavailable, StatusStopped:
		return true
	}
	return false
}

// NodeInfo is a registry row: one candidate or proxy identity plus its
// last observed heartbeat.
type NodeInfo struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Role         NodeRole   `json:"role"`
	Address      string     `json:"address"`
	Status       NodeStatus `json:"status"`
	Version      string     `json:"version,omitempty"`
	Maintenance  bool       `json:"maintenance,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     time.Time  `json:"last_seen"`
}

// Stale reports whether the node's heartbeat is older than threshold
// relative to now. Both times come from the database clock.
func (n *NodeInfo) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(n.LastSeen) > threshold
}

// LeaseInfo is the current state of the cluster's exclusive lease.
type LeaseInfo struct {
	Cluster    string    `json:"cluster"`
	HolderID   string    `json:"holder_id"`
	HolderName string    `json:"holder_name,omitempty"`
	Epoch      int64     `json:"epoch"`
	AcquiredAt time.Time `json:"acquired_at"`
	RenewedAt  time.Time `json:"renewed_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	// TTL is the remaining lifetime computed against the store's clock
	// at read time, so callers never compare ExpiresAt to a local clock.
	TTL time.Duration `json:"ttl"`
}

// Live reports whether the lease had time remaining when it was read.
func (l *LeaseInfo) Live() bool {
	return l != nil && l.TTL > 0
}

// Status is the API-facing snapshot of the whole cluster.
type Status struct {
	Cluster     string     `json:"cluster"`
	Lease       *LeaseInfo `json:"lease,omitempty"`
	Nodes       []NodeInfo `json:"nodes"`
	ServersUp   int        `json:"servers_up"`
	ServersDown int        `json:"servers_down"`
	ProxiesUp   int        `json:"proxies_up"`
	ProxiesDown int        `json:"proxies_down"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Summarize recomputes the up/down counters from the node list. A node
// counts as up while it is active or standby.
func (s *Status) Summarize() {
	s.ServersUp, s.ServersDown, s.ProxiesUp, s.ProxiesDown = 0, 0, 0, 0
	for _, n := range s.Nodes {
		up := n.Status == StatusActive || n.Status == StatusStandby
		switch {
		case n.Role == RoleProxy && up:
			s.ProxiesUp++
		case n.Role == RoleProxy:
			s.ProxiesDown++
		case up:
			s.ServersUp++
		default:
			s.ServersDown++
		}
	}
}

// Describe renders a one-line human summary used by logs and the CLI.
func (s *Status) Describe() string {
	holder := "none"
	if s.Lease.Live() {
		holder = s.Lease.HolderID
	}
	return fmt.Sprintf("cluster=%s active=%s servers=%d/%d proxies=%d/%d",
		s.Cluster, holder, s.ServersUp, s.ServersUp+s.ServersDown, s.ProxiesUp, s.ProxiesUp+s.ProxiesDown)
}
