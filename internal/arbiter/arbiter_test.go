package arbiter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/config"
	"github.com/FairForge/arbiter/internal/lease"
	"github.com/FairForge/arbiter/internal/replication"
)

func TestSupervisor_SwitchoverWithoutLease(t *testing.T) {
	// Proxies have no manager at all; a server that is standby fails
	// the same way inside the manager.
	s := &Supervisor{cfg: config.Default()}

	err := s.Switchover(context.Background())
	require.ErrorIs(t, err, lease.ErrNotHolder)
	assert.False(t, s.IsActive())
}

func TestSupervisor_ReplicationDisabled(t *testing.T) {
	s := &Supervisor{cfg: config.Default()}
	assert.Equal(t, replication.Status{}, s.Replication())
}

// New never dials PostgreSQL; sql.Open is lazy and Run does the ping.
// That makes wiring testable without a database.
func TestNew_ProxiesSkipElection(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.Node = "zbx-proxy-1"
	cfg.Cluster.Role = "proxy"

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s.db.Close() }()

	assert.Nil(t, s.manager)
	assert.False(t, s.IsActive())
	assert.ErrorIs(t, s.Switchover(context.Background()), lease.ErrNotHolder)
}

func TestNew_ServerGetsManager(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.Node = "zbx-1"

	s, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer func() { _ = s.db.Close() }()

	assert.NotNil(t, s.manager)
	assert.NotNil(t, s.detector)
	assert.False(t, s.IsActive())
}

func TestNew_RejectsBadProbe(t *testing.T) {
	cfg := config.Default()
	cfg.Cluster.Node = "zbx-1"
	cfg.Probes = []config.ProbeConfig{{Node: "zbx-2", Type: "snmp", Target: "10.0.0.12"}}

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe")
}
