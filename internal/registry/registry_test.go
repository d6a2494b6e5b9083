package registry

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/database"
)

func openTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database tests in short mode")
	}

	db, err := database.NewPostgres(database.GetTestConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.CreateTables(ctx))

	clusterName := fmt.Sprintf("registry-test-%d", time.Now().UnixNano())
	reg := New(db.DB(), clusterName, zap.NewNop())
	t.Cleanup(func() {
		_, _ = db.DB().Exec(`DELETE FROM cluster_nodes WHERE cluster = $1`, clusterName)
	})
	return reg, db.DB()
}

func testNode(name string, role cluster.NodeRole) *cluster.NodeInfo {
	return &cluster.NodeInfo{
		ID:      uuid.New().String(),
		Name:    name,
		Role:    role,
		Address: "10.0.0.1:8080",
		Status:  cluster.StatusStandby,
		Version: "7.0.1",
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg, _ := openTestRegistry(t)
	ctx := context.Background()

	node := testNode("zabbix-1", cluster.RoleServer)
	require.NoError(t, reg.Register(ctx, node))

	got, err := reg.Get(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, "zabbix-1", got.Name)
	assert.Equal(t, cluster.RoleServer, got.Role)
	assert.Equal(t, cluster.StatusStandby, got.Status)
	assert.False(t, got.RegisteredAt.IsZero())
	assert.False(t, got.LastSeen.IsZero())
}

func TestRegistry_ReregisterKeepsRow(t *testing.T) {
	reg, _ := openTestRegistry(t)
	ctx := context.Background()

	first := testNode("zabbix-1", cluster.RoleServer)
	require.NoError(t, reg.Register(ctx, first))

	// Same name, fresh install: new id, new address.
	second := testNode("zabbix-1", cluster.RoleServer)
	second.Address = "10.0.0.9:8080"
	require.NoError(t, reg.Register(ctx, second))

	nodes, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1, "re-registration must not duplicate the node")
	assert.Equal(t, second.ID, nodes[0].ID)
	assert.Equal(t, "10.0.0.9:8080", nodes[0].Address)

	_, err = reg.Get(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRegistry_Heartbeat(t *testing.T) {
	reg, _ := openTestRegistry(t)
	ctx := context.Background()

	node := testNode("zabbix-1", cluster.RoleServer)
	require.NoError(t, reg.Register(ctx, node))

	before, err := reg.Get(ctx, node.ID)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, reg.Heartbeat(ctx, node.ID, cluster.StatusActive))

	after, err := reg.Get(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusActive, after.Status)
	assert.True(t, after.LastSeen.After(before.LastSeen), "heartbeat must advance last_seen")
}

func TestRegistry_HeartbeatUnknownNode(t *testing.T) {
	reg, _ := openTestRegistry(t)

	err := reg.Heartbeat(context.Background(), uuid.New().String(), cluster.StatusStandby)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestRegistry_StaleNodes(t *testing.T) {
	reg, db := openTestRegistry(t)
	ctx := context.Background()

	fresh := testNode("zabbix-1", cluster.RoleServer)
	stale := testNode("zabbix-2", cluster.RoleServer)
	down := testNode("zabbix-3", cluster.RoleServer)
	down.Status = cluster.StatusUnavailable
	stopped := testNode("zabbix-4", cluster.RoleServer)
	stopped.Status = cluster.StatusStopped
	for _, n := range []*cluster.NodeInfo{fresh, stale, down, stopped} {
		require.NoError(t, reg.Register(ctx, n))
	}

	// Backdate everything but the fresh node past the threshold.
	_, err := db.ExecContext(ctx,
		`UPDATE cluster_nodes SET last_seen = now() - interval '2 minutes' WHERE id = $1`, down.ID)
	require.NoError(t, err)
	for _, id := range []string{stale.ID, stopped.ID} {
		_, err := db.ExecContext(ctx,
			`UPDATE cluster_nodes SET last_seen = now() - interval '1 minute' WHERE id = $1`, id)
		require.NoError(t, err)
	}

	got, err := reg.StaleNodes(ctx, 15*time.Second)
	require.NoError(t, err)
	require.Len(t, got, 2, "cleanly stopped nodes never count as stale")
	assert.Equal(t, down.ID, got[0].ID)
	assert.Equal(t, stale.ID, got[1].ID)
}

func TestRegistry_SetStatusAndMaintenance(t *testing.T) {
	reg, _ := openTestRegistry(t)
	ctx := context.Background()

	node := testNode("zabbix-1", cluster.RoleServer)
	require.NoError(t, reg.Register(ctx, node))

	require.NoError(t, reg.SetStatus(ctx, node.ID, cluster.StatusUnavailable))
	require.NoError(t, reg.SetMaintenance(ctx, node.ID, true))

	got, err := reg.Get(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.StatusUnavailable, got.Status)
	assert.True(t, got.Maintenance)

	assert.ErrorIs(t, reg.SetStatus(ctx, "missing", cluster.StatusActive), ErrNodeNotFound)
}

func TestRegistry_Remove(t *testing.T) {
	reg, _ := openTestRegistry(t)
	ctx := context.Background()

	node := testNode("zabbix-proxy-1", cluster.RoleProxy)
	require.NoError(t, reg.Register(ctx, node))
	require.NoError(t, reg.Remove(ctx, node.ID))

	_, err := reg.Get(ctx, node.ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.ErrorIs(t, reg.Remove(ctx, node.ID), ErrNodeNotFound)
}
