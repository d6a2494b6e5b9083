package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/config"
	"github.com/FairForge/arbiter/internal/events"
	"github.com/FairForge/arbiter/internal/failover"
	"github.com/FairForge/arbiter/internal/lease"
	"github.com/FairForge/arbiter/internal/registry"
	"github.com/FairForge/arbiter/internal/replication"
)

// fakeService is an in-memory ClusterService.
type fakeService struct {
	leaseInfo   *cluster.LeaseInfo
	nodes       []cluster.NodeInfo
	health      map[string]failover.NodeHealth
	rep         replication.Status
	active      bool
	pingErr     error
	switchErr   error
	maintenance map[string]bool
	removed     []string
}

func newFakeService() *fakeService {
	return &fakeService{
		leaseInfo: &cluster.LeaseInfo{
			Cluster:  "zbx-ha",
			HolderID: "zabbix-1",
			Epoch:    7,
			TTL:      10 * time.Second,
		},
		nodes: []cluster.NodeInfo{
			{ID: "zabbix-1", Name: "zabbix-1", Role: cluster.RoleServer, Status: cluster.StatusActive},
			{ID: "zabbix-2", Name: "zabbix-2", Role: cluster.RoleServer, Status: cluster.StatusStandby},
			{ID: "proxy-1", Name: "proxy-1", Role: cluster.RoleProxy, Status: cluster.StatusUnavailable},
		},
		health: map[string]failover.NodeHealth{
			"zabbix-2": {State: failover.StateHealthy},
		},
		rep: replication.Status{
			Standbys: []replication.StandbyStatus{
				{Name: "zabbix-2", State: "streaming", LagBytes: 1024},
			},
		},
		active:      true,
		maintenance: make(map[string]bool),
	}
}

func (f *fakeService) Status(ctx context.Context) (*cluster.Status, error) {
	st := &cluster.Status{
		Cluster:     "zbx-ha",
		Lease:       f.leaseInfo,
		Nodes:       f.nodes,
		GeneratedAt: time.Now().UTC(),
	}
	st.Summarize()
	return st, nil
}

func (f *fakeService) Nodes(ctx context.Context) ([]cluster.NodeInfo, error) {
	return f.nodes, nil
}

func (f *fakeService) Node(ctx context.Context, nodeID string) (*cluster.NodeInfo, error) {
	for i := range f.nodes {
		if f.nodes[i].ID == nodeID {
			return &f.nodes[i], nil
		}
	}
	return nil, fmt.Errorf("node %s: %w", nodeID, registry.ErrNodeNotFound)
}

func (f *fakeService) SetMaintenance(ctx context.Context, nodeID string, on bool) error {
	if _, err := f.Node(ctx, nodeID); err != nil {
		return err
	}
	f.maintenance[nodeID] = on
	return nil
}

func (f *fakeService) RemoveNode(ctx context.Context, nodeID string) error {
	if _, err := f.Node(ctx, nodeID); err != nil {
		return err
	}
	f.removed = append(f.removed, nodeID)
	return nil
}

func (f *fakeService) Switchover(ctx context.Context) error { return f.switchErr }

func (f *fakeService) NodeHealth() map[string]failover.NodeHealth { return f.health }

func (f *fakeService) Replication() replication.Status { return f.rep }

func (f *fakeService) IsActive() bool { return f.active }

func (f *fakeService) Ping(ctx context.Context) error { return f.pingErr }

// fakeHistory records the query it was asked for.
type fakeHistory struct {
	gotLimit   int
	gotPattern string
	events     []events.Event
	err        error
}

func (f *fakeHistory) Query(ctx context.Context, limit int, typePattern string) ([]events.Event, error) {
	f.gotLimit = limit
	f.gotPattern = typePattern
	if f.err != nil {
		return nil, f.err
	}
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func newTestServer(t *testing.T, cfg config.APIConfig, svc ClusterService, history EventStore) *Server {
	t.Helper()
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	// Generous limits so tests never trip the rate limiter
	cfg.RateLimit = 1000
	cfg.RateBurst = 1000

	return NewServer(cfg, "zbx-ha", svc, history, events.NewSimpleBus(100), zap.NewNop())
}

func doRequest(s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestServer_Health(t *testing.T) {
	svc := newFakeService()
	s := newTestServer(t, config.APIConfig{}, svc, &fakeHistory{})

	rec := doRequest(s, "GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["active"])
}

func TestServer_Ready(t *testing.T) {
	t.Run("database reachable", func(t *testing.T) {
		svc := newFakeService()
		s := newTestServer(t, config.APIConfig{}, svc, &fakeHistory{})

		rec := doRequest(s, "GET", "/ready", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, true, body["ready"])
	})

	t.Run("database down", func(t *testing.T) {
		svc := newFakeService()
		svc.pingErr = fmt.Errorf("connection refused")
		s := newTestServer(t, config.APIConfig{}, svc, &fakeHistory{})

		rec := doRequest(s, "GET", "/ready", "", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.Equal(t, false, body["ready"])
		assert.Contains(t, body["error"], "connection refused")
	})
}

func TestServer_Version(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/version", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, Version, body["version"])
	assert.NotEmpty(t, body["go"])
}

func TestServer_ClusterStatus(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/api/v1/cluster/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status cluster.Status
	decodeBody(t, rec, &status)
	assert.Equal(t, "zbx-ha", status.Cluster)
	require.NotNil(t, status.Lease)
	assert.Equal(t, "zabbix-1", status.Lease.HolderID)
	assert.Equal(t, int64(7), status.Lease.Epoch)
	assert.Equal(t, 2, status.ServersUp)
	assert.Equal(t, 0, status.ProxiesUp)
	assert.Equal(t, 1, status.ProxiesDown)
	assert.Len(t, status.Nodes, 3)
}

func TestServer_ClusterHealth(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/api/v1/cluster/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "zbx-ha", body["cluster"])
	assert.Equal(t, true, body["active"])
	assert.Contains(t, body, "nodes")
	assert.Contains(t, body, "replication")
}

func TestServer_Replication(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/api/v1/cluster/replication", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rep replication.Status
	decodeBody(t, rec, &rep)
	require.Len(t, rep.Standbys, 1)
	assert.Equal(t, "zabbix-2", rep.Standbys[0].Name)
	assert.Equal(t, int64(1024), rep.Standbys[0].LagBytes)
}

func TestServer_ListNodes(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/api/v1/nodes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}
	decodeBody(t, rec, &body)
	assert.Len(t, body.Nodes, 3)
}

func TestServer_GetNode(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	t.Run("found", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/v1/nodes/zabbix-2", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var node cluster.NodeInfo
		decodeBody(t, rec, &node)
		assert.Equal(t, "zabbix-2", node.ID)
		assert.Equal(t, cluster.StatusStandby, node.Status)
	})

	t.Run("missing", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/v1/nodes/no-such-node", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_IssueToken(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/auth/token", "", map[string]string{
			"name": "alice", "token": "hunter2",
		})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("valid credentials", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		s := newTestServer(t, cfg, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/auth/token", "", map[string]string{
			"name": "alice", "token": "hunter2",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		decodeBody(t, rec, &body)
		assert.NotEmpty(t, body["token"])
		assert.NotEmpty(t, body["expires_at"])
	})

	t.Run("wrong credentials", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		s := newTestServer(t, cfg, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/auth/token", "", map[string]string{
			"name": "alice", "token": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestServer_Failover(t *testing.T) {
	t.Run("disabled without operators", func(t *testing.T) {
		s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/failover", "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		s := newTestServer(t, cfg, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/failover", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		s := newTestServer(t, cfg, newFakeService(), &fakeHistory{})

		rec := doRequest(s, "POST", "/api/v1/failover", "not-a-jwt", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not the active node", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		svc := newFakeService()
		svc.switchErr = fmt.Errorf("step down: %w", lease.ErrNotHolder)
		s := newTestServer(t, cfg, svc, &fakeHistory{})

		token, _, err := s.auth.IssueToken("alice", "hunter2")
		require.NoError(t, err)

		rec := doRequest(s, "POST", "/api/v1/failover", token, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		cfg := testAuthConfig(t, "alice", "hunter2")
		svc := newFakeService()
		s := newTestServer(t, cfg, svc, &fakeHistory{})

		token, _, err := s.auth.IssueToken("alice", "hunter2")
		require.NoError(t, err)

		rec := doRequest(s, "POST", "/api/v1/failover", token, nil)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var body map[string]string
		decodeBody(t, rec, &body)
		assert.Contains(t, body["status"], "stepping down")
	})
}

func TestServer_Maintenance(t *testing.T) {
	cfg := testAuthConfig(t, "alice", "hunter2")
	svc := newFakeService()
	s := newTestServer(t, cfg, svc, &fakeHistory{})

	token, _, err := s.auth.IssueToken("alice", "hunter2")
	require.NoError(t, err)

	t.Run("requires auth", func(t *testing.T) {
		rec := doRequest(s, "PUT", "/api/v1/nodes/zabbix-2/maintenance", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("set and clear", func(t *testing.T) {
		rec := doRequest(s, "PUT", "/api/v1/nodes/zabbix-2/maintenance", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, svc.maintenance["zabbix-2"])

		rec = doRequest(s, "DELETE", "/api/v1/nodes/zabbix-2/maintenance", token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, svc.maintenance["zabbix-2"])
	})

	t.Run("unknown node", func(t *testing.T) {
		rec := doRequest(s, "PUT", "/api/v1/nodes/no-such-node/maintenance", token, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestServer_RemoveNode(t *testing.T) {
	cfg := testAuthConfig(t, "alice", "hunter2")
	svc := newFakeService()
	s := newTestServer(t, cfg, svc, &fakeHistory{})

	token, _, err := s.auth.IssueToken("alice", "hunter2")
	require.NoError(t, err)

	rec := doRequest(s, "DELETE", "/api/v1/nodes/proxy-1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"proxy-1"}, svc.removed)

	rec = doRequest(s, "DELETE", "/api/v1/nodes/no-such-node", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ListEvents(t *testing.T) {
	history := &fakeHistory{
		events: []events.Event{
			{ID: "1", Type: events.LeaseAcquired, NodeID: "zabbix-1"},
			{ID: "2", Type: events.NodeDown, NodeID: "zabbix-2"},
		},
	}
	s := newTestServer(t, config.APIConfig{}, newFakeService(), history)

	t.Run("default limit", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/v1/events", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 50, history.gotLimit)

		var body struct {
			Events []events.Event `json:"events"`
		}
		decodeBody(t, rec, &body)
		assert.Len(t, body.Events, 2)
	})

	t.Run("explicit limit and type", func(t *testing.T) {
		rec := doRequest(s, "GET", "/api/v1/events?limit=1&type=lease.*", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, history.gotLimit)
		assert.Equal(t, "lease.*", history.gotPattern)
	})

	t.Run("rejects bad limits", func(t *testing.T) {
		for _, raw := range []string{"0", "1001", "-3", "abc"} {
			rec := doRequest(s, "GET", "/api/v1/events?limit="+raw, "", nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
		}
	})
}

func TestServer_MetricsEndpoint(t *testing.T) {
	s := newTestServer(t, config.APIConfig{}, newFakeService(), &fakeHistory{})

	rec := doRequest(s, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "arbiter_node_active 1")
	assert.Contains(t, body, "arbiter_lease_epoch 7")
	assert.True(t, strings.Contains(body, "arbiter_nodes_up"), "cluster gauges missing")
	assert.Contains(t, body, `arbiter_replication_lag_bytes{standby="zabbix-2"} 1024`)
}
