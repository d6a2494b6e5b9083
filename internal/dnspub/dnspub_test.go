// internal/dnspub/dnspub_test.go
package dnspub

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/events"
)

type fakeSource struct {
	mu   sync.Mutex
	snap Snapshot
}

func (s *fakeSource) set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *fakeSource) Snapshot(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, nil
}

// recordedWriter captures the reply instead of putting it on the wire.
type recordedWriter struct {
	msg *dns.Msg
}

func (w *recordedWriter) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4zero, Port: 5353}
}

func (w *recordedWriter) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 41000}
}

func (w *recordedWriter) WriteMsg(m *dns.Msg) error { w.msg = m; return nil }

func (w *recordedWriter) Write(b []byte) (int, error) { return len(b), nil }

func (w *recordedWriter) Close() error { return nil }

func (w *recordedWriter) TsigStatus() error { return nil }

func (w *recordedWriter) TsigTimersOnly(bool) {}

func (w *recordedWriter) Hijack() {}

func testSnapshot() Snapshot {
	active := cluster.NodeInfo{
		ID:      "node-1-id",
		Name:    "zabbix-1",
		Role:    cluster.RoleServer,
		Address: "10.0.0.1:10051",
		Status:  cluster.StatusActive,
	}
	return Snapshot{
		Cluster: "zbx-ha",
		Epoch:   3,
		Active:  &active,
		Nodes: []cluster.NodeInfo{
			active,
			{ID: "node-2-id", Name: "zabbix-2", Role: cluster.RoleServer, Address: "10.0.0.2:10051", Status: cluster.StatusStandby},
			{ID: "node-3-id", Name: "zabbix-3", Role: cluster.RoleServer, Address: "10.0.0.3:10051", Status: cluster.StatusUnavailable},
			{ID: "proxy-id", Name: "proxy-1", Role: cluster.RoleProxy, Address: "10.0.1.1:10051", Status: cluster.StatusStandby},
		},
	}
}

func newTestPublisher(t *testing.T, snap Snapshot) (*Publisher, *fakeSource) {
	t.Helper()
	source := &fakeSource{}
	source.set(snap)

	p, err := NewPublisher(Config{Zone: "zbx.internal", TTL: 5}, source, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Refresh(context.Background()))
	return p, source
}

func query(p *Publisher, name string, qtype uint16) *dns.Msg {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	w := &recordedWriter{}
	p.ServeDNS(w, req)
	return w.msg
}

func TestPublisher_ServesActiveRecord(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "active.zbx.internal.", dns.TypeA)
	require.NotNil(t, resp)
	assert.True(t, resp.Authoritative)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Len(t, resp.Answer, 1)

	a, ok := resp.Answer[0].(*dns.A)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", a.A.String())
	assert.Equal(t, uint32(5), a.Hdr.Ttl)
}

func TestPublisher_AllListsLiveServersOnly(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "all.zbx.internal.", dns.TypeA)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 2, "unavailable servers and proxies are not published")

	var ips []string
	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		require.True(t, ok)
		ips = append(ips, a.A.String())
	}
	assert.ElementsMatch(t, []string{"10.0.0.1", "10.0.0.2"}, ips)
}

func TestPublisher_SRVPointsAtActive(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "_arbiter._tcp.zbx.internal.", dns.TypeSRV)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)

	srv, ok := resp.Answer[0].(*dns.SRV)
	require.True(t, ok)
	assert.Equal(t, uint16(10051), srv.Port)
	assert.Equal(t, "active.zbx.internal.", srv.Target)
}

func TestPublisher_StatusTXT(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "status.zbx.internal.", dns.TypeTXT)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)

	txt, ok := resp.Answer[0].(*dns.TXT)
	require.True(t, ok)
	require.Len(t, txt.Txt, 1)
	assert.Equal(t, "cluster=zbx-ha active=zabbix-1 epoch=3", txt.Txt[0])
}

func TestPublisher_NoActiveNode(t *testing.T) {
	snap := testSnapshot()
	snap.Active = nil
	p, _ := newTestPublisher(t, snap)

	resp := query(p, "active.zbx.internal.", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)

	resp = query(p, "status.zbx.internal.", dns.TypeTXT)
	require.NotNil(t, resp)
	require.Len(t, resp.Answer, 1)
	assert.Contains(t, resp.Answer[0].(*dns.TXT).Txt[0], "active=none")
}

func TestPublisher_UnknownNameInZone(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "nothere.zbx.internal.", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestPublisher_RefusesOutOfZone(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "example.com.", dns.TypeA)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeRefused, resp.Rcode)
}

func TestPublisher_KnownNameWrongType(t *testing.T) {
	p, _ := newTestPublisher(t, testSnapshot())

	resp := query(p, "active.zbx.internal.", dns.TypeMX)
	require.NotNil(t, resp)
	assert.Equal(t, dns.RcodeSuccess, resp.Rcode)
	assert.Empty(t, resp.Answer)
}

func TestPublisher_RefreshPublishesOnlyOnChange(t *testing.T) {
	source := &fakeSource{}
	source.set(testSnapshot())

	bus := events.NewSimpleBus(100)
	var mu sync.Mutex
	var updates []events.Event
	bus.Subscribe(string(events.DNSUpdated), func(ctx context.Context, e events.Event) error {
		mu.Lock()
		updates = append(updates, e)
		mu.Unlock()
		return nil
	})

	p, err := NewPublisher(Config{Zone: "zbx.internal"}, source, bus, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Refresh(ctx))
	require.NoError(t, p.Refresh(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 1
	}, time.Second, 10*time.Millisecond, "identical state refreshes are silent")

	// Failover: the standby becomes active.
	snap := testSnapshot()
	snap.Epoch = 4
	snap.Active = &snap.Nodes[1]
	source.set(snap)
	require.NoError(t, p.Refresh(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_RefreshesOnClusterEvents(t *testing.T) {
	source := &fakeSource{}
	source.set(testSnapshot())

	bus := events.NewSimpleBus(100)
	p, err := NewPublisher(Config{Zone: "zbx.internal"}, source, bus, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Refresh(context.Background()))

	// A failover publishes node.down / lease.acquired; the standby takes
	// over and the answers must follow without waiting for the backstop
	// tick.
	snap := testSnapshot()
	snap.Epoch = 4
	snap.Active = &snap.Nodes[1]
	source.set(snap)

	bus.Publish(context.Background(), events.Event{Type: events.LeaseAcquired, NodeID: "node-2-id"})

	require.Eventually(t, func() bool {
		resp := query(p, "active.zbx.internal.", dns.TypeA)
		if resp == nil || len(resp.Answer) != 1 {
			return false
		}
		a, ok := resp.Answer[0].(*dns.A)
		return ok && a.A.String() == "10.0.0.2"
	}, time.Second, 10*time.Millisecond, "bus event must trigger a refresh")
}

func TestNewPublisher_RequiresZone(t *testing.T) {
	_, err := NewPublisher(Config{}, &fakeSource{}, nil, zap.NewNop())
	assert.Error(t, err)
}
