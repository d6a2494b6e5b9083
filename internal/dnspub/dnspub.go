// internal/dnspub/dnspub.go
// A tiny authoritative DNS responder that publishes which node is active.
// Pollers and PgBouncer-style frontends resolve active.<zone> instead of
// parsing our API. Answers carry a low TTL so a failover propagates in
// seconds.
//
// The publisher holds a prebuilt record set and serves it lock-cheap;
// Refresh rebuilds the set from the current cluster state. Refreshes
// are driven by lease, node and failover events off the bus, with a
// slow periodic tick as a backstop.
package dnspub

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/events"
)

// Snapshot is the cluster state the publisher renders into records.
type Snapshot struct {
	Cluster string
	Epoch   int64
	Active  *cluster.NodeInfo
	Nodes   []cluster.NodeInfo
}

// Source supplies the current cluster state on demand.
type Source interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Config for the publisher.
type Config struct {
	// Zone is the suffix all published names live under, e.g.
	// "ha.example.internal". Stored as a FQDN internally.
	Zone string
	// Listen is the UDP/TCP address, default ":5353".
	Listen string
	// TTL for every answer. Keep this low; it bounds failover
	// propagation for DNS-based clients.
	TTL uint32
}

// Publisher answers A, SRV and TXT queries for the coordination zone.
type Publisher struct {
	cfg    Config
	zone   string
	source Source
	bus    events.Bus
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]map[uint16][]dns.RR
	serial  string

	servers []*dns.Server
}

// NewPublisher builds a publisher for the given zone. bus may be nil.
func NewPublisher(cfg Config, source Source, bus events.Bus, logger *zap.Logger) (*Publisher, error) {
	if cfg.Zone == "" {
		return nil, fmt.Errorf("dns zone is required")
	}
	if cfg.Listen == "" {
		cfg.Listen = ":5353"
	}
	if cfg.TTL == 0 {
		cfg.TTL = 5
	}
	p := &Publisher{
		cfg:     cfg,
		zone:    dns.Fqdn(strings.ToLower(cfg.Zone)),
		source:  source,
		bus:     bus,
		logger:  logger,
		records: make(map[string]map[uint16][]dns.RR),
	}
	if bus != nil {
		// Any leadership or health change can move the active pointer,
		// so refresh on all three families. dns.updated matches none of
		// them, which keeps Refresh from feeding itself.
		handler := func(ctx context.Context, _ events.Event) error {
			rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := p.Refresh(rctx); err != nil {
				p.logger.Warn("event-driven dns refresh failed", zap.Error(err))
			}
			return nil
		}
		for _, pattern := range []string{"lease.*", "node.*", "failover.*"} {
			bus.Subscribe(pattern, handler)
		}
	}
	return p, nil
}

// Start brings up one UDP and one TCP server on the configured address.
func (p *Publisher) Start() error {
	p.servers = []*dns.Server{
		{Addr: p.cfg.Listen, Net: "udp", Handler: p},
		{Addr: p.cfg.Listen, Net: "tcp", Handler: p},
	}
	for _, srv := range p.servers {
		go func(srv *dns.Server) {
			if err := srv.ListenAndServe(); err != nil {
				p.logger.Error("dns server stopped",
					zap.String("net", srv.Net), zap.Error(err))
			}
		}(srv)
	}
	p.logger.Info("dns publisher listening",
		zap.String("addr", p.cfg.Listen), zap.String("zone", p.zone))
	return nil
}

// Stop shuts down both servers.
func (p *Publisher) Stop() {
	for _, srv := range p.servers {
		if err := srv.Shutdown(); err != nil {
			p.logger.Warn("dns server shutdown failed", zap.Error(err))
		}
	}
}

// Run refreshes periodically until ctx is cancelled. This is a backstop;
// event-driven refreshes land first.
func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("dns refresh failed", zap.Error(err))
			}
		}
	}
}

// Refresh rebuilds the record set from the source. It publishes a
// dns.updated event only when the answers actually changed.
func (p *Publisher) Refresh(ctx context.Context) error {
	snap, err := p.source.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("snapshot cluster state: %w", err)
	}

	records, serial := p.render(snap)

	p.mu.Lock()
	changed := serial != p.serial
	p.records = records
	p.serial = serial
	p.mu.Unlock()

	if changed {
		activeName := ""
		if snap.Active != nil {
			activeName = snap.Active.Name
		}
		p.logger.Info("dns records updated",
			zap.String("zone", p.zone),
			zap.String("active", activeName),
			zap.Int64("epoch", snap.Epoch))
		if p.bus != nil {
			p.bus.Publish(ctx, events.Event{
				Cluster: snap.Cluster,
				Type:    events.DNSUpdated,
				Message: fmt.Sprintf("zone %s now points at %q", p.zone, activeName),
				Details: map[string]any{"active": activeName, "epoch": snap.Epoch},
			})
		}
	}
	return nil
}

// render turns a snapshot into the full record set plus a change-detection
// serial.
func (p *Publisher) render(snap Snapshot) (map[string]map[uint16][]dns.RR, string) {
	records := make(map[string]map[uint16][]dns.RR)
	var parts []string

	add := func(name string, rr dns.RR) {
		byType, ok := records[name]
		if !ok {
			byType = make(map[uint16][]dns.RR)
			records[name] = byType
		}
		qtype := rr.Header().Rrtype
		byType[qtype] = append(byType[qtype], rr)
		parts = append(parts, rr.String())
	}

	activeName := "active." + p.zone
	allName := "all." + p.zone
	srvName := "_arbiter._tcp." + p.zone
	statusName := "status." + p.zone

	if snap.Active != nil {
		host, port := splitAddress(snap.Active.Address)
		if ip := net.ParseIP(host); ip != nil {
			add(activeName, p.addressRR(activeName, ip))
		}
		if port > 0 {
			add(srvName, &dns.SRV{
				Hdr:      p.header(srvName, dns.TypeSRV),
				Priority: 0,
				Weight:   100,
				Port:     port,
				Target:   activeName,
			})
		}
	}

	live := make([]cluster.NodeInfo, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		if n.Role != cluster.RoleServer {
			continue
		}
		if n.Status != cluster.StatusActive && n.Status != cluster.StatusStandby {
			continue
		}
		live = append(live, n)
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Name < live[j].Name })
	for _, n := range live {
		host, _ := splitAddress(n.Address)
		if ip := net.ParseIP(host); ip != nil {
			add(allName, p.addressRR(allName, ip))
		}
	}

	activeLabel := "none"
	if snap.Active != nil {
		activeLabel = snap.Active.Name
	}
	add(statusName, &dns.TXT{
		Hdr: p.header(statusName, dns.TypeTXT),
		Txt: []string{fmt.Sprintf("cluster=%s active=%s epoch=%d", snap.Cluster, activeLabel, snap.Epoch)},
	})

	sort.Strings(parts)
	return records, strings.Join(parts, "\n")
}

func (p *Publisher) addressRR(name string, ip net.IP) dns.RR {
	if v4 := ip.To4(); v4 != nil {
		return &dns.A{Hdr: p.header(name, dns.TypeA), A: v4}
	}
	return &dns.AAAA{Hdr: p.header(name, dns.TypeAAAA), AAAA: ip.To16()}
}

func (p *Publisher) header(name string, qtype uint16) dns.RR_Header {
	return dns.RR_Header{
		Name:   name,
		Rrtype: qtype,
		Class:  dns.ClassINET,
		Ttl:    p.cfg.TTL,
	}
}

// ServeDNS answers queries for the zone. Out-of-zone names are refused,
// in-zone names without records get NXDOMAIN.
func (p *Publisher) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	msg := new(dns.Msg)
	msg.SetReply(r)
	msg.Authoritative = true
	msg.Compress = false

	if len(r.Question) == 0 {
		w.WriteMsg(msg)
		return
	}
	if r.Opcode != dns.OpcodeQuery {
		msg.Rcode = dns.RcodeRefused
		w.WriteMsg(msg)
		return
	}

	q := r.Question[0]
	name := strings.ToLower(q.Name)

	if !strings.HasSuffix(name, p.zone) {
		msg.Rcode = dns.RcodeRefused
		w.WriteMsg(msg)
		return
	}

	p.mu.RLock()
	byType, known := p.records[name]
	var answers []dns.RR
	if known {
		if q.Qtype == dns.TypeANY {
			for _, rrs := range byType {
				answers = append(answers, rrs...)
			}
		} else {
			answers = byType[q.Qtype]
		}
	}
	p.mu.RUnlock()

	if !known {
		msg.Rcode = dns.RcodeNameError
		w.WriteMsg(msg)
		return
	}

	// Known name, no data for this type: NOERROR with an empty answer
	// section.
	msg.Answer = append(msg.Answer, answers...)
	w.WriteMsg(msg)
}

// splitAddress pulls host and port out of a node address. A bare host is
// fine; the port is then zero.
func splitAddress(addr string) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}
