// internal/probe/icmp.go
package probe

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// PingProbe sends a single unprivileged ICMP echo. Unprivileged mode uses
// UDP datagrams and needs net.ipv4.ping_group_range to cover the daemon's
// group on Linux.
type PingProbe struct {
	name    string
	host    string
	timeout time.Duration
}

func NewPingProbe(name, host string, timeout time.Duration) *PingProbe {
	return &PingProbe{name: name, host: host, timeout: timeout}
}

func (p *PingProbe) Name() string { return p.name }

func (p *PingProbe) Check(ctx context.Context) error {
	pinger, err := probing.NewPinger(p.host)
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = p.timeout
	pinger.SetPrivileged(false)

	if err := pinger.RunWithContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", p.host, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return fmt.Errorf("ping %s: packet loss", p.host)
	}
	return nil
}
