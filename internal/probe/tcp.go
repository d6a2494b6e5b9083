// internal/probe/tcp.go
package probe

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPProbe verifies that a host:port accepts connections. It proves the
// listener is up, not that the service behind it is sane; use an http
// probe where the target exposes a health endpoint.
type TCPProbe struct {
	name    string
	addr    string
	timeout time.Duration
}

func NewTCPProbe(name, addr string, timeout time.Duration) *TCPProbe {
	return &TCPProbe{name: name, addr: addr, timeout: timeout}
}

func (p *TCPProbe) Name() string { return p.name }

func (p *TCPProbe) Check(ctx context.Context) error {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.addr, err)
	}
	conn.Close()
	return nil
}
