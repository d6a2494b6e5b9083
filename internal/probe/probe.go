// internal/probe/probe.go
// Active health probes. The failover detector runs one probe per tracked
// node; a probe answers exactly one question: is this node serving right
// now. Probes hold no state between checks.
package probe

import (
	"context"
	"fmt"
	"time"
)

// Kind selects the probe implementation.
type Kind string

const (
	KindHTTP   Kind = "http"
	KindTCP    Kind = "tcp"
	KindICMP   Kind = "icmp"
	KindDocker Kind = "docker"
)

// Prober checks a single target. Check returns nil when the target is
// healthy and a descriptive error otherwise. Implementations must honor
// the context deadline.
type Prober interface {
	Name() string
	Check(ctx context.Context) error
}

// New builds a probe of the given kind. Target is interpreted per kind:
// a URL for http, host:port for tcp, a hostname or IP for icmp, and a
// container name for docker.
func New(kind Kind, name, target string, timeout time.Duration) (Prober, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	switch kind {
	case KindHTTP:
		return NewHTTPProbe(name, target, timeout), nil
	case KindTCP:
		return NewTCPProbe(name, target, timeout), nil
	case KindICMP:
		return NewPingProbe(name, target, timeout), nil
	case KindDocker:
		return NewDockerProbe(name, target, timeout)
	default:
		return nil, fmt.Errorf("unknown probe kind: %s", kind)
	}
}
