// internal/probe/http.go
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProbe issues a GET against a health endpoint and treats any 2xx
// response as healthy.
type HTTPProbe struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPProbe creates a probe for the given URL. The timeout bounds the
// whole request including connection setup and body read.
func NewHTTPProbe(name, url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (p *HTTPProbe) Name() string { return p.name }

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused across sweeps.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("get %s: status %d", p.url, resp.StatusCode)
	}
	return nil
}
