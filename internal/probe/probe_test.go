// internal/probe/probe_test.go
package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProbe_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	p := NewHTTPProbe("web", srv.URL+"/health", 2*time.Second)
	assert.Equal(t, "web", p.Name())
	assert.NoError(t, p.Check(context.Background()))
}

func TestHTTPProbe_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"service unavailable", http.StatusServiceUnavailable, true},
		{"server error", http.StatusInternalServerError, true},
		{"not found", http.StatusNotFound, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			p := NewHTTPProbe("web", srv.URL, 2*time.Second)
			err := p.Check(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	// Reserve a port, then close it so nothing is listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewHTTPProbe("web", "http://"+addr+"/health", 500*time.Millisecond)
	assert.Error(t, p.Check(context.Background()))
}

func TestTCPProbe_Listening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewTCPProbe("db", ln.Addr().String(), 2*time.Second)
	assert.Equal(t, "db", p.Name())
	assert.NoError(t, p.Check(context.Background()))
}

func TestTCPProbe_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewTCPProbe("db", addr, 500*time.Millisecond)
	assert.Error(t, p.Check(context.Background()))
}

func TestTCPProbe_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewTCPProbe("db", "10.255.255.1:9", 5*time.Second)
	assert.Error(t, p.Check(ctx))
}

func TestContainerHealthy(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		status  string
		wantErr string
	}{
		{"running no healthcheck", "running", "Up 4 hours", ""},
		{"running healthy", "running", "Up 4 hours (healthy)", ""},
		{"running unhealthy", "running", "Up 4 hours (unhealthy)", "unhealthy"},
		{"still starting counts as up", "running", "Up 3 seconds (health: starting)", ""},
		{"exited", "exited", "Exited (1) 2 minutes ago", "is exited"},
		{"restarting", "restarting", "Restarting (1) 5 seconds ago", "is restarting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := types.Container{State: tt.state, Status: tt.status}
			err := containerHealthy(c, "zabbix-server")
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		target  string
		wantErr bool
	}{
		{"http", KindHTTP, "http://localhost:8080/health", false},
		{"tcp", KindTCP, "localhost:5432", false},
		{"icmp", KindICMP, "localhost", false},
		{"unknown", Kind("snmp"), "localhost", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.kind, tt.name, tt.target, time.Second)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.name, p.Name())
			}
		})
	}
}
