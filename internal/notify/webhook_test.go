// internal/notify/webhook_test.go
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/arbiter/internal/events"
)

func TestWebhookConfig_Validate(t *testing.T) {
	t.Run("valid config passes validation", func(t *testing.T) {
		config := &WebhookConfig{
			URL:    "https://ops.example.com/hook",
			Events: []string{"failover.*", "node.down"},
			Secret: "webhook-secret",
		}
		assert.NoError(t, config.Validate())
	})

	t.Run("rejects empty URL", func(t *testing.T) {
		config := &WebhookConfig{Events: []string{"node.down"}}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "URL")
	})

	t.Run("rejects non-HTTPS URL when required", func(t *testing.T) {
		config := &WebhookConfig{
			URL:          "http://ops.example.com/hook",
			Events:       []string{"node.down"},
			RequireHTTPS: true,
		}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "HTTPS")
	})

	t.Run("rejects empty events", func(t *testing.T) {
		config := &WebhookConfig{URL: "https://ops.example.com/hook"}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "event")
	})
}

func TestWebhookConfig_MatchesEvent(t *testing.T) {
	tests := []struct {
		name      string
		patterns  []string
		eventType string
		want      bool
	}{
		{"exact match", []string{"node.down"}, "node.down", true},
		{"exact mismatch", []string{"node.down"}, "node.recovered", false},
		{"prefix wildcard", []string{"failover.*"}, "failover.started", true},
		{"prefix wildcard mismatch", []string{"failover.*"}, "lease.acquired", false},
		{"catch all", []string{"*"}, "dns.updated", true},
		{"multiple patterns", []string{"node.down", "failover.*"}, "failover.completed", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &WebhookConfig{Events: tt.patterns}
			assert.Equal(t, tt.want, config.MatchesEvent(tt.eventType))
		})
	}
}

func TestWebhooker_DeliversMatchingEvent(t *testing.T) {
	received := make(chan *webhookPayload, 1)
	var gotSignature, gotType string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotType = r.Header.Get("X-Event-Type")
		var payload webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		received <- &payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewWebhooker(nil)
	require.NoError(t, m.Register(&WebhookConfig{
		ID:     "wh-ops",
		URL:    server.URL,
		Events: []string{"failover.*"},
		Secret: "s3cret",
	}))

	event := events.Event{
		ID:      "evt-1",
		Cluster: "zbx-ha",
		Type:    events.FailoverCompleted,
		NodeID:  "node-2",
		Message: "zabbix-2 is now active",
	}
	require.NoError(t, m.DispatchSync(context.Background(), event))

	select {
	case payload := <-received:
		assert.Equal(t, events.FailoverCompleted, payload.Type)
		assert.Equal(t, "zbx-ha", payload.Cluster)
		assert.Equal(t, 1, payload.Attempt)
	case <-time.After(time.Second):
		t.Fatal("webhook was not delivered")
	}

	assert.Equal(t, "failover.completed", gotType)
	assert.NotEmpty(t, gotSignature)

	deliveries := m.Deliveries("wh-ops")
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryStatusSuccess, deliveries[0].Status)
}

func TestWebhooker_SkipsNonMatchingEvent(t *testing.T) {
	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewWebhooker(nil)
	require.NoError(t, m.Register(&WebhookConfig{
		URL:    server.URL,
		Events: []string{"failover.*"},
	}))

	require.NoError(t, m.DispatchSync(context.Background(), events.Event{
		Type: events.LeaseRenewFailed,
	}))
	assert.False(t, called.Load())
}

func TestWebhooker_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewWebhooker(&WebhookerConfig{
		MaxRetries:     3,
		RetryInterval:  10 * time.Millisecond,
		RequestTimeout: time.Second,
		MaxConcurrent:  1,
	})
	require.NoError(t, m.Register(&WebhookConfig{
		ID:     "wh-flaky",
		URL:    server.URL,
		Events: []string{"*"},
	}))

	require.NoError(t, m.DispatchSync(context.Background(), events.Event{Type: events.NodeDown}))
	assert.Equal(t, int32(3), calls.Load())

	deliveries := m.Deliveries("wh-flaky")
	require.Len(t, deliveries, 3)
	assert.Equal(t, DeliveryStatusFailed, deliveries[0].Status)
	assert.Equal(t, DeliveryStatusSuccess, deliveries[2].Status)
}

func TestWebhooker_ReportsExhaustedRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := NewWebhooker(&WebhookerConfig{
		MaxRetries:     2,
		RetryInterval:  10 * time.Millisecond,
		RequestTimeout: time.Second,
		MaxConcurrent:  1,
	})
	require.NoError(t, m.Register(&WebhookConfig{
		URL:    server.URL,
		Events: []string{"*"},
	}))

	err := m.DispatchSync(context.Background(), events.Event{Type: events.NodeDown})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestWebhooker_Unregister(t *testing.T) {
	m := NewWebhooker(nil)
	require.NoError(t, m.Register(&WebhookConfig{
		ID:     "wh-gone",
		URL:    "https://ops.example.com/hook",
		Events: []string{"*"},
	}))

	require.NoError(t, m.Unregister("wh-gone"))
	assert.Error(t, m.Unregister("wh-gone"))
}

func TestSignatures(t *testing.T) {
	payload := []byte(`{"type":"node.down"}`)
	sig := GenerateSignature(payload, "secret")

	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature(payload, sig, "other-secret"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, "secret"))
}
