package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Initialization(t *testing.T) {
	ResetMetricsForTesting()

	metrics := NewMetrics()

	if metrics == nil {
		t.Fatal("Metrics should not be nil")
	}
	if metrics.RequestCounter == nil {
		t.Error("RequestCounter should be initialized")
	}
	if metrics.LatencyHistogram == nil {
		t.Error("LatencyHistogram should be initialized")
	}
	if metrics.RateLimitHits == nil {
		t.Error("RateLimitHits should be initialized")
	}
	if metrics.ActiveGauge == nil {
		t.Error("ActiveGauge should be initialized")
	}
	if metrics.ReplicationLag == nil {
		t.Error("ReplicationLag should be initialized")
	}
}

func TestMetrics_IncrementRequestCounter(t *testing.T) {
	ResetMetricsForTesting()
	metrics := NewMetrics()

	metrics.IncrementRequest("GET", "/api/v1/cluster/status", 200)
	metrics.IncrementRequest("GET", "/api/v1/cluster/status", 200)
	metrics.IncrementRequest("POST", "/api/v1/failover", 409)

	got := testutil.ToFloat64(metrics.RequestCounter.WithLabelValues("GET", "/api/v1/cluster/status", "200"))
	if got != 2 {
		t.Errorf("request counter = %v, want 2", got)
	}
	got = testutil.ToFloat64(metrics.RequestCounter.WithLabelValues("POST", "/api/v1/failover", "409"))
	if got != 1 {
		t.Errorf("request counter = %v, want 1", got)
	}
}

func TestMetrics_RecordLatency(t *testing.T) {
	ResetMetricsForTesting()
	metrics := NewMetrics()

	metrics.RecordLatency("GET", "/api/v1/nodes", 0.123)

	if n := testutil.CollectAndCount(metrics.LatencyHistogram); n == 0 {
		t.Error("latency histogram recorded nothing")
	}
}

func TestMetrics_IncrementRateLimitHits(t *testing.T) {
	ResetMetricsForTesting()
	metrics := NewMetrics()

	metrics.IncrementRateLimitHit("10.0.0.1")

	got := testutil.ToFloat64(metrics.RateLimitHits.WithLabelValues("10.0.0.1"))
	if got != 1 {
		t.Errorf("rate limit counter = %v, want 1", got)
	}
}

func TestMetrics_CoordinatorCounters(t *testing.T) {
	ResetMetricsForTesting()
	metrics := NewMetrics()

	metrics.RecordFailover()
	metrics.RecordRenewFailure()
	metrics.RecordRenewFailure()
	metrics.ObserveCheck("zabbix-2", 42*time.Millisecond, true)
	metrics.ObserveCheck("zabbix-2", 80*time.Millisecond, false)

	if got := testutil.ToFloat64(metrics.Failovers); got != 1 {
		t.Errorf("failover counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RenewFailures); got != 2 {
		t.Errorf("renew failure counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CheckFailures.WithLabelValues("zabbix-2")); got != 1 {
		t.Errorf("check failure counter = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(metrics.CheckLatency); n == 0 {
		t.Error("check latency histogram recorded nothing")
	}
}

func TestMetrics_Handler(t *testing.T) {
	ResetMetricsForTesting()
	metrics := NewMetrics()

	// Touch some metrics first so they appear in output
	metrics.IncrementRequest("GET", "/api/v1/cluster/status", 200)
	metrics.RecordLatency("GET", "/api/v1/cluster/status", 0.5)
	metrics.LeaseEpoch.Set(4)

	handler := metrics.Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "arbiter_requests_total") {
		t.Error("Response should contain arbiter_requests_total metric")
	}
	if !strings.Contains(body, "arbiter_request_duration_seconds") {
		t.Error("Response should contain arbiter_request_duration_seconds metric")
	}
	if !strings.Contains(body, "arbiter_lease_epoch 4") {
		t.Error("Response should contain arbiter_lease_epoch gauge")
	}
}

func TestMetrics_Singleton(t *testing.T) {
	ResetMetricsForTesting()

	m1 := NewMetrics()
	m2 := NewMetrics()

	if m1 != m2 {
		t.Error("NewMetrics should return the same instance (singleton)")
	}
}
