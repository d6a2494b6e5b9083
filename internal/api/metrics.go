package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
)

// Metrics holds all Prometheus metrics for the API
type Metrics struct {
	RequestCounter   *prometheus.CounterVec
	LatencyHistogram *prometheus.HistogramVec
	RateLimitHits    *prometheus.CounterVec

	ActiveGauge    prometheus.Gauge
	LeaseEpoch     prometheus.Gauge
	NodesUp        *prometheus.GaugeVec
	NodesDown      *prometheus.GaugeVec
	ReplicationLag *prometheus.GaugeVec

	Failovers     prometheus.Counter
	RenewFailures prometheus.Counter
	CheckFailures *prometheus.CounterVec
	CheckLatency  *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// NewMetrics creates and registers all metrics (singleton pattern for tests)
func NewMetrics() *Metrics {
	// Use singleton pattern to avoid duplicate registration
	metricsOnce.Do(func() {
		registry := prometheus.NewRegistry()

		m := &Metrics{
			RequestCounter: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arbiter_requests_total",
					Help: "Total number of HTTP requests",
				},
				[]string{"method", "path", "status"},
			),
			LatencyHistogram: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "arbiter_request_duration_seconds",
					Help:    "HTTP request latency in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"method", "path"},
			),
			RateLimitHits: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "arbiter_rate_limit_hits_total",
					Help: "Total number of rate limit hits",
				},
				[]string{"client"},
			),
			ActiveGauge: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "arbiter_node_active",
				Help: "1 when this node holds the cluster lease",
			}),
			LeaseEpoch: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "arbiter_lease_epoch",
				Help: "Current lease epoch as seen by this node",
			}),
			NodesUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "arbiter_nodes_up",
				Help: "Registered nodes currently active or standby",
			}, []string{"role"}),
			NodesDown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "arbiter_nodes_down",
				Help: "Registered nodes currently unavailable or stopped",
			}, []string{"role"}),
			ReplicationLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "arbiter_replication_lag_bytes",
				Help: "WAL bytes each standby is behind the primary",
			}, []string{"standby"}),
			Failovers: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "arbiter_failovers_total",
				Help: "Completed failovers observed by this node",
			}),
			RenewFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "arbiter_lease_renew_failures_total",
				Help: "Lease renewals that failed or lost ownership",
			}),
			CheckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "arbiter_health_check_failures_total",
				Help: "Failed health checks per probed node",
			}, []string{"node"}),
			CheckLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "arbiter_health_check_duration_seconds",
				Help:    "Health check latency per probed node",
				Buckets: prometheus.DefBuckets,
			}, []string{"node"}),
			registry: registry,
		}

		// Register metrics with custom registry
		registry.MustRegister(m.RequestCounter)
		registry.MustRegister(m.LatencyHistogram)
		registry.MustRegister(m.RateLimitHits)
		registry.MustRegister(m.ActiveGauge)
		registry.MustRegister(m.LeaseEpoch)
		registry.MustRegister(m.NodesUp)
		registry.MustRegister(m.NodesDown)
		registry.MustRegister(m.ReplicationLag)
		registry.MustRegister(m.Failovers)
		registry.MustRegister(m.RenewFailures)
		registry.MustRegister(m.CheckFailures)
		registry.MustRegister(m.CheckLatency)

		metricsInstance = m
	})

	return metricsInstance
}

// IncrementRequest increments the request counter
func (m *Metrics) IncrementRequest(method, path string, status int) {
	m.RequestCounter.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
}

// RecordLatency records request latency
func (m *Metrics) RecordLatency(method, path string, seconds float64) {
	m.LatencyHistogram.WithLabelValues(method, path).Observe(seconds)
}

// IncrementRateLimitHit increments rate limit hit counter
func (m *Metrics) IncrementRateLimitHit(client string) {
	m.RateLimitHits.WithLabelValues(client).Inc()
}

// RecordFailover counts a completed failover.
func (m *Metrics) RecordFailover() {
	m.Failovers.Inc()
}

// RecordRenewFailure counts a lease renewal that did not stick.
func (m *Metrics) RecordRenewFailure() {
	m.RenewFailures.Inc()
}

// ObserveCheck records one health check result for a probed node.
func (m *Metrics) ObserveCheck(node string, latency time.Duration, healthy bool) {
	m.CheckLatency.WithLabelValues(node).Observe(latency.Seconds())
	if !healthy {
		m.CheckFailures.WithLabelValues(node).Inc()
	}
}

// Handler returns the Prometheus metrics handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// refreshClusterMetrics recomputes the cluster-state gauges right before
// a scrape, so the gauges are as fresh as the scrape itself.
func (s *Server) refreshClusterMetrics(ctx context.Context) {
	if s.service.IsActive() {
		s.metrics.ActiveGauge.Set(1)
	} else {
		s.metrics.ActiveGauge.Set(0)
	}

	status, err := s.service.Status(ctx)
	if err != nil {
		s.logger.Warn("cluster metrics refresh failed", zap.Error(err))
		return
	}

	if status.Lease != nil {
		s.metrics.LeaseEpoch.Set(float64(status.Lease.Epoch))
	}
	s.metrics.NodesUp.WithLabelValues(string(cluster.RoleServer)).Set(float64(status.ServersUp))
	s.metrics.NodesDown.WithLabelValues(string(cluster.RoleServer)).Set(float64(status.ServersDown))
	s.metrics.NodesUp.WithLabelValues(string(cluster.RoleProxy)).Set(float64(status.ProxiesUp))
	s.metrics.NodesDown.WithLabelValues(string(cluster.RoleProxy)).Set(float64(status.ProxiesDown))

	rep := s.service.Replication()
	s.metrics.ReplicationLag.Reset()
	for _, standby := range rep.Standbys {
		s.metrics.ReplicationLag.WithLabelValues(standby.Name).Set(float64(standby.LagBytes))
	}
}

// ResetForTesting resets the singleton for testing
func ResetMetricsForTesting() {
	metricsInstance = nil
	metricsOnce = sync.Once{}
}
