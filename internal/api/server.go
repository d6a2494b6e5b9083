// internal/api/server.go
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/config"
	"github.com/FairForge/arbiter/internal/events"
	"github.com/FairForge/arbiter/internal/failover"
	"github.com/FairForge/arbiter/internal/replication"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// ClusterService is everything the HTTP surface needs from the running
// arbiter. The supervisor implements it.
type ClusterService interface {
	Status(ctx context.Context) (*cluster.Status, error)
	Nodes(ctx context.Context) ([]cluster.NodeInfo, error)
	Node(ctx context.Context, nodeID string) (*cluster.NodeInfo, error)
	SetMaintenance(ctx context.Context, nodeID string, on bool) error
	RemoveNode(ctx context.Context, nodeID string) error
	Switchover(ctx context.Context) error
	NodeHealth() map[string]failover.NodeHealth
	Replication() replication.Status
	IsActive() bool
	Ping(ctx context.Context) error
}

// EventStore serves the persisted event history.
type EventStore interface {
	Query(ctx context.Context, limit int, typePattern string) ([]events.Event, error)
}

type Server struct {
	cfg     config.APIConfig
	cluster string
	logger  *zap.Logger
	router  *mux.Router

	httpServer *http.Server
	service    ClusterService
	history    EventStore
	bus        events.Bus
	auth       *Auth
	limiter    *RateLimiter
	metrics    *Metrics

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

func NewServer(cfg config.APIConfig, clusterName string, svc ClusterService, history EventStore, bus events.Bus, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		cluster:   clusterName,
		logger:    logger,
		router:    mux.NewRouter(),
		service:   svc,
		history:   history,
		bus:       bus,
		auth:      NewAuth(cfg, logger),
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:   NewMetrics(),
		startTime: time.Now(),
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	s.router.HandleFunc("/api/v1/auth/token", s.handleIssueToken).Methods("POST")

	s.router.HandleFunc("/api/v1/cluster/status", s.handleClusterStatus).Methods("GET")
	s.router.HandleFunc("/api/v1/cluster/health", s.handleClusterHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/cluster/replication", s.handleReplication).Methods("GET")
	s.router.HandleFunc("/api/v1/failover", s.requireAuth(s.handleFailover)).Methods("POST")

	s.router.HandleFunc("/api/v1/nodes", s.handleListNodes).Methods("GET")
	s.router.HandleFunc("/api/v1/nodes/{id}", s.handleGetNode).Methods("GET")
	s.router.HandleFunc("/api/v1/nodes/{id}", s.requireAuth(s.handleRemoveNode)).Methods("DELETE")
	s.router.HandleFunc("/api/v1/nodes/{id}/maintenance", s.requireAuth(s.handleSetMaintenance)).Methods("PUT")
	s.router.HandleFunc("/api/v1/nodes/{id}/maintenance", s.requireAuth(s.handleClearMaintenance)).Methods("DELETE")

	s.router.HandleFunc("/api/v1/events", s.handleListEvents).Methods("GET")
	s.router.HandleFunc("/api/v1/events/watch", s.handleWatchEvents).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(RateLimitMiddleware(s.limiter, s.metrics))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.startTime).Seconds(),
		"active":  s.service.IsActive(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health)
}

// handleReady reports ready only when the shared database answers. A
// node that cannot reach PostgreSQL cannot arbitrate anything.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready := map[string]interface{}{
		"ready":     true,
		"memory_mb": getMemoryUsageMB(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := s.service.Ping(ctx); err != nil {
		ready["ready"] = false
		ready["error"] = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(ready)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.refreshClusterMetrics(r.Context())
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	version := map[string]string{
		"version": Version,
		"go":      runtime.Version(),
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(version)
}

// statusWriter remembers the status code so the middleware can label the
// request counter with it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the websocket upgrade on the watch endpoint
// still works behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		// Label by route template, not the raw path, so node IDs do not
		// explode the series cardinality.
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		elapsed := time.Since(start)
		s.metrics.IncrementRequest(r.Method, path, sw.status)
		s.metrics.RecordLatency(r.Method, path, elapsed.Seconds())

		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("latency", elapsed),
		)
	})
}

func (s *Server) Start() error {
	s.logger.Info("Starting API server", zap.String("addr", s.cfg.Listen))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Metrics exposes the registry so the supervisor can feed coordinator
// counters from lease and detector activity.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func getMemoryUsageMB() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / 1024 / 1024
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	atomic.AddInt64(&s.errorCount, 1)
	s.respondJSON(w, status, map[string]string{"error": msg})
}
