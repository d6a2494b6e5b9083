// Package arbiter assembles the coordinator: node registry, lease
// election, failover detection, replication watch, DNS publishing, the
// event pipeline, and the HTTP API. One Supervisor runs per node.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/arbiter/internal/api"
	"github.com/FairForge/arbiter/internal/cluster"
	"github.com/FairForge/arbiter/internal/config"
	"github.com/FairForge/arbiter/internal/database"
	"github.com/FairForge/arbiter/internal/dnspub"
	"github.com/FairForge/arbiter/internal/events"
	"github.com/FairForge/arbiter/internal/failover"
	"github.com/FairForge/arbiter/internal/lease"
	"github.com/FairForge/arbiter/internal/notify"
	"github.com/FairForge/arbiter/internal/probe"
	"github.com/FairForge/arbiter/internal/registry"
	"github.com/FairForge/arbiter/internal/replication"
)

// Supervisor owns every long-running component of one node. Servers run
// the full set; proxies skip the lease manager and never become active.
type Supervisor struct {
	cfg    *config.Config
	logger *zap.Logger

	nodeID   string
	nodeName string
	role     cluster.NodeRole

	db         *database.Postgres
	registry   *registry.Registry
	leaseStore lease.Store
	manager    *lease.Manager
	detector   *failover.Detector
	repl       *replication.Watcher
	dns        *dnspub.Publisher
	bus        *events.SimpleBus
	history    *events.HistoryStore
	journal    *events.Journal
	kafka      *events.KafkaSink
	webhooks   *notify.Webhooker
	mailer     *notify.Mailer
	server     *api.Server

	switchLimit *rate.Limiter

	mu         sync.Mutex
	webhookIDs []string
}

// New wires a supervisor from config. The database connection is opened
// lazily; Run verifies it before anything starts.
func New(cfg *config.Config, logger *zap.Logger) (*Supervisor, error) {
	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = uuid.New().String()
	}

	db, err := database.NewPostgres(database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = db.Close()
		}
	}()

	s := &Supervisor{
		cfg:      cfg,
		logger:   logger,
		nodeID:   nodeID,
		nodeName: cfg.Cluster.Node,
		role:     cluster.NodeRole(cfg.Cluster.Role),
		db:       db,
		bus:      events.NewSimpleBus(cfg.Events.BufferSize),
	}

	s.bus.Subscribe("*", events.LogSink(logger))

	s.registry = registry.New(db.DB(), cfg.Cluster.Name, logger)
	s.leaseStore = lease.NewPostgresStore(db.DB(), cfg.Cluster.Name)

	s.detector = failover.NewDetector(cfg.Cluster.Name, nodeID, failover.Config{
		SweepInterval:     cfg.Failover.SweepInterval,
		DownAfter:         cfg.DownAfterOrDefault(),
		FailureThreshold:  cfg.Failover.FailureThreshold,
		RecoveryThreshold: cfg.Failover.RecoveryThreshold,
	}, s.registry, s.bus, logger)
	if err := s.attachProbes(cfg.Probes); err != nil {
		return nil, err
	}

	// Proxies are tracked for liveness but never stand for election.
	if s.role == cluster.RoleServer {
		s.manager = lease.NewManager(s.leaseStore, nodeID, lease.Config{
			TTL:             cfg.Lease.TTL,
			RenewInterval:   cfg.Lease.RenewInterval,
			AcquireInterval: cfg.Lease.AcquireInterval,
		}, lease.Callbacks{
			OnPromote: s.onPromote,
			OnDemote:  s.onDemote,
		}, s.acquireGuard, logger)
	}

	if cfg.Failover.SwitchoverCooldown > 0 {
		s.switchLimit = rate.NewLimiter(rate.Every(cfg.Failover.SwitchoverCooldown), 1)
	}

	if cfg.Replication.Enabled {
		s.repl = replication.NewWatcher(cfg.Cluster.Name, replication.Config{
			Interval:    cfg.Replication.PollInterval,
			MaxLagBytes: cfg.Replication.MaxLagBytes,
		}, db.DB(), s.bus, logger)
	}

	if cfg.DNS.Enabled {
		s.dns, err = dnspub.NewPublisher(dnspub.Config{
			Zone:   cfg.DNS.Zone,
			Listen: cfg.DNS.Listen,
			TTL:    cfg.DNS.TTL,
		}, s, s.bus, logger)
		if err != nil {
			return nil, fmt.Errorf("dns publisher: %w", err)
		}
	}

	if err := s.wireSinks(); err != nil {
		return nil, err
	}

	var store api.EventStore = s.bus
	if s.history != nil {
		store = s.history
	}
	s.server = api.NewServer(cfg.API, cfg.Cluster.Name, s, store, s.bus, logger)
	s.wireMetrics(s.server.Metrics())

	ok = true
	return s, nil
}

// wireMetrics feeds the coordinator counters at the moment the underlying
// activity happens instead of recomputing them at scrape time.
func (s *Supervisor) wireMetrics(m *api.Metrics) {
	s.detector.SetObserver(m.ObserveCheck)

	s.bus.Subscribe(string(events.FailoverCompleted), func(ctx context.Context, _ events.Event) error {
		m.RecordFailover()
		return nil
	})
	s.bus.Subscribe(string(events.LeaseRenewFailed), func(ctx context.Context, _ events.Event) error {
		m.RecordRenewFailure()
		return nil
	})
}

// wireSinks attaches the configured event consumers to the bus.
func (s *Supervisor) wireSinks() error {
	cfg := s.cfg

	if cfg.Events.History {
		s.history = events.NewHistoryStore(s.db.DB(), cfg.Cluster.Name, s.logger)
		s.bus.Subscribe("*", s.history.Handler())
	}

	if cfg.Events.JournalDir != "" {
		var onRotate func(string)
		if cfg.Events.Archive.Enabled {
			arch, err := events.NewArchiver(events.ArchiverConfig{
				Bucket:    cfg.Events.Archive.Bucket,
				Prefix:    cfg.Events.Archive.Prefix,
				Region:    cfg.Events.Archive.Region,
				Endpoint:  cfg.Events.Archive.Endpoint,
				AccessKey: cfg.Events.Archive.AccessKey,
				SecretKey: cfg.Events.Archive.SecretKey,
			}, s.logger)
			if err != nil {
				return fmt.Errorf("journal archiver: %w", err)
			}
			onRotate = arch.OnRotate()
		}

		journal, err := events.NewJournal(cfg.Events.JournalDir, cfg.Events.JournalMaxSizeMB, s.logger, onRotate)
		if err != nil {
			return fmt.Errorf("event journal: %w", err)
		}
		s.journal = journal
		s.bus.Subscribe("*", journal.Handler())
	}

	if cfg.Notify.Kafka.Enabled {
		sink, err := events.NewKafkaSink(cfg.Notify.Kafka.Brokers, cfg.Notify.Kafka.Topic, s.logger)
		if err != nil {
			return fmt.Errorf("kafka sink: %w", err)
		}
		s.kafka = sink
		s.bus.Subscribe("*", sink.Handler())
	}

	s.webhooks = notify.NewWebhooker(notify.DefaultWebhookerConfig())
	if err := s.registerWebhooks(cfg.Notify.Webhooks); err != nil {
		return err
	}
	s.bus.Subscribe("*", s.webhooks.Handler())

	if cfg.Notify.Mail.Enabled {
		mailer, err := notify.NewMailer(notify.MailerConfig{
			Host:     cfg.Notify.Mail.Host,
			Port:     cfg.Notify.Mail.Port,
			Username: cfg.Notify.Mail.Username,
			Password: cfg.Notify.Mail.Password,
			From:     cfg.Notify.Mail.From,
			To:       cfg.Notify.Mail.To,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("mail notifier: %w", err)
		}
		s.mailer = mailer
		for _, pattern := range []string{"failover.*", string(events.NodeDown), string(events.ReplicationLagHigh)} {
			s.bus.Subscribe(pattern, mailer.Handler())
		}
	}

	return nil
}

func (s *Supervisor) registerWebhooks(configs []config.WebhookConfig) error {
	var ids []string
	for i, wc := range configs {
		id := wc.Name
		if id == "" {
			id = fmt.Sprintf("webhook-%d", i)
		}
		err := s.webhooks.Register(&notify.WebhookConfig{
			ID:     id,
			URL:    wc.URL,
			Events: wc.Events,
			Secret: wc.Secret,
		})
		if err != nil {
			return fmt.Errorf("webhook %q: %w", id, err)
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.webhookIDs = ids
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) attachProbes(configs []config.ProbeConfig) error {
	probes := make(map[string]probe.Prober, len(configs))
	for _, pc := range configs {
		p, err := probe.New(probe.Kind(pc.Type), pc.Node, pc.Target, pc.Timeout)
		if err != nil {
			return fmt.Errorf("probe for node %q: %w", pc.Node, err)
		}
		probes[pc.Node] = p
	}
	s.detector.SetProbes(probes)
	return nil
}

// Reload applies the dynamic subset of a changed config file: probes and
// webhook targets. Everything else needs a restart.
func (s *Supervisor) Reload(cfg *config.Config) {
	if err := s.attachProbes(cfg.Probes); err != nil {
		s.logger.Warn("probe reload failed, keeping previous probes", zap.Error(err))
	}

	s.mu.Lock()
	old := s.webhookIDs
	s.mu.Unlock()
	for _, id := range old {
		_ = s.webhooks.Unregister(id)
	}
	if err := s.registerWebhooks(cfg.Notify.Webhooks); err != nil {
		s.logger.Warn("webhook reload failed", zap.Error(err))
	}

	s.logger.Info("dynamic config applied",
		zap.Int("probes", len(cfg.Probes)),
		zap.Int("webhooks", len(cfg.Notify.Webhooks)))
}

// Run brings the node up and blocks until ctx is cancelled or the API
// listener fails. All components are torn down before it returns.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()

	if err := s.db.Ping(initCtx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	if err := s.db.CreateTables(initCtx); err != nil {
		return err
	}
	if err := s.register(initCtx); err != nil {
		return err
	}

	if s.dns != nil {
		if err := s.dns.Start(); err != nil {
			return fmt.Errorf("dns responder: %w", err)
		}
	}

	var wg sync.WaitGroup
	spawn := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	spawn(s.heartbeatLoop)
	spawn(s.detector.Run)
	spawn(s.housekeepLoop)
	if s.manager != nil {
		spawn(s.manager.Run)
	}
	if s.repl != nil {
		spawn(s.repl.Run)
	}
	if s.dns != nil {
		spawn(func(ctx context.Context) { s.dns.Run(ctx, 30*time.Second) })
	}

	apiErr := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiErr <- err
		}
	}()

	s.logger.Info("arbiter running",
		zap.String("cluster", s.cfg.Cluster.Name),
		zap.String("node", s.nodeName),
		zap.String("node_id", s.nodeID),
		zap.String("role", string(s.role)),
		zap.String("api", s.cfg.API.Listen))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-apiErr:
		runErr = fmt.Errorf("api server: %w", err)
	}

	// Stop the loops first; the lease manager releases a held lease on
	// its way out so a standby takes over without waiting out the TTL.
	cancel()
	wg.Wait()
	s.shutdown()
	return runErr
}

func (s *Supervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("api shutdown failed", zap.Error(err))
	}
	if s.dns != nil {
		s.dns.Stop()
	}

	// Record the clean exit so peers never sweep this node as failed.
	if err := s.registry.Heartbeat(ctx, s.nodeID, cluster.StatusStopped); err != nil {
		s.logger.Warn("final heartbeat failed", zap.Error(err))
	}

	if s.journal != nil {
		_ = s.journal.Close()
	}
	if s.kafka != nil {
		_ = s.kafka.Close()
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("database close failed", zap.Error(err))
	}
	s.logger.Info("arbiter stopped")
}

func (s *Supervisor) register(ctx context.Context) error {
	node := &cluster.NodeInfo{
		ID:      s.nodeID,
		Name:    s.nodeName,
		Role:    s.role,
		Address: s.cfg.Cluster.Address,
		Status:  s.currentStatus(),
		Version: api.Version,
	}
	if err := s.registry.Register(ctx, node); err != nil {
		return err
	}

	s.bus.Publish(ctx, events.Event{
		Cluster: s.cfg.Cluster.Name,
		Type:    events.NodeRegistered,
		NodeID:  s.nodeID,
		Message: fmt.Sprintf("node %s registered as %s", s.nodeName, s.role),
	})
	return nil
}

// heartbeatLoop keeps this node's last_seen fresh. It shares the lease
// renew cadence so one tuning knob covers both.
func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Lease.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat(ctx)
		}
	}
}

func (s *Supervisor) heartbeat(ctx context.Context) {
	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.registry.Heartbeat(hctx, s.nodeID, s.currentStatus())
	if errors.Is(err, registry.ErrNodeNotFound) {
		// An operator removed the row while we were running.
		s.logger.Warn("registration lost, re-registering")
		if err := s.register(hctx); err != nil {
			s.logger.Warn("re-register failed", zap.Error(err))
		}
		return
	}
	if err != nil {
		s.logger.Warn("heartbeat failed", zap.Error(err))
	}
}

// housekeepLoop prunes event history. Only the active node does it, so
// the cluster prunes once, not once per node.
func (s *Supervisor) housekeepLoop(ctx context.Context) {
	if s.history == nil {
		return
	}
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.IsActive() {
				continue
			}
			pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := s.history.Prune(pctx, 10000); err != nil {
				s.logger.Warn("history prune failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func (s *Supervisor) currentStatus() cluster.NodeStatus {
	if s.manager != nil && s.manager.IsActive() {
		return cluster.StatusActive
	}
	return cluster.StatusStandby
}

// acquireGuard vetoes lease attempts while the database connection
// points at a streaming standby. Writes would fail anyway; the veto
// keeps the logs quiet and the intent explicit.
func (s *Supervisor) acquireGuard(ctx context.Context) (bool, error) {
	recovery, err := s.db.InRecovery(ctx)
	if err != nil {
		return false, err
	}
	return !recovery, nil
}

// onPromote runs on the lease manager's goroutine after this node wins
// a term.
func (s *Supervisor) onPromote(epoch int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("promoted to active", zap.Int64("epoch", epoch))
	s.bus.Publish(ctx, events.Event{
		Cluster: s.cfg.Cluster.Name,
		Type:    events.FailoverStarted,
		NodeID:  s.nodeID,
		Message: fmt.Sprintf("node %s taking over as active", s.nodeName),
		Details: map[string]any{"epoch": epoch},
	})
	s.bus.Publish(ctx, events.Event{
		Cluster: s.cfg.Cluster.Name,
		Type:    events.LeaseAcquired,
		NodeID:  s.nodeID,
		Message: fmt.Sprintf("lease acquired by %s", s.nodeName),
		Details: map[string]any{"epoch": epoch},
	})

	if err := s.registry.Heartbeat(ctx, s.nodeID, cluster.StatusActive); err != nil {
		s.logger.Warn("status update after promote failed", zap.Error(err))
	}
	s.detector.SetActive(true)
	s.refreshDNS(ctx)

	s.bus.Publish(ctx, events.Event{
		Cluster: s.cfg.Cluster.Name,
		Type:    events.FailoverCompleted,
		NodeID:  s.nodeID,
		Message: fmt.Sprintf("node %s is now active", s.nodeName),
		Details: map[string]any{"epoch": epoch},
	})
}

// onDemote runs on the lease manager's goroutine when a held lease is
// lost, released, or stepped down.
func (s *Supervisor) onDemote(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.detector.SetActive(false)

	typ := events.LeaseReleased
	if reason == "lease lost" || strings.HasPrefix(reason, "renew failed") {
		typ = events.LeaseRenewFailed
	}
	s.bus.Publish(ctx, events.Event{
		Cluster: s.cfg.Cluster.Name,
		Type:    typ,
		NodeID:  s.nodeID,
		Message: fmt.Sprintf("node %s no longer active: %s", s.nodeName, reason),
		Details: map[string]any{"reason": reason},
	})

	if err := s.registry.Heartbeat(ctx, s.nodeID, cluster.StatusStandby); err != nil {
		s.logger.Warn("status update after demote failed", zap.Error(err))
	}
	s.refreshDNS(ctx)
}

func (s *Supervisor) refreshDNS(ctx context.Context) {
	if s.dns == nil {
		return
	}
	if err := s.dns.Refresh(ctx); err != nil {
		s.logger.Warn("dns refresh failed", zap.Error(err))
	}
}
