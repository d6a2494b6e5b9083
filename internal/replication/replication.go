// internal/replication/replication.go
// Streaming-replication visibility. The arbiter does not manage
// replication; it watches lag and slot health so operators learn about a
// stale standby before a failover promotes it.
package replication

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/events"
)

// StandbyStatus is one row of pg_stat_replication as seen from the
// primary.
type StandbyStatus struct {
	Name      string `json:"name"`
	Client    string `json:"client,omitempty"`
	State     string `json:"state"`
	SyncState string `json:"sync_state"`
	LagBytes  int64  `json:"lag_bytes"`
}

// SlotStatus is one replication slot. An inactive slot pins WAL on the
// primary until it fills the disk.
type SlotStatus struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Status is the replication picture from this node's point of view.
type Status struct {
	InRecovery bool            `json:"in_recovery"`
	Standbys   []StandbyStatus `json:"standbys,omitempty"`
	Slots      []SlotStatus    `json:"slots,omitempty"`
	// ReplayLagSeconds is how far behind this standby is applying WAL.
	// Only meaningful when InRecovery is true.
	ReplayLagSeconds float64   `json:"replay_lag_seconds,omitempty"`
	CollectedAt      time.Time `json:"collected_at"`
}

// Config controls the watch loop.
type Config struct {
	Interval    time.Duration
	MaxLagBytes int64
}

// Watcher polls replication state and raises events when a standby's lag
// crosses MaxLagBytes.
type Watcher struct {
	cluster string
	cfg     Config
	db      *sql.DB
	bus     events.Bus
	logger  *zap.Logger

	mu      sync.RWMutex
	status  Status
	lagging map[string]bool
}

func NewWatcher(clusterName string, cfg Config, db *sql.DB, bus events.Bus, logger *zap.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Watcher{
		cluster: clusterName,
		cfg:     cfg,
		db:      db,
		bus:     bus,
		logger:  logger,
		lagging: make(map[string]bool),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Collect(ctx); err != nil {
				w.logger.Warn("replication status collection failed", zap.Error(err))
			}
		}
	}
}

// Status returns the last collected snapshot.
func (w *Watcher) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

// Collect refreshes the snapshot once and evaluates lag thresholds.
func (w *Watcher) Collect(ctx context.Context) error {
	var status Status

	if err := w.db.QueryRowContext(ctx, `SELECT pg_is_in_recovery()`).Scan(&status.InRecovery); err != nil {
		return fmt.Errorf("check recovery state: %w", err)
	}

	if status.InRecovery {
		if err := w.collectStandbyView(ctx, &status); err != nil {
			return err
		}
	} else {
		if err := w.collectPrimaryView(ctx, &status); err != nil {
			return err
		}
	}
	status.CollectedAt = time.Now().UTC()

	w.mu.Lock()
	w.status = status
	w.mu.Unlock()

	if !status.InRecovery {
		w.evaluateLag(ctx, status.Standbys)
		w.warnInactiveSlots(status.Slots)
	}
	return nil
}

func (w *Watcher) collectPrimaryView(ctx context.Context, status *Status) error {
	const standbyQuery = `
		SELECT application_name,
		       COALESCE(client_addr::text, ''),
		       state,
		       sync_state,
		       COALESCE(pg_wal_lsn_diff(pg_current_wal_lsn(), replay_lsn), 0)::bigint
		FROM pg_stat_replication
		ORDER BY application_name`

	rows, err := w.db.QueryContext(ctx, standbyQuery)
	if err != nil {
		return fmt.Errorf("query pg_stat_replication: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s StandbyStatus
		if err := rows.Scan(&s.Name, &s.Client, &s.State, &s.SyncState, &s.LagBytes); err != nil {
			return fmt.Errorf("scan standby row: %w", err)
		}
		status.Standbys = append(status.Standbys, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query pg_stat_replication: %w", err)
	}

	const slotQuery = `SELECT slot_name, active FROM pg_replication_slots ORDER BY slot_name`
	slotRows, err := w.db.QueryContext(ctx, slotQuery)
	if err != nil {
		return fmt.Errorf("query pg_replication_slots: %w", err)
	}
	defer slotRows.Close()

	for slotRows.Next() {
		var s SlotStatus
		if err := slotRows.Scan(&s.Name, &s.Active); err != nil {
			return fmt.Errorf("scan slot row: %w", err)
		}
		status.Slots = append(status.Slots, s)
	}
	if err := slotRows.Err(); err != nil {
		return fmt.Errorf("query pg_replication_slots: %w", err)
	}
	return nil
}

func (w *Watcher) collectStandbyView(ctx context.Context, status *Status) error {
	// pg_last_xact_replay_timestamp is NULL right after startup before
	// any commit has been replayed.
	const q = `
		SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())), 0)::float8`

	if err := w.db.QueryRowContext(ctx, q).Scan(&status.ReplayLagSeconds); err != nil {
		return fmt.Errorf("query replay lag: %w", err)
	}
	return nil
}

// evaluateLag raises one event per standby when it crosses the threshold
// and logs when it drops back under.
func (w *Watcher) evaluateLag(ctx context.Context, standbys []StandbyStatus) {
	if w.cfg.MaxLagBytes <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(standbys))
	for _, s := range standbys {
		seen[s.Name] = true
		over := s.LagBytes > w.cfg.MaxLagBytes
		switch {
		case over && !w.lagging[s.Name]:
			w.lagging[s.Name] = true
			w.logger.Warn("standby replication lag over threshold",
				zap.String("standby", s.Name),
				zap.Int64("lag_bytes", s.LagBytes),
				zap.Int64("max_lag_bytes", w.cfg.MaxLagBytes))
			w.bus.Publish(ctx, events.Event{
				Cluster: w.cluster,
				Type:    events.ReplicationLagHigh,
				Message: fmt.Sprintf("standby %s is %d bytes behind", s.Name, s.LagBytes),
				Details: map[string]any{
					"standby":       s.Name,
					"lag_bytes":     s.LagBytes,
					"max_lag_bytes": w.cfg.MaxLagBytes,
				},
			})
		case !over && w.lagging[s.Name]:
			delete(w.lagging, s.Name)
			w.logger.Info("standby replication lag back under threshold",
				zap.String("standby", s.Name),
				zap.Int64("lag_bytes", s.LagBytes))
		}
	}

	for name := range w.lagging {
		if !seen[name] {
			delete(w.lagging, name)
		}
	}
}

func (w *Watcher) warnInactiveSlots(slots []SlotStatus) {
	for _, s := range slots {
		if !s.Active {
			w.logger.Warn("replication slot inactive, WAL will accumulate",
				zap.String("slot", s.Name))
		}
	}
}
