package lease

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Guard is consulted before every acquire attempt. Returning false
// vetoes the attempt; the daemon uses this to keep a node whose
// database connection landed on a read-only standby out of elections.
type Guard func(ctx context.Context) (bool, error)

// Manager runs one node's side of the election: renew while holding,
// try to acquire while standing by.
type Manager struct {
	store    Store
	holderID string
	cfg      Config
	cb       Callbacks
	guard    Guard
	logger   *zap.Logger

	mu            sync.Mutex
	holding       bool
	epoch         int64
	suppressUntil time.Time
}

// NewManager wires a manager. guard may be nil.
func NewManager(store Store, holderID string, cfg Config, cb Callbacks, guard Guard, logger *zap.Logger) *Manager {
	return &Manager{
		store:    store,
		holderID: holderID,
		cfg:      cfg,
		cb:       cb,
		guard:    guard,
		logger:   logger,
	}
}

// IsActive reports whether this node currently holds the lease.
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding
}

// Epoch returns the fencing token of the current term, 0 when standby.
func (m *Manager) Epoch() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.holding {
		return 0
	}
	return m.epoch
}

// Run drives the election loop until ctx is done. On exit a held lease
// is released so a standby can take over without waiting out the TTL.
func (m *Manager) Run(ctx context.Context) {
	// First attempt happens immediately; a restarted node that still
	// owns a live lease row re-ups it rather than waiting for expiry.
	m.tick(ctx)

	for {
		timer := time.NewTimer(m.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			m.shutdownRelease()
			return
		case <-timer.C:
			m.tick(ctx)
		}
	}
}

func (m *Manager) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holding {
		return m.cfg.RenewInterval
	}
	return m.cfg.AcquireInterval
}

func (m *Manager) tick(ctx context.Context) {
	m.mu.Lock()
	holding := m.holding
	epoch := m.epoch
	suppressed := time.Now().Before(m.suppressUntil)
	m.mu.Unlock()

	if holding {
		m.renew(ctx, epoch)
		return
	}
	if suppressed {
		return
	}
	m.acquire(ctx)
}

func (m *Manager) renew(ctx context.Context, epoch int64) {
	info, err := m.store.Renew(ctx, m.holderID, epoch, m.cfg.TTL)
	if err == nil {
		m.logger.Debug("lease renewed",
			zap.Int64("epoch", info.Epoch),
			zap.Time("expires_at", info.ExpiresAt))
		return
	}

	// Any renewal failure demotes immediately. Whether the lease was
	// taken over or the store is unreachable, this node can no longer
	// prove it is the active one.
	reason := "renew failed: " + err.Error()
	if errors.Is(err, ErrLeaseLost) {
		reason = "lease lost"
	}
	m.demote(reason)
}

func (m *Manager) acquire(ctx context.Context) {
	if m.guard != nil {
		ok, err := m.guard(ctx)
		if err != nil {
			m.logger.Warn("acquire guard failed", zap.Error(err))
			return
		}
		if !ok {
			m.logger.Debug("acquire vetoed by guard")
			return
		}
	}

	info, acquired, err := m.store.Acquire(ctx, m.holderID, m.cfg.TTL)
	if err != nil {
		m.logger.Warn("lease acquire failed", zap.Error(err))
		return
	}
	if !acquired {
		if info != nil {
			m.logger.Debug("lease held elsewhere",
				zap.String("holder", info.HolderID),
				zap.Int64("epoch", info.Epoch))
		}
		return
	}

	m.mu.Lock()
	m.holding = true
	m.epoch = info.Epoch
	m.mu.Unlock()

	m.logger.Info("lease acquired",
		zap.String("holder", m.holderID),
		zap.Int64("epoch", info.Epoch),
		zap.Time("expires_at", info.ExpiresAt))
	if m.cb.OnPromote != nil {
		m.cb.OnPromote(info.Epoch)
	}
}

func (m *Manager) demote(reason string) {
	m.mu.Lock()
	wasHolding := m.holding
	m.holding = false
	m.epoch = 0
	m.mu.Unlock()

	if !wasHolding {
		return
	}
	m.logger.Warn("demoted", zap.String("reason", reason))
	if m.cb.OnDemote != nil {
		m.cb.OnDemote(reason)
	}
}

// StepDown releases a held lease and stays out of elections for the
// cooldown, so another standby wins the next term. Used for operator
// initiated switchover.
func (m *Manager) StepDown(ctx context.Context, cooldown time.Duration) error {
	m.mu.Lock()
	if !m.holding {
		m.mu.Unlock()
		return ErrNotHolder
	}
	epoch := m.epoch
	m.suppressUntil = time.Now().Add(cooldown)
	m.mu.Unlock()

	err := m.store.Release(ctx, m.holderID, epoch)
	if err != nil && !errors.Is(err, ErrNotHolder) {
		return err
	}
	m.demote("stepped down")
	return nil
}

// shutdownRelease is the graceful-exit path: give the lease up now so
// the standby takes over in one acquire interval instead of a TTL.
func (m *Manager) shutdownRelease() {
	m.mu.Lock()
	holding := m.holding
	epoch := m.epoch
	m.mu.Unlock()
	if !holding {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Release(ctx, m.holderID, epoch); err != nil && !errors.Is(err, ErrNotHolder) {
		m.logger.Warn("release on shutdown failed", zap.Error(err))
	}
	m.demote("shutting down")
}
