// internal/lease/lease.go
// Time-bounded exclusive lease over a strongly consistent store. The
// holder of a live lease is the cluster's active node; everyone else
// is standby. Expiry is always judged by the store's clock.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/FairForge/arbiter/internal/cluster"
)

var (
	// ErrLeaseLost is returned by Renew when the lease is no longer
	// held under the caller's holder id and epoch.
	ErrLeaseLost = errors.New("lease lost")
	// ErrNotHolder is returned by Release when there was nothing live
	// to release under the caller's holder id and epoch.
	ErrNotHolder = errors.New("not the lease holder")
)

// Store is the consistency backend for the lease. Implementations must
// make Acquire atomic: two candidates racing for an expired lease see
// exactly one winner, and the epoch increases on every ownership change.
type Store interface {
	// Acquire attempts to take the lease for holderID. It succeeds when
	// the lease is absent, expired, or already held by holderID. The
	// returned bool reports whether holderID now holds the lease.
	Acquire(ctx context.Context, holderID string, ttl time.Duration) (*cluster.LeaseInfo, bool, error)

	// Renew extends a held lease. Returns ErrLeaseLost when the lease
	// is not currently held under (holderID, epoch).
	Renew(ctx context.Context, holderID string, epoch int64, ttl time.Duration) (*cluster.LeaseInfo, error)

	// Release expires the lease immediately so a standby can take it
	// without waiting out the TTL. Returns ErrNotHolder when the lease
	// was not live under (holderID, epoch).
	Release(ctx context.Context, holderID string, epoch int64) error

	// Get reads the current lease, or nil when none was ever taken.
	Get(ctx context.Context) (*cluster.LeaseInfo, error)
}

// Config tunes the manager's election loop.
type Config struct {
	// TTL is how long a granted lease lives without renewal.
	TTL time.Duration
	// RenewInterval is the renewal period while holding.
	RenewInterval time.Duration
	// AcquireInterval is the retry period while standing by.
	AcquireInterval time.Duration
}

// Callbacks surface role transitions to the rest of the daemon. Both
// run on the manager's loop goroutine and must return promptly.
type Callbacks struct {
	// OnPromote fires after this node acquires the lease. The epoch is
	// the fencing token for the new term.
	OnPromote func(epoch int64)
	// OnDemote fires when a held lease is lost, released, or could not
	// be renewed.
	OnDemote func(reason string)
}
