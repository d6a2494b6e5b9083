package lease

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/FairForge/arbiter/internal/cluster"
)

// PostgresStore keeps the lease in a single cluster_leases row. All
// conditions are evaluated against the database clock inside single
// statements, so node clock skew cannot produce two live holders.
type PostgresStore struct {
	db          *sql.DB
	clusterName string
}

// NewPostgresStore returns a store scoped to one cluster name.
func NewPostgresStore(db *sql.DB, clusterName string) *PostgresStore {
	return &PostgresStore{db: db, clusterName: clusterName}
}

// Acquire takes the lease if it is absent, expired, or already ours.
// The epoch bumps only when a term actually ends: taking over an
// expired lease increments it, re-upping our own live lease does not.
func (s *PostgresStore) Acquire(ctx context.Context, holderID string, ttl time.Duration) (*cluster.LeaseInfo, bool, error) {
	const q = `
		INSERT INTO cluster_leases (cluster, holder_id, epoch, acquired_at, renewed_at, expires_at)
		VALUES ($1, $2, 1, now(), now(), now() + $3 * interval '1 millisecond')
		ON CONFLICT (cluster) DO UPDATE SET
			holder_id   = EXCLUDED.holder_id,
			epoch       = CASE WHEN cluster_leases.expires_at <= now()
			                   THEN cluster_leases.epoch + 1
			                   ELSE cluster_leases.epoch END,
			acquired_at = CASE WHEN cluster_leases.expires_at <= now()
			                   THEN now()
			                   ELSE cluster_leases.acquired_at END,
			renewed_at  = now(),
			expires_at  = EXCLUDED.expires_at
		WHERE cluster_leases.expires_at <= now()
		   OR cluster_leases.holder_id = EXCLUDED.holder_id
		RETURNING epoch, acquired_at, renewed_at, expires_at, now()`

	var (
		info  = cluster.LeaseInfo{Cluster: s.clusterName, HolderID: holderID}
		dbNow time.Time
	)
	err := s.db.QueryRowContext(ctx, q, s.clusterName, holderID, ttl.Milliseconds()).
		Scan(&info.Epoch, &info.AcquiredAt, &info.RenewedAt, &info.ExpiresAt, &dbNow)
	if err == sql.ErrNoRows {
		// Conflict row is live under another holder.
		current, gerr := s.Get(ctx)
		if gerr != nil {
			return nil, false, gerr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}

	info.TTL = info.ExpiresAt.Sub(dbNow)
	return &info, true, nil
}

// Renew extends our live lease. The epoch match means a renewal can
// never resurrect a term that another node has since taken over.
func (s *PostgresStore) Renew(ctx context.Context, holderID string, epoch int64, ttl time.Duration) (*cluster.LeaseInfo, error) {
	const q = `
		UPDATE cluster_leases
		SET renewed_at = now(),
		    expires_at = now() + $4 * interval '1 millisecond'
		WHERE cluster = $1 AND holder_id = $2 AND epoch = $3 AND expires_at > now()
		RETURNING acquired_at, renewed_at, expires_at, now()`

	var (
		info  = cluster.LeaseInfo{Cluster: s.clusterName, HolderID: holderID, Epoch: epoch}
		dbNow time.Time
	)
	err := s.db.QueryRowContext(ctx, q, s.clusterName, holderID, epoch, ttl.Milliseconds()).
		Scan(&info.AcquiredAt, &info.RenewedAt, &info.ExpiresAt, &dbNow)
	if err == sql.ErrNoRows {
		return nil, ErrLeaseLost
	}
	if err != nil {
		return nil, fmt.Errorf("renew lease: %w", err)
	}

	info.TTL = info.ExpiresAt.Sub(dbNow)
	return &info, nil
}

// Release expires our lease now. Standbys see it expired on their next
// acquire attempt instead of waiting out the TTL.
func (s *PostgresStore) Release(ctx context.Context, holderID string, epoch int64) error {
	const q = `
		UPDATE cluster_leases
		SET expires_at = now()
		WHERE cluster = $1 AND holder_id = $2 AND epoch = $3 AND expires_at > now()`

	res, err := s.db.ExecContext(ctx, q, s.clusterName, holderID, epoch)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	if n == 0 {
		return ErrNotHolder
	}
	return nil
}

// Get reads the current lease row, nil when the cluster never elected.
func (s *PostgresStore) Get(ctx context.Context) (*cluster.LeaseInfo, error) {
	const q = `
		SELECT holder_id, epoch, acquired_at, renewed_at, expires_at, now()
		FROM cluster_leases
		WHERE cluster = $1`

	var (
		info  = cluster.LeaseInfo{Cluster: s.clusterName}
		dbNow time.Time
	)
	err := s.db.QueryRowContext(ctx, q, s.clusterName).
		Scan(&info.HolderID, &info.Epoch, &info.AcquiredAt, &info.RenewedAt, &info.ExpiresAt, &dbNow)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}

	info.TTL = info.ExpiresAt.Sub(dbNow)
	return &info, nil
}
