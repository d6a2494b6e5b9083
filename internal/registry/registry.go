// internal/registry/registry.go
// Registry tracks candidate and proxy identities plus their last-seen
// heartbeat in the shared cluster_nodes table.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/cluster"
)

// ErrNodeNotFound is returned when the addressed node row is absent,
// usually because an operator removed it while the node was running.
var ErrNodeNotFound = errors.New("node not found")

// Registry is the node table scoped to one cluster.
type Registry struct {
	db          *sql.DB
	clusterName string
	logger      *zap.Logger
}

// New returns a registry backed by db for the named cluster.
func New(db *sql.DB, clusterName string, logger *zap.Logger) *Registry {
	return &Registry{db: db, clusterName: clusterName, logger: logger}
}

// Register upserts a node identity keyed by name. A node reinstalled
// under the same name keeps its row (and registered_at); address, role,
// version, and id follow the new registration.
func (r *Registry) Register(ctx context.Context, node *cluster.NodeInfo) error {
	const q = `
		INSERT INTO cluster_nodes (id, cluster, name, role, address, status, version, registered_at, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (cluster, name) DO UPDATE SET
			id        = EXCLUDED.id,
			role      = EXCLUDED.role,
			address   = EXCLUDED.address,
			status    = EXCLUDED.status,
			version   = EXCLUDED.version,
			last_seen = now()`

	_, err := r.db.ExecContext(ctx, q,
		node.ID, r.clusterName, node.Name, node.Role, node.Address, node.Status, node.Version)
	if err != nil {
		return fmt.Errorf("register node %s: %w", node.Name, err)
	}

	r.logger.Info("node registered",
		zap.String("node", node.Name),
		zap.String("id", node.ID),
		zap.String("role", string(node.Role)))
	return nil
}

// Heartbeat bumps last_seen and records the node's current status.
// last_seen is written from the database clock, so it never moves
// backwards even across nodes with skewed clocks.
func (r *Registry) Heartbeat(ctx context.Context, nodeID string, status cluster.NodeStatus) error {
	const q = `
		UPDATE cluster_nodes
		SET last_seen = now(), status = $3
		WHERE cluster = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, q, r.clusterName, nodeID, status)
	if err != nil {
		return fmt.Errorf("heartbeat node %s: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("heartbeat node %s: %w", nodeID, err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// List returns every node in the cluster, servers before proxies.
func (r *Registry) List(ctx context.Context) ([]cluster.NodeInfo, error) {
	const q = `
		SELECT id, name, role, address, status, version, maintenance, registered_at, last_seen
		FROM cluster_nodes
		WHERE cluster = $1
		ORDER BY role, name`

	rows, err := r.db.QueryContext(ctx, q, r.clusterName)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []cluster.NodeInfo
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	return nodes, nil
}

// Get returns one node by id.
func (r *Registry) Get(ctx context.Context, nodeID string) (*cluster.NodeInfo, error) {
	const q = `
		SELECT id, name, role, address, status, version, maintenance, registered_at, last_seen
		FROM cluster_nodes
		WHERE cluster = $1 AND id = $2`

	row := r.db.QueryRowContext(ctx, q, r.clusterName, nodeID)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// SetStatus overwrites a node's status without touching last_seen. The
// failover detector uses this to mark silent nodes unavailable.
func (r *Registry) SetStatus(ctx context.Context, nodeID string, status cluster.NodeStatus) error {
	const q = `UPDATE cluster_nodes SET status = $3 WHERE cluster = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, q, r.clusterName, nodeID, status)
	if err != nil {
		return fmt.Errorf("set status for node %s: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status for node %s: %w", nodeID, err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// SetMaintenance flags a node in or out of maintenance. Maintenance
// nodes stay registered but are ignored by the failover detector.
func (r *Registry) SetMaintenance(ctx context.Context, nodeID string, on bool) error {
	const q = `UPDATE cluster_nodes SET maintenance = $3 WHERE cluster = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, q, r.clusterName, nodeID, on)
	if err != nil {
		return fmt.Errorf("set maintenance for node %s: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set maintenance for node %s: %w", nodeID, err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// Remove deletes a node row. Administrative; a running node will fail
// its next heartbeat with ErrNodeNotFound and re-register.
func (r *Registry) Remove(ctx context.Context, nodeID string) error {
	const q = `DELETE FROM cluster_nodes WHERE cluster = $1 AND id = $2`

	res, err := r.db.ExecContext(ctx, q, r.clusterName, nodeID)
	if err != nil {
		return fmt.Errorf("remove node %s: %w", nodeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove node %s: %w", nodeID, err)
	}
	if n == 0 {
		return ErrNodeNotFound
	}
	return nil
}

// StaleNodes returns nodes whose heartbeat is older than olderThan,
// judged entirely on the database clock. Cleanly stopped nodes are
// excluded; an unavailable node stays in the result until it heartbeats
// again.
func (r *Registry) StaleNodes(ctx context.Context, olderThan time.Duration) ([]cluster.NodeInfo, error) {
	const q = `
		SELECT id, name, role, address, status, version, maintenance, registered_at, last_seen
		FROM cluster_nodes
		WHERE cluster = $1
		  AND last_seen < now() - $2 * interval '1 millisecond'
		  AND status <> 'stopped'
		ORDER BY last_seen`

	rows, err := r.db.QueryContext(ctx, q, r.clusterName, olderThan.Milliseconds())
	if err != nil {
		return nil, fmt.Errorf("stale nodes: %w", err)
	}
	defer rows.Close()

	var nodes []cluster.NodeInfo
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stale nodes: %w", err)
	}
	return nodes, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*cluster.NodeInfo, error) {
	var node cluster.NodeInfo
	err := row.Scan(
		&node.ID,
		&node.Name,
		&node.Role,
		&node.Address,
		&node.Status,
		&node.Version,
		&node.Maintenance,
		&node.RegisteredAt,
		&node.LastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan node: %w", err)
	}
	return &node, nil
}
