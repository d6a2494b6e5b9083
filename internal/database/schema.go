package database

import (
	"context"
	"fmt"
)

// CreateTables creates the coordinator's tables if they do not exist.
// Ran by every node at startup; the IF NOT EXISTS guards make it safe
// to race with peers bootstrapping against the same database.
func (p *Postgres) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cluster_nodes (
			id VARCHAR(64) PRIMARY KEY,
			cluster VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			role VARCHAR(16) NOT NULL,
			address VARCHAR(255) NOT NULL DEFAULT '',
			status VARCHAR(16) NOT NULL,
			version VARCHAR(64) NOT NULL DEFAULT '',
			maintenance BOOLEAN NOT NULL DEFAULT FALSE,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(cluster, name)
		)`,
		`CREATE TABLE IF NOT EXISTS cluster_leases (
			cluster VARCHAR(255) PRIMARY KEY,
			holder_id VARCHAR(64) NOT NULL,
			epoch BIGINT NOT NULL,
			acquired_at TIMESTAMPTZ NOT NULL,
			renewed_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cluster_events (
			id VARCHAR(64) PRIMARY KEY,
			cluster VARCHAR(255) NOT NULL,
			type VARCHAR(64) NOT NULL,
			node_id VARCHAR(64) NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_events_created
			ON cluster_events(cluster, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_cluster_nodes_last_seen
			ON cluster_nodes(cluster, last_seen)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}
