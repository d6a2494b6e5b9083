package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// HistoryStore persists events to the cluster_events table so the
// arbitration record survives node restarts and is queryable from any
// node.
type HistoryStore struct {
	db          *sql.DB
	clusterName string
	logger      *zap.Logger
}

// NewHistoryStore creates a history store scoped to one cluster.
func NewHistoryStore(db *sql.DB, clusterName string, logger *zap.Logger) *HistoryStore {
	return &HistoryStore{db: db, clusterName: clusterName, logger: logger}
}

// Record inserts one event.
func (h *HistoryStore) Record(ctx context.Context, event Event) error {
	var details []byte
	if len(event.Details) > 0 {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
	}

	const q = `
		INSERT INTO cluster_events (id, cluster, type, node_id, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := h.db.ExecContext(ctx, q,
		event.ID, h.clusterName, event.Type, event.NodeID, event.Message, details, event.Timestamp)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Query returns up to limit events, newest first, optionally filtered
// by type pattern (same patterns Subscribe accepts).
func (h *HistoryStore) Query(ctx context.Context, limit int, typePattern string) ([]Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	// Wildcard patterns become a LIKE prefix; exact types match as-is.
	typeFilter := typePattern
	if prefix, ok := strings.CutSuffix(typePattern, "*"); ok {
		typeFilter = prefix + "%"
	}

	const q = `
		SELECT id, type, node_id, message, details, created_at
		FROM cluster_events
		WHERE cluster = $1
		  AND ($3 = '' OR type LIKE $3)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := h.db.QueryContext(ctx, q, h.clusterName, limit, typeFilter)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			event   Event
			details []byte
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.NodeID, &event.Message, &details, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				h.logger.Warn("bad event details in history",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
		event.Cluster = h.clusterName
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// Prune removes events older than the newest keep rows. Called from the
// active node's sweep so history growth is bounded.
func (h *HistoryStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		keep = 10000
	}

	const q = `
		DELETE FROM cluster_events
		WHERE cluster = $1
		  AND id NOT IN (
			SELECT id FROM cluster_events
			WHERE cluster = $1
			ORDER BY created_at DESC
			LIMIT $2
		  )`

	if _, err := h.db.ExecContext(ctx, q, h.clusterName, keep); err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	return nil
}

// Handler adapts the store to a bus subscriber.
func (h *HistoryStore) Handler() Handler {
	return func(ctx context.Context, event Event) error {
		if err := h.Record(ctx, event); err != nil {
			h.logger.Warn("event history write failed", zap.Error(err))
			return err
		}
		return nil
	}
}
