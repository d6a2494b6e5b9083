package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/arbiter/internal/database"
)

func openTestHistory(t *testing.T) *HistoryStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database tests in short mode")
	}

	db, err := database.NewPostgres(database.GetTestConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.CreateTables(ctx))

	clusterName := fmt.Sprintf("events-test-%d", time.Now().UnixNano())
	store := NewHistoryStore(db.DB(), clusterName, zap.NewNop())
	t.Cleanup(func() {
		_, _ = db.DB().Exec(`DELETE FROM cluster_events WHERE cluster = $1`, clusterName)
	})
	return store
}

func testEvent(typ EventType, at time.Time) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		NodeID:    "node-1",
		Message:   "test",
		Details:   map[string]any{"epoch": float64(3)},
		Timestamp: at,
	}
}

func TestHistoryStore_RecordAndQuery(t *testing.T) {
	store := openTestHistory(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Record(ctx, testEvent(LeaseAcquired, now.Add(-2*time.Minute))))
	require.NoError(t, store.Record(ctx, testEvent(NodeDown, now.Add(-time.Minute))))
	require.NoError(t, store.Record(ctx, testEvent(FailoverCompleted, now)))

	all, err := store.Query(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, FailoverCompleted, all[0].Type, "newest first")
	assert.Equal(t, LeaseAcquired, all[2].Type)
	assert.Equal(t, map[string]any{"epoch": float64(3)}, all[0].Details)

	leases, err := store.Query(ctx, 10, "lease.*")
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, LeaseAcquired, leases[0].Type)

	exact, err := store.Query(ctx, 10, string(NodeDown))
	require.NoError(t, err)
	require.Len(t, exact, 1)
}

func TestHistoryStore_Prune(t *testing.T) {
	store := openTestHistory(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, testEvent(NodeRegistered, now.Add(time.Duration(i)*time.Second))))
	}

	require.NoError(t, store.Prune(ctx, 2))

	left, err := store.Query(ctx, 10, "")
	require.NoError(t, err)
	assert.Len(t, left, 2, "prune keeps only the newest rows")
}

func TestHistoryStore_HandlerRecords(t *testing.T) {
	store := openTestHistory(t)
	handler := store.Handler()

	require.NoError(t, handler(context.Background(), testEvent(DNSUpdated, time.Now().UTC())))

	got, err := store.Query(context.Background(), 10, string(DNSUpdated))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
