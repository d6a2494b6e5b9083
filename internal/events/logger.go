package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink mirrors every event into the structured log so a single node's
// log tells the whole arbitration story even when no other sink is up.
func LogSink(logger *zap.Logger) Handler {
	return func(_ context.Context, event Event) error {
		logger.Info("cluster event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.String("node_id", event.NodeID),
			zap.String("message", event.Message),
		)
		return nil
	}
}
