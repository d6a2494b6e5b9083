// internal/api/context_keys.go
package api

import "context"

// Context key types to avoid collisions
type contextKey string

const operatorKey contextKey = "operator"

// OperatorFromContext returns the authenticated operator name, empty for
// unauthenticated requests.
func OperatorFromContext(ctx context.Context) string {
	name, _ := ctx.Value(operatorKey).(string)
	return name
}
