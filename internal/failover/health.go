package failover

import (
	"encoding/json"
	"sync"
	"time"
)

// HealthState represents the detector's view of one node
type HealthState int

const (
	StateHealthy HealthState = iota
	StateDegraded
	StateFailed
	StateRecovering
	StateUnknown
)

func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// NodeHealth tracks runtime health of one node
type NodeHealth struct {
	State            HealthState
	ConsecutiveFails int
	ConsecutiveOK    int
	LastCheck        time.Time
	LastError        error
	Latency          time.Duration
}

// MarshalJSON renders the state by name and the error as text, since
// this struct goes out through the status API as-is.
func (h NodeHealth) MarshalJSON() ([]byte, error) {
	out := struct {
		State            string    `json:"state"`
		ConsecutiveFails int       `json:"consecutive_fails"`
		ConsecutiveOK    int       `json:"consecutive_ok"`
		LastCheck        time.Time `json:"last_check"`
		LastError        string    `json:"last_error,omitempty"`
		LatencyMS        float64   `json:"latency_ms"`
	}{
		State:            h.State.String(),
		ConsecutiveFails: h.ConsecutiveFails,
		ConsecutiveOK:    h.ConsecutiveOK,
		LastCheck:        h.LastCheck,
		LatencyMS:        float64(h.Latency.Microseconds()) / 1000,
	}
	if h.LastError != nil {
		out.LastError = h.LastError.Error()
	}
	return json.Marshal(out)
}

// Transition describes one state change for the tracker's callback.
type Transition struct {
	NodeID string
	From   HealthState
	To     HealthState
	Err    error
}

// HealthTracker turns a stream of per-node check results into debounced
// state transitions: a node fails only after FailureThreshold misses in
// a row and recovers only after RecoveryThreshold passes in a row.
type HealthTracker struct {
	mu                sync.RWMutex
	nodes             map[string]*NodeHealth
	failureThreshold  int
	recoveryThreshold int
	onTransition      func(Transition)
}

// NewHealthTracker creates a tracker. onTransition runs synchronously
// inside Report and may be nil.
func NewHealthTracker(failureThreshold, recoveryThreshold int, onTransition func(Transition)) *HealthTracker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryThreshold <= 0 {
		recoveryThreshold = 2
	}
	return &HealthTracker{
		nodes:             make(map[string]*NodeHealth),
		failureThreshold:  failureThreshold,
		recoveryThreshold: recoveryThreshold,
		onTransition:      onTransition,
	}
}

// Track registers a node, starting healthy.
func (t *HealthTracker) Track(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.nodes[nodeID]; exists {
		return
	}
	t.nodes[nodeID] = &NodeHealth{
		State:     StateHealthy,
		LastCheck: time.Now(),
	}
}

// Forget drops a node from tracking.
func (t *HealthTracker) Forget(nodeID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, nodeID)
}

// Report feeds one check result into the state machine.
func (t *HealthTracker) Report(nodeID string, healthy bool, latency time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status, exists := t.nodes[nodeID]
	if !exists {
		status = &NodeHealth{State: StateHealthy}
		t.nodes[nodeID] = status
	}

	status.LastCheck = time.Now()
	status.Latency = latency
	status.LastError = err

	previousState := status.State

	if healthy {
		status.ConsecutiveFails = 0
		status.ConsecutiveOK++

		switch status.State {
		case StateFailed, StateDegraded:
			status.State = StateRecovering
			t.emit(nodeID, previousState, StateRecovering, nil)
			if status.ConsecutiveOK >= t.recoveryThreshold {
				status.State = StateHealthy
				t.emit(nodeID, StateRecovering, StateHealthy, nil)
			}
		case StateRecovering:
			if status.ConsecutiveOK >= t.recoveryThreshold {
				status.State = StateHealthy
				t.emit(nodeID, previousState, StateHealthy, nil)
			}
		}
		return
	}

	status.ConsecutiveOK = 0
	status.ConsecutiveFails++

	if status.ConsecutiveFails >= t.failureThreshold {
		status.State = StateFailed
	} else if status.ConsecutiveFails >= t.failureThreshold-1 && status.State == StateHealthy {
		status.State = StateDegraded
		t.emit(nodeID, previousState, StateDegraded, err)
	}

	if previousState != StateFailed && status.State == StateFailed {
		t.emit(nodeID, previousState, StateFailed, err)
	}
}

func (t *HealthTracker) emit(nodeID string, from, to HealthState, err error) {
	if t.onTransition == nil {
		return
	}
	t.onTransition(Transition{NodeID: nodeID, From: from, To: to, Err: err})
}

// Health returns a copy of one node's health, StateUnknown if untracked.
func (t *HealthTracker) Health(nodeID string) NodeHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if status, exists := t.nodes[nodeID]; exists {
		return *status
	}
	return NodeHealth{State: StateUnknown}
}

// Snapshot returns a copy of every tracked node's health.
func (t *HealthTracker) Snapshot() map[string]NodeHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]NodeHealth, len(t.nodes))
	for id, status := range t.nodes {
		out[id] = *status
	}
	return out
}
