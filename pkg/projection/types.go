// Package projection maintains deterministic, non-normative aggregates over
// the observed event sequence. Every summary is a pure function of the
// sequence prefix that produced it.
package projection

import "github.com/Mindburn-Labs/observer/pkg/event"

// TurnSummary aggregates the events observed for a single turn. The first
// decision event fixes DecisionResult and LatencyMS; later decisions only set
// the duplicate marker.
type TurnSummary struct {
	TurnID                    string               `json:"turn_id"`
	ThreadID                  string               `json:"thread_id,omitempty"`
	ParentTurnID              string               `json:"parent_turn_id,omitempty"`
	DecisionResult            event.DecisionResult `json:"decision_result,omitempty"`
	LatencyMS                 *int64               `json:"latency_ms,omitempty"`
	HasExecution              bool                 `json:"has_execution"`
	HasError                  bool                 `json:"has_error"`
	DuplicateDecisionObserved bool                 `json:"duplicate_decision_observed"`
	FirstEventID              int64                `json:"first_event_id"`
	LastEventID               int64                `json:"last_event_id"`
}

// ThreadSummary aggregates the events observed for a thread.
//
// RecentErrorTotal counts error events among the thread's last 20 observed
// events; the signal engine uses it for the error-cluster rule.
type ThreadSummary struct {
	ThreadID         string `json:"thread_id"`
	TurnsTotal       int    `json:"turns_total"`
	DenyTotal        int    `json:"deny_total"`
	AllowTotal       int    `json:"allow_total"`
	ErrorTotal       int    `json:"error_total"`
	RecentErrorTotal int    `json:"recent_error_total"`
	FirstEventID     int64  `json:"first_event_id"`
	LastEventID      int64  `json:"last_event_id"`
	LastObservedAt   int64  `json:"last_observed_at"`
}

// ActorSummary aggregates the events observed for an actor.
type ActorSummary struct {
	Actor          string `json:"actor"`
	EventCount     int    `json:"event_count"`
	DenyCount      int    `json:"deny_count"`
	AllowCount     int    `json:"allow_count"`
	ErrorCount     int    `json:"error_count"`
	LastObservedAt int64  `json:"last_observed_at"`
}

// PolicyWindow is one span of the policy timeline. EndedAtEventID is nil for
// the open window; at most one window is open at any time.
type PolicyWindow struct {
	PolicyVersion    string `json:"policy_version"`
	StartedAtEventID int64  `json:"started_at_event_id"`
	EndedAtEventID   *int64 `json:"ended_at_event_id,omitempty"`
}

// LatencySnapshot carries nearest-rank percentiles over the bounded latency
// reservoir. The percentile fields are nil when no samples were observed.
type LatencySnapshot struct {
	Count int    `json:"count"`
	P50   *int64 `json:"p50"`
	P95   *int64 `json:"p95"`
	P99   *int64 `json:"p99"`
}

// Status is the system-level aggregate consumed by the status endpoint and
// the signal engine.
type Status struct {
	EventCount    int             `json:"event_count"`
	ThreadCount   int             `json:"thread_count"`
	TurnCount     int             `json:"turn_count"`
	DecisionCount int             `json:"decision_count"`
	AllowCount    int             `json:"allow_count"`
	DenyCount     int             `json:"deny_count"`
	ErrorCount    int             `json:"error_count"`
	DenyRate      float64         `json:"deny_rate"`
	Latency       LatencySnapshot `json:"latency"`
}

// Snapshot is a read-consistent view of everything the signal engine needs:
// the status aggregates plus per-thread summaries and the policy timeline.
type Snapshot struct {
	Status        Status
	Threads       []ThreadSummary
	PolicyWindows []PolicyWindow
	LastEventID   int64
}
