// Package event defines the observed-event data model shared by the store,
// the projection engine, and the trace pipeline. Events describe what the
// upstream decision gateway reported; they are never authoritative.
package event

// Kind classifies an observed event. The set is closed; anything the gateway
// emits outside of it is normalized to KindOther.
type Kind string

const (
	KindDecision     Kind = "decision"
	KindExecution    Kind = "execution"
	KindError        Kind = "error"
	KindPolicyChange Kind = "policy_change"
	KindOther        Kind = "other"
)

// NormalizeKind maps an arbitrary gateway kind string onto the closed set.
func NormalizeKind(s string) Kind {
	switch Kind(s) {
	case KindDecision, KindExecution, KindError, KindPolicyChange:
		return Kind(s)
	default:
		return KindOther
	}
}

// DecisionResult is the outcome carried by a decision event. The empty string
// represents a null result: observed, but with no outcome attached.
type DecisionResult string

const (
	DecisionAllow DecisionResult = "ALLOW"
	DecisionDeny  DecisionResult = "DENY"
	DecisionNone  DecisionResult = ""
)

// ObservedEvent is a single record as it enters the event store.
//
// EventID is assigned upstream and used only as an ordering index. Payload is
// an arbitrary JSON tree decoded with json.Number leaves; the canonicalize
// package enforces the integer-only numeric constraint.
type ObservedEvent struct {
	EventID        int64          `json:"event_id"`
	Source         string         `json:"source"`
	Artifact       string         `json:"artifact"`
	ThreadID       string         `json:"thread_id,omitempty"`
	TurnID         string         `json:"turn_id,omitempty"`
	ParentTurnID   string         `json:"parent_turn_id,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	Kind           Kind           `json:"kind"`
	DecisionResult DecisionResult `json:"decision_result,omitempty"`
	PolicyVersion  string         `json:"policy_version,omitempty"`
	LatencyMS      *int64         `json:"latency_ms,omitempty"`
	ObservedAt     int64          `json:"observed_at"`
	Payload        any            `json:"payload"`
}

// Latency returns the event's latency sample and whether one was observed.
func (e ObservedEvent) Latency() (int64, bool) {
	if e.LatencyMS == nil {
		return 0, false
	}
	return *e.LatencyMS, true
}
