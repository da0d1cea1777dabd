// Package ingest is the boundary between gateway snapshot envelopes and the
// core: it validates, normalizes, appends to the event store in index order,
// and drives the projection index. Batches commit item by item; the first
// invalid item halts the batch and earlier appends remain.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
	"github.com/Mindburn-Labs/observer/pkg/event"
	"github.com/Mindburn-Labs/observer/pkg/projection"
	"github.com/Mindburn-Labs/observer/pkg/store"
)

// ErrInvalidInput marks a malformed envelope: bad JSON, a missing required
// field, or an unknown top-level key.
var ErrInvalidInput = errors.New("invalid_input")

// Reason codes carried in Result for per-item rejections.
const (
	ReasonInvalidInput       = "invalid_input"
	ReasonCanonicalization   = "canonicalization_error"
	ReasonNonMonotonicIngest = "non_monotonic_ingest"
)

// Defaults applied when a gateway event does not name its own source or
// artifact.
const (
	DefaultSource   = "gateway"
	DefaultArtifact = "gateway_event"
)

// envelopeSchema is the structural contract for the snapshot envelope.
// Unknown top-level keys are rejected here. Per-event checks stay out of the
// schema on purpose: item validation is part of the partial-batch walk, so a
// bad item at position k still commits the k items before it.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["events"],
  "additionalProperties": false,
  "properties": {
    "events": {"type": "array"},
    "offset": {"type": "integer"},
    "limit": {"type": "integer"}
  }
}`

var compiledEnvelopeSchema = jsonschema.MustCompileString(
	"https://observer.schemas.local/ingest/envelope.schema.json", envelopeSchema)

// Result reports how far a batch got. RejectedAt is the 0-based position of
// the first rejected item; nil when the whole batch was accepted.
type Result struct {
	BatchID    string `json:"batch_id"`
	Accepted   int    `json:"accepted"`
	RejectedAt *int   `json:"rejected_at,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Rejected reports whether the batch halted early.
func (r Result) Rejected() bool { return r.RejectedAt != nil }

// Archive receives accepted events after the store commit. Failures are
// logged, never propagated: the journal must not affect observation.
type Archive interface {
	Append(ctx context.Context, e event.ObservedEvent) error
}

// Recorder receives ingest outcome counts for instrumentation.
type Recorder interface {
	RecordIngest(ctx context.Context, accepted, rejected int)
}

// Controller drives ingestion into a store/projection pair. Batches are
// serialized: concurrent ingests never interleave their appends, and the
// projection is driven from the same critical section as the matching append.
type Controller struct {
	mu      sync.Mutex
	store   *store.EventStore
	index   *projection.Index
	archive Archive
	metrics Recorder
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithArchive journals every accepted event to a.
func WithArchive(a Archive) Option {
	return func(c *Controller) { c.archive = a }
}

// WithRecorder wires ingest instrumentation.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.metrics = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller over st and idx.
func NewController(st *store.EventStore, idx *projection.Index, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		index:  idx,
		logger: slog.Default().With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IngestJSON validates raw as a snapshot envelope and ingests its events in
// array order. Envelope-level failures return an error wrapping
// ErrInvalidInput; per-item failures are reported through Result.
func (c *Controller) IngestJSON(ctx context.Context, raw []byte) (Result, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Result{}, fmt.Errorf("%w: envelope is not valid json", ErrInvalidInput)
	}
	if err := compiledEnvelopeSchema.Validate(v); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	envelope := v.(map[string]any)
	items, _ := envelope["events"].([]any)
	return c.ingestItems(ctx, items)
}

// IngestEnvelope ingests an already-decoded envelope (json.Number leaves).
func (c *Controller) IngestEnvelope(ctx context.Context, envelope map[string]any) (Result, error) {
	if err := compiledEnvelopeSchema.Validate(any(envelope)); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	items, _ := envelope["events"].([]any)
	return c.ingestItems(ctx, items)
}

func (c *Controller) ingestItems(ctx context.Context, items []any) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := Result{BatchID: uuid.New().String()}
	for i, item := range items {
		e, reason := c.normalize(item)
		if reason == "" {
			if _, err := c.store.Append(e); err != nil {
				reason = ReasonNonMonotonicIngest
			}
		}
		if reason != "" {
			at := i
			result.RejectedAt = &at
			result.Reason = reason
			c.logger.Warn("ingest halted",
				"batch_id", result.BatchID,
				"rejected_at", i,
				"reason", reason,
			)
			c.record(ctx, result.Accepted, len(items)-i)
			return result, nil
		}
		c.index.OnEvent(e)
		if c.archive != nil {
			if err := c.archive.Append(ctx, e); err != nil {
				c.logger.Warn("archive append failed", "event_id", e.EventID, "error", err)
			}
		}
		result.Accepted++
	}
	c.record(ctx, result.Accepted, 0)
	return result, nil
}

func (c *Controller) record(ctx context.Context, accepted, rejected int) {
	if c.metrics != nil {
		c.metrics.RecordIngest(ctx, accepted, rejected)
	}
}

// normalize maps a gateway event onto an ObservedEvent. The whole gateway
// event becomes the payload; recognized keys are lifted into typed fields.
// Returns a non-empty reason code on failure.
func (c *Controller) normalize(item any) (event.ObservedEvent, string) {
	m, ok := item.(map[string]any)
	if !ok {
		return event.ObservedEvent{}, ReasonInvalidInput
	}
	id, ok := intValue(m["index"])
	if !ok {
		return event.ObservedEvent{}, ReasonInvalidInput
	}
	if err := canonicalize.Validate(m); err != nil {
		return event.ObservedEvent{}, ReasonCanonicalization
	}

	e := event.ObservedEvent{
		EventID:       id,
		Source:        stringOr(m, "source", DefaultSource),
		Artifact:      stringOr(m, "artifact", DefaultArtifact),
		ThreadID:      stringValue(m, "thread_id"),
		TurnID:        stringValue(m, "turn_id"),
		ParentTurnID:  stringValue(m, "parent_turn_id"),
		Actor:         stringValue(m, "actor"),
		Kind:          event.NormalizeKind(stringValue(m, "kind")),
		PolicyVersion: stringValue(m, "policy_version"),
		Payload:       m,
	}
	if e.Source == "" || e.Artifact == "" {
		return event.ObservedEvent{}, ReasonInvalidInput
	}
	if result := stringValue(m, "decision_result"); result == string(event.DecisionAllow) || result == string(event.DecisionDeny) {
		e.DecisionResult = event.DecisionResult(result)
	}
	if ms, ok := intValue(m["latency_ms"]); ok && ms >= 0 {
		e.LatencyMS = &ms
	}
	if at, ok := intValue(m["observed_at"]); ok {
		e.ObservedAt = at
	}
	return e, ""
}

func stringValue(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, present := m[key]; present {
		s, ok := v.(string)
		if !ok {
			return ""
		}
		return s
	}
	return fallback
}

func intValue(v any) (int64, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return 0, false
	}
	i, err := n.Int64()
	if err != nil {
		return 0, false
	}
	return i, true
}
