// Package server exposes the observer's HTTP query and ingest surface. The
// core is queried through read snapshots; handlers never mutate observation
// beyond driving the ingest controller.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
	"github.com/Mindburn-Labs/observer/pkg/event"
	"github.com/Mindburn-Labs/observer/pkg/ingest"
	"github.com/Mindburn-Labs/observer/pkg/notify"
	"github.com/Mindburn-Labs/observer/pkg/observability"
	"github.com/Mindburn-Labs/observer/pkg/projection"
	"github.com/Mindburn-Labs/observer/pkg/render"
	"github.com/Mindburn-Labs/observer/pkg/signal"
	"github.com/Mindburn-Labs/observer/pkg/store"
	"github.com/Mindburn-Labs/observer/pkg/trace"
)

const maxIngestBody = 16 << 20

// Server wires the core components behind HTTP handlers.
type Server struct {
	store      *store.EventStore
	index      *projection.Index
	controller *ingest.Controller
	thresholds signal.Thresholds
	publisher  notify.Publisher
	telemetry  *observability.Provider
	logger     *slog.Logger
}

// Params configure a Server. Store, Index, and Controller are required;
// Publisher and Telemetry are optional.
type Params struct {
	Store      *store.EventStore
	Index      *projection.Index
	Controller *ingest.Controller
	Thresholds signal.Thresholds
	Publisher  notify.Publisher
	Telemetry  *observability.Provider
}

// New creates a Server over the given components.
func New(p Params) *Server {
	return &Server{
		store:      p.Store,
		index:      p.Index,
		controller: p.Controller,
		thresholds: p.Thresholds,
		publisher:  p.Publisher,
		telemetry:  p.Telemetry,
		logger:     slog.Default().With("component", "server"),
	}
}

// Routes returns the HTTP handler for the full API surface.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /threads", s.handleThreads)
	mux.HandleFunc("GET /threads/{id}", s.handleThread)
	mux.HandleFunc("GET /signals", s.handleSignals)
	mux.HandleFunc("GET /tail", s.handleTail)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /project", s.handleProject)
	mux.HandleFunc("POST /explain", s.handleExplain)
	mux.HandleFunc("POST /summary", s.handleSummary)

	return s.withRequestLog(mux)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "gateway-observer",
		"endpoints": []string{
			"GET /healthz",
			"GET /status",
			"GET /threads",
			"GET /threads/{id}",
			"GET /signals",
			"GET /tail?after_event_id=0&limit=100",
			"POST /ingest",
			"POST /project",
			"POST /explain",
			"POST /summary",
		},
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.index.Snapshot()
	counts := signal.Count(signal.Evaluate(snap, s.thresholds))

	writeJSON(w, http.StatusOK, map[string]any{
		"event_count":    snap.Status.EventCount,
		"thread_count":   snap.Status.ThreadCount,
		"turn_count":     snap.Status.TurnCount,
		"decision_count": snap.Status.DecisionCount,
		"allow_count":    snap.Status.AllowCount,
		"deny_count":     snap.Status.DenyCount,
		"error_count":    snap.Status.ErrorCount,
		"deny_rate":      snap.Status.DenyRate,
		"latency":        snap.Status.Latency,
		"active_signals": counts,
	})
}

func (s *Server) handleThreads(w http.ResponseWriter, _ *http.Request) {
	threads := s.index.Threads()
	if threads == nil {
		threads = []projection.ThreadSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	thread, turns, ok := s.index.Thread(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown thread "+id)
		return
	}
	if turns == nil {
		turns = []projection.TurnSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread": thread,
		"turns":  turns,
	})
}

func (s *Server) handleSignals(w http.ResponseWriter, _ *http.Request) {
	signals := signal.Evaluate(s.index.Snapshot(), s.thresholds)
	if signals == nil {
		signals = []signal.Signal{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals})
}

func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	after, err := queryInt(r, "after_event_id", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "after_event_id must be int")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative int")
		return
	}

	items := s.store.After(after, int(limit))
	nextCursor := after
	if len(items) > 0 {
		nextCursor = items[len(items)-1].EventID
	}
	if items == nil {
		items = []event.ObservedEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":       items,
		"next_cursor": nextCursor,
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unreadable body")
		return
	}

	ctx := r.Context()
	var done func()
	if s.telemetry != nil {
		ctx, done = s.telemetry.TrackIngest(ctx)
		defer done()
	}

	result, err := s.controller.IngestJSON(ctx, body)
	if err != nil {
		writeError(w, statusForError(err), reasonForError(err), err.Error())
		return
	}

	if result.Accepted > 0 {
		s.publishSignals()
	}

	status := http.StatusOK
	if result.Rejected() {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"batch_id":    result.BatchID,
		"accepted":    result.Accepted,
		"rejected_at": result.RejectedAt,
		"reason":      result.Reason,
		"total":       s.store.Size(),
	})
}

// publishSignals pushes the currently active signals to the configured
// publisher, best-effort.
func (s *Server) publishSignals() {
	if s.publisher == nil {
		return
	}
	signals := signal.Evaluate(s.index.Snapshot(), s.thresholds)
	if len(signals) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.publisher.PublishSignals(ctx, signals); err != nil {
		s.logger.Warn("signal publish failed", "error", err)
	}
}

type versionedBody struct {
	Version string `json:"version"`
	Items   []any  `json:"items"`
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readVersioned(w, r, "ui.v1.project")
	if !ok {
		return
	}
	events, err := trace.FromRawItems(body.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, reasonForError(err), err.Error())
		return
	}
	events = trace.ApplyDiagnostics(events, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "ui.v1.trace",
		"items":   eventDTOs(events),
	})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readVersioned(w, r, "ui.v1.trace")
	if !ok {
		return
	}
	events, err := trace.FromTraceItems(body.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, reasonForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "ui.v1.explain",
		"lines":   render.ExplainLines(events, nil),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readVersioned(w, r, "ui.v1.trace")
	if !ok {
		return
	}
	events, err := trace.FromTraceItems(body.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, reasonForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version": "ui.v1.summary",
		"lines":   render.SummaryLines(events),
	})
}

func (s *Server) readVersioned(w http.ResponseWriter, r *http.Request, version string) (versionedBody, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "unreadable body")
		return versionedBody{}, false
	}
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "body is not valid json")
		return versionedBody{}, false
	}
	if probe.Version != version {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid version")
		return versionedBody{}, false
	}

	// Items decode with UseNumber so integer leaves stay exact.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v map[string]any
	if err := dec.Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "body is not valid json")
		return versionedBody{}, false
	}
	items, ok := v["items"].([]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "items must be list")
		return versionedBody{}, false
	}
	return versionedBody{Version: version, Items: items}, true
}

func eventDTOs(events []trace.Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		diags := e.Diagnostics
		if diags == nil {
			diags = []string{}
		}
		out = append(out, map[string]any{
			"event_id":    e.EventID,
			"source":      e.Source,
			"artifact":    e.Artifact,
			"payload":     e.Payload,
			"canon_len":   e.CanonLen,
			"digest":      e.Digest,
			"diagnostics": diags,
		})
	}
	return out
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, trace.ErrInvalidInput),
		errors.Is(err, canonicalize.ErrCanonicalization),
		errors.Is(err, store.ErrNonMonotonicIngest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func reasonForError(err error) string {
	switch {
	case errors.Is(err, canonicalize.ErrCanonicalization):
		return "canonicalization_error"
	case errors.Is(err, store.ErrNonMonotonicIngest):
		return "non_monotonic_ingest"
	case errors.Is(err, ingest.ErrInvalidInput), errors.Is(err, trace.ErrInvalidInput):
		return "invalid_input"
	default:
		return "io_error"
	}
}

func queryInt(r *http.Request, key string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
