package projection

import (
	"math"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/observer/pkg/event"
)

// MaxLatencySamples bounds the latency reservoir. Oldest samples are evicted
// first once the bound is reached; this is the single exception to the
// no-eviction rule.
const MaxLatencySamples = 5000

// recentWindow is the per-thread window inspected by the error-cluster rule.
const recentWindow = 20

// Index is the incremental aggregator layered on the event store. OnEvent
// must be driven in the same order events are appended; all getters return
// copied snapshots.
type Index struct {
	mu sync.Mutex

	turns     map[string]*turnState
	turnOrder []string

	threads map[string]*threadState

	actors map[string]*ActorSummary

	policyWindows []PolicyWindow

	latency latencyRing

	eventCount    int
	decisionCount int
	allowCount    int
	denyCount     int
	errorCount    int
	lastEventID   int64
}

type turnState struct {
	summary TurnSummary
	// Set once the first decision event is observed, even when its result
	// was null; later decisions are duplicates either way.
	decisionSeen bool
}

type threadState struct {
	summary   ThreadSummary
	seenTurns map[string]struct{}
	// Ring of error flags for the thread's most recent events.
	recent     [recentWindow]bool
	recentPos  int
	recentSize int
}

type latencyRing struct {
	samples []int64
	next    int
}

func (r *latencyRing) push(v int64) {
	if len(r.samples) < MaxLatencySamples {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % MaxLatencySamples
}

// NewIndex creates an empty projection index.
func NewIndex() *Index {
	return &Index{
		turns:   make(map[string]*turnState),
		threads: make(map[string]*threadState),
		actors:  make(map[string]*ActorSummary),
	}
}

// OnEvent folds a single event into every aggregate. It never rejects;
// malformed events are filtered before they reach the projection.
func (x *Index) OnEvent(e event.ObservedEvent) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.eventCount++
	x.lastEventID = e.EventID

	switch e.Kind {
	case event.KindDecision:
		x.decisionCount++
		switch e.DecisionResult {
		case event.DecisionAllow:
			x.allowCount++
		case event.DecisionDeny:
			x.denyCount++
		}
	case event.KindError:
		x.errorCount++
	}

	x.updateThread(e)
	x.updateTurn(e)
	x.updateActor(e)
	x.updatePolicy(e)

	if ms, ok := e.Latency(); ok && e.Kind == event.KindDecision {
		x.latency.push(ms)
	}
}

func (x *Index) updateThread(e event.ObservedEvent) {
	if e.ThreadID == "" {
		return
	}
	ts, ok := x.threads[e.ThreadID]
	if !ok {
		ts = &threadState{
			summary: ThreadSummary{
				ThreadID:     e.ThreadID,
				FirstEventID: e.EventID,
			},
			seenTurns: make(map[string]struct{}),
		}
		x.threads[e.ThreadID] = ts
	}
	ts.summary.LastEventID = e.EventID
	ts.summary.LastObservedAt = e.ObservedAt

	if e.TurnID != "" {
		if _, seen := ts.seenTurns[e.TurnID]; !seen {
			ts.seenTurns[e.TurnID] = struct{}{}
			ts.summary.TurnsTotal++
		}
	}

	isError := e.Kind == event.KindError
	if isError {
		ts.summary.ErrorTotal++
	}
	switch {
	case e.Kind == event.KindDecision && e.DecisionResult == event.DecisionAllow:
		ts.summary.AllowTotal++
	case e.Kind == event.KindDecision && e.DecisionResult == event.DecisionDeny:
		ts.summary.DenyTotal++
	}

	// Track error density over the thread's most recent events.
	ts.recent[ts.recentPos] = isError
	ts.recentPos = (ts.recentPos + 1) % recentWindow
	if ts.recentSize < recentWindow {
		ts.recentSize++
	}
	recentErrors := 0
	for i := 0; i < ts.recentSize; i++ {
		if ts.recent[i] {
			recentErrors++
		}
	}
	ts.summary.RecentErrorTotal = recentErrors
}

func (x *Index) updateTurn(e event.ObservedEvent) {
	if e.TurnID == "" {
		return
	}
	turn, ok := x.turns[e.TurnID]
	if !ok {
		turn = &turnState{summary: TurnSummary{
			TurnID:       e.TurnID,
			ThreadID:     e.ThreadID,
			ParentTurnID: e.ParentTurnID,
			FirstEventID: e.EventID,
		}}
		x.turns[e.TurnID] = turn
		x.turnOrder = append(x.turnOrder, e.TurnID)
	}
	turn.summary.LastEventID = e.EventID

	switch e.Kind {
	case event.KindDecision:
		// First decision wins; later decisions only mark the duplicate.
		if !turn.decisionSeen {
			turn.decisionSeen = true
			turn.summary.DecisionResult = e.DecisionResult
			if ms, ok := e.Latency(); ok {
				turn.summary.LatencyMS = &ms
			}
		} else {
			turn.summary.DuplicateDecisionObserved = true
		}
	case event.KindExecution:
		turn.summary.HasExecution = true
	case event.KindError:
		turn.summary.HasError = true
	}
}

func (x *Index) updateActor(e event.ObservedEvent) {
	if e.Actor == "" {
		return
	}
	a, ok := x.actors[e.Actor]
	if !ok {
		a = &ActorSummary{Actor: e.Actor}
		x.actors[e.Actor] = a
	}
	a.EventCount++
	a.LastObservedAt = e.ObservedAt
	switch {
	case e.Kind == event.KindDecision && e.DecisionResult == event.DecisionAllow:
		a.AllowCount++
	case e.Kind == event.KindDecision && e.DecisionResult == event.DecisionDeny:
		a.DenyCount++
	case e.Kind == event.KindError:
		a.ErrorCount++
	}
}

func (x *Index) updatePolicy(e event.ObservedEvent) {
	if e.Kind != event.KindPolicyChange {
		return
	}
	if n := len(x.policyWindows); n > 0 && x.policyWindows[n-1].EndedAtEventID == nil {
		ended := e.EventID - 1
		x.policyWindows[n-1].EndedAtEventID = &ended
	}
	x.policyWindows = append(x.policyWindows, PolicyWindow{
		PolicyVersion:    e.PolicyVersion,
		StartedAtEventID: e.EventID,
	})
}

// Status returns the system-level aggregate snapshot.
func (x *Index) Status() Status {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.statusLocked()
}

func (x *Index) statusLocked() Status {
	denyRate := 0.0
	if x.decisionCount > 0 {
		denyRate = float64(x.denyCount) / float64(x.decisionCount)
	}
	return Status{
		EventCount:    x.eventCount,
		ThreadCount:   len(x.threads),
		TurnCount:     len(x.turns),
		DecisionCount: x.decisionCount,
		AllowCount:    x.allowCount,
		DenyCount:     x.denyCount,
		ErrorCount:    x.errorCount,
		DenyRate:      denyRate,
		Latency:       x.latencyLocked(),
	}
}

// Threads returns every thread summary sorted by last_observed_at descending,
// ties broken by last_event_id descending, then thread_id ascending.
func (x *Index) Threads() []ThreadSummary {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.threadsLocked()
}

func (x *Index) threadsLocked() []ThreadSummary {
	out := make([]ThreadSummary, 0, len(x.threads))
	for _, ts := range x.threads {
		out = append(out, ts.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastObservedAt != out[j].LastObservedAt {
			return out[i].LastObservedAt > out[j].LastObservedAt
		}
		if out[i].LastEventID != out[j].LastEventID {
			return out[i].LastEventID > out[j].LastEventID
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}

// Thread returns the summary for a single thread plus its turns ordered by
// first_event_id ascending. The boolean is false when the thread is unknown.
func (x *Index) Thread(threadID string) (ThreadSummary, []TurnSummary, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	ts, ok := x.threads[threadID]
	if !ok {
		return ThreadSummary{}, nil, false
	}
	var turns []TurnSummary
	for _, id := range x.turnOrder {
		turn := x.turns[id]
		if turn.summary.ThreadID == threadID {
			turns = append(turns, turn.summary)
		}
	}
	sort.Slice(turns, func(i, j int) bool {
		return turns[i].FirstEventID < turns[j].FirstEventID
	})
	return ts.summary, turns, true
}

// Turn returns a single turn summary by id.
func (x *Index) Turn(turnID string) (TurnSummary, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	turn, ok := x.turns[turnID]
	if !ok {
		return TurnSummary{}, false
	}
	return turn.summary, true
}

// Actors returns every actor summary sorted by event_count descending, ties
// broken by actor ascending.
func (x *Index) Actors() []ActorSummary {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := make([]ActorSummary, 0, len(x.actors))
	for _, a := range x.actors {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventCount != out[j].EventCount {
			return out[i].EventCount > out[j].EventCount
		}
		return out[i].Actor < out[j].Actor
	})
	return out
}

// PolicyWindows returns the policy timeline in creation order.
func (x *Index) PolicyWindows() []PolicyWindow {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]PolicyWindow, len(x.policyWindows))
	copy(out, x.policyWindows)
	return out
}

// Latency returns nearest-rank percentiles over the current reservoir.
func (x *Index) Latency() LatencySnapshot {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.latencyLocked()
}

func (x *Index) latencyLocked() LatencySnapshot {
	n := len(x.latency.samples)
	if n == 0 {
		return LatencySnapshot{}
	}
	sorted := make([]int64, n)
	copy(sorted, x.latency.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	p50 := sorted[nearestRank(50, n)]
	p95 := sorted[nearestRank(95, n)]
	p99 := sorted[nearestRank(99, n)]
	return LatencySnapshot{Count: n, P50: &p50, P95: &p95, P99: &p99}
}

// nearestRank returns the 0-based index for percentile p over n sorted
// samples: ceil(p*n/100) - 1, clamped to [0, n-1].
func nearestRank(p, n int) int {
	idx := int(math.Ceil(float64(p)*float64(n)/100.0)) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// Snapshot returns a read-consistent view for the signal engine.
func (x *Index) Snapshot() Snapshot {
	x.mu.Lock()
	defer x.mu.Unlock()

	windows := make([]PolicyWindow, len(x.policyWindows))
	copy(windows, x.policyWindows)
	return Snapshot{
		Status:        x.statusLocked(),
		Threads:       x.threadsLocked(),
		PolicyWindows: windows,
		LastEventID:   x.lastEventID,
	}
}
