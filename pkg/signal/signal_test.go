package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/observer/pkg/event"
	"github.com/Mindburn-Labs/observer/pkg/projection"
)

func snapshotFrom(events []event.ObservedEvent) projection.Snapshot {
	x := projection.NewIndex()
	for _, e := range events {
		x.OnEvent(e)
	}
	return x.Snapshot()
}

func decisionBurst(n, deny int, latency int64) []event.ObservedEvent {
	out := make([]event.ObservedEvent, 0, n)
	for i := 0; i < n; i++ {
		result := event.DecisionAllow
		if i < deny {
			result = event.DecisionDeny
		}
		ms := latency
		out = append(out, event.ObservedEvent{
			EventID:        int64(i + 1),
			ThreadID:       "T",
			Kind:           event.KindDecision,
			DecisionResult: result,
			LatencyMS:      &ms,
			ObservedAt:     int64(i + 1),
		})
	}
	return out
}

func TestEvaluate_EmptySnapshot(t *testing.T) {
	assert.Empty(t, Evaluate(snapshotFrom(nil), DefaultThresholds()))
}

func TestEvaluate_DenyCriticalAndLatencyElevated(t *testing.T) {
	// 100 decisions, 60 DENY, uniform latency 1200ms.
	snap := snapshotFrom(decisionBurst(100, 60, 1200))

	signals := Evaluate(snap, DefaultThresholds())
	require.Len(t, signals, 2)

	// Rule order is fixed: latency first, then deny rate.
	assert.Equal(t, NameLatencyP95Elevated, signals[0].Name)
	assert.Equal(t, SeverityWarn, signals[0].Severity)
	assert.Equal(t, NameDenyRateCritical, signals[1].Name)
	assert.Equal(t, SeverityCritical, signals[1].Severity)
	assert.Equal(t, 60, signals[1].Evidence["deny_count"])

	// Determinism: same snapshot, same thresholds, same output.
	again := Evaluate(snap, DefaultThresholds())
	assert.Equal(t, signals, again)
}

func TestEvaluate_LatencyRequiresMinimumSamples(t *testing.T) {
	snap := snapshotFrom(decisionBurst(10, 0, 5000))
	signals := Evaluate(snap, DefaultThresholds())
	for _, s := range signals {
		assert.NotEqual(t, NameLatencyP95Critical, s.Name)
		assert.NotEqual(t, NameLatencyP95Elevated, s.Name)
	}
}

func TestEvaluate_LatencyCritical(t *testing.T) {
	snap := snapshotFrom(decisionBurst(50, 0, 2500))
	signals := Evaluate(snap, DefaultThresholds())
	require.NotEmpty(t, signals)
	assert.Equal(t, NameLatencyP95Critical, signals[0].Name)
	assert.Equal(t, SeverityCritical, signals[0].Severity)
}

func TestEvaluate_DenyRateRequiresMinimumDecisions(t *testing.T) {
	snap := snapshotFrom(decisionBurst(19, 19, 1))
	for _, s := range Evaluate(snap, DefaultThresholds()) {
		assert.NotContains(t, []string{NameDenyRateElevated, NameDenyRateCritical}, s.Name)
	}
}

func TestEvaluate_DenyRateElevatedBand(t *testing.T) {
	// 20 decisions, 6 DENY: rate 0.3, in [0.25, 0.5).
	snap := snapshotFrom(decisionBurst(20, 6, 1))
	signals := Evaluate(snap, DefaultThresholds())
	require.Len(t, signals, 1)
	assert.Equal(t, NameDenyRateElevated, signals[0].Name)
	assert.Equal(t, SeverityWarn, signals[0].Severity)
}

func TestEvaluate_ErrorClusterPerThread(t *testing.T) {
	var events []event.ObservedEvent
	for i := 0; i < 3; i++ {
		events = append(events, event.ObservedEvent{
			EventID:  int64(i + 1),
			ThreadID: "T-err",
			Kind:     event.KindError,
		})
	}
	snap := snapshotFrom(events)

	signals := Evaluate(snap, DefaultThresholds())
	require.Len(t, signals, 1)
	assert.Equal(t, NameErrorCluster, signals[0].Name)
	assert.Equal(t, SeverityWarn, signals[0].Severity)
	assert.Equal(t, []string{"T-err"}, signals[0].Evidence["threads"])
}

func TestEvaluate_ErrorClusterTotal(t *testing.T) {
	// 10 errors spread thinly over many threads: no per-thread cluster, but
	// the global total trips the rule.
	var events []event.ObservedEvent
	for i := 0; i < 10; i++ {
		events = append(events,
			event.ObservedEvent{EventID: int64(i*30 + 1), ThreadID: string(rune('A' + i)), Kind: event.KindError},
			event.ObservedEvent{EventID: int64(i*30 + 2), ThreadID: string(rune('A' + i)), Kind: event.KindOther},
		)
	}
	snap := snapshotFrom(events)

	signals := Evaluate(snap, DefaultThresholds())
	require.Len(t, signals, 1)
	assert.Equal(t, NameErrorCluster, signals[0].Name)
}

func TestEvaluate_FrequentPolicyChanges(t *testing.T) {
	snap := snapshotFrom([]event.ObservedEvent{
		{EventID: 10, Kind: event.KindPolicyChange, PolicyVersion: "a"},
		{EventID: 20, Kind: event.KindPolicyChange, PolicyVersion: "b"},
		{EventID: 30, Kind: event.KindPolicyChange, PolicyVersion: "c"},
	})

	signals := Evaluate(snap, DefaultThresholds())
	require.Len(t, signals, 1)
	assert.Equal(t, NameFrequentPolicyChanges, signals[0].Name)
	assert.Equal(t, SeverityInfo, signals[0].Severity)
	assert.Equal(t, 3, signals[0].Evidence["window_count"])
}

func TestEvaluate_PolicyChangesOutsideWindowIgnored(t *testing.T) {
	snap := snapshotFrom([]event.ObservedEvent{
		{EventID: 10, Kind: event.KindPolicyChange, PolicyVersion: "a"},
		{EventID: 20, Kind: event.KindPolicyChange, PolicyVersion: "b"},
		{EventID: 500, Kind: event.KindPolicyChange, PolicyVersion: "c"},
	})
	assert.Empty(t, Evaluate(snap, DefaultThresholds()))
}

func TestCount(t *testing.T) {
	c := Count([]Signal{
		{Severity: SeverityInfo},
		{Severity: SeverityWarn},
		{Severity: SeverityWarn},
		{Severity: SeverityCritical},
	})
	assert.Equal(t, Counts{Info: 1, Warn: 2, Critical: 1}, c)
}
