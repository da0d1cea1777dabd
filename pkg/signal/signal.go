// Package signal derives non-normative attention markers from a projection
// snapshot. Evaluation is a pure function: identical snapshot and thresholds
// always produce the identical signal list, in the same order.
package signal

import (
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/observer/pkg/projection"
)

// Severity grades a signal. Signals never imply a decision; severity only
// ranks how much attention an operator should pay.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Signal names are a fixed vocabulary; thresholds are configuration.
const (
	NameLatencyP95Elevated    = "latency_p95_elevated"
	NameLatencyP95Critical    = "latency_p95_critical"
	NameDenyRateElevated      = "deny_rate_elevated"
	NameDenyRateCritical      = "deny_rate_critical"
	NameErrorCluster          = "error_cluster"
	NameFrequentPolicyChanges = "frequent_policy_changes"
)

// Signal is a single attention marker. Evidence carries the numbers that
// tripped the rule.
type Signal struct {
	Name        string         `json:"name"`
	Severity    Severity       `json:"severity"`
	Observation string         `json:"observation"`
	Evidence    map[string]any `json:"evidence"`
}

// Thresholds configure the signal rules.
type Thresholds struct {
	LatencyP95WarnMS     int64   `yaml:"latency_p95_warn_ms"`
	LatencyP95CriticalMS int64   `yaml:"latency_p95_critical_ms"`
	LatencyMinSamples    int     `yaml:"latency_min_samples"`
	DenyRateWarn         float64 `yaml:"deny_rate_warn"`
	DenyRateCritical     float64 `yaml:"deny_rate_critical"`
	DenyMinDecisions     int     `yaml:"deny_min_decisions"`
	ErrorClusterRecent   int     `yaml:"error_cluster_recent"`
	ErrorClusterTotal    int     `yaml:"error_cluster_total"`
	PolicyWindowEvents   int64   `yaml:"policy_window_events"`
	PolicyWindowCount    int     `yaml:"policy_window_count"`
}

// DefaultThresholds returns the default rule configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LatencyP95WarnMS:     500,
		LatencyP95CriticalMS: 2000,
		LatencyMinSamples:    50,
		DenyRateWarn:         0.25,
		DenyRateCritical:     0.5,
		DenyMinDecisions:     20,
		ErrorClusterRecent:   3,
		ErrorClusterTotal:    10,
		PolicyWindowEvents:   100,
		PolicyWindowCount:    3,
	}
}

// Evaluate derives the active signals from snap under th. The rule order is
// fixed: latency, deny rate, error cluster, policy changes.
func Evaluate(snap projection.Snapshot, th Thresholds) []Signal {
	signals := make([]Signal, 0, 4)

	if s, ok := latencySignal(snap.Status.Latency, th); ok {
		signals = append(signals, s)
	}
	if s, ok := denyRateSignal(snap.Status, th); ok {
		signals = append(signals, s)
	}
	if s, ok := errorClusterSignal(snap, th); ok {
		signals = append(signals, s)
	}
	if s, ok := policyChangeSignal(snap, th); ok {
		signals = append(signals, s)
	}
	return signals
}

// Counts tallies signals per severity for the status endpoint.
type Counts struct {
	Info     int `json:"info"`
	Warn     int `json:"warn"`
	Critical int `json:"critical"`
}

// Count buckets signals by severity.
func Count(signals []Signal) Counts {
	var c Counts
	for _, s := range signals {
		switch s.Severity {
		case SeverityInfo:
			c.Info++
		case SeverityWarn:
			c.Warn++
		case SeverityCritical:
			c.Critical++
		}
	}
	return c
}

func latencySignal(lat projection.LatencySnapshot, th Thresholds) (Signal, bool) {
	if lat.Count < th.LatencyMinSamples || lat.P95 == nil {
		return Signal{}, false
	}
	evidence := map[string]any{
		"count": lat.Count,
		"p50":   *lat.P50,
		"p95":   *lat.P95,
		"p99":   *lat.P99,
	}
	switch {
	case *lat.P95 >= th.LatencyP95CriticalMS:
		return Signal{
			Name:        NameLatencyP95Critical,
			Severity:    SeverityCritical,
			Observation: fmt.Sprintf("p95 latency %dms over %d samples", *lat.P95, lat.Count),
			Evidence:    evidence,
		}, true
	case *lat.P95 >= th.LatencyP95WarnMS:
		return Signal{
			Name:        NameLatencyP95Elevated,
			Severity:    SeverityWarn,
			Observation: fmt.Sprintf("p95 latency %dms over %d samples", *lat.P95, lat.Count),
			Evidence:    evidence,
		}, true
	}
	return Signal{}, false
}

func denyRateSignal(st projection.Status, th Thresholds) (Signal, bool) {
	if st.DecisionCount < th.DenyMinDecisions {
		return Signal{}, false
	}
	evidence := map[string]any{
		"deny_count":     st.DenyCount,
		"decision_count": st.DecisionCount,
		"deny_rate":      st.DenyRate,
	}
	switch {
	case st.DenyRate >= th.DenyRateCritical:
		return Signal{
			Name:        NameDenyRateCritical,
			Severity:    SeverityCritical,
			Observation: fmt.Sprintf("deny rate %.2f over %d decisions", st.DenyRate, st.DecisionCount),
			Evidence:    evidence,
		}, true
	case st.DenyRate >= th.DenyRateWarn:
		return Signal{
			Name:        NameDenyRateElevated,
			Severity:    SeverityWarn,
			Observation: fmt.Sprintf("deny rate %.2f over %d decisions", st.DenyRate, st.DecisionCount),
			Evidence:    evidence,
		}, true
	}
	return Signal{}, false
}

func errorClusterSignal(snap projection.Snapshot, th Thresholds) (Signal, bool) {
	var clustered []string
	for _, t := range snap.Threads {
		if t.RecentErrorTotal >= th.ErrorClusterRecent {
			clustered = append(clustered, t.ThreadID)
		}
	}
	sort.Strings(clustered)

	if len(clustered) == 0 && snap.Status.ErrorCount < th.ErrorClusterTotal {
		return Signal{}, false
	}
	evidence := map[string]any{
		"error_total": snap.Status.ErrorCount,
	}
	if len(clustered) > 0 {
		evidence["threads"] = clustered
	}
	return Signal{
		Name:        NameErrorCluster,
		Severity:    SeverityWarn,
		Observation: fmt.Sprintf("%d error events observed", snap.Status.ErrorCount),
		Evidence:    evidence,
	}, true
}

func policyChangeSignal(snap projection.Snapshot, th Thresholds) (Signal, bool) {
	cutoff := snap.LastEventID - th.PolicyWindowEvents
	recent := 0
	for _, w := range snap.PolicyWindows {
		if w.StartedAtEventID > cutoff {
			recent++
		}
	}
	if recent < th.PolicyWindowCount {
		return Signal{}, false
	}
	return Signal{
		Name:        NameFrequentPolicyChanges,
		Severity:    SeverityInfo,
		Observation: fmt.Sprintf("%d policy windows opened within the last %d events", recent, th.PolicyWindowEvents),
		Evidence: map[string]any{
			"window_count":  recent,
			"window_events": th.PolicyWindowEvents,
		},
	}, true
}
