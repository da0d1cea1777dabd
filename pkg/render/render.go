// Package render formats wire traces for terminal output: explain, diff, and
// summary modes. Output ordering is deterministic.
package render

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/observer/pkg/trace"
)

// ExplainLines renders one line per event, preceded by the trace-level
// diagnostics when any are present.
func ExplainLines(events []trace.Event, traceDiags []string) []string {
	lines := make([]string, 0, len(events)+1)
	if len(traceDiags) > 0 {
		lines = append(lines, fmt.Sprintf("trace_diagnostics=[%s]", strings.Join(traceDiags, ",")))
	}
	for _, e := range events {
		lines = append(lines, eventLine(e))
	}
	return lines
}

// DiffLines renders the trace-level diagnostics first, when any are present,
// then only the events that carry a reference digest mismatch.
func DiffLines(events []trace.Event, traceDiags []string) []string {
	var lines []string
	if len(traceDiags) > 0 {
		lines = append(lines, fmt.Sprintf("trace_diagnostics=[%s]", strings.Join(traceDiags, ",")))
	}
	for _, e := range events {
		for _, d := range e.Diagnostics {
			if d == trace.DiagReferenceDigestMismatch {
				lines = append(lines, eventLine(e))
				break
			}
		}
	}
	return lines
}

// SummaryLines renders the event total and per-source / per-artifact counts,
// each group sorted by key.
func SummaryLines(events []trace.Event) []string {
	sourceCounts := make(map[string]int)
	artifactCounts := make(map[string]int)
	for _, e := range events {
		sourceCounts[e.Source]++
		artifactCounts[e.Artifact]++
	}

	lines := []string{fmt.Sprintf("total_events=%d", len(events))}
	for _, source := range sortedKeys(sourceCounts) {
		lines = append(lines, fmt.Sprintf("source=%s count=%d", source, sourceCounts[source]))
	}
	for _, artifact := range sortedKeys(artifactCounts) {
		lines = append(lines, fmt.Sprintf("artifact=%s count=%d", artifact, artifactCounts[artifact]))
	}
	return lines
}

func eventLine(e trace.Event) string {
	return fmt.Sprintf(
		"event_id=%d source=%s artifact=%s canon_len=%d digest=%s diagnostics=[%s]",
		e.EventID, e.Source, e.Artifact, e.CanonLen, e.Digest,
		strings.Join(e.Diagnostics, ","),
	)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
