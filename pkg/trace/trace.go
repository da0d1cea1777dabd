// Package trace implements the wire-trace pipeline: strict v1 trace codec,
// raw-item projection with derived canon_len/digest, and the read-only
// diagnostics engine over whole traces.
package trace

// Event is a single wire trace record: an observed event plus its derived
// canonical length and digest, and any diagnostic labels attached during
// analysis.
type Event struct {
	EventID     int64    `json:"event_id"`
	Source      string   `json:"source"`
	Artifact    string   `json:"artifact"`
	Payload     any      `json:"payload"`
	CanonLen    int      `json:"canon_len"`
	Digest      string   `json:"digest"`
	Diagnostics []string `json:"diagnostics"`
}

// WithDiagnostics returns a copy of e with extra labels appended.
func (e Event) WithDiagnostics(extra ...string) Event {
	if len(extra) == 0 {
		return e
	}
	combined := make([]string, 0, len(e.Diagnostics)+len(extra))
	combined = append(combined, e.Diagnostics...)
	combined = append(combined, extra...)
	e.Diagnostics = combined
	return e
}

// Diagnostic label vocabulary, frozen at v1. Emitting any label outside this
// set is a bug.
const (
	DiagDuplicateEventID            = "duplicate_event_id_observed"
	DiagNonMonotonicEventID         = "non_monotonic_event_id_observed"
	DiagOrderingGap                 = "ordering_gap_observed"
	DiagCanonLenMismatch            = "canon_len_mismatch_observed"
	DiagDigestMismatch              = "digest_mismatch_observed"
	DiagReferenceLengthMismatch     = "reference_length_mismatch_observed"
	DiagReferenceEventIDSetMismatch = "reference_event_id_set_mismatch_observed"
	DiagReferenceOrderMismatch      = "reference_order_mismatch_observed"
	DiagReferenceDigestMismatch     = "reference_digest_mismatch_observed"
)

// VocabularyV1 lists every label the diagnostics engine may emit.
var VocabularyV1 = []string{
	DiagDuplicateEventID,
	DiagNonMonotonicEventID,
	DiagOrderingGap,
	DiagCanonLenMismatch,
	DiagDigestMismatch,
	DiagReferenceLengthMismatch,
	DiagReferenceEventIDSetMismatch,
	DiagReferenceOrderMismatch,
	DiagReferenceDigestMismatch,
}
