package trace

// Reference wraps a reference trace. A nil *Reference means no reference was
// supplied; reference diagnostics fire only when one is.
type Reference struct {
	Events []Event
}

// TraceDiagnostics returns the trace-level labels for events against an
// optional reference. Length, id-set, and order predicates are independent:
// the order label fires only when the sets match but the order differs.
func TraceDiagnostics(events []Event, ref *Reference) []string {
	if len(events) == 0 || ref == nil {
		return nil
	}

	var diags []string
	if len(events) != len(ref.Events) {
		diags = append(diags, DiagReferenceLengthMismatch)
	}

	ids := eventIDs(events)
	refIDs := eventIDs(ref.Events)

	if !sameIDSet(ids, refIDs) {
		diags = append(diags, DiagReferenceEventIDSetMismatch)
	} else if !sameOrder(ids, refIDs) {
		diags = append(diags, DiagReferenceOrderMismatch)
	}
	return diags
}

// ApplyDiagnostics attaches per-event labels: duplicates, non-monotonic ids,
// ordering gaps, and (when both traces agree on event id order) per-index
// reference digest mismatches. The input is analysis-only and never
// reordered or rejected.
func ApplyDiagnostics(events []Event, ref *Reference) []Event {
	if len(events) == 0 {
		return nil
	}

	counts := make(map[int64]int, len(events))
	for _, e := range events {
		counts[e.EventID]++
	}

	digestMismatch := make([]bool, len(events))
	if ref != nil && sameOrder(eventIDs(events), eventIDs(ref.Events)) {
		for i, e := range events {
			if e.Digest != ref.Events[i].Digest {
				digestMismatch[i] = true
			}
		}
	}

	out := make([]Event, 0, len(events))
	var prev int64
	for i, e := range events {
		var extra []string
		if counts[e.EventID] > 1 {
			extra = append(extra, DiagDuplicateEventID)
		}
		if i > 0 {
			switch {
			case e.EventID < prev:
				extra = append(extra, DiagNonMonotonicEventID)
			case e.EventID > prev+1:
				extra = append(extra, DiagOrderingGap)
			}
		}
		if digestMismatch[i] {
			extra = append(extra, DiagReferenceDigestMismatch)
		}
		out = append(out, e.WithDiagnostics(extra...))
		prev = e.EventID
	}
	return out
}

func eventIDs(events []Event) []int64 {
	ids := make([]int64, len(events))
	for i, e := range events {
		ids[i] = e.EventID
	}
	return ids
}

func sameOrder(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameIDSet(a, b []int64) bool {
	setA := make(map[int64]struct{}, len(a))
	for _, id := range a {
		setA[id] = struct{}{}
	}
	setB := make(map[int64]struct{}, len(b))
	for _, id := range b {
		setB[id] = struct{}{}
	}
	if len(setA) != len(setB) {
		return false
	}
	for id := range setA {
		if _, ok := setB[id]; !ok {
			return false
		}
	}
	return true
}
