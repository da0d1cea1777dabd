package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
)

// ErrInvalidInput marks malformed trace or raw input: bad JSON, missing or
// unknown fields, or wrong field types.
var ErrInvalidInput = errors.New("invalid_input")

// SnapshotSource and SnapshotArtifact label events projected from a gateway
// snapshot envelope.
const (
	SnapshotSource   = "gateway"
	SnapshotArtifact = "gateway_event"
)

var rawKeys = []string{"event_id", "source", "artifact", "payload"}
var traceKeys = []string{"event_id", "source", "artifact", "payload", "canon_len", "digest", "diagnostics"}

// ReadTrace parses a strict v1 wire trace: one JSON object per line with
// exactly the trace fields. canon_len and digest are recomputed from the
// payload; mismatches attach their labels to the event.
func ReadTrace(r io.Reader) ([]Event, error) {
	return read(r, false)
}

// ReadRaw parses raw input for the trace pipeline: either one raw item per
// line, or a single gateway snapshot envelope as the first line. canon_len
// and digest are derived.
func ReadRaw(r io.Reader) ([]Event, error) {
	return read(r, true)
}

func read(r io.Reader, raw bool) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		obj, err := decodeObject(line)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, lineNo, err)
		}
		if raw && lineNo == 1 && isSnapshotEnvelope(obj) {
			events, err = FromSnapshotEnvelope(obj)
			if err != nil {
				return nil, err
			}
			for scanner.Scan() {
				lineNo++
				if strings.TrimSpace(scanner.Text()) != "" {
					return nil, fmt.Errorf("%w: line %d: unexpected content after snapshot envelope", ErrInvalidInput, lineNo)
				}
			}
			return events, scanner.Err()
		}
		e, err := parseEvent(obj, raw, lineNo)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return events, nil
}

// FromRawItems parses already-decoded raw items (json.Number leaves), one
// Event per item, deriving canon_len and digest.
func FromRawItems(items []any) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d: expected object", ErrInvalidInput, i)
		}
		e, err := parseEvent(obj, true, i+1)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// FromTraceItems parses already-decoded strict trace items, recomputing
// canon_len and digest and attaching mismatch labels.
func FromTraceItems(items []any) ([]Event, error) {
	events := make([]Event, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: item %d: expected object", ErrInvalidInput, i)
		}
		e, err := parseEvent(obj, false, i+1)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// WriteTrace emits events as a strict v1 wire trace. Every line is in
// canonical form: sorted keys, compact separators, ASCII-only.
func WriteTrace(w io.Writer, events []Event) error {
	for _, e := range events {
		diags := make([]any, len(e.Diagnostics))
		for i, d := range e.Diagnostics {
			diags[i] = d
		}
		line, err := canonicalize.Bytes(map[string]any{
			"event_id":    e.EventID,
			"source":      e.Source,
			"artifact":    e.Artifact,
			"payload":     e.Payload,
			"canon_len":   int64(e.CanonLen),
			"digest":      e.Digest,
			"diagnostics": diags,
		})
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
	}
	return nil
}

// FromSnapshotEnvelope projects a gateway snapshot envelope into wire events:
// each item's index becomes the event id and the item itself the payload.
func FromSnapshotEnvelope(obj map[string]any) ([]Event, error) {
	items, ok := obj["events"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: snapshot envelope events must be a list", ErrInvalidInput)
	}
	events := make([]Event, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: snapshot events must be objects", ErrInvalidInput)
		}
		id, err := intField(m, "index")
		if err != nil {
			return nil, fmt.Errorf("%w: snapshot event index must be int", ErrInvalidInput)
		}
		e, err := derive(id, SnapshotSource, SnapshotArtifact, m)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func parseEvent(obj map[string]any, raw bool, lineNo int) (Event, error) {
	want := traceKeys
	if raw {
		want = rawKeys
	}
	if err := exactKeys(obj, want); err != nil {
		return Event{}, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, lineNo, err)
	}

	id, err := intField(obj, "event_id")
	if err != nil {
		return Event{}, fmt.Errorf("%w: line %d: event_id must be int", ErrInvalidInput, lineNo)
	}
	source, ok := obj["source"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: line %d: source must be str", ErrInvalidInput, lineNo)
	}
	artifact, ok := obj["artifact"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: line %d: artifact must be str", ErrInvalidInput, lineNo)
	}
	payload := obj["payload"]

	if raw {
		return derive(id, source, artifact, payload)
	}

	canonLen, err := intField(obj, "canon_len")
	if err != nil {
		return Event{}, fmt.Errorf("%w: line %d: canon_len must be int", ErrInvalidInput, lineNo)
	}
	digest, ok := obj["digest"].(string)
	if !ok {
		return Event{}, fmt.Errorf("%w: line %d: digest must be str", ErrInvalidInput, lineNo)
	}
	diags, err := stringListField(obj, "diagnostics")
	if err != nil {
		return Event{}, fmt.Errorf("%w: line %d: %v", ErrInvalidInput, lineNo, err)
	}

	canonBytes, err := canonicalize.Bytes(payload)
	if err != nil {
		return Event{}, err
	}
	if int(canonLen) != len(canonBytes) {
		diags = append(diags, DiagCanonLenMismatch)
	}
	if digest != canonicalize.DigestBytes(canonBytes) {
		diags = append(diags, DiagDigestMismatch)
	}

	return Event{
		EventID:     id,
		Source:      source,
		Artifact:    artifact,
		Payload:     payload,
		CanonLen:    int(canonLen),
		Digest:      digest,
		Diagnostics: diags,
	}, nil
}

// derive computes canon_len and digest for a raw item.
func derive(id int64, source, artifact string, payload any) (Event, error) {
	canonBytes, err := canonicalize.Bytes(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:  id,
		Source:   source,
		Artifact: artifact,
		Payload:  payload,
		CanonLen: len(canonBytes),
		Digest:   canonicalize.DigestBytes(canonBytes),
	}, nil
}

func decodeObject(line string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(line)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("invalid json")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object")
	}
	return obj, nil
}

func isSnapshotEnvelope(obj map[string]any) bool {
	if _, ok := obj["events"]; !ok {
		return false
	}
	if _, ok := obj["events"].([]any); !ok {
		return false
	}
	for _, key := range []string{"offset", "limit"} {
		if v, present := obj[key]; present {
			if _, err := toInt(v); err != nil {
				return false
			}
		}
	}
	return true
}

func exactKeys(obj map[string]any, want []string) error {
	if len(obj) != len(want) {
		return keyMismatch(want)
	}
	for _, k := range want {
		if _, ok := obj[k]; !ok {
			return keyMismatch(want)
		}
	}
	return nil
}

func keyMismatch(want []string) error {
	if len(want) == len(rawKeys) {
		return fmt.Errorf("expected raw event fields")
	}
	return fmt.Errorf("expected trace event fields")
}

func intField(obj map[string]any, key string) (int64, error) {
	v, ok := obj[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	return toInt(v)
}

func toInt(v any) (int64, error) {
	n, ok := v.(json.Number)
	if !ok {
		return 0, fmt.Errorf("not an int")
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return 0, fmt.Errorf("not an int")
	}
	return n.Int64()
}

func stringListField(obj map[string]any, key string) ([]string, error) {
	raw, ok := obj[key].([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be list", key)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be list of str", key)
		}
		out = append(out, s)
	}
	return out, nil
}
