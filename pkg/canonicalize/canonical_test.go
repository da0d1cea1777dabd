package canonicalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestBytes_Sorting(t *testing.T) {
	input := map[string]any{
		"c": int64(3),
		"a": int64(1),
		"b": int64(2),
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_RecursiveSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{
			"y": "foo",
			"x": "bar",
		},
		"a": int64(1),
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_CompactSeparators(t *testing.T) {
	input := map[string]any{
		"list": []any{int64(1), "two", nil, true},
	}

	expected := `{"list":[1,"two",null,true]}`

	b, err := Bytes(input)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestBytes_ASCIIEscaping(t *testing.T) {
	cases := []struct {
		name     string
		input    any
		expected string
	}{
		{"latin", "café", "\"caf\\u00e9\""},
		{"astral", "\U0001F600", "\"\\ud83d\\ude00\""},
		{"control", "a\nb\tc", `"a\nb\tc"`},
		{"del", "", "\"\\u007f\""},
		{"quote and backslash", `a"\b`, `"a\"\\b"`},
		{"html left raw", "<script>&", `"<script>&"`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := Bytes(tc.input)
			if err != nil {
				t.Fatalf("Bytes failed: %v", err)
			}
			if string(b) != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, string(b))
			}
		})
	}
}

func TestBytes_IntegerForms(t *testing.T) {
	b, err := Bytes(map[string]any{"n": json.Number("42"), "m": int64(-7), "z": json.Number("-0")})
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}
	if string(b) != `{"m":-7,"n":42,"z":0}` {
		t.Errorf("unexpected encoding: %s", string(b))
	}
}

func TestBytes_RejectsFloats(t *testing.T) {
	cases := []any{
		float64(1.5),
		float32(2),
		json.Number("1.5"),
		json.Number("1e3"),
		json.Number("NaN"),
		json.Number("Infinity"),
		map[string]any{"nested": []any{float64(0.25)}},
	}
	for _, payload := range cases {
		if _, err := Bytes(payload); err == nil {
			t.Errorf("expected rejection for %#v", payload)
		} else if !strings.Contains(err.Error(), "canonicalization_error") {
			t.Errorf("expected canonicalization_error, got %v", err)
		}
	}
}

func TestBytes_RejectsNonStringKeys(t *testing.T) {
	if _, err := Bytes(map[int]any{1: "x"}); err == nil {
		t.Error("expected rejection of non-string keys")
	}
}

func TestBytes_Idempotent(t *testing.T) {
	payload := map[string]any{
		"b": []any{int64(1), map[string]any{"y": "z", "x": nil}},
		"a": "café",
	}
	first, err := Bytes(payload)
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	var reparsed any
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	if err := dec.Decode(&reparsed); err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	second, err := Bytes(reparsed)
	if err != nil {
		t.Fatalf("Bytes on reparsed failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("not idempotent: %s vs %s", first, second)
	}
}

func TestLength(t *testing.T) {
	n, err := Length(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatalf("Length failed: %v", err)
	}
	if n != len(`{"a":1}`) {
		t.Errorf("expected %d, got %d", len(`{"a":1}`), n)
	}
}

func TestDigest_Format(t *testing.T) {
	d, err := Digest(map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !strings.HasPrefix(d, "sha256:") {
		t.Errorf("missing prefix: %s", d)
	}
	hexPart := strings.TrimPrefix(d, "sha256:")
	if len(hexPart) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(hexPart))
	}
	if hexPart != strings.ToLower(hexPart) {
		t.Errorf("digest must be lowercase: %s", d)
	}
}

func TestDigest_EqualForEqualCanonicalForms(t *testing.T) {
	d1, err := Digest(map[string]any{"a": int64(1), "b": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := Digest(map[string]any{"b": int64(2), "a": int64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Errorf("digests differ for identical canonical forms: %s vs %s", d1, d2)
	}
}
