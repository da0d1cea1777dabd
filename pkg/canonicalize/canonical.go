// Package canonicalize produces the deterministic byte encoding of observed
// payloads used for digesting: recursively sorted object keys, compact
// separators, ASCII-only escaping, and integer-only numeric leaves.
package canonicalize

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"encoding/json"
)

// ErrCanonicalization marks payloads that violate the canonical JSON
// constraints: floats, NaN/Infinity, non-string object keys, or values that
// are not JSON-safe.
var ErrCanonicalization = errors.New("canonicalization_error")

// Bytes returns the canonical JSON encoding of payload.
//
// Object keys are sorted by codepoint, separators are exactly "," and ":",
// non-ASCII characters are escaped, and integers are emitted without decimal
// points. Output is UTF-8 (in fact pure ASCII).
func Bytes(payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := appendValue(&buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Length returns the byte length of the canonical encoding of payload.
func Length(payload any) (int, error) {
	b, err := Bytes(payload)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// Validate reports whether payload can be canonicalized, without keeping the
// encoding around.
func Validate(payload any) error {
	_, err := Bytes(payload)
	return err
}

func appendValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case string:
		appendString(buf, t)
		return nil
	case json.Number:
		return appendNumber(buf, t)
	case int:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case float32, float64:
		return fmt.Errorf("%w: float is not allowed in canonical payloads", ErrCanonicalization)
	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := appendValue(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendString(buf, k)
			buf.WriteByte(':')
			if err := appendValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case map[any]any:
		return fmt.Errorf("%w: object keys must be strings", ErrCanonicalization)
	default:
		return fmt.Errorf("%w: payload contains non-JSON-safe value %T", ErrCanonicalization, v)
	}
}

// appendNumber accepts integer literals only. The literal is re-parsed so the
// emitted form is the canonical base-10 rendering (e.g. "-0" becomes "0").
func appendNumber(buf *bytes.Buffer, n json.Number) error {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return fmt.Errorf("%w: float is not allowed in canonical payloads", ErrCanonicalization)
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: numeric leaf %q is not a 64-bit integer", ErrCanonicalization, s)
	}
	buf.WriteString(strconv.FormatInt(i, 10))
	return nil
}

// appendString writes s as a quoted JSON string with every character outside
// the printable ASCII range escaped. Astral codepoints become surrogate pairs.
func appendString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				buf.WriteRune(r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				fmt.Fprintf(buf, `\u%04x\u%04x`, hi, lo)
			default:
				fmt.Fprintf(buf, `\u%04x`, r)
			}
		}
	}
	buf.WriteByte('"')
}
