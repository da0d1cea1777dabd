package trace

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
)

func TestReadRaw_DerivesCanonLenAndDigest(t *testing.T) {
	input := `{"event_id":1,"source":"s","artifact":"a","payload":{"b":2,"a":1}}` + "\n"
	events, err := ReadRaw(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, int64(1), e.EventID)
	assert.Equal(t, len(`{"a":1,"b":2}`), e.CanonLen)
	assert.Equal(t, canonicalize.DigestBytes([]byte(`{"a":1,"b":2}`)), e.Digest)
	assert.Empty(t, e.Diagnostics)
}

func TestReadRaw_RejectsUnknownField(t *testing.T) {
	input := `{"event_id":1,"source":"s","artifact":"a","payload":{},"extra":true}`
	_, err := ReadRaw(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReadRaw_RejectsMissingField(t *testing.T) {
	input := `{"event_id":1,"source":"s","payload":{}}`
	_, err := ReadRaw(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReadRaw_RejectsFloatPayload(t *testing.T) {
	input := `{"event_id":1,"source":"s","artifact":"a","payload":{"x":1.5}}`
	_, err := ReadRaw(strings.NewReader(input))
	assert.ErrorIs(t, err, canonicalize.ErrCanonicalization)
}

func TestReadRaw_SnapshotEnvelope(t *testing.T) {
	input := `{"events":[{"index":4,"kind":"decision"},{"index":5,"kind":"execution"}],"offset":4,"limit":2}`
	events, err := ReadRaw(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(4), events[0].EventID)
	assert.Equal(t, SnapshotSource, events[0].Source)
	assert.Equal(t, SnapshotArtifact, events[0].Artifact)

	payload, ok := events[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "decision", payload["kind"])
}

func TestReadRaw_RejectsContentAfterEnvelope(t *testing.T) {
	input := `{"events":[{"index":1}]}` + "\n" + `{"event_id":2,"source":"s","artifact":"a","payload":{}}`
	_, err := ReadRaw(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReadTrace_StrictKeys(t *testing.T) {
	// canon_len missing.
	input := `{"event_id":1,"source":"s","artifact":"a","payload":{},"digest":"sha256:x","diagnostics":[]}`
	_, err := ReadTrace(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrInvalidInput)

	// Unknown extra key.
	input = `{"event_id":1,"source":"s","artifact":"a","payload":{},"canon_len":2,"digest":"sha256:x","diagnostics":[],"v":1}`
	_, err = ReadTrace(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestReadTrace_AttachesMismatchLabels(t *testing.T) {
	digest, err := canonicalize.Digest(map[string]any{})
	require.NoError(t, err)

	input := `{"event_id":1,"source":"s","artifact":"a","payload":{},"canon_len":99,"digest":"` + digest + `","diagnostics":[]}` + "\n" +
		`{"event_id":2,"source":"s","artifact":"a","payload":{},"canon_len":2,"digest":"sha256:0000","diagnostics":[]}`
	events, err := ReadTrace(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, []string{DiagCanonLenMismatch}, events[0].Diagnostics)
	assert.Equal(t, []string{DiagDigestMismatch}, events[1].Diagnostics)
}

func TestWriteTrace_RoundTrip(t *testing.T) {
	raw := `{"event_id":1,"source":"s","artifact":"a","payload":{"k":"café","n":7}}`
	events, err := ReadRaw(strings.NewReader(raw))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, events))

	line := strings.TrimSpace(buf.String())
	// Canonical line form: sorted keys, compact separators, ASCII only.
	assert.True(t, strings.HasPrefix(line, `{"artifact":"a","canon_len":`), line)
	assert.NotContains(t, line, " ")
	assert.Contains(t, line, `\u00e9`)
	assert.NotContains(t, line, "é")

	reread, err := ReadTrace(&buf)
	require.NoError(t, err)
	require.Len(t, reread, 1)
	// A written trace re-reads without mismatch labels.
	assert.Empty(t, reread[0].Diagnostics)
	assert.Equal(t, events[0].Digest, reread[0].Digest)
}

func TestReadTrace_EmptyAndBlankLines(t *testing.T) {
	events, err := ReadTrace(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.Empty(t, events)
}
