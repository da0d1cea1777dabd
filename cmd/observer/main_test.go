package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"observer"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestProject_RawToTrace(t *testing.T) {
	in := writeFile(t, "raw.jsonl",
		`{"event_id":1,"source":"s","artifact":"a","payload":{"b":2,"a":1}}`+"\n")
	out := filepath.Join(t.TempDir(), "trace.jsonl")

	code, _, stderr := runCLI(t, "project", "--input", in, "--output", out)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.Contains(t, line, `"canon_len":13`)
	assert.Contains(t, line, `"digest":"sha256:`)
	assert.Contains(t, line, `"diagnostics":[]`)
}

func TestProject_SnapshotEnvelope(t *testing.T) {
	in := writeFile(t, "snap.json", `{"events":[{"index":1},{"index":3}],"offset":0}`)
	var out bytes.Buffer
	code := Run([]string{"observer", "project", "--input", in}, &out, &out)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "ordering_gap_observed")
}

func TestDiagnostic_AppliesLabels(t *testing.T) {
	// Build a trace via project, then rerun it through diagnostic mode.
	raw := writeFile(t, "raw.jsonl",
		`{"event_id":2,"source":"s","artifact":"a","payload":{}}`+"\n"+
			`{"event_id":1,"source":"s","artifact":"a","payload":{}}`+"\n")
	traced := filepath.Join(t.TempDir(), "trace.jsonl")
	code, _, _ := runCLI(t, "project", "--input", raw, "--output", traced)
	require.Equal(t, 0, code)

	var out bytes.Buffer
	code = Run([]string{"observer", "diagnostic", "--input", traced}, &out, &out)
	require.Equal(t, 0, code)
	assert.Contains(t, out.String(), "non_monotonic_event_id_observed")
}

func TestExplain_Lines(t *testing.T) {
	raw := writeFile(t, "raw.jsonl", `{"event_id":1,"source":"s","artifact":"a","payload":{}}`)
	traced := filepath.Join(t.TempDir(), "trace.jsonl")
	code, _, _ := runCLI(t, "project", "--input", raw, "--output", traced)
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "explain", "--input", traced)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "event_id=1 source=s artifact=a")
}

func TestDiff_RequiresReference(t *testing.T) {
	in := writeFile(t, "trace.jsonl", "")
	code, _, stderr := runCLI(t, "diff", "--input", in)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--reference")
}

func TestDiff_ReportsDigestMismatch(t *testing.T) {
	raw := writeFile(t, "raw.jsonl",
		`{"event_id":1,"source":"s","artifact":"a","payload":{"v":1}}`)
	rawRef := writeFile(t, "rawref.jsonl",
		`{"event_id":1,"source":"s","artifact":"a","payload":{"v":2}}`)

	traced := filepath.Join(t.TempDir(), "trace.jsonl")
	refTraced := filepath.Join(t.TempDir(), "ref.jsonl")
	code, _, _ := runCLI(t, "project", "--input", raw, "--output", traced)
	require.Equal(t, 0, code)
	code, _, _ = runCLI(t, "project", "--input", rawRef, "--output", refTraced)
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "diff", "--input", traced, "--reference", refTraced)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "reference_digest_mismatch_observed")
}

func TestSummary_Counts(t *testing.T) {
	raw := writeFile(t, "raw.jsonl",
		`{"event_id":1,"source":"s1","artifact":"a","payload":{}}`+"\n"+
			`{"event_id":2,"source":"s2","artifact":"a","payload":{}}`+"\n")
	traced := filepath.Join(t.TempDir(), "trace.jsonl")
	code, _, _ := runCLI(t, "project", "--input", raw, "--output", traced)
	require.Equal(t, 0, code)

	code, stdout, _ := runCLI(t, "summary", "--input", traced)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "total_events=2")
	assert.Contains(t, stdout, "source=s1 count=1")
	assert.Contains(t, stdout, "artifact=a count=2")
}

func TestExitCode_InputParseFailure(t *testing.T) {
	in := writeFile(t, "bad.jsonl", `not json`)
	code, _, _ := runCLI(t, "diagnostic", "--input", in)
	assert.Equal(t, 1, code)
}

func TestExitCode_CanonicalizationFailure(t *testing.T) {
	in := writeFile(t, "float.jsonl",
		`{"event_id":1,"source":"s","artifact":"a","payload":{"x":0.5}}`)
	code, _, _ := runCLI(t, "project", "--input", in)
	assert.Equal(t, 2, code)
}

func TestExitCode_MissingInputFile(t *testing.T) {
	code, _, _ := runCLI(t, "diagnostic", "--input", filepath.Join(t.TempDir(), "absent"))
	assert.Equal(t, 2, code)
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Unknown command")
}

func TestHelp(t *testing.T) {
	code, stdout, _ := runCLI(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "observer <command>")
}
