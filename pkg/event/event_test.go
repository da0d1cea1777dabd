package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeKind(t *testing.T) {
	assert.Equal(t, KindDecision, NormalizeKind("decision"))
	assert.Equal(t, KindPolicyChange, NormalizeKind("policy_change"))
	assert.Equal(t, KindOther, NormalizeKind("telemetry"))
	assert.Equal(t, KindOther, NormalizeKind(""))
	// Kinds are case-sensitive.
	assert.Equal(t, KindOther, NormalizeKind("DECISION"))
}

func TestLatency(t *testing.T) {
	var e ObservedEvent
	_, ok := e.Latency()
	assert.False(t, ok)

	ms := int64(42)
	e.LatencyMS = &ms
	got, ok := e.Latency()
	assert.True(t, ok)
	assert.Equal(t, int64(42), got)
}
