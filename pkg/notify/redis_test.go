package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/observer/pkg/signal"
)

var _ Publisher = (*RedisPublisher)(nil)

func TestPublishSignals_EmptyBatchSkipsNetwork(t *testing.T) {
	// Points at nothing; an empty batch must short-circuit before dialing.
	p := NewRedisPublisher("127.0.0.1:1", "observer:signals")
	defer func() { _ = p.Close() }()

	err := p.PublishSignals(context.Background(), nil)
	assert.NoError(t, err)
}

func TestPublishSignals_UnreachableBrokerErrors(t *testing.T) {
	p := NewRedisPublisher("127.0.0.1:1", "observer:signals")
	defer func() { _ = p.Close() }()

	err := p.PublishSignals(context.Background(), []signal.Signal{
		{Name: signal.NameErrorCluster, Severity: signal.SeverityWarn},
	})
	require.Error(t, err)
}
