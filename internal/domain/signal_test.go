package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalStateMachine(t *testing.T) {
	s := &Signal{Status: SignalPending}
	now := time.Now()

	require.NoError(t, s.StartProcessing(now))
	assert.Equal(t, SignalProcessing, s.Status)
	assert.Equal(t, int64(1), s.Version)

	err := s.StartProcessing(now)
	assert.Error(t, err, "starting an already-processing signal must fail")

	require.NoError(t, s.MarkProcessed(now, 2))
	assert.Equal(t, SignalProcessed, s.Status)
	assert.Equal(t, 2, s.TradesExecuted)

	assert.Error(t, s.MarkFailed(now, "x"), "a terminal signal cannot fail")
}

func TestSignalExpireIsIdempotentOnTerminal(t *testing.T) {
	s := &Signal{Status: SignalPending}
	now := time.Now()
	assert.True(t, s.Expire(now))
	assert.Equal(t, SignalExpired, s.Status)
	assert.False(t, s.Expire(now), "expiring an already-expired signal is a no-op, not an error")
}

func TestSignalAge(t *testing.T) {
	now := time.Now()
	s := &Signal{DetectedAt: now.Add(-90 * time.Second)}
	assert.InDelta(t, 90, s.Age(now).Seconds(), 1)
}
