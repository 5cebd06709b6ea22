package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
)

func newSignal(id int64, priority domain.Priority, detectedAt time.Time) *domain.Signal {
	return &domain.Signal{ID: id, Status: domain.SignalPending, Priority: priority, DetectedAt: detectedAt}
}

func TestPickNextPrefersHighestPriority(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityLow, now))
	q.Enqueue(newSignal(2, domain.PriorityHigh, now))
	q.Enqueue(newSignal(3, domain.PriorityMedium, now))

	got := q.PickNext(now, "")
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, domain.SignalProcessing, got.Status)
}

func TestPickNextBreaksTiesByOldestDetectedAt(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityHigh, now))
	q.Enqueue(newSignal(2, domain.PriorityHigh, now.Add(-time.Minute)))

	got := q.PickNext(now, "")
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
}

func TestPickNextSkipsExpiredSignals(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityHigh, now.Add(-2*time.Minute)))

	got := q.PickNext(now, "")
	assert.Nil(t, got)
}

func TestPickNextNeverReturnsSameSignalTwice(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityHigh, now))

	first := q.PickNext(now, "")
	require.NotNil(t, first)
	second := q.PickNext(now, "")
	assert.Nil(t, second, "a PROCESSING signal must not be picked again")
}

func TestMarkProcessedAndMarkFailed(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityHigh, now))
	q.PickNext(now, "")

	require.NoError(t, q.MarkProcessed(1, 2, now))
	sig, ok := q.Get(1)
	require.True(t, ok)
	assert.Equal(t, domain.SignalProcessed, sig.Status)
	assert.Equal(t, 2, sig.TradesExecuted)

	q.Enqueue(newSignal(2, domain.PriorityHigh, now))
	q.PickNext(now, "")
	require.NoError(t, q.MarkFailed(2, "boom", now))
	sig2, _ := q.Get(2)
	assert.Equal(t, domain.SignalFailed, sig2.Status)
}

func TestCleanupExpiredBatchExpires(t *testing.T) {
	q := New(30)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityHigh, now.Add(-time.Minute)))
	q.Enqueue(newSignal(2, domain.PriorityHigh, now))

	n := q.CleanupExpired(now)
	assert.Equal(t, 1, n)

	sig1, _ := q.Get(1)
	assert.Equal(t, domain.SignalExpired, sig1.Status)
	sig2, _ := q.Get(2)
	assert.Equal(t, domain.SignalPending, sig2.Status)
}

func TestPickNextRespectsMinPriority(t *testing.T) {
	q := New(60)
	now := time.Now()
	q.Enqueue(newSignal(1, domain.PriorityLow, now))

	got := q.PickNext(now, domain.PriorityMedium)
	assert.Nil(t, got, "a LOW signal must not be picked when minPriority is MEDIUM")
}
