package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whalecopy/internal/domain"
)

func testCfg() domain.CircuitConfig {
	return domain.CircuitConfig{FailureThreshold: 3, FailureWindow: time.Minute, ResetTimeout: 10 * time.Millisecond, SuccessThreshold: 2}
}

func TestCanExecuteClosedAlwaysTrue(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	ok, _ := r.CanExecute("binance")
	assert.True(t, ok)
}

func TestRecordFailureOpensAfterThreshold(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	now := time.Now()
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	ok, _ := r.CanExecute("binance")
	require.True(t, ok, "below threshold must still allow execution")

	r.RecordFailure("binance", now)
	ok, remaining := r.CanExecute("binance")
	assert.False(t, ok)
	assert.True(t, remaining > 0)
}

func TestCanExecuteTransitionsToHalfOpenAfterResetTimeout(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	now := time.Now()
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)

	ok, _ := r.CanExecute("binance")
	require.False(t, ok)

	time.Sleep(15 * time.Millisecond)
	ok, _ = r.CanExecute("binance")
	assert.True(t, ok)
	assert.Equal(t, domain.BreakerHalfOpen, r.Snapshot("binance").State)
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	now := time.Now()
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	time.Sleep(15 * time.Millisecond)
	r.CanExecute("binance") // transitions to half-open

	r.RecordSuccess("binance")
	assert.Equal(t, domain.BreakerHalfOpen, r.Snapshot("binance").State)
	r.RecordSuccess("binance")
	assert.Equal(t, domain.BreakerClosed, r.Snapshot("binance").State)
}

func TestHalfOpenReOpensImmediatelyOnFailure(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	now := time.Now()
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	r.RecordFailure("binance", now)
	time.Sleep(15 * time.Millisecond)
	r.CanExecute("binance")

	r.RecordFailure("binance", time.Now())
	assert.Equal(t, domain.BreakerOpen, r.Snapshot("binance").State)
}

func TestFailureWindowSlidesOldFailuresOut(t *testing.T) {
	cfg := testCfg()
	cfg.FailureWindow = 20 * time.Millisecond
	r := NewRegistry(cfg, nil)

	old := time.Now().Add(-time.Second)
	r.RecordFailure("binance", old)
	r.RecordFailure("binance", old)
	r.RecordFailure("binance", time.Now())

	ok, _ := r.CanExecute("binance")
	assert.True(t, ok, "failures outside the sliding window must not count toward the threshold")
}

func TestConfigureOverridesPerService(t *testing.T) {
	r := NewRegistry(testCfg(), nil)
	r.Configure("okx", domain.CircuitConfig{FailureThreshold: 1, FailureWindow: time.Minute, ResetTimeout: time.Minute, SuccessThreshold: 1})

	now := time.Now()
	r.RecordFailure("okx", now)
	ok, _ := r.CanExecute("okx")
	assert.False(t, ok, "a one-failure threshold override must open after a single failure")
}
