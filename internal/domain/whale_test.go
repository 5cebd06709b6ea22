package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWhaleRecordEmptyFetchEscalatesToStaleThenDead(t *testing.T) {
	w := &Whale{DataStatus: DataStatusActive}

	for i := 0; i < 2; i++ {
		w.RecordEmptyFetch(3, 10)
	}
	assert.Equal(t, DataStatusActive, w.DataStatus)

	w.RecordEmptyFetch(3, 10)
	assert.Equal(t, DataStatusStale, w.DataStatus)

	for i := 0; i < 7; i++ {
		w.RecordEmptyFetch(3, 10)
	}
	assert.Equal(t, DataStatusDead, w.DataStatus)
}

func TestWhaleRecordPositionsFoundReactivatesStaleNotDead(t *testing.T) {
	stale := &Whale{DataStatus: DataStatusStale, ConsecutiveEmpty: 5}
	stale.RecordPositionsFound(time.Now())
	assert.Equal(t, DataStatusActive, stale.DataStatus)
	assert.Zero(t, stale.ConsecutiveEmpty)

	dead := &Whale{DataStatus: DataStatusDead, ConsecutiveEmpty: 20}
	dead.RecordPositionsFound(time.Now())
	assert.Equal(t, DataStatusDead, dead.DataStatus, "a DEAD whale must not auto-resurrect")
}

func TestWhaleIsBitget(t *testing.T) {
	assert.True(t, (&Whale{Exchange: ExchangeBitget}).IsBitget())
	assert.False(t, (&Whale{Exchange: ExchangeBinance}).IsBitget())
}
