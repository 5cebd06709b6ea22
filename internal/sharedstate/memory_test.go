package sharedstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIncrAccumulates(t *testing.T) {
	m := NewMemory()
	assert.Equal(t, int64(5), m.Incr("k", 5, 0))
	assert.Equal(t, int64(8), m.Incr("k", 3, 0))
}

func TestMemoryGetSetRoundTrip(t *testing.T) {
	m := NewMemory()
	m.Set("k", "v", 0)
	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	m.Set("k", "v", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()
	m.Set("k", "v", 0)
	m.Delete("k")
	_, ok := m.Get("k")
	assert.False(t, ok)
}

func TestMemorySetJSONRoundTrip(t *testing.T) {
	m := NewMemory()
	type payload struct{ Name string }
	m.SetJSON("k", payload{Name: "whale"}, 0)
	v, ok := m.Get("k")
	require.True(t, ok)
	assert.Contains(t, v, "whale")
}
