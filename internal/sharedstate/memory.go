package sharedstate

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Memory is the default single-process Store: a mutex-guarded map. It is
// sufficient when the engine runs as one process; multi-process deployments
// set REDIS_URL and get the Redis-backed Store instead (see redis.go).
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

func (m *Memory) Incr(key string, delta int64, ttl time.Duration) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	e, ok := m.data[key]
	var cur int64
	if ok && !e.expired(now) {
		cur, _ = strconv.ParseInt(e.value, 10, 64)
	}
	cur += delta

	ne := entry{value: strconv.FormatInt(cur, 10)}
	if ttl > 0 {
		ne.expires = now.Add(ttl)
	}
	m.data[key] = ne
	return cur
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok || e.expired(time.Now()) {
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(key, value string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.data[key] = e
}

func (m *Memory) SetJSON(key string, v any, ttl time.Duration) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.Set(key, string(b), ttl)
}

func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}
