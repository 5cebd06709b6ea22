// Package sharedstate provides the "shared key-value store" SPEC_FULL.md §6
// calls for: the durable, fast, atomic-increment-capable cache that lets C1,
// C2 and C3 coordinate across worker processes. It replaces the source's
// module-level singletons per §9's "global singletons -> explicit
// process-wide structs" note: callers construct one Store at startup and
// pass it down explicitly rather than reach for package-level state.
package sharedstate

import "time"

// Store is the minimal shared-cache contract C1/C2/C3 need: atomic integer
// increment (for failure/success counters), and generic JSON snapshotting
// (for proxy/circuit state mirroring). Two implementations satisfy it: an
// in-process Memory store (default) and a Redis-backed store used whenever
// REDIS_URL is configured, per §6's DOMAIN STACK note.
type Store interface {
	// Incr atomically adds delta to the integer at key (creating it at 0
	// first if absent) and returns the new value. If ttl > 0 the key's
	// expiry is (re)set to ttl.
	Incr(key string, delta int64, ttl time.Duration) int64

	// Get returns the raw value stored at key and whether it was present
	// and not expired.
	Get(key string) (string, bool)

	// Set stores a raw string value at key with the given ttl (0 = no
	// expiry).
	Set(key, value string, ttl time.Duration)

	// SetJSON marshals v and stores it at key with the given ttl. Errors
	// are swallowed (state mirroring is best-effort, never on the
	// transaction-critical path) matching the teacher's fire-and-forget
	// notification idiom.
	SetJSON(key string, v any, ttl time.Duration)

	// Delete removes key.
	Delete(key string)
}
