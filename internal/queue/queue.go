// Package queue implements C7: a priority-ordered signal queue with
// exactly-once processing semantics via optimistic locking on each Signal's
// version field, per SPEC_FULL.md §9's resolution of the source's
// inconsistent enforcement.
package queue

import (
	"sync"
	"time"

	"whalecopy/internal/domain"
)

// DefaultExpirySeconds is the §4.7 default signal expiry.
const DefaultExpirySeconds = 60

// Queue holds Signals in memory, ordered for PickNext by (priority,
// detected_at). A production deployment backs this with the Signals table
// via the repository layer; this in-process structure is what every
// worker actually contends on.
type Queue struct {
	mu            sync.Mutex
	signals       map[int64]*domain.Signal
	expirySeconds int
}

// New constructs an empty queue with the given expiry window.
func New(expirySeconds int) *Queue {
	if expirySeconds <= 0 {
		expirySeconds = DefaultExpirySeconds
	}
	return &Queue{signals: make(map[int64]*domain.Signal), expirySeconds: expirySeconds}
}

// Enqueue adds a freshly detected PENDING signal.
func (q *Queue) Enqueue(s *domain.Signal) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.signals[s.ID] = s
}

// PickNext implements §4.7's pick_next: returns the highest-priority,
// oldest-detected PENDING signal whose age <= expiry_seconds, atomically
// transitioning it to PROCESSING via its optimistic-locked version field.
// minPriority, if non-empty, excludes lower-priority signals from
// consideration (used by priority-aware workers); pass "" to consider all.
func (q *Queue) PickNext(now time.Time, minPriority domain.Priority) *domain.Signal {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *domain.Signal
	for _, s := range q.signals {
		if s.Status != domain.SignalPending {
			continue
		}
		if s.Age(now) > time.Duration(q.expirySeconds)*time.Second {
			continue // expired signals must not be dispatched
		}
		if minPriority != "" && s.Priority.Rank() > minPriority.Rank() {
			continue
		}
		if best == nil || better(s, best) {
			best = s
		}
	}
	if best == nil {
		return nil
	}

	expectedVersion := best.Version
	if err := casStartProcessing(best, expectedVersion, now); err != nil {
		return nil
	}
	return best
}

// better reports whether candidate should be picked ahead of current:
// HIGH before MEDIUM before LOW, ties broken by oldest detected_at.
func better(candidate, current *domain.Signal) bool {
	if candidate.Priority.Rank() != current.Priority.Rank() {
		return candidate.Priority.Rank() < current.Priority.Rank()
	}
	return candidate.DetectedAt.Before(current.DetectedAt)
}

// casStartProcessing is the optimistic-locked read-modify-write: it only
// applies the PENDING->PROCESSING transition if the version has not moved
// since the caller observed it, so two workers racing PickNext cannot both
// win the same signal. Since this in-process Queue serializes all access
// under q.mu, the CAS can never actually lose a race here — the check
// exists so a repository-backed Queue (comparing against a stored row
// version) can reuse this exact function unchanged.
func casStartProcessing(s *domain.Signal, expectedVersion int64, now time.Time) error {
	if s.Version != expectedVersion {
		return &domain.FatalError{Reason: "version conflict"}
	}
	return s.StartProcessing(now)
}

// MarkProcessed implements mark_processed: PROCESSING -> PROCESSED.
func (q *Queue) MarkProcessed(id int64, tradesExecuted int, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.signals[id]
	if !ok {
		return &domain.FatalError{Reason: "unknown signal"}
	}
	return s.MarkProcessed(now, tradesExecuted)
}

// MarkFailed implements mark_failed: terminal failure from PENDING or
// PROCESSING.
func (q *Queue) MarkFailed(id int64, msg string, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.signals[id]
	if !ok {
		return &domain.FatalError{Reason: "unknown signal"}
	}
	return s.MarkFailed(now, msg)
}

// CleanupExpired implements cleanup_expired: transitions every over-age
// PENDING signal to EXPIRED in one batch pass, returning how many were
// expired.
func (q *Queue) CleanupExpired(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	maxAge := time.Duration(q.expirySeconds) * time.Second
	for _, s := range q.signals {
		if s.Status == domain.SignalPending && s.Age(now) > maxAge {
			if s.Expire(now) {
				n++
			}
		}
	}
	return n
}

// Get returns the current state of one signal, for tests/inspection.
func (q *Queue) Get(id int64) (*domain.Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.signals[id]
	return s, ok
}
