// Package cache provides the result cache and the per-key stampede lock
// used by the explanation orchestrator. The cache is an accelerator, never
// a correctness dependency: every operation is failure-tolerant, so an
// implementation backed by an unreachable store degrades to misses and
// unacquired locks rather than errors.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the key/value contract the orchestrator depends on.
//
// Get returns (nil, false) on a miss, expiry, or store failure.
// TryAcquireLock is an atomic create-if-absent with expiry: among
// concurrent attempters for the same key, exactly one receives true.
// A store failure reads as "not acquired".
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	TryAcquireLock(ctx context.Context, key string, ttl time.Duration) bool
	ReleaseLock(ctx context.Context, key string)
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Entries int    `json:"entries"`
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is the in-process Store implementation: TTL-expired entries, a
// lock namespace separate from the value namespace, and lazy sweeping on
// write. It never fails, making it the reference behavior for the
// degradation rules remote implementations must follow.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	locks   map[string]time.Time
	hits    uint64
	misses  uint64
	sets    uint64

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemory creates an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		locks:   make(map[string]time.Time),
		now:     time.Now,
	}
}

// sweepEvery bounds how much garbage accumulates between sweeps.
const sweepEvery = 256

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || m.now().After(e.expiresAt) {
		if ok {
			delete(m.entries, key)
		}
		m.misses++
		return nil, false
	}
	m.hits++
	// Copy so callers cannot mutate the cached bytes.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true
}

// Set implements Store. Non-positive TTLs are ignored.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = entry{value: stored, expiresAt: m.now().Add(ttl)}

	m.sets++
	if m.sets%sweepEvery == 0 {
		m.sweepLocked()
	}
}

// TryAcquireLock implements Store.
func (m *Memory) TryAcquireLock(_ context.Context, key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, held := m.locks[key]; held && m.now().Before(expiry) {
		return false
	}
	m.locks[key] = m.now().Add(ttl)
	return true
}

// ReleaseLock implements Store. Releasing an expired or absent lock is a
// no-op.
func (m *Memory) ReleaseLock(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
}

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

func (m *Memory) sweepLocked() {
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
		}
	}
	for k, expiry := range m.locks {
		if now.After(expiry) {
			delete(m.locks, k)
		}
	}
}
