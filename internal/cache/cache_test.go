package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("empty cache should miss")
	}
	m.Set(ctx, "k", []byte("value"), time.Hour)
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "value" {
		t.Errorf("got %q, %v", got, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	m.Set(ctx, "k", []byte("v"), time.Hour)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("fresh entry should hit")
	}

	current = current.Add(61 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("expired entry should miss")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set(ctx, "k", []byte("abc"), time.Hour)
	got, _ := m.Get(ctx, "k")
	got[0] = 'x'
	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("cached value mutated through returned slice: %q", again)
	}
}

func TestLockSingleAcquirer(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquireLock(ctx, "lock:k", 10*time.Second) {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()
	if acquired.Load() != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired.Load())
	}
}

func TestLockReleaseAndExpiry(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	current := time.Now()
	m.now = func() time.Time { return current }

	if !m.TryAcquireLock(ctx, "k", 10*time.Second) {
		t.Fatal("first acquire should succeed")
	}
	if m.TryAcquireLock(ctx, "k", 10*time.Second) {
		t.Error("second acquire while held should fail")
	}

	m.ReleaseLock(ctx, "k")
	if !m.TryAcquireLock(ctx, "k", 10*time.Second) {
		t.Error("acquire after release should succeed")
	}

	// A crashed holder's lock frees itself after the TTL.
	current = current.Add(11 * time.Second)
	if !m.TryAcquireLock(ctx, "k", 10*time.Second) {
		t.Error("acquire after TTL expiry should succeed")
	}
}

func TestStats(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Get(ctx, "missing")
	m.Set(ctx, "k", []byte("v"), time.Hour)
	m.Get(ctx, "k")

	s := m.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("stats = %+v", s)
	}
}
