package store

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLatestExplanation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &ExplanationRecord{
		QueryHash:    "abc123",
		QueryPattern: "select * from users where id = ?",
		SQL:          "SELECT * FROM users WHERE id = 42",
		SanitizedSQL: "select * from users where id = ?",
		Dialect:      "postgres",
		Explanation:  `{"summary":"scans users"}`,
		Confidence:   "medium",
	}
	if err := s.SaveExplanation(ctx, rec); err != nil {
		t.Fatalf("SaveExplanation: %v", err)
	}
	if rec.ID == 0 {
		t.Error("expected ID to be set after insert")
	}

	// A second record for the same hash should win the lookup.
	rec2 := &ExplanationRecord{
		QueryHash:    "abc123",
		QueryPattern: rec.QueryPattern,
		SQL:          rec.SQL,
		SanitizedSQL: rec.SanitizedSQL,
		Dialect:      "postgres",
		Explanation:  `{"summary":"scans users, updated"}`,
		Confidence:   "high",
	}
	if err := s.SaveExplanation(ctx, rec2); err != nil {
		t.Fatalf("SaveExplanation second: %v", err)
	}

	got, err := s.LatestExplanation(ctx, "abc123")
	if err != nil {
		t.Fatalf("LatestExplanation: %v", err)
	}
	if got.Confidence != "high" {
		t.Errorf("expected latest record, got confidence %q", got.Confidence)
	}

	if _, err := s.LatestExplanation(ctx, "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown hash, got %v", err)
	}

	n, err := s.CountExplanations(ctx)
	if err != nil {
		t.Fatalf("CountExplanations: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 records, got %d", n)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	key, err := s.CreateAPIKey(ctx, "ci-bot")
	if err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if !strings.HasPrefix(key, "qlk_") {
		t.Errorf("expected qlk_ prefix, got %q", key)
	}

	name, err := s.ValidateAPIKey(ctx, key)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if name != "ci-bot" {
		t.Errorf("name = %q, want ci-bot", name)
	}

	if _, err := s.ValidateAPIKey(ctx, "qlk_bogus"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for bogus key, got %v", err)
	}

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	if len(keys) != 1 || keys[0].KeyHash == key {
		t.Errorf("expected one hashed key entry, got %+v", keys)
	}

	if err := s.RevokeAPIKey(ctx, "ci-bot"); err != nil {
		t.Fatalf("RevokeAPIKey: %v", err)
	}
	if _, err := s.ValidateAPIKey(ctx, key); err != ErrNotFound {
		t.Errorf("revoked key should not validate, got %v", err)
	}
	if err := s.RevokeAPIKey(ctx, "ci-bot"); err != ErrNotFound {
		t.Errorf("double revoke should return ErrNotFound, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "backend.model"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.SetSetting(ctx, "backend.model", "gpt-4o-mini"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "backend.model", "gpt-4o"); err != nil {
		t.Fatalf("SetSetting upsert: %v", err)
	}
	v, err := s.GetSetting(ctx, "backend.model")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if v != "gpt-4o" {
		t.Errorf("value = %q, want gpt-4o", v)
	}
}

func TestTokenUsage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := UsageDay(time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC))

	if day != "2024-03-15" {
		t.Fatalf("UsageDay = %q", day)
	}

	got, err := s.TokenUsage(ctx, "alice", day)
	if err != nil || got != 0 {
		t.Fatalf("fresh identity usage = %d, %v", got, err)
	}

	if err := s.AddTokenUsage(ctx, "alice", day, 1200); err != nil {
		t.Fatalf("AddTokenUsage: %v", err)
	}
	if err := s.AddTokenUsage(ctx, "alice", day, 800); err != nil {
		t.Fatalf("AddTokenUsage second: %v", err)
	}
	got, err = s.TokenUsage(ctx, "alice", day)
	if err != nil {
		t.Fatalf("TokenUsage: %v", err)
	}
	if got != 2000 {
		t.Errorf("usage = %d, want 2000", got)
	}

	// Other days and identities are isolated.
	other, _ := s.TokenUsage(ctx, "alice", "2024-03-16")
	if other != 0 {
		t.Errorf("next-day usage = %d, want 0", other)
	}
}
