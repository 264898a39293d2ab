package explain

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/querylens/querylens/internal/backend"
	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/model"
	"github.com/querylens/querylens/internal/store"
)

// fakeBackend counts calls and replays a canned result so tests can
// observe cache and stampede behavior.
type fakeBackend struct {
	calls  atomic.Int64
	result model.ExplanationResult
	usage  backend.Usage
	err    error

	mu       sync.Mutex
	requests []backend.Request
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Explain(_ context.Context, req backend.Request) (*model.ExplanationResult, backend.Usage, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, backend.Usage{}, f.err
	}
	res := f.result
	return &res, f.usage, nil
}

func (f *fakeBackend) lastRequest(t *testing.T) backend.Request {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		t.Fatal("backend was never called")
	}
	return f.requests[len(f.requests)-1]
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []store.ExplanationRecord
	usage   map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{usage: make(map[string]int)}
}

func (f *fakeRecorder) SaveExplanation(_ context.Context, rec *store.ExplanationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRecorder) AddTokenUsage(_ context.Context, identity, day string, tokens int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage[identity+"/"+day] += tokens
	return nil
}

func (f *fakeRecorder) TokenUsage(_ context.Context, identity, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage[identity+"/"+day], nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(b backend.Explainer, rec Recorder) *Service {
	return New(Config{
		Backend: b,
		Cache:   cache.NewMemory(),
		Store:   rec,
		Logger:  quietLogger(),
		LockTTL: 50 * time.Millisecond,
	})
}

func TestExplainValidation(t *testing.T) {
	svc := newTestService(&fakeBackend{}, nil)

	cases := []struct {
		name string
		req  model.ExplainRequest
	}{
		{"empty sql", model.ExplainRequest{SQL: "   "}},
		{"oversized sql", model.ExplainRequest{SQL: "SELECT " + strings.Repeat("x", maxSQLLength)}},
		{"bad dialect", model.ExplainRequest{SQL: "SELECT 1", Dialect: "oracle"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Explain(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestExplainCacheIdempotence(t *testing.T) {
	b := &fakeBackend{result: model.ExplanationResult{
		Summary:    "Scans the users table.",
		Confidence: model.ConfidenceMedium,
	}}
	svc := newTestService(b, nil)
	req := model.ExplainRequest{SQL: "SELECT * FROM users WHERE id = 1"}

	first, err := svc.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("first Explain: %v", err)
	}
	if first.Cached {
		t.Error("first result should not be marked cached")
	}

	second, err := svc.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("second Explain: %v", err)
	}
	if !second.Cached {
		t.Error("second result should be marked cached")
	}
	if got := b.calls.Load(); got != 1 {
		t.Errorf("backend called %d times, want 1", got)
	}

	// Aside from the cached flag, the payloads must be identical.
	second.Cached = false
	a, _ := json.Marshal(first)
	bts, _ := json.Marshal(second)
	if string(a) != string(bts) {
		t.Errorf("cached result diverged:\n first: %s\nsecond: %s", a, bts)
	}

	// Different literals, same fingerprint, same cache entry.
	third, err := svc.Explain(context.Background(), model.ExplainRequest{SQL: "SELECT * FROM users WHERE id = 99"})
	if err != nil {
		t.Fatalf("third Explain: %v", err)
	}
	if !third.Cached {
		t.Error("literal variation should still hit the cache")
	}
}

func TestExplainCacheDisabled(t *testing.T) {
	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := newTestService(b, nil)
	no := false
	req := model.ExplainRequest{SQL: "SELECT * FROM orders", Cache: &no}

	for i := 0; i < 2; i++ {
		res, err := svc.Explain(context.Background(), req)
		if err != nil {
			t.Fatalf("Explain %d: %v", i, err)
		}
		if res.Cached {
			t.Errorf("run %d: cache disabled but result marked cached", i)
		}
	}
	if got := b.calls.Load(); got != 2 {
		t.Errorf("backend called %d times, want 2", got)
	}

	// Disabled runs must not have populated the cache either.
	res, err := svc.Explain(context.Background(), model.ExplainRequest{SQL: "SELECT * FROM orders"})
	if err != nil {
		t.Fatalf("Explain with cache on: %v", err)
	}
	if res.Cached {
		t.Error("cache-disabled run should not write entries")
	}
}

func TestExplainStampedeBound(t *testing.T) {
	release := make(chan struct{})
	b := &slowBackend{release: release}
	svc := newTestService(b, nil)
	req := model.ExplainRequest{SQL: "SELECT * FROM events WHERE day = '2024-01-01'"}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*model.ExplanationResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Explain(context.Background(), req)
		}(i)
	}

	// Let the lock holder finish once everyone is queued on the cache.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
		if results[i].Summary != "slow" {
			t.Errorf("goroutine %d: summary %q", i, results[i].Summary)
		}
	}
	// Most waiters should have been served from cache. The polling window
	// is short, so allow a couple of independent computations, but the
	// stampede must not reach the full fan-out.
	if got := b.calls.Load(); got >= n {
		t.Errorf("backend called %d times for %d concurrent requests", got, n)
	}
}

type slowBackend struct {
	calls   atomic.Int64
	release chan struct{}
}

func (s *slowBackend) Name() string { return "slow" }

func (s *slowBackend) Explain(ctx context.Context, _ backend.Request) (*model.ExplanationResult, backend.Usage, error) {
	s.calls.Add(1)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, backend.Usage{}, ctx.Err()
	}
	return &model.ExplanationResult{Summary: "slow", Confidence: model.ConfidenceLow}, backend.Usage{}, nil
}

func TestExplainPlanParseDegradation(t *testing.T) {
	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := newTestService(b, nil)

	res, err := svc.Explain(context.Background(), model.ExplainRequest{
		SQL:         "SELECT * FROM users",
		ExplainPlan: "this is not a plan in any dialect",
	})
	if err != nil {
		t.Fatalf("unparseable plan should not fail the request: %v", err)
	}
	if res.Summary != "ok" {
		t.Errorf("summary = %q", res.Summary)
	}
	// The raw plan text still reaches the backend prompt verbatim.
	if b.lastRequest(t).ExplainPlan != "this is not a plan in any dialect" {
		t.Error("raw plan text should be forwarded to the backend")
	}
}

func TestExplainDialectRejectedUpstream(t *testing.T) {
	// MySQL text plans are unsupported by the parser; the request still
	// succeeds without structured analysis.
	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := newTestService(b, nil)

	res, err := svc.Explain(context.Background(), model.ExplainRequest{
		SQL:         "SELECT * FROM t",
		Dialect:     model.DialectMySQL,
		ExplainPlan: "+----+-------------+ tabular explain output",
	})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(res.Optimizations) != 0 {
		t.Errorf("no structured plan means no heuristic suggestions, got %d", len(res.Optimizations))
	}
}

func TestExplainHeuristicMerge(t *testing.T) {
	plan := `[{"Plan": {
		"Node Type": "Seq Scan",
		"Relation Name": "users",
		"Filter": "(email = '?')",
		"Plan Rows": 50000,
		"Total Cost": 1800.0
	}}]`
	b := &fakeBackend{result: model.ExplanationResult{
		Summary:    "Scans users by email.",
		Confidence: model.ConfidenceHigh,
		Optimizations: []model.OptimizationSuggestion{
			{Title: "Backend suggestion", Severity: model.SeverityLow},
		},
	}}
	svc := newTestService(b, nil)

	res, err := svc.Explain(context.Background(), model.ExplainRequest{
		SQL:         "SELECT * FROM users WHERE email = 'a@b.c'",
		ExplainPlan: plan,
	})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(res.Optimizations) < 2 {
		t.Fatalf("expected backend + heuristic suggestions, got %d", len(res.Optimizations))
	}
	// Backend suggestions stay first, untouched.
	if res.Optimizations[0].Title != "Backend suggestion" {
		t.Errorf("first suggestion = %q, want backend's own", res.Optimizations[0].Title)
	}
	heuristic := res.Optimizations[1]
	if !strings.HasPrefix(heuristic.Title, "Add btree index on users(") {
		t.Errorf("heuristic title = %q", heuristic.Title)
	}
	if heuristic.Severity != model.SeverityHigh {
		t.Errorf("sequential-scan reason should be high severity, got %q", heuristic.Severity)
	}
	if !strings.HasPrefix(heuristic.Change, "CREATE INDEX idx_users_") {
		t.Errorf("heuristic change = %q", heuristic.Change)
	}
	if res.Fingerprint == nil || res.Fingerprint.Hash == "" {
		t.Error("result should carry the query fingerprint")
	}
}

func TestExplainHeuristicMergeKeepsPlanOrder(t *testing.T) {
	// Two sequential scans under a join: the derived suggestions must land
	// after the backend's own, in plan pre-order.
	plan := `[{"Plan": {
		"Node Type": "Hash Join",
		"Plan Rows": 40000,
		"Plans": [
			{"Node Type": "Seq Scan", "Relation Name": "users", "Filter": "(email = '?')", "Plan Rows": 50000},
			{"Node Type": "Seq Scan", "Relation Name": "orders", "Filter": "(user_id = 42)", "Plan Rows": 90000}
		]
	}}]`
	b := &fakeBackend{result: model.ExplanationResult{
		Summary:    "Joins users to orders.",
		Confidence: model.ConfidenceHigh,
		Optimizations: []model.OptimizationSuggestion{
			{Title: "Backend suggestion", Severity: model.SeverityLow},
		},
	}}
	svc := newTestService(b, nil)

	res, err := svc.Explain(context.Background(), model.ExplainRequest{
		SQL:         "SELECT * FROM users u JOIN orders o ON o.user_id = u.id WHERE u.email = 'a@b.c'",
		ExplainPlan: plan,
	})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if len(res.Optimizations) != 3 {
		t.Fatalf("got %d suggestions, want backend + 2 heuristics", len(res.Optimizations))
	}
	if res.Optimizations[0].Title != "Backend suggestion" {
		t.Errorf("first suggestion = %q, want backend's own", res.Optimizations[0].Title)
	}
	wantTitles := []string{
		"Add btree index on users(email)",
		"Add btree index on orders(user_id)",
	}
	for i, want := range wantTitles {
		got := res.Optimizations[i+1]
		if got.Title != want {
			t.Errorf("heuristic %d title = %q, want %q", i, got.Title, want)
		}
		if got.Severity != model.SeverityHigh {
			t.Errorf("heuristic %d severity = %q, want high", i, got.Severity)
		}
	}
}

// ctxRecordingCache wraps the in-memory store and records the context state
// observed at write time plus the keys used for locking, so tests can pin
// the contract a networked Store implementation would see.
type ctxRecordingCache struct {
	*cache.Memory
	mu        sync.Mutex
	setCtxErr []error
	lockKeys  []string
}

func (c *ctxRecordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.setCtxErr = append(c.setCtxErr, ctx.Err())
	c.mu.Unlock()
	c.Memory.Set(ctx, key, value, ttl)
}

func (c *ctxRecordingCache) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) bool {
	c.mu.Lock()
	c.lockKeys = append(c.lockKeys, key)
	c.mu.Unlock()
	return c.Memory.TryAcquireLock(ctx, key, ttl)
}

// cancellingBackend cancels the caller's request context before returning,
// simulating a client that disconnected mid-computation.
type cancellingBackend struct {
	cancel context.CancelFunc
}

func (c *cancellingBackend) Name() string { return "cancelling" }

func (c *cancellingBackend) Explain(context.Context, backend.Request) (*model.ExplanationResult, backend.Usage, error) {
	c.cancel()
	return &model.ExplanationResult{Summary: "done", Confidence: model.ConfidenceLow}, backend.Usage{}, nil
}

func TestExplainCacheWriteSurvivesClientCancel(t *testing.T) {
	mem := &ctxRecordingCache{Memory: cache.NewMemory()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := New(Config{
		Backend: &cancellingBackend{cancel: cancel},
		Cache:   mem,
		Logger:  quietLogger(),
	})
	req := model.ExplainRequest{SQL: "SELECT * FROM users WHERE id = 1"}

	res, err := svc.Explain(ctx, req)
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if res.Summary != "done" {
		t.Errorf("summary = %q", res.Summary)
	}

	mem.mu.Lock()
	ctxErrs := append([]error(nil), mem.setCtxErr...)
	mem.mu.Unlock()
	if len(ctxErrs) != 1 {
		t.Fatalf("cache written %d times, want 1", len(ctxErrs))
	}
	// The write must ride the detached computation context, not the dead
	// request context, or a context-honoring store would drop it.
	if ctxErrs[0] != nil {
		t.Errorf("cache write observed a cancelled context: %v", ctxErrs[0])
	}

	// The spend is preserved: the next identical request hits the cache.
	second, err := svc.Explain(context.Background(), req)
	if err != nil {
		t.Fatalf("second Explain: %v", err)
	}
	if !second.Cached {
		t.Error("result computed for a disconnected client should still be cached")
	}
}

func TestExplainLockKeyIncludesCacheKey(t *testing.T) {
	mem := &ctxRecordingCache{Memory: cache.NewMemory()}
	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := New(Config{Backend: b, Cache: mem, Logger: quietLogger()})

	res, err := svc.Explain(context.Background(), model.ExplainRequest{SQL: "SELECT * FROM users WHERE id = 1"})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}

	mem.mu.Lock()
	defer mem.mu.Unlock()
	if len(mem.lockKeys) != 1 {
		t.Fatalf("acquired %d locks, want 1", len(mem.lockKeys))
	}
	// Lock keys prefix the full cache key so that value and lock entries
	// for a fingerprint stay adjacent in a shared store.
	want := "lock:explain:" + res.Fingerprint.Hash
	if mem.lockKeys[0] != want {
		t.Errorf("lock key = %q, want %q", mem.lockKeys[0], want)
	}
}

func TestExplainBackendFailureIsFatal(t *testing.T) {
	b := &fakeBackend{err: errors.New("upstream 503")}
	svc := newTestService(b, nil)

	_, err := svc.Explain(context.Background(), model.ExplainRequest{SQL: "SELECT 1"})
	var berr *BackendError
	if !errors.As(err, &berr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if berr.Backend != "fake" {
		t.Errorf("Backend = %q", berr.Backend)
	}
}

func TestExplainPersistence(t *testing.T) {
	rec := newFakeRecorder()
	b := &fakeBackend{
		result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceMedium},
		usage:  backend.Usage{PromptTokens: 100, CompletionTokens: 50},
	}
	svc := newTestService(b, rec)

	ctx := WithIdentity(context.Background(), "alice")
	if _, err := svc.Explain(ctx, model.ExplainRequest{SQL: "SELECT * FROM users WHERE id = 7"}); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	svc.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.records) != 1 {
		t.Fatalf("persisted %d records, want 1", len(rec.records))
	}
	saved := rec.records[0]
	if saved.QueryHash == "" || saved.QueryPattern == "" {
		t.Error("record missing fingerprint fields")
	}
	if !strings.Contains(saved.SanitizedSQL, "?") {
		t.Errorf("sanitized SQL should redact literals, got %q", saved.SanitizedSQL)
	}
	day := store.UsageDay(time.Now())
	if rec.usage["alice/"+day] != 150 {
		t.Errorf("token usage = %d, want 150", rec.usage["alice/"+day])
	}
}

func TestExplainBudgetExceeded(t *testing.T) {
	rec := newFakeRecorder()
	day := store.UsageDay(time.Now())
	rec.usage["bob/"+day] = 10_000

	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := New(Config{
		Backend:          b,
		Cache:            cache.NewMemory(),
		Store:            rec,
		Logger:           quietLogger(),
		DailyTokenBudget: 10_000,
	})

	ctx := WithIdentity(context.Background(), "bob")
	_, err := svc.Explain(ctx, model.ExplainRequest{SQL: "SELECT 1"})
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if b.calls.Load() != 0 {
		t.Error("backend should not be called once the budget is spent")
	}
}

func TestExplainPrivacyMode(t *testing.T) {
	b := &fakeBackend{result: model.ExplanationResult{Summary: "ok", Confidence: model.ConfidenceLow}}
	svc := newTestService(b, nil)

	if _, err := svc.Explain(context.Background(), model.ExplainRequest{
		SQL: "SELECT * FROM users WHERE ssn = '123-45-6789'",
	}); err != nil {
		t.Fatalf("Explain: %v", err)
	}
	req := b.lastRequest(t)
	if !req.PrivacyMode {
		t.Error("privacy mode should default on")
	}
	if strings.Contains(req.PromptSQL(), "123-45-6789") {
		t.Errorf("literal leaked into prompt SQL: %q", req.PromptSQL())
	}
}

func TestFingerprintOperation(t *testing.T) {
	svc := newTestService(&fakeBackend{}, nil)

	fp, err := svc.Fingerprint("SELECT * FROM users WHERE id = 5")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp.Hash == "" || len(fp.Tables) != 1 || fp.Tables[0] != "users" {
		t.Errorf("unexpected fingerprint: %+v", fp)
	}

	if _, err := svc.Fingerprint(""); err == nil {
		t.Error("empty SQL should fail validation")
	}
}
