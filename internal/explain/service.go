// Package explain orchestrates the explanation pipeline: fingerprint,
// cache, plan parsing, generative backend, heuristic merge, persistence.
// Every stage except the backend call degrades gracefully.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/querylens/querylens/internal/analyzer"
	"github.com/querylens/querylens/internal/backend"
	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/model"
	"github.com/querylens/querylens/internal/planparse"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/store"
)

const (
	defaultCacheTTL       = 3600 * time.Second
	defaultLockTTL        = 10 * time.Second
	defaultComputeTimeout = 30 * time.Second

	// maxSQLLength bounds request size before any parsing happens.
	maxSQLLength = 100_000
)

// Recorder is the durable side of the pipeline. Failures here are logged,
// never surfaced.
type Recorder interface {
	SaveExplanation(ctx context.Context, rec *store.ExplanationRecord) error
	AddTokenUsage(ctx context.Context, identity, day string, tokens int) error
	TokenUsage(ctx context.Context, identity, day string) (int, error)
}

// PlanCollector fetches a live EXPLAIN plan from a configured database
// target when the caller did not supply one.
type PlanCollector interface {
	CollectPlan(ctx context.Context, target string, dialect model.Dialect, sql string) (string, error)
}

// Config wires a Service. Backend and Cache are required; Store, Collector
// and the tunables are optional.
type Config struct {
	Backend   backend.Explainer
	Cache     cache.Store
	Store     Recorder
	Collector PlanCollector
	Logger    *slog.Logger

	CacheTTL       time.Duration
	LockTTL        time.Duration
	ComputeTimeout time.Duration

	// DailyTokenBudget caps backend tokens per identity per UTC day.
	// Zero disables budgeting.
	DailyTokenBudget int
}

// Service runs the explanation pipeline.
type Service struct {
	backend   backend.Explainer
	cache     cache.Store
	store     Recorder
	collector PlanCollector
	logger    *slog.Logger

	cacheTTL       time.Duration
	lockTTL        time.Duration
	computeTimeout time.Duration
	tokenBudget    int

	persistWG sync.WaitGroup
}

// New creates a Service, applying defaults for unset tunables.
func New(cfg Config) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = defaultComputeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		backend:        cfg.Backend,
		cache:          cfg.Cache,
		store:          cfg.Store,
		collector:      cfg.Collector,
		logger:         cfg.Logger,
		cacheTTL:       cfg.CacheTTL,
		lockTTL:        cfg.LockTTL,
		computeTimeout: cfg.ComputeTimeout,
		tokenBudget:    cfg.DailyTokenBudget,
	}
}

// Wait blocks until all in-flight persistence goroutines finish. Called on
// shutdown and by tests.
func (s *Service) Wait() {
	s.persistWG.Wait()
}

// Explain runs the full pipeline for req.
func (s *Service) Explain(ctx context.Context, req model.ExplainRequest) (*model.ExplanationResult, error) {
	req.Normalize()
	if err := validate(&req); err != nil {
		return nil, err
	}

	started := time.Now()
	fp := query.Fingerprint(req.SQL)
	cacheKey := "explain:" + fp.Hash

	if req.CacheEnabled() {
		if res, ok := s.cacheLookup(ctx, cacheKey); ok {
			s.logger.Debug("cache hit", "hash", fp.Hash)
			return res, nil
		}

		lockKey := "lock:" + cacheKey
		if s.cache.TryAcquireLock(ctx, lockKey, s.lockTTL) {
			defer s.cache.ReleaseLock(ctx, lockKey)
		} else {
			// Another request is computing this fingerprint. Poll the
			// cache briefly; if nothing lands, compute independently
			// rather than queue behind a holder that may have died.
			if res, ok := s.awaitCache(ctx, cacheKey); ok {
				s.logger.Debug("cache hit after lock wait", "hash", fp.Hash)
				return res, nil
			}
			s.logger.Debug("lock wait timed out, computing independently", "hash", fp.Hash)
		}
	}

	identity := IdentityFromContext(ctx)
	if err := s.checkBudget(ctx, identity); err != nil {
		return nil, err
	}

	// The computation outlives the caller on purpose: once started, finish
	// and cache the result even if the client disconnects.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.computeTimeout)
	defer cancel()

	result, usage, err := s.compute(cctx, &req, fp)
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(started).Milliseconds()

	if req.CacheEnabled() {
		// Write through the detached context: a client that disconnected
		// mid-computation must not cost the next identical request a
		// recompute.
		if data, err := json.Marshal(result); err == nil {
			s.cache.Set(cctx, cacheKey, data, s.cacheTTL)
		} else {
			s.logger.Warn("cache encode failed", "hash", fp.Hash, "error", err)
		}
	}

	s.persist(cctx, &req, fp, result, identity, usage)
	return result, nil
}

// Fingerprint computes the literal-independent identity of a statement.
// It validates only that SQL is present; unparseable SQL still fingerprints
// via the fallback path.
func (s *Service) Fingerprint(sql string) (*model.QueryFingerprint, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &ValidationError{Field: "sql", Reason: "must not be empty"}
	}
	if len(sql) > maxSQLLength {
		return nil, &ValidationError{Field: "sql", Reason: fmt.Sprintf("exceeds %d bytes", maxSQLLength)}
	}
	fp := query.Fingerprint(sql)
	return &fp, nil
}

func validate(req *model.ExplainRequest) error {
	if strings.TrimSpace(req.SQL) == "" {
		return &ValidationError{Field: "sql", Reason: "must not be empty"}
	}
	if len(req.SQL) > maxSQLLength {
		return &ValidationError{Field: "sql", Reason: fmt.Sprintf("exceeds %d bytes", maxSQLLength)}
	}
	if !req.Dialect.Valid() {
		return &ValidationError{Field: "dialect", Reason: fmt.Sprintf("unsupported dialect %q", req.Dialect)}
	}
	return nil
}

func (s *Service) cacheLookup(ctx context.Context, key string) (*model.ExplanationResult, bool) {
	data, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var res model.ExplanationResult
	if err := json.Unmarshal(data, &res); err != nil {
		s.logger.Warn("cache entry corrupt, recomputing", "key", key, "error", err)
		return nil, false
	}
	res.Cached = true
	return &res, true
}

// awaitCache polls for a result being computed by a concurrent request.
func (s *Service) awaitCache(ctx context.Context, key string) (*model.ExplanationResult, bool) {
	interval := s.lockTTL / 5
	for i := 0; i < 3; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(interval):
		}
		if res, ok := s.cacheLookup(ctx, key); ok {
			return res, true
		}
	}
	return nil, false
}

func (s *Service) checkBudget(ctx context.Context, identity string) error {
	if s.tokenBudget <= 0 || s.store == nil {
		return nil
	}
	used, err := s.store.TokenUsage(ctx, identity, store.UsageDay(time.Now()))
	if err != nil {
		// Accounting trouble shouldn't block explanations.
		s.logger.Warn("token usage lookup failed", "identity", identity, "error", err)
		return nil
	}
	if used >= s.tokenBudget {
		return ErrBudgetExceeded
	}
	return nil
}

func (s *Service) compute(ctx context.Context, req *model.ExplainRequest, fp model.QueryFingerprint) (*model.ExplanationResult, backend.Usage, error) {
	planText := req.ExplainPlan
	if planText == "" && req.Target != "" && s.collector != nil {
		collected, err := s.collector.CollectPlan(ctx, req.Target, req.Dialect, req.SQL)
		if err != nil {
			s.logger.Warn("plan collection failed, continuing without plan",
				"target", req.Target, "error", err)
		} else {
			planText = collected
		}
	}

	var plan *model.PlanNode
	if planText != "" {
		parsed, err := planparse.Parse(planText, req.Dialect)
		if err != nil {
			s.logger.Warn("plan parse failed, continuing without structured plan",
				"dialect", req.Dialect, "error", err)
		} else {
			plan = parsed
		}
	}

	breq := backend.Request{
		SQL:          req.SQL,
		SanitizedSQL: query.Sanitize(req.SQL, true),
		Dialect:      req.Dialect,
		Schema:       req.Schema,
		ExplainPlan:  planText,
		PrivacyMode:  req.PrivacyEnabled(),
	}

	result, usage, err := s.backend.Explain(ctx, breq)
	if err != nil {
		return nil, usage, &BackendError{Backend: s.backend.Name(), Err: err}
	}

	mergeRecommendations(result, analyzer.Analyze(plan))

	result.Fingerprint = &fp
	result.Cached = false
	return result, usage, nil
}

// mergeRecommendations appends the heuristic analyzer's findings after the
// backend's own suggestions. Backend output is never reordered or replaced.
func mergeRecommendations(result *model.ExplanationResult, recs []model.Recommendation) {
	for _, rec := range recs {
		severity := model.SeverityMedium
		lower := strings.ToLower(rec.Reason)
		if strings.Contains(lower, "missing") || strings.Contains(lower, "sequential") {
			severity = model.SeverityHigh
		}
		cols := strings.Join(rec.Columns, ", ")
		suggestion := model.OptimizationSuggestion{
			Title:           fmt.Sprintf("Add %s index on %s(%s)", rec.Type, rec.Table, cols),
			Severity:        severity,
			Reason:          rec.Reason,
			EstimatedImpact: fmt.Sprintf("Reduces rows scanned on %s", rec.Table),
		}
		if len(rec.Columns) > 0 {
			suggestion.Change = fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s);",
				rec.Table, rec.Columns[0], rec.Table, cols)
		}
		result.Optimizations = append(result.Optimizations, suggestion)
	}
}

// persist records the run in the background. The request already returned
// by the time this lands; failures only log.
func (s *Service) persist(ctx context.Context, req *model.ExplainRequest, fp model.QueryFingerprint, result *model.ExplanationResult, identity string, usage backend.Usage) {
	if s.store == nil {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn("persist encode failed", "hash", fp.Hash, "error", err)
		return
	}
	rec := &store.ExplanationRecord{
		QueryHash:    fp.Hash,
		QueryPattern: fp.Pattern,
		SQL:          req.SQL,
		SanitizedSQL: query.Sanitize(req.SQL, true),
		Dialect:      string(req.Dialect),
		Explanation:  string(data),
		Confidence:   string(result.Confidence),
	}

	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		if err := s.store.SaveExplanation(ctx, rec); err != nil {
			s.logger.Warn("explanation persist failed", "hash", fp.Hash, "error", err)
		}
		if usage.Total() > 0 {
			if err := s.store.AddTokenUsage(ctx, identity, store.UsageDay(time.Now()), usage.Total()); err != nil {
				s.logger.Warn("token accounting failed", "identity", identity, "error", err)
			}
		}
	}()
}
