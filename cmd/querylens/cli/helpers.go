package cli

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/querylens/querylens/internal/backend"
	"github.com/querylens/querylens/internal/cache"
	"github.com/querylens/querylens/internal/collector"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/explain"
	"github.com/querylens/querylens/internal/store"
)

// resolveDataDir returns the data directory from the --data-dir flag, the
// QUERYLENS_DATA_DIR env var, the config file, or ~/.querylens as fallback.
func resolveDataDir(cfg *config.YAMLConfig) string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("QUERYLENS_DATA_DIR"); envDir != "" {
		return envDir
	}
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.querylens"
}

// loadConfig reads the YAML config named by --config or discovered by
// viper, falling back to defaults when no file exists.
func loadConfig() (*config.YAMLConfig, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// openStore opens the durable SQLite store under the resolved data dir.
func openStore(cfg *config.YAMLConfig) (*store.Store, error) {
	return store.New(resolveDataDir(cfg))
}

// newLogger builds the process logger from the logging config section.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newBackend builds the configured generative backend. The endpoint API
// key stored via `querylens key set-backend` takes precedence over the
// config file so the file can stay secret-free.
func newBackend(ctx context.Context, cfg config.BackendConfig, st *store.Store, logger *slog.Logger) backend.Explainer {
	if cfg.Kind != "remote" {
		return backend.NewStatic()
	}

	apiKey := cfg.APIKey
	if st != nil {
		if stored, err := st.GetSetting(ctx, "backend.api_key"); err == nil && stored != "" {
			apiKey = stored
		}
	}
	timeout, _ := time.ParseDuration(cfg.Timeout)
	return backend.NewRemote(backend.RemoteConfig{
		Endpoint:  cfg.Endpoint,
		APIKey:    apiKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   timeout,
	}, logger)
}

// buildService wires the full explanation pipeline from config. The
// returned cache is exposed separately for the stats endpoint.
func buildService(ctx context.Context, cfg *config.YAMLConfig, st *store.Store, logger *slog.Logger) (*explain.Service, *cache.Memory, *collector.Collector) {
	mem := cache.NewMemory()

	var coll *collector.Collector
	if len(cfg.Targets) > 0 {
		coll = collector.New(cfg.Targets, logger)
	}

	svcCfg := explain.Config{
		Backend:          newBackend(ctx, cfg.Backend, st, logger),
		Cache:            mem,
		Store:            st,
		Logger:           logger,
		CacheTTL:         time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		LockTTL:          time.Duration(cfg.Cache.LockTTLSeconds) * time.Second,
		DailyTokenBudget: cfg.Budget.DailyTokens,
	}
	if coll != nil {
		svcCfg.Collector = coll
	}
	return explain.New(svcCfg), mem, coll
}
