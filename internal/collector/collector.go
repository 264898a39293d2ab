// Package collector fetches live EXPLAIN plans from configured database
// targets. Pools open lazily on first use; a target that is down only
// costs the request its structured plan.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/querylens/querylens/internal/model"
)

// Target is one database a caller can request plans from.
type Target struct {
	Name    string        `yaml:"name"`
	Dialect model.Dialect `yaml:"dialect"`
	DSN     string        `yaml:"dsn"`
}

// Collector manages one connection pool per target.
type Collector struct {
	logger  *slog.Logger
	targets map[string]Target

	mu    sync.Mutex
	pools map[string]*sqlx.DB
}

// New builds a collector over the configured targets.
func New(targets []Target, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]Target, len(targets))
	for _, t := range targets {
		m[t.Name] = t
	}
	return &Collector{
		logger:  logger,
		targets: m,
		pools:   make(map[string]*sqlx.DB),
	}
}

// Close closes all opened pools.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var first error
	for name, db := range c.pools {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(c.pools, name)
	}
	return first
}

// Targets returns the configured target names, for readiness reporting.
func (c *Collector) Targets() []string {
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	return names
}

func driverFor(d model.Dialect) string {
	switch d {
	case model.DialectPostgres:
		return "pgx"
	case model.DialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func (c *Collector) pool(target Target) (*sqlx.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if db, ok := c.pools[target.Name]; ok {
		return db, nil
	}
	db, err := sqlx.Open(driverFor(target.Dialect), target.DSN)
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", target.Name, err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	c.pools[target.Name] = db
	return db, nil
}

// CollectPlan runs the dialect's EXPLAIN variant against the named target
// and returns the raw plan text. The statement itself is never executed
// for postgres and mysql; sqlite's EXPLAIN QUERY PLAN is equally inert.
func (c *Collector) CollectPlan(ctx context.Context, name string, dialect model.Dialect, sql string) (string, error) {
	target, ok := c.targets[name]
	if !ok {
		return "", fmt.Errorf("unknown target %q", name)
	}
	if target.Dialect != dialect {
		return "", fmt.Errorf("target %q is %s, request is %s", name, target.Dialect, dialect)
	}

	db, err := c.pool(target)
	if err != nil {
		return "", err
	}

	switch dialect {
	case model.DialectPostgres:
		return c.singleColumn(ctx, db, "EXPLAIN (FORMAT JSON) "+sql)
	case model.DialectMySQL:
		return c.singleColumn(ctx, db, "EXPLAIN FORMAT=JSON "+sql)
	default:
		return c.sqlitePlan(ctx, db, sql)
	}
}

// singleColumn collects a plan that arrives as rows of one text column.
// Postgres JSON plans span multiple rows; MySQL returns exactly one.
func (c *Collector) singleColumn(ctx context.Context, db *sqlx.DB, stmt string) (string, error) {
	rows, err := db.QueryxContext(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("run explain: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("scan explain row: %w", err)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read explain rows: %w", err)
	}
	return b.String(), nil
}

// sqlitePlan renders EXPLAIN QUERY PLAN rows back into the pipe-separated
// text form the parser expects.
func (c *Collector) sqlitePlan(ctx context.Context, db *sqlx.DB, sql string) (string, error) {
	rows, err := db.QueryxContext(ctx, "EXPLAIN QUERY PLAN "+sql)
	if err != nil {
		return "", fmt.Errorf("run explain: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var id, parent, notused int
		var detail string
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			return "", fmt.Errorf("scan explain row: %w", err)
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d|%d|%d|%s", id, parent, notused, detail)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read explain rows: %w", err)
	}
	return b.String(), nil
}
