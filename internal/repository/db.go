// Package repository is the run ledger: one row per benchmark run, kept in
// SQLite or Postgres depending on the DSN.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/docbench/internal/common"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// Ledger wraps the database handle. pool is set only for Postgres.
type Ledger struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect string
	logger  *slog.Logger
}

// Open connects to the ledger. postgres:// and postgresql:// DSNs go through
// a pgx pool; anything else (sqlite://path, file:..., :memory:, a bare path)
// opens SQLite.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, common.NewAppError("CONFIG_ERROR", "ledger DSN is empty", common.ErrInvalidInput)
	}
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		return openPostgres(ctx, cfg, logger)
	}
	return openSQLite(ctx, cfg, logger)
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	dsn := strings.TrimPrefix(cfg.DSN, "sqlite://")
	logger.Info("ledger.connecting", "dialect", DialectSQLite, "dsn", dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", common.ErrDatabase, err)
	}
	// a second connection to :memory: would see a different database
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db, dialect: DialectSQLite, logger: logger}
	if err := l.HealthCheck(ctx, cfg.DialTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Ledger, error) {
	logger.Info("ledger.connecting", "dialect", DialectPostgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("ledger.connect_failed", "error", err)
		return nil, fmt.Errorf("%w: parse dsn: %w", common.ErrDatabase, err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "docbench"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("ledger.connect_failed", "error", err)
		return nil, fmt.Errorf("%w: connect: %w", common.ErrDatabase, err)
	}

	l := &Ledger{db: stdlib.OpenDBFromPool(pool), pool: pool, dialect: DialectPostgres, logger: logger}
	if err := l.HealthCheck(ctx, cfg.DialTimeout); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) Dialect() string { return l.dialect }

// HealthCheck pings the database.
func (l *Ledger) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.db.PingContext(ctx); err != nil {
		l.logger.Error("ledger.ping_failed", "error", err)
		return fmt.Errorf("%w: ping: %w", common.ErrDatabase, err)
	}
	return nil
}

// Close closes the database connections gracefully
func (l *Ledger) Close() {
	if err := l.db.Close(); err != nil {
		l.logger.Error("ledger.close_failed", "error", err)
	}
	if l.pool != nil {
		l.pool.Close()
	}
	l.logger.Debug("ledger.closed")
}

// rebind rewrites ? placeholders as $1, $2, ... for Postgres.
func (l *Ledger) rebind(query string) string {
	if l.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
