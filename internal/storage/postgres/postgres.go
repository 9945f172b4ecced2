// Package postgres persists the audit trail in PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/config"
)

// ApplicationName tags every connection opened by the server.
const ApplicationName = "parley"

// Pool owns the connections shared by the audit repositories.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the audit database described by cfg and verifies it
// answers a ping.
//
// Postcondition: Returns a connected Pool or a non-nil error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging audit database %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Pool{pool: pool}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Probe adapts Health to a fixed timeout for periodic health checks.
func (p *Pool) Probe(timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		return p.Health(ctx, timeout)
	}
}

// LogStats writes a snapshot of pool usage.
func (p *Pool) LogStats(logger *zap.Logger) {
	s := p.pool.Stat()
	logger.Info("audit database pool",
		zap.Int32("total", s.TotalConns()),
		zap.Int32("idle", s.IdleConns()),
		zap.Int32("acquired", s.AcquiredConns()),
		zap.Int64("acquires", s.AcquireCount()))
}

// Close releases all connections. The pool is unusable afterwards.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
