// Package postgres stores worker runs and messages in PostgreSQL, for
// deployments where several orchestrators share one run history and mailbox.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ankittk/agentorch/internal/store"
)

// Options configures Open.
type Options struct {
	// DSN is a postgres:// URL or key=value string; DATABASE_URL when empty.
	DSN string
	// MaxConcurrent is the engine's worker limit. Every run holds a
	// connection only briefly at start and finish, so the pool is sized a
	// little above it.
	MaxConcurrent int
	// AppName is reported as application_name, "agentorch" when empty.
	AppName string
}

const minConns = 4

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects, checks the server is reachable and applies pending
// migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, errors.New("postgres: DSN or DATABASE_URL required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = poolSize(opts.MaxConcurrent)
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		name := opts.AppName
		if name == "" {
			name = "agentorch"
		}
		cfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := &Store{Pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func poolSize(maxConcurrent int) int32 {
	n := int32(maxConcurrent) + minConns
	if n < minConns*2 {
		n = minConns * 2
	}
	return n
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.Pool == nil {
		return nil
	}
	s.Pool.Close()
	return nil
}
