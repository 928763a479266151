package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "nutrition-server"

// NewPool opens the clinical record store. One pool serves every practice
// schema; the tenant middleware pins a connection per request and points its
// search_path at the practice, and the path is reset when the connection goes
// back to the pool.
func NewPool(ctx context.Context, databaseURL string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(databaseURL, maxConns, minConns)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach record store: %w", err)
	}
	return pool, nil
}

// poolConfig applies DB_MAX_CONNS and DB_MIN_CONNS on top of DATABASE_URL.
// Zero keeps the value from the URL or the pgx default.
func poolConfig(databaseURL string, maxConns, minConns int32) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	if cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", cfg.MinConns, cfg.MaxConns)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	cfg.AfterRelease = resetSearchPath
	return cfg, nil
}

// resetSearchPath drops the practice schema a request left on the connection.
// A connection that cannot be reset is destroyed.
func resetSearchPath(conn *pgx.Conn) bool {
	_, err := conn.Exec(context.Background(), "RESET search_path")
	return err == nil
}
