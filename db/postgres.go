package db

import (
	"context"
	"embed"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed db_init.sql
var sqlFS embed.FS

func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return pool, nil
}

// OpenDatabase connects to Postgres and brings the schema up to date.
func OpenDatabase(
	ctx context.Context,
	url string,
	logger *log.Logger,
) (*pgxpool.Pool, *Queries, error) {
	pool, err := Connect(ctx, url)
	if err != nil {
		return nil, nil, err
	}

	if err := Migrate(ctx, pool, logger, nil); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return pool, New(pool), nil
}
