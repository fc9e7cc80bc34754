package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"coastal-alert-service/internal/logging"
	"coastal-alert-service/internal/utils"
)

type DB struct {
	Pool *pgxpool.Pool
}

// New opens a pool and waits for the database to answer a ping.
func New(ctx context.Context, dsn string, logger *logging.Logger) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	err = utils.Retry(ctx, logger, "database ping", 5, 2*time.Second, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	d.Pool.Close()
}
