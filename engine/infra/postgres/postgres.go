package postgres

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sethvargo/go-retry"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// DB is the subset of pgxpool.Pool the store uses. pgxmock implements it for
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store is the Postgres-backed persistence layer.
type Store struct {
	db DB
	sb squirrel.StatementBuilderType
}

// NewStore wraps an existing connection pool (or a mock in tests).
func NewStore(db DB) *Store {
	return &Store{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Connect opens a pool against the database URL and verifies connectivity.
func Connect(ctx context.Context, url string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "invalid database URL", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, core.WrapError(core.CodeDatabaseError, "database unreachable", err)
	}
	logger.FromContext(ctx).Info("Database connection established")
	return NewStore(pool), nil
}

// HealthCheck pings the pool.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return core.WrapError(core.CodeDatabaseError, "database unreachable", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.db.Close()
}

// withRetry runs fn and retries exactly once on a transient connection
// failure. Integrity and constraint errors are never retried.
func (s *Store) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(100*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isTransient(err) {
			logger.FromContext(ctx).Warn("Transient database error; retrying once",
				"error", core.RedactError(err))
			return retry.RetryableError(err)
		}
		return err
	})
}

// isTransient reports whether an error looks like a dropped or refused
// connection rather than a logical failure.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exceptions. 57P01: admin shutdown.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" || pgErr.Code == "57P01"
	}
	return pgconn.SafeToRetry(err)
}

func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.FromContext(ctx).Warn("Transaction rollback failed", "error", err)
	}
}
