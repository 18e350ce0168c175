package postgres

import (
	"context"
	"errors"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/infra/store"
)

var userColumns = []string{
	"id", "email", "external_id", "tier", "queries_used", "queries_limit", "active", "created_at",
}

func scanUser(row pgx.Row) (*core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.Email, &u.ExternalID, &u.Tier,
		&u.QueriesUsed, &u.QueriesLimit, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser resolves a verified identity to its user row, provisioning
// a free-tier account on first contact. The upsert keeps the email current
// without clobbering it with an empty claim.
func (s *Store) GetOrCreateUser(ctx context.Context, identity core.Identity) (*core.User, error) {
	if identity.Subject == "" {
		return nil, core.NewError(core.CodeUserAccessFailed, "identity has no subject")
	}
	sql, args, err := s.sb.Insert("users").
		Columns("external_id", "email").
		Values(identity.Subject, identity.Email).
		Suffix(`ON CONFLICT (external_id) DO UPDATE
			SET email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)
			RETURNING id, email, external_id, tier, queries_used, queries_limit, active, created_at`).
		ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build user upsert", err)
	}

	var user *core.User
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		user, scanErr = scanUser(s.db.QueryRow(ctx, sql, args...))
		return scanErr
	})
	if err != nil {
		return nil, core.WrapError(core.CodeUserAccessFailed, "failed to resolve user", err)
	}
	return user, nil
}

// GetUser fetches a user by internal id.
func (s *Store) GetUser(ctx context.Context, userID string) (*core.User, error) {
	sql, args, err := s.sb.Select(userColumns...).
		From("users").
		Where("id = ?", userID).
		ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build user query", err)
	}

	var user *core.User
	err = s.withRetry(ctx, func(ctx context.Context) error {
		var scanErr error
		user, scanErr = scanUser(s.db.QueryRow(ctx, sql, args...))
		return scanErr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.NewError(core.CodeUserNotFound, "user not found")
	}
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to fetch user", err)
	}
	return user, nil
}

// IncrementUsageWithLog consumes one quota unit and appends the audit log in
// a single transaction. The conditional update makes the quota boundary
// race-free: once queries_used reaches the limit no concurrent request can
// push it past.
func (s *Store) IncrementUsageWithLog(ctx context.Context, userID string, entry *core.QueryLog) (*core.User, error) {
	updateSQL, updateArgs, err := s.sb.Update("users").
		Set("queries_used", squirrel.Expr("queries_used + 1")).
		Where("id = ? AND queries_used < queries_limit", userID).
		Suffix("RETURNING id, email, external_id, tier, queries_used, queries_limit, active, created_at").
		ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build usage update", err)
	}
	insertSQL, insertArgs, err := s.queryLogInsert(userID, entry)
	if err != nil {
		return nil, err
	}

	var user *core.User
	err = s.withRetry(ctx, func(ctx context.Context) error {
		tx, txErr := s.db.Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer rollback(ctx, tx)

		scanned, scanErr := scanUser(tx.QueryRow(ctx, updateSQL, updateArgs...))
		if scanErr != nil {
			return scanErr
		}
		if _, execErr := tx.Exec(ctx, insertSQL, insertArgs...); execErr != nil {
			return execErr
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			return commitErr
		}
		user = scanned
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the user is gone or the quota is spent; disambiguate.
		if _, lookupErr := s.GetUser(ctx, userID); lookupErr != nil {
			return nil, lookupErr
		}
		return nil, core.NewError(core.CodeQueryLimitExceeded, "query limit exceeded")
	}
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to record usage", err)
	}
	return user, nil
}

// InsertQueryLog appends an audit record without touching quota.
func (s *Store) InsertQueryLog(ctx context.Context, entry *core.QueryLog) error {
	sql, args, err := s.queryLogInsert(entry.UserID, entry)
	if err != nil {
		return err
	}
	err = s.withRetry(ctx, func(ctx context.Context) error {
		_, execErr := s.db.Exec(ctx, sql, args...)
		return execErr
	})
	if err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to insert query log", err)
	}
	return nil
}

func (s *Store) queryLogInsert(userID string, entry *core.QueryLog) (string, []any, error) {
	sql, args, err := s.sb.Insert("query_logs").
		Columns("user_id", "user_input", "optimized_prompt", "result",
			"latency_ms", "success", "error_message").
		Values(userID, entry.UserInput, entry.OptimizedPrompt, entry.Result,
			entry.LatencyMS, entry.Success, entry.ErrorMessage).
		ToSql()
	if err != nil {
		return "", nil, core.WrapError(core.CodeDatabaseError, "failed to build log insert", err)
	}
	return sql, args, nil
}

// ListQueryLogs returns the newest query logs for a user, capped at limit.
func (s *Store) ListQueryLogs(ctx context.Context, userID string, limit int) ([]core.QueryLog, error) {
	builder := s.sb.Select("user_id", "user_input", "optimized_prompt", "result",
		"latency_ms", "success", "error_message", "created_at").
		From("query_logs").
		Where("user_id = ?", userID).
		OrderBy("created_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to build log query", err)
	}

	var out []core.QueryLog
	err = s.withRetry(ctx, func(ctx context.Context) error {
		rows, queryErr := s.db.Query(ctx, sql, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var entry core.QueryLog
			if scanErr := rows.Scan(&entry.UserID, &entry.UserInput, &entry.OptimizedPrompt,
				&entry.Result, &entry.LatencyMS, &entry.Success,
				&entry.ErrorMessage, &entry.CreatedAt); scanErr != nil {
				return scanErr
			}
			out = append(out, entry)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, core.WrapError(core.CodeDatabaseError, "failed to list query logs", err)
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
