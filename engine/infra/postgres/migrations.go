package postgres

import (
	"context"
	"embed"

	// Registers the pgx database/sql driver goose migrates with.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies all pending schema migrations against the database URL.
func Migrate(ctx context.Context, url string) error {
	db, err := goose.OpenDBWithDriver("pgx", url)
	if err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to open migration connection", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.FromContext(ctx).Warn("Failed to close migration connection", "error", closeErr)
		}
	}()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to set migration dialect", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return core.WrapError(core.CodeDatabaseError, "failed to apply migrations", err)
	}
	logger.FromContext(ctx).Info("Database migrations applied")
	return nil
}
