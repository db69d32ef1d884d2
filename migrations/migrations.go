// Package migrations embeds the SQL schema for the outbox and inbox tables
// and applies it idempotently. Statements use IF NOT EXISTS guards so Apply
// is safe to run on every startup.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/syncbus/errors"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

// Apply runs every embedded migration in filename order.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: connection pool is required", errors.ErrMissingConfig),
			"migrations", "Apply", "check dependencies")
	}

	names, err := fs.Glob(sqlFiles, "sql/*.sql")
	if err != nil {
		return errors.WrapUnrecoverable(err, "migrations", "Apply", "list embedded migrations")
	}
	sort.Strings(names)

	for _, name := range names {
		stmt, err := sqlFiles.ReadFile(name)
		if err != nil {
			return errors.WrapUnrecoverable(err, "migrations", "Apply", "read "+name)
		}
		if _, err := pool.Exec(ctx, string(stmt)); err != nil {
			return errors.WrapTransient(err, "migrations", "Apply", "execute "+name)
		}
	}
	return nil
}
