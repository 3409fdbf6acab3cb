// Package migrations embeds the goose SQL migrations for the intake schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

var setupOnce sync.Once

func setup() {
	goose.SetBaseFS(FS)
	goose.SetLogger(goose.NopLogger())
	_ = goose.SetDialect("postgres")
}

// Up applies all pending migrations. It is safe to call on every startup.
func Up(ctx context.Context, db *sql.DB) error {
	return Run(ctx, db, "up")
}

// Run executes a goose command (up, down, status, version, redo, ...)
// against the embedded migrations.
func Run(ctx context.Context, db *sql.DB, command string, args ...string) error {
	setupOnce.Do(setup)
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("migrations %s: %w", command, err)
	}
	return nil
}
