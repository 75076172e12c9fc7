package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/1broseidon/beacon/internal/logging"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// migrate applies every pending migration found under dir.
func migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, dir string, logger *logging.Logger) error {
	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations %s: %w", dir, err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys, goose.WithLogger(&gooseLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	for _, r := range results {
		logger.WithFields(map[string]interface{}{
			"version":  r.Source.Version,
			"duration": r.Duration.String(),
		}).Info("Applied migration")
	}
	return nil
}

// gooseLogger adapts our logger to goose's logger interface. Fatalf only logs:
// migration failures come back as errors.
type gooseLogger struct {
	logger *logging.Logger
}

func (gl *gooseLogger) Printf(format string, v ...interface{}) {
	gl.logger.Debugf(strings.TrimSpace(format), v...)
}

func (gl *gooseLogger) Fatalf(format string, v ...interface{}) {
	gl.logger.Errorf(strings.TrimSpace(format), v...)
}
