package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"math"
	"strings"

	"github.com/pressly/goose/v3"
)

// Migrate applies every pending migration found in fsys and returns the
// schema version afterwards.
func Migrate(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) (int64, error) {
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	return p.GetDBVersion(ctx)
}

// SchemaVersion reports the applied version without migrating.
func SchemaVersion(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) (int64, error) {
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return 0, fmt.Errorf("migrations: %w", err)
	}
	return p.GetDBVersion(ctx)
}

// LikePattern turns free text into a case-folded substring pattern with
// LIKE wildcards escaped by '\'.
func LikePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
}

// Limit maps a non-positive limit to "no limit".
func Limit(n int) int {
	if n <= 0 {
		return math.MaxInt32
	}
	return n
}
