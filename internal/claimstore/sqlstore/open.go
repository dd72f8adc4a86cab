package sqlstore

import (
	"context"
	"fmt"

	"github.com/claimflow/internal/database"
)

// Open connects to the configured database and applies migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(ctx, string(dialect), dsn)
	if err != nil {
		return nil, err
	}
	s := New(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}
