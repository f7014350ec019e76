package ledger

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to the ledger database. Postgres DSNs (postgres:// or
// key=value form) select the postgres driver; anything else is treated as a
// sqlite path or DSN, which is what local deployments and tests use.
func Open(dsn string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("ledger: database DSN must be configured")
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if isPostgresDSN(trimmed) {
		db, err := gorm.Open(postgres.Open(trimmed), cfg)
		if err != nil {
			return nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
		return db, nil
	}
	db, err := gorm.Open(sqlite.Open(trimmed), cfg)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}
	return db, nil
}

func isPostgresDSN(dsn string) bool {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return true
	}
	return strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname=")
}
