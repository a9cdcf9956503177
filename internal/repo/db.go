// Package repo implements the persistence layer of the gateway, backed by
// GORM over SQLite (pure Go driver). Only the conversation registry and
// the idempotency store are persisted; transcripts are in-memory by design.
//
// The default deployment uses an in-memory SQLite database, so nothing
// survives a process restart. Pointing DB_PATH at a file keeps the registry
// across restarts without changing any code path.
package repo

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormotel "gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-pantry-chat/internal/domain"
)

// MemoryDSN opens a process-lifetime, shared in-memory SQLite database.
const MemoryDSN = "file::memory:?cache=shared"

// Open opens (or creates) the SQLite database at path and applies PRAGMAs.
// The MemoryDSN constant and any "file:...mode=memory" DSN skip the parent
// directory check.
func Open(path string) (*gorm.DB, error) {
	if !strings.HasPrefix(path, "file:") {
		// Fail early if the parent directory does not exist, instead of a
		// cryptic sqlite "out of memory (14)".
		if dir := filepath.Dir(path); dir != "." {
			if _, err := os.Stat(dir); err != nil {
				return nil, err
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// EnableTracing attaches the GORM OpenTelemetry plugin. Metrics are left to
// the HTTP layer, so only tracing is registered here.
func EnableTracing(db *gorm.DB) error {
	return db.Use(gormotel.NewPlugin(gormotel.WithoutMetrics()))
}

// AutoMigrate creates or updates the registry and idempotency tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Conversation{},
		&domain.Idempotency{},
	)
}
