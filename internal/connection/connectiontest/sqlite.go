// Package connectiontest provides an in-memory platform_connections table.
package connectiontest

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const schema = `CREATE TABLE platform_connections (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	platform_user_id TEXT NOT NULL,
	platform_username TEXT,
	access_token_secret_id TEXT NOT NULL,
	refresh_token_secret_id TEXT,
	token_expires_at DATETIME,
	scopes TEXT,
	metadata TEXT,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	last_synced_at DATETIME,
	created_at DATETIME,
	updated_at DATETIME,
	UNIQUE (user_id, platform)
)`

// OpenDB opens a single-connection in-memory SQLite database with the
// platform_connections table created.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(schema).Error)
	return db
}
