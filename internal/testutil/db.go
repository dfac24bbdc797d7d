// Package testutil provides an isolated, migrated database per test.
package testutil

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"medication-adherence-server/internal/models"
)

var dbCounter atomic.Int64

// NewDB opens a fresh in-memory SQLite database with the schema applied.
// The pool holds one connection so that every statement sees the same
// in-memory database and writers serialize.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", name, dbCounter.Add(1))

	db, err := models.Open(models.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}

// NewFileDB opens a migrated SQLite database in a temporary file with a pool
// of conns connections, for tests that need transactions on separate
// connections. SQLite still admits one writer at a time: transactions begin
// IMMEDIATE and wait on the busy timeout for the write lock.
func NewFileDB(t testing.TB, conns int) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "engine.db")
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"

	db, err := models.Open(models.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.Migrate(db))
	return db
}
