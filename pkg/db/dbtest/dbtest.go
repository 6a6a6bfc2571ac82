// Package dbtest opens throwaway sqlite databases with the circulation schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/circulation-backend/pkg/db"
)

// Open returns an isolated in-memory database. A single connection serializes
// transactions the way row locks would on postgres.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:circulation_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.SyncSchema(conn); err != nil {
		t.Fatalf("sync schema: %v", err)
	}
	return conn
}

// Client wraps Open in the transaction-capable client used by services.
func Client(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromDB(conn), conn
}
