package store

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// newTestStore opens a fresh in-memory sqlite database with every migration
// applied, giving each test case an isolated schema.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := Open(Config{Driver: "sqlite", DSN: dsn, Logger: zap.NewNop(), LogLevel: gormlogger.Silent})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	return New(db, zap.NewNop())
}
