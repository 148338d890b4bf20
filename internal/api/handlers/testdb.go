package handlers

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Wikid82/argus/internal/models"
	"github.com/Wikid82/argus/internal/services"
)

// OpenTestDB creates a migrated SQLite in-memory DB unique per test, with a
// busy timeout and WAL journal mode to reduce locking between the request
// goroutine and the background event recorder.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsnName := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000", dsnName)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed to migrate users: %v", err)
	}
	if err := services.NewSecurityService(db).Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}
