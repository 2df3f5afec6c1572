package spooler

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the settings database at path, creating it and its tables.
// Every commit is fully synced so a consent decision survives a crash right
// after it was recorded.
func OpenDB(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("opening settings db: %w", err)
	}
	if err := db.AutoMigrate(&Setting{}, &SubmissionAttempt{}); err != nil {
		return nil, fmt.Errorf("migrating settings db: %w", err)
	}
	return db, nil
}

// OpenQueryDB opens an existing settings database without touching its
// schema, for read-only inspection.
func OpenQueryDB(path string) (*gorm.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
}

// CloseDB closes the connection pool behind db.
func CloseDB(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
