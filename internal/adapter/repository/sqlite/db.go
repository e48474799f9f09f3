// Package sqlite is the embedded storage backend: the event store, outbox and
// account views on a single SQLite file through gorm.
package sqlite

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open opens (creating if needed) the database at path and migrates the schema.
func Open(path string, log zerolog.Logger) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)

	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(log, 200*time.Millisecond),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serialize units of work on a single connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&eventModel{}, &outboxModel{}, &accountViewModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}

	return db, nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
