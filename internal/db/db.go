package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/livelyrics/bandlink/internal/store"
)

// Open opens the local database and runs migrations. Use ":memory:"
// for a throwaway database in tests.
func Open(path string) (*gorm.DB, error) {
	conn, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.AutoMigrate(&store.Device{}, &store.Transfer{}); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return conn, nil
}
