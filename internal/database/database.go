// Package database provides the GORM connection and the persisted schema
// of the ingestion pipeline. The storage engine is treated as single
// writer: the loader serializes all writes through one connection for the
// duration of an import. No foreign-key enforcement is assumed; referential
// consistency is the loader's responsibility.
package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/annovault/annovault/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the database selected by the configuration and migrates
// the schema.
func Connect(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	logMode := gormlogger.Silent
	if cfg.LogQueries {
		logMode = gormlogger.Info
	}
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(logMode),
	}

	switch cfg.Type {
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
			cfg.Host, cfg.Username, cfg.Password, cfg.Database, cfg.Port)
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(cfg.DatabasePath), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the schema for all pipeline entities.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Dataset{},
		&Sample{},
		&Annotation{},
		&Category{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
