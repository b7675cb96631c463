// Package database opens the gorm handle used by the event store.
package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sdko-org/trackerspotter/internal/config"
	"github.com/sdko-org/trackerspotter/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the driver selected in cfg and migrates the schema.
func Open(logger *logrus.Logger, cfg *config.Config) (*gorm.DB, error) {
	switch strings.ToLower(cfg.DBDriver) {
	case DriverSQLite, "":
		return NewSQLiteDB(logger, cfg.DBPath)
	case DriverPostgres:
		return NewPostgresDB(logger, PostgresConfig{
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			DBName:   cfg.PostgresDatabase,
			SSLMode:  cfg.PostgresSSLMode,
		})
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DBDriver)
	}
}

// NewSQLiteDB opens a local single-writer database. WAL lets the dashboard read
// while a listener writes.
func NewSQLiteDB(logger *logrus.Logger, path string) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"driver":    DriverSQLite,
		"path":      path,
	})

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")
	dsn := path
	if !memory {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(logger))
	if err != nil {
		log.WithError(err).Error("Failed to open database")
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	if memory {
		// each connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := migrate(db); err != nil {
		log.WithError(err).Error("Database migration failed")
		return nil, err
	}

	log.Info("Database opened")
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(store.Models()...); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	return nil
}

// gormConfig routes gorm's own logging through logrus at warn level so slow
// queries and errors are visible without per-query noise.
func gormConfig(logger *logrus.Logger) *gorm.Config {
	return &gorm.Config{
		Logger: gormlogger.New(logger, gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
