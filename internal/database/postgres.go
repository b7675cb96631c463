package database

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	connectAttempts   = 5
	connectFirstDelay = 2 * time.Second
)

// PostgresConfig selects a server for deployments that share one event log
// across several tracker instances.
type PostgresConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	DBName   string
	SSLMode  string
}

// DSN renders the libpq keyword form. Empty fields are left out so the driver
// falls back to its PG* environment defaults.
func (c PostgresConfig) DSN() string {
	pairs := []struct{ key, value string }{
		{"host", c.Host},
		{"port", c.Port},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.DBName},
		{"sslmode", c.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// NewPostgresDB connects with exponential backoff and migrates the schema.
func NewPostgresDB(logger *logrus.Logger, cfg PostgresConfig) (*gorm.DB, error) {
	log := logger.WithFields(logrus.Fields{
		"component": "database",
		"driver":    DriverPostgres,
		"host":      cfg.Host,
		"database":  cfg.DBName,
	})

	db, err := openWithRetry(log, connectAttempts, connectFirstDelay, time.Sleep, func() (*gorm.DB, error) {
		return gorm.Open(postgres.Open(cfg.DSN()), gormConfig(logger))
	})
	if err != nil {
		log.WithError(err).Error("Failed to open database")
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := migrate(db); err != nil {
		log.WithError(err).Error("Database migration failed")
		return nil, err
	}

	log.Info("Database opened")
	return db, nil
}

// openWithRetry calls open up to attempts times, doubling the pause after each
// failure. The last error is returned when every attempt fails.
func openWithRetry(log *logrus.Entry, attempts int, delay time.Duration, sleep func(time.Duration), open func() (*gorm.DB, error)) (*gorm.DB, error) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var db *gorm.DB
		if db, err = open(); err == nil {
			return db, nil
		}
		log.WithError(err).WithField("attempt", attempt).Warn("Database connection failed")
		if attempt < attempts {
			sleep(delay)
			delay *= 2
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
}
