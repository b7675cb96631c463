package database

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sdko-org/trackerspotter/internal/config"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestOpenSQLite(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"file", filepath.Join(t.TempDir(), "events.db")},
		{"memory", ":memory:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := Open(quietLogger(), &config.Config{DBDriver: DriverSQLite, DBPath: tt.path})
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer Close(db)

			if !db.Migrator().HasTable("announces") {
				t.Error("announces table not migrated")
			}
			for _, col := range []string{"recorded_at", "info_hash_hex", "left_bytes", "peer_key", "raw_headers"} {
				if !db.Migrator().HasColumn("announces", col) {
					t.Errorf("missing column %s", col)
				}
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(quietLogger(), &config.Config{DBDriver: "mysql"}); err == nil {
		t.Error("Open() with unknown driver succeeded")
	}
}

func TestPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      PostgresConfig
		expected string
	}{
		{
			"full",
			PostgresConfig{User: "tracker", Password: "secret", Host: "db", Port: "5432", DBName: "events", SSLMode: "disable"},
			"host=db port=5432 user=tracker password=secret dbname=events sslmode=disable",
		},
		{
			"empty fields skipped",
			PostgresConfig{Host: "db", DBName: "events"},
			"host=db dbname=events",
		},
		{
			"quoted password",
			PostgresConfig{Host: "db", Password: `it's a \pass`},
			`host=db password='it\'s a \\pass'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.expected {
				t.Errorf("DSN() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestOpenWithRetry(t *testing.T) {
	log := quietLogger().WithField("component", "database")

	t.Run("succeeds after failures", func(t *testing.T) {
		var calls int
		var pauses []time.Duration
		want := &gorm.DB{}
		db, err := openWithRetry(log, 5, time.Second, func(d time.Duration) { pauses = append(pauses, d) }, func() (*gorm.DB, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			return want, nil
		})
		if err != nil || db != want {
			t.Fatalf("openWithRetry() = %v, %v", db, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
		if len(pauses) != 2 || pauses[0] != time.Second || pauses[1] != 2*time.Second {
			t.Errorf("pauses = %v", pauses)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		var calls, sleeps int
		refused := errors.New("connection refused")
		_, err := openWithRetry(log, 3, time.Second, func(time.Duration) { sleeps++ }, func() (*gorm.DB, error) {
			calls++
			return nil, refused
		})
		if !errors.Is(err, refused) {
			t.Errorf("error = %v, want wrapped %v", err, refused)
		}
		if calls != 3 || sleeps != 2 {
			t.Errorf("calls = %d, sleeps = %d", calls, sleeps)
		}
	})
}
