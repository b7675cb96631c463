package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr() != "127.0.0.1:6969" {
		t.Errorf("HTTPAddr() = %s", cfg.HTTPAddr())
	}
	if cfg.TLSAddr() != "" {
		t.Errorf("TLSAddr() = %s, want disabled", cfg.TLSAddr())
	}
	if cfg.UDPv6Addr() != "[::1]:6969" {
		t.Errorf("UDPv6Addr() = %s", cfg.UDPv6Addr())
	}
	if cfg.IntervalSeconds() != 1800 {
		t.Errorf("IntervalSeconds() = %d", cfg.IntervalSeconds())
	}
	if cfg.DBDriver != "sqlite" || !cfg.UDPEnabled || cfg.UDPIPv6Enabled {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.RetentionPeriod != 0 {
		t.Errorf("RetentionPeriod = %v, want 0 (keep forever)", cfg.RetentionPeriod)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRACKER_PORT", "7070")
	t.Setenv("TRACKER_TLS_PORT", "7443")
	t.Setenv("UDP_IPV6_ENABLED", "true")
	t.Setenv("ANNOUNCE_INTERVAL", "90s")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("UDP_WORKERS", "not-a-number")
	t.Setenv("RETENTION_PERIOD", "72h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TLSAddr() != "127.0.0.1:7443" {
		t.Errorf("TLSAddr() = %s", cfg.TLSAddr())
	}
	if !cfg.UDPIPv6Enabled {
		t.Error("UDPIPv6Enabled not set")
	}
	if cfg.IntervalSeconds() != 90 {
		t.Errorf("IntervalSeconds() = %d", cfg.IntervalSeconds())
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %s", cfg.DBDriver)
	}
	if cfg.UDPWorkers != 8 {
		t.Errorf("UDPWorkers = %d, want default on parse failure", cfg.UDPWorkers)
	}
	if cfg.RetentionPeriod != 72*time.Hour {
		t.Errorf("RetentionPeriod = %v", cfg.RetentionPeriod)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port zero", "TRACKER_PORT", "0"},
		{"port too large", "TRACKER_PORT", "70000"},
		{"unknown driver", "DB_DRIVER", "mysql"},
		{"no workers", "UDP_WORKERS", "0"},
		{"archive without credentials", "ARCHIVE_S3_BUCKET", "events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AWS_ACCESS_KEY_ID", "")
			t.Setenv("AWS_SECRET_ACCESS_KEY", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%s succeeded", tt.key, tt.val)
			}
		})
	}
}
