package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TrackerHost      string
	TrackerPort      int
	TrackerTLSPort   int
	UDPEnabled       bool
	UDPIPv6Enabled   bool
	UDPIPv6Host      string
	UDPWorkers       int
	UDPQueueSize     int
	AnnounceInterval time.Duration

	DBDriver         string
	DBPath           string
	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	RetentionPeriod   time.Duration
	RetentionInterval time.Duration
	ArchiveS3Bucket   string
	ArchiveS3Prefix   string
	S3Region          string
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string

	RateLimit         int
	RateLimitWindow   time.Duration
	TrustProxyHeaders bool
	SubscriberBuffer  int

	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	cfg := &Config{
		TrackerHost:      getEnv("TRACKER_HOST", "127.0.0.1"),
		TrackerPort:      getEnvInt("TRACKER_PORT", 6969),
		TrackerTLSPort:   getEnvInt("TRACKER_TLS_PORT", 0),
		UDPEnabled:       getEnvBool("UDP_ENABLED", true),
		UDPIPv6Enabled:   getEnvBool("UDP_IPV6_ENABLED", false),
		UDPIPv6Host:      getEnv("UDP_IPV6_HOST", "::1"),
		UDPWorkers:       getEnvInt("UDP_WORKERS", 8),
		UDPQueueSize:     getEnvInt("UDP_QUEUE_SIZE", 1024),
		AnnounceInterval: getEnvDuration("ANNOUNCE_INTERVAL", 30*time.Minute),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		DBPath:           getEnv("DB_PATH", "trackerspotter.db"),
		PostgresUser:     getEnv("POSTGRES_USER", "trackerspotter"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "trackerspotter"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RetentionPeriod:   getEnvDuration("RETENTION_PERIOD", 0),
		RetentionInterval: getEnvDuration("RETENTION_INTERVAL", 30*time.Minute),
		ArchiveS3Bucket:   getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Prefix:   getEnv("ARCHIVE_S3_PREFIX", "announces/"),
		S3Region:          getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKey:       getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:       getEnv("AWS_SECRET_ACCESS_KEY", ""),

		RateLimit:         getEnvInt("API_RATE_LIMIT", 120),
		RateLimitWindow:   getEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),
		TrustProxyHeaders: getEnvBool("TRUST_PROXY_HEADERS", false),
		SubscriberBuffer:  getEnvInt("SUBSCRIBER_BUFFER", 64),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.TrackerPort < 1 || c.TrackerPort > 65535 {
		return fmt.Errorf("TRACKER_PORT out of range: %d", c.TrackerPort)
	}
	if c.TrackerTLSPort < 0 || c.TrackerTLSPort > 65535 {
		return fmt.Errorf("TRACKER_TLS_PORT out of range: %d", c.TrackerTLSPort)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.UDPWorkers < 1 {
		return fmt.Errorf("UDP_WORKERS must be positive")
	}
	if c.UDPQueueSize < 1 {
		return fmt.Errorf("UDP_QUEUE_SIZE must be positive")
	}
	if c.RetentionPeriod > 0 && c.RetentionInterval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive when retention is enabled")
	}
	if c.ArchiveS3Bucket != "" && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("AWS credentials must be provided for archiving")
	}
	return nil
}

// HTTPAddr is the plain HTTP listen address.
func (c *Config) HTTPAddr() string {
	return net.JoinHostPort(c.TrackerHost, strconv.Itoa(c.TrackerPort))
}

// TLSAddr is empty when the HTTPS listener is disabled.
func (c *Config) TLSAddr() string {
	if c.TrackerTLSPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.TrackerHost, strconv.Itoa(c.TrackerTLSPort))
}

func (c *Config) UDPAddr() string {
	return c.HTTPAddr()
}

func (c *Config) UDPv6Addr() string {
	return net.JoinHostPort(c.UDPIPv6Host, strconv.Itoa(c.TrackerPort))
}

// IntervalSeconds is the announce interval handed back to clients.
func (c *Config) IntervalSeconds() int {
	secs := int(c.AnnounceInterval / time.Second)
	if secs <= 0 {
		return 1800
	}
	return secs
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
