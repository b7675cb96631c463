// Package logger builds the process-wide logrus logger from config.
package logger

import (
	stdlog "log"
	"os"
	"strings"

	"github.com/sdko-org/trackerspotter/internal/config"
	"github.com/sirupsen/logrus"
)

// New returns a logger writing to stdout at cfg.LogLevel. LOG_FORMAT=json
// switches to JSON lines; anything else is text. The standard library logger is
// redirected into it so third-party output ends up in the same stream.
func New(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.LogFormat, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	stdlog.SetFlags(0)
	stdlog.SetOutput(logger.WriterLevel(logrus.InfoLevel))

	if err != nil {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}
	return logger
}
