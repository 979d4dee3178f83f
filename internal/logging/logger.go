// Package logging builds the logrus loggers used across barsim.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration.
type Config struct {
	Level      string `yaml:"level" json:"level"`   // debug|info|warn|error
	Format     string `yaml:"format" json:"format"` // text|json
	Output     string `yaml:"output" json:"output"` // stdout|file|both
	Directory  string `yaml:"directory" json:"directory"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		Output:     "stdout",
		Directory:  "logs",
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
	}
}

const logFileName = "barsim.log"

// New creates a logger from cfg. An unknown level falls back to info and
// an unknown output to stdout.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	var output io.Writer
	switch cfg.Output {
	case "file":
		output = fileWriter(cfg)
	case "both":
		output = io.MultiWriter(os.Stdout, fileWriter(cfg))
	default:
		output = os.Stdout
	}
	logger.SetOutput(output)

	return logger
}

// fileWriter returns a rotating writer under cfg.Directory, or stderr if
// the directory cannot be created.
func fileWriter(cfg Config) io.Writer {
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "logging: create %s: %v\n", cfg.Directory, err)
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, logFileName),
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Discard returns a logger that drops everything. Library types use it
// when the caller passes no logger.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Component tags entries with the emitting component.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	if l == nil {
		l = Discard()
	}
	return l.WithField("component", name)
}
