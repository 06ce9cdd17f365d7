package logcollection

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

// LoggerConfig defines configuration for creating a structured logger
type LoggerConfig struct {
	Backend    string   `yaml:"backend"` // only "zap"
	Level      LogLevel `yaml:"level"`
	Format     string   `yaml:"format"` // "json", "console"
	Output     string   `yaml:"output"` // "stdout", "stderr", file path
	Caller     bool     `yaml:"caller"`
	Stacktrace bool     `yaml:"stacktrace"`
}

// DefaultLoggerConfig returns the daemon's default logger configuration
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Backend:    "zap",
		Level:      InfoLevel,
		Format:     "console",
		Output:     "stdout",
		Stacktrace: true,
	}
}

// NewStructuredLogger creates a JSON logger on stdout with the given backend and level
func NewStructuredLogger(backendType string, level LogLevel) (StructuredLogger, error) {
	cfg := DefaultLoggerConfig()
	cfg.Backend = backendType
	cfg.Format = "json"
	cfg.Level = level
	return NewStructuredLoggerWithConfig(cfg)
}

// NewStructuredLoggerWithConfig creates a new structured logger with detailed configuration
func NewStructuredLoggerWithConfig(cfg LoggerConfig) (StructuredLogger, error) {
	if err := ValidateLoggerConfig(cfg); err != nil {
		return nil, err
	}
	return NewZapAdapter(ZapConfig{
		Level:      cfg.Level.String(),
		Format:     cfg.Format,
		Output:     cfg.Output,
		Caller:     cfg.Caller,
		Stacktrace: cfg.Stacktrace,
	})
}

// ValidateLoggerConfig validates a logger configuration
func ValidateLoggerConfig(cfg LoggerConfig) error {
	if cfg.Backend != "" && cfg.Backend != "zap" {
		return fmt.Errorf("unknown backend type: %s", cfg.Backend)
	}
	switch cfg.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid format: %s", cfg.Format)
	}
	return nil
}

// ParseLogLevel maps "debug", "info", "warn" or "error" to a LogLevel.
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("invalid log level: %s", level)
}

// AsLogger exposes a StructuredLogger through the plain logging.Logger interface.
func AsLogger(s StructuredLogger) logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{
		Debugf: s.Debugf,
		Infof:  s.Infof,
		Warnf:  s.Warnf,
		Errorf: s.Errorf,
	})
}

// CreateLoggerForWorker creates a logger instance specifically for an app
func CreateLoggerForWorker(workerID string, baseLogger StructuredLogger) StructuredLogger {
	return baseLogger.WithWorker(workerID).WithFields(Component("app"))
}

// CreateLoggerForComponent creates a logger instance for a specific component
func CreateLoggerForComponent(component string, baseLogger StructuredLogger) StructuredLogger {
	return baseLogger.WithFields(Component(component))
}
