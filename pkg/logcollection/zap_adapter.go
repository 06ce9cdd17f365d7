package logcollection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type contextKey string

// RequestIDKey is the context key carrying the control API request ID.
const RequestIDKey contextKey = "request_id"

// ZapAdapter implements StructuredLogger on top of zap without exposing zap types
type ZapAdapter struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	level  zap.AtomicLevel
}

// NewZapAdapter creates a new Zap backend adapter
func NewZapAdapter(config ZapConfig) (*ZapAdapter, error) {
	level, err := getLevelFromString(config.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	zapLogger, err := createZapLogger(config, atomicLevel)
	if err != nil {
		return nil, err
	}

	return &ZapAdapter{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		level:  atomicLevel,
	}, nil
}

// NewZapAdapterFromLogger wraps an existing zap logger.
func NewZapAdapterFromLogger(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{
		logger: logger,
		sugar:  logger.Sugar(),
		level:  zap.NewAtomicLevelAt(zapcore.DebugLevel),
	}
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapAdapter) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapAdapter) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

func (z *ZapAdapter) LogWithContext(ctx context.Context, level LogLevel, msg string, fields ...LogField) {
	if ctx != nil {
		if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
			fields = append(fields, RequestID(requestID))
		}
	}
	z.logAtLevel(level, msg, z.convertFields(fields)...)
}

func (z *ZapAdapter) LogWithFields(level LogLevel, msg string, fields ...LogField) {
	z.logAtLevel(level, msg, z.convertFields(fields)...)
}

func (z *ZapAdapter) WithFields(fields ...LogField) StructuredLogger {
	newLogger := z.logger.With(z.convertFields(fields)...)
	return &ZapAdapter{
		logger: newLogger,
		sugar:  newLogger.Sugar(),
		level:  z.level,
	}
}

func (z *ZapAdapter) WithError(err error) StructuredLogger {
	return z.WithFields(Error(err))
}

func (z *ZapAdapter) WithWorker(workerID string) StructuredLogger {
	return z.WithFields(Worker(workerID))
}

func (z *ZapAdapter) WithContext(ctx context.Context) StructuredLogger {
	if ctx == nil {
		return z
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return z.WithFields(RequestID(requestID))
	}
	return z
}

// SetLevel changes the minimum level of this logger and every logger derived from it.
func (z *ZapAdapter) SetLevel(level LogLevel) {
	if zapLevel, err := getLevelFromString(level.String()); err == nil {
		z.level.SetLevel(zapLevel)
	}
}

// Sync flushes any buffered log entries
func (z *ZapAdapter) Sync() error {
	return z.logger.Sync()
}

func (z *ZapAdapter) convertFields(fields []LogField) []zap.Field {
	zapFields := make([]zap.Field, len(fields))
	for i, field := range fields {
		zapFields[i] = convertField(field)
	}
	return zapFields
}

func convertField(field LogField) zap.Field {
	switch field.Type {
	case StringField:
		return zap.String(field.Key, field.Value.(string))
	case IntField:
		return zap.Int(field.Key, field.Value.(int))
	case Int64Field:
		return zap.Int64(field.Key, field.Value.(int64))
	case BoolField:
		return zap.Bool(field.Key, field.Value.(bool))
	case DurationField:
		return zap.Duration(field.Key, field.Value.(time.Duration))
	case ErrorField:
		if err, ok := field.Value.(error); ok {
			return zap.NamedError(field.Key, err)
		}
		return zap.String(field.Key, "invalid error field")
	default:
		return zap.Any(field.Key, field.Value)
	}
}

func (z *ZapAdapter) logAtLevel(level LogLevel, msg string, fields ...zap.Field) {
	switch level {
	case DebugLevel:
		z.logger.Debug(msg, fields...)
	case WarnLevel:
		z.logger.Warn(msg, fields...)
	case ErrorLevel:
		z.logger.Error(msg, fields...)
	default:
		z.logger.Info(msg, fields...)
	}
}

// ZapConfig defines Zap-specific configuration
type ZapConfig struct {
	Level      string `json:"level"`      // "debug", "info", "warn", "error"
	Format     string `json:"format"`     // "json", "console"
	Output     string `json:"output"`     // "stdout", "stderr", file path
	Caller     bool   `json:"caller"`     // Include caller information
	Stacktrace bool   `json:"stacktrace"` // Include stacktrace on errors

	// Rotation applies to file output only; zero values keep lumberjack defaults.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

func createZapLogger(config ZapConfig, level zap.AtomicLevel) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Format {
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	var writeSyncer zapcore.WriteSyncer
	switch config.Output {
	case "stdout", "":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stdout))
	case "stderr":
		writeSyncer = zapcore.Lock(zapcore.AddSync(os.Stderr))
	default:
		if err := os.MkdirAll(filepath.Dir(config.Output), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory for %s: %w", config.Output, err)
		}
		writeSyncer = zapcore.AddSync(&lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
		})
	}

	core := zapcore.NewCore(encoder, writeSyncer, level)

	opts := []zap.Option{}
	if config.Caller {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	return zap.New(core, opts...), nil
}

// getLevelFromString mirrors zapcore.ParseLevel, which zap v1.20 lacks.
func getLevelFromString(levelStr string) (zapcore.Level, error) {
	switch levelStr {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return -1, fmt.Errorf("invalid log level: %s", levelStr)
	}
}

// DefaultZapConfig returns a sensible default Zap configuration
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		Caller:     true,
		Stacktrace: true,
	}
}
