package logcollection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"

	"github.com/docker/go-units"
	"gopkg.in/natefinch/lumberjack.v2"
)

// lineFormatter renders a LogEntry as one output line, without the trailing newline.
type lineFormatter struct {
	format    string
	prefix    string
	timestamp *TimestampFormat
}

func (f *lineFormatter) render(entry LogEntry) (string, error) {
	switch f.format {
	case config.FormatJSON:
		data, err := json.Marshal(entry)
		if err != nil {
			return "", err
		}
		return string(data), nil

	case config.FormatEnhancedPlain:
		return fmt.Sprintf("%s[%s][%s][%s] %s",
			f.prefix,
			entry.Timestamp.Format(time.RFC3339),
			entry.WorkerID,
			entry.Stream,
			entry.Message,
		), nil

	default:
		if f.timestamp != nil {
			return f.prefix + f.timestamp.Format(entry.Timestamp) + ": " + entry.Message, nil
		}
		return f.prefix + entry.Message, nil
	}
}

// createOutputWriter creates an output writer for a target
func createOutputWriter(target config.OutputTargetConfig, timestamp *TimestampFormat) (LogOutputWriter, error) {
	formatter := &lineFormatter{format: target.Format, prefix: target.Prefix, timestamp: timestamp}

	switch target.Type {
	case config.TargetTypeStdout:
		return &consoleWriter{out: os.Stdout, formatter: formatter}, nil
	case config.TargetTypeStderr:
		return &consoleWriter{out: os.Stderr, formatter: formatter}, nil
	case config.TargetTypeFile:
		if target.Rotation.Enabled() {
			return newRotatingFileWriter(target, formatter)
		}
		return &fileWriter{path: target.Path, formatter: formatter}, nil
	default:
		return nil, fmt.Errorf("unsupported output target type: %s", target.Type)
	}
}

// consoleWriter writes lines to the daemon's own stdout or stderr
type consoleWriter struct {
	mu        sync.Mutex
	out       io.Writer
	formatter *lineFormatter
}

func (c *consoleWriter) Write(entry LogEntry) error {
	line, err := c.formatter.render(entry)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = io.WriteString(c.out, line+"\n")
	return err
}

func (c *consoleWriter) Flush() error { return nil }
func (c *consoleWriter) Close() error { return nil }

// fileWriter appends lines to a file, creating parent directories on first write
type fileWriter struct {
	path      string
	formatter *lineFormatter

	mutex  sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

func (f *fileWriter) Write(entry LogEntry) error {
	line, err := f.formatter.render(entry)
	if err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if err := f.ensureFileOpen(); err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if _, err := f.writer.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}
	// App logs are tailed live, keep them current.
	return f.writer.Flush()
}

func (f *fileWriter) Flush() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.writer != nil {
		return f.writer.Flush()
	}
	return nil
}

func (f *fileWriter) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.writer != nil {
		f.writer.Flush()
	}
	if f.file != nil {
		err := f.file.Close()
		f.file = nil
		f.writer = nil
		return err
	}
	return nil
}

func (f *fileWriter) ensureFileOpen() error {
	if f.file != nil {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", f.path, err)
	}

	f.file = file
	f.writer = bufio.NewWriter(file)
	return nil
}

// rotatingFileWriter delegates size and age based rotation to lumberjack
type rotatingFileWriter struct {
	mu        sync.Mutex
	logger    *lumberjack.Logger
	formatter *lineFormatter
}

func newRotatingFileWriter(target config.OutputTargetConfig, formatter *lineFormatter) (*rotatingFileWriter, error) {
	maxSizeMB, err := rotationSizeMB(target.Rotation.MaxSize)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory for %s: %w", target.Path, err)
	}

	return &rotatingFileWriter{
		logger: &lumberjack.Logger{
			Filename:   target.Path,
			MaxSize:    maxSizeMB,
			MaxBackups: target.Rotation.MaxFiles,
			MaxAge:     int(target.Rotation.MaxAge / (24 * time.Hour)),
			Compress:   target.Rotation.Compress,
		},
		formatter: formatter,
	}, nil
}

// rotationSizeMB converts a human size to lumberjack's megabyte granularity, at least 1.
func rotationSizeMB(size string) (int, error) {
	bytes, err := units.FromHumanSize(strings.TrimSpace(size))
	if err != nil {
		return 0, fmt.Errorf("invalid rotation max_size %q: %w", size, err)
	}
	if bytes <= 0 {
		return 0, fmt.Errorf("rotation max_size must be positive, got %q", size)
	}
	mb := int((bytes + units.MB - 1) / units.MB)
	if mb < 1 {
		mb = 1
	}
	return mb, nil
}

func (r *rotatingFileWriter) Write(entry LogEntry) error {
	line, err := r.formatter.render(entry)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.logger.Write([]byte(line + "\n"))
	return err
}

func (r *rotatingFileWriter) Flush() error { return nil }

func (r *rotatingFileWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logger.Close()
}
