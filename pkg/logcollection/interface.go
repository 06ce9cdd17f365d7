package logcollection

import (
	"context"
	"io"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
)

// StructuredLogger provides clean logging interface with complete backend hiding
type StructuredLogger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	LogWithContext(ctx context.Context, level LogLevel, msg string, fields ...LogField)
	LogWithFields(level LogLevel, msg string, fields ...LogField)

	WithFields(fields ...LogField) StructuredLogger
	WithError(err error) StructuredLogger
	WithWorker(workerID string) StructuredLogger
	WithContext(ctx context.Context) StructuredLogger
}

// LogCollector reads app output streams
type LogCollector interface {
	CollectFromStream(workerID string, stream io.Reader, streamType StreamType) error
	CollectFromProcess(workerID string, stdout, stderr io.Reader) error

	Start(ctx context.Context) error
	Stop() error
}

// LogCollectionService coordinates all log collection activities
type LogCollectionService interface {
	LogCollector

	RegisterWorker(workerID string, workerConfig config.WorkerLogConfig) error
	UnregisterWorker(workerID string) error
	IsWorkerRegistered(workerID string) bool

	GetWorkerStatus(workerID string) (*WorkerLogStatus, error)
	GetSystemStatus() *SystemLogStatus
}

// LogOutputWriter handles writing logs to various targets
type LogOutputWriter interface {
	Write(entry LogEntry) error
	Flush() error
	Close() error
}

// LogLevel represents logging levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// StreamType identifies the source stream
type StreamType string

const (
	StdoutStream StreamType = "stdout"
	StderrStream StreamType = "stderr"
)

// LogEntry is a single line of app output ready for writing
type LogEntry struct {
	Timestamp time.Time  `json:"timestamp"`
	Message   string     `json:"message"`
	WorkerID  string     `json:"app"`
	Stream    StreamType `json:"stream"`
	LineNum   int64      `json:"line"`
}

// WorkerLogStatus provides status information for a specific app
type WorkerLogStatus struct {
	WorkerID       string                 `json:"app"`
	Active         bool                   `json:"active"`
	LinesProcessed int64                  `json:"lines_processed"`
	BytesProcessed int64                  `json:"bytes_processed"`
	LastActivity   time.Time              `json:"last_activity"`
	Errors         []string               `json:"errors,omitempty"`
	Outputs        []string               `json:"outputs,omitempty"`
	Config         config.WorkerLogConfig `json:"-"`
}

// SystemLogStatus provides overall log collection system status
type SystemLogStatus struct {
	Active        bool                        `json:"active"`
	WorkersActive int                         `json:"workers_active"`
	TotalWorkers  int                         `json:"total_workers"`
	TotalLines    int64                       `json:"total_lines_processed"`
	TotalBytes    int64                       `json:"total_bytes_processed"`
	StartTime     time.Time                   `json:"start_time"`
	LastActivity  time.Time                   `json:"last_activity"`
	Workers       map[string]*WorkerLogStatus `json:"workers"`
	OutputTargets []string                    `json:"output_targets"`
}
