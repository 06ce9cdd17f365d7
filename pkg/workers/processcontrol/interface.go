package processcontrol

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	logconfig "github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
)

// ProcessControl defines the interface for controlling a process lifecycle
type ProcessControl interface {
	// Start spawns the process
	Start(ctx context.Context) error

	// Stop cancels any pending restart and stops the process gracefully
	Stop(ctx context.Context) error

	// Restart stops and starts the process.
	// force: if true, also restarts an app that gave up after too many unstable restarts
	Restart(ctx context.Context, force bool) error

	GetState() ProcessState

	GetDiagnostics() ProcessDiagnostics
}

// ExecuteCmd spawns the process and returns it with its stdout and stderr streams
type ExecuteCmd func(ctx context.Context) (*os.Process, io.ReadCloser, io.ReadCloser, error)

// StateChangeCallback observes every state transition
type StateChangeCallback func(from, to ProcessState)

// ProcessControlOptions provides configuration for ProcessControl instances
type ProcessControlOptions struct {
	CanTerminate bool
	CanRestart   bool

	// Respawn after an exit that was not requested
	AutoRestart bool

	// Time to wait for graceful shutdown before SIGKILL
	GracefulTimeout time.Duration

	ExecuteCmd     ExecuteCmd
	ExecutablePath string // for diagnostics

	// nil if not limitable
	Limits *resourcelimits.ResourceLimits

	// Exit restart mechanics; nil if not restartable
	Restart *ContextAwareRestartConfig

	// Uptime after which an exit no longer counts as unstable
	MinUptime time.Duration

	LogCollectionService logcollection.LogCollectionService
	LogConfig            *logconfig.WorkerLogConfig

	// nil if not watched
	Watch *watch.Config

	// nil disables PID files
	ProcessFileManager *processfile.ProcessFileManager

	OnStateChange StateChangeCallback
}
