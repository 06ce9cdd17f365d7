package processcontrol

import (
	"time"
)

// ProcessState represents the current lifecycle state of the process control
type ProcessState string

const (
	ProcessStateIdle           ProcessState = "idle"            // No process, stopped by request or not started
	ProcessStateStarting       ProcessState = "starting"        // Process startup in progress
	ProcessStateRunning        ProcessState = "running"         // Process running normally
	ProcessStateStopping       ProcessState = "stopping"        // Graceful shutdown initiated
	ProcessStateTerminating    ProcessState = "terminating"     // Force termination in progress
	ProcessStateWaitingRestart ProcessState = "waiting_restart" // Exited, respawn scheduled after the restart delay
	ProcessStateErrored        ProcessState = "errored"         // Too many unstable restarts, given up
	ProcessStateFailedStart    ProcessState = "failed_start"    // Failed to start process
)

// IsActive reports whether the state owns or is about to own a process
func (s ProcessState) IsActive() bool {
	switch s {
	case ProcessStateStarting, ProcessStateRunning, ProcessStateStopping,
		ProcessStateTerminating, ProcessStateWaitingRestart:
		return true
	}
	return false
}

// ProcessError categorizes process control errors
type ProcessError struct {
	Category    string    `json:"category"`
	Details     string    `json:"details"`
	Underlying  error     `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
	Recoverable bool      `json:"recoverable"`
}

const (
	ErrorCategoryExecutableNotFound = "executable_not_found"
	ErrorCategoryPermissionDenied   = "permission_denied"
	ErrorCategoryResourceLimit      = "resource_limit"
	ErrorCategoryTimeout            = "timeout"
	ErrorCategoryProcessCrash       = "process_crash"
	ErrorCategoryRestartLimit       = "restart_limit"
	ErrorCategoryUnknown            = "unknown"
)

// ProcessDiagnostics provides detailed process status information
type ProcessDiagnostics struct {
	State            ProcessState  `json:"state"`
	LastError        *ProcessError `json:"last_error,omitempty"`
	ProcessID        int           `json:"pid,omitempty"`
	RunID            string        `json:"run_id,omitempty"`
	StartTime        *time.Time    `json:"start_time,omitempty"`
	ExecutablePath   string        `json:"executable_path"`
	ExecutableExists bool          `json:"executable_exists"`
	FailureCount     int           `json:"failure_count"`
	LastAttemptTime  time.Time     `json:"last_attempt_time"`

	RestartCount     int        `json:"restart_count"`     // respawns since Start
	UnstableRestarts int        `json:"unstable_restarts"` // consecutive exits before min_uptime
	LastExitCode     *int       `json:"last_exit_code,omitempty"`
	LastExitTime     *time.Time `json:"last_exit_time,omitempty"`
	MemoryRSS        int64      `json:"memory_rss,omitempty"`
	CPUPercent       float64    `json:"cpu_percent,omitempty"`
}
