package domain

import (
	"context"
	"time"
)

// Contract is the control surface of a running supervisor
type Contract interface {
	Status(ctx context.Context) (string, error)

	ListApps(ctx context.Context) ([]AppStatus, error)
	GetApp(ctx context.Context, name string) (*AppStatus, error)

	StartApp(ctx context.Context, name string) error
	StopApp(ctx context.Context, name string) error

	// force also restarts an app that gave up after too many unstable restarts
	RestartApp(ctx context.Context, name string, force bool) error
}

// AppStatus is the externally visible state of one app
type AppStatus struct {
	Name        string `json:"name"`
	State       string `json:"state"`
	Script      string `json:"script"`
	Interpreter string `json:"interpreter"`
	Cwd         string `json:"cwd"`
	Profile     string `json:"profile,omitempty"`
	Watch       bool   `json:"watch"`

	PID       int        `json:"pid,omitempty"`
	RunID     string     `json:"run_id,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`

	Restarts         int        `json:"restarts"`
	UnstableRestarts int        `json:"unstable_restarts"`
	LastExitCode     *int       `json:"last_exit_code,omitempty"`
	LastExitTime     *time.Time `json:"last_exit_time,omitempty"`
	LastError        string     `json:"last_error,omitempty"`

	MemoryRSS   int64   `json:"memory_rss,omitempty"`
	MemoryLimit int64   `json:"memory_limit,omitempty"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
}

// Uptime is zero unless the app is running
func (s *AppStatus) Uptime(now time.Time) time.Duration {
	if s.StartTime == nil || s.PID == 0 {
		return 0
	}
	return now.Sub(*s.StartTime)
}
