package workers

import (
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	logconfig "github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
)

// AppUnit is one resolved ecosystem app and the profile it runs with
type AppUnit struct {
	App ecosystem.AppConfig `yaml:"app"`

	// Selects env_<profile>; empty runs with env only.
	Profile string `yaml:"profile,omitempty"`
}

// AppWorkerOptions carries the daemon-wide settings shared by every app
type AppWorkerOptions struct {
	// nil disables PID files
	ProcessFileManager *processfile.ProcessFileManager

	// nil leaves output uncollected
	LogCollectionService logcollection.LogCollectionService

	// Base for each app's log config; the app's own files are added to it.
	LogDefaults logconfig.WorkerLogConfig

	// Rotation applied to the app's log files
	Rotation logconfig.RotationConfig

	// Memory sampling interval, resourcelimits.DefaultCheckInterval if zero
	ResourceCheckInterval time.Duration

	// Watch debounce, watch.DefaultDebounce if zero
	WatchDebounce time.Duration
}
