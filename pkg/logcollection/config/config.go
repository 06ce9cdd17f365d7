package config

import (
	"fmt"
	"time"
)

// LogCollectionConfig defines the overall log collection system configuration
type LogCollectionConfig struct {
	Enabled           bool                    `yaml:"enabled" json:"enabled"`
	GlobalAggregation GlobalAggregationConfig `yaml:"global_aggregation" json:"global_aggregation"`
	DefaultWorker     WorkerLogConfig         `yaml:"default_worker" json:"default_worker"`
	System            SystemConfig            `yaml:"system" json:"system"`
}

// GlobalAggregationConfig echoes every app line into shared targets, usually the daemon console
type GlobalAggregationConfig struct {
	Enabled bool                 `yaml:"enabled" json:"enabled"`
	Targets []OutputTargetConfig `yaml:"targets" json:"targets"`
}

// WorkerLogConfig defines log collection settings for a single app
type WorkerLogConfig struct {
	Enabled       bool `yaml:"enabled" json:"enabled"`
	CaptureStdout bool `yaml:"capture_stdout" json:"capture_stdout"`
	CaptureStderr bool `yaml:"capture_stderr" json:"capture_stderr"`

	// TimestampFormat is a moment-style layout prefixed to each line, e.g. "YYYY-MM-DD HH:mm Z".
	TimestampFormat string `yaml:"timestamp_format,omitempty" json:"timestamp_format,omitempty"`

	Outputs OutputConfig `yaml:"outputs" json:"outputs"`
}

// OutputConfig defines where app output is written
type OutputConfig struct {
	Separate SeparateOutputConfig `yaml:"separate" json:"separate"`
	Combined []OutputTargetConfig `yaml:"combined,omitempty" json:"combined,omitempty"`
}

// SeparateOutputConfig defines per-stream outputs
type SeparateOutputConfig struct {
	Stdout []OutputTargetConfig `yaml:"stdout" json:"stdout"`
	Stderr []OutputTargetConfig `yaml:"stderr" json:"stderr"`
}

const (
	TargetTypeFile   = "file"
	TargetTypeStdout = "stdout"
	TargetTypeStderr = "stderr"

	FormatPlain         = "plain"
	FormatEnhancedPlain = "enhanced_plain"
	FormatJSON          = "json"
)

// OutputTargetConfig defines a specific output destination
type OutputTargetConfig struct {
	Type     string         `yaml:"type" json:"type"`                     // "file", "stdout", "stderr"
	Path     string         `yaml:"path,omitempty" json:"path,omitempty"` // file targets only
	Format   string         `yaml:"format" json:"format"`                 // "plain", "enhanced_plain", "json"
	Prefix   string         `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Rotation RotationConfig `yaml:"rotation,omitempty" json:"rotation,omitempty"`
}

// RotationConfig defines log rotation settings; an empty MaxSize disables rotation
type RotationConfig struct {
	MaxSize  string        `yaml:"max_size" json:"max_size"`   // e.g. "100MB"
	MaxFiles int           `yaml:"max_files" json:"max_files"` // rotated files to keep
	MaxAge   time.Duration `yaml:"max_age" json:"max_age"`
	Compress bool          `yaml:"compress" json:"compress"`
}

func (r RotationConfig) Enabled() bool {
	return r.MaxSize != ""
}

// SystemConfig defines system-level log collection settings
type SystemConfig struct {
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// DrainTimeout bounds how long a stopping app's streams are read after exit.
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// Validate checks if the configuration is valid
func (c *LogCollectionConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.GlobalAggregation.Enabled {
		if len(c.GlobalAggregation.Targets) == 0 {
			return fmt.Errorf("global aggregation enabled but no targets configured")
		}
		for i, target := range c.GlobalAggregation.Targets {
			if err := target.Validate(); err != nil {
				return fmt.Errorf("global aggregation target %d: %w", i, err)
			}
		}
	}

	if err := c.DefaultWorker.Validate(); err != nil {
		return fmt.Errorf("default worker config: %w", err)
	}

	if err := c.System.Validate(); err != nil {
		return fmt.Errorf("system config: %w", err)
	}

	return nil
}

// Validate checks if the worker configuration is valid
func (w *WorkerLogConfig) Validate() error {
	if !w.Enabled {
		return nil
	}

	if !w.CaptureStdout && !w.CaptureStderr {
		return fmt.Errorf("at least one of capture_stdout or capture_stderr must be enabled")
	}

	for i, target := range w.AllTargets() {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("output target %d: %w", i, err)
		}
	}

	return nil
}

// AllTargets lists stdout, stderr and combined targets in that order.
func (w *WorkerLogConfig) AllTargets() []OutputTargetConfig {
	all := make([]OutputTargetConfig, 0, len(w.Outputs.Separate.Stdout)+len(w.Outputs.Separate.Stderr)+len(w.Outputs.Combined))
	all = append(all, w.Outputs.Separate.Stdout...)
	all = append(all, w.Outputs.Separate.Stderr...)
	all = append(all, w.Outputs.Combined...)
	return all
}

// Validate checks if the output target configuration is valid
func (o *OutputTargetConfig) Validate() error {
	switch o.Type {
	case "":
		return fmt.Errorf("output target type cannot be empty")
	case TargetTypeFile:
		if o.Path == "" {
			return fmt.Errorf("file output target must have path specified")
		}
	case TargetTypeStdout, TargetTypeStderr:
	default:
		return fmt.Errorf("invalid output target type: %s", o.Type)
	}

	switch o.Format {
	case "", FormatPlain, FormatEnhancedPlain, FormatJSON:
	default:
		return fmt.Errorf("invalid output format: %s", o.Format)
	}

	if o.Rotation.MaxFiles < 0 {
		return fmt.Errorf("rotation max_files cannot be negative")
	}
	if o.Rotation.MaxAge < 0 {
		return fmt.Errorf("rotation max_age cannot be negative")
	}

	return nil
}

// Validate checks if the system configuration is valid
func (s *SystemConfig) Validate() error {
	if s.MaxWorkers < 0 {
		return fmt.Errorf("max_workers cannot be negative")
	}
	if s.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative")
	}
	return nil
}

// DefaultLogCollectionConfig returns the configuration used when none is given:
// app output goes only to the files named by each app.
func DefaultLogCollectionConfig() LogCollectionConfig {
	return LogCollectionConfig{
		Enabled:       true,
		DefaultWorker: DefaultWorkerLogConfig(),
		System: SystemConfig{
			MaxWorkers:   100,
			DrainTimeout: 2 * time.Second,
		},
	}
}

// DefaultWorkerLogConfig returns a worker configuration capturing both streams with no targets
func DefaultWorkerLogConfig() WorkerLogConfig {
	return WorkerLogConfig{
		Enabled:       true,
		CaptureStdout: true,
		CaptureStderr: true,
	}
}
