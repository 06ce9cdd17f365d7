package resourcelimits

import (
	"context"
	"time"
)

const (
	DefaultCheckInterval    = 10 * time.Second
	DefaultHistoryRetention = time.Hour
)

// ResourceLimitManager couples a monitor with a violation checker for one process
type ResourceLimitManager interface {
	Start(ctx context.Context) error
	Stop()

	GetLimits() *ResourceLimits
	GetCurrentUsage() (*ResourceUsage, error)
	GetLastUsage() *ResourceUsage
	GetViolations() []*ResourceViolation

	SetViolationCallback(callback ResourceViolationCallback)
}

// ResourceMonitor samples a process on a fixed interval
type ResourceMonitor interface {
	GetCurrentUsage() (*ResourceUsage, error)
	GetLastUsage() *ResourceUsage
	GetUsageHistory(since time.Time) []*ResourceUsage

	Start(ctx context.Context) error
	Stop()

	SetUsageCallback(callback ResourceUsageCallback)
}

// ResourceViolationChecker compares a usage sample against limits
type ResourceViolationChecker interface {
	CheckViolations(usage *ResourceUsage, limits *ResourceLimits) []*ResourceViolation
}

// UsageSampler reads the current usage of a process
type UsageSampler interface {
	Sample(pid int) (*ResourceUsage, error)
}

type ResourceLimitType string

const (
	ResourceLimitTypeMemory  ResourceLimitType = "memory"
	ResourceLimitTypeCPU     ResourceLimitType = "cpu"
	ResourceLimitTypeProcess ResourceLimitType = "process"
)

// ResourceUsage is one sample of a process
type ResourceUsage struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryRSS     int64   `json:"memory_rss"`
	MemoryVirtual int64   `json:"memory_virtual"`
	MemoryPercent float64 `json:"memory_percent"`

	CPUPercent float64 `json:"cpu_percent"`
	CPUTime    float64 `json:"cpu_time"` // seconds, user + system

	OpenFileDescriptors int `json:"open_file_descriptors"`
	ChildProcesses      int `json:"child_processes"`
}

type ResourceViolation struct {
	LimitType    ResourceLimitType `json:"limit_type"`
	CurrentValue interface{}       `json:"current_value"`
	LimitValue   interface{}       `json:"limit_value"`
	Severity     ViolationSeverity `json:"severity"`
	Timestamp    time.Time         `json:"timestamp"`
	Message      string            `json:"message"`
}

type ViolationSeverity string

const (
	ViolationSeverityWarning  ViolationSeverity = "warning"
	ViolationSeverityCritical ViolationSeverity = "critical"
)

// ResourcePolicy defines what action to take when a limit is exceeded
type ResourcePolicy string

const (
	ResourcePolicyNone             ResourcePolicy = "none"
	ResourcePolicyLog              ResourcePolicy = "log"
	ResourcePolicyRestart          ResourcePolicy = "restart"
	ResourcePolicyGracefulShutdown ResourcePolicy = "graceful_shutdown"
	ResourcePolicyImmediateKill    ResourcePolicy = "immediate_kill"
)

type ResourceLimits struct {
	Memory     *MemoryLimits             `yaml:"memory,omitempty"`
	CPU        *CPULimits                `yaml:"cpu,omitempty"`
	Process    *ProcessLimits            `yaml:"process,omitempty"`
	Monitoring *ResourceMonitoringConfig `yaml:"monitoring,omitempty"`
}

type MemoryLimits struct {
	MaxRSS     int64 `yaml:"max_rss,omitempty"`     // bytes
	MaxVirtual int64 `yaml:"max_virtual,omitempty"` // bytes

	WarningThreshold float64        `yaml:"warning_threshold,omitempty"` // percent of MaxRSS
	Policy           ResourcePolicy `yaml:"policy,omitempty"`
}

type CPULimits struct {
	MaxPercent float64       `yaml:"max_percent,omitempty"`
	MaxTime    time.Duration `yaml:"max_time,omitempty"`

	WarningThreshold float64        `yaml:"warning_threshold,omitempty"`
	Policy           ResourcePolicy `yaml:"policy,omitempty"`
}

type ProcessLimits struct {
	MaxFileDescriptors int `yaml:"max_file_descriptors,omitempty"`
	MaxChildProcesses  int `yaml:"max_child_processes,omitempty"`

	Policy ResourcePolicy `yaml:"policy,omitempty"`
}

type ResourceMonitoringConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	HistoryRetention time.Duration `yaml:"history_retention,omitempty"`
}

// HasLimits reports whether any limit would produce a violation
func (l *ResourceLimits) HasLimits() bool {
	if l == nil {
		return false
	}
	if l.Memory != nil && (l.Memory.MaxRSS > 0 || l.Memory.MaxVirtual > 0) {
		return true
	}
	if l.CPU != nil && (l.CPU.MaxPercent > 0 || l.CPU.MaxTime > 0) {
		return true
	}
	if l.Process != nil && (l.Process.MaxFileDescriptors > 0 || l.Process.MaxChildProcesses > 0) {
		return true
	}
	return false
}

// NewMemoryRestartLimits builds the limits for a plain RSS ceiling that restarts the process
func NewMemoryRestartLimits(maxRSS int64, interval time.Duration) *ResourceLimits {
	if maxRSS <= 0 {
		return nil
	}
	return &ResourceLimits{
		Memory: &MemoryLimits{
			MaxRSS:           maxRSS,
			WarningThreshold: 90,
			Policy:           ResourcePolicyRestart,
		},
		Monitoring: &ResourceMonitoringConfig{
			Enabled:  true,
			Interval: interval,
		},
	}
}

type ResourceUsageCallback func(usage *ResourceUsage)
type ResourceViolationCallback func(policy ResourcePolicy, violation *ResourceViolation)
