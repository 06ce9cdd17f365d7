package processcontrol

import (
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// RestartTriggerType defines what triggered the restart request
type RestartTriggerType string

const (
	RestartTriggerExit              RestartTriggerType = "exit"
	RestartTriggerResourceViolation RestartTriggerType = "resource_violation"
	RestartTriggerWatch             RestartTriggerType = "watch"
	RestartTriggerManual            RestartTriggerType = "manual"
)

// RestartContext describes one restart request
type RestartContext struct {
	TriggerType   RestartTriggerType `json:"trigger_type"`
	Severity      string             `json:"severity"` // warning, critical
	ViolationType string             `json:"violation_type,omitempty"`
	Message       string             `json:"message"`
}

// RestartConfig defines retry mechanics. MaxRetries of zero means unlimited.
type RestartConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	BackoffRate float64       `yaml:"backoff_rate"`
}

func ValidateRestartConfig(config RestartConfig) error {
	if config.MaxRetries < 0 {
		return errors.NewValidationError("max_retries cannot be negative", nil).WithContext("max_retries", config.MaxRetries)
	}
	if config.RetryDelay < 0 {
		return errors.NewValidationError("retry_delay cannot be negative", nil).WithContext("retry_delay", config.RetryDelay.String())
	}
	if config.BackoffRate < 0 {
		return errors.NewValidationError("backoff_rate cannot be negative", nil).WithContext("backoff_rate", config.BackoffRate)
	}
	return nil
}

// ContextAwareRestartConfig scales the default retry mechanics by severity
type ContextAwareRestartConfig struct {
	Default RestartConfig `yaml:"default"`

	// Applied to max_retries and retry_delay; a missing severity means 1.
	SeverityMultipliers map[string]float64 `yaml:"severity_multipliers,omitempty"`
}

func ValidateContextAwareRestartConfig(config ContextAwareRestartConfig) error {
	if err := ValidateRestartConfig(config.Default); err != nil {
		return errors.NewValidationError("invalid default restart config", err)
	}

	for severity, multiplier := range config.SeverityMultipliers {
		if multiplier <= 0 {
			return errors.NewValidationError("severity multiplier must be positive", nil).
				WithContext("severity", severity).WithContext("multiplier", multiplier)
		}
	}

	return nil
}
