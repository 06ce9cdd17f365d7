package resourcelimits

import (
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

func ValidateResourcePolicy(policy ResourcePolicy) error {
	switch policy {
	case "", ResourcePolicyNone, ResourcePolicyLog, ResourcePolicyRestart,
		ResourcePolicyGracefulShutdown, ResourcePolicyImmediateKill:
		return nil
	}
	return errors.NewValidationError("unknown resource policy", nil).WithContext("policy", string(policy))
}

// ValidateResourceLimits rejects negative limits, thresholds outside 0-100 and unknown policies
func ValidateResourceLimits(limits *ResourceLimits) error {
	if limits == nil {
		return nil
	}

	if m := limits.Memory; m != nil {
		if m.MaxRSS < 0 || m.MaxVirtual < 0 {
			return errors.NewValidationError("memory limit cannot be negative", nil)
		}
		if m.WarningThreshold < 0 || m.WarningThreshold > 100 {
			return errors.NewValidationError("memory warning threshold must be between 0 and 100", nil).
				WithContext("warning_threshold", m.WarningThreshold)
		}
		if err := ValidateResourcePolicy(m.Policy); err != nil {
			return err
		}
	}

	if c := limits.CPU; c != nil {
		if c.MaxPercent < 0 || c.MaxTime < 0 {
			return errors.NewValidationError("CPU limit cannot be negative", nil)
		}
		if c.WarningThreshold < 0 || c.WarningThreshold > 100 {
			return errors.NewValidationError("CPU warning threshold must be between 0 and 100", nil).
				WithContext("warning_threshold", c.WarningThreshold)
		}
		if err := ValidateResourcePolicy(c.Policy); err != nil {
			return err
		}
	}

	if p := limits.Process; p != nil {
		if p.MaxFileDescriptors < 0 || p.MaxChildProcesses < 0 {
			return errors.NewValidationError("process limit cannot be negative", nil)
		}
		if err := ValidateResourcePolicy(p.Policy); err != nil {
			return err
		}
	}

	if mon := limits.Monitoring; mon != nil {
		if mon.Interval < 0 || mon.HistoryRetention < 0 {
			return errors.NewValidationError("monitoring intervals cannot be negative", nil)
		}
	}

	return nil
}
