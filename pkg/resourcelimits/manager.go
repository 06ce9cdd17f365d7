package resourcelimits

import (
	"context"
	"sync"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

type resourceLimitManager struct {
	pid              int
	limits           *ResourceLimits
	monitor          ResourceMonitor
	violationChecker ResourceViolationChecker
	logger           logging.Logger

	mutex sync.RWMutex

	isRunning  bool
	violations []*ResourceViolation

	// Limit types with a critical violation already dispatched. Cleared once
	// a sample is back under the limit, so one breach fires one action.
	tripped map[ResourceLimitType]bool

	violationCallback ResourceViolationCallback
}

// NewResourceLimitManager creates a manager for pid sampled through gopsutil
func NewResourceLimitManager(pid int, limits *ResourceLimits, logger logging.Logger) ResourceLimitManager {
	return NewResourceLimitManagerWithSampler(pid, limits, nil, logger)
}

func NewResourceLimitManagerWithSampler(pid int, limits *ResourceLimits, sampler UsageSampler, logger logging.Logger) ResourceLimitManager {
	var monitoringConfig *ResourceMonitoringConfig
	if limits != nil {
		monitoringConfig = limits.Monitoring
	}

	return &resourceLimitManager{
		pid:              pid,
		limits:           limits,
		monitor:          NewResourceMonitor(pid, monitoringConfig, sampler, logger),
		violationChecker: NewResourceViolationChecker(),
		logger:           logger,
		tripped:          make(map[ResourceLimitType]bool),
	}
}

func (rlm *resourceLimitManager) Start(ctx context.Context) error {
	rlm.mutex.Lock()
	defer rlm.mutex.Unlock()

	if rlm.isRunning {
		return errors.NewConflictError("resource limit manager is already running", nil).WithContext("pid", rlm.pid)
	}

	if !rlm.limits.HasLimits() {
		rlm.logger.Debugf("No resource limits configured for PID %d", rlm.pid)
		return nil
	}

	rlm.monitor.SetUsageCallback(rlm.onUsageUpdate)
	if err := rlm.monitor.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start resource monitoring", err).WithContext("pid", rlm.pid)
	}

	rlm.isRunning = true
	rlm.logger.Infof("Resource limit management started for PID %d", rlm.pid)
	return nil
}

func (rlm *resourceLimitManager) Stop() {
	rlm.mutex.Lock()
	if !rlm.isRunning {
		rlm.mutex.Unlock()
		return
	}
	rlm.isRunning = false
	rlm.mutex.Unlock()

	// The monitor loop calls onUsageUpdate, which takes the mutex.
	rlm.monitor.Stop()

	rlm.logger.Debugf("Resource limit management stopped for PID %d", rlm.pid)
}

func (rlm *resourceLimitManager) GetLimits() *ResourceLimits {
	return rlm.limits
}

func (rlm *resourceLimitManager) GetCurrentUsage() (*ResourceUsage, error) {
	return rlm.monitor.GetCurrentUsage()
}

func (rlm *resourceLimitManager) GetLastUsage() *ResourceUsage {
	return rlm.monitor.GetLastUsage()
}

func (rlm *resourceLimitManager) GetViolations() []*ResourceViolation {
	rlm.mutex.RLock()
	defer rlm.mutex.RUnlock()

	violations := make([]*ResourceViolation, len(rlm.violations))
	copy(violations, rlm.violations)
	return violations
}

func (rlm *resourceLimitManager) SetViolationCallback(callback ResourceViolationCallback) {
	rlm.mutex.Lock()
	defer rlm.mutex.Unlock()
	rlm.violationCallback = callback
}

func (rlm *resourceLimitManager) onUsageUpdate(usage *ResourceUsage) {
	violations := rlm.violationChecker.CheckViolations(usage, rlm.limits)

	type dispatch struct {
		policy    ResourcePolicy
		violation *ResourceViolation
	}
	var pending []dispatch

	rlm.mutex.Lock()
	if !rlm.isRunning {
		rlm.mutex.Unlock()
		return
	}
	rlm.violations = violations

	critical := make(map[ResourceLimitType]bool)
	for _, violation := range violations {
		if violation.Severity != ViolationSeverityCritical {
			rlm.logger.Warnf("Resource warning for PID %d: %s", rlm.pid, violation.Message)
			continue
		}
		critical[violation.LimitType] = true
		if rlm.tripped[violation.LimitType] {
			continue
		}
		rlm.tripped[violation.LimitType] = true

		rlm.logger.Warnf("Resource violation for PID %d: %s", rlm.pid, violation.Message)
		policy := rlm.getPolicyByLimitType(violation.LimitType)
		if policy == "" || policy == ResourcePolicyNone {
			continue
		}
		pending = append(pending, dispatch{policy: policy, violation: violation})
	}
	for limitType := range rlm.tripped {
		if !critical[limitType] {
			delete(rlm.tripped, limitType)
		}
	}
	callback := rlm.violationCallback
	rlm.mutex.Unlock()

	if callback == nil {
		return
	}
	// The callback may stop this manager, so it must not run on the monitor goroutine.
	for _, d := range pending {
		go callback(d.policy, d.violation)
	}
}

func (rlm *resourceLimitManager) getPolicyByLimitType(limitType ResourceLimitType) ResourcePolicy {
	switch limitType {
	case ResourceLimitTypeMemory:
		if rlm.limits.Memory != nil {
			return rlm.limits.Memory.Policy
		}
	case ResourceLimitTypeCPU:
		if rlm.limits.CPU != nil {
			return rlm.limits.CPU.Policy
		}
	case ResourceLimitTypeProcess:
		if rlm.limits.Process != nil {
			return rlm.limits.Process.Policy
		}
	}
	return ""
}
