package resourcelimits

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
)

type resourceViolationChecker struct{}

func NewResourceViolationChecker() ResourceViolationChecker {
	return &resourceViolationChecker{}
}

// CheckViolations returns every limit the sample exceeds, critical before warning
func (rv *resourceViolationChecker) CheckViolations(usage *ResourceUsage, limits *ResourceLimits) []*ResourceViolation {
	if usage == nil || limits == nil {
		return nil
	}

	urv := &usageViolationsChecker{
		timestamp: usage.Timestamp,
		usage:     usage,
	}
	if urv.timestamp.IsZero() {
		urv.timestamp = time.Now()
	}

	var violations []*ResourceViolation
	if limits.Memory != nil {
		violations = append(violations, urv.checkMemoryViolations(limits.Memory)...)
	}
	if limits.CPU != nil {
		violations = append(violations, urv.checkCPUViolations(limits.CPU)...)
	}
	if limits.Process != nil {
		violations = append(violations, urv.checkProcessViolations(limits.Process)...)
	}
	return violations
}

type usageViolationsChecker struct {
	timestamp time.Time
	usage     *ResourceUsage
}

func (urv *usageViolationsChecker) violation(limitType ResourceLimitType, severity ViolationSeverity, current, limit interface{}, msg string) *ResourceViolation {
	return &ResourceViolation{
		LimitType:    limitType,
		CurrentValue: current,
		LimitValue:   limit,
		Severity:     severity,
		Timestamp:    urv.timestamp,
		Message:      msg,
	}
}

func (urv *usageViolationsChecker) checkMemoryViolations(limits *MemoryLimits) []*ResourceViolation {
	var violations []*ResourceViolation
	rss := urv.usage.MemoryRSS

	if limits.MaxRSS > 0 && rss > limits.MaxRSS {
		violations = append(violations, urv.violation(ResourceLimitTypeMemory, ViolationSeverityCritical, rss, limits.MaxRSS,
			fmt.Sprintf("Memory RSS (%s) exceeds limit (%s)", units.BytesSize(float64(rss)), units.BytesSize(float64(limits.MaxRSS)))))
	} else if limits.MaxRSS > 0 && limits.WarningThreshold > 0 {
		warningLimit := int64(float64(limits.MaxRSS) * (limits.WarningThreshold / 100.0))
		if rss > warningLimit {
			violations = append(violations, urv.violation(ResourceLimitTypeMemory, ViolationSeverityWarning, rss, warningLimit,
				fmt.Sprintf("Memory RSS (%s) exceeds warning threshold (%s)", units.BytesSize(float64(rss)), units.BytesSize(float64(warningLimit)))))
		}
	}

	if limits.MaxVirtual > 0 && urv.usage.MemoryVirtual > limits.MaxVirtual {
		violations = append(violations, urv.violation(ResourceLimitTypeMemory, ViolationSeverityCritical, urv.usage.MemoryVirtual, limits.MaxVirtual,
			fmt.Sprintf("Virtual memory (%s) exceeds limit (%s)", units.BytesSize(float64(urv.usage.MemoryVirtual)), units.BytesSize(float64(limits.MaxVirtual)))))
	}

	return violations
}

func (urv *usageViolationsChecker) checkCPUViolations(limits *CPULimits) []*ResourceViolation {
	var violations []*ResourceViolation
	cpu := urv.usage.CPUPercent

	if limits.MaxPercent > 0 && cpu > limits.MaxPercent {
		violations = append(violations, urv.violation(ResourceLimitTypeCPU, ViolationSeverityCritical, cpu, limits.MaxPercent,
			fmt.Sprintf("CPU usage (%.1f%%) exceeds limit (%.1f%%)", cpu, limits.MaxPercent)))
	} else if limits.MaxPercent > 0 && limits.WarningThreshold > 0 {
		warningLimit := limits.MaxPercent * (limits.WarningThreshold / 100.0)
		if cpu > warningLimit {
			violations = append(violations, urv.violation(ResourceLimitTypeCPU, ViolationSeverityWarning, cpu, warningLimit,
				fmt.Sprintf("CPU usage (%.1f%%) exceeds warning threshold (%.1f%%)", cpu, warningLimit)))
		}
	}

	cpuTime := time.Duration(urv.usage.CPUTime * float64(time.Second))
	if limits.MaxTime > 0 && cpuTime > limits.MaxTime {
		violations = append(violations, urv.violation(ResourceLimitTypeCPU, ViolationSeverityCritical, urv.usage.CPUTime, limits.MaxTime.Seconds(),
			fmt.Sprintf("CPU time (%.1fs) exceeds limit (%v)", urv.usage.CPUTime, limits.MaxTime)))
	}

	return violations
}

func (urv *usageViolationsChecker) checkProcessViolations(limits *ProcessLimits) []*ResourceViolation {
	var violations []*ResourceViolation

	if limits.MaxFileDescriptors > 0 && urv.usage.OpenFileDescriptors > limits.MaxFileDescriptors {
		violations = append(violations, urv.violation(ResourceLimitTypeProcess, ViolationSeverityCritical, urv.usage.OpenFileDescriptors, limits.MaxFileDescriptors,
			fmt.Sprintf("Open file descriptors (%d) exceeds limit (%d)", urv.usage.OpenFileDescriptors, limits.MaxFileDescriptors)))
	}

	if limits.MaxChildProcesses > 0 && urv.usage.ChildProcesses > limits.MaxChildProcesses {
		violations = append(violations, urv.violation(ResourceLimitTypeProcess, ViolationSeverityCritical, urv.usage.ChildProcesses, limits.MaxChildProcesses,
			fmt.Sprintf("Child processes (%d) exceeds limit (%d)", urv.usage.ChildProcesses, limits.MaxChildProcesses)))
	}

	return violations
}
