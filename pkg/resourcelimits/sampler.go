package resourcelimits

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// gopsutilSampler reads process statistics through gopsutil.
// CPU percent is computed by gopsutil between consecutive calls on the same
// handle, so handles are cached per PID.
type gopsutilSampler struct {
	mutex   sync.Mutex
	handles map[int]*gopsprocess.Process
}

func NewUsageSampler() UsageSampler {
	return &gopsutilSampler{handles: make(map[int]*gopsprocess.Process)}
}

func (s *gopsutilSampler) Sample(pid int) (*ResourceUsage, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	proc, err := s.handle(pid)
	if err != nil {
		return nil, err
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		delete(s.handles, pid)
		return nil, errors.NewProcessError("failed to read memory info", err).WithContext("pid", pid)
	}

	usage := &ResourceUsage{
		Timestamp:     time.Now(),
		MemoryRSS:     int64(memInfo.RSS),
		MemoryVirtual: int64(memInfo.VMS),
	}

	// The rest is best effort; not every platform reports it.
	if percent, err := proc.MemoryPercent(); err == nil {
		usage.MemoryPercent = float64(percent)
	}
	if percent, err := proc.Percent(0); err == nil {
		usage.CPUPercent = percent
	}
	if times, err := proc.Times(); err == nil {
		usage.CPUTime = times.User + times.System
	}
	if fds, err := proc.NumFDs(); err == nil {
		usage.OpenFileDescriptors = int(fds)
	}
	if children, err := proc.Children(); err == nil {
		usage.ChildProcesses = len(children)
	}

	return usage, nil
}

func (s *gopsutilSampler) handle(pid int) (*gopsprocess.Process, error) {
	if proc, ok := s.handles[pid]; ok {
		return proc, nil
	}
	if pid <= 0 {
		return nil, errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	proc, err := gopsprocess.NewProcess(int32(pid))
	if err != nil {
		return nil, errors.NewProcessError("process is not running", err).WithContext("pid", pid)
	}
	s.handles[pid] = proc
	return proc, nil
}
