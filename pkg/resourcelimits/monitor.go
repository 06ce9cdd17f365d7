package resourcelimits

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
)

type resourceMonitor struct {
	pid     int
	config  ResourceMonitoringConfig
	sampler UsageSampler
	logger  logging.Logger

	usageCallback ResourceUsageCallback

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mutex  sync.RWMutex

	isRunning    bool
	usageHistory []*ResourceUsage
}

// NewResourceMonitor creates a monitor for pid. A nil sampler uses gopsutil.
func NewResourceMonitor(pid int, config *ResourceMonitoringConfig, sampler UsageSampler, logger logging.Logger) ResourceMonitor {
	cfg := ResourceMonitoringConfig{Enabled: true}
	if config != nil {
		cfg = *config
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = DefaultHistoryRetention
	}
	if sampler == nil {
		sampler = NewUsageSampler()
	}

	return &resourceMonitor{
		pid:     pid,
		config:  cfg,
		sampler: sampler,
		logger:  logger,
	}
}

func (rm *resourceMonitor) Start(ctx context.Context) error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.isRunning {
		return errors.NewConflictError("resource monitor is already running", nil).WithContext("pid", rm.pid)
	}

	if !rm.config.Enabled {
		rm.logger.Infof("Resource monitoring disabled for PID %d", rm.pid)
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	rm.cancel = cancel
	rm.isRunning = true

	rm.logger.Debugf("Starting resource monitoring for PID %d, interval: %v", rm.pid, rm.config.Interval)

	rm.wg.Add(1)
	go rm.monitorLoop(loopCtx)

	return nil
}

func (rm *resourceMonitor) Stop() {
	rm.mutex.Lock()
	if !rm.isRunning {
		rm.mutex.Unlock()
		return
	}
	rm.cancel()
	rm.isRunning = false
	rm.mutex.Unlock()

	// The loop takes the mutex to store samples.
	rm.wg.Wait()

	rm.logger.Debugf("Resource monitoring stopped for PID %d", rm.pid)
}

func (rm *resourceMonitor) GetCurrentUsage() (*ResourceUsage, error) {
	usage, err := rm.sampler.Sample(rm.pid)
	if err != nil {
		return nil, errors.NewProcessError("failed to get resource usage", err).WithContext("pid", rm.pid)
	}
	return usage, nil
}

func (rm *resourceMonitor) GetLastUsage() *ResourceUsage {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	if len(rm.usageHistory) == 0 {
		return nil
	}
	return rm.usageHistory[len(rm.usageHistory)-1]
}

func (rm *resourceMonitor) SetUsageCallback(callback ResourceUsageCallback) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()
	rm.usageCallback = callback
}

func (rm *resourceMonitor) monitorLoop(ctx context.Context) {
	defer rm.wg.Done()

	ticker := time.NewTicker(rm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.collectUsage()
		}
	}
}

func (rm *resourceMonitor) collectUsage() {
	usage, err := rm.sampler.Sample(rm.pid)
	if err != nil {
		rm.logger.Debugf("Failed to collect resource usage for PID %d: %v", rm.pid, err)
		return
	}

	rm.logger.Debugf("Resource usage for PID %d: RSS: %dMB, CPU: %.1f%%, FDs: %d",
		rm.pid, usage.MemoryRSS/(1024*1024), usage.CPUPercent, usage.OpenFileDescriptors)

	rm.mutex.Lock()
	rm.addToHistory(usage)
	callback := rm.usageCallback
	rm.mutex.Unlock()

	if callback != nil {
		callback(usage)
	}
}

func (rm *resourceMonitor) addToHistory(usage *ResourceUsage) {
	rm.usageHistory = append(rm.usageHistory, usage)

	cutoff := usage.Timestamp.Add(-rm.config.HistoryRetention)
	drop := 0
	for drop < len(rm.usageHistory)-1 && rm.usageHistory[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		rm.usageHistory = append(rm.usageHistory[:0:0], rm.usageHistory[drop:]...)
	}
}

func (rm *resourceMonitor) GetUsageHistory(since time.Time) []*ResourceUsage {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	var result []*ResourceUsage
	for _, usage := range rm.usageHistory {
		if usage.Timestamp.After(since) {
			result = append(result, usage)
		}
	}
	return result
}
