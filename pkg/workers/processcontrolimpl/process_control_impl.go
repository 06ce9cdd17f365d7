package processcontrolimpl

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/process"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

	"github.com/google/uuid"
)

const (
	forceKillWait = 5 * time.Second
	// Pause between attempts when the respawn itself fails.
	respawnRetryDelay = time.Second
)

type startMode int

const (
	startManual  startMode = iota // Start, or Restart of an app without a process
	startRespawn                  // automatic restart after an exit
	startRestart                  // second half of Restart
)

// processRun is one spawned process and everything attached to it
type processRun struct {
	id        string
	process   *os.Process
	stdout    io.ReadCloser
	stderr    io.ReadCloser
	startTime time.Time

	// Closed once the process has been reaped.
	done     chan struct{}
	exitCode int

	// Set under processControl.mutex when Stop or Restart takes the process down.
	requested bool

	resourceManager resourcelimits.ResourceLimitManager
	logCollection   bool

	cleanupOnce sync.Once
	cleaned     chan struct{}
}

type processControl struct {
	config   processcontrol.ProcessControlOptions
	logger   logging.Logger
	workerID string

	restartCircuitBreaker RestartCircuitBreaker

	run            *processRun
	lastRun        *processRun
	pendingRestart context.CancelFunc
	fileWatcher    *watch.Watcher

	state           processcontrol.ProcessState
	lastError       *processcontrol.ProcessError
	failureCount    int
	restartCount    int
	lastAttemptTime time.Time
	lastExitCode    *int
	lastExitTime    *time.Time

	mutex sync.RWMutex
}

func NewProcessControl(config processcontrol.ProcessControlOptions, workerID string, logger logging.Logger) processcontrol.ProcessControl {
	return newProcessControl(config, workerID, logger)
}

func newProcessControl(config processcontrol.ProcessControlOptions, workerID string, logger logging.Logger) *processControl {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	var restartCircuitBreaker RestartCircuitBreaker
	if config.Restart != nil && config.CanRestart {
		restartCircuitBreaker = NewRestartCircuitBreaker(config.Restart, workerID, logger)
	}

	return &processControl{
		config:                config,
		logger:                logger,
		workerID:              workerID,
		restartCircuitBreaker: restartCircuitBreaker,
		state:                 processcontrol.ProcessStateIdle,
	}
}

func (pc *processControl) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	if err := pc.startInternal(ctx, startManual); err != nil {
		return err
	}

	pc.startWatcher()
	return nil
}

func (pc *processControl) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	err := pc.stopInternal(ctx)
	pc.stopWatcher()
	return err
}

func (pc *processControl) Restart(ctx context.Context, force bool) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}
	if !pc.config.CanRestart {
		return errors.NewValidationError("restart is not allowed", nil).WithContext("app", pc.workerID)
	}

	pc.logger.Infof("Restart requested, app: %s, force: %t", pc.workerID, force)

	restartContext := processcontrol.RestartContext{
		TriggerType: processcontrol.RestartTriggerManual,
		Severity:    "critical",
		Message:     "manual restart request",
	}
	if err := pc.restartInternal(ctx, nil, restartContext, force); err != nil {
		return err
	}

	pc.startWatcher()
	return nil
}

func (pc *processControl) GetState() processcontrol.ProcessState {
	return pc.safeGetState()
}

func (pc *processControl) GetDiagnostics() processcontrol.ProcessDiagnostics {
	pc.mutex.RLock()
	diag := processcontrol.ProcessDiagnostics{
		State:           pc.state,
		LastError:       pc.lastError,
		ExecutablePath:  pc.config.ExecutablePath,
		FailureCount:    pc.failureCount,
		LastAttemptTime: pc.lastAttemptTime,
		RestartCount:    pc.restartCount,
		LastExitCode:    pc.lastExitCode,
		LastExitTime:    pc.lastExitTime,
	}
	run := pc.run
	if run != nil {
		startTime := run.startTime
		diag.ProcessID = run.process.Pid
		diag.RunID = run.id
		diag.StartTime = &startTime
	}
	pc.mutex.RUnlock()

	if run != nil && run.resourceManager != nil {
		if usage := run.resourceManager.GetLastUsage(); usage != nil {
			diag.MemoryRSS = usage.MemoryRSS
			diag.CPUPercent = usage.CPUPercent
		}
	}
	if pc.restartCircuitBreaker != nil {
		diag.UnstableRestarts = pc.restartCircuitBreaker.GetState().RestartAttempts
	}
	if diag.ExecutablePath != "" {
		_, err := os.Stat(diag.ExecutablePath)
		diag.ExecutableExists = err == nil
	}

	return diag
}

// ===== START =====

func (pc *processControl) startInternal(ctx context.Context, mode startMode) error {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if !pc.canStartFromState(pc.state, mode) {
		return errors.NewConflictError(
			fmt.Sprintf("cannot start process in state '%s': operation not allowed", pc.state),
			nil).WithContext("app", pc.workerID).WithContext("current_state", string(pc.state))
	}

	if mode == startManual && pc.restartCircuitBreaker != nil &&
		(pc.state == processcontrol.ProcessStateErrored || pc.state == processcontrol.ProcessStateFailedStart) {
		pc.restartCircuitBreaker.Reset()
	}

	// Output of the previous run must be flushed before a new run registers.
	if prev := pc.lastRun; prev != nil {
		<-prev.cleaned
	}

	pc.setStateLocked(processcontrol.ProcessStateStarting)
	pc.lastAttemptTime = time.Now()

	run, err := pc.startProcess(ctx)
	if err != nil {
		pc.failureCount++
		pc.lastError = categorizeStartError(err)
		pc.setStateLocked(processcontrol.ProcessStateFailedStart)
		return errors.NewProcessError("failed to start process", err).WithContext("app", pc.workerID)
	}

	pc.run = run
	pc.lastRun = run
	pc.failureCount = 0
	if mode != startManual {
		pc.restartCount++
	}
	pc.setStateLocked(processcontrol.ProcessStateRunning)

	go pc.waitForExit(run)

	pc.logger.Infof("Process started, app: %s, PID: %d, run: %s", pc.workerID, run.process.Pid, run.id)
	return nil
}

// canStartFromState validates if starting is allowed from the current state
func (pc *processControl) canStartFromState(currentState processcontrol.ProcessState, mode startMode) bool {
	switch mode {
	case startRespawn:
		return currentState == processcontrol.ProcessStateWaitingRestart
	case startRestart:
		// The old process may have needed a kill after its graceful timeout.
		return currentState == processcontrol.ProcessStateStopping ||
			currentState == processcontrol.ProcessStateTerminating
	}

	switch currentState {
	case processcontrol.ProcessStateIdle,
		processcontrol.ProcessStateErrored,
		processcontrol.ProcessStateFailedStart:
		return true
	default:
		return false
	}
}

func (pc *processControl) startProcess(ctx context.Context) (*processRun, error) {
	if pc.config.ExecuteCmd == nil {
		return nil, errors.NewValidationError("no execute command configured", nil).WithContext("app", pc.workerID)
	}

	if pfm := pc.config.ProcessFileManager; pfm != nil {
		if pid, err := pfm.CheckStalePIDFile(pc.workerID); err != nil {
			pc.logger.Warnf("Failed to check PID file, app: %s, error: %v", pc.workerID, err)
		} else if pid > 0 {
			pc.logger.Warnf("Process from a previous supervisor is still running, app: %s, PID: %d", pc.workerID, pid)
		}
	}

	proc, stdout, stderr, err := pc.config.ExecuteCmd(ctx)
	if err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, errors.NewInternalError("no process available after startup", nil)
	}

	run := &processRun{
		id:        uuid.NewString(),
		process:   proc,
		stdout:    stdout,
		stderr:    stderr,
		startTime: time.Now(),
		done:      make(chan struct{}),
		exitCode:  -1,
		cleaned:   make(chan struct{}),
	}

	if err := pc.startLogCollection(run); err != nil {
		pc.logger.Warnf("Failed to start log collection, app: %s, error: %v", pc.workerID, err)
	}
	if !run.logCollection {
		drain(run.stdout)
		drain(run.stderr)
	}

	if pc.config.Limits.HasLimits() {
		manager, err := pc.startResourceMonitoring(run)
		if err != nil {
			pc.logger.Warnf("Failed to start resource monitoring, app: %s, error: %v", pc.workerID, err)
		}
		run.resourceManager = manager
	}

	if pfm := pc.config.ProcessFileManager; pfm != nil {
		if err := pfm.WritePIDFile(pc.workerID, proc.Pid); err != nil {
			pc.logger.Warnf("Failed to write PID file, app: %s, error: %v", pc.workerID, err)
		}
	}

	return run, nil
}

func drain(stream io.Reader) {
	if stream == nil {
		return
	}
	go io.Copy(io.Discard, stream)
}

func (pc *processControl) startResourceMonitoring(run *processRun) (resourcelimits.ResourceLimitManager, error) {
	manager := resourcelimits.NewResourceLimitManager(run.process.Pid, pc.config.Limits, pc.logger)
	manager.SetViolationCallback(func(policy resourcelimits.ResourcePolicy, violation *resourcelimits.ResourceViolation) {
		pc.handleResourceViolation(run, policy, violation)
	})

	// Monitoring lives as long as the run, not the request that started it.
	if err := manager.Start(context.Background()); err != nil {
		return nil, err
	}
	return manager, nil
}

// ===== EXIT HANDLING =====

func (pc *processControl) waitForExit(run *processRun) {
	state, err := run.process.Wait()
	if err != nil {
		pc.logger.Warnf("Process wait failed, app: %s, PID: %d, error: %v", pc.workerID, run.process.Pid, err)
	}
	if state != nil {
		run.exitCode = state.ExitCode()
	}
	close(run.done)

	pc.handleExit(run)
}

func (pc *processControl) handleExit(run *processRun) {
	uptime := time.Since(run.startTime)

	pc.mutex.Lock()
	if pc.run != run || run.requested {
		pc.mutex.Unlock()
		return
	}

	pc.logger.Warnf("Process exited, app: %s, PID: %d, exit code: %d, uptime: %v",
		pc.workerID, run.process.Pid, run.exitCode, uptime.Round(time.Millisecond))

	exitCode := run.exitCode
	exitTime := time.Now()
	pc.lastExitCode = &exitCode
	pc.lastExitTime = &exitTime
	pc.run = nil

	autoRestart := pc.config.AutoRestart && pc.restartCircuitBreaker != nil
	if exitCode != 0 {
		pc.lastError = &processcontrol.ProcessError{
			Category:    processcontrol.ErrorCategoryProcessCrash,
			Details:     fmt.Sprintf("exited with code %d after %v", exitCode, uptime.Round(time.Millisecond)),
			Timestamp:   exitTime,
			Recoverable: autoRestart,
		}
	}

	var restartCtx context.Context
	if autoRestart {
		if uptime >= pc.config.MinUptime {
			pc.restartCircuitBreaker.Reset()
		}
		var cancel context.CancelFunc
		restartCtx, cancel = context.WithCancel(context.Background())
		pc.pendingRestart = cancel
		pc.setStateLocked(processcontrol.ProcessStateWaitingRestart)
	} else {
		pc.setStateLocked(processcontrol.ProcessStateIdle)
	}
	pc.mutex.Unlock()

	pc.cleanupRun(run)

	if restartCtx != nil {
		severity := "critical"
		if exitCode == 0 {
			severity = "warning"
		}
		pc.scheduleRestart(restartCtx, processcontrol.RestartContext{
			TriggerType: processcontrol.RestartTriggerExit,
			Severity:    severity,
			Message:     fmt.Sprintf("process exited with code %d", exitCode),
		})
	}
}

// scheduleRestart respawns through the circuit breaker until a process runs,
// the breaker opens, or ctx is cancelled by Stop or Restart
func (pc *processControl) scheduleRestart(ctx context.Context, restartContext processcontrol.RestartContext) {
	for {
		err := pc.restartCircuitBreaker.ExecuteRestart(ctx, func() error {
			return pc.startInternal(context.Background(), startRespawn)
		}, restartContext)

		switch {
		case err == nil:
			pc.clearPendingRestart(ctx)
			return

		case errors.IsCancelledError(err), errors.IsValidationError(err):
			// Stop or Restart took over.
			return

		case errors.IsConflictError(err):
			pc.mutex.Lock()
			if pc.state == processcontrol.ProcessStateWaitingRestart && ctx.Err() == nil {
				pc.lastError = &processcontrol.ProcessError{
					Category:  processcontrol.ErrorCategoryRestartLimit,
					Details:   err.Error(),
					Timestamp: time.Now(),
				}
				pc.pendingRestart = nil
				pc.setStateLocked(processcontrol.ProcessStateErrored)
				pc.logger.Errorf("Too many unstable restarts, app: %s, giving up", pc.workerID)
			}
			pc.mutex.Unlock()
			return
		}

		// The respawn itself failed and left the app in failed_start.
		pc.mutex.Lock()
		if pc.state != processcontrol.ProcessStateFailedStart || ctx.Err() != nil {
			pc.mutex.Unlock()
			return
		}
		pc.setStateLocked(processcontrol.ProcessStateWaitingRestart)
		pc.mutex.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(respawnRetryDelay):
		}

		restartContext = processcontrol.RestartContext{
			TriggerType: processcontrol.RestartTriggerExit,
			Severity:    "critical",
			Message:     "respawn failed: " + err.Error(),
		}
	}
}

func (pc *processControl) clearPendingRestart(ctx context.Context) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	if pc.pendingRestart != nil && ctx.Err() == nil {
		pc.pendingRestart()
		pc.pendingRestart = nil
	}
}

// cancelPendingRestartLocked must be called with the mutex held
func (pc *processControl) cancelPendingRestartLocked() {
	if pc.pendingRestart != nil {
		pc.pendingRestart()
		pc.pendingRestart = nil
		pc.logger.Debugf("Pending restart cancelled, app: %s", pc.workerID)
	}
}

// ===== STOP AND RESTART =====

func (pc *processControl) stopInternal(ctx context.Context) error {
	pc.logger.Infof("Stopping process, app: %s", pc.workerID)

	plan := pc.validateAndPlanStop()
	if !plan.shouldProceed {
		return plan.errorToReturn
	}

	terminationError := pc.terminateRun(ctx, plan.run, false)
	pc.cleanupRun(plan.run)
	pc.finalizeStop()

	if terminationError != nil {
		return errors.NewProcessError("failed to terminate process", terminationError).WithContext("app", pc.workerID)
	}

	pc.logger.Infof("Process stopped, app: %s", pc.workerID)
	return nil
}

// restartInternal takes down the current run, if any, and starts a new one.
// With onlyRun set, it does nothing unless that run is still current.
func (pc *processControl) restartInternal(ctx context.Context, onlyRun *processRun, restartContext processcontrol.RestartContext, force bool) error {
	plan := pc.validateAndPlanRestart(onlyRun, force)
	if !plan.shouldProceed {
		return plan.errorToReturn
	}

	pc.logger.Infof("Restarting process, app: %s, trigger: %s, reason: %s", pc.workerID, restartContext.TriggerType, restartContext.Message)

	if plan.run == nil {
		return pc.startInternal(ctx, startManual)
	}

	if err := pc.terminateRun(ctx, plan.run, false); err != nil {
		pc.logger.Warnf("Failed to terminate process during restart, app: %s, error: %v", pc.workerID, err)
	}
	pc.cleanupRun(plan.run)

	// ctx may be a request that ended while the old process was shutting down.
	if err := pc.startInternal(context.WithoutCancel(ctx), startRestart); err != nil {
		pc.finalizeStop()
		return err
	}
	return nil
}

// terminateRun signals the process group, waits for the graceful timeout, then kills it
func (pc *processControl) terminateRun(ctx context.Context, run *processRun, immediate bool) error {
	if !pc.config.CanTerminate {
		return errors.NewValidationError("termination is not allowed", nil).WithContext("app", pc.workerID)
	}

	pid := run.process.Pid

	// A zero graceful timeout kills right away.
	gracefulTimeout := pc.config.GracefulTimeout
	if !immediate && gracefulTimeout > 0 {
		pc.logger.Debugf("Sending termination signal, app: %s, PID: %d, timeout: %v", pc.workerID, pid, gracefulTimeout)
		if err := process.SendTerminationSignal(pid, gracefulTimeout); err != nil {
			pc.logger.Warnf("Failed to send termination signal, app: %s, PID: %d, error: %v", pc.workerID, pid, err)
		}

		timer := time.NewTimer(gracefulTimeout)
		defer timer.Stop()

		select {
		case <-run.done:
			pc.logger.Debugf("Process terminated gracefully, app: %s, PID: %d", pc.workerID, pid)
			return nil
		case <-timer.C:
			pc.logger.Warnf("Process did not exit within %v, killing, app: %s, PID: %d", gracefulTimeout, pc.workerID, pid)
		case <-ctx.Done():
			pc.logger.Warnf("Context cancelled during graceful termination, killing, app: %s, PID: %d", pc.workerID, pid)
		}
	}

	pc.setStateIf(processcontrol.ProcessStateStopping, processcontrol.ProcessStateTerminating)

	if err := process.KillProcessGroup(pid); err != nil {
		pc.logger.Warnf("Failed to kill process group, app: %s, PID: %d, error: %v", pc.workerID, pid, err)
		run.process.Kill()
	}

	select {
	case <-run.done:
		return nil
	case <-time.After(forceKillWait):
		return errors.NewTimeoutError("process did not terminate even after force termination", nil).WithContext("pid", pid)
	}
}

// handleResourceViolation runs on its own goroutine for each critical violation
func (pc *processControl) handleResourceViolation(run *processRun, policy resourcelimits.ResourcePolicy, violation *resourcelimits.ResourceViolation) {
	pc.mutex.RLock()
	current := pc.run == run
	pc.mutex.RUnlock()
	if !current {
		return
	}

	switch policy {
	case resourcelimits.ResourcePolicyLog:
		pc.logger.Warnf("Resource limit exceeded, app: %s: %s", pc.workerID, violation.Message)

	case resourcelimits.ResourcePolicyRestart:
		pc.logger.Warnf("Resource limit exceeded, restarting, app: %s: %s", pc.workerID, violation.Message)
		pc.recordResourceError(violation)
		restartContext := processcontrol.RestartContext{
			TriggerType:   processcontrol.RestartTriggerResourceViolation,
			Severity:      string(violation.Severity),
			ViolationType: string(violation.LimitType),
			Message:       violation.Message,
		}
		if err := pc.restartInternal(context.Background(), run, restartContext, true); err != nil {
			pc.logger.Errorf("Failed to restart after resource violation, app: %s, error: %v", pc.workerID, err)
		}

	case resourcelimits.ResourcePolicyGracefulShutdown, resourcelimits.ResourcePolicyImmediateKill:
		pc.logger.Errorf("Resource limit exceeded, shutting down, app: %s, policy: %s: %s", pc.workerID, policy, violation.Message)
		pc.recordResourceError(violation)
		if err := pc.terminateWithPolicy(run, policy == resourcelimits.ResourcePolicyImmediateKill); err != nil {
			pc.logger.Errorf("Failed to shut down after resource violation, app: %s, error: %v", pc.workerID, err)
		}

	default:
		pc.logger.Warnf("Unknown resource policy %s, app: %s", policy, pc.workerID)
	}
}

func (pc *processControl) recordResourceError(violation *resourcelimits.ResourceViolation) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	pc.lastError = &processcontrol.ProcessError{
		Category:    processcontrol.ErrorCategoryResourceLimit,
		Details:     violation.Message,
		Timestamp:   violation.Timestamp,
		Recoverable: true,
	}
}

// terminateWithPolicy stops run without restarting it
func (pc *processControl) terminateWithPolicy(run *processRun, immediate bool) error {
	pc.mutex.Lock()
	if pc.run != run || pc.state != processcontrol.ProcessStateRunning {
		pc.mutex.Unlock()
		return nil
	}
	run.requested = true
	pc.run = nil
	if immediate {
		pc.setStateLocked(processcontrol.ProcessStateTerminating)
	} else {
		pc.setStateLocked(processcontrol.ProcessStateStopping)
	}
	pc.mutex.Unlock()

	err := pc.terminateRun(context.Background(), run, immediate)
	pc.cleanupRun(run)
	pc.finalizeStop()
	return err
}

func (pc *processControl) handleWatchChange(path string) {
	restartContext := processcontrol.RestartContext{
		TriggerType: processcontrol.RestartTriggerWatch,
		Severity:    "warning",
		Message:     "file changed: " + path,
	}

	switch pc.GetState() {
	case processcontrol.ProcessStateRunning:
		if err := pc.restartInternal(context.Background(), nil, restartContext, false); err != nil {
			pc.logger.Warnf("Watch restart failed, app: %s, error: %v", pc.workerID, err)
		}
	case processcontrol.ProcessStateErrored, processcontrol.ProcessStateFailedStart, processcontrol.ProcessStateWaitingRestart:
		// A change is a fresh chance for a crashing app.
		if err := pc.restartInternal(context.Background(), nil, restartContext, true); err != nil {
			pc.logger.Warnf("Watch restart failed, app: %s, error: %v", pc.workerID, err)
		}
	}
}

// cleanupRun releases everything attached to run, once
func (pc *processControl) cleanupRun(run *processRun) {
	run.cleanupOnce.Do(func() {
		defer close(run.cleaned)

		if run.resourceManager != nil {
			run.resourceManager.Stop()
		}

		if run.logCollection {
			// Unregistering drains what the process wrote before it exited.
			if err := pc.config.LogCollectionService.UnregisterWorker(pc.workerID); err != nil {
				pc.logger.Warnf("Failed to stop log collection, app: %s, error: %v", pc.workerID, err)
			}
		}
		for _, stream := range []io.Closer{run.stdout, run.stderr} {
			if stream != nil {
				stream.Close()
			}
		}

		if pfm := pc.config.ProcessFileManager; pfm != nil {
			if err := pfm.RemovePIDFile(pc.workerID); err != nil {
				pc.logger.Warnf("Failed to remove PID file, app: %s, error: %v", pc.workerID, err)
			}
		}
	})
}

// ===== WATCH =====

func (pc *processControl) startWatcher() {
	if pc.config.Watch == nil {
		return
	}

	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if pc.fileWatcher != nil {
		return
	}

	watcher := watch.NewWatcher(*pc.config.Watch, pc.handleWatchChange, pc.logger)
	if err := watcher.Start(context.Background()); err != nil {
		pc.logger.Warnf("Failed to start file watcher, app: %s, error: %v", pc.workerID, err)
		return
	}
	pc.fileWatcher = watcher
}

// stopWatcher must not run on the watcher's own callback
func (pc *processControl) stopWatcher() {
	pc.mutex.Lock()
	watcher := pc.fileWatcher
	pc.fileWatcher = nil
	pc.mutex.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
}

// ===== DEFER-ONLY LOCKING HELPERS =====

type stopPlan struct {
	run           *processRun
	shouldProceed bool
	errorToReturn error
}

func (pc *processControl) validateAndPlanStop() *stopPlan {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	plan := &stopPlan{}

	pc.cancelPendingRestartLocked()

	switch pc.state {
	case processcontrol.ProcessStateIdle:
		return plan

	case processcontrol.ProcessStateWaitingRestart,
		processcontrol.ProcessStateErrored,
		processcontrol.ProcessStateFailedStart:
		pc.setStateLocked(processcontrol.ProcessStateIdle)
		return plan

	case processcontrol.ProcessStateRunning:
		pc.run.requested = true
		plan.run = pc.run
		pc.run = nil
		pc.setStateLocked(processcontrol.ProcessStateStopping)
		plan.shouldProceed = true
		return plan
	}

	plan.errorToReturn = errors.NewConflictError(
		fmt.Sprintf("cannot stop process in state '%s': operation in progress", pc.state),
		nil).WithContext("app", pc.workerID).WithContext("current_state", string(pc.state))
	return plan
}

func (pc *processControl) validateAndPlanRestart(onlyRun *processRun, force bool) *stopPlan {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	plan := &stopPlan{}

	if onlyRun != nil && pc.run != onlyRun {
		return plan
	}

	switch pc.state {
	case processcontrol.ProcessStateRunning:
		pc.run.requested = true
		plan.run = pc.run
		pc.run = nil
		pc.setStateLocked(processcontrol.ProcessStateStopping)
		plan.shouldProceed = true
		return plan

	case processcontrol.ProcessStateErrored:
		if !force {
			plan.errorToReturn = errors.NewConflictError("app stopped after too many unstable restarts; use force to restart", nil).
				WithContext("app", pc.workerID)
			return plan
		}
		fallthrough

	case processcontrol.ProcessStateIdle,
		processcontrol.ProcessStateWaitingRestart,
		processcontrol.ProcessStateFailedStart:
		pc.cancelPendingRestartLocked()
		if pc.state == processcontrol.ProcessStateWaitingRestart {
			pc.setStateLocked(processcontrol.ProcessStateIdle)
		}
		plan.shouldProceed = true
		return plan
	}

	plan.errorToReturn = errors.NewConflictError(
		fmt.Sprintf("cannot restart process in state '%s': operation in progress", pc.state),
		nil).WithContext("app", pc.workerID).WithContext("current_state", string(pc.state))
	return plan
}

func (pc *processControl) finalizeStop() {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if pc.state == processcontrol.ProcessStateStopping || pc.state == processcontrol.ProcessStateTerminating {
		pc.setStateLocked(processcontrol.ProcessStateIdle)
	}
}

func (pc *processControl) setStateIf(from, to processcontrol.ProcessState) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()
	if pc.state == from {
		pc.setStateLocked(to)
	}
}

// setStateLocked must be called with the mutex held. The callback runs under
// the mutex and must not call back into the control.
func (pc *processControl) setStateLocked(to processcontrol.ProcessState) {
	from := pc.state
	if from == to {
		return
	}
	pc.state = to
	pc.logger.Debugf("State transition: %s -> %s, app: %s", from, to, pc.workerID)
	if pc.config.OnStateChange != nil {
		pc.config.OnStateChange(from, to)
	}
}

func (pc *processControl) safeGetState() processcontrol.ProcessState {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	return pc.state
}

// ===== LOG COLLECTION INTEGRATION =====

func (pc *processControl) startLogCollection(run *processRun) error {
	service := pc.config.LogCollectionService
	if service == nil || pc.config.LogConfig == nil || !pc.config.LogConfig.Enabled {
		return nil
	}

	if err := service.RegisterWorker(pc.workerID, *pc.config.LogConfig); err != nil {
		return errors.NewInternalError("failed to register app for log collection", err)
	}

	if err := service.CollectFromProcess(pc.workerID, run.stdout, run.stderr); err != nil {
		service.UnregisterWorker(pc.workerID)
		return errors.NewInternalError("failed to start output collection", err)
	}

	run.logCollection = true
	return nil
}

// ===== ERRORS =====

func categorizeStartError(err error) *processcontrol.ProcessError {
	pe := &processcontrol.ProcessError{
		Category:    processcontrol.ErrorCategoryUnknown,
		Details:     err.Error(),
		Underlying:  err,
		Timestamp:   time.Now(),
		Recoverable: true,
	}

	switch {
	case stderrors.Is(err, fs.ErrNotExist), stderrors.Is(err, exec.ErrNotFound), inChain(err, errors.IsNotFoundError):
		pe.Category = processcontrol.ErrorCategoryExecutableNotFound
		pe.Recoverable = false
	case stderrors.Is(err, fs.ErrPermission), inChain(err, errors.IsPermissionError):
		pe.Category = processcontrol.ErrorCategoryPermissionDenied
		pe.Recoverable = false
	case inChain(err, errors.IsTimeoutError):
		pe.Category = processcontrol.ErrorCategoryTimeout
	}
	return pe
}

// inChain applies is to err and every error it wraps
func inChain(err error, is func(error) bool) bool {
	for ; err != nil; err = stderrors.Unwrap(err) {
		if is(err) {
			return true
		}
	}
	return false
}
