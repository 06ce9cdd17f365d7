package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/control"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/workers"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrolimpl"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
)

type MasterOptions struct {
	// Empty disables the control API
	APIAddress string

	// Zero disables the gRPC control service
	GRPCPort int

	ForceShutdownTimeout time.Duration
}

// MasterState represents the current state of the master
type MasterState string

const (
	// MasterStateNotStarted is the initial state before Start() is called
	MasterStateNotStarted MasterState = "not_started"

	// MasterStateRunning means master is running and can manage apps
	MasterStateRunning MasterState = "running"

	// MasterStateStopping means master is shutting down
	MasterStateStopping MasterState = "stopping"

	// MasterStateStopped means master has stopped
	MasterStateStopped MasterState = "stopped"
)

// WorkerEntry holds a registered app and its process control
type WorkerEntry struct {
	Worker         workers.Worker
	Metadata       workers.UnitMetadata
	ProcessControl processcontrol.ProcessControl
}

type Master struct {
	options     MasterOptions
	server      *control.Server    // nil without an API address
	grpcServer  corecontrol.Server // nil without a gRPC port
	logger      logging.Logger
	workers     map[string]*WorkerEntry
	order       []string // registration order
	masterState MasterState
	mutex       sync.Mutex
}

func NewMaster(options MasterOptions, logger logging.Logger) (*Master, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	master := &Master{
		options:     options,
		logger:      logger,
		workers:     make(map[string]*WorkerEntry),
		masterState: MasterStateNotStarted,
	}

	if options.APIAddress != "" {
		if err := ValidateListenAddress(options.APIAddress); err != nil {
			return nil, errors.NewValidationError("invalid API address", err)
		}
		apiLogger := logging.WithPrefix(logger, "api: ")
		master.server = control.NewServer(options.APIAddress, control.NewRouter(master, apiLogger), apiLogger)
	}

	if options.GRPCPort != 0 {
		if err := ValidatePort(options.GRPCPort); err != nil {
			return nil, errors.NewValidationError("invalid gRPC port", err)
		}

		coreLogger := corelogging.NewLogger("hsu-core: ", corelogging.LogFuncs{
			Debugf: logger.Debugf,
			Infof:  logger.Infof,
			Warnf:  logger.Warnf,
			Errorf: logger.Errorf,
		})
		server, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: options.GRPCPort}, coreLogger)
		if err != nil {
			return nil, errors.NewInternalError("failed to create gRPC server", err)
		}

		// Core services answer Ping, which clients use to wait for the daemon.
		corecontrol.RegisterGRPCServerHandler(server.GRPC(), coredomain.NewDefaultHandler(coreLogger), coreLogger)
		control.RegisterGRPCServerHandler(server.GRPC(), master, logging.WithPrefix(logger, "grpc: "))
		master.grpcServer = server
	}

	return master, nil
}

func (m *Master) AddWorker(worker workers.Worker) error {
	if worker == nil {
		return errors.NewValidationError("worker cannot be nil", nil)
	}

	id := worker.ID()

	if err := ValidateWorkerID(id); err != nil {
		return err
	}

	options := worker.ProcessControlOptions()
	if err := workers.ValidateProcessControlOptions(options); err != nil {
		return errors.NewValidationError("invalid worker process control options", err).WithContext("worker_id", id)
	}

	metadata := worker.Metadata()
	m.logger.Infof("Adding app, id: %s, script: %s, interpreter: %s, autorestart: %t, watch: %t, memory_limit: %d",
		id, metadata.Script, metadata.Interpreter, options.AutoRestart, options.Watch != nil, metadata.MemoryLimit)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.workers[id]; exists {
		return errors.NewConflictError("worker already exists", nil).WithContext("worker_id", id)
	}

	logger := logging.NewLogger("app: "+id+" , ", logging.LogFuncs{
		Debugf: m.logger.Debugf,
		Infof:  m.logger.Infof,
		Warnf:  m.logger.Warnf,
		Errorf: m.logger.Errorf,
	})

	// Runs under the process control lock, so it only logs.
	options.OnStateChange = func(from, to processcontrol.ProcessState) {
		logger.Debugf("State changed, %s -> %s", from, to)
	}

	m.workers[id] = &WorkerEntry{
		Worker:         worker,
		Metadata:       metadata,
		ProcessControl: processcontrolimpl.NewProcessControl(options, id, logger),
	}
	m.order = append(m.order, id)

	m.logger.Infof("App added successfully, id: %s", id)
	return nil
}

func (m *Master) RemoveWorker(id string) error {
	if err := ValidateWorkerID(id); err != nil {
		return err
	}

	m.logger.Infof("Removing app, id: %s", id)

	workerEntry, _, exists := m.getWorkerAndMasterState(id)
	if !exists {
		return errors.NewNotFoundError("worker not found", nil).WithContext("worker_id", id)
	}

	currentState := workerEntry.ProcessControl.GetState()
	if currentState.IsActive() {
		return errors.NewConflictError(
			fmt.Sprintf("cannot remove app in state '%s': app must be stopped before removal", currentState),
			nil,
		).WithContext("worker_id", id).
			WithContext("current_state", string(currentState)).
			WithContext("suggested_action", "call StopWorker first")
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.workers[id]; !exists {
		return errors.NewNotFoundError("worker not found", nil).WithContext("worker_id", id)
	}

	delete(m.workers, id)
	for i, registered := range m.order {
		if registered == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	m.logger.Infof("App removed successfully, id: %s", id)
	return nil
}

func (m *Master) StartWorker(ctx context.Context, id string) error {
	workerEntry, err := m.getRunningWorker(ctx, id, "start")
	if err != nil {
		return err
	}

	m.logger.Infof("Starting app, id: %s", id)

	if err := workerEntry.ProcessControl.Start(ctx); err != nil {
		m.logger.Errorf("Failed to start app, id: %s, error: %v", id, err)
		return wrapWorkerError(ctx, err, "failed to start worker", id)
	}

	diagnostics := workerEntry.ProcessControl.GetDiagnostics()
	m.logger.Infof("App started successfully, id: %s, pid: %d, run: %s", id, diagnostics.ProcessID, diagnostics.RunID)
	return nil
}

func (m *Master) StopWorker(ctx context.Context, id string) error {
	workerEntry, err := m.getRunningWorker(ctx, id, "stop")
	if err != nil {
		return err
	}

	runID := workerEntry.ProcessControl.GetDiagnostics().RunID
	m.logger.Infof("Stopping app, id: %s, run: %s", id, runID)

	if err := workerEntry.ProcessControl.Stop(ctx); err != nil {
		m.logger.Errorf("Failed to stop app, id: %s, error: %v", id, err)
		return wrapWorkerError(ctx, err, "failed to stop worker", id)
	}

	m.logger.Infof("App stopped successfully, id: %s, run: %s", id, runID)
	return nil
}

// RestartWorker restarts an app; force also revives an errored app
func (m *Master) RestartWorker(ctx context.Context, id string, force bool) error {
	workerEntry, err := m.getRunningWorker(ctx, id, "restart")
	if err != nil {
		return err
	}

	previousRun := workerEntry.ProcessControl.GetDiagnostics().RunID
	m.logger.Infof("Restarting app, id: %s, run: %s, force: %t", id, previousRun, force)

	if err := workerEntry.ProcessControl.Restart(ctx, force); err != nil {
		m.logger.Errorf("Failed to restart app, id: %s, error: %v", id, err)
		return wrapWorkerError(ctx, err, "failed to restart worker", id)
	}

	diagnostics := workerEntry.ProcessControl.GetDiagnostics()
	m.logger.Infof("App restarted successfully, id: %s, pid: %d, run: %s", id, diagnostics.ProcessID, diagnostics.RunID)
	return nil
}

// StartAllWorkers starts every registered app in registration order
func (m *Master) StartAllWorkers(ctx context.Context) error {
	errorCollection := errors.NewErrorCollection()
	for _, id := range m.getWorkerIDs() {
		if ctx.Err() != nil {
			errorCollection.Add(errors.NewCancelledError("start of remaining apps cancelled", ctx.Err()))
			break
		}
		if err := m.StartWorker(ctx, id); err != nil {
			errorCollection.Add(err)
		}
	}
	return errorCollection.ToError()
}

func (m *Master) Start(ctx context.Context) error {
	m.logger.Infof("Starting master...")

	if m.server != nil {
		if err := m.server.Start(ctx); err != nil {
			return errors.NewNetworkError("failed to start control API", err)
		}
	}
	if m.grpcServer != nil {
		m.logger.Infof("Starting gRPC control service, port: %d", m.options.GRPCPort)
		m.grpcServer.Start(ctx)
	}

	m.setMasterState(MasterStateRunning)

	m.logger.Infof("Master started")
	return nil
}

// Stop shuts down the control API and every app, bounded by the force shutdown timeout
func (m *Master) Stop(ctx context.Context) error {
	m.logger.Infof("Stopping master...")

	m.setMasterState(MasterStateStopping)

	if ctx == nil {
		ctx = context.Background()
	}

	forcedShutdownTimeout := m.options.ForceShutdownTimeout
	if forcedShutdownTimeout <= 0 {
		forcedShutdownTimeout = DefaultForceShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, forcedShutdownTimeout)
	defer cancel()

	errorCollection := errors.NewErrorCollection()

	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Errorf("Failed to shut down control API: %v", err)
			errorCollection.Add(err)
		}
	}
	if m.grpcServer != nil {
		m.grpcServer.Shutdown(ctx)
	}

	if err := m.stopWorkerProcessControls(ctx); err != nil {
		errorCollection.Add(err)
	}

	m.setMasterState(MasterStateStopped)

	m.logger.Infof("Master stopped")
	return errorCollection.ToError()
}

// APIAddress is the bound control API address, empty when disabled
func (m *Master) APIAddress() string {
	if m.server == nil {
		return ""
	}
	return m.server.Addr()
}

// GetWorkerState returns the current state of an app
func (m *Master) GetWorkerState(id string) (processcontrol.ProcessState, error) {
	workerEntry, err := m.getWorker(id)
	if err != nil {
		return "", err
	}
	return workerEntry.ProcessControl.GetState(), nil
}

// GetAllWorkerStates returns the state of every registered app
func (m *Master) GetAllWorkerStates() map[string]processcontrol.ProcessState {
	workerEntriesCopy := m.getAllWorkers()

	result := make(map[string]processcontrol.ProcessState, len(workerEntriesCopy))
	for id, workerEntry := range workerEntriesCopy {
		result[id] = workerEntry.ProcessControl.GetState()
	}
	return result
}

// GetWorkerProcessDiagnostics returns detailed process diagnostics for an app
func (m *Master) GetWorkerProcessDiagnostics(id string) (processcontrol.ProcessDiagnostics, error) {
	workerEntry, err := m.getWorker(id)
	if err != nil {
		return processcontrol.ProcessDiagnostics{}, err
	}
	return workerEntry.ProcessControl.GetDiagnostics(), nil
}

// GetMasterState returns the current state of the master
func (m *Master) GetMasterState() MasterState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.masterState
}

func (m *Master) stopWorkerProcessControls(ctx context.Context) error {
	m.logger.Infof("Stopping process controls...")

	workerEntriesCopy := m.getAllWorkers()

	var wg sync.WaitGroup
	var errMutex sync.Mutex
	errorCollection := errors.NewErrorCollection()

	for id, workerEntry := range workerEntriesCopy {
		wg.Add(1)
		go func(id string, workerEntry *WorkerEntry) {
			defer wg.Done()
			if err := workerEntry.ProcessControl.Stop(ctx); err != nil {
				m.logger.Errorf("Failed to stop process control, id: %s, error: %v", id, err)
				errMutex.Lock()
				errorCollection.Add(errors.NewProcessError("failed to stop process control", err).WithContext("worker_id", id))
				errMutex.Unlock()
			}
		}(id, workerEntry)
	}
	wg.Wait()

	if errorCollection.HasErrors() {
		m.logger.Errorf("Some process controls failed to stop: %v", errorCollection.Error())
		return errorCollection.ToError()
	}

	m.logger.Infof("Process controls stopped.")
	return nil
}

// getRunningWorker validates a lifecycle request against the app and master state
func (m *Master) getRunningWorker(ctx context.Context, id, operation string) (*WorkerEntry, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil)
	}

	if err := ValidateWorkerID(id); err != nil {
		return nil, err
	}

	workerEntry, currentMasterState, exists := m.getWorkerAndMasterState(id)
	if !exists {
		return nil, errors.NewNotFoundError("worker not found", nil).WithContext("worker_id", id)
	}

	if currentMasterState != MasterStateRunning {
		return nil, errors.NewConflictError(
			fmt.Sprintf("master must be running to %s apps, current state: %s", operation, currentMasterState),
			nil,
		).WithContext("worker_id", id).WithContext("master_state", string(currentMasterState))
	}

	return workerEntry, nil
}

func (m *Master) getWorker(id string) (*WorkerEntry, error) {
	if err := ValidateWorkerID(id); err != nil {
		return nil, err
	}

	workerEntry, _, exists := m.getWorkerAndMasterState(id)
	if !exists {
		return nil, errors.NewNotFoundError("worker not found", nil).WithContext("worker_id", id)
	}
	return workerEntry, nil
}

// wrapWorkerError keeps the classification of err so callers can still map it
func wrapWorkerError(ctx context.Context, err error, message, id string) error {
	if ctx.Err() != nil {
		return errors.NewCancelledError(message, ctx.Err()).WithContext("worker_id", id)
	}
	errorType := errors.TypeOf(err)
	if errorType == "" {
		errorType = errors.ErrorTypeProcess
	}
	return errors.NewDomainError(errorType, message, err).WithContext("worker_id", id)
}

// getAllWorkers returns a copy of all worker entries under lock
func (m *Master) getAllWorkers() map[string]*WorkerEntry {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	workerEntriesCopy := make(map[string]*WorkerEntry, len(m.workers))
	for id, workerEntry := range m.workers {
		workerEntriesCopy[id] = workerEntry
	}
	return workerEntriesCopy
}

func (m *Master) getWorkerIDs() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]string, len(m.order))
	copy(ids, m.order)
	return ids
}

// getWorkerAndMasterState returns worker entry and master state under lock
// Returns: workerEntry, masterState, exists
func (m *Master) getWorkerAndMasterState(id string) (*WorkerEntry, MasterState, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	workerEntry, exists := m.workers[id]
	return workerEntry, m.masterState, exists
}

func (m *Master) setMasterState(state MasterState) {
	m.mutex.Lock()
	m.masterState = state
	m.mutex.Unlock()
}
