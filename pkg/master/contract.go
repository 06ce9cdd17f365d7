package master

import (
	"context"

	"github.com/core-tools/hsu-ecosystem/pkg/domain"
)

var _ domain.Contract = (*Master)(nil)

// Status reports the master state
func (m *Master) Status(ctx context.Context) (string, error) {
	return string(m.GetMasterState()), nil
}

// ListApps reports every registered app in registration order
func (m *Master) ListApps(ctx context.Context) ([]domain.AppStatus, error) {
	ids := m.getWorkerIDs()
	apps := make([]domain.AppStatus, 0, len(ids))
	for _, id := range ids {
		workerEntry, _, exists := m.getWorkerAndMasterState(id)
		if !exists {
			continue // removed meanwhile
		}
		apps = append(apps, appStatus(workerEntry))
	}
	return apps, nil
}

func (m *Master) GetApp(ctx context.Context, name string) (*domain.AppStatus, error) {
	workerEntry, err := m.getWorker(name)
	if err != nil {
		return nil, err
	}
	status := appStatus(workerEntry)
	return &status, nil
}

func (m *Master) StartApp(ctx context.Context, name string) error {
	return m.StartWorker(ctx, name)
}

func (m *Master) StopApp(ctx context.Context, name string) error {
	return m.StopWorker(ctx, name)
}

func (m *Master) RestartApp(ctx context.Context, name string, force bool) error {
	return m.RestartWorker(ctx, name, force)
}

func appStatus(workerEntry *WorkerEntry) domain.AppStatus {
	metadata := workerEntry.Metadata
	diagnostics := workerEntry.ProcessControl.GetDiagnostics()

	status := domain.AppStatus{
		Name:        metadata.Name,
		State:       string(diagnostics.State),
		Script:      metadata.Script,
		Interpreter: metadata.Interpreter,
		Cwd:         metadata.Cwd,
		Profile:     metadata.Profile,
		Watch:       metadata.Watch,

		PID:       diagnostics.ProcessID,
		RunID:     diagnostics.RunID,
		StartTime: diagnostics.StartTime,

		Restarts:         diagnostics.RestartCount,
		UnstableRestarts: diagnostics.UnstableRestarts,
		LastExitCode:     diagnostics.LastExitCode,
		LastExitTime:     diagnostics.LastExitTime,

		MemoryRSS:   diagnostics.MemoryRSS,
		MemoryLimit: metadata.MemoryLimit,
		CPUPercent:  diagnostics.CPUPercent,
	}
	if diagnostics.LastError != nil {
		status.LastError = diagnostics.LastError.Category + ": " + diagnostics.LastError.Details
	}
	return status
}
