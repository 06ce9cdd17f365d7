package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/process"
	"github.com/core-tools/hsu-ecosystem/pkg/processstate"
)

// DefaultAppName names the subdirectory used for PID files and logs
const DefaultAppName = "hsu-ecosystem"

// ProcessFileConfig holds configuration for PID file and log directory placement
type ProcessFileConfig struct {
	// Base directory for PID files. If empty, uses OS-appropriate default
	BaseDirectory string `yaml:"base_directory,omitempty" json:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty" json:"service_context,omitempty"`

	AppName string `yaml:"app_name,omitempty" json:"app_name,omitempty"`

	UseSubdirectory bool `yaml:"use_subdirectory,omitempty" json:"use_subdirectory,omitempty"`
}

// ServiceContext defines the context in which the supervisor runs
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

func (c ServiceContext) Validate() error {
	switch c {
	case "", SystemService, UserService, SessionService:
		return nil
	}
	return errors.NewValidationError("invalid service context", nil).
		WithContext("service_context", string(c)).
		WithContext("valid_contexts", "system, user, session")
}

// ProcessFileManager places and maintains PID files
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

func (m *ProcessFileManager) Config() ProcessFileConfig {
	return m.config
}

// GeneratePIDFilePath returns the PID file path for an app
func (m *ProcessFileManager) GeneratePIDFilePath(workerID string) string {
	baseDir := m.getBaseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, workerID+".pid")
}

// WritePIDFile records pid for an app, creating the directory if needed
func (m *ProcessFileManager) WritePIDFile(workerID string, pid int) error {
	pidFilePath := m.GeneratePIDFilePath(workerID)
	m.logger.Debugf("Writing PID file, app: %s, pid: %d, path: %s", workerID, pid, pidFilePath)

	if err := ValidatePIDFileDirectory(pidFilePath); err != nil {
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	if err := os.WriteFile(pidFilePath, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Debugf("PID file written, app: %s, pid: %d", workerID, pid)
	return nil
}

// ReadPIDFile returns the PID recorded for an app
func (m *ProcessFileManager) ReadPIDFile(workerID string) (int, error) {
	pidFilePath := m.GeneratePIDFilePath(workerID)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError("PID file not found", err).WithContext("pid_file", pidFilePath)
		}
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pid, err := process.ValidatePID(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.NewValidationError("invalid PID in PID file", err).WithContext("pid_file", pidFilePath)
	}
	return pid, nil
}

// RemovePIDFile deletes an app's PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(workerID string) error {
	pidFilePath := m.GeneratePIDFilePath(workerID)
	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}
	return nil
}

// CheckStalePIDFile reports the PID of a still-running process left behind by a
// previous supervisor, or 0. PID files naming dead processes are removed.
func (m *ProcessFileManager) CheckStalePIDFile(workerID string) (int, error) {
	pid, err := m.ReadPIDFile(workerID)
	if err != nil {
		if errors.IsNotFoundError(err) {
			return 0, nil
		}
		if errors.IsValidationError(err) {
			m.logger.Warnf("Removing unreadable PID file, app: %s, error: %v", workerID, err)
			return 0, m.RemovePIDFile(workerID)
		}
		return 0, err
	}

	running, err := processstate.IsProcessRunning(pid)
	if err != nil {
		return 0, err
	}
	if running {
		return pid, nil
	}

	m.logger.Debugf("Removing PID file of exited process, app: %s, pid: %d", workerID, pid)
	return 0, m.RemovePIDFile(workerID)
}

// GenerateLogDirectoryPath returns the supervisor's log directory
func (m *ProcessFileManager) GenerateLogDirectoryPath() string {
	baseDir := m.getLogBaseDirectory()
	if m.config.UseSubdirectory {
		return filepath.Join(baseDir, m.config.AppName, "logs")
	}
	return filepath.Join(baseDir, "logs")
}

// GenerateLogFilePath resolves a path relative to the log directory
func (m *ProcessFileManager) GenerateLogFilePath(relativePath string) string {
	return filepath.Join(m.GenerateLogDirectoryPath(), relativePath)
}

// GenerateWorkerLogFilePath resolves a path template containing {app} relative to the log directory
func (m *ProcessFileManager) GenerateWorkerLogFilePath(relativeTemplate string, workerID string) string {
	return m.GenerateLogFilePath(strings.ReplaceAll(relativeTemplate, "{app}", workerID))
}

func (m *ProcessFileManager) getBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemRuntimeDirectory()
	case SessionService:
		return sessionRuntimeDirectory()
	default:
		return userRuntimeDirectory()
	}
}

func (m *ProcessFileManager) getLogBaseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		if runtime.GOOS == "windows" {
			return programData()
		}
		return "/var/log"
	case SessionService:
		return os.TempDir()
	default:
		return userDataDirectory()
	}
}

func systemRuntimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return programData()
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userRuntimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return localAppData()
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Application Support")
		}
		return os.TempDir()
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionRuntimeDirectory() string {
	if runtime.GOOS == "linux" {
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
	}
	return os.TempDir()
}

func userDataDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return localAppData()
	case "darwin":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "Library", "Logs")
		}
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return dataHome
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share")
		}
	}
	return os.TempDir()
}

func programData() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	return `C:\ProgramData`
}

func localAppData() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return dir
	}
	if profile := os.Getenv("USERPROFILE"); profile != "" {
		return filepath.Join(profile, "AppData", "Local")
	}
	return os.TempDir()
}

// ValidatePIDFileDirectory makes sure the directory of pidFilePath exists and is writable
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	case err != nil:
		return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
	case !info.IsDir():
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	testFile.Close()
	os.Remove(testFile.Name())

	return nil
}

// GetRecommendedProcessFileConfig maps a deployment scenario to a configuration
func GetRecommendedProcessFileConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{ServiceContext: SystemService, AppName: appName, UseSubdirectory: true}
	case "session", "desktop":
		return ProcessFileConfig{ServiceContext: SessionService, AppName: appName}
	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}
	default:
		return ProcessFileConfig{ServiceContext: UserService, AppName: appName, UseSubdirectory: true}
	}
}
