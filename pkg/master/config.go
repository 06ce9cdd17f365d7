package master

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	logconfig "github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
	"github.com/core-tools/hsu-ecosystem/pkg/workers"

	"github.com/docker/go-units"
)

const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "console"
	DefaultForceShutdownTimeout = 30 * time.Second
)

// MasterConfig is an ecosystem file with the optional daemon sections
type MasterConfig struct {
	Master        MasterConfigOptions            `yaml:"master" json:"master"`
	Apps          []ecosystem.AppConfig          `yaml:"apps" json:"apps"`
	LogCollection *logconfig.LogCollectionConfig `yaml:"log_collection,omitempty" json:"log_collection,omitempty"`

	// Set by LoadConfigFromFile
	Path    string `yaml:"-" json:"-"`
	BaseDir string `yaml:"-" json:"-"`
}

// MasterConfigOptions represents daemon-level configuration
type MasterConfigOptions struct {
	LogLevel             string        `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	LogFormat            string        `yaml:"log_format,omitempty" json:"log_format,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty" json:"force_shutdown_timeout,omitempty"`

	// Empty disables the control API
	APIAddress string `yaml:"api_address,omitempty" json:"api_address,omitempty"`

	// Zero disables the gRPC control service
	GRPCPort int `yaml:"grpc_port,omitempty" json:"grpc_port,omitempty"`

	// Profile selects env_<profile> when the command line does not
	Profile string `yaml:"profile,omitempty" json:"profile,omitempty"`

	ProcessFile           processfile.ProcessFileConfig `yaml:"process_file,omitempty" json:"process_file,omitempty"`
	DisablePIDFiles       bool                          `yaml:"disable_pid_files,omitempty" json:"disable_pid_files,omitempty"`
	LogRotation           logconfig.RotationConfig      `yaml:"log_rotation,omitempty" json:"log_rotation,omitempty"`
	ResourceCheckInterval time.Duration                 `yaml:"resource_check_interval,omitempty" json:"resource_check_interval,omitempty"`
	WatchDebounce         time.Duration                 `yaml:"watch_debounce,omitempty" json:"watch_debounce,omitempty"`
}

type masterConfigFields MasterConfigOptions

// UnmarshalJSON accepts durations as "30s" strings as well as nanoseconds.
func (o *MasterConfigOptions) UnmarshalJSON(data []byte) error {
	aux := struct {
		*masterConfigFields
		ForceShutdownTimeout  *logconfig.Duration `json:"force_shutdown_timeout"`
		ResourceCheckInterval *logconfig.Duration `json:"resource_check_interval"`
		WatchDebounce         *logconfig.Duration `json:"watch_debounce"`
	}{masterConfigFields: (*masterConfigFields)(o)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	for _, field := range []struct {
		from *logconfig.Duration
		to   *time.Duration
	}{
		{aux.ForceShutdownTimeout, &o.ForceShutdownTimeout},
		{aux.ResourceCheckInterval, &o.ResourceCheckInterval},
		{aux.WatchDebounce, &o.WatchDebounce},
	} {
		if field.from != nil {
			*field.to = time.Duration(*field.from)
		}
	}
	return nil
}

// LoadConfigFromFile loads a YAML or JSON configuration, chosen by extension
func LoadConfigFromFile(filename string) (*MasterConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("config_file", filename)
	}

	config, err := ParseConfig(data, ecosystem.FormatFromPath(filename))
	if err != nil {
		return nil, errors.NewValidationError("failed to load configuration", err).WithContext("config_file", filename)
	}

	config.Path = filename
	config.BaseDir = ecosystem.BaseDirOf(filename)
	return config, nil
}

// ParseConfig decodes a configuration document and applies defaults
func ParseConfig(data []byte, format ecosystem.Format) (*MasterConfig, error) {
	var config MasterConfig
	if err := ecosystem.Decode(data, format, &config); err != nil {
		return nil, err
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *MasterConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateMasterConfig(&config.Master); err != nil {
		return errors.NewValidationError("invalid master configuration", err)
	}

	if err := ecosystem.ValidateApps(config.Apps); err != nil {
		return errors.NewValidationError("invalid apps configuration", err)
	}

	if config.LogCollection != nil {
		if err := config.LogCollection.Validate(); err != nil {
			return errors.NewValidationError("invalid log collection configuration", err)
		}
	}

	return nil
}

// CreateWorkersFromConfig builds a worker for every enabled app. Relative
// paths resolve against baseDir, which is normally the config file directory.
func CreateWorkersFromConfig(config *MasterConfig, profile, baseDir string, options workers.AppWorkerOptions, logger logging.Logger) ([]workers.Worker, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if absDir, err := filepath.Abs(baseDir); err == nil {
		baseDir = absDir
	}

	var result []workers.Worker

	for i, app := range config.Apps {
		if !app.IsEnabled() {
			logger.Infof("Skipping disabled app, name: %s", app.Name)
			continue
		}

		app.Resolve(baseDir)

		worker, err := workers.NewAppWorker(&workers.AppUnit{App: app, Profile: profile}, options, logger)
		if err != nil {
			return nil, errors.NewValidationError(
				fmt.Sprintf("failed to create app worker at index %d", i),
				err,
			).WithContext("app", app.Name).WithContext("app_index", fmt.Sprintf("%d", i))
		}

		result = append(result, worker)
	}

	return result, nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *MasterConfig) error {
	if config.Master.LogLevel == "" {
		config.Master.LogLevel = DefaultLogLevel
	}
	if config.Master.LogFormat == "" {
		config.Master.LogFormat = DefaultLogFormat
	}
	if config.Master.ForceShutdownTimeout == 0 {
		config.Master.ForceShutdownTimeout = DefaultForceShutdownTimeout
	}
	if config.Master.ResourceCheckInterval == 0 {
		config.Master.ResourceCheckInterval = resourcelimits.DefaultCheckInterval
	}
	if config.Master.WatchDebounce == 0 {
		config.Master.WatchDebounce = watch.DefaultDebounce
	}

	for i := range config.Apps {
		config.Apps[i].ApplyDefaults()
	}

	if config.LogCollection != nil {
		defaults := logconfig.DefaultLogCollectionConfig()
		if config.LogCollection.System.MaxWorkers == 0 {
			config.LogCollection.System.MaxWorkers = defaults.System.MaxWorkers
		}
		if config.LogCollection.System.DrainTimeout == 0 {
			config.LogCollection.System.DrainTimeout = defaults.System.DrainTimeout
		}
	}

	return nil
}

func validateMasterConfig(config *MasterConfigOptions) error {
	if _, err := logcollection.ParseLogLevel(config.LogLevel); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("invalid log level: %s", config.LogLevel),
			nil,
		).WithContext("valid_levels", "debug, info, warn, error")
	}

	switch strings.ToLower(config.LogFormat) {
	case "", "console", "json":
	default:
		return errors.NewValidationError(
			fmt.Sprintf("invalid log format: %s", config.LogFormat),
			nil,
		).WithContext("valid_formats", "console, json")
	}

	if err := ValidateTimeout(config.ForceShutdownTimeout, "force shutdown"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.ResourceCheckInterval, "resource check"); err != nil {
		return err
	}
	if config.WatchDebounce < 0 {
		return errors.NewValidationError("watch debounce cannot be negative", nil)
	}

	if config.GRPCPort != 0 {
		if err := ValidatePort(config.GRPCPort); err != nil {
			return err
		}
	}

	if config.APIAddress != "" {
		if err := ValidateListenAddress(config.APIAddress); err != nil {
			return err
		}
	}

	if err := config.ProcessFile.ServiceContext.Validate(); err != nil {
		return err
	}

	if err := validateRotation(config.LogRotation); err != nil {
		return err
	}

	return nil
}

func validateRotation(rotation logconfig.RotationConfig) error {
	if rotation.Enabled() {
		size, err := units.FromHumanSize(strings.TrimSpace(rotation.MaxSize))
		if err != nil {
			return errors.NewValidationError("invalid log_rotation max_size", err).WithContext("max_size", rotation.MaxSize)
		}
		if size <= 0 {
			return errors.NewValidationError("log_rotation max_size must be positive", nil).WithContext("max_size", rotation.MaxSize)
		}
	}
	if rotation.MaxFiles < 0 {
		return errors.NewValidationError("log_rotation max_files cannot be negative", nil)
	}
	if rotation.MaxAge < 0 {
		return errors.NewValidationError("log_rotation max_age cannot be negative", nil)
	}
	return nil
}
