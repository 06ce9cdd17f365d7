package master

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
	"github.com/core-tools/hsu-ecosystem/pkg/workers"
)

type RunOptions struct {
	// Cancelling Context stops the run like a signal would. Defaults to Background.
	Context context.Context

	ConfigFile string

	// Overrides master.profile
	Profile string

	// Zero runs until SIGINT or SIGTERM
	RunDuration time.Duration

	// Overrides master.api_address
	APIAddress string

	// Overrides master.grpc_port
	GRPCPort int

	// Logger for the log collection service; built from master.log_level if nil
	StructuredLogger logcollection.StructuredLogger

	// Called once every app has been started
	Ready func(master *Master)
}

// Run loads the configuration file and supervises its apps until stopped
func Run(options RunOptions, logger logging.Logger) error {
	logger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)

	config, err := LoadConfigFromFile(options.ConfigFile)
	if err != nil {
		return err
	}

	return RunWithConfig(config, options, logger)
}

// RunWithConfig supervises the apps of an already loaded configuration
func RunWithConfig(config *MasterConfig, options RunOptions, logger logging.Logger) error {
	logger.Infof("Master runner starting...")

	if options.APIAddress != "" {
		config.Master.APIAddress = options.APIAddress
	}
	if options.GRPCPort != 0 {
		config.Master.GRPCPort = options.GRPCPort
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", config.Path)
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if options.RunDuration > 0 {
		logger.Infof("Using RUN DURATION of %v", options.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.RunDuration)
		defer cancel()
	}

	profile := options.Profile
	if profile == "" {
		profile = config.Master.Profile
	}
	baseDir := config.BaseDir
	if baseDir == "" {
		baseDir, _ = os.Getwd()
	}

	logger.Infof("Configuration loaded, apps: %d, profile: %q, base directory: %s", len(config.Apps), profile, baseDir)

	var pathManager *processfile.ProcessFileManager
	if !config.Master.DisablePIDFiles {
		pathManager = processfile.NewProcessFileManager(config.Master.ProcessFile, logging.WithPrefix(logger, "processfile: "))
	}

	structuredLogger := options.StructuredLogger
	if structuredLogger == nil {
		level, _ := logcollection.ParseLogLevel(config.Master.LogLevel)
		cfg := logcollection.DefaultLoggerConfig()
		cfg.Level = level
		cfg.Format = config.Master.LogFormat
		var err error
		structuredLogger, err = logcollection.NewStructuredLoggerWithConfig(cfg)
		if err != nil {
			return errors.NewInternalError("failed to create log collection logger", err)
		}
	}

	logIntegration, err := NewLogCollectionIntegration(config.LogCollection, structuredLogger, pathManager, logger)
	if err != nil {
		return errors.NewInternalError("failed to create log collection integration", err)
	}
	if err := logIntegration.Start(ctx); err != nil {
		return errors.NewInternalError("failed to start log collection", err)
	}
	defer func() {
		if err := logIntegration.Stop(); err != nil {
			logger.Errorf("Failed to stop log collection: %v", err)
		}
	}()

	workerOptions := workers.AppWorkerOptions{
		ProcessFileManager:    pathManager,
		LogCollectionService:  logIntegration.GetLogCollectionService(),
		LogDefaults:           logIntegration.GetDefaultWorkerLogConfig(),
		Rotation:              config.Master.LogRotation,
		ResourceCheckInterval: config.Master.ResourceCheckInterval,
		WatchDebounce:         config.Master.WatchDebounce,
	}

	appWorkers, err := CreateWorkersFromConfig(config, profile, baseDir, workerOptions, logger)
	if err != nil {
		return err
	}

	logger.Infof("Created %d app workers", len(appWorkers))

	master, err := NewMaster(MasterOptions{
		APIAddress:           config.Master.APIAddress,
		GRPCPort:             config.Master.GRPCPort,
		ForceShutdownTimeout: config.Master.ForceShutdownTimeout,
	}, logger)
	if err != nil {
		return errors.NewInternalError("failed to create master", err)
	}

	for _, worker := range appWorkers {
		if err := master.AddWorker(worker); err != nil {
			return errors.NewValidationError("failed to add app", err).WithContext("app", worker.ID())
		}
	}

	if err := master.Start(ctx); err != nil {
		return err
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	logger.Infof("Master is ready, starting apps...")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := master.StartAllWorkers(ctx); err != nil {
			// Failed apps stay visible in status, the rest keep running.
			logger.Errorf("Some apps failed to start: %v", err)
		}

		logger.Infof("All apps started, master is fully operational")
		if options.Ready != nil {
			options.Ready(master)
		}
	}()

	select {
	case receivedSignal := <-sig:
		logger.Infof("Master runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Master runner context done: %v", ctx.Err())
	}

	logger.Infof("Waiting for apps start to finish...")
	wg.Wait()

	// Reset context to background to enable graceful shutdown
	if err := master.Stop(context.Background()); err != nil {
		logger.Errorf("Master stopped with errors: %v", err)
	}

	logger.Infof("Master runner stopped")
	return nil
}

// ValidateConfigFile validates a configuration file without running it.
// Apps are also built so that memory limits and paths are checked.
func ValidateConfigFile(configFile string) error {
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return err
	}

	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	if _, err := CreateWorkersFromConfig(config, config.Master.Profile, config.BaseDir, workers.AppWorkerOptions{}, nil); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}

// GetConfigSummary returns a summary of the configuration for display
func GetConfigSummary(config *MasterConfig) ConfigSummary {
	if config == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		ConfigFile: config.Path,
		LogLevel:   config.Master.LogLevel,
		APIAddress: config.Master.APIAddress,
		GRPCPort:   config.Master.GRPCPort,
		Profile:    config.Master.Profile,
		Apps:       make([]AppSummary, 0, len(config.Apps)),
	}

	for _, app := range config.Apps {
		appSummary := AppSummary{
			Name:             app.Name,
			Script:           app.Script,
			Interpreter:      app.Interpreter,
			Enabled:          app.IsEnabled(),
			AutoRestart:      app.ShouldAutoRestart(),
			Watch:            app.Watch,
			MaxMemoryRestart: string(app.MaxMemoryRestart),
			RestartDelayMs:   app.RestartDelayMs,
			MaxRestarts:      app.GetMaxRestarts(),
			Profiles:         app.ProfileNames(),
			LogFile:          app.LogFile,
			OutFile:          app.OutFile,
			ErrorFile:        app.ErrorFile,
			LogDateFormat:    app.LogDateFormat,
		}
		if bytes, err := app.MemoryLimitBytes(); err == nil && bytes > 0 {
			appSummary.MemoryLimitBytes = bytes
			appSummary.MemoryLimit = ecosystem.FormatMemory(bytes)
		}

		summary.Apps = append(summary.Apps, appSummary)
		if appSummary.Enabled {
			summary.EnabledApps++
		}
	}

	summary.TotalApps = len(summary.Apps)
	return summary
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	ConfigFile  string       `json:"config_file,omitempty"`
	LogLevel    string       `json:"log_level"`
	APIAddress  string       `json:"api_address,omitempty"`
	GRPCPort    int          `json:"grpc_port,omitempty"`
	Profile     string       `json:"profile,omitempty"`
	TotalApps   int          `json:"total_apps"`
	EnabledApps int          `json:"enabled_apps"`
	Apps        []AppSummary `json:"apps"`
	Error       string       `json:"error,omitempty"`
}

// AppSummary provides a summary of one app
type AppSummary struct {
	Name             string   `json:"name"`
	Script           string   `json:"script"`
	Interpreter      string   `json:"interpreter"`
	Enabled          bool     `json:"enabled"`
	AutoRestart      bool     `json:"autorestart"`
	Watch            bool     `json:"watch"`
	MaxMemoryRestart string   `json:"max_memory_restart,omitempty"`
	MemoryLimit      string   `json:"memory_limit,omitempty"`
	MemoryLimitBytes int64    `json:"memory_limit_bytes,omitempty"`
	RestartDelayMs   int64    `json:"restart_delay"`
	MaxRestarts      int      `json:"max_restarts"`
	Profiles         []string `json:"profiles,omitempty"`
	LogFile          string   `json:"log_file,omitempty"`
	OutFile          string   `json:"out_file,omitempty"`
	ErrorFile        string   `json:"error_file,omitempty"`
	LogDateFormat    string   `json:"log_date_format,omitempty"`
}
