package master

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
)

// LogCollectionIntegration owns the log collection service of a running daemon
type LogCollectionIntegration struct {
	service logcollection.LogCollectionService
	config  config.LogCollectionConfig
	logger  logging.Logger
	enabled bool
}

// NewLogCollectionIntegration creates the service described by logConfig.
// A nil logConfig uses the defaults, which write only the files each app names.
func NewLogCollectionIntegration(
	logConfig *config.LogCollectionConfig,
	structuredLogger logcollection.StructuredLogger,
	pathManager *processfile.ProcessFileManager,
	logger logging.Logger,
) (*LogCollectionIntegration, error) {
	integration := &LogCollectionIntegration{
		logger:  logger,
		enabled: false,
	}

	if logConfig != nil && logConfig.Enabled {
		logger.Infof("Using log collection configuration from config file")
	} else if logConfig == nil {
		defaultConfig := config.DefaultLogCollectionConfig()
		logConfig = &defaultConfig
		logger.Debugf("No log_collection section found in config, using defaults")
	} else {
		logger.Warnf("Log collection is explicitly disabled, log_file, out_file and error_file will not be written")
		return integration, nil
	}

	if structuredLogger == nil {
		var err error
		structuredLogger, err = logcollection.NewStructuredLogger("zap", logcollection.InfoLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create structured logger: %w", err)
		}
	}

	integration.service = logcollection.NewLogCollectionServiceWithPathManager(
		*logConfig,
		logcollection.CreateLoggerForComponent("log_collection", structuredLogger),
		pathManager,
	)
	integration.config = *logConfig
	integration.enabled = true

	logger.Debugf("Log collection config summary: global aggregation: %t, targets: %d, capture stdout: %t, capture stderr: %t",
		logConfig.GlobalAggregation.Enabled,
		len(logConfig.GlobalAggregation.Targets),
		logConfig.DefaultWorker.CaptureStdout,
		logConfig.DefaultWorker.CaptureStderr)

	return integration, nil
}

// Start starts the log collection service
func (l *LogCollectionIntegration) Start(ctx context.Context) error {
	if !l.enabled {
		return nil
	}

	if err := l.service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start log collection service: %w", err)
	}

	l.logger.Infof("Log collection service started")
	return nil
}

// Stop stops the log collection service
func (l *LogCollectionIntegration) Stop() error {
	if !l.enabled {
		return nil
	}

	if err := l.service.Stop(); err != nil {
		return fmt.Errorf("failed to stop log collection service: %w", err)
	}

	l.logger.Infof("Log collection service stopped")
	return nil
}

// GetLogCollectionService returns the service, nil when disabled
func (l *LogCollectionIntegration) GetLogCollectionService() logcollection.LogCollectionService {
	if !l.enabled {
		return nil
	}
	return l.service
}

// GetDefaultWorkerLogConfig is the base config each app's files are added to
func (l *LogCollectionIntegration) GetDefaultWorkerLogConfig() config.WorkerLogConfig {
	if !l.enabled {
		return config.WorkerLogConfig{}
	}
	return l.config.DefaultWorker
}

func (l *LogCollectionIntegration) IsEnabled() bool {
	return l.enabled
}
