package workers

import (
	"path/filepath"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/resourcelimits"
	"github.com/core-tools/hsu-ecosystem/pkg/watch"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"
)

// ValidateAppUnit checks the app record and that its paths were resolved
func ValidateAppUnit(unit AppUnit) error {
	if err := ecosystem.ValidateApp(&unit.App); err != nil {
		return err
	}

	if unit.App.Cwd == "" || !filepath.IsAbs(unit.App.Cwd) {
		return errors.NewValidationError("app working directory must be resolved to an absolute path", nil).
			WithContext("app", unit.App.Name).WithContext("cwd", unit.App.Cwd)
	}

	return nil
}

// ValidateProcessControlOptions validates process control options
func ValidateProcessControlOptions(options processcontrol.ProcessControlOptions) error {
	if options.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil)
	}

	if options.MinUptime < 0 {
		return errors.NewValidationError("min uptime cannot be negative", nil)
	}

	if options.ExecuteCmd == nil {
		return errors.NewValidationError("ExecuteCmd must be provided", nil)
	}

	if options.Restart != nil {
		if err := processcontrol.ValidateContextAwareRestartConfig(*options.Restart); err != nil {
			return errors.NewValidationError("invalid restart configuration", err)
		}
	}

	if options.Limits != nil {
		if err := resourcelimits.ValidateResourceLimits(options.Limits); err != nil {
			return errors.NewValidationError("invalid resource limits configuration", err)
		}
	}

	if options.Watch != nil {
		if err := watch.ValidateConfig(*options.Watch); err != nil {
			return errors.NewValidationError("invalid watch configuration", err)
		}
	}

	if options.LogConfig != nil {
		if err := options.LogConfig.Validate(); err != nil {
			return errors.NewValidationError("invalid log configuration", err)
		}
	}

	return nil
}
