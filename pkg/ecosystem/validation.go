package ecosystem

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
)

const maxNameLength = 64

// ValidateName checks an app name: 1-64 chars of letters, digits, '.', '_' or '-', not starting with '.'.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.NewValidationError("name is required", nil).WithContext("field", "name")
	}
	if len(name) > maxNameLength {
		return errors.NewValidationError(fmt.Sprintf("name cannot exceed %d characters", maxNameLength), nil).
			WithContext("field", "name")
	}
	if strings.HasPrefix(name, ".") {
		return errors.NewValidationError("name cannot start with '.'", nil).WithContext("field", "name")
	}
	for _, char := range name {
		if !isValidNameChar(char) {
			return errors.NewValidationError(
				"name contains invalid characters: only letters, numbers, '.', '_' and '-' are allowed", nil,
			).WithContext("field", "name")
		}
	}
	return nil
}

func isValidNameChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}

// ValidateApp checks a single app record and reports every problem found.
func ValidateApp(app *AppConfig) error {
	if app == nil {
		return errors.NewValidationError("app configuration cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()
	add := func(err *errors.DomainError) {
		if app.Name != "" {
			err.WithContext("app", app.Name)
		}
		collection.Add(err)
	}
	addErr := func(err error) {
		if domainErr, ok := err.(*errors.DomainError); ok {
			add(domainErr)
			return
		}
		add(errors.NewValidationError("invalid app configuration", err))
	}

	if err := ValidateName(app.Name); err != nil {
		addErr(err)
	}
	if strings.TrimSpace(app.Script) == "" {
		add(errors.NewValidationError("script is required", nil).WithContext("field", "script"))
	}
	if strings.TrimSpace(app.Interpreter) == "" {
		add(errors.NewValidationError("interpreter is required, use \"none\" to run the script directly", nil).
			WithContext("field", "interpreter"))
	}

	if app.RestartDelayMs < 0 {
		add(errors.NewValidationError("restart_delay cannot be negative", nil).
			WithContext("field", "restart_delay").WithContext("value", app.RestartDelayMs))
	}
	if app.MaxRestarts != nil && *app.MaxRestarts < 0 {
		add(errors.NewValidationError("max_restarts cannot be negative", nil).WithContext("field", "max_restarts"))
	}
	if app.MinUptimeMs != nil && *app.MinUptimeMs < 0 {
		add(errors.NewValidationError("min_uptime cannot be negative", nil).WithContext("field", "min_uptime"))
	}
	if app.KillTimeoutMs != nil && *app.KillTimeoutMs < 0 {
		add(errors.NewValidationError("kill_timeout cannot be negative", nil).WithContext("field", "kill_timeout"))
	}

	if _, err := app.MaxMemoryRestart.Bytes(); err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("field", "max_memory_restart")
		}
		addErr(err)
	}

	if err := validateEnv("env", app.Env); err != nil {
		addErr(err)
	}
	if err := validateEnv("env_production", app.EnvProduction); err != nil {
		addErr(err)
	}
	for profile, env := range app.Profiles {
		if err := validateEnv(envProfilePrefix+profile, env); err != nil {
			addErr(err)
		}
	}

	if app.LogDateFormat != "" {
		if _, err := logcollection.CompileTimestampFormat(app.LogDateFormat); err != nil {
			add(errors.NewValidationError("invalid log_date_format", err).WithContext("field", "log_date_format"))
		}
	}

	for _, pattern := range app.IgnoreWatch {
		if _, err := filepath.Match(pattern, ""); err != nil {
			add(errors.NewValidationError("invalid ignore_watch pattern", err).
				WithContext("field", "ignore_watch").WithContext("pattern", pattern))
		}
	}

	return collection.ToError()
}

func validateEnv(field string, env EnvMap) error {
	for key := range env {
		if key == "" {
			return errors.NewValidationError("environment variable name cannot be empty", nil).WithContext("field", field)
		}
		if strings.ContainsAny(key, "=\x00") {
			return errors.NewValidationError("environment variable name cannot contain '=' or NUL", nil).
				WithContext("field", field).WithContext("key", key)
		}
	}
	return nil
}

// ValidateApps validates every app and rejects duplicate names.
func ValidateApps(apps []AppConfig) error {
	collection := errors.NewErrorCollection()
	seen := make(map[string]int)

	for i := range apps {
		app := &apps[i]
		if err := ValidateApp(app); err != nil {
			collection.Add(errors.NewValidationError(fmt.Sprintf("invalid app at index %d", i), err))
		}
		if app.Name == "" {
			continue
		}
		if prev, exists := seen[app.Name]; exists {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("duplicate app name '%s' found at indices %d and %d", app.Name, prev, i), nil,
			).WithContext("app", app.Name))
			continue
		}
		seen[app.Name] = i
	}

	return collection.ToError()
}
