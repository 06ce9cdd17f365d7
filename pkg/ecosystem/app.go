package ecosystem

import (
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// InterpreterNone runs the script as the executable itself.
	InterpreterNone = "none"

	// ProductionProfile selects env_production.
	ProductionProfile = "production"

	DefaultMaxRestarts   = 16
	DefaultMinUptimeMs   = 1000
	DefaultKillTimeoutMs = 1600

	envProfilePrefix = "env_"
)

// AppConfig describes one supervised process.
type AppConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Script      string   `yaml:"script" json:"script"`
	Interpreter string   `yaml:"interpreter" json:"interpreter"`
	Args        []string `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd         string   `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	Env           EnvMap `yaml:"env,omitempty" json:"env,omitempty"`
	EnvProduction EnvMap `yaml:"env_production,omitempty" json:"env_production,omitempty"`

	// Profiles holds every other env_<profile> block, keyed by profile name.
	Profiles map[string]EnvMap `yaml:"-" json:"-"`

	Watch       bool     `yaml:"watch" json:"watch"`
	IgnoreWatch []string `yaml:"ignore_watch,omitempty" json:"ignore_watch,omitempty"`

	MaxMemoryRestart MemorySize `yaml:"max_memory_restart,omitempty" json:"max_memory_restart,omitempty"`
	RestartDelayMs   int64      `yaml:"restart_delay" json:"restart_delay"`
	AutoRestart      *bool      `yaml:"autorestart,omitempty" json:"autorestart,omitempty"`
	MaxRestarts      *int       `yaml:"max_restarts,omitempty" json:"max_restarts,omitempty"`
	MinUptimeMs      *int64     `yaml:"min_uptime,omitempty" json:"min_uptime,omitempty"`
	KillTimeoutMs    *int64     `yaml:"kill_timeout,omitempty" json:"kill_timeout,omitempty"`

	LogFile       string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	OutFile       string `yaml:"out_file,omitempty" json:"out_file,omitempty"`
	ErrorFile     string `yaml:"error_file,omitempty" json:"error_file,omitempty"`
	LogDateFormat string `yaml:"log_date_format,omitempty" json:"log_date_format,omitempty"`
}

// ApplyDefaults fills unset optional fields.
func (a *AppConfig) ApplyDefaults() {
	if a.Enabled == nil {
		enabled := true
		a.Enabled = &enabled
	}
	if a.AutoRestart == nil {
		autoRestart := true
		a.AutoRestart = &autoRestart
	}
	if a.MaxRestarts == nil {
		maxRestarts := DefaultMaxRestarts
		a.MaxRestarts = &maxRestarts
	}
	if a.MinUptimeMs == nil {
		minUptime := int64(DefaultMinUptimeMs)
		a.MinUptimeMs = &minUptime
	}
	if a.KillTimeoutMs == nil {
		killTimeout := int64(DefaultKillTimeoutMs)
		a.KillTimeoutMs = &killTimeout
	}
}

func (a *AppConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

func (a *AppConfig) ShouldAutoRestart() bool {
	return a.AutoRestart == nil || *a.AutoRestart
}

func (a *AppConfig) GetMaxRestarts() int {
	if a.MaxRestarts == nil {
		return DefaultMaxRestarts
	}
	return *a.MaxRestarts
}

func (a *AppConfig) RestartDelay() time.Duration {
	return time.Duration(a.RestartDelayMs) * time.Millisecond
}

func (a *AppConfig) MinUptime() time.Duration {
	if a.MinUptimeMs == nil {
		return DefaultMinUptimeMs * time.Millisecond
	}
	return time.Duration(*a.MinUptimeMs) * time.Millisecond
}

func (a *AppConfig) KillTimeout() time.Duration {
	if a.KillTimeoutMs == nil {
		return DefaultKillTimeoutMs * time.Millisecond
	}
	return time.Duration(*a.KillTimeoutMs) * time.Millisecond
}

// MemoryLimitBytes returns the parsed max_memory_restart, 0 when unset.
func (a *AppConfig) MemoryLimitBytes() (int64, error) {
	return a.MaxMemoryRestart.Bytes()
}

// ProfileEnv returns the env_<profile> block, or nil if there is none.
func (a *AppConfig) ProfileEnv(profile string) EnvMap {
	if profile == "" {
		return nil
	}
	if profile == ProductionProfile && a.EnvProduction != nil {
		return a.EnvProduction
	}
	return a.Profiles[profile]
}

// ProfileNames lists every profile the app defines, sorted.
func (a *AppConfig) ProfileNames() []string {
	names := make([]string, 0, len(a.Profiles)+1)
	if a.EnvProduction != nil {
		names = append(names, ProductionProfile)
	}
	for name := range a.Profiles {
		if name != ProductionProfile {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ResolveEnv merges env with env_<profile>; profile values win.
func (a *AppConfig) ResolveEnv(profile string) map[string]string {
	merged := make(map[string]string, len(a.Env))
	for k, v := range a.Env {
		merged[k] = v
	}
	for k, v := range a.ProfileEnv(profile) {
		merged[k] = v
	}
	return merged
}

// Environment renders ResolveEnv as sorted KEY=VALUE pairs.
func (a *AppConfig) Environment(profile string) []string {
	merged := a.ResolveEnv(profile)
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// Resolve makes cwd, script, interpreter and log paths absolute.
// A relative cwd is taken from baseDir; every other relative path from cwd.
func (a *AppConfig) Resolve(baseDir string) {
	if a.Cwd == "" {
		a.Cwd = baseDir
	} else if !filepath.IsAbs(a.Cwd) {
		a.Cwd = filepath.Join(baseDir, a.Cwd)
	}
	a.Cwd = filepath.Clean(a.Cwd)

	a.Script = a.resolvePath(a.Script)
	if strings.ContainsAny(a.Interpreter, `/\`) {
		a.Interpreter = a.resolvePath(a.Interpreter)
	}
	a.LogFile = a.resolvePath(a.LogFile)
	a.OutFile = a.resolvePath(a.OutFile)
	a.ErrorFile = a.resolvePath(a.ErrorFile)
}

func (a *AppConfig) resolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.Cwd, path)
}

// LogPaths returns the configured log files, without duplicates.
func (a *AppConfig) LogPaths() []string {
	var paths []string
	seen := make(map[string]bool)
	for _, p := range []string{a.LogFile, a.OutFile, a.ErrorFile} {
		if p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	return paths
}
