package workers

import "github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

// UnitMetadata describes a supervised app for status output
type UnitMetadata struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Script      string `yaml:"script" json:"script"`
	Interpreter string `yaml:"interpreter" json:"interpreter"`
	Cwd         string `yaml:"cwd" json:"cwd"`
	Profile     string `yaml:"profile,omitempty" json:"profile,omitempty"`
	Watch       bool   `yaml:"watch" json:"watch"`
	MemoryLimit int64  `yaml:"memory_limit,omitempty" json:"memory_limit,omitempty"`
}

type Worker interface {
	ID() string
	Metadata() UnitMetadata
	ProcessControlOptions() processcontrol.ProcessControlOptions
}
