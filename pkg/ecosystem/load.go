package ecosystem

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of an ecosystem file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the decoder by extension; anything other than .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// File is the root of an ecosystem file.
type File struct {
	Apps []AppConfig `yaml:"apps" json:"apps"`

	// Path and BaseDir are set by LoadFile.
	Path    string `yaml:"-" json:"-"`
	BaseDir string `yaml:"-" json:"-"`
}

// Decode unmarshals data in the given format into out.
func Decode(data []byte, format Format, out interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.NewValidationError("configuration is empty", nil)
	}

	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, out)
	case FormatYAML, "":
		err = yaml.Unmarshal(data, out)
	default:
		return errors.NewValidationError("unsupported configuration format", nil).WithContext("format", format)
	}
	if err != nil {
		return errors.NewValidationError("failed to parse "+strings.ToUpper(string(formatOrDefault(format)))+" configuration", err)
	}
	return nil
}

func formatOrDefault(format Format) Format {
	if format == "" {
		return FormatYAML
	}
	return format
}

// Parse decodes an ecosystem document and applies defaults. It does not validate.
func Parse(data []byte, format Format) (*File, error) {
	var file File
	if err := Decode(data, format, &file); err != nil {
		return nil, err
	}
	for i := range file.Apps {
		file.Apps[i].ApplyDefaults()
	}
	return &file, nil
}

// LoadFile reads and parses an ecosystem file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("config_file", path)
	}

	file, err := Parse(data, FormatFromPath(path))
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			domainErr.WithContext("config_file", path)
		}
		return nil, err
	}

	file.Path = path
	file.BaseDir = BaseDirOf(path)
	return file, nil
}

// BaseDirOf returns the absolute directory of a configuration file.
func BaseDirOf(path string) string {
	dir := filepath.Dir(path)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// Validate validates every app in the file.
func (f *File) Validate() error {
	if err := ValidateApps(f.Apps); err != nil {
		validationErr := errors.NewValidationError("invalid ecosystem configuration", err)
		if f.Path != "" {
			validationErr.WithContext("config_file", f.Path)
		}
		return validationErr
	}
	return nil
}

// App finds an app by name.
func (f *File) App(name string) (*AppConfig, bool) {
	for i := range f.Apps {
		if f.Apps[i].Name == name {
			return &f.Apps[i], true
		}
	}
	return nil, false
}
