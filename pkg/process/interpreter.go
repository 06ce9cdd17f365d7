package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// InterpreterNone runs the script as the executable itself
const InterpreterNone = "none"

// ResolveInterpreter returns the executable to spawn and the arguments that
// precede the app's own arguments. A bare interpreter name is looked up on
// PATH; a path is used as is.
func ResolveInterpreter(interpreter, script string) (string, []string, error) {
	if interpreter == "" {
		return "", nil, errors.NewValidationError("interpreter is required", nil)
	}
	if script == "" {
		return "", nil, errors.NewValidationError("script is required", nil)
	}

	if interpreter == InterpreterNone {
		return script, nil, nil
	}

	if filepath.IsAbs(interpreter) || strings.ContainsRune(interpreter, filepath.Separator) || strings.ContainsRune(interpreter, '/') {
		info, err := os.Stat(interpreter)
		if err != nil {
			return "", nil, errors.NewNotFoundError("interpreter not found", err).WithContext("interpreter", interpreter)
		}
		if info.IsDir() {
			return "", nil, errors.NewValidationError("interpreter is a directory", nil).WithContext("interpreter", interpreter)
		}
		return interpreter, []string{script}, nil
	}

	path, err := exec.LookPath(interpreter)
	if err != nil {
		return "", nil, errors.NewNotFoundError("interpreter not found on PATH", err).WithContext("interpreter", interpreter)
	}
	return path, []string{script}, nil
}
