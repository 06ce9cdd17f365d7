package ecosystem

import (
	"strings"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"github.com/docker/go-units"
)

// ParseMemoryLimit converts a max_memory_restart value to bytes.
// Suffixes K, M, G, T, P are binary multiples and may be followed by B or iB.
// An empty value means no limit and yields 0.
func ParseMemoryLimit(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if strings.HasPrefix(value, "-") {
		return 0, errors.NewValidationError("memory limit cannot be negative", nil).
			WithContext("value", value)
	}

	bytes, err := units.RAMInBytes(value)
	if err != nil {
		return 0, errors.NewValidationError("malformed memory limit, expected a size like 512M or 1G", err).
			WithContext("value", value)
	}
	if bytes < 0 {
		return 0, errors.NewValidationError("memory limit cannot be negative", nil).
			WithContext("value", value)
	}
	return bytes, nil
}

// FormatMemory renders a byte count the way max_memory_restart values are written.
func FormatMemory(bytes int64) string {
	return units.BytesSize(float64(bytes))
}
