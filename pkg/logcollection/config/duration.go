package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration decodes a JSON duration written either as a string such as "30s"
// or as integer nanoseconds, the same two forms YAML accepts for time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	switch v := value.(type) {
	case nil:
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("duration must be a string such as \"30s\" or a number of nanoseconds")
	}
	return nil
}

// rotationFields and systemFields break the UnmarshalJSON recursion.
type rotationFields RotationConfig

func (r *RotationConfig) UnmarshalJSON(data []byte) error {
	aux := struct {
		*rotationFields
		MaxAge *Duration `json:"max_age"`
	}{rotationFields: (*rotationFields)(r)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.MaxAge != nil {
		r.MaxAge = time.Duration(*aux.MaxAge)
	}
	return nil
}

type systemFields SystemConfig

func (s *SystemConfig) UnmarshalJSON(data []byte) error {
	aux := struct {
		*systemFields
		DrainTimeout *Duration `json:"drain_timeout"`
	}{systemFields: (*systemFields)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.DrainTimeout != nil {
		s.DrainTimeout = time.Duration(*aux.DrainTimeout)
	}
	return nil
}
