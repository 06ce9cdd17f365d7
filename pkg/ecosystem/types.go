package ecosystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvMap is an environment block. Scalar values of any type are kept as their text.
type EnvMap map[string]string

func (e *EnvMap) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: environment must be a mapping", node.Line)
	}
	out := make(EnvMap, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: environment value for %q must be a scalar", value.Line, key.Value)
		}
		if value.Tag == "!!null" {
			out[key.Value] = ""
			continue
		}
		out[key.Value] = value.Value
	}
	*e = out
	return nil
}

func (e *EnvMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*e = nil
		return nil
	}

	out := make(EnvMap, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			out[k] = fmt.Sprintf("%t", val)
		default:
			return fmt.Errorf("environment value for %q must be a scalar", k)
		}
	}
	*e = out
	return nil
}

// MemorySize is a max_memory_restart value such as "1G", "512M" or a plain byte count.
type MemorySize string

func (m MemorySize) IsSet() bool {
	return strings.TrimSpace(string(m)) != ""
}

// Bytes parses the size, 0 when unset.
func (m MemorySize) Bytes() (int64, error) {
	return ParseMemoryLimit(string(m))
}

func (m *MemorySize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: max_memory_restart must be a string or a number", node.Line)
	}
	if node.Tag == "!!null" {
		*m = ""
		return nil
	}
	*m = MemorySize(node.Value)
	return nil
}

func (m *MemorySize) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*m = ""
	case string:
		*m = MemorySize(val)
	case json.Number:
		*m = MemorySize(val.String())
	default:
		return fmt.Errorf("max_memory_restart must be a string or a number")
	}
	return nil
}

// appConfigFields breaks the UnmarshalYAML/UnmarshalJSON recursion.
type appConfigFields AppConfig

func (a *AppConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*appConfigFields)(a)); err != nil {
		return err
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		profile, ok := profileKey(node.Content[i].Value)
		if !ok {
			continue
		}
		var env EnvMap
		if err := node.Content[i+1].Decode(&env); err != nil {
			return fmt.Errorf("%s: %w", node.Content[i].Value, err)
		}
		a.setProfile(profile, env)
	}
	return nil
}

func (a *AppConfig) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*appConfigFields)(a)); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		profile, ok := profileKey(key)
		if !ok {
			continue
		}
		var env EnvMap
		if err := json.Unmarshal(value, &env); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		a.setProfile(profile, env)
	}
	return nil
}

func (a *AppConfig) setProfile(profile string, env EnvMap) {
	if a.Profiles == nil {
		a.Profiles = make(map[string]EnvMap)
	}
	a.Profiles[profile] = env
}

// profileKey reports the profile name of an env_<profile> key other than env_production.
func profileKey(key string) (string, bool) {
	if !strings.HasPrefix(key, envProfilePrefix) {
		return "", false
	}
	profile := strings.TrimPrefix(key, envProfilePrefix)
	if profile == "" || profile == ProductionProfile {
		return "", false
	}
	return profile, true
}
