package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// loadYAMLConfig reads a YAML mapping with the same keys as the JSON format.
func loadYAMLConfig(configPath string, cfg *Config) error {
	src, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}

	var data map[string]any
	if err := yaml.Unmarshal(src, &data); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return applyMap(cfg, configPath, normalizeDecoded(data).(map[string]any))
}

// loadTOMLConfig reads top-level TOML keys and tables.
func loadTOMLConfig(configPath string, cfg *Config) error {
	var data map[string]any
	if _, err := toml.DecodeFile(filepath.Clean(configPath), &data); err != nil {
		return fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return applyMap(cfg, configPath, normalizeDecoded(data).(map[string]any))
}

// normalizeDecoded converts YAML and TOML values into the shapes
// encoding/json produces: numbers become float64, every mapping becomes
// map[string]any and every sequence []any.
func normalizeDecoded(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = normalizeValue(elem)
		}
		return out
	default:
		return v
	}
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return normalizeDecoded(val)
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[fmt.Sprint(k)] = normalizeValue(elem)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeDecoded(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem)
		}
		return out
	default:
		return normalizeDecoded(val)
	}
}
