package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/varnet/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "VARNET"

// Loader handles configuration loading with layers and overrides. Layers are applied
// over the defaults in order, then environment variables win.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables schema and semantic validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(fmt.Errorf("%s: %w: %w", path, errors.ErrInvalidConfig, err),
				"Loader", "Load", "read layer")
		}
		if l.validation {
			if err := ValidateDocument(raw); err != nil {
				return nil, errors.WrapFatal(fmt.Errorf("%s: %w", path, err), "Loader", "Load", "schema validation")
			}
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err), "Loader", "Load", "decode")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		// round-trip through JSON so nested values have JSON types
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		raw = nil
		if err := json.Unmarshal(b, &raw); err != nil {
			return nil, err
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	key := func(name string) string { return l.envPrefix + "_" + name }

	if val, ok := envOverride(key("APPLICATION_NAME")); ok {
		cfg.Application.Name = val
	}
	if val, ok := envOverride(key("DIRECTORY_KIND")); ok {
		cfg.Directory.Kind = val
	}
	if val, ok := envOverride(key("NATS_URL")); ok {
		cfg.Directory.NATS.URL = val
	}
	if val, ok := envOverride(key("NATS_BUCKET")); ok {
		cfg.Directory.NATS.Bucket = val
	}
	if val, ok := envOverride(key("NATS_USERNAME")); ok {
		cfg.Directory.NATS.Username = val
	}
	if val, ok := envOverride(key("NATS_PASSWORD")); ok {
		cfg.Directory.NATS.Password = val
	}
	if val, ok := envOverride(key("NATS_TOKEN")); ok {
		cfg.Directory.NATS.Token = val
	}
	if val, ok := envOverride(key("ENGINE_QUEUE_LENGTH")); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.Fatalf(errors.ErrInvalidConfig, "Loader", "applyEnvOverrides",
				"%s=%q is not an integer", key("ENGINE_QUEUE_LENGTH"), val)
		}
		cfg.Engine.QueueLength = n
	}
	if val, ok := envOverride(key("METRICS_PORT")); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.Fatalf(errors.ErrInvalidConfig, "Loader", "applyEnvOverrides",
				"%s=%q is not an integer", key("METRICS_PORT"), val)
		}
		cfg.Metrics.Port = n
		cfg.Metrics.Enabled = true
	}
	if val, ok := envOverride(key("TESTABLE")); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return errors.Fatalf(errors.ErrInvalidConfig, "Loader", "applyEnvOverrides",
				"%s=%q is not a boolean", key("TESTABLE"), val)
		}
		cfg.Testable.Enabled = b
	}
	return nil
}
