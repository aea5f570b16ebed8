package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/pkg/buffer"
	"github.com/c360/varnet/pkg/retry"
)

// Directory kinds
const (
	DirectoryMemory = "memory" // In-process directory
	DirectoryNATS   = "nats"   // JetStream KV bridge
)

// Register directions
const (
	DirectionRead  = "read"  // register feeds the application
	DirectionWrite = "write" // register consumes application values
)

// Config represents the complete application configuration
type Config struct {
	Application ApplicationConfig       `json:"application" yaml:"application"`
	Engine      EngineConfig            `json:"engine" yaml:"engine"`
	Testable    TestableConfig          `json:"testable" yaml:"testable"`
	Watchdog    WatchdogConfig          `json:"watchdog" yaml:"watchdog"`
	Recovery    RecoveryConfig          `json:"recovery" yaml:"recovery"`
	Directory   DirectoryConfig         `json:"directory" yaml:"directory"`
	Devices     map[string]DeviceConfig `json:"devices,omitempty" yaml:"devices,omitempty"`
	Metrics     MetricsConfig           `json:"metrics" yaml:"metrics"`
}

// ApplicationConfig identifies the application
type ApplicationConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// EngineConfig tunes the delivery layer
type EngineConfig struct {
	QueueLength      int      `json:"queue_length" yaml:"queue_length"`
	DirectPipePolicy string   `json:"direct_pipe_policy" yaml:"direct_pipe_policy"`
	DataLossLogRate  Duration `json:"data_loss_log_rate" yaml:"data_loss_log_rate"`
	// PublishTag limits control-system publication to endpoints matching the tag.
	// A leading "!" publishes everything except the tagged endpoints.
	PublishTag string `json:"publish_tag,omitempty" yaml:"publish_tag,omitempty"`
}

// TestableConfig configures deterministic mode
type TestableConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval"`
	StallAttempts int      `json:"stall_attempts" yaml:"stall_attempts"`
}

// WatchdogConfig configures the wait watchdog
type WatchdogConfig struct {
	Interval   Duration `json:"interval" yaml:"interval"`
	StallAfter Duration `json:"stall_after" yaml:"stall_after"`
}

// RecoveryConfig configures backend recovery. A multiplier of 1 or less retries at a
// fixed interval.
type RecoveryConfig struct {
	Interval     Duration `json:"interval" yaml:"interval"`
	InitialDelay Duration `json:"initial_delay,omitempty" yaml:"initial_delay,omitempty"`
	MaxDelay     Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
	Multiplier   float64  `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
}

// RetryConfig converts the recovery settings to a retry.Config
func (r RecoveryConfig) RetryConfig() retry.Config {
	if r.Multiplier <= 1 {
		return retry.Recovery(r.Interval.Duration())
	}
	initial := r.InitialDelay.Duration()
	if initial == 0 {
		initial = r.Interval.Duration()
	}
	maxDelay := r.MaxDelay.Duration()
	if maxDelay < initial {
		maxDelay = initial
	}
	return retry.Config{
		InitialDelay: initial,
		MaxDelay:     maxDelay,
		Multiplier:   r.Multiplier,
		AddJitter:    true,
	}
}

// DirectoryConfig selects the variable directory
type DirectoryConfig struct {
	Kind string     `json:"kind" yaml:"kind"`
	NATS NATSConfig `json:"nats,omitempty" yaml:"nats,omitempty"`
}

// NATSConfig defines the NATS KV bridge settings
type NATSConfig struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string `json:"token,omitempty" yaml:"token,omitempty"`
}

// DeviceConfig describes one hardware backend
type DeviceConfig struct {
	Backend   string           `json:"backend" yaml:"backend"`
	Registers []RegisterConfig `json:"registers" yaml:"registers"`
}

// RegisterConfig maps one backend register into the variable name space
type RegisterConfig struct {
	Name      string `json:"name" yaml:"name"`
	Path      string `json:"path" yaml:"path"`
	Type      string `json:"type" yaml:"type"`
	Unit      string `json:"unit,omitempty" yaml:"unit,omitempty"`
	Direction string `json:"direction" yaml:"direction"`
	// Trigger names the push variable that paces polling of a read register
	Trigger string `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Initial any    `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// Default returns the built-in defaults
func Default() *Config {
	return &Config{
		Application: ApplicationConfig{Name: "varnet"},
		Engine: EngineConfig{
			QueueLength:      3,
			DirectPipePolicy: "drop_oldest",
			DataLossLogRate:  Duration(10 * time.Second),
		},
		Testable: TestableConfig{
			PollInterval:  Duration(time.Millisecond),
			StallAttempts: 2000,
		},
		Watchdog: WatchdogConfig{
			Interval:   Duration(time.Second),
			StallAfter: Duration(10 * time.Second),
		},
		Recovery: RecoveryConfig{Interval: Duration(500 * time.Millisecond)},
		Directory: DirectoryConfig{
			Kind: DirectoryMemory,
			NATS: NATSConfig{
				URL:    "nats://localhost:4222",
				Bucket: "varnet",
			},
		},
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
	}
}

// Validate checks semantic rules the schema cannot express
func (c *Config) Validate() error {
	if c.Application.Name == "" {
		return errors.Fatalf(errors.ErrMissingConfig, "Config", "Validate", "application.name is required")
	}
	if c.Engine.QueueLength < 1 {
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
			"engine.queue_length must be at least 1, got %d", c.Engine.QueueLength)
	}
	if _, ok := buffer.ParseOverflowPolicy(c.Engine.DirectPipePolicy); !ok {
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
			"engine.direct_pipe_policy %q is unknown", c.Engine.DirectPipePolicy)
	}
	if c.Recovery.Interval <= 0 {
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate", "recovery.interval must be positive")
	}

	switch c.Directory.Kind {
	case DirectoryMemory:
	case DirectoryNATS:
		if c.Directory.NATS.URL == "" || c.Directory.NATS.Bucket == "" {
			return errors.Fatalf(errors.ErrMissingConfig, "Config", "Validate",
				"directory.nats needs url and bucket")
		}
	default:
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
			"directory.kind %q is unknown", c.Directory.Kind)
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
			"metrics.port %d out of range", c.Metrics.Port)
	}

	for _, name := range c.DeviceNames() {
		if err := c.Devices[name].validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (d DeviceConfig) validate(name string) error {
	if d.Backend != "dummy" {
		return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
			"device %s: backend %q is not supported", name, d.Backend)
	}
	seen := make(map[string]bool, len(d.Registers))
	for _, r := range d.Registers {
		if r.Name == "" || !strings.HasPrefix(r.Path, "/") {
			return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
				"device %s: register needs a name and an absolute path", name)
		}
		if seen[r.Name] {
			return errors.Fatalf(errors.ErrDuplicateName, "Config", "Validate",
				"device %s: register %s", name, r.Name)
		}
		seen[r.Name] = true
		if r.Direction != DirectionRead && r.Direction != DirectionWrite {
			return errors.Fatalf(errors.ErrInvalidConfig, "Config", "Validate",
				"device %s: register %s direction %q", name, r.Name, r.Direction)
		}
	}
	return nil
}

// DeviceNames returns the configured device names sorted
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SaveToFile writes the configuration as JSON or YAML depending on the extension
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "Config", "SaveToFile", "encode")
	}
	return safeWriteFile(path, data)
}

// String returns a short summary without credentials
func (c *Config) String() string {
	return fmt.Sprintf("Config{Application: %s, Directory: %s, Devices: %d, Testable: %t}",
		c.Application.Name, c.Directory.Kind, len(c.Devices), c.Testable.Enabled)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil check")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Duration is a time.Duration encoded as a Go duration string ("250ms", "2s")
type Duration time.Duration

// Duration returns the value as time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// String formats the duration
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML encodes the duration as a string
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts a duration string
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// envOverride reads a validated environment variable
func envOverride(key string) (string, bool) {
	val := os.Getenv(key)
	if val == "" || validateEnvVar(key, val) != nil {
		return "", false
	}
	return val, true
}
