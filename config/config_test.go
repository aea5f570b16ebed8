package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DirectoryMemory, cfg.Directory.Kind)
	assert.Equal(t, 3, cfg.Engine.QueueLength)
	assert.Equal(t, time.Second, cfg.Watchdog.Interval.Duration())
}

func TestLoader_JSONLayer(t *testing.T) {
	path := writeFile(t, "app.json", `{
		"application": {"name": "pumps"},
		"engine": {"queue_length": 8},
		"watchdog": {"stall_after": "250ms"}
	}`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "pumps", cfg.Application.Name)
	assert.Equal(t, 8, cfg.Engine.QueueLength)
	assert.Equal(t, 250*time.Millisecond, cfg.Watchdog.StallAfter.Duration())
	// untouched sections keep their defaults
	assert.Equal(t, time.Second, cfg.Watchdog.Interval.Duration())
	assert.Equal(t, "drop_oldest", cfg.Engine.DirectPipePolicy)
}

func TestLoader_YAMLLayerWithDevices(t *testing.T) {
	path := writeFile(t, "app.yaml", `
application:
  name: plant
recovery:
  interval: 50ms
devices:
  pump:
    backend: dummy
    registers:
      - name: SPEED
        path: /Pump/speed
        type: float64
        unit: rpm
        direction: read
        trigger: /Timer/tick
      - name: SETPOINT
        path: /Pump/setpoint
        type: float64
        direction: write
`)

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, cfg.Devices, "pump")
	regs := cfg.Devices["pump"].Registers
	require.Len(t, regs, 2)
	assert.Equal(t, "/Pump/speed", regs[0].Path)
	assert.Equal(t, DirectionWrite, regs[1].Direction)
	assert.Equal(t, 50*time.Millisecond, cfg.Recovery.Interval.Duration())
	assert.Equal(t, []string{"pump"}, cfg.DeviceNames())
}

func TestLoader_LayersOverrideInOrder(t *testing.T) {
	base := writeFile(t, "base.json", `{"application": {"name": "a"}, "engine": {"queue_length": 2}}`)
	override := writeFile(t, "override.json", `{"engine": {"queue_length": 5}}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "a", cfg.Application.Name)
	assert.Equal(t, 5, cfg.Engine.QueueLength)
}

func TestLoader_SchemaRejectsUnknownField(t *testing.T) {
	path := writeFile(t, "bad.json", `{"engine": {"queue_lenght": 4}}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "queue_lenght")
}

func TestLoader_SchemaRejectsBadEnum(t *testing.T) {
	path := writeFile(t, "bad.json", `{"directory": {"kind": "redis"}}`)

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestLoader_RejectsOtherExtensions(t *testing.T) {
	path := writeFile(t, "app.toml", `name = "x"`)
	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("VARNET_APPLICATION_NAME", "from-env")
	t.Setenv("VARNET_ENGINE_QUEUE_LENGTH", "7")
	t.Setenv("VARNET_TESTABLE", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Application.Name)
	assert.Equal(t, 7, cfg.Engine.QueueLength)
	assert.True(t, cfg.Testable.Enabled)

	t.Setenv("VARNET_ENGINE_QUEUE_LENGTH", "many")
	_, err = NewLoader().Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestConfig_ValidateSemantics(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty name", func(c *Config) { c.Application.Name = "" }, errors.ErrMissingConfig},
		{"zero queue", func(c *Config) { c.Engine.QueueLength = 0 }, errors.ErrInvalidConfig},
		{"bad policy", func(c *Config) { c.Engine.DirectPipePolicy = "spill" }, errors.ErrInvalidConfig},
		{"nats without bucket", func(c *Config) {
			c.Directory.Kind = DirectoryNATS
			c.Directory.NATS.Bucket = ""
		}, errors.ErrMissingConfig},
		{"unsupported backend", func(c *Config) {
			c.Devices = map[string]DeviceConfig{"d": {Backend: "modbus"}}
		}, errors.ErrInvalidConfig},
		{"duplicate register", func(c *Config) {
			reg := RegisterConfig{Name: "R", Path: "/D/r", Direction: DirectionRead}
			c.Devices = map[string]DeviceConfig{"d": {Backend: "dummy", Registers: []RegisterConfig{reg, reg}}}
		}, errors.ErrDuplicateName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestSafeConfig_GetReturnsCopy(t *testing.T) {
	sc := NewSafeConfig(nil)
	cfg := sc.Get()
	cfg.Application.Name = "changed"
	assert.Equal(t, "varnet", sc.Get().Application.Name)

	require.NoError(t, sc.Update(cfg))
	assert.Equal(t, "changed", sc.Get().Application.Name)

	bad := sc.Get()
	bad.Engine.QueueLength = -1
	require.Error(t, sc.Update(bad))
	assert.Equal(t, 3, sc.Get().Engine.QueueLength)
}

func TestRecoveryConfig_RetryConfig(t *testing.T) {
	fixed := RecoveryConfig{Interval: Duration(20 * time.Millisecond)}.RetryConfig()
	assert.Equal(t, 20*time.Millisecond, fixed.InitialDelay)
	assert.Equal(t, 20*time.Millisecond, fixed.MaxDelay)

	backoff := RecoveryConfig{
		Interval:   Duration(10 * time.Millisecond),
		MaxDelay:   Duration(time.Second),
		Multiplier: 2,
	}.RetryConfig()
	assert.Equal(t, 10*time.Millisecond, backoff.InitialDelay)
	assert.Equal(t, time.Second, backoff.MaxDelay)
	assert.Equal(t, 2.0, backoff.Multiplier)
}

func TestConfig_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := Default()
	cfg.Application.Name = "saved"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved", loaded.Application.Name)
	assert.Equal(t, cfg.Watchdog, loaded.Watchdog)
}
