package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/engine"
	"github.com/c360/varnet/testfacility"
)

func TestController_FollowsSetpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cfg := config.Default()
	cfg.Testable.StallAttempts = 50
	app, err := engine.New(cfg)
	require.NoError(t, err)
	buildController(app.Root())

	f, err := testfacility.New(app)
	require.NoError(t, err)
	defer func() { _ = f.Shutdown(context.Background()) }()

	require.NoError(t, f.SetDefault("/Controller/setpoint", 30.0))
	require.NoError(t, f.SetDefault("/Controller/temperature", 20.0))
	require.NoError(t, f.SetDefault("/Controller/gain", 2.0))
	require.NoError(t, f.RunApplication(ctx))

	heater, err := testfacility.ReadScalar[float64](ctx, f, "/Controller/heater")
	require.NoError(t, err)
	assert.Equal(t, 20.0, heater)
	deviation, err := testfacility.ReadScalar[float64](ctx, f, "/Controller/deviation")
	require.NoError(t, err)
	assert.Equal(t, 10.0, deviation)

	// an excessive gain saturates the heater and is corrected
	require.NoError(t, testfacility.WriteScalar(ctx, f, "/Controller/gain", 80.0))
	require.NoError(t, f.StepApplication(ctx))

	h, err := testfacility.GetScalar[float64](f, "/Controller/heater")
	require.NoError(t, err)
	assert.Equal(t, 100.0, h.Get())
	gain, err := testfacility.ReadScalar[float64](ctx, f, "/Controller/gain")
	require.NoError(t, err)
	assert.Equal(t, float64(maxGain), gain)

	// above the setpoint the heater is off
	require.NoError(t, testfacility.WriteScalar(ctx, f, "/Controller/temperature", 35.0))
	require.NoError(t, f.StepApplication(ctx))
	h2, err := testfacility.GetScalar[float64](f, "/Controller/heater")
	require.NoError(t, err)
	assert.Equal(t, 0.0, h2.Get())
}

func TestDemo_AssemblesWithOvenConfig(t *testing.T) {
	path, err := filepath.Abs(filepath.Join("..", "..", "configs", "oven.yaml"))
	require.NoError(t, err)
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "oven", cfg.Application.Name)

	app, err := engine.New(cfg)
	require.NoError(t, err)
	buildDemo(app, time.Second)
	require.NoError(t, app.Initialise())

	shapes := map[string]string{}
	for _, n := range app.Report().Networks {
		shapes[n.Name] = n.Shape
	}
	assert.Equal(t, "trigger_fan_out", shapes[TickPath])
	assert.Equal(t, "consuming_fan_out", shapes["/Controller/temperature"])
	assert.Equal(t, "threaded_fan_out", shapes["/Controller/heater"])

	_, ok := app.Directory().Lookup(engine.StatusPath("oven"))
	assert.True(t, ok)
}

func TestValidateFlags(t *testing.T) {
	good := cliFlags{LogLevel: "info", LogFormat: "json", ShutdownTimeout: time.Second}
	require.NoError(t, validateFlags(good))

	tests := []struct {
		name  string
		apply func(*cliFlags)
	}{
		{"bad level", func(f *cliFlags) { f.LogLevel = "trace" }},
		{"bad format", func(f *cliFlags) { f.LogFormat = "xml" }},
		{"no timeout", func(f *cliFlags) { f.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := good
			tt.apply(&f)
			assert.Error(t, validateFlags(f))
		})
	}
}
