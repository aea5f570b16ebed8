package main

import (
	"context"
	"time"

	"github.com/c360/varnet/engine"
)

// TickPath is the push variable pacing polled device registers of the demo.
const TickPath = "/Ticker/tick"

// buildDemo adds the demo modules to app: a ticker and a proportional temperature
// controller. Device registers configured at /Controller/temperature or
// /Controller/heater join the controller networks by name; read registers may use
// TickPath as trigger.
func buildDemo(app *engine.Application, period time.Duration) {
	buildTicker(app.Root(), period)
	buildController(app.Root())
}

func buildTicker(parent engine.Owner, period time.Duration) *engine.Module {
	var tick *engine.Output[int64]
	m := engine.NewModule(parent, engine.ModuleSpec{
		Name:        "Ticker",
		Description: "Periodic trigger",
		Main: func(ctx context.Context, _ *engine.Module) error {
			t := time.NewTicker(period)
			defer t.Stop()
			for n := int64(1); ; n++ {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
				if err := tick.WriteValue(ctx, n); err != nil {
					return err
				}
			}
		},
	})
	tick = engine.NewOutput[int64](m, "tick", engine.WithDescription("tick counter"))
	return m
}

// controller holds the accessors of the demo controller
type controller struct {
	setpoint    *engine.PushInput[float64]
	temperature *engine.PushInput[float64]
	gain        *engine.PushInputWB[float64]
	heater      *engine.Output[float64]
	deviation   *engine.Output[float64]
}

// maxGain bounds the operator gain. Larger values are written back clamped.
const maxGain = 50

func buildController(parent engine.Owner) *engine.Module {
	c := &controller{}
	m := engine.NewModule(parent, engine.ModuleSpec{
		Name:        "Controller",
		Description: "Proportional temperature controller",
		Prepare: func(ctx context.Context, _ *engine.Module) error {
			return engine.WriteAll(ctx, c.heater, c.deviation)
		},
		Main: c.run,
	})
	c.setpoint = engine.NewPushInput[float64](m, "setpoint", engine.WithUnit("degC"), engine.WithDescription("target temperature"))
	c.temperature = engine.NewPushInput[float64](m, "temperature", engine.WithUnit("degC"), engine.WithDescription("measured temperature"))
	c.gain = engine.NewPushInputWB[float64](m, "gain", engine.WithUnit("%/K"), engine.WithDescription("proportional gain"))
	c.heater = engine.NewOutput[float64](m, "heater", engine.WithUnit("%"), engine.WithDescription("heater power"))
	c.deviation = engine.NewOutput[float64](m, "deviation", engine.WithUnit("K"))
	return m
}

func (c *controller) run(ctx context.Context, m *engine.Module) error {
	group, err := engine.NewReadGroup(c.setpoint, c.temperature, c.gain)
	if err != nil {
		return err
	}
	for {
		changed, err := group.ReadAny(ctx)
		if err != nil {
			return err
		}
		if changed == c.gain && (c.gain.Get() > maxGain || c.gain.Get() < 0) {
			c.gain.Set(min(max(c.gain.Get(), 0), maxGain))
			if err := c.gain.WriteBack(ctx); err != nil {
				m.Logger().Warn("Gain write-back failed", "error", err)
			}
		}
		dev := c.setpoint.Get() - c.temperature.Get()
		c.deviation.Set(dev)
		c.heater.Set(min(max(c.gain.Get()*dev, 0), 100))
		if err := engine.WriteAll(ctx, c.heater, c.deviation); err != nil {
			return err
		}
	}
}
