package device

import (
	"context"
	"sync"

	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// Register is the exception-handling decorator around one backend register. Reads never
// fail because of the hardware: a fault turns into a faulty sample carrying the last good
// value. Writes never change validity: a failed write only faults the device and is
// replayed after recovery.
type Register struct {
	dev   *Device
	name  string
	clock *validity.Clock

	mu   sync.Mutex
	last any
}

// Register returns the decorator for a named register. initial is the value reported
// before the first successful read.
func (d *Device) Register(name string, clock *validity.Clock, initial any) *Register {
	r := &Register{dev: d, name: name, clock: clock, last: initial}
	d.mu.Lock()
	d.registers = append(d.registers, r)
	d.mu.Unlock()
	return r
}

// Name returns the register name.
func (r *Register) Name() string { return r.name }

// Device returns the owning device.
func (r *Register) Device() *Device { return r.dev }

// Read waits for the device's first open, then reads the register. It implements
// transport.Source. Only cancellation is returned as an error.
func (r *Register) Read(ctx context.Context) (transport.Sample, error) {
	if err := r.dev.WaitReady(ctx); err != nil {
		return transport.Sample{}, err
	}
	if r.dev.Faulted() {
		return r.faulty(), nil
	}
	v, err := r.dev.backend.Read(ctx, r.name)
	if err != nil {
		if ctx.Err() != nil {
			return transport.Sample{}, ctx.Err()
		}
		r.dev.ReportException(err)
		return r.faulty(), nil
	}
	r.mu.Lock()
	r.last = v
	r.mu.Unlock()
	return transport.Sample{Value: v, Version: r.clock.Next(), Validity: validity.OK}, nil
}

func (r *Register) faulty() transport.Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	return transport.Sample{Value: r.last, Version: r.clock.Next(), Validity: validity.Faulty}
}

// Write transfers s to the register. It implements transport.Writer. While the device
// is faulted, or when the transfer fails, the value is kept for replay after recovery.
func (r *Register) Write(ctx context.Context, s transport.Sample) error {
	if r.dev.Faulted() {
		r.dev.deferWrite(r.name, s.Value)
		return nil
	}
	if err := r.dev.backend.Write(ctx, r.name, s.Value); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.dev.deferWrite(r.name, s.Value)
		r.dev.ReportException(err)
	}
	return nil
}
