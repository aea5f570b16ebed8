package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/health"
	"github.com/c360/varnet/metric"
	"github.com/c360/varnet/pkg/retry"
	"github.com/c360/varnet/testable"
)

// StatusFunc is called after every fault or recovery with the new device status.
type StatusFunc func(faulted bool, message string)

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics exports fault and recovery metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Device) { d.metrics = m }
}

// WithHealth reports the device status to monitor.
func WithHealth(m *health.Monitor) Option {
	return func(d *Device) { d.monitor = m }
}

// WithScheduler makes deterministic steps wait for device initialisation.
func WithScheduler(s *testable.Scheduler) Option {
	return func(d *Device) { d.sched = s }
}

// WithRecovery sets the reopen backoff.
func WithRecovery(cfg retry.Config) Option {
	return func(d *Device) { d.recovery = cfg }
}

// Device owns one backend and tracks its fault state. Faults are backend scoped: every
// register of the device is faulty at the same time and recovers at the same time.
type Device struct {
	name     string
	backend  Backend
	recovery retry.Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	monitor  *health.Monitor
	sched    *testable.Scheduler

	mu        sync.Mutex
	faulted   bool
	message   string
	ready     chan struct{}
	readyOnce sync.Once
	pending   map[string]any
	onStatus  []StatusFunc
	registers []*Register

	wake chan struct{}
}

// New creates a device around backend. Run must be started to open it.
func New(name string, backend Backend, opts ...Option) *Device {
	d := &Device{
		name:     name,
		backend:  backend,
		recovery: retry.Recovery(500 * time.Millisecond),
		logger:   slog.Default(),
		ready:    make(chan struct{}),
		pending:  make(map[string]any),
		wake:     make(chan struct{}, 1),
		// a device is faulty until its first successful open
		faulted: true,
		message: "not opened",
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "device", "backend", name)
	if d.sched != nil {
		d.sched.BeginDeviceInit()
	}
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// Backend returns the wrapped backend.
func (d *Device) Backend() Backend { return d.backend }

// OnStatus registers fn to receive status changes. It must be called before Run.
func (d *Device) OnStatus(fn StatusFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStatus = append(d.onStatus, fn)
}

// Status returns the current fault flag and message.
func (d *Device) Status() (faulted bool, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faulted, d.message
}

// Faulted reports whether the device is currently faulted.
func (d *Device) Faulted() bool {
	f, _ := d.Status()
	return f
}

// Ready is closed after the first successful open.
func (d *Device) Ready() <-chan struct{} { return d.ready }

// WaitReady blocks until the device was opened once or ctx is done.
func (d *Device) WaitReady(ctx context.Context) error {
	select {
	case <-d.ready:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Device", "WaitReady", d.name)
	}
}

// ReportException marks the device faulted because of err and schedules recovery.
// Transfers use it internally; application code may call it to report a fault found by
// other means. Repeated reports while faulted only update the message.
func (d *Device) ReportException(err error) {
	if err == nil {
		return
	}
	d.mu.Lock()
	was := d.faulted
	d.faulted = true
	d.message = err.Error()
	listeners := d.onStatus
	d.mu.Unlock()

	if !was {
		d.logger.Warn("Device faulted", "error", err)
		if d.metrics != nil {
			d.metrics.RecordBackendState(d.name, true)
		}
		if d.monitor != nil {
			d.monitor.UpdateDegraded("device:"+d.name, err.Error())
		}
		for _, fn := range listeners {
			fn(true, err.Error())
		}
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run opens the device and then keeps recovering it after every fault until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	initDone := false
	defer func() {
		if !initDone && d.sched != nil {
			d.sched.EndDeviceInit()
		}
		_ = d.backend.Close()
	}()

	for {
		if err := d.reopen(ctx); err != nil {
			return nil
		}
		if !initDone {
			initDone = true
			d.readyOnce.Do(func() { close(d.ready) })
			if d.sched != nil {
				d.sched.EndDeviceInit()
			}
		}
		for !d.Faulted() {
			select {
			case <-ctx.Done():
				return nil
			case <-d.wake:
			}
		}
	}
}

// reopen retries opening the backend until it is functional, then replays writes that
// were skipped while faulted and clears the fault.
func (d *Device) reopen(ctx context.Context) error {
	attempt := func() error {
		if d.metrics != nil {
			d.metrics.RecordRecoveryAttempt(d.name)
		}
		if err := d.backend.Open(ctx); err != nil {
			return err
		}
		if !d.backend.IsFunctional() {
			return errors.WrapTransient(errors.ErrBackendFault, "Device", "reopen", "functional check")
		}
		return d.replay(ctx)
	}
	onFailure := func(n int, err error) {
		d.mu.Lock()
		d.message = err.Error()
		d.mu.Unlock()
		if n == 1 {
			d.logger.Warn("Device recovery failed, retrying", "error", err)
		} else {
			d.logger.Debug("Device recovery attempt failed", "attempt", n, "error", err)
		}
	}
	if err := retry.Until(ctx, d.recovery, attempt, onFailure); err != nil {
		return err
	}

	d.mu.Lock()
	d.faulted = false
	d.message = ""
	listeners := d.onStatus
	d.mu.Unlock()

	d.logger.Info("Device functional")
	if d.metrics != nil {
		d.metrics.RecordBackendState(d.name, false)
		d.metrics.RecordRecovery(d.name)
	}
	if d.monitor != nil {
		d.monitor.UpdateHealthy("device:"+d.name, "functional")
	}
	for _, fn := range listeners {
		fn(false, "")
	}
	return nil
}

// replay writes the last value of every register written while the device was faulted.
func (d *Device) replay(ctx context.Context) error {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]any)
	d.mu.Unlock()

	for reg, v := range pending {
		if err := d.backend.Write(ctx, reg, v); err != nil {
			d.mu.Lock()
			for r, pv := range pending {
				if _, newer := d.pending[r]; !newer {
					d.pending[r] = pv
				}
			}
			d.mu.Unlock()
			return err
		}
	}
	return nil
}

func (d *Device) deferWrite(register string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[register] = value
}

// Registers returns the decorators created for this device.
func (d *Device) Registers() []*Register {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Register(nil), d.registers...)
}
