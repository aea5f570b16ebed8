package testable

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/metric"
)

// State of the deterministic scheduler.
type State int32

// States
const (
	NotRunning State = iota
	Released
	OneThreadActive
	Stalled
)

// String returns the state name
func (s State) String() string {
	switch s {
	case NotRunning:
		return "not-running"
	case Released:
		return "released"
	case OneThreadActive:
		return "one-thread-active"
	case Stalled:
		return "stalled"
	default:
		return "unknown"
	}
}

// Config tunes stall detection.
type Config struct {
	// PollInterval is how long Step lets modules run between progress checks
	PollInterval time.Duration
	// StallAttempts is the number of checks without progress before Step gives up
	StallAttempts int
}

// DefaultConfig returns one millisecond checks and a two second stall limit.
func DefaultConfig() Config {
	return Config{PollInterval: time.Millisecond, StallAttempts: 2000}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics exports step and stall counts.
func WithMetrics(m *metric.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler serialises all module goroutines of an application behind one lock so a test
// driver can advance the system one observable step at a time. Without Enable every
// operation is a no-op and modules run freely.
//
// The lock is a one-slot channel: holding it means having put the token in. Step
// releases the driver's hold until no pushed value is pending, no device is
// initialising and every module is parked in a blocking receive.
type Scheduler struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics

	enabled atomic.Bool
	lock    chan struct{}
	state   atomic.Int32
	// lost is set while the driver does not hold the lock after a failed step
	lost atomic.Bool

	pending    atomic.Int64
	deviceInit atomic.Int64
	busy       atomic.Int64
	events     atomic.Uint64
	releases   atomic.Uint64

	mu      sync.Mutex
	perVar  map[string]int64
	handles map[string]*Handle
	holder  string
}

// New creates a disabled scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StallAttempts <= 0 {
		cfg.StallAttempts = def.StallAttempts
	}
	s := &Scheduler{
		cfg:     cfg,
		logger:  slog.Default(),
		lock:    make(chan struct{}, 1),
		perVar:  make(map[string]int64),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "testable")
	return s
}

// Enable switches to deterministic mode. The caller becomes the driver and holds the
// lock. It must be called before any module goroutine starts.
func (s *Scheduler) Enable() {
	if s.enabled.Swap(true) {
		return
	}
	s.lock <- struct{}{}
	s.state.Store(int32(NotRunning))
	s.logger.Debug("Deterministic mode enabled")
}

// EnableDeterministicMode is Enable.
func (s *Scheduler) EnableDeterministicMode() { s.Enable() }

// Enabled reports whether deterministic mode is on.
func (s *Scheduler) Enabled() bool { return s.enabled.Load() }

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Releases returns how many times Step released the lock.
func (s *Scheduler) Releases() uint64 { return s.releases.Load() }

// Pending returns the number of unread pushed values.
func (s *Scheduler) Pending() int64 { return s.pending.Load() }

// Enqueued counts a pushed value. It implements transport.Observer.
func (s *Scheduler) Enqueued(variable string) { s.track(variable, 1) }

// Dropped uncounts a pushed value lost before it was read.
func (s *Scheduler) Dropped(variable string) { s.track(variable, -1) }

// Consumed uncounts a pushed value after its reader took it.
func (s *Scheduler) Consumed(variable string) { s.track(variable, -1) }

func (s *Scheduler) track(variable string, delta int64) {
	if !s.enabled.Load() {
		return
	}
	s.mu.Lock()
	s.perVar[variable] += delta
	if s.perVar[variable] == 0 {
		delete(s.perVar, variable)
	}
	s.mu.Unlock()
	s.pending.Add(delta)
	s.events.Add(1)
}

// BeginDeviceInit counts a device initialisation that Step must wait for.
func (s *Scheduler) BeginDeviceInit() {
	if s.enabled.Load() {
		s.deviceInit.Add(1)
		s.events.Add(1)
	}
}

// EndDeviceInit marks a device initialisation as finished.
func (s *Scheduler) EndDeviceInit() {
	if s.enabled.Load() {
		s.deviceInit.Add(-1)
		s.events.Add(1)
	}
}

// CanStep reports whether a Step would have anything to do.
func (s *Scheduler) CanStep() bool {
	return s.pending.Load() > 0 || s.deviceInit.Load() > 0 || s.busy.Load() > 0
}

// Step lets the modules process all pending work and returns once the application is
// quiet again. It returns a *StallError if there is nothing to do or if work stops making
// progress.
func (s *Scheduler) Step(ctx context.Context) error {
	if !s.enabled.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Scheduler", "Step", "deterministic mode check")
	}
	if s.lost.Load() {
		if err := s.acquire(ctx); err != nil {
			return err
		}
	}
	if !s.CanStep() {
		return s.stall("no pending work, a stimulus is missing")
	}
	if s.metrics != nil {
		s.metrics.SchedulerSteps.Inc()
	}

	lastEvents := s.events.Load()
	attempts := 0
	for s.CanStep() {
		s.releases.Add(1)
		s.state.Store(int32(Released))
		<-s.lock

		timer := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			select {
			case s.lock <- struct{}{}:
			default:
				s.lost.Store(true)
			}
			return errors.Wrap(ctx.Err(), "Scheduler", "Step", "waiting for progress")
		case <-timer.C:
		}

		if err := s.acquire(ctx); err != nil {
			return err
		}
		s.state.Store(int32(NotRunning))

		if ev := s.events.Load(); ev != lastEvents {
			lastEvents = ev
			attempts = 0
			continue
		}
		attempts++
		if attempts >= s.cfg.StallAttempts && s.CanStep() {
			return s.stall("no progress while work is pending")
		}
	}
	return nil
}

// acquire takes the lock back for the driver. A goroutine keeping the lock for more than
// StallAttempts poll intervals is a stall.
func (s *Scheduler) acquire(ctx context.Context) error {
	limit := time.NewTimer(s.cfg.PollInterval * time.Duration(s.cfg.StallAttempts))
	defer limit.Stop()
	select {
	case s.lock <- struct{}{}:
		s.lost.Store(false)
		return nil
	case <-ctx.Done():
		s.lost.Store(true)
		return errors.Wrap(ctx.Err(), "Scheduler", "Step", "reacquiring lock")
	case <-limit.C:
		s.lost.Store(true)
		return s.stall("lock not released by " + s.Holder())
	}
}

func (s *Scheduler) stall(reason string) error {
	s.state.Store(int32(Stalled))
	s.mu.Lock()
	pending := make(map[string]int64, len(s.perVar))
	for k, v := range s.perVar {
		pending[k] = v
	}
	var busy []string
	for name, h := range s.handles {
		if h.busy {
			busy = append(busy, name)
		}
	}
	holder := s.holder
	s.mu.Unlock()
	sort.Strings(busy)

	if s.metrics != nil {
		s.metrics.SchedulerStalls.Inc()
	}
	s.logger.Warn("Application stalled", "reason", reason, "pending", len(pending), "busy", busy, "holder", holder)
	return &StallError{Reason: reason, Pending: pending, Busy: busy, Holder: holder}
}

// Holder returns the name of the handle holding the lock, empty if none.
func (s *Scheduler) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holder
}

// Handle returns the lock handle for the goroutine called name. The goroutine counts as
// busy until it first parks.
func (s *Scheduler) Handle(name string) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[name]; ok {
		return h
	}
	h := &Handle{sched: s, name: name}
	s.handles[name] = h
	if s.enabled.Load() {
		h.busy = true
		s.busy.Add(1)
	}
	return h
}
