package testfacility

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/engine"
	"github.com/c360/varnet/errors"
)

// history holds the publications of one variable that no handle read yet.
type history struct {
	latest  directory.Update
	seen    bool
	pending []directory.Update
}

// Facility owns the test side of an application in testable mode.
type Facility struct {
	app    *engine.Application
	dir    directory.Directory
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	defaults map[string]any
	order    []string
	vars     map[string]*history
	unwatch  func()
}

// New enables testable mode on app and starts recording its publications. app must
// not be initialised yet.
func New(app *engine.Application) (*Facility, error) {
	if app == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Facility", "New", "application is nil")
	}
	if app.State() != engine.StateCreated {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStarted, "Facility", "New",
			"application is "+app.State().String())
	}
	if !app.Scheduler().Enabled() {
		if err := app.EnableTestableMode(); err != nil {
			return nil, err
		}
	}
	f := &Facility{
		app:      app,
		dir:      app.Directory(),
		logger:   app.Logger().With("component", "testfacility"),
		defaults: make(map[string]any),
		vars:     make(map[string]*history),
	}
	f.unwatch = f.dir.Watch(f.record)
	return f, nil
}

// Application returns the driven application.
func (f *Facility) Application() *engine.Application { return f.app }

func (f *Facility) record(u directory.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := f.historyLocked(u.Name)
	h.latest, h.seen = u, true
	h.pending = append(h.pending, u)
}

func (f *Facility) historyLocked(name string) *history {
	h, ok := f.vars[name]
	if !ok {
		h = &history{}
		f.vars[name] = h
	}
	return h
}

// SetDefault sets the value written to a writable variable before the application
// starts. Variables without default start with the zero value.
func (f *Facility) SetDefault(name string, value any) error {
	if err := directory.ValidateName(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Facility", "SetDefault", name)
	}
	if _, ok := f.defaults[name]; !ok {
		f.order = append(f.order, name)
	}
	f.defaults[name] = value
	return nil
}

// RunApplication initialises and starts the application, then steps once if the
// initial values left work pending. Publications made so far are discarded from the
// read queues; their latest value stays available to new handles.
func (f *Facility) RunApplication(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Facility", "RunApplication", "already running")
	}
	f.running = true
	order := append([]string(nil), f.order...)
	defaults := make(map[string]any, len(f.defaults))
	for k, v := range f.defaults {
		defaults[k] = v
	}
	f.mu.Unlock()

	if err := f.start(ctx, order, defaults); err != nil {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
		return err
	}
	f.drain()
	f.logger.Debug("Application running", "defaults", len(order))
	return nil
}

func (f *Facility) start(ctx context.Context, order []string, defaults map[string]any) error {
	if f.app.State() == engine.StateCreated {
		if err := f.app.Initialise(); err != nil {
			return err
		}
	}
	for _, name := range order {
		v, ok := f.dir.Lookup(name)
		if !ok {
			return errors.Fatalf(errors.ErrUnknownVariable, "Facility", "RunApplication", "default for %s", name)
		}
		if !v.Writable() {
			return errors.Fatalf(errors.ErrNotWritable, "Facility", "RunApplication", "default for %s", name)
		}
		// before Start this only sets the initial value
		if err := f.dir.Write(ctx, name, defaults[name]); err != nil {
			return err
		}
	}

	if err := f.app.Start(ctx); err != nil {
		return err
	}
	if f.app.CanStep() {
		return f.app.Step(ctx)
	}
	return nil
}

// drain empties every read queue.
func (f *Facility) drain() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.vars {
		h.pending = nil
	}
}

// StepApplication lets the application process everything written since the last step.
func (f *Facility) StepApplication(ctx context.Context) error {
	if !f.isRunning() {
		return errors.WrapInvalid(errors.ErrNotStarted, "Facility", "StepApplication", "state check")
	}
	return f.app.Step(ctx)
}

// CanStep reports whether a step would make progress.
func (f *Facility) CanStep() bool { return f.app.CanStep() }

// Shutdown stops recording and shuts the application down.
func (f *Facility) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	unwatch := f.unwatch
	f.unwatch = nil
	f.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
	return f.app.Shutdown(ctx)
}

func (f *Facility) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// next pops the oldest pending publication of name.
func (f *Facility) next(name string) (directory.Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.vars[name]
	if !ok || len(h.pending) == 0 {
		return directory.Update{}, false
	}
	u := h.pending[0]
	h.pending = h.pending[1:]
	return u, true
}

// last pops every pending publication of name and returns the newest.
func (f *Facility) last(name string) (directory.Update, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.vars[name]
	if !ok || len(h.pending) == 0 {
		return directory.Update{}, false
	}
	u := h.pending[len(h.pending)-1]
	h.pending = nil
	return u, true
}

// latest returns the newest publication of name, read or not.
func (f *Facility) latest(ctx context.Context, name string) (directory.Update, error) {
	f.mu.Lock()
	h, ok := f.vars[name]
	if ok && h.seen {
		u := h.latest
		f.mu.Unlock()
		return u, nil
	}
	f.mu.Unlock()
	return f.dir.Read(ctx, name)
}
