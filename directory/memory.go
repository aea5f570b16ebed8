package directory

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/validity"
)

type entry struct {
	v       Variable
	current Update
	subs    map[int]Handler
}

// Memory is the in-process directory.
type Memory struct {
	logger *slog.Logger

	mu       sync.RWMutex
	vars     map[string]*entry
	watchers map[int]Handler
	nextID   int
	started  bool
	closed   bool

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Memory directory.
type Option func(*Memory)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMemory creates an empty in-process directory.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		logger:   slog.Default(),
		vars:     make(map[string]*entry),
		watchers: make(map[int]Handler),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "directory")
	return m
}

// Register adds a variable.
func (m *Memory) Register(v Variable) error {
	if err := ValidateName(v.Name); err != nil {
		return err
	}
	if v.Access != ReadOnly && v.Access != ReadWrite {
		return errors.Fatalf(errors.ErrInvalidConfig, "Directory", "Register", "%s: access %q", v.Name, v.Access)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Directory", "Register", v.Name)
	}
	if _, ok := m.vars[v.Name]; ok {
		return errors.Fatalf(errors.ErrDuplicateName, "Directory", "Register", "%s", v.Name)
	}
	zero, _ := Convert(nil, v.Type)
	m.vars[v.Name] = &entry{
		v:       v,
		current: Update{Name: v.Name, Value: zero},
		subs:    make(map[int]Handler),
	}
	return nil
}

// Variables lists the registered variables sorted by name.
func (m *Memory) Variables() []Variable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Variable, 0, len(m.vars))
	for _, e := range m.vars {
		out = append(out, e.v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns a registered variable.
func (m *Memory) Lookup(name string) (Variable, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.vars[name]
	if !ok {
		return Variable{}, false
	}
	return e.v, true
}

func (m *Memory) lookupLocked(method, name string) (*entry, error) {
	e, ok := m.vars[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrUnknownVariable, "Directory", method, name)
	}
	return e, nil
}

// Subscribe delivers operator writes of a read-write variable to fn.
func (m *Memory) Subscribe(name string, fn Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked("Subscribe", name)
	if err != nil {
		return nil, err
	}
	if !e.v.Writable() {
		return nil, errors.WrapInvalid(errors.ErrNotWritable, "Directory", "Subscribe", name)
	}
	id := m.nextID
	m.nextID++
	e.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(e.subs, id)
		m.mu.Unlock()
	}, nil
}

// Publish stores an application value and notifies watchers. Publishing a read-write
// variable is a write-back: subscribers are not called.
func (m *Memory) Publish(_ context.Context, u Update) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Directory", "Publish", u.Name)
	}
	e, err := m.lookupLocked("Publish", u.Name)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	value, err := Convert(u.Value, e.v.Type)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	u.Value = value
	e.current = u
	watchers := m.watchersLocked()
	m.mu.Unlock()

	for _, fn := range watchers {
		fn(u)
	}
	return nil
}

// Write stores an operator value. Before Start it only sets the initial value.
func (m *Memory) Write(_ context.Context, name string, value any) error {
	u, subs, err := m.store("Write", name, value)
	if err != nil {
		return err
	}
	for _, fn := range subs {
		fn(u)
	}
	return nil
}

func (m *Memory) store(method, name string, value any) (Update, []Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Update{}, nil, errors.WrapInvalid(errors.ErrShuttingDown, "Directory", method, name)
	}
	e, err := m.lookupLocked(method, name)
	if err != nil {
		return Update{}, nil, err
	}
	if !e.v.Writable() {
		return Update{}, nil, errors.WrapInvalid(errors.ErrNotWritable, "Directory", method, name)
	}
	converted, err := Convert(value, e.v.Type)
	if err != nil {
		return Update{}, nil, err
	}
	e.current = Update{Name: name, Value: converted, Validity: validity.OK}
	if !m.started {
		return e.current, nil, nil
	}
	return e.current, subsOf(e), nil
}

// Read returns the latest value of a variable, the zero value before the first update.
func (m *Memory) Read(_ context.Context, name string) (Update, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, err := m.lookupLocked("Read", name)
	if err != nil {
		return Update{}, err
	}
	return e.current, nil
}

// Watch observes every application publication.
func (m *Memory) Watch(fn Handler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

// Start delivers the initial value of every read-write variable in name order.
func (m *Memory) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Directory", "Start", "start check")
	}
	m.started = true
	type delivery struct {
		u    Update
		subs []Handler
	}
	var initial []delivery
	for _, e := range m.vars {
		if e.v.Writable() {
			initial = append(initial, delivery{u: e.current, subs: subsOf(e)})
		}
	}
	m.mu.Unlock()

	sort.Slice(initial, func(i, j int) bool { return initial[i].u.Name < initial[j].u.Name })
	for _, d := range initial {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, fn := range d.subs {
			fn(d.u)
		}
	}
	m.logger.Debug("Initial values delivered", "variables", len(initial))
	m.readyOnce.Do(func() { close(m.ready) })
	return nil
}

// Ready is closed after Start delivered the initial values.
func (m *Memory) Ready() <-chan struct{} { return m.ready }

// Close stops accepting updates.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Restore sets the stored value of a variable without delivering it. Bridges use it
// to apply values received from a remote store.
func (m *Memory) Restore(u Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked("Restore", u.Name)
	if err != nil {
		return err
	}
	value, err := Convert(u.Value, e.v.Type)
	if err != nil {
		return err
	}
	u.Value = value
	e.current = u
	return nil
}

func subsOf(e *entry) []Handler {
	ids := make([]int, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.subs[id])
	}
	return out
}

func (m *Memory) watchersLocked() []Handler {
	ids := make([]int, 0, len(m.watchers))
	for id := range m.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.watchers[id])
	}
	return out
}
