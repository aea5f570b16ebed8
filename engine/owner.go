package engine

import (
	"context"
	"log/slog"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/testable"
	"github.com/c360/varnet/validity"
)

// Owner is a node of the application hierarchy. Groups and modules are owners.
type Owner interface {
	// Name returns the name the owner was created with
	Name() string
	// Path returns the real slash-delimited path of the owner
	Path() string
	base() *ownerBase
}

type ownerBase struct {
	app  *Application
	id   hierarchy.OwnerID
	name string
	// module is the nearest enclosing module, nil outside of one
	module    *Module
	endpoints []*endpoint
}

func (o *ownerBase) Name() string     { return o.name }
func (o *ownerBase) Path() string     { return o.app.tree.Path(o.id) }
func (o *ownerBase) base() *ownerBase { return o }

// GroupSpec describes a group. Name may use path syntax to move the group in the
// virtual hierarchy, see hierarchy.ModifierOf.
type GroupSpec struct {
	Name        string
	Description string
	Tags        []string
	Modifier    hierarchy.Modifier
}

// Group structures modules or, inside a module, the module's variables.
type Group struct {
	ownerBase
}

// NewGroup creates a group below parent.
func NewGroup(parent Owner, spec GroupSpec) *Group {
	p := parent.base()
	g := &Group{ownerBase: ownerBase{app: p.app, name: spec.Name, module: p.module, id: hierarchy.NoOwner}}
	g.id = p.app.attach(p, hierarchy.OwnerSpec{
		Name:        spec.Name,
		Description: spec.Description,
		Tags:        spec.Tags,
		Modifier:    spec.Modifier,
	})
	return g
}

// MainFunc is the main loop of a module. It runs on the module's own goroutine and
// should return when ctx is done.
type MainFunc func(ctx context.Context, m *Module) error

// PrepareFunc runs before any main loop starts. Outputs written here are the initial
// values of their networks.
type PrepareFunc func(ctx context.Context, m *Module) error

// ModuleSpec describes a module.
type ModuleSpec struct {
	Name        string
	Description string
	Tags        []string
	Modifier    hierarchy.Modifier
	Main        MainFunc
	Prepare     PrepareFunc
}

// Module is an owner with its own goroutine. Every accessor belongs to exactly one
// module and is only used from that module's goroutine.
type Module struct {
	ownerBase
	spec   ModuleSpec
	state  *validity.OwnerState
	handle *testable.Handle
	logger *slog.Logger
}

// NewModule creates a module below parent. Modules may be nested; inner modules run on
// their own goroutine.
func NewModule(parent Owner, spec ModuleSpec) *Module {
	p := parent.base()
	m := &Module{spec: spec}
	m.ownerBase = ownerBase{app: p.app, name: spec.Name, id: hierarchy.NoOwner}
	m.module = m
	m.id = p.app.attach(p, hierarchy.OwnerSpec{
		Name:        spec.Name,
		Description: spec.Description,
		Tags:        spec.Tags,
		Modifier:    spec.Modifier,
	})
	if spec.Main == nil {
		p.app.fail(errors.Fatalf(errors.ErrInvalidConfig, "Module", "NewModule",
			"module %q has no main loop", spec.Name))
	}
	if m.id != hierarchy.NoOwner {
		m.state = p.app.tree.State(m.id)
		p.app.modules = append(p.app.modules, m)
	}
	return m
}

// Description returns the module description.
func (m *Module) Description() string { return m.spec.Description }

// Application returns the application the module belongs to.
func (m *Module) Application() *Application { return m.app }

// Logger returns the module logger.
func (m *Module) Logger() *slog.Logger {
	if m.logger == nil {
		return m.app.logger.With("module", m.Path())
	}
	return m.logger
}

// Version returns the module's current causality token.
func (m *Module) Version() validity.Version { return m.state.Version() }

// Validity returns the module's aggregate validity.
func (m *Module) Validity() validity.Validity { return m.state.Validity() }

// FaultCount returns the module's fault counter.
func (m *Module) FaultCount() int64 { return m.state.FaultCount() }

// IncrementFaultCounter marks the module faulty for a reason other than its inputs.
// Every call must be paired with DecrementFaultCounter.
func (m *Module) IncrementFaultCounter() { m.state.IncrementFaultCounter() }

// DecrementFaultCounter undoes IncrementFaultCounter.
func (m *Module) DecrementFaultCounter() { m.state.DecrementFaultCounter() }

// Idle parks the module until ctx is done. Main loops with nothing left to read end
// with it so deterministic steps do not wait for them.
func (m *Module) Idle(ctx context.Context) error {
	m.unlock()
	<-ctx.Done()
	return nil
}

// unlock parks the module before a blocking wait in deterministic mode.
func (m *Module) unlock() {
	if m.handle != nil {
		m.handle.Unlock()
	}
}

func (m *Module) lock(ctx context.Context) error {
	if m.handle == nil {
		return nil
	}
	return m.handle.Lock(ctx)
}

func (m *Module) run(ctx context.Context) error {
	defer m.handle.Close()
	if err := m.handle.Lock(ctx); err != nil {
		return nil
	}
	m.Logger().Debug("Module started")
	err := m.spec.Main(ctx, m)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil && !errors.IsStall(err) {
		m.Logger().Error("Module main loop failed", "error", err)
		return errors.Wrap(err, "Module", "Main", m.Path())
	}
	return err
}
