package engine

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/device"
	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/health"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/metric"
	"github.com/c360/varnet/network"
	"github.com/c360/varnet/resolver"
	"github.com/c360/varnet/testable"
	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// State is the lifecycle state of an application.
type State int

// Application lifecycle states
const (
	StateCreated State = iota
	StateInitialised
	StateRunning
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialised:
		return "initialised"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Option configures an Application.
type Option func(*Application)

// WithLogger sets the logger. slog.Default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithDirectory sets the variable directory, e.g. a NATS KV bridge. An in-memory
// directory is used otherwise.
func WithDirectory(d directory.Directory) Option {
	return func(a *Application) { a.dir = d }
}

// WithMetricsRegistry sets the metrics registry. A private registry is used otherwise.
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(a *Application) { a.registry = r }
}

// WithHealthMonitor sets the health monitor shared with devices and the watchdog.
func WithHealthMonitor(m *health.Monitor) Option {
	return func(a *Application) { a.monitor = m }
}

// connection is an explicit network built with Connect.
type connection struct {
	feeder    *endpoint
	consumers []*endpoint
}

// ownerLink connects the endpoints of two owners by relative name.
type ownerLink struct {
	src, dst *ownerBase
}

// deviceLink connects the endpoints of an owner to registers of a device by name.
type deviceLink struct {
	owner   *ownerBase
	device  string
	trigger string
}

// Application owns the module hierarchy, the devices and the variable directory, and
// runs the assembled variable networks.
type Application struct {
	cfg    *config.Config
	logger *slog.Logger
	runID  string

	tree  *hierarchy.Tree
	root  *Group
	clock *validity.Clock

	sched      *testable.Scheduler
	watchdog   *validity.Watchdog
	monitor    *health.Monitor
	registry   *metric.MetricsRegistry
	metrics    *metric.Metrics
	appMetrics *applicationMetrics
	dir        directory.Directory

	mu      sync.Mutex
	state   State
	initErr error
	errs    []error

	modules     []*Module
	endpoints   []*endpoint
	devices     []*deviceBinding
	connections []connection
	ownerLinks  []ownerLink
	deviceLinks []deviceLink

	graph      *network.Graph
	resolution *resolver.Resolution
	cycles     *validity.Cycles
	report     *Report
	warnings   []Issue

	// realized runtime pieces
	runners       []func(ctx context.Context) error
	queues        []*transport.Queue
	constants     []func(ctx context.Context) error
	initialWrites []func(ctx context.Context) error
	subscriptions []func()

	dataLoss    atomic.Uint64
	lossLimiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan struct{}
	runErr error
}

// New creates an application from cfg. A nil cfg uses config.Default. Devices listed in
// the configuration are bound to dummy backends holding their initial values; use
// AddDevice to bind real backends.
func New(cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{
		cfg:    cfg.Clone(),
		logger: slog.Default(),
		runID:  uuid.NewString(),
		clock:  validity.NewClock(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "engine", "application", a.cfg.Application.Name, "run_id", a.runID)

	if a.registry == nil {
		a.registry = metric.NewMetricsRegistry()
	}
	a.metrics = a.registry.CoreMetrics()
	appMetrics, err := newApplicationMetrics(a.registry)
	if err != nil {
		// Metrics are optional; continue without them
		a.logger.Warn("Application metrics disabled", "error", err)
	}
	a.appMetrics = appMetrics

	if a.monitor == nil {
		a.monitor = health.NewMonitor()
	}
	if a.dir == nil {
		if a.cfg.Directory.Kind == config.DirectoryNATS {
			return nil, errors.Fatalf(errors.ErrMissingConfig, "Application", "New",
				"directory kind %q needs a directory passed with WithDirectory", a.cfg.Directory.Kind)
		}
		a.dir = directory.NewMemory(directory.WithLogger(a.logger))
	}

	a.sched = testable.New(testable.Config{
		PollInterval:  a.cfg.Testable.PollInterval.Duration(),
		StallAttempts: a.cfg.Testable.StallAttempts,
	}, testable.WithLogger(a.logger), testable.WithMetrics(a.metrics))
	if a.cfg.Testable.Enabled {
		a.sched.Enable()
	}

	a.watchdog = validity.NewWatchdog(validity.WatchdogConfig{
		Interval:   a.cfg.Watchdog.Interval.Duration(),
		StallAfter: a.cfg.Watchdog.StallAfter.Duration(),
	}, a.logger, a.monitor, a.metrics)

	limit := rate.Inf
	if every := a.cfg.Engine.DataLossLogRate.Duration(); every > 0 {
		limit = rate.Every(every)
	}
	a.lossLimiter = rate.NewLimiter(limit, 1)

	a.tree = hierarchy.NewTree(a.cfg.Application.Description)
	a.root = &Group{ownerBase: ownerBase{app: a, id: hierarchy.Root, name: a.cfg.Application.Name}}

	for _, name := range a.cfg.DeviceNames() {
		dc := a.cfg.Devices[name]
		backend, err := dummyBackend(dc)
		if err != nil {
			return nil, err
		}
		if err := a.AddDevice(name, backend, dc.Registers...); err != nil {
			return nil, err
		}
	}

	a.logger.Debug("Application created", "testable", a.sched.Enabled())
	return a, nil
}

// Root returns the root of the module hierarchy. Top-level modules and groups are
// created below it.
func (a *Application) Root() *Group { return a.root }

// Name returns the application name.
func (a *Application) Name() string { return a.cfg.Application.Name }

// RunID identifies this run of the application in logs and directory records.
func (a *Application) RunID() string { return a.runID }

// Config returns a copy of the configuration.
func (a *Application) Config() *config.Config { return a.cfg.Clone() }

// Logger returns the application logger.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Tree returns the owner hierarchy.
func (a *Application) Tree() *hierarchy.Tree { return a.tree }

// Directory returns the variable directory.
func (a *Application) Directory() directory.Directory { return a.dir }

// Scheduler returns the deterministic scheduler, disabled unless testable mode is on.
func (a *Application) Scheduler() *testable.Scheduler { return a.sched }

// Watchdog returns the wait watchdog.
func (a *Application) Watchdog() *validity.Watchdog { return a.watchdog }

// Monitor returns the health monitor.
func (a *Application) Monitor() *health.Monitor { return a.monitor }

// Registry returns the metrics registry.
func (a *Application) Registry() *metric.MetricsRegistry { return a.registry }

// Clock returns the causality clock shared by every feeder.
func (a *Application) Clock() *validity.Clock { return a.clock }

// State returns the lifecycle state.
func (a *Application) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// EnableTestableMode switches to deterministic execution. It must be called before the
// application is initialised.
func (a *Application) EnableTestableMode() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateCreated {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Application", "EnableTestableMode",
			"testable mode must be enabled before initialisation")
	}
	a.sched.Enable()
	return nil
}

// Step releases the modules until every pushed value was consumed. Only valid in
// testable mode.
func (a *Application) Step(ctx context.Context) error {
	if !a.sched.Enabled() {
		return errors.WrapInvalid(errors.ErrNotTestable, "Application", "Step", "testable mode is off")
	}
	return a.sched.Step(ctx)
}

// CanStep reports whether a Step would make progress.
func (a *Application) CanStep() bool { return a.sched.CanStep() }

// fail records an assembly error. Errors are reported by Initialise.
func (a *Application) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func (a *Application) mutable(method string) bool {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state == StateCreated {
		return true
	}
	a.fail(errors.WrapFatal(errors.ErrAlreadyStarted, "Application", method,
		"the hierarchy is fixed after initialisation"))
	return false
}

// attach creates an owner below parent and returns its id, NoOwner on failure.
func (a *Application) attach(parent *ownerBase, spec hierarchy.OwnerSpec) hierarchy.OwnerID {
	if !a.mutable("attach") || parent.id == hierarchy.NoOwner {
		return hierarchy.NoOwner
	}
	id, err := a.tree.NewOwner(spec)
	if err != nil {
		a.fail(err)
		return hierarchy.NoOwner
	}
	if err := a.tree.RegisterOwner(parent.id, id); err != nil {
		a.fail(err)
		return hierarchy.NoOwner
	}
	return id
}

// register adds an accessor endpoint to owner.
func (a *Application) register(owner *ownerBase, ep *endpoint, spec hierarchy.EndpointSpec) {
	if !a.mutable("register") || owner.id == hierarchy.NoOwner {
		return
	}
	if owner.module == nil {
		a.fail(errors.Fatalf(errors.ErrUnknownOwner, "Application", "register",
			"accessor %q of %s is not inside a module", spec.Name, a.tree.Path(owner.id)))
		return
	}
	id, err := a.tree.RegisterEndpoint(owner.id, spec)
	if err != nil {
		a.fail(err)
		return
	}
	ep.id = id
	owner.endpoints = append(owner.endpoints, ep)
	a.endpoints = append(a.endpoints, ep)
}

// Connect builds an explicit network from feeder to consumers. The endpoints take no
// part in connection by name.
func (a *Application) Connect(feeder Writable, consumers ...Readable) {
	if !a.mutable("Connect") {
		return
	}
	c := connection{feeder: feeder.writable()}
	for _, r := range consumers {
		c.consumers = append(c.consumers, r.readable())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connections = append(a.connections, c)
}

// ConnectTo connects every endpoint of src with the endpoint of dst that has the same
// name relative to its owner.
func (a *Application) ConnectTo(src, dst Owner) {
	if !a.mutable("ConnectTo") {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ownerLinks = append(a.ownerLinks, ownerLink{src: src.base(), dst: dst.base()})
}

// ConnectDevice connects the endpoints of owner to the device registers with the same
// relative name. Read registers are polled on trigger, a variable name, when set.
func (a *Application) ConnectDevice(owner Owner, deviceName, trigger string) {
	if !a.mutable("ConnectDevice") {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deviceLinks = append(a.deviceLinks, deviceLink{owner: owner.base(), device: deviceName, trigger: trigger})
}

// Initialise assembles, resolves and realizes the variable networks. It is called by
// Start when needed and reports every configuration error found.
func (a *Application) Initialise() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialiseLocked()
}

func (a *Application) initialiseLocked() error {
	switch a.state {
	case StateCreated:
	case StateFailed:
		return a.initErr
	default:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Application", "Initialise", "state check")
	}

	err := a.initialise()
	a.appMetrics.recordInitialise(err == nil, err)
	a.tree.Seal()
	if err != nil {
		a.state = StateFailed
		a.initErr = err
		a.report = newReport(a, err)
		a.logger.Error("Application initialisation failed", "error", err)
		return err
	}
	a.state = StateInitialised
	a.report = newReport(a, nil)
	a.logger.Info("Application initialised",
		"modules", len(a.modules),
		"networks", len(a.resolution.Plans),
		"variables", len(a.dir.Variables()))
	return nil
}

func (a *Application) initialise() error {
	if len(a.errs) > 0 {
		return stderrors.Join(a.errs...)
	}
	if err := a.createDevices(); err != nil {
		return err
	}

	start := time.Now()
	asm := newAssembly(a)
	g, err := asm.build()
	if err != nil {
		return err
	}
	a.graph = g
	a.appMetrics.recordStage("assemble", time.Since(start).Seconds())

	start = time.Now()
	res, err := resolver.Resolve(g)
	if err != nil {
		return err
	}
	a.resolution = res
	a.appMetrics.recordStage("resolve", time.Since(start).Seconds())
	for shape, count := range res.Counts() {
		a.metrics.RecordNetworkShape(string(shape), count)
	}

	start = time.Now()
	if err := newRealizer(a, res).run(); err != nil {
		return err
	}
	a.attachCycles()
	a.appMetrics.recordStage("realize", time.Since(start).Seconds())
	return nil
}

// attachCycles finds module feedback loops and wires cycle-aware validity.
func (a *Application) attachCycles() {
	var edges []validity.Edge
	for _, p := range a.resolution.Plans {
		f := p.Network.Feeder()
		if f.Kind != network.Application {
			continue
		}
		for _, c := range p.Network.Consumers() {
			if c.Kind == network.Application {
				edges = append(edges, validity.Edge{Producer: f.Owner, Consumer: c.Owner})
			}
		}
	}
	a.cycles = validity.DetectCycles(edges)

	states := make(map[string]*validity.OwnerState, len(a.modules))
	for _, m := range a.modules {
		states[m.Path()] = m.state
		m.state.SetObserver(func(owner string, count int64) {
			a.metrics.RecordOwnerFaults(owner, count)
		})
	}
	a.cycles.Attach(states)
	for _, c := range a.cycles.All() {
		name := c.Name()
		c.SetObserver(func(_ uint64, invalidity int64) {
			a.metrics.RecordCycleInvalidity(name, invalidity)
		})
		a.logger.Debug("Module cycle detected", "cycle", name, "owners", c.Owners())
	}

	for _, p := range a.resolution.Plans {
		producer := ""
		if f := p.Network.Feeder(); f.Kind == network.Application {
			producer = f.Owner
		}
		for _, c := range p.Network.Consumers() {
			ep, ok := c.Payload.(*endpoint)
			if !ok || ep.prop == nil {
				continue
			}
			ep.prop.SetInternal(producer != "" && a.cycles.Internal(producer, c.Owner))
		}
	}
}

// Cycles returns the module feedback loops found during initialisation.
func (a *Application) Cycles() *validity.Cycles {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycles
}

// Report describes the assembled networks. It is available after Initialise, also when
// initialisation failed.
func (a *Application) Report() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.report
}

// Start initialises the application if needed, starts devices, the directory and
// every module. Prepare functions run before any main loop.
func (a *Application) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateCreated || a.state == StateFailed {
		if err := a.initialiseLocked(); err != nil {
			a.mu.Unlock()
			a.appMetrics.recordStart(false, 0)
			return err
		}
	}
	if a.state != StateInitialised {
		a.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Application", "Start", "state check")
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	a.ctx, a.cancel, a.group = gctx, cancel, g
	a.state = StateRunning
	a.mu.Unlock()

	if err := a.start(gctx); err != nil {
		cancel()
		a.runErr = g.Wait()
		close(a.done)
		a.mu.Lock()
		a.state = StateFailed
		a.mu.Unlock()
		a.appMetrics.recordStart(false, 0)
		a.logger.Error("Application start failed", "error", err)
		return err
	}

	go func() {
		a.runErr = g.Wait()
		if a.runErr != nil {
			a.monitor.UpdateUnhealthy("application", a.runErr.Error())
		}
		close(a.done)
	}()
	a.monitor.UpdateHealthy("application", "running")
	a.appMetrics.recordStart(true, len(a.modules))
	a.logger.Info("Application started", "modules", len(a.modules), "devices", len(a.devices))
	return nil
}

func (a *Application) start(ctx context.Context) error {
	g := a.group
	for _, write := range a.initialWrites {
		if err := write(ctx); err != nil {
			return err
		}
	}
	for _, d := range a.devices {
		g.Go(func() error { return d.dev.Run(ctx) })
	}
	for _, run := range a.runners {
		g.Go(func() error { return run(ctx) })
	}
	g.Go(func() error { return a.watchdog.Run(ctx) })

	if err := a.dir.Start(ctx); err != nil {
		return errors.WrapTransient(err, "Application", "Start", "directory start")
	}
	select {
	case <-a.dir.Ready():
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Application", "Start", "waiting for directory")
	}

	for _, m := range a.modules {
		if m.spec.Prepare == nil {
			continue
		}
		if err := m.spec.Prepare(ctx, m); err != nil {
			return errors.WrapFatal(err, "Module", "Prepare", m.Path())
		}
	}
	for _, write := range a.constants {
		if err := write(ctx); err != nil {
			return err
		}
	}

	for _, m := range a.modules {
		m.handle = a.sched.Handle(m.Path())
	}
	for _, m := range a.modules {
		g.Go(func() error { return m.run(ctx) })
	}
	return nil
}

// Wait blocks until every module returned and reports the first failure.
func (a *Application) Wait() error {
	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state == StateCreated || state == StateInitialised {
		return errors.WrapInvalid(errors.ErrNotStarted, "Application", "Wait", "state check")
	}
	<-a.done
	return a.runErr
}

// Done is closed once the application stopped running.
func (a *Application) Done() <-chan struct{} { return a.done }

// Run starts the application and waits until ctx is done or a module fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	err := a.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Shutdown stops every goroutine and closes the directory. ctx bounds how long it
// waits for modules to return.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopped
	cancel := a.cancel
	a.mu.Unlock()

	start := time.Now()
	a.logger.Info("Application stopping")
	cancel()
	for _, q := range a.queues {
		_ = q.Close()
	}

	var err error
	select {
	case <-a.done:
	case <-ctx.Done():
		err = errors.WrapTransient(ctx.Err(), "Application", "Shutdown", "waiting for modules")
	}
	for _, unsubscribe := range a.subscriptions {
		unsubscribe()
	}
	if cerr := a.dir.Close(); cerr != nil && err == nil {
		err = errors.Wrap(cerr, "Application", "Shutdown", "directory close")
	}
	a.monitor.UpdateDegraded("application", "stopped")
	a.appMetrics.recordStop(err == nil, time.Since(start).Seconds())
	a.logger.Info("Application stopped", "duration", time.Since(start), "data_loss", a.dataLoss.Load())
	return err
}

// Health aggregates the health of the application and its devices.
func (a *Application) Health() health.Status {
	return a.monitor.AggregateHealth(a.cfg.Application.Name)
}

// onDataLoss counts an overwritten value. Log lines are rate limited.
func (a *Application) onDataLoss(variable string) {
	a.dataLoss.Add(1)
	a.metrics.RecordDataLoss(variable)
	if a.lossLimiter.Allow() {
		a.logger.Warn("Data lost in full queue", "variable", variable, "total", a.dataLoss.Load())
	}
}

// DataLossCounter returns the number of values lost in full queues.
func (a *Application) DataLossCounter() uint64 { return a.dataLoss.Load() }

// GetAndResetDataLossCounter returns the data loss counter and sets it to zero.
func (a *Application) GetAndResetDataLossCounter() uint64 { return a.dataLoss.Swap(0) }

// Device returns a bound device. Devices exist once the application is initialised.
func (a *Application) Device(name string) (*device.Device, bool) {
	for _, d := range a.devices {
		if d.name == name && d.dev != nil {
			return d.dev, true
		}
	}
	return nil, false
}
