package engine_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/device"
	"github.com/c360/varnet/engine"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/health"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/validity"
)

// recorder collects values seen by a module goroutine.
type recorder[T any] struct {
	mu   sync.Mutex
	vals []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vals = append(r.vals, v)
}

func (r *recorder[T]) get() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.vals...)
}

// forward builds a module that copies its push input to its output.
func forward[T any](parent engine.Owner, name, input string, seen *recorder[T]) *engine.Module {
	var in *engine.PushInput[T]
	var out *engine.Output[T]
	m := engine.NewModule(parent, engine.ModuleSpec{
		Name: name,
		Main: func(ctx context.Context, _ *engine.Module) error {
			for {
				if err := in.Read(ctx); err != nil {
					return err
				}
				if seen != nil {
					seen.add(in.Get())
				}
				if err := out.WriteValue(ctx, in.Get()); err != nil {
					return err
				}
			}
		},
	})
	in = engine.NewPushInput[T](m, input)
	out = engine.NewOutput[T](m, "out")
	return m
}

type ApplicationSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
}

func TestApplicationSuite(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}

func (s *ApplicationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 20*time.Second)
}

func (s *ApplicationSuite) TearDownTest() {
	s.cancel()
}

func (s *ApplicationSuite) config(testable bool) *config.Config {
	cfg := config.Default()
	cfg.Application.Name = "test"
	cfg.Testable.Enabled = testable
	cfg.Testable.StallAttempts = 50
	cfg.Recovery.Interval = config.Duration(10 * time.Millisecond)
	return cfg
}

func (s *ApplicationSuite) newApp(cfg *config.Config) *engine.Application {
	app, err := engine.New(cfg)
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func (s *ApplicationSuite) read(app *engine.Application, name string) any {
	u, err := app.Directory().Read(s.ctx, name)
	s.Require().NoError(err)
	return u.Value
}

func (s *ApplicationSuite) TestFanOutScenario() {
	app := s.newApp(s.config(true))
	var b, c recorder[int32]
	forward[int32](app.Root(), "A", "in", nil)
	forward(app.Root(), "B", "/A/out", &b)
	forward(app.Root(), "C", "/A/out", &c)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	for _, v := range []int32{1, 2, 3} {
		s.Require().NoError(app.Directory().Write(s.ctx, "/A/in", v))
		s.Require().NoError(app.Step(s.ctx))
	}

	// the initial control-system value comes first
	s.Equal([]int32{0, 1, 2, 3}, b.get())
	s.Equal([]int32{0, 1, 2, 3}, c.get())
	s.Equal(int32(3), s.read(app, "/A/out"))
	s.Equal(int32(3), s.read(app, "/B/out"))

	var shape string
	for _, n := range app.Report().Networks {
		if n.Name == "/A/out" {
			shape = n.Shape
		}
	}
	s.Equal("threaded_fan_out", shape)
}

func (s *ApplicationSuite) TestStepWithoutStimulusStalls() {
	app := s.newApp(s.config(true))
	forward[int32](app.Root(), "A", "in", nil)
	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))

	err := app.Step(s.ctx)
	s.Require().Error(err)
	s.True(errors.IsStall(err))
	s.False(app.CanStep())
}

func (s *ApplicationSuite) TestStepOutsideTestableMode() {
	app := s.newApp(s.config(false))
	err := app.Step(s.ctx)
	s.ErrorIs(err, errors.ErrNotTestable)
}

func (s *ApplicationSuite) TestDuplicateFeederIsFatal() {
	app := s.newApp(s.config(false))
	a := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "A", Main: idle})
	b := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "B", Main: idle})
	engine.NewOutput[int32](a, "/shared/v")
	engine.NewOutput[int32](b, "/shared/v")

	err := app.Initialise()
	s.Require().Error(err)
	s.ErrorIs(err, errors.ErrDuplicateFeeder)
	s.True(errors.IsFatal(err))
	s.Equal("errors", app.Report().Status)
	s.Equal(engine.StateFailed, app.State())
}

func (s *ApplicationSuite) TestTypeMismatchIsFatal() {
	app := s.newApp(s.config(false))
	a := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "A", Main: idle})
	b := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "B", Main: idle})
	engine.NewOutput[int32](a, "v")
	engine.NewPushInput[string](b, "/A/v")

	err := app.Initialise()
	s.ErrorIs(err, errors.ErrTypeMismatch)
}

func (s *ApplicationSuite) TestModuleWithoutMainIsFatal() {
	app := s.newApp(s.config(false))
	engine.NewModule(app.Root(), engine.ModuleSpec{Name: "A"})
	s.ErrorIs(app.Initialise(), errors.ErrInvalidConfig)
}

func (s *ApplicationSuite) TestPollRegisterWithoutTriggerFails() {
	cfg := s.config(false)
	cfg.Devices = map[string]config.DeviceConfig{
		"dev": {Backend: "dummy", Registers: []config.RegisterConfig{
			{Name: "R", Path: "/M/r", Direction: config.DirectionRead, Initial: 1.5},
		}},
	}
	app := s.newApp(cfg)
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: idle})
	engine.NewPushInput[float64](m, "r")

	err := app.Initialise()
	s.Require().Error(err)
	s.ErrorIs(err, errors.ErrMissingTrigger)
}

func (s *ApplicationSuite) TestPolledRegisterWithTwoConsumersNeedsTrigger() {
	cfg := s.config(false)
	cfg.Devices = map[string]config.DeviceConfig{
		"dev": {Backend: "dummy", Registers: []config.RegisterConfig{
			{Name: "R", Path: "/M/r", Direction: config.DirectionRead},
		}},
	}
	app := s.newApp(cfg)
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: idle})
	n := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "N", Main: idle})
	engine.NewPollInput[float64](m, "r")
	engine.NewPollInput[float64](n, "/M/r")

	s.ErrorIs(app.Initialise(), errors.ErrMissingTrigger)
}

func (s *ApplicationSuite) TestPollInputReadsRegister() {
	cfg := s.config(false)
	cfg.Devices = map[string]config.DeviceConfig{
		"dev": {Backend: "dummy", Registers: []config.RegisterConfig{
			{Name: "R", Path: "/M/r", Direction: config.DirectionRead, Initial: 1.5},
		}},
	}
	app := s.newApp(cfg)
	got := make(chan float64, 1)
	var in *engine.PollInput[float64]
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: func(ctx context.Context, m *engine.Module) error {
		if err := in.Read(ctx); err != nil {
			return err
		}
		got <- in.Get()
		return idle(ctx, m)
	}})
	in = engine.NewPollInput[float64](m, "r")

	s.Require().NoError(app.Start(s.ctx))
	select {
	case v := <-got:
		s.Equal(1.5, v)
	case <-s.ctx.Done():
		s.Fail("poll input never read")
	}
}

// triggeredDevice builds a clock module driving the poll of register R into module M.
func (s *ApplicationSuite) triggeredDevice(testable bool) (*engine.Application, *engine.Module) {
	cfg := s.config(testable)
	cfg.Devices = map[string]config.DeviceConfig{
		"dev": {Backend: "dummy", Registers: []config.RegisterConfig{
			{Name: "R", Path: "/M/r", Direction: config.DirectionRead, Trigger: "/Clock/out", Initial: 2.5},
		}},
	}
	app := s.newApp(cfg)
	forward[int32](app.Root(), "Clock", "tick", nil)
	m := forward[float64](app.Root(), "M", "r", nil)
	return app, m
}

func (s *ApplicationSuite) TestTriggeredRegister() {
	app, _ := s.triggeredDevice(true)
	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))

	s.Equal(2.5, s.read(app, "/M/out"))
	s.Equal(2.5, s.read(app, "/M/r"))

	shapes := map[string]string{}
	for _, n := range app.Report().Networks {
		shapes[n.Name] = n.Shape
	}
	s.Equal("trigger_fan_out", shapes["/Clock/out"])
	s.Equal("consuming_fan_out", shapes["/M/r"])
}

func (s *ApplicationSuite) TestReadFaultBecomesValidity() {
	app, m := s.triggeredDevice(true)
	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))

	dev, ok := app.Device("dev")
	s.Require().True(ok)
	dummy := dev.Backend().(*device.Dummy)

	dummy.FailReads(true)
	s.Require().NoError(app.Directory().Write(s.ctx, "/Clock/tick", int32(1)))
	s.Require().NoError(app.Step(s.ctx))

	u, err := app.Directory().Read(s.ctx, "/M/out")
	s.Require().NoError(err)
	s.Equal(validity.Faulty, u.Validity)
	s.Equal(2.5, u.Value, "the last value stays visible")
	s.Equal(int64(1), m.FaultCount())

	dummy.FailReads(false)
	s.Require().Eventually(func() bool { return !dev.Faulted() }, 5*time.Second, 5*time.Millisecond)
	dummy.Set("R", 3.5)
	s.Require().NoError(app.Directory().Write(s.ctx, "/Clock/tick", int32(2)))
	s.Require().NoError(app.Step(s.ctx))

	u, err = app.Directory().Read(s.ctx, "/M/out")
	s.Require().NoError(err)
	s.Equal(validity.OK, u.Validity)
	s.Equal(3.5, u.Value)
	s.Equal(int64(0), m.FaultCount())
	s.Equal(validity.OK, m.Validity())
}

func (s *ApplicationSuite) TestFaultCounterNetsZero() {
	app := s.newApp(s.config(true))
	var in *engine.PushInput[int32]
	var out *engine.Output[int32]
	f := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "F", Main: func(ctx context.Context, _ *engine.Module) error {
		for {
			if err := in.Read(ctx); err != nil {
				return err
			}
			out.SetFaulty(in.Get() < 0)
			if err := out.WriteValue(ctx, in.Get()); err != nil {
				return err
			}
		}
	}})
	in = engine.NewPushInput[int32](f, "in")
	out = engine.NewOutput[int32](f, "out")
	m := forward[int32](app.Root(), "M", "/F/out", nil)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal(int64(0), m.FaultCount())

	s.Require().NoError(app.Directory().Write(s.ctx, "/F/in", int32(-1)))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal(int64(1), m.FaultCount())
	s.Equal(validity.Faulty, m.Validity())

	s.Require().NoError(app.Directory().Write(s.ctx, "/F/in", int32(4)))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal(int64(0), m.FaultCount())
	s.Equal(validity.OK, m.Validity())
}

// cycleApp builds A and B feeding each other, with X feeding A and Y feeding B from
// outside the loop. A only writes on external input so the loop settles.
func (s *ApplicationSuite) cycleApp() (*engine.Application, *engine.Module) {
	app := s.newApp(s.config(true))

	faulty := func(name string) {
		var in *engine.PushInput[int32]
		var out *engine.Output[int32]
		m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: name, Main: func(ctx context.Context, _ *engine.Module) error {
			for {
				if err := in.Read(ctx); err != nil {
					return err
				}
				out.SetFaulty(in.Get() != 0)
				if err := out.Write(ctx); err != nil {
					return err
				}
			}
		}})
		in = engine.NewPushInput[int32](m, "in")
		out = engine.NewOutput[int32](m, "out")
	}
	faulty("X")
	faulty("Y")

	member := func(name, ext, peer string, answerPeer bool) *engine.Module {
		var extIn, peerIn *engine.PushInput[int32]
		var out *engine.Output[int32]
		m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: name, Main: func(ctx context.Context, _ *engine.Module) error {
			group, err := engine.NewReadGroup(extIn, peerIn)
			if err != nil {
				return err
			}
			for {
				got, err := group.ReadAny(ctx)
				if err != nil {
					return err
				}
				if got == engine.Readable(peerIn) && !answerPeer {
					continue
				}
				if err := out.Write(ctx); err != nil {
					return err
				}
			}
		}})
		extIn = engine.NewPushInput[int32](m, ext)
		peerIn = engine.NewPushInput[int32](m, peer)
		out = engine.NewOutput[int32](m, "out")
		return m
	}
	a := member("A", "/X/out", "/B/out", false)
	member("B", "/Y/out", "/A/out", true)
	return app, a
}

func (s *ApplicationSuite) TestCycleInvalidityCountsExternalFaults() {
	app, a := s.cycleApp()
	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))

	cycle := app.Cycles().Of(a.Path())
	s.Require().NotNil(cycle)
	s.ElementsMatch([]string{"/A", "/B"}, cycle.Owners())
	s.Equal(int64(0), cycle.Invalidity())

	steps := []struct {
		variable string
		value    int32
		want     int64
	}{
		{"/X/in", 1, 1},
		{"/Y/in", 1, 2},
		{"/X/in", 1, 2}, // still faulty, no transition
		{"/X/in", 0, 1},
		{"/Y/in", 0, 0},
	}
	for _, st := range steps {
		s.Require().NoError(app.Directory().Write(s.ctx, st.variable, st.value))
		s.Require().NoError(app.Step(s.ctx))
		s.Equal(st.want, cycle.Invalidity(), "after %s=%d", st.variable, st.value)
	}
	s.Len(app.Report().Cycles, 1)
}

func (s *ApplicationSuite) TestDirectPipeRoundTrip() {
	cfg := s.config(false)
	cfg.Engine.PublishTag = "published"
	app := s.newApp(cfg)

	written := make(chan validity.Version, 1)
	var out *engine.Output[string]
	p := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "P", Main: func(ctx context.Context, m *engine.Module) error {
		if err := out.WriteValue(ctx, "payload"); err != nil {
			return err
		}
		written <- out.Version()
		return idle(ctx, m)
	}})
	out = engine.NewOutput[string](p, "v")

	type delivery struct {
		value   string
		version validity.Version
	}
	received := make(chan delivery, 1)
	var in *engine.PushInput[string]
	q := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "Q", Main: func(ctx context.Context, m *engine.Module) error {
		if err := in.Read(ctx); err != nil {
			return err
		}
		received <- delivery{in.Get(), in.Version()}
		return idle(ctx, m)
	}})
	in = engine.NewPushInput[string](q, "/P/v")

	s.Require().NoError(app.Start(s.ctx))
	version := <-written
	got := <-received
	s.Equal("payload", got.value)
	s.GreaterOrEqual(got.version, version)

	s.Require().Len(app.Report().Networks, 1)
	s.Equal("direct_pipe", app.Report().Networks[0].Shape)
	s.Empty(app.Directory().Variables())
}

func (s *ApplicationSuite) TestFanOutDeliversInOrderToSlowConsumer() {
	cfg := s.config(false)
	cfg.Engine.QueueLength = 100
	cfg.Engine.PublishTag = "published"
	app := s.newApp(cfg)

	const n = 50
	var out *engine.Output[int]
	p := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "P", Main: func(ctx context.Context, m *engine.Module) error {
		for i := 1; i <= n; i++ {
			if err := out.WriteValue(ctx, i); err != nil {
				return err
			}
		}
		return idle(ctx, m)
	}})
	out = engine.NewOutput[int](p, "v")

	consumer := func(name string, delay time.Duration, seen *recorder[int]) {
		var in *engine.PushInput[int]
		m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: name, Main: func(ctx context.Context, _ *engine.Module) error {
			for {
				if err := in.Read(ctx); err != nil {
					return err
				}
				seen.add(in.Get())
				time.Sleep(delay)
			}
		}})
		in = engine.NewPushInput[int](m, "/P/v")
	}
	var fast, slow recorder[int]
	consumer("Fast", 0, &fast)
	consumer("Slow", time.Millisecond, &slow)

	s.Require().NoError(app.Start(s.ctx))
	want := make([]int, n)
	for i := range want {
		want[i] = i + 1
	}
	s.Eventually(func() bool { return len(slow.get()) == n && len(fast.get()) == n }, 10*time.Second, 5*time.Millisecond)
	s.Equal(want, fast.get())
	s.Equal(want, slow.get())
	s.Zero(app.DataLossCounter())
}

func (s *ApplicationSuite) TestDataLossCounter() {
	cfg := s.config(false)
	cfg.Engine.QueueLength = 2
	cfg.Engine.PublishTag = "published"
	app := s.newApp(cfg)

	sent := make(chan struct{})
	var out *engine.Output[int]
	p := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "P", Main: func(ctx context.Context, m *engine.Module) error {
		for i := 1; i <= 10; i++ {
			if err := out.WriteValue(ctx, i); err != nil {
				return err
			}
		}
		close(sent)
		return idle(ctx, m)
	}})
	out = engine.NewOutput[int](p, "v")

	latest := make(chan int, 1)
	var in *engine.PushInput[int]
	c := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "C", Main: func(ctx context.Context, m *engine.Module) error {
		select {
		case <-sent:
		case <-ctx.Done():
			return nil
		}
		if _, err := in.ReadLatest(); err != nil {
			return err
		}
		latest <- in.Get()
		return idle(ctx, m)
	}})
	in = engine.NewPushInput[int](c, "/P/v")

	s.Require().NoError(app.Start(s.ctx))
	s.Equal(10, <-latest)
	s.Equal(uint64(8), app.GetAndResetDataLossCounter())
	s.Zero(app.DataLossCounter())
}

func (s *ApplicationSuite) TestWriteBack() {
	app := s.newApp(s.config(true))
	var limit *engine.PushInputWB[int32]
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: func(ctx context.Context, _ *engine.Module) error {
		for {
			if err := limit.Read(ctx); err != nil {
				return err
			}
			if limit.Get() > 10 {
				limit.Set(10)
				if err := limit.WriteBack(ctx); err != nil {
					return err
				}
			}
		}
	}})
	limit = engine.NewPushInputWB[int32](m, "limit")

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Require().NoError(app.Directory().Write(s.ctx, "/M/limit", int32(42)))
	s.Require().NoError(app.Step(s.ctx))

	s.Equal(int32(10), s.read(app, "/M/limit"))
	s.Equal(int64(0), m.FaultCount())
}

func (s *ApplicationSuite) TestWriteBackNeedsFeederWithReturnChannel() {
	app := s.newApp(s.config(false))
	a := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "A", Main: idle})
	b := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "B", Main: idle})
	out := engine.NewOutput[int32](a, "v")
	in := engine.NewPushInputWB[int32](b, "v")
	app.Connect(out, in)

	s.ErrorIs(app.Initialise(), errors.ErrIllegalNetwork)
}

func (s *ApplicationSuite) TestWriteBackToModuleOutput() {
	const cmPerInch = 2.54
	cfg := s.config(true)
	cfg.Engine.PublishTag = "published"
	app := s.newApp(cfg)

	// Ruler proposes a length in inches, Cutter works in centimeters and caps it at 20.
	var length *engine.OutputRB[float64]
	var corrected recorder[float64]
	ruler := engine.NewModule(app.Root(), engine.ModuleSpec{
		Name: "Ruler",
		Prepare: func(ctx context.Context, _ *engine.Module) error {
			return length.WriteValue(ctx, 10)
		},
		Main: func(ctx context.Context, _ *engine.Module) error {
			group, err := engine.NewReadGroup(length)
			if err != nil {
				return err
			}
			for {
				in, err := group.ReadAny(ctx)
				if err != nil {
					return err
				}
				if in == engine.Readable(length) {
					corrected.add(length.Get())
				}
			}
		},
	})
	length = engine.NewOutputRB[float64](ruler, "length")

	var seen recorder[float64]
	var cut *engine.PushInputWB[float64]
	cutter := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "Cutter", Main: func(ctx context.Context, _ *engine.Module) error {
		for {
			if err := cut.Read(ctx); err != nil {
				return err
			}
			cm := cut.Get() * cmPerInch
			seen.add(cm)
			if cm > 20 {
				cut.Set(20 / cmPerInch)
				if err := cut.WriteBack(ctx); err != nil {
					return err
				}
			}
		}
	}})
	cut = engine.NewPushInputWB[float64](cutter, "/Ruler/length")

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))

	s.Require().Len(seen.get(), 1)
	s.InDelta(25.4, seen.get()[0], 1e-9)
	s.Require().Len(corrected.get(), 1)
	s.InDelta(20/cmPerInch, corrected.get()[0], 1e-9)
	s.Equal(validity.OK, length.Validity())
	s.Zero(ruler.FaultCount())
	s.Zero(cutter.FaultCount())

	s.Require().Len(app.Report().Networks, 1)
	s.Equal("direct_pipe", app.Report().Networks[0].Shape)
	s.False(app.CanStep())
}

func (s *ApplicationSuite) TestWatchdogIgnoresModulesPastTheirFirstValue() {
	cfg := s.config(false)
	cfg.Watchdog.Interval = config.Duration(10 * time.Millisecond)
	cfg.Watchdog.StallAfter = config.Duration(100 * time.Millisecond)
	monitor := health.NewMonitor()
	app, err := engine.New(cfg, engine.WithHealthMonitor(monitor))
	s.Require().NoError(err)
	s.T().Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})

	var in *engine.PushInput[int32]
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: func(ctx context.Context, _ *engine.Module) error {
		// the constant arrives once, so take it without blocking
		for {
			ok, err := in.ReadNonBlocking()
			if err != nil {
				return err
			}
			if ok {
				break
			}
			time.Sleep(time.Millisecond)
		}
		return in.Read(ctx)
	}})
	in = engine.NewPushInput[int32](m, "c")

	s.Require().NoError(app.Start(s.ctx))
	s.Require().Eventually(func() bool { return len(app.Watchdog().Waiters()) == 1 },
		5*time.Second, 5*time.Millisecond)
	s.False(app.Watchdog().Waiters()[0].Initial)

	time.Sleep(300 * time.Millisecond)
	if st, ok := monitor.Get("/M"); ok {
		s.False(st.IsDegraded(), st.Message)
	}
	s.Empty(app.Watchdog().Check())
}

func (s *ApplicationSuite) TestConstantFeeder() {
	cfg := s.config(true)
	cfg.Engine.PublishTag = "published"
	app := s.newApp(cfg)
	var seen recorder[int32]
	forward(app.Root(), "M", "c", &seen)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]int32{0}, seen.get())

	var kinds []string
	for _, w := range app.Report().Warnings {
		kinds = append(kinds, w.Type)
	}
	s.Contains(kinds, "constant_feeder")
	s.Contains(kinds, "discarded_output")
	s.Equal("warnings", app.Report().Status)
}

func (s *ApplicationSuite) TestPrepareWritesInitialValues() {
	app := s.newApp(s.config(true))
	var out *engine.Output[int32]
	p := engine.NewModule(app.Root(), engine.ModuleSpec{
		Name: "P",
		Prepare: func(ctx context.Context, _ *engine.Module) error {
			return out.WriteValue(ctx, 7)
		},
		Main: idle,
	})
	out = engine.NewOutput[int32](p, "v")
	var seen recorder[int32]
	forward(app.Root(), "Q", "/P/v", &seen)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]int32{7}, seen.get())
	s.Equal(int32(7), s.read(app, "/P/v"))
}

func (s *ApplicationSuite) TestConnectTo() {
	app := s.newApp(s.config(true))
	src := forward[int32](app.Root(), "Src", "in", nil)
	var seen recorder[int32]
	var in *engine.PushInput[int32]
	dst := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "Dst", Main: func(ctx context.Context, _ *engine.Module) error {
		for {
			if err := in.Read(ctx); err != nil {
				return err
			}
			seen.add(in.Get())
		}
	}})
	in = engine.NewPushInput[int32](dst, "out")
	app.ConnectTo(src, dst)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Require().NoError(app.Directory().Write(s.ctx, "/Src/in", int32(5)))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]int32{0, 5}, seen.get())

	_, published := app.Directory().Lookup("/Src/out")
	s.False(published, "explicit networks are not published")
}

func (s *ApplicationSuite) TestHiddenGroupJoinsByVirtualName() {
	app := s.newApp(s.config(true))
	hidden := engine.NewGroup(app.Root(), engine.GroupSpec{Name: "Internal", Modifier: hierarchy.HideThis})
	forward[int32](hidden, "A", "in", nil)
	var seen recorder[int32]
	forward(app.Root(), "B", "/A/out", &seen)

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Require().NoError(app.Directory().Write(s.ctx, "/A/in", int32(9)))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]int32{0, 9}, seen.get())

	_, ok := app.Directory().Lookup("/A/out")
	s.True(ok)
}

func (s *ApplicationSuite) TestReadAnyRoundRobin() {
	app := s.newApp(s.config(true))
	var names recorder[string]
	var a, b *engine.PushInput[int32]
	m := engine.NewModule(app.Root(), engine.ModuleSpec{Name: "M", Main: func(ctx context.Context, _ *engine.Module) error {
		group, err := engine.NewReadGroup(a, b)
		if err != nil {
			return err
		}
		for {
			got, err := group.ReadAny(ctx)
			if err != nil {
				return err
			}
			names.add(got.Name())
		}
	}})
	a = engine.NewPushInput[int32](m, "a")
	b = engine.NewPushInput[int32](m, "b")

	s.Require().NoError(app.Start(s.ctx))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]string{"a", "b"}, names.get())

	s.Require().NoError(app.Directory().Write(s.ctx, "/M/b", int32(3)))
	s.Require().NoError(app.Step(s.ctx))
	s.Equal([]string{"a", "b", "b"}, names.get())
	s.Equal(int32(3), b.Get())
}

func (s *ApplicationSuite) TestDeviceStatusGroup() {
	cfg := s.config(false)
	cfg.Devices = map[string]config.DeviceConfig{
		"pump": {Backend: "dummy", Registers: []config.RegisterConfig{
			{Name: "SPEED", Path: "/Pump/speed", Direction: config.DirectionWrite},
		}},
	}
	app := s.newApp(cfg)
	s.Require().NoError(app.Start(s.ctx))

	status := func() (int32, string) {
		st, err := app.Directory().Read(s.ctx, engine.StatusPath("pump"))
		s.Require().NoError(err)
		msg, err := app.Directory().Read(s.ctx, engine.MessagePath("pump"))
		s.Require().NoError(err)
		code, _ := st.Value.(int32)
		text, _ := msg.Value.(string)
		return code, text
	}
	s.Eventually(func() bool { code, _ := status(); return code == 0 }, 5*time.Second, 5*time.Millisecond)

	dev, ok := app.Device("pump")
	s.Require().True(ok)
	dummy := dev.Backend().(*device.Dummy)
	dummy.FailOpen(true)
	dev.ReportException(stderrors.New("pump tripped"))
	s.Eventually(func() bool {
		code, msg := status()
		return code == 1 && msg != ""
	}, 5*time.Second, 5*time.Millisecond)

	dummy.FailOpen(false)
	s.Eventually(func() bool { code, _ := status(); return code == 0 }, 5*time.Second, 5*time.Millisecond)

	// operator writes reach the write register
	s.Require().NoError(app.Directory().Write(s.ctx, "/Pump/speed", 12.5))
	s.Eventually(func() bool {
		v, _ := dummy.Get("SPEED")
		return v == 12.5
	}, 5*time.Second, 5*time.Millisecond)
}

func (s *ApplicationSuite) TestShutdownUnblocksModules() {
	app := s.newApp(s.config(false))
	forward[int32](app.Root(), "A", "in", nil)
	s.Require().NoError(app.Start(s.ctx))

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	s.Require().NoError(app.Shutdown(ctx))
	s.NoError(app.Wait())
	s.Equal(engine.StateStopped, app.State())
}

func (s *ApplicationSuite) TestModuleFailureStopsApplication() {
	app := s.newApp(s.config(false))
	boom := stderrors.New("boom")
	engine.NewModule(app.Root(), engine.ModuleSpec{Name: "A", Main: func(context.Context, *engine.Module) error {
		return boom
	}})
	forward[int32](app.Root(), "B", "in", nil)

	err := app.Run(s.ctx)
	s.Require().Error(err)
	s.ErrorIs(err, boom)
}

func (s *ApplicationSuite) TestHierarchyIsFixedAfterInitialise() {
	app := s.newApp(s.config(false))
	forward[int32](app.Root(), "A", "in", nil)
	s.Require().NoError(app.Initialise())

	s.ErrorIs(app.Initialise(), errors.ErrAlreadyStarted)
	s.ErrorIs(app.EnableTestableMode(), errors.ErrAlreadyStarted)
	s.ErrorIs(app.AddDevice("late", device.NewDummy(nil)), errors.ErrAlreadyStarted)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.QueueLength = 0
	_, err := engine.New(cfg)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err) || errors.IsFatal(err))
}

func TestNew_NATSDirectoryNeedsBridge(t *testing.T) {
	cfg := config.Default()
	cfg.Directory.Kind = config.DirectoryNATS
	_, err := engine.New(cfg)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", engine.StateRunning.String())
	assert.Equal(t, "unknown", engine.State(42).String())
}

// idle ends a main loop with nothing more to read.
func idle(ctx context.Context, m *engine.Module) error {
	return m.Idle(ctx)
}
