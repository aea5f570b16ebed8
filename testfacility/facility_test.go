package testfacility_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/engine"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/testfacility"
	"github.com/c360/varnet/validity"
)

// doubler builds a module writing twice its input to "out".
func doubler(parent engine.Owner, name string) *engine.Module {
	var in *engine.PushInput[float64]
	var out *engine.Output[float64]
	m := engine.NewModule(parent, engine.ModuleSpec{
		Name: name,
		Main: func(ctx context.Context, _ *engine.Module) error {
			for {
				if err := in.Read(ctx); err != nil {
					return err
				}
				if err := out.WriteValue(ctx, 2*in.Get()); err != nil {
					return err
				}
			}
		},
	})
	in = engine.NewPushInput[float64](m, "in")
	out = engine.NewOutput[float64](m, "out")
	return m
}

type FacilitySuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	app    *engine.Application
	f      *testfacility.Facility
}

func TestFacilitySuite(t *testing.T) {
	suite.Run(t, new(FacilitySuite))
}

func (s *FacilitySuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 20*time.Second)

	cfg := config.Default()
	cfg.Application.Name = "facility"
	cfg.Testable.StallAttempts = 50
	app, err := engine.New(cfg)
	s.Require().NoError(err)
	doubler(app.Root(), "Doubler")
	s.app = app

	s.f, err = testfacility.New(app)
	s.Require().NoError(err)
}

func (s *FacilitySuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.f.Shutdown(ctx)
	s.cancel()
}

func (s *FacilitySuite) TestDefaultsPropagateOnRun() {
	s.Require().NoError(s.f.SetDefault("/Doubler/in", 2.0))
	s.Require().NoError(s.f.RunApplication(s.ctx))

	out, err := testfacility.ReadScalar[float64](s.ctx, s.f, "/Doubler/out")
	s.Require().NoError(err)
	s.Equal(4.0, out)

	// the run drained the queue but kept the value
	h, err := testfacility.GetScalar[float64](s.f, "/Doubler/out")
	s.Require().NoError(err)
	s.False(h.ReadNonBlocking())
	s.Equal(4.0, h.Get())
	s.Equal(validity.OK, h.Validity())
}

func (s *FacilitySuite) TestWriteStepRead() {
	s.Require().NoError(s.f.RunApplication(s.ctx))

	in, err := testfacility.GetScalar[float64](s.f, "/Doubler/in")
	s.Require().NoError(err)
	out, err := testfacility.GetScalar[float64](s.f, "/Doubler/out")
	s.Require().NoError(err)

	for _, v := range []float64{1, 2, 3} {
		in.Set(v)
		s.Require().NoError(in.Write(s.ctx))
		s.Require().NoError(s.f.StepApplication(s.ctx))
	}

	var got []float64
	for out.ReadNonBlocking() {
		got = append(got, out.Get())
	}
	s.Equal([]float64{2, 4, 6}, got)
	s.Positive(out.Version())
}

func (s *FacilitySuite) TestReadLatestSkipsOlderValues() {
	s.Require().NoError(s.f.RunApplication(s.ctx))
	out, err := testfacility.GetScalar[float64](s.f, "/Doubler/out")
	s.Require().NoError(err)

	for _, v := range []float64{5, 6} {
		s.Require().NoError(testfacility.WriteScalar(s.ctx, s.f, "/Doubler/in", v))
		s.Require().NoError(s.f.StepApplication(s.ctx))
	}
	s.True(out.ReadLatest())
	s.Equal(12.0, out.Get())
	s.False(out.ReadLatest())
}

func (s *FacilitySuite) TestReadStepsPendingWork() {
	s.Require().NoError(s.f.RunApplication(s.ctx))
	out, err := testfacility.GetScalar[float64](s.f, "/Doubler/out")
	s.Require().NoError(err)

	s.Require().NoError(testfacility.WriteScalar(s.ctx, s.f, "/Doubler/in", 7.0))
	s.True(s.f.CanStep())
	s.Require().NoError(out.Read(s.ctx))
	s.Equal(14.0, out.Get())

	err = out.Read(s.ctx)
	s.ErrorIs(err, errors.ErrNoValue)
}

func (s *FacilitySuite) TestHandleChecks() {
	s.Require().NoError(s.f.RunApplication(s.ctx))

	_, err := testfacility.GetScalar[string](s.f, "/Doubler/out")
	s.ErrorIs(err, errors.ErrTypeMismatch)

	_, err = testfacility.GetScalar[float64](s.f, "/Nobody/here")
	s.ErrorIs(err, errors.ErrUnknownVariable)

	out, err := testfacility.GetScalar[float64](s.f, "/Doubler/out")
	s.Require().NoError(err)
	s.ErrorIs(out.Write(s.ctx), errors.ErrNotWritable)
}

func (s *FacilitySuite) TestDefaultForUnknownVariableFails() {
	s.Require().NoError(s.f.SetDefault("/Doubler/missing", 1.0))
	err := s.f.RunApplication(s.ctx)
	s.ErrorIs(err, errors.ErrUnknownVariable)
}

func (s *FacilitySuite) TestFailedRunCanBeRetried() {
	s.Require().NoError(s.f.SetDefault("/Doubler/missing", 1.0))
	s.Require().ErrorIs(s.f.RunApplication(s.ctx), errors.ErrUnknownVariable)

	s.NoError(s.f.SetDefault("/Doubler/in", 3.0))
	s.ErrorIs(s.f.StepApplication(s.ctx), errors.ErrNotStarted)
	err := s.f.RunApplication(s.ctx)
	s.ErrorIs(err, errors.ErrUnknownVariable)
	s.NotErrorIs(err, errors.ErrAlreadyStarted)
}

func (s *FacilitySuite) TestDefaultForReadOnlyVariableFails() {
	s.Require().NoError(s.f.SetDefault("/Doubler/out", 1.0))
	err := s.f.RunApplication(s.ctx)
	s.ErrorIs(err, errors.ErrNotWritable)
}

func (s *FacilitySuite) TestLifecycleChecks() {
	s.ErrorIs(s.f.StepApplication(s.ctx), errors.ErrNotStarted)
	s.Error(s.f.SetDefault("relative", 1.0))

	s.Require().NoError(s.f.RunApplication(s.ctx))
	s.ErrorIs(s.f.SetDefault("/Doubler/in", 1.0), errors.ErrAlreadyStarted)
	s.ErrorIs(s.f.RunApplication(s.ctx), errors.ErrAlreadyStarted)

	_, err := testfacility.New(s.app)
	s.ErrorIs(err, errors.ErrAlreadyStarted)
}
