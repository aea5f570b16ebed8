package engine

import (
	"context"
	"reflect"

	"github.com/c360/varnet/device"
	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/network"
	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// EndpointOption configures an accessor.
type EndpointOption func(*endpointSpec)

type endpointSpec struct {
	unit        string
	description string
	tags        []string
}

// WithUnit sets the engineering unit.
func WithUnit(unit string) EndpointOption {
	return func(s *endpointSpec) { s.unit = unit }
}

// WithDescription sets the description.
func WithDescription(desc string) EndpointOption {
	return func(s *endpointSpec) { s.description = desc }
}

// WithTags adds tags. Tags select endpoints for publication and views.
func WithTags(tags ...string) EndpointOption {
	return func(s *endpointSpec) { s.tags = append(s.tags, tags...) }
}

// endpoint is the type-erased state behind an accessor.
type endpoint struct {
	owner  *ownerBase
	module *Module
	id     hierarchy.EndpointID
	name   string
	typ    reflect.Type
	node   *network.Node
	// explicit endpoints are wired by Connect and skipped by the by-name pass
	explicit bool

	// virtual name, set during assembly
	public string

	// inputs
	queue  *transport.Queue
	prop   *validity.InputPropagator
	device *device.Device
	back   *transport.DirectPipe

	// outputs
	writer       transport.Writer
	mayBlock     bool
	lastVersion  validity.Version
	lastValidity validity.Validity
}

func newEndpoint(o Owner, name string, dir network.Direction, mode network.Mode, typ reflect.Type,
	returnChannel bool, opts []EndpointOption) *endpoint {
	var spec endpointSpec
	for _, opt := range opts {
		opt(&spec)
	}
	b := o.base()
	ep := &endpoint{owner: b, module: b.module, name: name, typ: typ, id: -1}
	ep.node = &network.Node{
		Name:          name,
		Direction:     dir,
		Mode:          mode,
		Kind:          network.Application,
		Type:          typ,
		Unit:          spec.unit,
		Description:   spec.description,
		Tags:          spec.tags,
		ReturnChannel: returnChannel,
		Payload:       ep,
	}
	b.app.register(b, ep, hierarchy.EndpointSpec{
		Name:        name,
		Description: spec.description,
		Tags:        spec.tags,
		Payload:     ep,
	})
	return ep
}

func (e *endpoint) app() *Application { return e.owner.app }

// variable is the name used in scheduler, watchdog and loss reports.
func (e *endpoint) variable() string {
	if e.public != "" {
		return e.public
	}
	return hierarchy.Join(e.owner.Path(), e.name)
}

func (e *endpoint) checkRealized(method string) error {
	if e.queue == nil && e.writer == nil {
		return errors.WrapInvalid(errors.ErrNotStarted, "Accessor", method, e.variable())
	}
	return nil
}

// receive waits for the next pushed value. The module lock is released while waiting.
func (e *endpoint) receive(ctx context.Context) (transport.Sample, error) {
	if err := e.checkRealized("Read"); err != nil {
		return transport.Sample{}, err
	}
	if s, done, ok := e.queue.TryTake(); ok {
		e.received(s, true)
		done()
		return s, nil
	}

	a := e.app()
	e.module.unlock()
	a.watchdog.RegisterWait(e.module.Path(), e.variable())
	s, done, err := e.queue.Take(ctx)
	a.watchdog.UnregisterWait(e.module.Path())
	lockErr := e.module.lock(ctx)
	if err == nil {
		e.received(s, true)
	}
	done()
	if err != nil {
		return transport.Sample{}, err
	}
	return s, lockErr
}

// tryReceive takes the next pushed value without waiting.
func (e *endpoint) tryReceive() (transport.Sample, bool, error) {
	if err := e.checkRealized("ReadNonBlocking"); err != nil {
		return transport.Sample{}, false, err
	}
	s, done, ok := e.queue.TryTake()
	if ok {
		e.received(s, true)
	}
	done()
	return s, ok, nil
}

// latest drains pushed values and returns the newest.
func (e *endpoint) latest() (transport.Sample, bool, error) {
	s, ok, err := e.tryReceive()
	if err != nil || !ok {
		return s, false, err
	}
	for {
		next, more, _ := e.tryReceive()
		if !more {
			return s, true, nil
		}
		s = next
	}
}

// poll reads the current value of a poll input.
func (e *endpoint) poll(ctx context.Context) (transport.Sample, bool, error) {
	if err := e.checkRealized("Read"); err != nil {
		return transport.Sample{}, false, err
	}
	if e.device != nil {
		select {
		case <-e.device.Ready():
		default:
			e.module.unlock()
			err := e.device.WaitReady(ctx)
			if lockErr := e.module.lock(ctx); err == nil {
				err = lockErr
			}
			if err != nil {
				return transport.Sample{}, false, err
			}
		}
	}
	s, updated, err := e.queue.Poll(ctx)
	if err != nil {
		return transport.Sample{}, false, err
	}
	if updated {
		e.received(s, false)
	}
	return s, updated, nil
}

func (e *endpoint) received(s transport.Sample, push bool) {
	e.prop.Received(s.Version, s.Validity, push)
	if push && e.module != nil {
		e.app().watchdog.Completed(e.module.Path())
	}
}

// send writes value stamped with the module's token. The module lock is released when
// the write may wait for queue space.
func (e *endpoint) send(ctx context.Context, value any, faulty bool) error {
	if err := e.checkRealized("Write"); err != nil {
		return err
	}
	st := e.module.state
	version := st.Version()
	if version <= e.lastVersion {
		version = e.app().clock.Next()
		st.SetVersion(version)
	}
	s := transport.Sample{Value: value, Version: version, Validity: validity.Outgoing(st, faulty)}
	e.lastVersion, e.lastValidity = version, s.Validity

	if !e.mayBlock {
		return e.writer.Write(ctx, s)
	}
	e.module.unlock()
	err := e.writer.Write(ctx, s)
	if lockErr := e.module.lock(ctx); err == nil {
		err = lockErr
	}
	return err
}

// sendBack writes value through the return channel. Failures never change validity.
func (e *endpoint) sendBack(ctx context.Context, value any) error {
	if e.back == nil {
		return errors.WrapInvalid(errors.ErrNotWritable, "Accessor", "WriteBack", e.variable())
	}
	s := transport.Sample{Value: value, Version: e.app().clock.Next(), Validity: validity.OK}
	e.module.state.SetVersion(s.Version)
	return e.back.WriteBack(ctx, s)
}

// convert turns a delivered value into T, the zero value when it does not convert.
func convert[T any](v any) T {
	var zero T
	if t, ok := v.(T); ok {
		return t
	}
	c, err := directory.Convert(v, reflect.TypeFor[T]())
	if err != nil {
		return zero
	}
	t, _ := c.(T)
	return t
}
