package engine

import (
	"context"
	"reflect"

	"github.com/c360/varnet/network"
	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// Readable is an accessor a module reads from.
type Readable interface {
	Name() string
	// Read waits for the next value of a push input, or fetches the current value of a
	// poll input.
	Read(ctx context.Context) error
	// ReadNonBlocking takes the next value if there is one.
	ReadNonBlocking() (bool, error)
	// ReadLatest discards queued values except the newest.
	ReadLatest() (bool, error)
	Validity() validity.Validity
	Version() validity.Version
	readable() *endpoint
}

// Writable is an accessor a module writes to.
type Writable interface {
	Name() string
	Write(ctx context.Context) error
	writable() *endpoint
}

// HasReturnChannel is an input that can write back to its feeder.
type HasReturnChannel interface {
	Readable
	WriteBack(ctx context.Context) error
}

// value holds the current value of an accessor and its metadata.
type value[T any] struct {
	ep       *endpoint
	current  T
	validity validity.Validity
	version  validity.Version
}

func (v *value[T]) set(s transport.Sample) {
	v.current = convert[T](s.Value)
	v.validity = s.Validity
	v.version = s.Version
}

// Name returns the name the accessor was created with.
func (v *value[T]) Name() string { return v.ep.name }

// Get returns the current value.
func (v *value[T]) Get() T { return v.current }

// Set changes the current value without transferring it.
func (v *value[T]) Set(x T) { v.current = x }

// Validity returns the validity of the current value.
func (v *value[T]) Validity() validity.Validity { return v.validity }

// Version returns the causality token of the current value.
func (v *value[T]) Version() validity.Version { return v.version }

// PublicName returns the name the variable is known by in the directory. It is set
// once the application is initialised.
func (v *value[T]) PublicName() string { return v.ep.public }

// PushInput receives every value its feeder writes, in order.
type PushInput[T any] struct {
	value[T]
}

// NewPushInput creates a push input on owner.
func NewPushInput[T any](o Owner, name string, opts ...EndpointOption) *PushInput[T] {
	in := &PushInput[T]{}
	in.ep = newEndpoint(o, name, network.Consuming, network.Push, reflect.TypeFor[T](), false, opts)
	return in
}

// Read waits for the next value.
func (in *PushInput[T]) Read(ctx context.Context) error {
	s, err := in.ep.receive(ctx)
	if err != nil {
		return err
	}
	in.set(s)
	return nil
}

// ReadNonBlocking takes the next value if one is queued.
func (in *PushInput[T]) ReadNonBlocking() (bool, error) {
	s, ok, err := in.ep.tryReceive()
	if ok {
		in.set(s)
	}
	return ok, err
}

// ReadLatest takes the newest queued value and discards older ones.
func (in *PushInput[T]) ReadLatest() (bool, error) {
	s, ok, err := in.ep.latest()
	if ok {
		in.set(s)
	}
	return ok, err
}

func (in *PushInput[T]) readable() *endpoint { return in.ep }

// PollInput reads the current value of its feeder on demand.
type PollInput[T any] struct {
	value[T]
}

// NewPollInput creates a poll input on owner.
func NewPollInput[T any](o Owner, name string, opts ...EndpointOption) *PollInput[T] {
	in := &PollInput[T]{}
	in.ep = newEndpoint(o, name, network.Consuming, network.Poll, reflect.TypeFor[T](), false, opts)
	return in
}

// Read fetches the current value. It only blocks while a device is initialising.
func (in *PollInput[T]) Read(ctx context.Context) error {
	s, updated, err := in.ep.poll(ctx)
	if err != nil {
		return err
	}
	if updated {
		in.set(s)
	}
	return nil
}

// ReadNonBlocking is Read for poll inputs, reporting whether the value changed.
func (in *PollInput[T]) ReadNonBlocking() (bool, error) {
	s, updated, err := in.ep.poll(context.Background())
	if updated {
		in.set(s)
	}
	return updated, err
}

// ReadLatest is ReadNonBlocking.
func (in *PollInput[T]) ReadLatest() (bool, error) { return in.ReadNonBlocking() }

func (in *PollInput[T]) readable() *endpoint { return in.ep }

// Output is a push feeder.
type Output[T any] struct {
	value[T]
	faulty bool
}

// NewOutput creates an output on owner.
func NewOutput[T any](o Owner, name string, opts ...EndpointOption) *Output[T] {
	out := &Output[T]{}
	out.ep = newEndpoint(o, name, network.Feeding, network.Push, reflect.TypeFor[T](), false, opts)
	return out
}

// SetFaulty marks the following writes faulty regardless of the module's validity.
func (out *Output[T]) SetFaulty(faulty bool) { out.faulty = faulty }

// Write transfers the current value to every consumer. Version and Validity report
// what was sent.
func (out *Output[T]) Write(ctx context.Context) error {
	err := out.ep.send(ctx, out.current, out.faulty)
	out.version, out.validity = out.ep.lastVersion, out.ep.lastValidity
	return err
}

// WriteValue sets and writes x.
func (out *Output[T]) WriteValue(ctx context.Context, x T) error {
	out.Set(x)
	return out.Write(ctx)
}

// WriteIfDifferent writes x unless it equals the current value. The first call always
// writes.
func (out *Output[T]) WriteIfDifferent(ctx context.Context, x T) error {
	if out.ep.lastVersion != 0 && reflect.DeepEqual(out.current, x) {
		return nil
	}
	return out.WriteValue(ctx, x)
}

func (out *Output[T]) writable() *endpoint { return out.ep }

// PushInputWB is a push input whose value can be written back to the feeder, such as
// an operator setting the application corrects.
type PushInputWB[T any] struct {
	PushInput[T]
}

// NewPushInputWB creates a push input with return channel on owner.
func NewPushInputWB[T any](o Owner, name string, opts ...EndpointOption) *PushInputWB[T] {
	in := &PushInputWB[T]{}
	in.ep = newEndpoint(o, name, network.Consuming, network.Push, reflect.TypeFor[T](), true, opts)
	return in
}

// WriteBack sends the current value to the feeder. The input's own validity and the
// module's fault counter are not affected, even when the transfer fails.
func (in *PushInputWB[T]) WriteBack(ctx context.Context) error {
	return in.ep.sendBack(ctx, in.current)
}

// OutputRB is an output whose consumer can write values back, such as a setting a
// downstream module limits. Written-back values are read like a push input.
type OutputRB[T any] struct {
	Output[T]
}

// NewOutputRB creates an output with return channel on owner.
func NewOutputRB[T any](o Owner, name string, opts ...EndpointOption) *OutputRB[T] {
	out := &OutputRB[T]{}
	out.ep = newEndpoint(o, name, network.Feeding, network.Push, reflect.TypeFor[T](), true, opts)
	return out
}

// Read waits for the next written-back value.
func (out *OutputRB[T]) Read(ctx context.Context) error {
	s, err := out.ep.receive(ctx)
	if err != nil {
		return err
	}
	out.set(s)
	return nil
}

// ReadNonBlocking takes the next written-back value if one is queued.
func (out *OutputRB[T]) ReadNonBlocking() (bool, error) {
	s, ok, err := out.ep.tryReceive()
	if ok {
		out.set(s)
	}
	return ok, err
}

// ReadLatest takes the newest written-back value and discards older ones.
func (out *OutputRB[T]) ReadLatest() (bool, error) {
	s, ok, err := out.ep.latest()
	if ok {
		out.set(s)
	}
	return ok, err
}

func (out *OutputRB[T]) readable() *endpoint { return out.ep }

var (
	_ Readable         = (*PushInput[int])(nil)
	_ Readable         = (*PollInput[int])(nil)
	_ Writable         = (*Output[int])(nil)
	_ HasReturnChannel = (*PushInputWB[int])(nil)
	_ Readable         = (*OutputRB[int])(nil)
	_ Writable         = (*OutputRB[int])(nil)
)
