package testfacility

import (
	"context"
	"reflect"

	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/validity"
)

// Scalar is the test side of one directory variable.
type Scalar[T any] struct {
	f        *Facility
	v        directory.Variable
	value    T
	version  validity.Version
	validity validity.Validity
}

// GetScalar returns a handle on the variable name. The application must be
// initialised, and T must match the variable type. The handle starts with the latest
// published value.
func GetScalar[T any](f *Facility, name string) (*Scalar[T], error) {
	v, ok := f.dir.Lookup(name)
	if !ok {
		return nil, errors.Fatalf(errors.ErrUnknownVariable, "Facility", "GetScalar", "%s", name)
	}
	if want := reflect.TypeFor[T](); v.Type != nil && v.Type != want {
		return nil, errors.Fatalf(errors.ErrTypeMismatch, "Facility", "GetScalar",
			"%s is %s, not %s", name, v.Type, want)
	}
	s := &Scalar[T]{f: f, v: v}
	if u, err := f.latest(context.Background(), name); err == nil {
		_ = s.apply(u)
	}
	return s, nil
}

// Name returns the variable name.
func (s *Scalar[T]) Name() string { return s.v.Name }

// Get returns the current value of the handle.
func (s *Scalar[T]) Get() T { return s.value }

// Set changes the value the next Write sends.
func (s *Scalar[T]) Set(x T) { s.value = x }

func (s *Scalar[T]) Validity() validity.Validity { return s.validity }

func (s *Scalar[T]) Version() validity.Version { return s.version }

// Write sends the current value to the application. It takes effect on the next step.
func (s *Scalar[T]) Write(ctx context.Context) error {
	if !s.v.Writable() {
		return errors.WrapInvalid(errors.ErrNotWritable, "Scalar", "Write", s.v.Name)
	}
	return s.f.dir.Write(ctx, s.v.Name, s.value)
}

// ReadNonBlocking takes the oldest unread publication and reports whether there was one.
func (s *Scalar[T]) ReadNonBlocking() bool {
	u, ok := s.f.next(s.v.Name)
	if !ok {
		return false
	}
	return s.apply(u) == nil
}

// ReadLatest takes every unread publication, keeps the newest and reports whether
// there was any.
func (s *Scalar[T]) ReadLatest() bool {
	u, ok := s.f.last(s.v.Name)
	if !ok {
		return false
	}
	return s.apply(u) == nil
}

// Read takes the oldest unread publication. With nothing queued it steps the
// application once if that would make progress.
func (s *Scalar[T]) Read(ctx context.Context) error {
	if s.ReadNonBlocking() {
		return nil
	}
	if s.f.CanStep() {
		if err := s.f.StepApplication(ctx); err != nil {
			return err
		}
		if s.ReadNonBlocking() {
			return nil
		}
	}
	return errors.WrapInvalid(errors.ErrNoValue, "Scalar", "Read", s.v.Name)
}

func (s *Scalar[T]) apply(u directory.Update) error {
	x, ok := u.Value.(T)
	if !ok {
		converted, err := directory.Convert(u.Value, reflect.TypeFor[T]())
		if err != nil {
			return err
		}
		x = converted.(T)
	}
	s.value, s.version, s.validity = x, u.Version, u.Validity
	return nil
}

// WriteScalar sets name to x. It takes effect on the next step.
func WriteScalar[T any](ctx context.Context, f *Facility, name string, x T) error {
	s, err := GetScalar[T](f, name)
	if err != nil {
		return err
	}
	s.Set(x)
	return s.Write(ctx)
}

// ReadScalar returns the newest value of name without consuming queued publications.
func ReadScalar[T any](ctx context.Context, f *Facility, name string) (T, error) {
	var zero T
	s, err := GetScalar[T](f, name)
	if err != nil {
		return zero, err
	}
	u, err := f.latest(ctx, name)
	if err != nil {
		return zero, err
	}
	if err := s.apply(u); err != nil {
		return zero, err
	}
	return s.value, nil
}
