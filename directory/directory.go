package directory

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/validity"
)

// Access is the direction of a variable as seen from the operator.
type Access string

// Access constants
const (
	// ReadOnly variables are fed by the application and read by the operator
	ReadOnly Access = "read_only"
	// ReadWrite variables are written by the operator and consumed by the application.
	// The application may write them back through a return channel.
	ReadWrite Access = "read_write"
)

// Variable describes one process variable exposed in the directory.
type Variable struct {
	// Name is the absolute slash-delimited name, e.g. "/Pump/speed"
	Name        string
	Type        reflect.Type
	Unit        string
	Description string
	Access      Access
}

// Writable reports whether the operator may write the variable.
func (v Variable) Writable() bool { return v.Access == ReadWrite }

// Update is one value of a variable.
type Update struct {
	Name     string
	Value    any
	Version  validity.Version
	Validity validity.Validity
}

// Handler receives updates. Handlers run on the goroutine that produced the update and
// must not block for long.
type Handler func(Update)

// Directory is the operator-facing variable directory. The application side registers
// variables, subscribes to operator writes and publishes its outputs; the operator side
// writes, reads and watches.
type Directory interface {
	// Register adds a variable. It fails once the directory is started.
	Register(v Variable) error
	// Variables lists the registered variables sorted by name.
	Variables() []Variable
	// Lookup returns a registered variable.
	Lookup(name string) (Variable, bool)

	// Subscribe delivers operator writes of a read-write variable to fn.
	Subscribe(name string, fn Handler) (cancel func(), err error)
	// Publish stores an application value and notifies watchers.
	Publish(ctx context.Context, u Update) error

	// Write stores an operator value and delivers it to subscribers.
	Write(ctx context.Context, name string, value any) error
	// Read returns the latest value of a variable.
	Read(ctx context.Context, name string) (Update, error)
	// Watch observes every application publication.
	Watch(fn Handler) (cancel func())

	// Start delivers the initial value of every read-write variable to its subscribers,
	// then reports ready.
	Start(ctx context.Context) error
	// Ready is closed after the initial values were delivered.
	Ready() <-chan struct{}
	Close() error
}

// ValidateName checks that name is absolute and has no empty or relative segments.
func ValidateName(name string) error {
	if !strings.HasPrefix(name, "/") || name == "/" {
		return errors.Fatalf(errors.ErrMalformedPath, "Directory", "ValidateName", "%q is not absolute", name)
	}
	for _, seg := range strings.Split(name[1:], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return errors.Fatalf(errors.ErrMalformedPath, "Directory", "ValidateName", "%q has segment %q", name, seg)
		}
	}
	return nil
}

// Convert returns value as typ. Numeric values convert between kinds, nil becomes the
// zero value.
func Convert(value any, typ reflect.Type) (any, error) {
	if typ == nil {
		return value, nil
	}
	if value == nil {
		return reflect.Zero(typ).Interface(), nil
	}
	rv := reflect.ValueOf(value)
	if rv.Type() == typ {
		return value, nil
	}
	if rv.Type().ConvertibleTo(typ) && convertibleKinds(rv.Kind(), typ.Kind()) {
		return rv.Convert(typ).Interface(), nil
	}
	return nil, errors.WrapInvalid(
		fmt.Errorf("%T is not convertible to %s: %w", value, typ, errors.ErrTypeMismatch),
		"Directory", "Convert", "value conversion")
}

// convertibleKinds excludes conversions reflect allows but that change meaning, such as
// int to string.
func convertibleKinds(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return k >= reflect.Int && k <= reflect.Float64
	}
	switch {
	case numeric(from) && numeric(to):
		return true
	case from == to:
		return true
	default:
		return false
	}
}
