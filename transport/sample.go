package transport

import (
	"context"

	"github.com/c360/varnet/validity"
)

// Sample is one value in flight together with its causality token and validity.
// The value is type-erased; assembly guarantees every endpoint of a network agrees on
// the dynamic type.
type Sample struct {
	Value    any
	Version  validity.Version
	Validity validity.Validity
}

// Observer follows the life of pushed values for the deterministic scheduler. Enqueued
// is called before a value becomes readable, Dropped when a pending value is lost to
// the overflow policy, Consumed after a value was read.
type Observer interface {
	Enqueued(variable string)
	Dropped(variable string)
	Consumed(variable string)
}

// Writer accepts the values of a feeder.
type Writer interface {
	Write(ctx context.Context, s Sample) error
}

// Source is a feeder read on demand, such as a device register.
type Source interface {
	Read(ctx context.Context) (Sample, error)
}

// Runner is a delivery primitive with its own goroutine.
type Runner interface {
	Run(ctx context.Context) error
}
