package device

import (
	"context"
)

// Backend is the contract of a hardware register backend. Read and Write fail with an
// error wrapping errors.ErrBackendFault or errors.ErrBackendClosed when the hardware is
// unavailable.
type Backend interface {
	Open(ctx context.Context) error
	Close() error
	Read(ctx context.Context, register string) (any, error)
	Write(ctx context.Context, register string, value any) error
	// IsFunctional reports whether the backend is open and believes it can transfer data
	IsFunctional() bool
}
