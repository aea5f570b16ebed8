// Package buffer provides generic, thread-safe bounded buffers with overflow policies.
package buffer

import (
	"context"
)

// Buffer represents a generic bounded FIFO buffer
type Buffer[T any] interface {
	// Write adds an item. When the buffer is full the overflow policy decides what
	// happens: DropOldest discards the oldest item, DropNewest discards item, Block
	// waits for space.
	Write(item T) error

	// WriteContext is Write with cancellation for the Block policy.
	WriteContext(ctx context.Context, item T) error

	// Read retrieves and removes the oldest item.
	Read() (T, bool)

	// ReadBatch retrieves and removes up to max items in FIFO order.
	ReadBatch(max int) []T

	// Peek returns the oldest item without removing it.
	Peek() (T, bool)

	Size() int
	Capacity() int
	IsEmpty() bool

	// Clear removes all items, passing each one to the drop callback.
	Clear()

	// Stats returns buffer statistics (always collected).
	Stats() *Statistics

	// Close wakes blocked writers; later writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest

	// Block causes Write operations to block until space is available.
	Block
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// ParseOverflowPolicy maps configuration strings to policies.
func ParseOverflowPolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, true
	case "drop_newest":
		return DropNewest, true
	case "block":
		return Block, true
	default:
		return DropOldest, false
	}
}

// DropCallback is called, outside the buffer lock, with every item lost to the
// overflow policy or to Clear.
type DropCallback[T any] func(item T)

// NewCircularBuffer creates a new circular buffer with the specified capacity and options.
// Returns an error if metrics registration fails when metrics are requested.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newCircularBuffer(capacity, opts)
}
