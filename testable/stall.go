package testable

import (
	"fmt"
	"sort"
	"strings"
)

// StallError reports that a step could not complete: either nothing was pending when
// Step was called, or pending work made no progress within the configured attempts.
// It is deliberately not a ClassifiedError; test drivers must match it explicitly with
// errors.As or errors.IsStall.
type StallError struct {
	Reason string
	// Pending lists the variables with unread pushed values
	Pending map[string]int64
	// Busy lists the modules that never parked
	Busy []string
	// Holder is the goroutine holding the lock, if any
	Holder string
}

// Error implements the error interface.
func (e *StallError) Error() string {
	var b strings.Builder
	b.WriteString("testable: application stalled: ")
	b.WriteString(e.Reason)
	if len(e.Pending) > 0 {
		names := make([]string, 0, len(e.Pending))
		for n := range e.Pending {
			names = append(names, n)
		}
		sort.Strings(names)
		b.WriteString(" (pending:")
		for _, n := range names {
			fmt.Fprintf(&b, " %s=%d", n, e.Pending[n])
		}
		b.WriteString(")")
	}
	if len(e.Busy) > 0 {
		fmt.Fprintf(&b, " (busy: %s)", strings.Join(e.Busy, ", "))
	}
	if e.Holder != "" {
		fmt.Fprintf(&b, " (holder: %s)", e.Holder)
	}
	return b.String()
}

// Stalled marks the error as a stall signal.
func (e *StallError) Stalled() bool { return true }
