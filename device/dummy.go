package device

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/c360/varnet/errors"
)

// Dummy is an in-memory Backend with fault injection, used by tests and the demo
// application.
type Dummy struct {
	mu         sync.Mutex
	registers  map[string]any
	opened     bool
	failReads  bool
	failWrites bool
	failOpen   bool
	opens      int
	reads      int
	writes     int
}

// NewDummy creates a dummy backend with the given initial register values.
func NewDummy(registers map[string]any) *Dummy {
	regs := make(map[string]any, len(registers))
	for k, v := range registers {
		regs[k] = v
	}
	return &Dummy{registers: regs}
}

// Open makes the backend functional unless opening is set to fail.
func (d *Dummy) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.failOpen {
		d.opened = false
		return errors.WrapTransient(errors.ErrBackendFault, "Dummy", "Open", "open")
	}
	d.opened = true
	return nil
}

// Close closes the backend.
func (d *Dummy) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened = false
	return nil
}

// Read returns a register value.
func (d *Dummy) Read(_ context.Context, register string) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if err := d.checkLocked(d.failReads, "Read"); err != nil {
		return nil, err
	}
	v, ok := d.registers[register]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("register %q: %w", register, errors.ErrUnknownVariable),
			"Dummy", "Read", "register lookup")
	}
	return v, nil
}

// Write stores a register value.
func (d *Dummy) Write(_ context.Context, register string, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes++
	if err := d.checkLocked(d.failWrites, "Write"); err != nil {
		return err
	}
	d.registers[register] = value
	return nil
}

func (d *Dummy) checkLocked(fail bool, method string) error {
	if !d.opened {
		return errors.WrapTransient(errors.ErrBackendClosed, "Dummy", method, "transfer")
	}
	if fail {
		// an injected fault takes the device down until it is reopened
		d.opened = false
		return errors.WrapTransient(errors.ErrBackendFault, "Dummy", method, "transfer")
	}
	return nil
}

// IsFunctional reports whether the backend is open.
func (d *Dummy) IsFunctional() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// FailReads makes every read fail while set.
func (d *Dummy) FailReads(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = fail
}

// FailWrites makes every write fail while set.
func (d *Dummy) FailWrites(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = fail
}

// FailOpen makes Open fail while set.
func (d *Dummy) FailOpen(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen = fail
}

// Set changes a register value directly, bypassing fault injection.
func (d *Dummy) Set(register string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registers[register] = value
}

// Get returns a register value directly.
func (d *Dummy) Get(register string) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.registers[register]
	return v, ok
}

// Registers returns the sorted register names.
func (d *Dummy) Registers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.registers))
	for k := range d.registers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Opens returns how often Open was called.
func (d *Dummy) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Transfers returns the number of reads and writes attempted.
func (d *Dummy) Transfers() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}
