package engine

import (
	"context"
	"strings"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/network"
)

// ReadGroup reads several inputs of one module together.
type ReadGroup struct {
	module *Module
	push   []Readable
	poll   []Readable
	notify chan struct{}
	next   int
	name   string
}

// NewReadGroup groups inputs of the same module. It must be created after the
// application is initialised, usually at the top of the main loop.
func NewReadGroup(inputs ...Readable) (*ReadGroup, error) {
	if len(inputs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoConsumers, "ReadGroup", "NewReadGroup", "empty group")
	}
	g := &ReadGroup{notify: make(chan struct{}, 1)}
	var names []string
	for _, in := range inputs {
		ep := in.readable()
		if err := ep.checkRealized("NewReadGroup"); err != nil {
			return nil, err
		}
		if g.module == nil {
			g.module = ep.module
		} else if g.module != ep.module {
			return nil, errors.WrapInvalid(errors.ErrUnknownOwner, "ReadGroup", "NewReadGroup",
				ep.variable()+" belongs to another module")
		}
		if ep.node.Mode == network.Push {
			g.push = append(g.push, in)
			ep.queue.Listen(g.notify)
		} else {
			g.poll = append(g.poll, in)
		}
		names = append(names, ep.variable())
	}
	g.name = strings.Join(names, "|")
	return g, nil
}

// ReadAny waits until one push input received a value and returns it. Poll inputs are
// refreshed before returning. Inputs with queued values are served round robin.
func (g *ReadGroup) ReadAny(ctx context.Context) (Readable, error) {
	if len(g.push) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoFeeder, "ReadGroup", "ReadAny", "group has no push input")
	}
	for {
		for i := range g.push {
			in := g.push[(g.next+i)%len(g.push)]
			ok, err := in.ReadNonBlocking()
			if err != nil {
				return nil, err
			}
			if ok {
				g.next = (g.next + i + 1) % len(g.push)
				if err := g.readPoll(ctx); err != nil {
					return nil, err
				}
				return in, nil
			}
		}

		a := g.module.app
		g.module.unlock()
		a.watchdog.RegisterWait(g.module.Path(), g.name)
		var waitErr error
		select {
		case <-ctx.Done():
			waitErr = errors.Wrap(ctx.Err(), "ReadGroup", "ReadAny", g.name)
		case <-g.notify:
		}
		a.watchdog.UnregisterWait(g.module.Path())
		if err := g.module.lock(ctx); err != nil && waitErr == nil {
			waitErr = err
		}
		if waitErr != nil {
			return nil, waitErr
		}
	}
}

func (g *ReadGroup) readPoll(ctx context.Context) error {
	for _, in := range g.poll {
		if err := in.Read(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll waits for a new value on every push input, then reads every poll input.
func (g *ReadGroup) ReadAll(ctx context.Context) error {
	for _, in := range g.push {
		if err := in.Read(ctx); err != nil {
			return err
		}
	}
	return g.readPoll(ctx)
}

// ReadAllNonBlocking reads every input without waiting and reports whether any
// value changed.
func (g *ReadGroup) ReadAllNonBlocking() (bool, error) {
	return g.each(Readable.ReadNonBlocking)
}

// ReadAllLatest brings every input to its newest value.
func (g *ReadGroup) ReadAllLatest() (bool, error) {
	return g.each(Readable.ReadLatest)
}

func (g *ReadGroup) each(read func(Readable) (bool, error)) (bool, error) {
	changed := false
	for _, in := range append(append([]Readable(nil), g.push...), g.poll...) {
		ok, err := read(in)
		if err != nil {
			return changed, err
		}
		changed = changed || ok
	}
	return changed, nil
}

// WriteAll writes every output in order. All outputs of one call carry the same token.
func WriteAll(ctx context.Context, outputs ...Writable) error {
	for _, out := range outputs {
		if err := out.Write(ctx); err != nil {
			return err
		}
	}
	return nil
}
