package engine

import (
	"context"

	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/network"
	"github.com/c360/varnet/pkg/buffer"
	"github.com/c360/varnet/resolver"
	"github.com/c360/varnet/transport"
	"github.com/c360/varnet/validity"
)

// discard is the writer of feeders without consumers.
type discard struct{}

func (discard) Write(context.Context, transport.Sample) error { return nil }

// realizer creates the queues, fan-outs and pumps of every resolved network.
type realizer struct {
	a         *Application
	res       *resolver.Resolution
	consuming map[*network.Network]*transport.ConsumingFanOut
}

func newRealizer(a *Application, res *resolver.Resolution) *realizer {
	return &realizer{a: a, res: res, consuming: make(map[*network.Network]*transport.ConsumingFanOut)}
}

func (r *realizer) run() error {
	// trigger fan-outs need the consuming fan-outs of their dependents
	for _, p := range r.res.Plans {
		if p.Shape == resolver.TriggerFanOut {
			continue
		}
		if err := r.plan(p); err != nil {
			return err
		}
	}
	for _, p := range r.res.Plans {
		if p.Shape != resolver.TriggerFanOut {
			continue
		}
		if err := r.plan(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *realizer) plan(p resolver.Plan) error {
	n := p.Network
	feeder := n.Feeder()
	name := networkName(n)
	qlen := r.a.cfg.Engine.QueueLength

	policy := buffer.DropOldest
	if p.Shape == resolver.DirectPipe {
		pol, ok := buffer.ParseOverflowPolicy(r.a.cfg.Engine.DirectPipePolicy)
		if !ok {
			return errors.Fatalf(errors.ErrInvalidConfig, "Application", "Initialise",
				"direct pipe policy %q", r.a.cfg.Engine.DirectPipePolicy)
		}
		policy = pol
	}

	var sinks []*transport.Queue
	for _, c := range n.Consumers() {
		q, err := r.sink(c, policy)
		if err != nil {
			return err
		}
		if q != nil {
			sinks = append(sinks, q)
		}
	}

	var writer transport.Writer
	mayBlock := false
	switch p.Shape {
	case resolver.DirectPipe:
		if !feeder.IsPush() {
			return r.pull(feeder, n.Consumers()[0], sinks)
		}
		if len(sinks) == 0 {
			writer = discard{}
			break
		}
		consumer := n.Consumers()[0]
		back, err := r.returnChannel(feeder, consumer)
		if err != nil {
			return err
		}
		pipe := transport.NewDirectPipe(sinks[0], back)
		if ep, ok := consumer.Payload.(*endpoint); ok && back != nil {
			ep.back = pipe
		}
		writer = pipe
		mayBlock = sinks[0].MayBlock()

	case resolver.FeedingFanOut:
		writer = transport.NewFeedingFanOut(sinks...)

	case resolver.ThreadedFanOut:
		inbox, err := r.queue(name, qlen, buffer.DropOldest, true)
		if err != nil {
			return err
		}
		f := transport.NewThreadedFanOut(inbox, sinks...)
		f.SetLogger(r.a.logger.With("network", name))
		r.a.runners = append(r.a.runners, f.Run)
		writer = f

	case resolver.ConsumingFanOut:
		reg, ok := feeder.Payload.(*registerBinding)
		if !ok {
			return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "Initialise",
				"%s: triggered feeder %s is not a device register", name, feeder)
		}
		r.consuming[n] = transport.NewConsumingFanOut(reg.reg, sinks...)
		return nil

	case resolver.TriggerFanOut:
		entry, ok := r.res.Triggers.Lookup(feeder.Name)
		if !ok {
			return errors.Fatalf(errors.ErrMissingTrigger, "Application", "Initialise", "%s is not registered as trigger", name)
		}
		deps := make([]*transport.ConsumingFanOut, 0, len(entry.Dependents))
		for _, d := range entry.Dependents {
			f, ok := r.consuming[d]
			if !ok {
				return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "Initialise",
					"%s triggers %s, which is not polled", name, networkName(d))
			}
			deps = append(deps, f)
		}
		inbox, err := r.queue(name, qlen, buffer.DropOldest, true)
		if err != nil {
			return err
		}
		f := transport.NewTriggerFanOut(inbox, sinks, deps)
		r.a.runners = append(r.a.runners, f.Run)
		writer = f
	}

	return r.bindFeeder(feeder, writer, mayBlock)
}

// queue creates a consumer queue. Tracked queues take part in deterministic stepping
// and count data loss.
func (r *realizer) queue(name string, capacity int, policy buffer.OverflowPolicy, tracked bool) (*transport.Queue, error) {
	cfg := transport.QueueConfig{Name: name, Capacity: capacity, Policy: policy}
	if tracked {
		cfg.Observer = r.a.sched
		cfg.OnDataLoss = r.a.onDataLoss
	}
	q, err := transport.NewQueue(cfg)
	if err != nil {
		return nil, err
	}
	r.a.queues = append(r.a.queues, q)
	return q, nil
}

// sink creates the queue in front of consumer c, nil for discarding consumers.
func (r *realizer) sink(c *network.Node, policy buffer.OverflowPolicy) (*transport.Queue, error) {
	qlen := r.a.cfg.Engine.QueueLength
	switch b := c.Payload.(type) {
	case *endpoint:
		b.prop = validity.NewInputPropagator(b.module.state, false)
		var q *transport.Queue
		var err error
		if c.IsPush() {
			q, err = r.queue(b.public, qlen, policy, true)
		} else {
			q, err = r.queue(b.public, 1, buffer.DropOldest, false)
		}
		if err != nil {
			return nil, err
		}
		b.queue = q
		return q, nil

	case *csBinding:
		if err := r.a.dir.Register(b.variable); err != nil {
			return nil, err
		}
		q, err := r.queue(b.variable.Name, qlen, buffer.DropOldest, true)
		if err != nil {
			return nil, err
		}
		name := b.variable.Name
		r.a.pump(q, func(ctx context.Context, s transport.Sample) error {
			return r.a.dir.Publish(ctx, directory.Update{Name: name, Value: s.Value, Version: s.Version, Validity: s.Validity})
		})
		return q, nil

	case *registerBinding:
		q, err := r.queue(b.cfg.Path, qlen, buffer.DropOldest, true)
		if err != nil {
			return nil, err
		}
		r.a.pump(q, b.reg.Write)
		return q, nil

	case discardBinding:
		return nil, nil
	}
	return nil, errors.Fatalf(errors.ErrIllegalNetwork, "Application", "Initialise", "unsupported consumer %s", c)
}

// pull binds a poll input directly to a device register.
func (r *realizer) pull(feeder, consumer *network.Node, sinks []*transport.Queue) error {
	reg, ok := feeder.Payload.(*registerBinding)
	ep, isEP := consumer.Payload.(*endpoint)
	if !ok || !isEP || len(sinks) != 1 {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "Initialise",
			"%s cannot poll %s", consumer, feeder)
	}
	sinks[0].PullFrom(reg.reg)
	ep.device = reg.dev.dev
	return nil
}

// returnChannel creates the write-back path of a direct pipe. Values written back to
// the control system are published to the directory without being delivered to the
// feeder again. Values written back to a module output queue up for the module.
func (r *realizer) returnChannel(feeder, consumer *network.Node) (*transport.Queue, error) {
	if !consumer.ReturnChannel {
		return nil, nil
	}
	switch b := feeder.Payload.(type) {
	case *csBinding:
		name := b.variable.Name
		back, err := r.queue(name, r.a.cfg.Engine.QueueLength, buffer.DropOldest, true)
		if err != nil {
			return nil, err
		}
		r.a.pump(back, func(ctx context.Context, s transport.Sample) error {
			return r.a.dir.Publish(ctx, directory.Update{Name: name, Value: s.Value, Version: s.Version, Validity: s.Validity})
		})
		return back, nil

	case *endpoint:
		if feeder.ReturnChannel {
			return r.backQueue(b)
		}
	}
	return nil, errors.Fatalf(errors.ErrIllegalNetwork, "Application", "Initialise",
		"%s has a return channel but its feeder %s accepts no write-back", consumer, feeder)
}

// backQueue gives an output with return channel the queue its written-back values
// arrive in.
func (r *realizer) backQueue(ep *endpoint) (*transport.Queue, error) {
	if ep.queue != nil {
		return ep.queue, nil
	}
	q, err := r.queue(ep.variable(), r.a.cfg.Engine.QueueLength, buffer.DropOldest, true)
	if err != nil {
		return nil, err
	}
	ep.queue = q
	ep.prop = validity.NewInputPropagator(ep.module.state, false)
	return q, nil
}

// bindFeeder hands writer to the feeder of a network.
func (r *realizer) bindFeeder(feeder *network.Node, writer transport.Writer, mayBlock bool) error {
	a := r.a
	switch b := feeder.Payload.(type) {
	case *endpoint:
		b.writer = writer
		b.mayBlock = mayBlock
		// readable even when no consumer writes back
		if feeder.ReturnChannel {
			if _, err := r.backQueue(b); err != nil {
				return err
			}
		}

	case *csBinding:
		if err := a.dir.Register(b.variable); err != nil {
			return err
		}
		name := b.variable.Name
		cancel, err := a.dir.Subscribe(name, func(u directory.Update) {
			ctx := a.ctx
			if ctx == nil {
				ctx = context.Background()
			}
			s := transport.Sample{Value: u.Value, Version: a.clock.Next(), Validity: validity.OK}
			if err := writer.Write(ctx, s); err != nil && ctx.Err() == nil {
				a.logger.Warn("Control system write not delivered", "variable", name, "error", err)
			}
		})
		if err != nil {
			return err
		}
		a.subscriptions = append(a.subscriptions, cancel)

	case *statusBinding:
		b.writer = writer

	default:
		if feeder.Kind == network.Constant {
			v := feeder.Value
			a.constants = append(a.constants, func(ctx context.Context) error {
				return writer.Write(ctx, transport.Sample{Value: v, Version: a.clock.Next(), Validity: validity.OK})
			})
		}
	}
	return nil
}

// pump delivers the values of q one by one. A value counts as pending until delivered.
func (a *Application) pump(q *transport.Queue, deliver func(context.Context, transport.Sample) error) {
	a.runners = append(a.runners, func(ctx context.Context) error {
		for {
			s, done, err := q.Take(ctx)
			if err != nil {
				return nil
			}
			if err := deliver(ctx, s); err != nil && ctx.Err() == nil {
				a.logger.Warn("Value not delivered", "variable", q.Name(), "error", err)
			}
			done()
		}
	})
}

// nodeName is the name a node is known by in the directory or the device map.
func nodeName(n *network.Node) string {
	switch b := n.Payload.(type) {
	case *endpoint:
		if b.public != "" {
			return b.public
		}
	case *csBinding:
		return b.variable.Name
	case *registerBinding:
		return b.cfg.Path
	}
	return n.Name
}

// networkName names a network after its feeder, or its first consumer when the feeder
// is a constant.
func networkName(n *network.Network) string {
	if f := n.Feeder(); f != nil && f.Kind != network.Constant {
		return nodeName(f)
	}
	for _, c := range n.Consumers() {
		if c.Kind != network.Constant {
			return nodeName(c)
		}
	}
	return n.Name()
}
