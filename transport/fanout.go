package transport

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/c360/varnet/validity"
)

// distribute offers s to every consumer. A failing consumer does not keep the value from
// the others; the failures are joined.
func distribute(ctx context.Context, consumers []*Queue, s Sample) error {
	var errs []error
	for _, c := range consumers {
		if err := c.Write(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// ThreadedFanOut replicates the values of a push feeder to several consumers from its own
// goroutine. Each consumer has its own queue, so a slow consumer only loses its own
// oldest values.
type ThreadedFanOut struct {
	inbox     *Queue
	consumers []*Queue
	logger    *slog.Logger
}

// NewThreadedFanOut creates a fan-out reading inbox. Run must be started.
func NewThreadedFanOut(inbox *Queue, consumers ...*Queue) *ThreadedFanOut {
	return &ThreadedFanOut{inbox: inbox, consumers: consumers, logger: slog.Default()}
}

// SetLogger sets the logger for delivery failures. Call before Run.
func (f *ThreadedFanOut) SetLogger(l *slog.Logger) {
	if l != nil {
		f.logger = l
	}
}

// Write hands s to the distribution goroutine.
func (f *ThreadedFanOut) Write(ctx context.Context, s Sample) error {
	return f.inbox.Write(ctx, s)
}

// Consumers returns the consumer queues.
func (f *ThreadedFanOut) Consumers() []*Queue { return f.consumers }

// Run distributes values until ctx is done. A value read from the inbox stays pending
// until every consumer has it.
func (f *ThreadedFanOut) Run(ctx context.Context) error {
	for {
		s, done, err := f.inbox.Take(ctx)
		if err != nil {
			return nil
		}
		err = distribute(ctx, f.consumers, s)
		done()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.logger.Warn("Fan-out value not delivered to every consumer",
				"feeder", f.inbox.Name(), "error", err)
		}
	}
}

// FeedingFanOut hands the values of a push feeder to several poll consumers without a
// goroutine. The feeder's write fills each consumer's queue and caches the latest value.
type FeedingFanOut struct {
	consumers []*Queue

	mu     sync.Mutex
	latest Sample
	has    bool
}

// NewFeedingFanOut creates a feeding fan-out.
func NewFeedingFanOut(consumers ...*Queue) *FeedingFanOut {
	return &FeedingFanOut{consumers: consumers}
}

// Write caches s and offers it to every consumer.
func (f *FeedingFanOut) Write(ctx context.Context, s Sample) error {
	f.mu.Lock()
	f.latest, f.has = s, true
	f.mu.Unlock()
	return distribute(ctx, f.consumers, s)
}

// Latest returns the last written value.
func (f *FeedingFanOut) Latest() (Sample, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.has
}

// Consumers returns the consumer queues.
func (f *FeedingFanOut) Consumers() []*Queue { return f.consumers }

// ConsumingFanOut reads a poll feeder whenever its trigger fires and publishes the value
// to every consumer.
type ConsumingFanOut struct {
	source    Source
	consumers []*Queue
}

// NewConsumingFanOut creates a consuming fan-out over source.
func NewConsumingFanOut(source Source, consumers ...*Queue) *ConsumingFanOut {
	return &ConsumingFanOut{source: source, consumers: consumers}
}

// Fire polls the source once and publishes the result. trigger is the version of the
// triggering update; the published value is stamped with it if newer, so consumers see
// every value of one trigger with the same token.
func (f *ConsumingFanOut) Fire(ctx context.Context, trigger validity.Version) error {
	s, err := f.source.Read(ctx)
	if err != nil {
		return err
	}
	if trigger > s.Version {
		s.Version = trigger
	}
	return distribute(ctx, f.consumers, s)
}

// Consumers returns the consumer queues.
func (f *ConsumingFanOut) Consumers() []*Queue { return f.consumers }

// TriggerFanOut is the fan-out of a network used as timing source by other networks. Its
// goroutine fires every dependent consuming fan-out in registration order, then passes
// the trigger value to its own consumers.
type TriggerFanOut struct {
	inbox      *Queue
	consumers  []*Queue
	dependents []*ConsumingFanOut
}

// NewTriggerFanOut creates a trigger fan-out reading inbox. Run must be started.
func NewTriggerFanOut(inbox *Queue, consumers []*Queue, dependents []*ConsumingFanOut) *TriggerFanOut {
	return &TriggerFanOut{inbox: inbox, consumers: consumers, dependents: dependents}
}

// Write hands a trigger value to the goroutine.
func (f *TriggerFanOut) Write(ctx context.Context, s Sample) error {
	return f.inbox.Write(ctx, s)
}

// Dependents returns the triggered fan-outs.
func (f *TriggerFanOut) Dependents() []*ConsumingFanOut { return f.dependents }

// Consumers returns the queues of the trigger's own consumers.
func (f *TriggerFanOut) Consumers() []*Queue { return f.consumers }

// Run processes trigger values until ctx is done. A failing dependent ends the loop
// with its error.
func (f *TriggerFanOut) Run(ctx context.Context) error {
	for {
		s, done, err := f.inbox.Take(ctx)
		if err != nil {
			return nil
		}
		err = f.fire(ctx, s)
		done()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *TriggerFanOut) fire(ctx context.Context, s Sample) error {
	for _, d := range f.dependents {
		if err := d.Fire(ctx, s.Version); err != nil {
			return err
		}
	}
	return distribute(ctx, f.consumers, s)
}
