package transport

import (
	"context"
	"sync"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/pkg/buffer"
)

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Name is the variable the queue delivers, used by the observer and loss reports
	Name string
	// Capacity bounds the queue, at least one slot
	Capacity int
	// Policy decides what a write to a full queue does, DropOldest by default
	Policy buffer.OverflowPolicy
	// Observer is notified about pending work, nil outside deterministic mode
	Observer Observer
	// OnDataLoss is called once per value lost to the overflow policy
	OnDataLoss func(variable string)
}

// Queue is the bounded inbox of one consumer. A single goroutine reads it while any
// number of goroutines may write.
type Queue struct {
	cfg    QueueConfig
	buf    buffer.Buffer[Sample]
	signal chan struct{}

	mu        sync.Mutex
	listeners []chan<- struct{}
	last      Sample
	hasLast   bool

	puller Source
}

// NewQueue creates a queue. A zero capacity becomes one slot.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	q := &Queue{cfg: cfg, signal: make(chan struct{}, 1)}
	buf, err := buffer.NewCircularBuffer(cfg.Capacity,
		buffer.WithOverflowPolicy[Sample](cfg.Policy),
		buffer.WithDropCallback(func(Sample) { q.dropped() }),
	)
	if err != nil {
		return nil, errors.Wrap(err, "Queue", "NewQueue", "buffer creation")
	}
	q.buf = buf
	return q, nil
}

// Name returns the variable name of the queue.
func (q *Queue) Name() string { return q.cfg.Name }

// Capacity returns the number of slots.
func (q *Queue) Capacity() int { return q.cfg.Capacity }

// MayBlock reports whether a write can wait for space.
func (q *Queue) MayBlock() bool { return q.cfg.Policy == buffer.Block }

// Len returns the number of unread values.
func (q *Queue) Len() int { return q.buf.Size() }

// Stats exposes the underlying buffer statistics.
func (q *Queue) Stats() *buffer.Statistics { return q.buf.Stats() }

func (q *Queue) dropped() {
	if q.cfg.Observer != nil {
		q.cfg.Observer.Dropped(q.cfg.Name)
	}
	if q.cfg.OnDataLoss != nil {
		q.cfg.OnDataLoss(q.cfg.Name)
	}
}

// Listen registers ch to receive a non-blocking notification after every write.
func (q *Queue) Listen(ch chan<- struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, ch)
}

// PullFrom makes Poll read src directly instead of draining the queue. It is used by
// direct pipes from a poll feeder to a poll consumer.
func (q *Queue) PullFrom(src Source) {
	q.puller = src
}

// Write enqueues s. Under DropOldest a full queue loses its oldest value, under Block the
// call waits for space until ctx is done.
func (q *Queue) Write(ctx context.Context, s Sample) error {
	if q.cfg.Observer != nil {
		q.cfg.Observer.Enqueued(q.cfg.Name)
	}
	if err := q.buf.WriteContext(ctx, s); err != nil {
		if q.cfg.Observer != nil {
			q.cfg.Observer.Dropped(q.cfg.Name)
		}
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "Queue", "Write", q.cfg.Name)
		}
		return errors.Wrap(err, "Queue", "Write", q.cfg.Name)
	}

	select {
	case q.signal <- struct{}{}:
	default:
	}
	q.mu.Lock()
	listeners := q.listeners
	q.mu.Unlock()
	for _, l := range listeners {
		select {
		case l <- struct{}{}:
		default:
		}
	}
	return nil
}

func (q *Queue) pop() (Sample, bool) {
	s, ok := q.buf.Read()
	if !ok {
		return Sample{}, false
	}
	q.mu.Lock()
	q.last, q.hasLast = s, true
	q.mu.Unlock()
	return s, true
}

func (q *Queue) done() {
	if q.cfg.Observer != nil {
		q.cfg.Observer.Consumed(q.cfg.Name)
	}
}

// TryTake removes the oldest unread value without waiting. The value stays counted as
// pending work until done is called, so a reader can finish reacting first.
func (q *Queue) TryTake() (s Sample, done func(), ok bool) {
	s, ok = q.pop()
	if !ok {
		return Sample{}, func() {}, false
	}
	return s, q.done, true
}

// Take waits for the next value, see TryTake. It returns the context error when ctx is
// done first.
func (q *Queue) Take(ctx context.Context) (Sample, func(), error) {
	for {
		if s, done, ok := q.TryTake(); ok {
			return s, done, nil
		}
		select {
		case <-ctx.Done():
			return Sample{}, func() {}, errors.Wrap(ctx.Err(), "Queue", "Take", q.cfg.Name)
		case <-q.signal:
		}
	}
}

// TryRead returns the oldest unread value without waiting.
func (q *Queue) TryRead() (Sample, bool) {
	s, done, ok := q.TryTake()
	done()
	return s, ok
}

// Read waits for the next value.
func (q *Queue) Read(ctx context.Context) (Sample, error) {
	s, done, err := q.Take(ctx)
	done()
	return s, err
}

// Latest drains the queue and returns the most recent value. Without new values it
// returns the last value read before, ok is false if there never was one.
func (q *Queue) Latest() (Sample, bool) {
	updated := false
	for {
		if _, ok := q.TryRead(); !ok {
			break
		}
		updated = true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last, updated || q.hasLast
}

// Poll returns the current value for a poll-mode consumer: a fresh read of the attached
// source, or the latest queued value. updated reports whether the value is new.
func (q *Queue) Poll(ctx context.Context) (s Sample, updated bool, err error) {
	if q.puller != nil {
		s, err = q.puller.Read(ctx)
		if err != nil {
			return Sample{}, false, err
		}
		q.mu.Lock()
		q.last, q.hasLast = s, true
		q.mu.Unlock()
		return s, true, nil
	}
	before := q.buf.Stats().Reads()
	s, _ = q.Latest()
	return s, q.buf.Stats().Reads() > before, nil
}

// Last returns the most recently read value.
func (q *Queue) Last() (Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last, q.hasLast
}

// Close wakes writers blocked on a full queue.
func (q *Queue) Close() error {
	return q.buf.Close()
}
