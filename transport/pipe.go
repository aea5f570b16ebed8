package transport

import (
	"context"
)

// DirectPipe delivers the values of one feeder to one consumer queue. When the consumer
// has a return channel, back carries its writes to the feeder.
type DirectPipe struct {
	out  *Queue
	back *Queue
}

// NewDirectPipe creates a pipe into out. back may be nil.
func NewDirectPipe(out, back *Queue) *DirectPipe {
	return &DirectPipe{out: out, back: back}
}

// Write enqueues s for the consumer.
func (p *DirectPipe) Write(ctx context.Context, s Sample) error {
	return p.out.Write(ctx, s)
}

// WriteBack enqueues a value travelling from the consumer to the feeder.
func (p *DirectPipe) WriteBack(ctx context.Context, s Sample) error {
	if p.back == nil {
		return nil
	}
	return p.back.Write(ctx, s)
}

// Consumer returns the consumer's queue.
func (p *DirectPipe) Consumer() *Queue { return p.out }

// Back returns the return channel queue, nil without one.
func (p *DirectPipe) Back() *Queue { return p.back }
