// Package transport implements the runtime delivery primitives of variable networks.
//
// Every consumer owns a bounded Queue. Writes never block the producer unless the queue
// was created with the Block policy, which is only used for direct pipes: a full queue
// drops its oldest value and reports the loss.
//
// The primitives are DirectPipe, ThreadedFanOut, FeedingFanOut, ConsumingFanOut and
// TriggerFanOut. Threaded and trigger fan-outs implement Runner and need a goroutine.
// All primitives pass Samples through unchanged apart from the version stamp a
// consuming fan-out takes from its trigger.
package transport
