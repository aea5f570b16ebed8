// Package buffer provides the bounded FIFO used by every queued delivery path.
//
// A CircularBuffer holds at most Capacity items. When full, the overflow policy decides:
//
//   - DropOldest (default) overwrites the oldest unread item. The variable transport uses
//     this so producers never block on slow consumers; the drop callback feeds the
//     process-wide data-loss counter.
//   - DropNewest discards the incoming item.
//   - Block waits for space. WriteContext makes the wait cancellable.
//
// Statistics are always collected. WithMetrics additionally exports them to a
// metric.MetricsRegistry, labelled with the queue name.
package buffer
