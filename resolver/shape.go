package resolver

import (
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/network"
)

// Shape is the runtime delivery primitive chosen for a network.
type Shape string

// Shape constants
const (
	DirectPipe      Shape = "direct_pipe"
	ThreadedFanOut  Shape = "threaded_fan_out"
	FeedingFanOut   Shape = "feeding_fan_out"
	ConsumingFanOut Shape = "consuming_fan_out"
	TriggerFanOut   Shape = "trigger_fan_out"
)

// Shapes lists every shape in a stable order.
var Shapes = []Shape{DirectPipe, ThreadedFanOut, FeedingFanOut, ConsumingFanOut, TriggerFanOut}

// Select picks the shape of a network from its feeder timing, trigger and consumer
// timings. Combinations outside the table are fatal.
func Select(n *network.Network) (Shape, error) {
	feeder := n.Feeder()
	if feeder == nil {
		return "", errors.Fatalf(errors.ErrNoFeeder, "Resolver", "Select", "%s", n.Name())
	}
	consumers := n.Consumers()
	push, poll := 0, 0
	returnChannel := false
	for _, c := range consumers {
		if c.IsPush() {
			push++
		} else {
			poll++
		}
		returnChannel = returnChannel || c.ReturnChannel
	}

	var shape Shape
	switch {
	case len(n.Triggered()) > 0 && feeder.IsPush() && n.Trigger() == nil:
		shape = TriggerFanOut
	case feeder.IsPush() && n.Trigger() == nil && len(consumers) == 1:
		shape = DirectPipe
	case !feeder.IsPush() && n.Trigger() == nil && len(consumers) == 1 && poll == 1:
		shape = DirectPipe
	case feeder.IsPush() && n.Trigger() == nil && len(consumers) >= 2 && push == 0:
		shape = FeedingFanOut
	case feeder.IsPush() && n.Trigger() == nil && len(consumers) >= 2:
		shape = ThreadedFanOut
	case !feeder.IsPush() && n.Trigger() != nil && len(consumers) >= 1:
		shape = ConsumingFanOut
	case !feeder.IsPush() && n.Trigger() == nil:
		return "", errors.Fatalf(errors.ErrMissingTrigger, "Resolver", "Select",
			"poll feeder %s with %d push and %d poll consumer(s)", feeder.Name, push, poll)
	default:
		return "", errors.Fatalf(errors.ErrIllegalNetwork, "Resolver", "Select",
			"%s: %s feeder, trigger=%t, %d push and %d poll consumer(s)",
			n.Name(), feeder.Mode, n.Trigger() != nil, push, poll)
	}

	if returnChannel && shape != DirectPipe {
		return "", errors.Fatalf(errors.ErrIllegalNetwork, "Resolver", "Select",
			"%s: return channels need a direct pipe, got %s", n.Name(), shape)
	}
	return shape, nil
}
