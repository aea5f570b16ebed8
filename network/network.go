package network

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/c360/varnet/errors"
)

// Network binds one feeder to its consumers and an optional external trigger. It is
// built during assembly and never mutated after resolution.
type Network struct {
	id        int
	feeder    *Node
	consumers []*Node
	trigger   *Network
	triggered []*Network
}

// ID returns the network's index in its graph.
func (n *Network) ID() int { return n.id }

// Feeder returns the feeding node, nil while the network has none.
func (n *Network) Feeder() *Node { return n.feeder }

// Consumers returns the consuming nodes in insertion order.
func (n *Network) Consumers() []*Node { return n.consumers }

// Trigger returns the network whose updates trigger this one, if any.
func (n *Network) Trigger() *Network { return n.trigger }

// Triggered returns the networks this network triggers, in registration order.
func (n *Network) Triggered() []*Network { return n.triggered }

// ValueType returns the type of the feeder, nil without feeder.
func (n *Network) ValueType() reflect.Type {
	if n.feeder == nil {
		return nil
	}
	return n.feeder.Type
}

// Unit returns the engineering unit of the feeder.
func (n *Network) Unit() string {
	if n.feeder == nil {
		return ""
	}
	return n.feeder.Unit
}

// Name returns a human readable name: the feeder's name, otherwise the first consumer's.
func (n *Network) Name() string {
	switch {
	case n.feeder != nil:
		return n.feeder.Name
	case len(n.consumers) > 0:
		return n.consumers[0].Name
	default:
		return fmt.Sprintf("network#%d", n.id)
	}
}

// Nodes returns the feeder followed by all consumers.
func (n *Network) Nodes() []*Node {
	var out []*Node
	if n.feeder != nil {
		out = append(out, n.feeder)
	}
	return append(out, n.consumers...)
}

// Has reports whether node is part of the network.
func (n *Network) Has(node *Node) bool {
	return n.feeder == node || slices.Contains(n.consumers, node)
}

// AddNode adds node as feeder or consumer. A second feeder and a type or unit mismatch
// between feeder and consumers are fatal.
func (n *Network) AddNode(node *Node) error {
	if node.IsFeeding() {
		if n.feeder != nil {
			return errors.Fatalf(errors.ErrDuplicateFeeder, "Network", "AddNode",
				"%s cannot feed %s, already fed by %s", node, n.Name(), n.feeder)
		}
		for _, c := range n.consumers {
			if err := checkCompatible(node, c); err != nil {
				return err
			}
		}
		n.feeder = node
		return nil
	}
	if n.Has(node) {
		return nil
	}
	if n.feeder != nil {
		if err := checkCompatible(n.feeder, node); err != nil {
			return err
		}
	}
	n.consumers = append(n.consumers, node)
	return nil
}

func checkCompatible(feeder, consumer *Node) error {
	if feeder.Type != nil && consumer.Type != nil && feeder.Type != consumer.Type {
		return errors.Fatalf(errors.ErrTypeMismatch, "Network", "AddNode",
			"%s has type %s, feeder %s has type %s", consumer.Name, consumer.Type, feeder.Name, feeder.Type)
	}
	if feeder.Unit != "" && consumer.Unit != "" && feeder.Unit != consumer.Unit {
		return errors.Fatalf(errors.ErrUnitMismatch, "Network", "AddNode",
			"%s has unit %q, feeder %s has unit %q", consumer.Name, consumer.Unit, feeder.Name, feeder.Unit)
	}
	return nil
}

// AddTrigger makes trigger the timing source of this network. At most one trigger may be
// attached.
func (n *Network) AddTrigger(trigger *Network) error {
	if n.trigger == trigger {
		return nil
	}
	if n.trigger != nil {
		return errors.Fatalf(errors.ErrDuplicateTrigger, "Network", "AddTrigger",
			"%s is already triggered by %s", n.Name(), n.trigger.Name())
	}
	if trigger == n {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Network", "AddTrigger",
			"%s cannot trigger itself", n.Name())
	}
	n.trigger = trigger
	trigger.triggered = append(trigger.triggered, n)
	return nil
}

// Validate checks the legality rules of a single network.
func (n *Network) Validate() error {
	if n.feeder == nil {
		return errors.Fatalf(errors.ErrNoFeeder, "Network", "Validate", "%s", n.Name())
	}
	if len(n.consumers) == 0 && len(n.triggered) == 0 {
		return errors.Fatalf(errors.ErrNoConsumers, "Network", "Validate", "%s", n.Name())
	}
	if n.feeder.Kind == Application && !n.feeder.IsPush() {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Network", "Validate",
			"application output %s must use push timing", n.feeder.Name)
	}
	if n.feeder.IsPush() && n.trigger != nil {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Network", "Validate",
			"push feeder %s cannot have an external trigger", n.feeder.Name)
	}
	if len(n.triggered) > 0 && !n.feeder.IsPush() {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Network", "Validate",
			"trigger %s must be fed by a push feeder", n.feeder.Name)
	}
	if !n.feeder.IsPush() && n.trigger == nil {
		if len(n.consumers) != 1 || n.consumers[0].IsPush() {
			return errors.Fatalf(errors.ErrMissingTrigger, "Network", "Validate",
				"poll feeder %s has %d consumer(s) and no trigger", n.feeder.Name, len(n.consumers))
		}
	}
	return nil
}

// DetachFeeder removes and returns the feeder. Conflation uses it to drop a feeder that
// duplicates one already kept in another network.
func (n *Network) DetachFeeder() *Node {
	f := n.feeder
	n.feeder = nil
	return f
}
