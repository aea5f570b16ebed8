package network

import (
	"fmt"
	"reflect"
)

// Direction tells whether a node produces or consumes values.
type Direction string

// Direction constants
const (
	Feeding   Direction = "feeding"
	Consuming Direction = "consuming"
)

// Mode is the timing of a node.
type Mode string

// Mode constants
const (
	// Push delivery is initiated by the producer
	Push Mode = "push"
	// Poll transfers are initiated by the consumer
	Poll Mode = "poll"
)

// Kind identifies what a node is bound to.
type Kind string

// Kind constants
const (
	Application     Kind = "application"
	Device          Kind = "device"
	ControlSystem   Kind = "control_system"
	Constant        Kind = "constant"
	TriggerReceiver Kind = "trigger_receiver"
)

// Node is one endpoint of a network. It carries enough to classify itself before the
// network is resolved.
type Node struct {
	// Name identifies the node: the qualified endpoint name for application nodes, the
	// directory name for control-system nodes, "<device>:<register>" for device nodes.
	Name string
	// Owner is the real path of the owning module, empty for non-application nodes.
	Owner string

	Direction Direction
	Mode      Mode
	Kind      Kind

	// Type is the value type. nil accepts any type and is used by trigger receivers.
	Type reflect.Type
	// Unit is the engineering unit. Empty matches every unit.
	Unit        string
	Description string
	Tags        []string

	// ReturnChannel marks a consumer that writes back to the feeder, or a feeder that
	// accepts such writes.
	ReturnChannel bool

	// Device and Register locate device nodes.
	Device   string
	Register string

	// Value is the payload of a constant feeder.
	Value any

	// Payload is the engine's endpoint behind this node, opaque to the network.
	Payload any
}

// IsFeeding reports whether the node produces values.
func (n *Node) IsFeeding() bool { return n.Direction == Feeding }

// IsPush reports whether the node uses push timing.
func (n *Node) IsPush() bool { return n.Mode == Push }

// String formats the node for error messages.
func (n *Node) String() string {
	return fmt.Sprintf("%s(%s %s %s)", n.Name, n.Kind, n.Mode, n.Direction)
}

// DeviceNode builds a node bound to a register of a hardware backend. Device registers
// are read by polling, so the feeding side is poll and the consuming side push.
func DeviceNode(device, register string, dir Direction, typ reflect.Type, unit string) *Node {
	mode := Push
	if dir == Feeding {
		mode = Poll
	}
	return &Node{
		Name:      device + ":" + register,
		Direction: dir,
		Mode:      mode,
		Kind:      Device,
		Type:      typ,
		Unit:      unit,
		Device:    device,
		Register:  register,
	}
}

// ConstantNode builds a push feeder writing value once.
func ConstantNode(value any) *Node {
	return &Node{
		Name:      fmt.Sprintf("<constant %v>", value),
		Direction: Feeding,
		Mode:      Push,
		Kind:      Constant,
		Type:      reflect.TypeOf(value),
		Value:     value,
	}
}
