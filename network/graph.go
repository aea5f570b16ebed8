package network

import (
	"slices"

	"github.com/c360/varnet/errors"
)

// Graph owns every network of an application.
type Graph struct {
	networks []*Network
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{}
}

// NewNetwork creates an empty network in the graph.
func (g *Graph) NewNetwork() *Network {
	n := &Network{id: len(g.networks)}
	g.networks = append(g.networks, n)
	return n
}

// Networks returns all networks in creation order.
func (g *Graph) Networks() []*Network {
	return g.networks
}

// Len returns the number of networks.
func (g *Graph) Len() int {
	return len(g.networks)
}

// NetworkOf returns the network containing node.
func (g *Graph) NetworkOf(node *Node) (*Network, bool) {
	for _, n := range g.networks {
		if n.Has(node) {
			return n, true
		}
	}
	return nil, false
}

// FeederNetwork returns the network fed by a node with the given name.
func (g *Graph) FeederNetwork(name string) (*Network, bool) {
	for _, n := range g.networks {
		if n.feeder != nil && n.feeder.Name == name {
			return n, true
		}
	}
	return nil, false
}

// Merge moves every node and trigger relation of src into dst and removes src from the
// graph. It fails if the merged network would break the feeder or trigger rules.
func (g *Graph) Merge(dst, src *Network) error {
	if dst == src {
		return nil
	}
	if src.feeder != nil && dst.feeder != nil && src.feeder != dst.feeder {
		return errors.Fatalf(errors.ErrDuplicateFeeder, "Graph", "Merge",
			"%s and %s cannot share a network", src.feeder, dst.feeder)
	}
	if src.feeder != nil && dst.feeder == nil {
		if err := dst.AddNode(src.feeder); err != nil {
			return err
		}
	}
	for _, c := range src.consumers {
		if err := dst.AddNode(c); err != nil {
			return err
		}
	}
	if src.trigger != nil {
		src.trigger.triggered = slices.DeleteFunc(src.trigger.triggered, func(n *Network) bool { return n == src })
		if err := dst.AddTrigger(src.trigger); err != nil {
			return err
		}
	}
	for _, t := range src.triggered {
		t.trigger = dst
		if !slices.Contains(dst.triggered, t) {
			dst.triggered = append(dst.triggered, t)
		}
	}
	g.remove(src)
	return nil
}

func (g *Graph) remove(n *Network) {
	g.networks = slices.DeleteFunc(g.networks, func(x *Network) bool { return x == n })
	for i, x := range g.networks {
		x.id = i
	}
}

// Validate runs the legality check. It runs once after all networks and triggers are
// known, since a trigger declared late can change whether a poll network is legal.
func (g *Graph) Validate() error {
	for _, n := range g.networks {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}
