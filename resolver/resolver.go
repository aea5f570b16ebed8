package resolver

import (
	"github.com/c360/varnet/network"
)

// Plan is the resolved form of one network.
type Plan struct {
	Network *network.Network
	Shape   Shape
}

// Resolution is the outcome of resolving a whole graph.
type Resolution struct {
	Plans    []Plan
	Triggers *TriggerRegistry
	// Conflated counts networks merged away by the conflation pass.
	Conflated int
}

// Counts returns the number of plans per shape.
func (r *Resolution) Counts() map[Shape]int {
	out := make(map[Shape]int, len(Shapes))
	for _, s := range Shapes {
		out[s] = 0
	}
	for _, p := range r.Plans {
		out[p.Shape]++
	}
	return out
}

// PlanOf returns the plan of network n.
func (r *Resolution) PlanOf(n *network.Network) (Plan, bool) {
	for _, p := range r.Plans {
		if p.Network == n {
			return p, true
		}
	}
	return Plan{}, false
}

// Resolve conflates networks sharing a feeder, validates legality and selects a shape
// for every network. Any failure is a fatal configuration error and nothing is built.
func Resolve(g *network.Graph) (*Resolution, error) {
	merged, err := Conflate(g)
	if err != nil {
		return nil, err
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}

	res := &Resolution{Triggers: NewTriggerRegistry(), Conflated: merged}
	for _, n := range g.Networks() {
		shape, err := Select(n)
		if err != nil {
			return nil, err
		}
		if shape == TriggerFanOut {
			if err := res.Triggers.Register(n); err != nil {
				return nil, err
			}
		}
		res.Plans = append(res.Plans, Plan{Network: n, Shape: shape})
	}
	return res, nil
}

// Conflate merges networks whose feeders are the same node or name the same
// non-application source: a device register or a control-system variable. Application
// and constant feeders are only merged when they are the identical node. It returns the
// number of networks merged away.
func Conflate(g *network.Graph) (int, error) {
	merged := 0
	seen := make(map[string]*network.Network)
	byNode := make(map[*network.Node]*network.Network)
	for i := 0; i < len(g.Networks()); {
		n := g.Networks()[i]
		f := n.Feeder()
		if f == nil {
			i++
			continue
		}
		dst := byNode[f]
		if dst == nil && (f.Kind == network.Device || f.Kind == network.ControlSystem) {
			dst = seen[string(f.Kind)+"|"+f.Name]
		}
		if dst == nil {
			byNode[f] = n
			if f.Kind == network.Device || f.Kind == network.ControlSystem {
				seen[string(f.Kind)+"|"+f.Name] = n
			}
			i++
			continue
		}
		if dst.Feeder() != f {
			// same source, distinct node objects: keep one feeder
			n.DetachFeeder()
		}
		if err := g.Merge(dst, n); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}
