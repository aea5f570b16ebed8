package engine

import (
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/c360/varnet/config"
	"github.com/c360/varnet/directory"
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/hierarchy"
	"github.com/c360/varnet/network"
)

// csBinding is the payload of a control-system node.
type csBinding struct {
	variable directory.Variable
}

// discardBinding is the payload of the consumer added to feeders nobody reads.
type discardBinding struct{}

// group collects the nodes that share a virtual name.
type group struct {
	name      string
	nodes     []*network.Node
	app       bool
	published bool
	trigger   string
}

type pendingTrigger struct {
	net     *network.Network
	trigger string
	what    string
}

// assembly turns the owner hierarchy, the explicit connections and the device
// registers into a network graph.
type assembly struct {
	a       *Application
	g       *network.Graph
	byID    map[hierarchy.EndpointID]*endpoint
	publish map[*endpoint]bool

	explicitFeeds map[*endpoint]*network.Network
	explicitUses  map[*endpoint]bool

	groups  map[string]*group
	order   []string
	byName  map[string]*network.Network
	pending []pendingTrigger

	warnings []Issue
}

func newAssembly(a *Application) *assembly {
	return &assembly{
		a:             a,
		g:             network.NewGraph(),
		byID:          make(map[hierarchy.EndpointID]*endpoint, len(a.endpoints)),
		publish:       make(map[*endpoint]bool),
		explicitFeeds: make(map[*endpoint]*network.Network),
		explicitUses:  make(map[*endpoint]bool),
		groups:        make(map[string]*group),
		byName:        make(map[string]*network.Network),
	}
}

func (s *assembly) build() (*network.Graph, error) {
	for _, ep := range s.a.endpoints {
		s.byID[ep.id] = ep
	}
	if err := s.names(); err != nil {
		return nil, err
	}
	if err := s.explicit(); err != nil {
		return nil, err
	}
	s.collect()
	for _, name := range s.order {
		if err := s.network(s.groups[name]); err != nil {
			return nil, err
		}
	}
	for _, p := range s.pending {
		t, ok := s.byName[p.trigger]
		if !ok {
			return nil, errors.Fatalf(errors.ErrMissingTrigger, "Application", "Initialise",
				"trigger %q of %s is not a variable", p.trigger, p.what)
		}
		if err := p.net.AddTrigger(t); err != nil {
			return nil, err
		}
	}
	s.discard()
	s.a.warnings = s.warnings
	return s.g, nil
}

// names assigns the virtual name of every endpoint and the set of published ones.
func (s *assembly) names() error {
	view, err := s.a.tree.View(nil)
	if err != nil {
		return err
	}
	for _, ve := range view.AllEndpoints() {
		ep, ok := ve.Payload.(*endpoint)
		if !ok {
			continue
		}
		ep.public = ve.QualifiedName
		ep.node.Name = s.a.tree.QualifiedName(ep.id)
		ep.node.Owner = ep.module.Path()
		ep.node.Tags = ve.Tags
	}

	tag := s.a.cfg.Engine.PublishTag
	if tag == "" {
		for _, ep := range s.a.endpoints {
			s.publish[ep] = true
		}
		return nil
	}
	pub, err := s.a.tree.FindTag(tag)
	if err != nil {
		return err
	}
	for _, ve := range pub.AllEndpoints() {
		if ep, ok := ve.Payload.(*endpoint); ok {
			s.publish[ep] = true
		}
	}
	return nil
}

// explicit builds the networks requested with Connect, ConnectTo and ConnectDevice.
func (s *assembly) explicit() error {
	for _, c := range s.a.connections {
		if err := s.connect(c.feeder, c.consumers...); err != nil {
			return err
		}
	}
	for _, l := range s.a.ownerLinks {
		if err := s.link(l); err != nil {
			return err
		}
	}
	for _, l := range s.a.deviceLinks {
		if err := s.linkDevice(l); err != nil {
			return err
		}
	}
	return nil
}

func (s *assembly) connect(feeder *endpoint, consumers ...*endpoint) error {
	if feeder.id < 0 {
		return errors.Fatalf(errors.ErrUnknownOwner, "Application", "Connect", "feeder %q is not registered", feeder.name)
	}
	n, ok := s.explicitFeeds[feeder]
	if !ok {
		n = s.g.NewNetwork()
		if err := n.AddNode(feeder.node); err != nil {
			return err
		}
		s.explicitFeeds[feeder] = n
		feeder.explicit = true
	}
	for _, c := range consumers {
		if c.id < 0 {
			return errors.Fatalf(errors.ErrUnknownOwner, "Application", "Connect", "consumer %q is not registered", c.name)
		}
		if s.explicitUses[c] && !n.Has(c.node) {
			return errors.Fatalf(errors.ErrDuplicateFeeder, "Application", "Connect",
				"%s is already connected to another feeder", c.variable())
		}
		if err := n.AddNode(c.node); err != nil {
			return err
		}
		s.explicitUses[c] = true
		c.explicit = true
	}
	return nil
}

// endpointsOf lists the endpoints of o and its sub-owners by name relative to o.
func (s *assembly) endpointsOf(o *ownerBase) map[string]*endpoint {
	base := s.a.tree.Path(o.id)
	out := make(map[string]*endpoint)
	for _, id := range s.a.tree.Endpoints(o.id, true) {
		ep, ok := s.byID[id]
		if !ok {
			continue
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(s.a.tree.QualifiedName(id), base), "/")
		out[rel] = ep
	}
	return out
}

func (s *assembly) link(l ownerLink) error {
	if l.src.id == hierarchy.NoOwner || l.dst.id == hierarchy.NoOwner {
		return errors.Fatalf(errors.ErrUnknownOwner, "Application", "ConnectTo", "owner is not registered")
	}
	src, dst := s.endpointsOf(l.src), s.endpointsOf(l.dst)
	matched := 0
	for _, rel := range slices.Sorted(maps.Keys(src)) {
		ep := src[rel]
		other, ok := dst[rel]
		if !ok {
			continue
		}
		feeder, consumer := ep, other
		if !ep.node.IsFeeding() {
			feeder, consumer = other, ep
		}
		if !feeder.node.IsFeeding() || consumer.node.IsFeeding() {
			return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "ConnectTo",
				"%s and %s have the same direction", ep.variable(), other.variable())
		}
		if err := s.connect(feeder, consumer); err != nil {
			return err
		}
		matched++
	}
	if matched == 0 {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "ConnectTo",
			"no endpoint of %s matches %s", l.src.Path(), l.dst.Path())
	}
	return nil
}

func (s *assembly) linkDevice(l deviceLink) error {
	var dev *deviceBinding
	for _, d := range s.a.devices {
		if d.name == l.device {
			dev = d
		}
	}
	if dev == nil {
		return errors.Fatalf(errors.ErrInvalidConfig, "Application", "ConnectDevice", "unknown device %q", l.device)
	}
	if l.owner.id == hierarchy.NoOwner {
		return errors.Fatalf(errors.ErrUnknownOwner, "Application", "ConnectDevice", "owner is not registered")
	}
	eps := s.endpointsOf(l.owner)
	matched := 0
	for _, rel := range slices.Sorted(maps.Keys(eps)) {
		ep := eps[rel]
		r, ok := dev.register(rel)
		if !ok {
			continue
		}
		node := dev.registerNode(r)
		n := s.g.NewNetwork()
		if err := n.AddNode(node); err != nil {
			return err
		}
		if err := n.AddNode(ep.node); err != nil {
			return err
		}
		if node.IsFeeding() == ep.node.IsFeeding() {
			return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "ConnectDevice",
				"%s and register %s:%s have the same direction", ep.variable(), dev.name, r.Name)
		}
		ep.explicit = true
		trigger := l.trigger
		if trigger == "" {
			trigger = r.Trigger
		}
		if node.IsFeeding() && trigger != "" {
			s.pending = append(s.pending, pendingTrigger{net: n, trigger: trigger, what: node.Name})
		}
		matched++
	}
	if matched == 0 {
		return errors.Fatalf(errors.ErrIllegalNetwork, "Application", "ConnectDevice",
			"no endpoint of %s matches a register of %s", l.owner.Path(), dev.name)
	}
	return nil
}

func (s *assembly) groupOf(name string) *group {
	g, ok := s.groups[name]
	if !ok {
		g = &group{name: name}
		s.groups[name] = g
		s.order = append(s.order, name)
	}
	return g
}

// collect groups the remaining endpoints, the device registers and the device status
// feeders by name.
func (s *assembly) collect() {
	for _, ep := range s.a.endpoints {
		if ep.explicit || ep.public == "" {
			continue
		}
		g := s.groupOf(ep.public)
		g.nodes = append(g.nodes, ep.node)
		g.app = true
		g.published = g.published || s.publish[ep]
	}
	for _, d := range s.a.devices {
		for _, r := range d.registers {
			g := s.groupOf(r.Path)
			g.nodes = append(g.nodes, d.registerNode(r))
			if !g.app {
				g.published = true
			}
			if r.Direction == config.DirectionRead && r.Trigger != "" {
				g.trigger = r.Trigger
			}
		}
		status, message := d.statusNodes()
		for _, n := range []*network.Node{status, message} {
			g := s.groupOf(n.Name)
			g.nodes = append(g.nodes, n)
			g.published = true
		}
		s.a.bindStatus(d, status.Payload.(*statusBinding), message.Payload.(*statusBinding))
	}
}

// network builds the network of one name group and completes it with control-system
// nodes or a constant feeder.
func (s *assembly) network(g *group) error {
	var feeder *network.Node
	var consumers []*network.Node
	for _, n := range g.nodes {
		if n.IsFeeding() {
			if feeder != nil {
				return errors.Fatalf(errors.ErrDuplicateFeeder, "Application", "Initialise",
					"%s is fed by %s and %s", g.name, feeder, n)
			}
			feeder = n
		} else {
			consumers = append(consumers, n)
		}
	}

	published := g.published
	if feeder != nil && !feeder.IsPush() && g.trigger == "" {
		if len(consumers) == 0 {
			s.warn("untriggered_register", g.name, "read register has no trigger and no consumer, it is not published")
			return nil
		}
		published = false
	}

	n := s.g.NewNetwork()
	for _, node := range g.nodes {
		if err := n.AddNode(node); err != nil {
			return err
		}
	}
	s.byName[g.name] = n
	if g.trigger != "" {
		s.pending = append(s.pending, pendingTrigger{net: n, trigger: g.trigger, what: g.name})
	}

	switch {
	case published && feeder != nil:
		cs := &network.Node{
			Name:      g.name,
			Direction: network.Consuming,
			Mode:      network.Push,
			Kind:      network.ControlSystem,
			Type:      feeder.Type,
			Unit:      feeder.Unit,
			Payload: &csBinding{variable: directory.Variable{
				Name:        g.name,
				Type:        feeder.Type,
				Unit:        feeder.Unit,
				Description: feeder.Description,
				Access:      directory.ReadOnly,
			}},
		}
		return n.AddNode(cs)

	case published:
		typ, unit, desc, back := consumerShape(consumers)
		cs := &network.Node{
			Name:          g.name,
			Direction:     network.Feeding,
			Mode:          network.Push,
			Kind:          network.ControlSystem,
			Type:          typ,
			Unit:          unit,
			ReturnChannel: back,
			Payload: &csBinding{variable: directory.Variable{
				Name:        g.name,
				Type:        typ,
				Unit:        unit,
				Description: desc,
				Access:      directory.ReadWrite,
			}},
		}
		return n.AddNode(cs)

	case feeder == nil:
		typ, _, _, _ := consumerShape(consumers)
		c := network.ConstantNode(reflect.Zero(typ).Interface())
		c.Name = "<constant " + g.name + ">"
		s.warn("constant_feeder", g.name, "no feeder, consumers receive the zero value once")
		return n.AddNode(c)
	}
	return nil
}

// consumerShape derives the variable of a network fed by the control system.
func consumerShape(consumers []*network.Node) (typ reflect.Type, unit, desc string, back bool) {
	for _, c := range consumers {
		if typ == nil {
			typ = c.Type
		}
		if unit == "" {
			unit = c.Unit
		}
		if desc == "" {
			desc = c.Description
		}
		back = back || c.ReturnChannel
	}
	if typ == nil {
		typ = reflect.TypeFor[float64]()
	}
	return typ, unit, desc, back
}

// discard gives feeders nobody reads a consumer that drops every value.
func (s *assembly) discard() {
	for _, n := range s.g.Networks() {
		f := n.Feeder()
		if f == nil || len(n.Consumers()) > 0 || len(n.Triggered()) > 0 {
			continue
		}
		_ = n.AddNode(&network.Node{
			Name:      "<discard " + f.Name + ">",
			Direction: network.Consuming,
			Mode:      network.Push,
			Kind:      network.Constant,
			Type:      f.Type,
			Unit:      f.Unit,
			Payload:   discardBinding{},
		})
		if f.Kind == network.Application {
			s.warn("discarded_output", f.Name, "output has no consumer")
		}
	}
}

func (s *assembly) warn(kind, name, msg string) {
	s.warnings = append(s.warnings, Issue{Type: kind, Severity: "warning", Variable: name, Message: msg})
}
