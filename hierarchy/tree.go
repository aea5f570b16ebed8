package hierarchy

import (
	"fmt"
	"slices"
	"sort"

	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/validity"
)

// OwnerID addresses an owner in a Tree. The zero value is the root.
type OwnerID int

// Root is the handle of the tree root.
const Root OwnerID = 0

// NoOwner marks a detached owner or endpoint.
const NoOwner OwnerID = -1

// EndpointID addresses an endpoint in a Tree.
type EndpointID int

// OwnerSpec describes an owner to create. Name may carry path syntax ("/X", "../X", "..")
// which is applied on top of an explicit Modifier.
type OwnerSpec struct {
	Name        string
	Description string
	Tags        []string
	Modifier    Modifier
}

// EndpointSpec describes an endpoint to register. Payload is opaque to the tree and is
// handed back unchanged, typically the engine's accessor description.
type EndpointSpec struct {
	Name        string
	Description string
	Tags        []string
	Payload     any
}

// Owner is a read-only snapshot of an owner.
type Owner struct {
	ID          OwnerID
	Name        string
	Description string
	Tags        []string
	Modifier    Modifier
	Parent      OwnerID
	Children    []OwnerID
	Endpoints   []EndpointID
}

// Endpoint is a read-only snapshot of an endpoint.
type Endpoint struct {
	ID          EndpointID
	Name        string
	Description string
	Tags        []string
	Owner       OwnerID
	Payload     any
}

type ownerSlot struct {
	live      bool
	spec      OwnerSpec
	parent    OwnerID
	children  []OwnerID
	endpoints []EndpointID
	state     *validity.OwnerState
}

// modifier returns the explicit modifier, or the one the name's path syntax expresses.
func (o *ownerSlot) modifier() Modifier {
	if o.spec.Modifier != None {
		return o.spec.Modifier
	}
	return ModifierOf(o.spec.Name)
}

type endpointSlot struct {
	live  bool
	spec  EndpointSpec
	owner OwnerID
}

// Tree is an arena of owners and endpoints. It is built by a single goroutine during
// assembly and is read-only after Seal.
type Tree struct {
	owners    []ownerSlot
	endpoints []endpointSlot
	sealed    bool
}

// NewTree creates a tree holding only the root owner.
func NewTree(description string) *Tree {
	t := &Tree{}
	t.owners = append(t.owners, ownerSlot{
		live:   true,
		spec:   OwnerSpec{Description: description},
		parent: NoOwner,
	})
	return t
}

// Seal freezes the structure. Later mutations fail.
func (t *Tree) Seal() {
	t.sealed = true
}

// Sealed reports whether Seal was called.
func (t *Tree) Sealed() bool {
	return t.sealed
}

func (t *Tree) checkMutable(method string) error {
	if t.sealed {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Tree", method, "structure change")
	}
	return nil
}

func (t *Tree) owner(id OwnerID) (*ownerSlot, bool) {
	if id < 0 || int(id) >= len(t.owners) || !t.owners[id].live {
		return nil, false
	}
	return &t.owners[id], true
}

func (t *Tree) endpoint(id EndpointID) (*endpointSlot, bool) {
	if id < 0 || int(id) >= len(t.endpoints) || !t.endpoints[id].live {
		return nil, false
	}
	return &t.endpoints[id], true
}

// NewOwner creates a detached owner. Attach it with RegisterOwner.
func (t *Tree) NewOwner(spec OwnerSpec) (OwnerID, error) {
	if err := t.checkMutable("NewOwner"); err != nil {
		return NoOwner, err
	}
	spec.Tags = normalizeTags(spec.Tags)
	t.owners = append(t.owners, ownerSlot{live: true, spec: spec, parent: NoOwner})
	return OwnerID(len(t.owners) - 1), nil
}

// RegisterOwner attaches child below parent. An owner has at most one parent.
func (t *Tree) RegisterOwner(parent, child OwnerID) error {
	if err := t.checkMutable("RegisterOwner"); err != nil {
		return err
	}
	p, ok := t.owner(parent)
	if !ok {
		return errors.Fatalf(errors.ErrUnknownOwner, "Tree", "RegisterOwner", "parent %d", parent)
	}
	c, ok := t.owner(child)
	if !ok || child == Root {
		return errors.Fatalf(errors.ErrUnknownOwner, "Tree", "RegisterOwner", "child %d", child)
	}
	if c.parent != NoOwner {
		return errors.Fatalf(errors.ErrDuplicateName, "Tree", "RegisterOwner",
			"owner %q already belongs to %s", c.spec.Name, t.Path(c.parent))
	}
	for a := parent; a != NoOwner; a = t.owners[a].parent {
		if a == child {
			return errors.Fatalf(errors.ErrMalformedPath, "Tree", "RegisterOwner",
				"owner %q cannot own its ancestor", c.spec.Name)
		}
	}
	c.parent = parent
	p.children = append(p.children, child)
	return nil
}

// UnregisterOwner detaches child from parent. The child and its content stay in the arena.
func (t *Tree) UnregisterOwner(parent, child OwnerID) error {
	if err := t.checkMutable("UnregisterOwner"); err != nil {
		return err
	}
	p, ok := t.owner(parent)
	if !ok {
		return errors.Fatalf(errors.ErrUnknownOwner, "Tree", "UnregisterOwner", "parent %d", parent)
	}
	idx := slices.Index(p.children, child)
	if idx < 0 {
		return errors.Fatalf(errors.ErrUnknownOwner, "Tree", "UnregisterOwner",
			"owner %d is not a child of %s", child, t.Path(parent))
	}
	p.children = slices.Delete(p.children, idx, idx+1)
	t.owners[child].parent = NoOwner
	return nil
}

// RegisterEndpoint adds an endpoint to owner. Names are unique within one owner.
func (t *Tree) RegisterEndpoint(owner OwnerID, spec EndpointSpec) (EndpointID, error) {
	if err := t.checkMutable("RegisterEndpoint"); err != nil {
		return -1, err
	}
	o, ok := t.owner(owner)
	if !ok {
		return -1, errors.Fatalf(errors.ErrUnknownOwner, "Tree", "RegisterEndpoint", "owner %d", owner)
	}
	if len(splitPath(spec.Name)) == 0 {
		return -1, errors.Fatalf(errors.ErrMalformedPath, "Tree", "RegisterEndpoint",
			"endpoint name %q is empty", spec.Name)
	}
	for _, id := range o.endpoints {
		if t.endpoints[id].spec.Name == spec.Name {
			return -1, errors.Fatalf(errors.ErrDuplicateName, "Tree", "RegisterEndpoint",
				"endpoint %q already exists in %s", spec.Name, t.Path(owner))
		}
	}
	spec.Tags = normalizeTags(spec.Tags)
	t.endpoints = append(t.endpoints, endpointSlot{live: true, spec: spec, owner: owner})
	id := EndpointID(len(t.endpoints) - 1)
	o.endpoints = append(o.endpoints, id)
	return id, nil
}

// UnregisterEndpoint removes an endpoint from its owner and the arena.
func (t *Tree) UnregisterEndpoint(id EndpointID) error {
	if err := t.checkMutable("UnregisterEndpoint"); err != nil {
		return err
	}
	e, ok := t.endpoint(id)
	if !ok {
		return errors.Fatalf(errors.ErrUnknownVariable, "Tree", "UnregisterEndpoint", "endpoint %d", id)
	}
	o := &t.owners[e.owner]
	if idx := slices.Index(o.endpoints, id); idx >= 0 {
		o.endpoints = slices.Delete(o.endpoints, idx, idx+1)
	}
	e.live = false
	e.owner = NoOwner
	return nil
}

// Owner returns a snapshot of the owner.
func (t *Tree) Owner(id OwnerID) (Owner, bool) {
	o, ok := t.owner(id)
	if !ok {
		return Owner{}, false
	}
	return Owner{
		ID:          id,
		Name:        o.spec.Name,
		Description: o.spec.Description,
		Tags:        slices.Clone(o.spec.Tags),
		Modifier:    o.modifier(),
		Parent:      o.parent,
		Children:    slices.Clone(o.children),
		Endpoints:   slices.Clone(o.endpoints),
	}, true
}

// Endpoint returns a snapshot of the endpoint.
func (t *Tree) Endpoint(id EndpointID) (Endpoint, bool) {
	e, ok := t.endpoint(id)
	if !ok {
		return Endpoint{}, false
	}
	return Endpoint{
		ID:          id,
		Name:        e.spec.Name,
		Description: e.spec.Description,
		Tags:        slices.Clone(e.spec.Tags),
		Owner:       e.owner,
		Payload:     e.spec.Payload,
	}, true
}

// Endpoints lists the endpoints of owner in registration order, depth first when recursive.
func (t *Tree) Endpoints(owner OwnerID, recursive bool) []EndpointID {
	o, ok := t.owner(owner)
	if !ok {
		return nil
	}
	out := slices.Clone(o.endpoints)
	if recursive {
		for _, c := range o.children {
			out = append(out, t.Endpoints(c, true)...)
		}
	}
	return out
}

// SubOwners lists the children of owner, depth first when recursive.
func (t *Tree) SubOwners(owner OwnerID, recursive bool) []OwnerID {
	o, ok := t.owner(owner)
	if !ok {
		return nil
	}
	var out []OwnerID
	for _, c := range o.children {
		out = append(out, c)
		if recursive {
			out = append(out, t.SubOwners(c, true)...)
		}
	}
	return out
}

// Find returns the attached child of parent with the given name.
func (t *Tree) Find(parent OwnerID, name string) (OwnerID, bool) {
	o, ok := t.owner(parent)
	if !ok {
		return NoOwner, false
	}
	for _, c := range o.children {
		if t.owners[c].spec.Name == name {
			return c, true
		}
	}
	return NoOwner, false
}

// Path returns the real path of the owner, ignoring modifiers. Detached owners are
// reported relative to their topmost ancestor.
func (t *Tree) Path(id OwnerID) string {
	var names []string
	for cur := id; cur != NoOwner && cur != Root; cur = t.owners[cur].parent {
		if int(cur) >= len(t.owners) {
			return fmt.Sprintf("<invalid %d>", id)
		}
		names = append(names, t.owners[cur].spec.Name)
	}
	slices.Reverse(names)
	return Join(names...)
}

// QualifiedName returns the real path of the endpoint.
func (t *Tree) QualifiedName(id EndpointID) string {
	e, ok := t.endpoint(id)
	if !ok {
		return ""
	}
	return Join(t.Path(e.owner), e.spec.Name)
}

// VirtualPath returns the owner's location in the public view with modifiers applied.
func (t *Tree) VirtualPath(id OwnerID) (string, error) {
	stack, err := t.virtualStack(id)
	if err != nil {
		return "", err
	}
	return joinPath(stack), nil
}

// VirtualName returns the endpoint's public name with modifiers applied.
func (t *Tree) VirtualName(id EndpointID) (string, error) {
	e, ok := t.endpoint(id)
	if !ok {
		return "", errors.Fatalf(errors.ErrUnknownVariable, "Tree", "VirtualName", "endpoint %d", id)
	}
	stack, err := t.virtualStack(e.owner)
	if err != nil {
		return "", err
	}
	stack, err = applyName(stack, e.spec.Name)
	if err != nil {
		return "", err
	}
	if len(stack) == 0 {
		return "", errors.Fatalf(errors.ErrMalformedPath, "Tree", "VirtualName",
			"endpoint %q resolves to the root", e.spec.Name)
	}
	return joinPath(stack), nil
}

func (t *Tree) virtualStack(id OwnerID) ([]string, error) {
	var chain []OwnerID
	for cur := id; cur != NoOwner && cur != Root; cur = t.owners[cur].parent {
		chain = append(chain, cur)
	}
	slices.Reverse(chain)

	stack := make([]string, 0, len(chain))
	var err error
	for _, o := range chain {
		spec := t.owners[o].spec
		stack, err = applyModifier(stack, spec.Name, spec.Modifier)
		if err != nil {
			return nil, err
		}
	}
	return stack, nil
}

// EffectiveTags returns the endpoint's tags merged with the tags of all its owners.
func (t *Tree) EffectiveTags(id EndpointID) []string {
	e, ok := t.endpoint(id)
	if !ok {
		return nil
	}
	tags := slices.Clone(e.spec.Tags)
	for cur := e.owner; cur != NoOwner; cur = t.owners[cur].parent {
		tags = append(tags, t.owners[cur].spec.Tags...)
	}
	return normalizeTags(tags)
}

// State returns the fault and causality state of the owner, created on first use and
// named after the owner's real path.
func (t *Tree) State(id OwnerID) *validity.OwnerState {
	o, ok := t.owner(id)
	if !ok {
		return nil
	}
	if o.state == nil {
		o.state = validity.NewOwnerState(t.Path(id))
	}
	return o.state
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := slices.Clone(tags)
	sort.Strings(out)
	return slices.Compact(out)
}
