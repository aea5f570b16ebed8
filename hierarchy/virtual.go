package hierarchy

import (
	"slices"
	"strings"
)

// VirtualEndpoint is an endpoint as it appears in a virtual view.
type VirtualEndpoint struct {
	ID            EndpointID
	Name          string
	QualifiedName string
	Tags          []string
	Payload       any
}

// VirtualNode is one level of a read-only virtual view. It does not own the endpoints it
// lists. Several real owners that resolve to the same virtual path share one node, and
// endpoints with equal qualified names appear side by side.
type VirtualNode struct {
	Name      string
	Path      string
	Children  []*VirtualNode
	Endpoints []VirtualEndpoint
}

// Child returns the direct child with the given name.
func (n *VirtualNode) Child(name string) *VirtualNode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Get returns the node at the slash-delimited path relative to n.
func (n *VirtualNode) Get(path string) *VirtualNode {
	cur := n
	for _, seg := range splitPath(path) {
		if cur = cur.Child(seg); cur == nil {
			return nil
		}
	}
	return cur
}

// Walk visits n and all descendants depth first until fn returns false.
func (n *VirtualNode) Walk(fn func(*VirtualNode) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.Children {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// AllEndpoints lists endpoints of n and its descendants depth first.
func (n *VirtualNode) AllEndpoints() []VirtualEndpoint {
	var out []VirtualEndpoint
	n.Walk(func(v *VirtualNode) bool {
		out = append(out, v.Endpoints...)
		return true
	})
	return out
}

// Lookup returns every endpoint whose qualified name equals name.
func (n *VirtualNode) Lookup(name string) []VirtualEndpoint {
	name = Join(name)
	var out []VirtualEndpoint
	for _, e := range n.AllEndpoints() {
		if e.QualifiedName == name {
			out = append(out, e)
		}
	}
	return out
}

// Names returns the sorted distinct qualified endpoint names in the view.
func (n *VirtualNode) Names() []string {
	var names []string
	for _, e := range n.AllEndpoints() {
		names = append(names, e.QualifiedName)
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func (n *VirtualNode) ensure(segs []string) *VirtualNode {
	cur := n
	for _, seg := range segs {
		next := cur.Child(seg)
		if next == nil {
			next = &VirtualNode{Name: seg, Path: Join(cur.Path, seg)}
			cur.Children = append(cur.Children, next)
		}
		cur = next
	}
	return cur
}

// View builds the virtual view of all attached endpoints accepted by keep. keep receives
// the endpoint and its effective tags. A malformed virtual path fails the whole view.
func (t *Tree) View(keep func(e Endpoint, tags []string) bool) (*VirtualNode, error) {
	root := &VirtualNode{Path: "/"}
	for _, id := range t.Endpoints(Root, true) {
		e, _ := t.Endpoint(id)
		tags := t.EffectiveTags(id)
		if keep != nil && !keep(e, tags) {
			continue
		}
		name, err := t.VirtualName(id)
		if err != nil {
			return nil, err
		}
		segs := splitPath(name)
		node := root.ensure(segs[:len(segs)-1])
		node.Endpoints = append(node.Endpoints, VirtualEndpoint{
			ID:            id,
			Name:          segs[len(segs)-1],
			QualifiedName: name,
			Tags:          tags,
			Payload:       e.Payload,
		})
	}
	return root, nil
}

// ExtractTag returns the view of endpoints that carry tag directly or through an owner.
func (t *Tree) ExtractTag(tag string) (*VirtualNode, error) {
	return t.View(func(_ Endpoint, tags []string) bool {
		return slices.Contains(tags, tag)
	})
}

// FindTag is ExtractTag with support for a leading "!" to negate the tag.
func (t *Tree) FindTag(tag string) (*VirtualNode, error) {
	if negated, ok := strings.CutPrefix(tag, "!"); ok {
		return t.ExcludeTag(negated)
	}
	return t.ExtractTag(tag)
}

// ExcludeTag returns the view of endpoints that do not carry tag.
func (t *Tree) ExcludeTag(tag string) (*VirtualNode, error) {
	return t.View(func(_ Endpoint, tags []string) bool {
		return !slices.Contains(tags, tag)
	})
}
