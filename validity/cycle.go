package validity

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync/atomic"
)

// Cycle is a circular network: a strongly connected set of owners whose inputs feed each
// other. Its invalidity counter counts faulty inputs that enter the cycle from outside.
type Cycle struct {
	hash       uint64
	owners     []string
	invalidity atomic.Int64

	observer func(hash uint64, invalidity int64)
}

func newCycle(owners []string) *Cycle {
	sorted := append([]string(nil), owners...)
	sort.Strings(sorted)
	h := fnv.New64a()
	for _, o := range sorted {
		h.Write([]byte(o))
		h.Write([]byte{0})
	}
	return &Cycle{hash: h.Sum64(), owners: sorted}
}

// Hash identifies the cycle. It depends only on the member names.
func (c *Cycle) Hash() uint64 {
	return c.hash
}

// Name returns the sorted member names joined by "+".
func (c *Cycle) Name() string {
	return strings.Join(c.owners, "+")
}

// Owners returns the sorted member names.
func (c *Cycle) Owners() []string {
	return append([]string(nil), c.owners...)
}

// Invalidity returns the number of faulty external inputs of the cycle.
func (c *Cycle) Invalidity() int64 {
	return c.invalidity.Load()
}

// SetObserver installs fn to be called after every invalidity change.
func (c *Cycle) SetObserver(fn func(hash uint64, invalidity int64)) {
	c.observer = fn
}

func (c *Cycle) increment() {
	n := c.invalidity.Add(1)
	if c.observer != nil {
		c.observer(c.hash, n)
	}
}

func (c *Cycle) decrement() {
	n := c.invalidity.Add(-1)
	if c.observer != nil {
		c.observer(c.hash, n)
	}
}

// Edge is a data dependency: Consumer reads a value written by Producer.
type Edge struct {
	Producer string
	Consumer string
}

// Cycles is the result of cycle detection over an owner graph.
type Cycles struct {
	byOwner map[string]*Cycle
	all     []*Cycle
}

// DetectCycles finds all circular networks among owners connected by edges. Every owner
// that is part of a strongly connected component with more than one member, or that feeds
// itself, is assigned to exactly one Cycle.
func DetectCycles(edges []Edge) *Cycles {
	adj := make(map[string][]string)
	var nodes []string
	seen := make(map[string]bool)
	self := make(map[string]bool)
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	for _, e := range edges {
		add(e.Producer)
		add(e.Consumer)
		adj[e.Producer] = append(adj[e.Producer], e.Consumer)
		if e.Producer == e.Consumer {
			self[e.Producer] = true
		}
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		sort.Strings(adj[n])
	}

	t := &tarjan{
		adj:     adj,
		index:   make(map[string]int),
		low:     make(map[string]int),
		onStack: make(map[string]bool),
	}
	for _, n := range nodes {
		if _, visited := t.index[n]; !visited {
			t.visit(n)
		}
	}

	result := &Cycles{byOwner: make(map[string]*Cycle)}
	for _, comp := range t.components {
		if len(comp) == 1 && !self[comp[0]] {
			continue
		}
		c := newCycle(comp)
		result.all = append(result.all, c)
		for _, o := range comp {
			result.byOwner[o] = c
		}
	}
	sort.Slice(result.all, func(i, j int) bool { return result.all[i].Name() < result.all[j].Name() })
	return result
}

// Of returns the cycle owner belongs to, or nil.
func (c *Cycles) Of(owner string) *Cycle {
	if c == nil {
		return nil
	}
	return c.byOwner[owner]
}

// All returns every detected cycle sorted by name.
func (c *Cycles) All() []*Cycle {
	if c == nil {
		return nil
	}
	return c.all
}

// Internal reports whether the edge producer -> consumer lies inside a single cycle.
func (c *Cycles) Internal(producer, consumer string) bool {
	pc := c.Of(producer)
	return pc != nil && pc == c.Of(consumer)
}

// Attach assigns each state to its cycle. It must run before the owners start.
func (c *Cycles) Attach(states map[string]*OwnerState) {
	for name, s := range states {
		s.cycle = c.Of(name)
	}
}

type tarjan struct {
	adj        map[string][]string
	counter    int
	index      map[string]int
	low        map[string]int
	stack      []string
	onStack    map[string]bool
	components [][]string
}

func (t *tarjan) visit(n string) {
	t.index[n] = t.counter
	t.low[n] = t.counter
	t.counter++
	t.stack = append(t.stack, n)
	t.onStack[n] = true

	for _, m := range t.adj[n] {
		if _, visited := t.index[m]; !visited {
			t.visit(m)
			t.low[n] = min(t.low[n], t.low[m])
		} else if t.onStack[m] {
			t.low[n] = min(t.low[n], t.index[m])
		}
	}

	if t.low[n] != t.index[n] {
		return
	}
	var comp []string
	for {
		top := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[top] = false
		comp = append(comp, top)
		if top == n {
			break
		}
	}
	t.components = append(t.components, comp)
}
