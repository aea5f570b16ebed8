package resolver

import (
	"github.com/c360/varnet/errors"
	"github.com/c360/varnet/network"
)

// TriggerEntry is a trigger network with the networks it drives.
type TriggerEntry struct {
	Trigger    *network.Network
	Dependents []*network.Network
}

// TriggerRegistry maps the identity of a trigger's feeder node to its dependents.
type TriggerRegistry struct {
	entries map[string]*TriggerEntry
	order   []string
}

// NewTriggerRegistry creates an empty registry.
func NewTriggerRegistry() *TriggerRegistry {
	return &TriggerRegistry{entries: make(map[string]*TriggerEntry)}
}

// Register records trigger with its current dependents. A second network with the same
// feeder identity is fatal.
func (r *TriggerRegistry) Register(trigger *network.Network) error {
	key := trigger.Feeder().Name
	if existing, ok := r.entries[key]; ok {
		if existing.Trigger == trigger {
			return nil
		}
		return errors.Fatalf(errors.ErrDuplicateTrigger, "TriggerRegistry", "Register",
			"trigger %s registered by two networks", key)
	}
	r.entries[key] = &TriggerEntry{
		Trigger:    trigger,
		Dependents: append([]*network.Network(nil), trigger.Triggered()...),
	}
	r.order = append(r.order, key)
	return nil
}

// Lookup returns the entry for a trigger feeder identity.
func (r *TriggerRegistry) Lookup(key string) (*TriggerEntry, bool) {
	e, ok := r.entries[key]
	return e, ok
}

// Entries returns all entries in registration order.
func (r *TriggerRegistry) Entries() []*TriggerEntry {
	out := make([]*TriggerEntry, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.entries[k])
	}
	return out
}

// Len returns the number of registered triggers.
func (r *TriggerRegistry) Len() int {
	return len(r.entries)
}
