package validity

// InputPropagator tracks the validity of one input endpoint and forwards transitions to
// its owner and, for external inputs of a circular network, to the cycle.
// It is used by the single goroutine that reads the input.
type InputPropagator struct {
	owner    *OwnerState
	last     Validity
	internal bool
}

// NewInputPropagator creates a propagator for an input owned by owner. internal marks
// inputs fed from inside the owner's own circular network.
func NewInputPropagator(owner *OwnerState, internal bool) *InputPropagator {
	return &InputPropagator{owner: owner, internal: internal}
}

// SetInternal updates the cycle-internal flag. Only valid before the owner runs.
func (p *InputPropagator) SetInternal(internal bool) {
	p.internal = internal
}

// Internal reports whether the input is fed from inside the owner's circular network.
func (p *InputPropagator) Internal() bool {
	return p.internal
}

// Last returns the validity of the most recent received value.
func (p *InputPropagator) Last() Validity {
	return p.last
}

// Received processes one completed read. push marks blocking receives of pushed updates,
// which advance the owner's causality token.
func (p *InputPropagator) Received(version Version, v Validity, push bool) {
	if push {
		p.owner.SetVersion(version)
	}
	if v == p.last {
		return
	}

	cycle := p.owner.Cycle()
	if v == Faulty {
		if p.internal {
			p.owner.internalFaults.Add(1)
		}
		p.owner.IncrementFaultCounter()
		if cycle != nil && !p.internal {
			cycle.increment()
		}
	} else {
		if p.internal {
			p.owner.internalFaults.Add(-1)
		}
		p.owner.DecrementFaultCounter()
		if cycle != nil && !p.internal {
			cycle.decrement()
		}
	}
	p.last = v
}

// Outgoing computes the validity attached to a write. A value explicitly marked faulty by
// the application stays faulty, otherwise the owner's aggregate validity is used.
func Outgoing(owner *OwnerState, appFaulty bool) Validity {
	if appFaulty {
		return Faulty
	}
	if owner == nil {
		return OK
	}
	return owner.Validity()
}
