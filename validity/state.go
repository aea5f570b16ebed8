package validity

import (
	"sync/atomic"
)

// Validity flags whether a value should be trusted.
type Validity uint8

const (
	// OK marks trustworthy data
	OK Validity = iota
	// Faulty marks data derived from a failed source
	Faulty
)

// String returns "ok" or "faulty".
func (v Validity) String() string {
	if v == Faulty {
		return "faulty"
	}
	return "ok"
}

// Worst returns Faulty if either argument is faulty.
func Worst(a, b Validity) Validity {
	if a == Faulty || b == Faulty {
		return Faulty
	}
	return OK
}

// FaultObserver is notified with the new fault count after every change.
type FaultObserver func(owner string, count int64)

// OwnerState is the fault and causality bookkeeping of one module. Many goroutines may
// update it concurrently.
type OwnerState struct {
	name string

	faults         atomic.Int64
	internalFaults atomic.Int64
	version        atomic.Int64

	// cycle is assigned once after resolution, before any module runs.
	cycle *Cycle

	observer FaultObserver
}

// NewOwnerState creates the bookkeeping for the owner with the given qualified name.
func NewOwnerState(name string) *OwnerState {
	return &OwnerState{name: name}
}

// Name returns the owner's qualified name.
func (s *OwnerState) Name() string {
	return s.name
}

// SetObserver installs fn as fault observer. Must be called before the owner runs.
func (s *OwnerState) SetObserver(fn FaultObserver) {
	s.observer = fn
}

// IncrementFaultCounter raises the fault counter by one. Calls must be paired with
// DecrementFaultCounter.
func (s *OwnerState) IncrementFaultCounter() {
	s.notify(s.faults.Add(1))
}

// DecrementFaultCounter lowers the fault counter by one.
func (s *OwnerState) DecrementFaultCounter() {
	s.notify(s.faults.Add(-1))
}

func (s *OwnerState) notify(count int64) {
	if s.observer != nil {
		s.observer(s.name, count)
	}
}

// FaultCount returns the current fault counter.
func (s *OwnerState) FaultCount() int64 {
	return s.faults.Load()
}

// Validity returns the aggregate validity of the owner. Outside a circular network it is
// faulty iff the fault counter is non-zero. Inside one, faults that arrived over
// cycle-internal edges are ignored and the cycle's invalidity counter is consulted
// instead, so a cycle recovers as soon as all its external inputs do.
func (s *OwnerState) Validity() Validity {
	total := s.faults.Load()
	if s.cycle == nil {
		if total != 0 {
			return Faulty
		}
		return OK
	}
	if total-s.internalFaults.Load() != 0 || s.cycle.Invalidity() != 0 {
		return Faulty
	}
	return OK
}

// SetVersion advances the owner's causality token to v if v is newer.
func (s *OwnerState) SetVersion(v Version) {
	maxVersion(&s.version, v)
}

// Version returns the owner's current causality token.
func (s *OwnerState) Version() Version {
	return Version(s.version.Load())
}

// Cycle returns the circular network the owner belongs to, or nil.
func (s *OwnerState) Cycle() *Cycle {
	return s.cycle
}

// CycleHash returns the hash of the owner's circular network, 0 if none.
func (s *OwnerState) CycleHash() uint64 {
	if s.cycle == nil {
		return 0
	}
	return s.cycle.Hash()
}
