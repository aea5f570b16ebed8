package validity

import (
	"strconv"
	"sync/atomic"
)

// Version is a causality token. Larger versions happened after smaller ones. The zero
// Version precedes every issued token.
type Version int64

// String returns the decimal form of the version.
func (v Version) String() string {
	return "v" + strconv.FormatInt(int64(v), 10)
}

// Clock issues strictly increasing versions. It is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first version is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns a new version greater than every version issued before.
func (c *Clock) Next() Version {
	return Version(c.seq.Add(1))
}

// Current returns the most recently issued version.
func (c *Clock) Current() Version {
	return Version(c.seq.Load())
}

// maxVersion atomically raises v to at least candidate.
func maxVersion(v *atomic.Int64, candidate Version) {
	for {
		cur := v.Load()
		if int64(candidate) <= cur || v.CompareAndSwap(cur, int64(candidate)) {
			return
		}
	}
}
