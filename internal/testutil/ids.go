package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs issues "<prefix>-1", "<prefix>-2", ... so that tests and golden
// output see stable identifiers.
//
// Thread-safety: NewID is safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix defaults to "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequenceIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// FixedSampler answers every audit sample with Hit.
type FixedSampler struct {
	Hit bool
}

// Sample ignores percent and returns Hit.
func (s FixedSampler) Sample(float64) bool {
	return s.Hit
}
