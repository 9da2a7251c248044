package weaver

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Sampler decides whether an instance is flagged for quality audit.
type Sampler interface {
	Sample(percent float64) bool
}

// RandSampler samples from a seeded PCG source.
//
// Thread-safety: Sample is safe for concurrent use.
type RandSampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSampler creates a sampler. A zero seed seeds from the wall clock.
func NewRandSampler(seed uint64) *RandSampler {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandSampler{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

// Sample returns true with probability percent/100.
func (s *RandSampler) Sample(percent float64) bool {
	switch {
	case percent <= 0:
		return false
	case percent >= 100:
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()*100 < percent
}
