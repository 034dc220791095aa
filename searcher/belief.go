package searcher

import (
	"golang.org/x/exp/rand"
)

// Belief is an unweighted particle set approximating the distribution over
// hidden states at a history. Particles are only ever added. With a positive
// capacity the set keeps a uniform reservoir sample of every particle offered
// to it instead of growing without bound.
type Belief[S any] struct {
	particles []S
	capacity  int
	seen      int // Particles offered, including those the reservoir dropped
}

func newBelief[S any](capacity int) *Belief[S] {
	return &Belief[S]{capacity: capacity}
}

// Add inserts a particle. rng is only consulted once the reservoir is full.
func (b *Belief[S]) Add(rng *rand.Rand, state S) {
	b.seen++
	if b.capacity <= 0 || len(b.particles) < b.capacity {
		b.particles = append(b.particles, state)
		return
	}
	if i := rng.Intn(b.seen); i < b.capacity {
		b.particles[i] = state
	}
}

// Sample draws a particle uniformly at random with replacement.
func (b *Belief[S]) Sample(rng *rand.Rand) (S, error) {
	if len(b.particles) == 0 {
		var zero S
		return zero, ErrEmptyBelief
	}
	return b.particles[rng.Intn(len(b.particles))], nil
}

func (b *Belief[S]) Len() int {
	return len(b.particles)
}

func (b *Belief[S]) Capacity() int {
	return b.capacity
}

// Particles returns a copy of the stored particles.
func (b *Belief[S]) Particles() []S {
	particles := make([]S, len(b.particles))
	copy(particles, b.particles)
	return particles
}
