package searcher

import (
	"golang.org/x/exp/rand"
)

// RolloutPolicy chooses actions below the tree frontier. Implementations
// must not keep memory between calls so that rollouts stay independent.
type RolloutPolicy[S any, A comparable] interface {
	Choose(state S, legal []A, rng *rand.Rand) A
}

// RolloutFunc adapts a function to RolloutPolicy.
type RolloutFunc[S any, A comparable] func(state S, legal []A, rng *rand.Rand) A

func (f RolloutFunc[S, A]) Choose(state S, legal []A, rng *rand.Rand) A {
	return f(state, legal, rng)
}

// UniformRollout picks uniformly among the legal actions.
type UniformRollout[S any, A comparable] struct{}

func (UniformRollout[S, A]) Choose(_ S, legal []A, rng *rand.Rand) A {
	return legal[rng.Intn(len(legal))]
}
