package searcher

import (
	"golang.org/x/exp/rand"
)

// Defaults for the planner configuration
const (
	DefaultMaxIterations = 5000
	DefaultMaxDepth      = 50
	DefaultSamples       = 5000
	DefaultWeight        = 1.0 // UCT exploration weight
	DefaultDiscount      = 1.0
)

// Outcome is the result of stepping a state with an action.
type Outcome[S any, O comparable] struct {
	State       S
	Observation O
	Cost        float64
}

// Simulator is the generative model a domain exposes to the planner.
// States are treated as immutable values: Step must return a new state
// rather than mutate the one it was given, since the same state may be
// stored as a particle in several nodes.
type Simulator[S any, A comparable, O comparable] interface {
	// LegalActions returns the actions applicable in state, empty if none.
	LegalActions(state S) ([]A, error)
	// Step samples a successor state, an observation and a finite cost.
	// Repeated calls with the same arguments draw independent outcomes.
	Step(rng *rand.Rand, state S, action A) (Outcome[S, O], error)
	IsTerminal(state S) bool
	// SampleInitialState draws from the initial belief of the episode.
	SampleInitialState(rng *rand.Rand) (S, error)
}
