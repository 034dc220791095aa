package tiger

import (
	"pomcp/searcher"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
)

// Default model parameters
const (
	DefaultAccuracy     = 0.85
	DefaultListenCost   = 1.0
	DefaultTigerCost    = 100.0
	DefaultTreasureCost = -10.0
)

type Door int

const (
	Left Door = iota
	Right
)

func (d Door) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "UNKNOWN DOOR"
}

// State is the hidden position of the tiger. Done is set once a door was
// opened.
type State struct {
	Tiger Door
	Done  bool
}

type Action int

const (
	Listen Action = iota
	OpenLeft
	OpenRight
)

func (a Action) String() string {
	switch a {
	case Listen:
		return "listen"
	case OpenLeft:
		return "open-left"
	case OpenRight:
		return "open-right"
	}
	return "UNKNOWN ACTION"
}

type Observation int

const (
	Nothing Observation = iota // Heard after opening a door
	GrowlLeft
	GrowlRight
)

func (o Observation) String() string {
	switch o {
	case Nothing:
		return "nothing"
	case GrowlLeft:
		return "growl-left"
	case GrowlRight:
		return "growl-right"
	}
	return "UNKNOWN OBSERVATION"
}

// Tiger is the episodic Tiger problem: a tiger hides behind one of two doors
// and the agent listens for growls until it commits to opening one. Costs
// are negated rewards so opening the safe door has a negative cost.
type Tiger struct {
	Accuracy     float64 // Probability a growl comes from the tiger's side
	ListenCost   float64
	TigerCost    float64
	TreasureCost float64
}

var _ searcher.Simulator[State, Action, Observation] = (*Tiger)(nil)

func New() *Tiger {
	return &Tiger{
		Accuracy:     DefaultAccuracy,
		ListenCost:   DefaultListenCost,
		TigerCost:    DefaultTigerCost,
		TreasureCost: DefaultTreasureCost,
	}
}

func (t *Tiger) LegalActions(state State) ([]Action, error) {
	if state.Done {
		return nil, nil
	}
	return []Action{Listen, OpenLeft, OpenRight}, nil
}

func (t *Tiger) Step(rng *rand.Rand, state State, action Action) (searcher.Outcome[State, Observation], error) {
	if state.Done {
		return searcher.Outcome[State, Observation]{}, errors.Errorf("%v after the episode ended", action)
	}

	switch action {
	case Listen:
		heard := state.Tiger
		if rng.Float64() >= t.Accuracy {
			heard = 1 - heard
		}
		observation := GrowlLeft
		if heard == Right {
			observation = GrowlRight
		}
		return searcher.Outcome[State, Observation]{State: state, Observation: observation, Cost: t.ListenCost}, nil
	case OpenLeft, OpenRight:
		opened := Left
		if action == OpenRight {
			opened = Right
		}
		cost := t.TreasureCost
		if opened == state.Tiger {
			cost = t.TigerCost
		}
		next := State{Tiger: state.Tiger, Done: true}
		return searcher.Outcome[State, Observation]{State: next, Observation: Nothing, Cost: cost}, nil
	}
	return searcher.Outcome[State, Observation]{}, errors.Errorf("unknown action %d", action)
}

func (t *Tiger) IsTerminal(state State) bool {
	return state.Done
}

// SampleInitialState places the tiger behind either door with equal odds.
func (t *Tiger) SampleInitialState(rng *rand.Rand) (State, error) {
	if rng.Intn(2) == 0 {
		return State{Tiger: Left}, nil
	}
	return State{Tiger: Right}, nil
}

// ListenFirst is a rollout policy that listens with the given probability
// and otherwise picks uniformly. Uniform rollouts open a door two times out
// of three, which ends most of them on the first step.
func ListenFirst(listenProbability float64) searcher.RolloutPolicy[State, Action] {
	return searcher.RolloutFunc[State, Action](func(state State, legal []Action, rng *rand.Rand) Action {
		if rng.Float64() < listenProbability {
			for _, a := range legal {
				if a == Listen {
					return a
				}
			}
		}
		return legal[rng.Intn(len(legal))]
	})
}
