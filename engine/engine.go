package engine

import (
	"context"

	"pomcp/experiments/metrics"
)

const MaxSteps = 100

// Mode decides how often the planner searches during an episode.
type Mode int

const (
	Online  Mode = iota // Search before every step from the updated belief
	Offline             // Search once, then follow the tree
)

func (m Mode) String() string {
	switch m {
	case Online:
		return "online"
	case Offline:
		return "offline"
	}
	return "UNKNOWN MODE"
}

type Engine interface {
	// Run plays an episode till a terminal state or a max number of steps is reached
	Run(ctx context.Context) (metrics.EpisodeMetric, []metrics.StepMetric, error)
}
