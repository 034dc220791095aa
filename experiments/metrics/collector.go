package metrics

import (
	"time"
)

type SearchMetric struct {
	Duration     time.Duration
	Simulations  int
	FullRollouts int // Rollouts that reached a terminal state before the depth cap
	MaxDepth     int
	Nodes        int
	IsTreeReused bool
	StoppedEarly bool
}

type StepMetric struct {
	Step        int
	Action      string
	Observation string
	Cost        float64
	SearchMetric
}

type EpisodeMetric struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Steps      int
	Return     float64 // Discounted cumulative cost
	Terminated bool    // False if the episode hit the step limit
	Fallbacks  int     // Steps where the planner had no policy and the rollout policy acted
}

// Collector records search metrics. The planner is single threaded so
// implementations need no synchronization.
type Collector interface {
	Start(treeReused bool)
	AddSimulation(depth int)
	AddFullRollout()
	Complete(nodes int, stoppedEarly bool) SearchMetric
}

type collector struct {
	startTime    time.Time
	simulations  int
	fullRollouts int
	maxDepth     int
	isTreeReused bool
}

func NewCollector() Collector {
	return &collector{}
}

func (m *collector) Start(treeReused bool) {
	m.startTime = time.Now()
	m.simulations = 0
	m.fullRollouts = 0
	m.maxDepth = 0
	m.isTreeReused = treeReused
}

func (m *collector) AddSimulation(depth int) {
	m.simulations++
	if depth > m.maxDepth {
		m.maxDepth = depth
	}
}

func (m *collector) AddFullRollout() {
	m.fullRollouts++
}

func (m *collector) Complete(nodes int, stoppedEarly bool) SearchMetric {
	return SearchMetric{
		Duration:     time.Since(m.startTime),
		Simulations:  m.simulations,
		FullRollouts: m.fullRollouts,
		MaxDepth:     m.maxDepth,
		Nodes:        nodes,
		IsTreeReused: m.isTreeReused,
		StoppedEarly: stoppedEarly,
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(treeReused bool)           {}
func (m *dummyCollector) AddSimulation(depth int)         {}
func (m *dummyCollector) AddFullRollout()                 {}
func (m *dummyCollector) Complete(int, bool) SearchMetric { return SearchMetric{} }
