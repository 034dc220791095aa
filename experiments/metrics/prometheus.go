package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type promCollector struct {
	Collector
	simulations  prometheus.Counter
	fullRollouts prometheus.Counter
	solves       *prometheus.CounterVec
	duration     prometheus.Histogram
	depth        prometheus.Histogram
	nodes        prometheus.Gauge
}

// NewPrometheusCollector wraps inner so that every recorded event is also
// exported through reg. Registration fails if the metric names are taken.
func NewPrometheusCollector(inner Collector, reg prometheus.Registerer) (Collector, error) {
	if inner == nil {
		inner = NewCollector()
	}
	c := &promCollector{
		Collector: inner,
		simulations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pomcp_simulations_total",
			Help: "Total simulations run by the planner",
		}),
		fullRollouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pomcp_full_rollouts_total",
			Help: "Rollouts that reached a terminal state before the depth cap",
		}),
		solves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pomcp_solves_total",
			Help: "Completed solve calls by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pomcp_solve_duration_seconds",
			Help:    "Solve duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}),
		depth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pomcp_simulation_depth",
			Help:    "Tree depth reached per simulation",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pomcp_tree_nodes",
			Help: "History nodes in the search tree after the last solve",
		}),
	}

	for _, m := range []prometheus.Collector{c.simulations, c.fullRollouts, c.solves, c.duration, c.depth, c.nodes} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *promCollector) AddSimulation(depth int) {
	c.Collector.AddSimulation(depth)
	c.simulations.Inc()
	c.depth.Observe(float64(depth))
}

func (c *promCollector) AddFullRollout() {
	c.Collector.AddFullRollout()
	c.fullRollouts.Inc()
}

func (c *promCollector) Complete(nodes int, stoppedEarly bool) SearchMetric {
	metric := c.Collector.Complete(nodes, stoppedEarly)
	outcome := "completed"
	if stoppedEarly {
		outcome = "stopped"
	}
	c.solves.WithLabelValues(outcome).Inc()
	c.duration.Observe(metric.Duration.Seconds())
	c.nodes.Set(float64(nodes))
	return metric
}
