package experiments

import (
	"context"
	"math"

	"pomcp/experiments/metrics"

	"github.com/pkg/errors"
)

// RunThroughputExperiment gives every solve a wall-clock budget instead of an
// iteration budget, one planner configuration per entry of cfg.Durations.
// Summaries report how many simulations fit in each budget.
func RunThroughputExperiment(ctx context.Context, cfg Config) ([]Summary, error) {
	if len(cfg.Durations) == 0 {
		return nil, errors.New("throughput experiment needs at least one duration")
	}

	configs := make([]metrics.PlannerConfig, 0, len(cfg.Durations))
	for i, duration := range cfg.Durations {
		if duration <= 0 {
			return nil, errors.Errorf("duration %v must be positive", duration)
		}
		configs = append(configs, metrics.PlannerConfig{
			ID:            i + 1,
			MaxIterations: math.MaxInt32, // Time bound only
			Duration:      duration,
			MaxDepth:      cfg.MaxDepth,
			Samples:       cfg.Samples,
			Weight:        cfg.Weight,
			Online:        cfg.Online,
		})
	}
	return runExperiment(ctx, "throughput", cfg, configs)
}
