package experiments

import (
	"context"
	"time"

	"pomcp/domain/tiger"
	"pomcp/engine"
	"pomcp/experiments/metrics"
	"pomcp/searcher"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	NumEpisodes = 30 // Per planner configuration
	OutputDir   = "results"
)

// Config describes an experiment on the Tiger problem. Each planner
// configuration plays Episodes episodes with seeds derived from Seed.
type Config struct {
	OutputDir  string
	Episodes   int
	Budgets    []int           // Iterations per solve, for the budget experiment
	Durations  []time.Duration // Time per solve, for the throughput experiment
	MaxDepth   int
	Samples    int
	Weight     float64
	Discount   float64
	Online     bool
	MaxSteps   int
	Seed       uint64
	Registerer prometheus.Registerer // Exports search metrics when set

	// PlannerOptions are applied to every planner before the options of its
	// configuration, which take precedence.
	PlannerOptions []searcher.Option
}

// Summary aggregates the episodes of one planner configuration.
type Summary struct {
	Planner              metrics.PlannerConfig
	Episodes             int
	MeanReturn           float64
	StdDev               float64
	StdErr               float64
	MeanSteps            float64
	Fallbacks            int
	SimulationsPerSecond float64
}

// RunBudgetExperiment compares iteration budgets: one planner configuration
// per entry of cfg.Budgets.
func RunBudgetExperiment(ctx context.Context, cfg Config) ([]Summary, error) {
	if len(cfg.Budgets) == 0 {
		return nil, errors.New("budget experiment needs at least one budget")
	}

	configs := make([]metrics.PlannerConfig, 0, len(cfg.Budgets))
	for i, budget := range cfg.Budgets {
		if budget <= 0 {
			return nil, errors.Errorf("budget %d must be positive", budget)
		}
		configs = append(configs, metrics.PlannerConfig{
			ID:            i + 1,
			MaxIterations: budget,
			MaxDepth:      cfg.MaxDepth,
			Samples:       cfg.Samples,
			Weight:        cfg.Weight,
			Online:        cfg.Online,
		})
	}
	return runExperiment(ctx, "budget", cfg, configs)
}

func runExperiment(ctx context.Context, name string, cfg Config, configs []metrics.PlannerConfig) ([]Summary, error) {
	if cfg.Episodes <= 0 {
		cfg.Episodes = NumEpisodes
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = OutputDir
	}
	collector, err := newCollector(cfg.Registerer)
	if err != nil {
		return nil, err
	}

	// Run a number of episodes for each planner configuration
	count := 0
	episodeRecords := []metrics.EpisodeRecord{}
	stepRecords := []metrics.StepRecord{}
	summaries := make([]Summary, 0, len(configs))

	log.Info().Msgf("starting %s experiment...", name)

	for ci, config := range configs {
		log.Info().Msgf("starting planner %d of %d with %+v...", ci+1, len(configs), config)

		returns := make([]float64, 0, cfg.Episodes)
		summary := Summary{Planner: config, Episodes: cfg.Episodes}
		simulations, searchTime := 0, time.Duration(0)
		for i := 0; i < cfg.Episodes; i++ {
			seed := cfg.Seed + uint64(count)
			episode, steps, err := runEpisode(ctx, cfg, config, seed, collector)
			if err != nil {
				return nil, errors.Wrapf(err, "planner %d episode %d", config.ID, i+1)
			}
			count++
			episodeRecords = append(episodeRecords, metrics.EpisodeRecord{
				ID:            count,
				Planner:       config.ID,
				EpisodeMetric: episode,
			})
			for _, sm := range steps {
				stepRecords = append(stepRecords, metrics.StepRecord{
					Episode:    count,
					StepMetric: sm,
				})
				simulations += sm.Simulations
				searchTime += sm.Duration
			}

			returns = append(returns, episode.Return)
			summary.MeanSteps += float64(episode.Steps) / float64(cfg.Episodes)
			summary.Fallbacks += episode.Fallbacks
			log.Debug().Msgf("completed planner %d episode %d with return %.2f", config.ID, i+1, episode.Return)
		}

		summary.MeanReturn, summary.StdDev = stat.MeanStdDev(returns, nil)
		if len(returns) < 2 { // No spread to estimate from a single episode
			summary.StdDev = 0
		}
		summary.StdErr = stat.StdErr(summary.StdDev, float64(len(returns)))
		if searchTime > 0 {
			summary.SimulationsPerSecond = float64(simulations) / searchTime.Seconds()
		}
		summaries = append(summaries, summary)

		log.Info().Msgf("completed planner %d of %d: return %.2f ± %.2f, %.1f steps, %d fallbacks, %.0f simulations/s",
			ci+1, len(configs), summary.MeanReturn, summary.StdErr, summary.MeanSteps, summary.Fallbacks, summary.SimulationsPerSecond)
	}

	log.Info().Msgf("completed %s experiment", name)

	if err := store(cfg.OutputDir, name, configs, episodeRecords, stepRecords); err != nil {
		return nil, err
	}
	return summaries, nil
}

func store(root, name string, configs []metrics.PlannerConfig, episodes []metrics.EpisodeRecord, steps []metrics.StepRecord) error {
	writer, err := metrics.NewWriter(root, name)
	if err != nil {
		return errors.Wrap(err, "failed to create experiment writer")
	}

	if err := writer.WritePlannerConfigs(configs); err != nil {
		return errors.Wrap(err, "failed to store planner configs")
	}
	log.Info().Msg("stored planner configs")

	if err := writer.WriteEpisodeRecords(episodes); err != nil {
		return errors.Wrap(err, "failed to write episode records")
	}
	log.Info().Msg("stored episode records")

	if err := writer.WriteStepRecords(steps); err != nil {
		return errors.Wrap(err, "failed to write step records")
	}
	log.Info().Msgf("stored step records in %s", writer.Dir())
	return nil
}

func newCollector(reg prometheus.Registerer) (metrics.Collector, error) {
	if reg == nil {
		return metrics.NewCollector(), nil
	}
	collector, err := metrics.NewPrometheusCollector(metrics.NewCollector(), reg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register search metrics")
	}
	return collector, nil
}

// runEpisode plays one Tiger episode with a fresh planner.
func runEpisode(ctx context.Context, cfg Config, config metrics.PlannerConfig, seed uint64, collector metrics.Collector) (metrics.EpisodeMetric, []metrics.StepMetric, error) {
	env := tiger.New()
	planner := createPlanner(env, cfg, config, seed, collector)

	mode := engine.Offline
	if config.Online {
		mode = engine.Online
	}
	options := []engine.Option{engine.WithMode(mode), engine.WithSeed(seed)}
	if cfg.MaxSteps > 0 {
		options = append(options, engine.WithMaxSteps(cfg.MaxSteps))
	}
	if cfg.Discount > 0 {
		options = append(options, engine.WithDiscount(cfg.Discount))
	}
	e := engine.NewLocalEngine[tiger.State, tiger.Action, tiger.Observation](env, planner, tiger.ListenFirst(0.5), options...)

	return e.Run(ctx)
}

func createPlanner(env *tiger.Tiger, cfg Config, config metrics.PlannerConfig, seed uint64, collector metrics.Collector) *searcher.Planner[tiger.State, tiger.Action, tiger.Observation] {
	options := make([]searcher.Option, 0, len(cfg.PlannerOptions)+8)
	options = append(options, cfg.PlannerOptions...)
	options = append(options, searcher.WithSeed(seed), searcher.WithMetrics(collector))

	if config.MaxIterations > 0 {
		options = append(options, searcher.WithMaxIterations(config.MaxIterations))
	}
	if config.Duration > 0 {
		options = append(options, searcher.WithDuration(config.Duration))
	}
	if config.MaxDepth > 0 {
		options = append(options, searcher.WithMaxDepth(config.MaxDepth))
	}
	if config.Samples > 0 {
		options = append(options, searcher.WithSamples(config.Samples))
	}
	if config.Weight > 0 {
		options = append(options, searcher.WithExplorationWeight(config.Weight))
	}
	if cfg.Discount > 0 {
		options = append(options, searcher.WithDiscount(cfg.Discount))
	}

	return searcher.NewPlanner[tiger.State, tiger.Action, tiger.Observation](env, options...).
		UseRollout(tiger.ListenFirst(0.5))
}
