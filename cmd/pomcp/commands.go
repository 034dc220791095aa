package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"pomcp/config"
	"pomcp/domain/tiger"
	"pomcp/engine"
	"pomcp/experiments"
	"pomcp/experiments/metrics"
	"pomcp/searcher"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	logLevel    string
	cfg         config.Config
	episodes    int
	kind        string
	metricsAddr string
	dotDepth    int

	rootCmd = &cobra.Command{
		Use:           "pomcp",
		Short:         "Plan in partially observable domains with Monte-Carlo tree search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			return setupLogging(cfg.LogLevel)
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Play Tiger episodes and report their returns",
		Args:  cobra.NoArgs,
		RunE:  runEpisodes,
	}

	experimentCmd = &cobra.Command{
		Use:   "experiment",
		Short: "Compare planner budgets on Tiger and write CSV records",
		Args:  cobra.NoArgs,
		RunE:  runExperiment,
	}

	dotCmd = &cobra.Command{
		Use:   "dot",
		Short: "Solve the first Tiger step and print the search tree in graphviz format",
		Args:  cobra.NoArgs,
		RunE:  printTree,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides the config")

	runCmd.Flags().IntVarP(&episodes, "episodes", "n", 1, "Number of episodes")

	experimentCmd.Flags().StringVar(&kind, "kind", "budget", "Experiment to run: budget or throughput")
	experimentCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address while running")

	dotCmd.Flags().IntVar(&dotDepth, "depth", 2, "Levels below the root to draw")

	rootCmd.AddCommand(runCmd, experimentCmd, dotCmd)
}

func setupLogging(level string) error {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(l)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	return nil
}

func newPlanner(env *tiger.Tiger, options ...searcher.Option) *searcher.Planner[tiger.State, tiger.Action, tiger.Observation] {
	options = append(cfg.PlannerOptions(), options...)
	return searcher.NewPlanner[tiger.State, tiger.Action, tiger.Observation](env, options...).
		UseRollout(tiger.ListenFirst(0.5))
}

func runEpisodes(cmd *cobra.Command, args []string) error {
	env := tiger.New()
	planner := newPlanner(env, searcher.WithMetrics(metrics.NewCollector()))
	e := engine.NewLocalEngine[tiger.State, tiger.Action, tiger.Observation](env, planner, tiger.ListenFirst(0.5), cfg.EngineOptions()...)

	out := cmd.OutOrStdout()
	for i := 0; i < episodes; i++ {
		episode, steps, err := e.Run(cmd.Context())
		if err != nil {
			return errors.Wrapf(err, "episode %d", i+1)
		}
		fmt.Fprintf(out, "episode %d: return %.2f in %d steps (%d fallbacks)\n", i+1, episode.Return, episode.Steps, episode.Fallbacks)
		for _, step := range steps {
			fmt.Fprintf(out, "  %2d %-10s -> %-12s cost %7.2f  %d simulations\n",
				step.Step, step.Action, step.Observation, step.Cost, step.Simulations)
		}
	}
	return nil
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ecfg := cfg.Experiments()
	if cfg.Experiment.Metrics || metricsAddr != "" {
		ecfg.Registerer = prometheus.DefaultRegisterer
	}
	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr)
		defer stop()
	}

	var summaries []experiments.Summary
	var err error
	switch kind {
	case "budget":
		summaries, err = experiments.RunBudgetExperiment(cmd.Context(), ecfg)
	case "throughput":
		summaries, err = experiments.RunThroughputExperiment(cmd.Context(), ecfg)
	default:
		return errors.Errorf("unknown experiment %q, want budget or throughput", kind)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-4s %-10s %-10s %10s %10s %8s %12s\n", "id", "budget", "duration", "return", "std err", "steps", "sims/s")
	for _, s := range summaries {
		fmt.Fprintf(out, "%-4d %-10d %-10v %10.2f %10.2f %8.1f %12.0f\n",
			s.Planner.ID, s.Planner.MaxIterations, s.Planner.Duration, s.MeanReturn, s.StdErr, s.MeanSteps, s.SimulationsPerSecond)
	}
	return nil
}

// serveMetrics exposes the default registry until the returned func is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Info().Msgf("serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics server did not shut down cleanly")
		}
	}
}

func printTree(cmd *cobra.Command, args []string) error {
	planner := newPlanner(tiger.New())
	if err := planner.Solve(cmd.Context()); err != nil {
		return err
	}

	dot, err := planner.ToDot(dotDepth)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), dot)
	return nil
}
