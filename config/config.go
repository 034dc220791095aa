package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"time"

	"pomcp/engine"
	"pomcp/experiments"
	"pomcp/searcher"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable that overrides a setting.
const EnvPrefix = "POMCP_"

// Config is the full configuration of the command line tool. Defaults are
// tuned for the Tiger problem, whose costs span two orders of magnitude.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Planner    PlannerConfig    `yaml:"planner"`
	Episode    EpisodeConfig    `yaml:"episode"`
	Experiment ExperimentConfig `yaml:"experiment"`
}

type PlannerConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	MaxDepth          int           `yaml:"max_depth"`
	Samples           int           `yaml:"samples"`
	Duration          time.Duration `yaml:"duration"` // 0 for no time budget
	ExplorationWeight float64       `yaml:"exploration_weight"`
	Discount          float64       `yaml:"discount"`
	DefaultCost       float64       `yaml:"default_cost"`
	TerminalValue     float64       `yaml:"terminal_value"`
	DeadEndCost       float64       `yaml:"dead_end_cost"`
	BeliefCapacity    int           `yaml:"belief_capacity"` // 0 for unbounded
	Seed              uint64        `yaml:"seed"`            // 0 for a time based seed
}

type EpisodeConfig struct {
	Mode     string `yaml:"mode"` // online or offline
	MaxSteps int    `yaml:"max_steps"`
	Seed     uint64 `yaml:"seed"`
}

type ExperimentConfig struct {
	OutputDir string          `yaml:"output_dir"`
	Episodes  int             `yaml:"episodes"`
	Budgets   []int           `yaml:"budgets"`
	Durations []time.Duration `yaml:"durations"`
	Metrics   bool            `yaml:"metrics"` // Export search metrics to prometheus
}

func Default() Config {
	return Config{
		LogLevel: zerolog.LevelInfoValue,
		Planner: PlannerConfig{
			MaxIterations:     2000,
			MaxDepth:          20,
			Samples:           1000,
			ExplorationWeight: 100,
			Discount:          0.95,
		},
		Episode: EpisodeConfig{
			Mode:     engine.Online.String(),
			MaxSteps: engine.MaxSteps,
		},
		Experiment: ExperimentConfig{
			OutputDir: experiments.OutputDir,
			Episodes:  experiments.NumEpisodes,
			Budgets:   []int{10, 100, 1000},
			Durations: []time.Duration{time.Millisecond, 10 * time.Millisecond},
		},
	}
}

// Load builds the configuration with priority env > file > defaults. An
// empty path skips the file.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, errors.Wrap(err, "failed to read config file")
		}
		if err := decode(data, &config); err != nil {
			return config, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if err := loadEnv(&config, os.LookupEnv); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, errors.Wrap(err, "invalid config")
	}
	return config, nil
}

// decode rejects unknown keys so that typos do not silently fall back to
// defaults.
func decode(data []byte, config *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && err != io.EOF {
		return err
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func loadEnv(config *Config, lookup lookupFunc) error {
	env := envReader{lookup: lookup}

	env.stringVar("LOG_LEVEL", &config.LogLevel)

	// Planner
	env.intVar("MAX_ITERATIONS", &config.Planner.MaxIterations)
	env.intVar("MAX_DEPTH", &config.Planner.MaxDepth)
	env.intVar("SAMPLES", &config.Planner.Samples)
	env.durationVar("DURATION", &config.Planner.Duration)
	env.floatVar("EXPLORATION_WEIGHT", &config.Planner.ExplorationWeight)
	env.floatVar("DISCOUNT", &config.Planner.Discount)
	env.floatVar("DEFAULT_COST", &config.Planner.DefaultCost)
	env.floatVar("TERMINAL_VALUE", &config.Planner.TerminalValue)
	env.floatVar("DEAD_END_COST", &config.Planner.DeadEndCost)
	env.intVar("BELIEF_CAPACITY", &config.Planner.BeliefCapacity)
	env.uintVar("SEED", &config.Planner.Seed)

	// Episode
	env.stringVar("MODE", &config.Episode.Mode)
	env.intVar("MAX_STEPS", &config.Episode.MaxSteps)
	env.uintVar("EPISODE_SEED", &config.Episode.Seed)

	// Experiment
	env.stringVar("OUTPUT_DIR", &config.Experiment.OutputDir)
	env.intVar("EPISODES", &config.Experiment.Episodes)
	env.boolVar("METRICS", &config.Experiment.Metrics)

	return env.err
}

// envReader applies overrides until the first malformed value.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (r *envReader) get(name string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, ok := r.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (r *envReader) fail(name string, err error) {
	r.err = errors.Wrapf(err, "invalid %s%s", EnvPrefix, name)
}

func (r *envReader) stringVar(name string, target *string) {
	if v, ok := r.get(name); ok {
		*target = v
	}
}

func (r *envReader) intVar(name string, target *int) {
	if v, ok := r.get(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*target = i
	}
}

func (r *envReader) uintVar(name string, target *uint64) {
	if v, ok := r.get(name); ok {
		u, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*target = u
	}
}

func (r *envReader) floatVar(name string, target *float64) {
	if v, ok := r.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(name, err)
			return
		}
		*target = f
	}
}

func (r *envReader) durationVar(name string, target *time.Duration) {
	if v, ok := r.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*target = d
	}
}

func (r *envReader) boolVar(name string, target *bool) {
	if v, ok := r.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(name, err)
			return
		}
		*target = b
	}
}

func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Errorf("unknown log_level %q", c.LogLevel)
	}

	p := c.Planner
	if p.MaxIterations < 1 {
		return errors.New("max_iterations must be >= 1")
	}
	if p.MaxDepth < 1 {
		return errors.New("max_depth must be >= 1")
	}
	if p.Samples < 1 {
		return errors.New("samples must be >= 1")
	}
	if p.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	if p.ExplorationWeight <= 0 {
		return errors.New("exploration_weight must be > 0")
	}
	if p.Discount <= 0 || p.Discount > 1 {
		return errors.New("discount must be in (0, 1]")
	}
	if p.BeliefCapacity < 0 {
		return errors.New("belief_capacity must be >= 0")
	}

	if _, err := c.Episode.ParseMode(); err != nil {
		return err
	}
	if c.Episode.MaxSteps < 1 {
		return errors.New("max_steps must be >= 1")
	}

	e := c.Experiment
	if e.Episodes < 1 {
		return errors.New("episodes must be >= 1")
	}
	for _, b := range e.Budgets {
		if b < 1 {
			return errors.Errorf("budget %d must be >= 1", b)
		}
	}
	for _, d := range e.Durations {
		if d <= 0 {
			return errors.Errorf("duration %v must be > 0", d)
		}
	}
	return nil
}

func (e EpisodeConfig) ParseMode() (engine.Mode, error) {
	switch e.Mode {
	case engine.Online.String():
		return engine.Online, nil
	case engine.Offline.String():
		return engine.Offline, nil
	}
	return 0, errors.Errorf("unknown mode %q, want online or offline", e.Mode)
}

// PlannerOptions converts the planner section into construction options.
func (c Config) PlannerOptions() []searcher.Option {
	p := c.Planner
	options := []searcher.Option{
		searcher.WithMaxIterations(p.MaxIterations),
		searcher.WithMaxDepth(p.MaxDepth),
		searcher.WithSamples(p.Samples),
		searcher.WithExplorationWeight(p.ExplorationWeight),
		searcher.WithDiscount(p.Discount),
		searcher.WithDefaultCost(p.DefaultCost),
		searcher.WithTerminalValue(p.TerminalValue),
		searcher.WithDeadEndCost(p.DeadEndCost),
		searcher.WithBeliefCapacity(p.BeliefCapacity),
	}
	if p.Duration > 0 {
		options = append(options, searcher.WithDuration(p.Duration))
	}
	if p.Seed != 0 {
		options = append(options, searcher.WithSeed(p.Seed))
	}
	return options
}

// EngineOptions converts the episode section into engine options. The
// configuration must be valid.
func (c Config) EngineOptions() []engine.Option {
	mode, _ := c.Episode.ParseMode()
	options := []engine.Option{
		engine.WithMode(mode),
		engine.WithMaxSteps(c.Episode.MaxSteps),
		engine.WithDiscount(c.Planner.Discount),
	}
	if c.Episode.Seed != 0 {
		options = append(options, engine.WithSeed(c.Episode.Seed))
	}
	return options
}

// Experiments converts the configuration into an experiment description.
// Seeds default to 1 so that experiments are reproducible. Every planner
// setting is carried over; budgets and seeds are replaced per run.
func (c Config) Experiments() experiments.Config {
	mode, _ := c.Episode.ParseMode()
	seed := c.Planner.Seed
	if seed == 0 {
		seed = 1
	}
	return experiments.Config{
		OutputDir: c.Experiment.OutputDir,
		Episodes:  c.Experiment.Episodes,
		Budgets:   c.Experiment.Budgets,
		Durations: c.Experiment.Durations,
		MaxDepth:  c.Planner.MaxDepth,
		Samples:   c.Planner.Samples,
		Weight:    c.Planner.ExplorationWeight,
		Discount:  c.Planner.Discount,
		Online:    mode == engine.Online,
		MaxSteps:  c.Episode.MaxSteps,
		Seed:      seed,

		PlannerOptions: c.PlannerOptions(),
	}
}
