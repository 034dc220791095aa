package engine

import (
	"context"
	"fmt"
	"time"

	"pomcp/experiments/metrics"
	"pomcp/searcher"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

type Option func(e *settings)

type settings struct {
	mode     Mode
	maxSteps int
	discount float64
	seed     uint64
	seeded   bool
}

func WithMode(mode Mode) Option {
	return func(e *settings) {
		e.mode = mode
	}
}

func WithMaxSteps(steps int) Option {
	return func(e *settings) {
		if steps > 0 {
			e.maxSteps = steps
		}
	}
}

// WithDiscount sets the discount applied to the episode return.
func WithDiscount(discount float64) Option {
	return func(e *settings) {
		if discount > 0 && discount <= 1 {
			e.discount = discount
		}
	}
}

// WithSeed seeds the environment, independently from the planner.
func WithSeed(seed uint64) Option {
	return func(e *settings) {
		e.seed = seed
		e.seeded = true
	}
}

// LocalEngine plays episodes of a simulator against a planner in process.
// The simulator doubles as the environment: the true state is sampled from
// its initial belief and stepped with the engine's own random source.
type LocalEngine[S any, A comparable, O comparable] struct {
	settings
	env     searcher.Simulator[S, A, O]
	planner *searcher.Planner[S, A, O]
	rollout searcher.RolloutPolicy[S, A]
	rng     *rand.Rand
}

var _ Engine = (*LocalEngine[int, int, int])(nil)

// NewLocalEngine creates an engine. rollout picks the action whenever the
// planner has no policy for the reached history, nil for uniform.
func NewLocalEngine[S any, A comparable, O comparable](
	env searcher.Simulator[S, A, O],
	planner *searcher.Planner[S, A, O],
	rollout searcher.RolloutPolicy[S, A],
	options ...Option,
) *LocalEngine[S, A, O] {
	if env == nil || planner == nil {
		panic("engine needs an environment and a planner")
	}
	if rollout == nil {
		rollout = searcher.UniformRollout[S, A]{}
	}

	e := &LocalEngine[S, A, O]{
		settings: settings{
			mode:     Online,
			maxSteps: MaxSteps,
			discount: 1,
		},
		env:     env,
		planner: planner,
		rollout: rollout,
	}
	for _, option := range options {
		option(&e.settings)
	}
	if !e.seeded {
		e.seed = uint64(time.Now().UnixNano())
	}
	e.rng = rand.New(rand.NewSource(e.seed))
	return e
}

// Run resets the planner and plays one episode. Planner and simulator
// failures end the episode with an error, returning the steps played so far.
func (e *LocalEngine[S, A, O]) Run(ctx context.Context) (metrics.EpisodeMetric, []metrics.StepMetric, error) {
	e.planner.Reset()
	episode := metrics.EpisodeMetric{StartTime: time.Now()}
	steps := []metrics.StepMetric{}
	finish := func(err error) (metrics.EpisodeMetric, []metrics.StepMetric, error) {
		episode.EndTime = time.Now()
		episode.Duration = episode.EndTime.Sub(episode.StartTime)
		episode.Steps = len(steps)
		return episode, steps, err
	}

	state, err := e.env.SampleInitialState(e.rng)
	if err != nil {
		return finish(errors.Wrap(err, "sampling initial state"))
	}

	log.Info().Msgf("starting %v episode", e.mode)

	var observation O // Ignored by the first action request
	factor := 1.0
	for step := 1; step <= e.maxSteps && !e.env.IsTerminal(state); step++ {
		if err := ctx.Err(); err != nil {
			return finish(errors.Wrapf(err, "episode interrupted at step %d", step))
		}

		search := metrics.SearchMetric{}
		if e.mode == Online || step == 1 {
			if err := e.planner.Solve(ctx); err != nil {
				return finish(errors.Wrapf(err, "planning step %d", step))
			}
			search = e.planner.Metric()
		}

		action, fallback, err := e.decide(observation)
		if err != nil {
			return finish(errors.Wrapf(err, "choosing action at step %d", step))
		}
		if fallback {
			episode.Fallbacks++
		}

		out, err := e.env.Step(e.rng, state, action)
		if err != nil {
			return finish(errors.Wrapf(err, "stepping %v at step %d", action, step))
		}
		episode.Return += factor * out.Cost
		factor *= e.discount

		if e.mode == Online {
			if err := e.planner.Observe(out.Observation); err != nil {
				return finish(errors.Wrapf(err, "observing step %d", step))
			}
		}

		steps = append(steps, metrics.StepMetric{
			Step:         step,
			Action:       fmt.Sprint(action),
			Observation:  fmt.Sprint(out.Observation),
			Cost:         out.Cost,
			SearchMetric: search,
		})
		log.Debug().Msgf("step %d: %v -> %v, cost %.2f", step, action, out.Observation, out.Cost)

		state, observation = out.State, out.Observation
	}

	episode.Terminated = e.env.IsTerminal(state)
	if !episode.Terminated {
		log.Warn().Msgf("stopped after %d steps without reaching a terminal state", e.maxSteps)
	}
	log.Info().Msgf("episode over after %d steps with return %.2f", len(steps), episode.Return)
	return finish(nil)
}

// decide asks the planner for an action. When the search never reached the
// current history, the rollout policy acts on a particle of the planner's
// belief and the planner is told which action was taken.
func (e *LocalEngine[S, A, O]) decide(observation O) (A, bool, error) {
	var zero A
	action, err := e.planner.GetNextAction(observation)
	if err == nil {
		return action, false, nil
	}
	if !errors.Is(err, searcher.ErrPolicyUndefined) {
		return zero, false, err
	}
	log.Warn().Err(err).Msg("no policy, falling back to the rollout policy")

	if e.mode == Offline {
		// Move the root along the last action so the tree stays in sync
		if err := e.planner.Observe(observation); err != nil {
			return zero, false, err
		}
	}

	root := e.planner.Root()
	if root == nil {
		return zero, false, err
	}
	particle, err := root.Belief().Sample(e.rng)
	if err != nil {
		return zero, false, err
	}
	legal, err := e.env.LegalActions(particle)
	if err != nil {
		return zero, false, err
	}
	if len(legal) == 0 {
		return zero, false, errors.Errorf("no legal action after history %v", e.planner.History())
	}

	action = e.rollout.Choose(particle, legal, e.rng)
	if err := e.planner.Commit(action); err != nil {
		return zero, false, err
	}
	return action, true, nil
}
