package searcher

import (
	"context"
	"testing"

	"pomcp/experiments/metrics"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

/*
Tests sequential POMCP on small synthetic domains:
- solve: budget, callback stop, context cancel, simulator failure, dead ends
- tree growth: one node per simulation, terminal nodes, backup consistency, depth bound
- configured values: terminal value, default cost, belief capacity
- action reporting: before solving, after reset, greedy choice, determinism
- root moves: offline descent, online observe with tree reuse and reinvigoration
- convergence of value estimates on a one-step bandit
*/

func newChainPlanner(sim *chainSim, options ...Option) *Planner[int, string, int] {
	options = append([]Option{WithSeed(1), WithSamples(10), WithMaxDepth(10)}, options...)
	return NewPlanner[int, string, int](sim, options...)
}

func TestNewPlanner(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		p := NewPlanner[int, string, int](&chainSim{})

		require.Equal(t, DefaultMaxIterations, p.maxIterations)
		require.Equal(t, DefaultMaxDepth, p.maxDepth)
		require.Equal(t, DefaultSamples, p.samples)
		require.Equal(t, Idle, p.Status())
	})

	t.Run("ignores invalid option values", func(t *testing.T) {
		p := NewPlanner[int, string, int](&chainSim{},
			WithMaxIterations(-1), WithMaxDepth(0), WithSamples(0), WithDiscount(1.5), WithExplorationWeight(-2))

		require.Equal(t, DefaultMaxIterations, p.maxIterations)
		require.Equal(t, DefaultMaxDepth, p.maxDepth)
		require.Equal(t, DefaultSamples, p.samples)
		require.Equal(t, DefaultDiscount, p.discount)
		require.Equal(t, DefaultWeight, p.weight)
	})

	t.Run("panics without simulator", func(t *testing.T) {
		require.Panics(t, func() {
			NewPlanner[int, string, int](nil)
		})
	})
}

func TestSolve(t *testing.T) {
	ctx := context.Background()

	t.Run("one simulation grows one node", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(1))

		require.NoError(t, p.Solve(ctx))

		root := p.Root()
		require.Equal(t, 1, root.Visits(), "Root should be visited once")
		require.Equal(t, 1, root.NumChildren(), "Exactly one child should exist")
		require.Equal(t, 2, p.Nodes())
		for _, child := range root.children {
			require.Equal(t, 1, child.Visits(), "New node should record its rollout")
			require.Equal(t, 0, child.NumChildren(), "Rollout should not grow the tree")
			require.Equal(t, 1, child.Belief().Len(), "New node should store the particle that reached it")
		}
	})

	t.Run("every simulation adds at most one node", func(t *testing.T) {
		previous := 1
		var p *Planner[int, string, int]
		p = newChainPlanner(&chainSim{noisy: true}, WithMaxIterations(200), WithCallback(func(Progress) bool {
			require.LessOrEqual(t, p.Nodes()-previous, 1, "Tree should grow by at most one node per simulation")
			previous = p.Nodes()
			return false
		}))

		require.NoError(t, p.Solve(ctx))
		require.Equal(t, p.Root().count(), p.Nodes(), "Node counter should match the tree")
	})

	t.Run("steps into terminal states grow the tree", func(t *testing.T) {
		previous := 1
		var p *Planner[int, string, int]
		p = NewPlanner[int, string, int](&oneShotSim{}, WithSeed(1), WithSamples(10), WithMaxIterations(50),
			WithCallback(func(Progress) bool {
				require.Equal(t, 1, p.Nodes()-previous, "Every simulation below the depth cap should add one node")
				previous = p.Nodes()
				return false
			}))

		require.NoError(t, p.Solve(ctx))

		root := p.Root()
		require.Equal(t, 51, p.Nodes())
		require.Equal(t, 50, root.NumChildren())
		require.InDelta(t, 1.0, root.Value(), 1e-9)
		for _, child := range root.children {
			require.Equal(t, 0, child.Visits(), "Terminal nodes have no action to record")
			require.Equal(t, []int{1}, child.Belief().Particles(), "Terminal node should store the particle that reached it")
		}
	})

	t.Run("visits match action visits everywhere", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noisy: true, length: 6}, WithMaxIterations(500))

		require.NoError(t, p.Solve(ctx))

		require.Equal(t, 500, p.Root().Visits())
		checkConsistency(t, p.Root())
	})

	t.Run("root keeps its seeded particles", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(50), WithSamples(25))

		require.NoError(t, p.Solve(ctx))

		require.Equal(t, 25, p.Root().Belief().Len())
	})

	t.Run("simulations never step past the depth cap", func(t *testing.T) {
		sim := &chainSim{}
		before := 0
		p := newChainPlanner(sim, WithMaxDepth(5), WithMaxIterations(100), WithCallback(func(Progress) bool {
			require.LessOrEqual(t, sim.steps-before, 5, "Simulation should take at most max depth steps")
			before = sim.steps
			return false
		}))

		require.NoError(t, p.Solve(ctx))
		require.LessOrEqual(t, p.Metric().MaxDepth, 5)
	})

	t.Run("callback stops the solve early", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(1000), WithCallback(func(progress Progress) bool {
			require.Equal(t, Solving, progress.Status())
			return progress.Iteration() >= 10
		}))

		require.NoError(t, p.Solve(ctx), "Early stop should not be an error")

		require.Equal(t, 10, p.Iteration())
		require.Equal(t, Stopped, p.Status())
		require.Equal(t, 10, p.Root().Visits(), "Backups before the stop should be kept")
		_, err := p.GetNextAction(0)
		require.NoError(t, err, "Partial statistics should be usable")
	})

	t.Run("cancelled context stops between simulations", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		p := newChainPlanner(&chainSim{}, WithMaxIterations(100))

		err := p.Solve(cancelled)

		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 0, p.Iteration())
		require.Equal(t, Stopped, p.Status())
	})

	t.Run("simulator failure aborts the solve", func(t *testing.T) {
		p := newChainPlanner(&chainSim{failStep: errBoom}, WithMaxIterations(100))

		err := p.Solve(ctx)

		require.ErrorIs(t, err, errBoom)
		var simErr *SimulatorError
		require.True(t, errors.As(err, &simErr), "Error should carry the simulator operation")
		require.Equal(t, "step", simErr.Op)
		require.Equal(t, Idle, p.Status())
		require.Equal(t, 0, p.Iteration())
	})

	t.Run("dead end is valued without expanding", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noAction: true}, WithMaxIterations(20), WithDeadEndCost(5))

		require.NoError(t, p.Solve(ctx))

		require.Equal(t, 20, p.Iteration(), "Dead ends should not abort the search")
		require.Equal(t, 0, p.Root().Visits())
		require.False(t, p.IsPolicyDefinedFor(0))
	})

	t.Run("wall clock budget", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(1<<30), WithDuration(1))

		require.NoError(t, p.Solve(ctx))
		require.Less(t, p.Iteration(), 1<<30)
	})

	t.Run("terminal value is added at the depth cap", func(t *testing.T) {
		solve := func(terminal float64) float64 {
			p := newChainPlanner(&chainSim{}, WithMaxDepth(1), WithMaxIterations(50), WithTerminalValue(terminal))
			require.NoError(t, p.Solve(ctx))
			require.Equal(t, 1, p.Nodes(), "Nothing should grow at the depth cap")
			return p.Root().Value()
		}

		require.InDelta(t, solve(0)+10, solve(10), 1e-9)
	})

	t.Run("terminal value is added at terminal states", func(t *testing.T) {
		solve := func(terminal float64) *Planner[int, string, string] {
			p := NewPlanner[int, string, string](banditSim{},
				WithSeed(5), WithSamples(1), WithMaxIterations(500), WithExplorationWeight(10), WithTerminalValue(terminal))
			require.NoError(t, p.Solve(ctx))
			return p
		}

		base, shifted := solve(0), solve(-3)

		require.InDelta(t, base.Root().Value()-3, shifted.Root().Value(), 1e-6)
		require.InDelta(t, -2.0, shifted.ActionStats(shifted.Root(), "safe").Value, 1e-9)
	})

	t.Run("belief capacity bounds every node", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noisy: true}, WithBeliefCapacity(3), WithMaxIterations(2000))

		require.NoError(t, p.Solve(ctx))

		require.Equal(t, 3, p.Root().Belief().Len(), "Seeding should respect the capacity")
		crowded := 0
		walk(p.Root(), func(node *chainNode) {
			require.Equal(t, 3, node.Belief().Capacity())
			require.LessOrEqual(t, node.Belief().Len(), 3, "Node %v holds too many particles", node.History())
			if node != p.Root() && node.Visits() > 3 {
				crowded++
			}
		})
		require.Greater(t, crowded, 0, "Some nodes should have been offered more particles than they keep")
	})

	t.Run("records search metrics", func(t *testing.T) {
		p := newChainPlanner(&chainSim{length: 3}, WithMaxIterations(40), WithMetrics(metrics.NewCollector()))

		require.NoError(t, p.Solve(ctx))

		metric := p.Metric()
		require.Equal(t, 40, metric.Simulations)
		require.Equal(t, p.Nodes(), metric.Nodes)
		require.Greater(t, metric.FullRollouts, 0, "Short corridor rollouts should reach the end")
		require.False(t, metric.IsTreeReused)
		require.False(t, metric.StoppedEarly)
	})
}

func TestGetNextAction(t *testing.T) {
	ctx := context.Background()

	t.Run("untried actions report the default cost", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(1), WithDefaultCost(7))
		require.NoError(t, p.Solve(ctx))

		tried := p.Root().Actions()
		require.Len(t, tried, 1)
		for _, action := range []string{"stay", "right"} {
			stats := p.ActionStats(p.Root(), action)
			if action == tried[0] {
				require.Equal(t, 1, stats.Visits)
				continue
			}
			require.Equal(t, ActionStats{Visits: 0, Value: 7}, stats)
		}
	})

	t.Run("undefined before solving", func(t *testing.T) {
		p := newChainPlanner(&chainSim{})

		_, err := p.GetNextAction(0)

		require.ErrorIs(t, err, ErrPolicyUndefined)
		require.False(t, p.IsPolicyDefinedFor(0))
	})

	t.Run("undefined after reset", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(50))
		require.NoError(t, p.Solve(ctx))
		require.True(t, p.IsPolicyDefinedFor(0))

		p.Reset()

		for _, observation := range []int{0, 1, 7} {
			require.False(t, p.IsPolicyDefinedFor(observation))
		}
		require.Nil(t, p.Root())
		require.Equal(t, 0, p.Nodes())
	})

	t.Run("prefers the cheaper action", func(t *testing.T) {
		p := newChainPlanner(&chainSim{length: 4}, WithMaxIterations(500))
		require.NoError(t, p.Solve(ctx))

		action, err := p.GetNextAction(0)

		require.NoError(t, err)
		require.Equal(t, "right", action, "Moving right is cheaper and ends the corridor")
	})

	t.Run("same seed gives the same decision", func(t *testing.T) {
		run := func() (string, float64) {
			p := newChainPlanner(&chainSim{noisy: true}, WithSeed(99), WithMaxIterations(300))
			require.NoError(t, p.Solve(ctx))
			action, err := p.GetNextAction(0)
			require.NoError(t, err)
			return action, p.Root().Value()
		}

		action1, value1 := run()
		action2, value2 := run()

		require.Equal(t, action1, action2)
		require.Equal(t, value1, value2)
	})

	t.Run("rejects calls while solving", func(t *testing.T) {
		var p *Planner[int, string, int]
		var callErr, solveErr error
		p = newChainPlanner(&chainSim{}, WithMaxIterations(5), WithCallback(func(Progress) bool {
			_, callErr = p.GetNextAction(0)
			solveErr = p.Solve(ctx)
			return true
		}))

		require.NoError(t, p.Solve(ctx))

		require.ErrorIs(t, callErr, ErrSolving)
		require.ErrorIs(t, solveErr, ErrSolving)
	})

	t.Run("follows the tree offline", func(t *testing.T) {
		p := newChainPlanner(&chainSim{length: 4}, WithMaxIterations(2000))
		require.NoError(t, p.Solve(ctx))

		first, err := p.GetNextAction(0)
		require.NoError(t, err)
		require.Equal(t, "right", first)

		require.True(t, p.IsPolicyDefinedFor(1), "Moving right from 0 is observed as 1")
		second, err := p.GetNextAction(1)
		require.NoError(t, err)
		require.Equal(t, "right", second)
		require.True(t, p.History().Equal(History[string, int]{Actions: []string{"right"}, Observations: []int{1}}))

		node, ok := p.Lookup(p.History())
		require.True(t, ok)
		require.Same(t, p.Root(), node, "Root should be the node of the committed history")
	})

	t.Run("unreached observation is undefined", func(t *testing.T) {
		p := newChainPlanner(&chainSim{length: 4}, WithMaxIterations(100))
		require.NoError(t, p.Solve(ctx))
		_, err := p.GetNextAction(0)
		require.NoError(t, err)

		_, err = p.GetNextAction(42)

		require.ErrorIs(t, err, ErrPolicyUndefined)
		require.Equal(t, 0, p.History().Len(), "Failed lookups should not move the root")
	})
}

func TestObserve(t *testing.T) {
	ctx := context.Background()

	t.Run("moves the root and reuses the subtree", func(t *testing.T) {
		p := newChainPlanner(&chainSim{noisy: true}, WithMaxIterations(300), WithMetrics(metrics.NewCollector()))
		require.NoError(t, p.Solve(ctx))
		action, err := p.GetNextAction(0)
		require.NoError(t, err)
		child, ok := p.Root().Child(action, 1)
		require.True(t, ok)

		require.NoError(t, p.Observe(1))

		require.Same(t, child, p.Root())
		require.Equal(t, 1, p.History().Len())
		require.NoError(t, p.Solve(ctx))
		require.True(t, p.Metric().IsTreeReused, "Solving a visited node should reuse the tree")
		require.True(t, p.IsPolicyDefinedFor(1), "Without a pending action the root itself is used")
	})

	t.Run("does nothing without a returned action", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(10))
		require.NoError(t, p.Solve(ctx))

		require.NoError(t, p.Observe(0))

		require.Equal(t, 0, p.History().Len())
	})

	t.Run("reinvigorates from the parent belief", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(1))
		require.NoError(t, p.Solve(ctx))
		root := p.Root()
		// Force the root to have a visited action whose child is absent
		root.children = map[edge[string, int]]*chainNode{}
		action, err := p.GetNextAction(0)
		require.NoError(t, err)

		observation := 0
		if action == "right" {
			observation = 1
		}
		require.NoError(t, p.Observe(observation))

		require.Equal(t, 10, p.Root().Belief().Len(), "Matching particles should fill the belief")
		for _, particle := range p.Root().Belief().Particles() {
			require.Equal(t, observation, particle%2)
		}
	})

	t.Run("follows a committed action", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(100))
		require.NoError(t, p.Solve(ctx))

		require.NoError(t, p.Commit("stay"))
		require.NoError(t, p.Observe(0))

		require.True(t, p.History().Equal(History[string, int]{Actions: []string{"stay"}, Observations: []int{0}}))
		require.Greater(t, p.Root().Belief().Len(), 0)
	})

	t.Run("reseeds when no particle explains the observation", func(t *testing.T) {
		p := newChainPlanner(&chainSim{}, WithMaxIterations(20), WithSamples(15))
		require.NoError(t, p.Solve(ctx))
		_, err := p.GetNextAction(0)
		require.NoError(t, err)

		require.NoError(t, p.Observe(7))

		require.Equal(t, 15, p.Root().Belief().Len())
		require.Equal(t, []int{0}, unique(p.Root().Belief().Particles()), "Particles should come from the initial belief")
		require.NoError(t, p.Solve(ctx), "Search should continue from the reseeded belief")
	})
}

func walk(node *chainNode, visit func(*chainNode)) {
	visit(node)
	for _, child := range node.children {
		walk(child, visit)
	}
}

func unique(values []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func TestConvergence(t *testing.T) {
	ctx := context.Background()
	solve := func(seed uint64, iterations int) *Planner[int, string, string] {
		p := NewPlanner[int, string, string](banditSim{},
			WithSeed(seed), WithSamples(1), WithMaxIterations(iterations), WithExplorationWeight(10))
		require.NoError(t, p.Solve(ctx))
		return p
	}

	t.Run("action values approach their expected costs", func(t *testing.T) {
		p := solve(11, 5000)
		root := p.Root()

		require.InDelta(t, 1.0, root.ActionStats("safe", 0).Value, 1e-9)
		require.InDelta(t, 2.0, root.ActionStats("risky", 0).Value, 0.4)
		require.InDelta(t, 1.0, root.Value(), 0.2, "Root value should approach the optimal cost")
		action, err := p.GetNextAction("")
		require.NoError(t, err)
		require.Equal(t, "safe", action)
	})

	t.Run("spread of the root value shrinks with more simulations", func(t *testing.T) {
		variance := func(iterations int) float64 {
			values := make([]float64, 0, 20)
			for seed := uint64(1); seed <= 20; seed++ {
				values = append(values, solve(seed, iterations).Root().Value())
			}
			return stat.Variance(values, nil)
		}

		require.Less(t, variance(4000), variance(200))
	})
}
