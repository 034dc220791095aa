package searcher

import (
	"context"
	"time"

	"pomcp/experiments/metrics"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

type Status int

const (
	Idle Status = iota
	Solving
	Stopped // Last solve was stopped before its budget ran out
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Solving:
		return "Solving"
	case Stopped:
		return "Stopped"
	}
	return "UNKNOWN STATUS"
}

// Progress is what the solve callback gets to look at after each simulation.
type Progress interface {
	Iteration() int
	Elapsed() time.Duration
	Nodes() int
	Status() Status
}

// Callback is invoked after every completed simulation. Returning true
// stops the solve early.
type Callback func(Progress) bool

// reinvigorationAttempts bounds rejection sampling to this many draws per
// requested particle.
const reinvigorationAttempts = 4

type Option func(c *config)

type config struct {
	maxIterations  int
	maxDepth       int
	samples        int
	duration       time.Duration
	weight         float64
	discount       float64
	defaultCost    float64
	terminalValue  float64
	deadEndCost    float64
	beliefCapacity int
	seed           uint64
	seeded         bool
	callback       Callback
	metrics        metrics.Collector
}

func WithMaxIterations(iterations int) Option {
	return func(c *config) {
		if iterations > 0 {
			c.maxIterations = iterations
		}
	}
}

func WithMaxDepth(depth int) Option {
	return func(c *config) {
		if depth > 0 {
			c.maxDepth = depth
		}
	}
}

// WithSamples sets the number of particles seeding the root belief.
func WithSamples(samples int) Option {
	return func(c *config) {
		if samples > 0 {
			c.samples = samples
		}
	}
}

// WithDuration adds a wall-clock budget to each solve.
func WithDuration(duration time.Duration) Option {
	return func(c *config) {
		if duration > 0 {
			c.duration = duration
		}
	}
}

func WithExplorationWeight(weight float64) Option {
	return func(c *config) {
		if weight > 0 {
			c.weight = weight
		}
	}
}

func WithDiscount(discount float64) Option {
	return func(c *config) {
		if discount > 0 && discount <= 1 {
			c.discount = discount
		}
	}
}

// WithDefaultCost sets the value reported for actions never tried.
func WithDefaultCost(cost float64) Option {
	return func(c *config) {
		c.defaultCost = cost
	}
}

// WithTerminalValue sets the value of terminal states and of the depth cap.
func WithTerminalValue(value float64) Option {
	return func(c *config) {
		c.terminalValue = value
	}
}

// WithDeadEndCost sets the value of states where no action applies.
func WithDeadEndCost(cost float64) Option {
	return func(c *config) {
		c.deadEndCost = cost
	}
}

// WithBeliefCapacity bounds every node's particle set with reservoir
// sampling. Zero keeps the sets unbounded.
func WithBeliefCapacity(capacity int) Option {
	return func(c *config) {
		if capacity >= 0 {
			c.beliefCapacity = capacity
		}
	}
}

func WithSeed(seed uint64) Option {
	return func(c *config) {
		c.seed = seed
		c.seeded = true
	}
}

func WithCallback(callback Callback) Option {
	return func(c *config) {
		c.callback = callback
	}
}

func WithMetrics(collector metrics.Collector) Option {
	return func(c *config) {
		if collector != nil {
			c.metrics = collector
		}
	}
}

// Planner is a POMCP solver. It owns its search tree exclusively and is not
// safe for concurrent use.
type Planner[S any, A comparable, O comparable] struct {
	config
	sim      Simulator[S, A, O]
	rollout  RolloutPolicy[S, A]
	selector ActionSelector[S, A, O]
	greedy   ActionSelector[S, A, O]
	rng      *rand.Rand

	tree       *Node[S, A, O] // Node of the empty history
	root       *Node[S, A, O] // Node searches start from
	history    History[A, O]
	pending    A // Last returned action, awaiting its observation
	hasPending bool

	status    Status
	iteration int
	start     time.Time
	nodes     int
	metric    metrics.SearchMetric
}

func NewPlanner[S any, A comparable, O comparable](sim Simulator[S, A, O], options ...Option) *Planner[S, A, O] {
	if sim == nil {
		panic("planner needs a simulator")
	}

	p := &Planner[S, A, O]{ // Default values
		config: config{
			maxIterations: DefaultMaxIterations,
			maxDepth:      DefaultMaxDepth,
			samples:       DefaultSamples,
			weight:        DefaultWeight,
			discount:      DefaultDiscount,
			metrics:       metrics.NewDummyCollector(),
		},
		sim: sim,
	}
	for _, option := range options {
		option(&p.config)
	}
	if !p.seeded {
		p.seed = uint64(time.Now().UnixNano())
	}

	p.rng = rand.New(rand.NewSource(p.seed))
	p.rollout = UniformRollout[S, A]{}
	p.selector = UCTSelector[S, A, O]{Weight: p.weight}
	p.greedy = GreedySelector[S, A, O]{}
	return p
}

// UseRollout replaces the rollout policy. nil restores the uniform one.
func (p *Planner[S, A, O]) UseRollout(policy RolloutPolicy[S, A]) *Planner[S, A, O] {
	if policy == nil {
		policy = UniformRollout[S, A]{}
	}
	p.rollout = policy
	return p
}

// UseSelector replaces the selector used to descend the tree. nil restores
// UCT with the configured weight.
func (p *Planner[S, A, O]) UseSelector(selector ActionSelector[S, A, O]) *Planner[S, A, O] {
	if selector == nil {
		selector = UCTSelector[S, A, O]{Weight: p.weight}
	}
	p.selector = selector
	return p
}

// Solve runs simulations from the current root until the iteration or time
// budget is spent, the callback asks to stop or ctx is done. Statistics
// gathered before a failure or a stop stay in the tree.
func (p *Planner[S, A, O]) Solve(ctx context.Context) error {
	if p.status == Solving {
		return ErrSolving
	}

	treeReused := p.root != nil && p.root.visits > 0
	if p.root == nil {
		if err := p.seedRoot(); err != nil {
			return err
		}
	} else if p.root.belief.Len() == 0 {
		if err := p.reinvigorate(p.root); err != nil {
			return err
		}
	}

	p.status = Solving
	p.iteration = 0
	p.start = time.Now()
	p.metrics.Start(treeReused)
	log.Debug().Msgf("solving from history %v with %d particles", p.history, p.root.belief.Len())

	stopped := false
	var err error
	for p.iteration < p.maxIterations {
		if p.duration > 0 && time.Since(p.start) >= p.duration {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = errors.Wrap(ctxErr, "solve interrupted")
			stopped = true
			break
		}

		state, sampleErr := p.root.belief.Sample(p.rng)
		if sampleErr != nil {
			err = errors.Wrapf(sampleErr, "sampling root of history %v", p.history)
			break
		}

		reached := 0
		if _, err = p.simulate(p.root, state, 0, &reached); err != nil {
			break
		}
		p.iteration++
		p.metrics.AddSimulation(reached)

		if p.callback != nil && p.callback(p) {
			stopped = true
			break
		}
	}

	p.metric = p.metrics.Complete(p.nodes, stopped)
	p.status = Idle
	if stopped {
		p.status = Stopped
	}
	if err != nil {
		return err
	}

	log.Debug().Msgf("solved %d simulations in %v, tree has %d nodes", p.iteration, time.Since(p.start), p.nodes)
	return nil
}

// simulate continues a simulation at an existing node. It returns the
// discounted cost observed from state onward.
func (p *Planner[S, A, O]) simulate(node *Node[S, A, O], state S, depth int, reached *int) (float64, error) {
	if p.cutoff(state, depth) {
		if depth > 0 {
			node.addParticle(p.rng, state)
		}
		return p.terminalValue, nil
	}
	legal, err := p.legalActions(state)
	if err != nil {
		return 0, err
	}
	if len(legal) == 0 {
		return p.deadEndCost, nil
	}
	if depth > *reached {
		*reached = depth
	}

	action, err := p.selector.Select(node, legal, p.rng)
	if err != nil {
		return 0, errors.Wrapf(err, "selecting action at depth %d", depth)
	}
	out, err := p.step(state, action)
	if err != nil {
		return 0, err
	}

	var future float64
	if depth+1 >= p.maxDepth {
		future = p.terminalValue
	} else if child, ok := node.Child(action, out.Observation); ok {
		future, err = p.simulate(child, out.State, depth+1, reached)
	} else {
		// Grow the tree by one node, then estimate its value by rollout
		child = node.addChild(action, out.Observation, p.beliefCapacity)
		p.nodes++
		future, err = p.expand(child, out.State, depth+1, reached)
	}
	if err != nil {
		return 0, err
	}

	ret := out.Cost + p.discount*future
	node.backup(action, ret)
	if depth > 0 { // The root keeps its seeded particles
		node.addParticle(p.rng, state)
	}
	return ret, nil
}

// expand gives a fresh node its first visit: one rollout action is recorded
// at the node and the rest of the trajectory leaves the tree untouched. A
// terminal node only keeps the particle that reached it.
func (p *Planner[S, A, O]) expand(node *Node[S, A, O], state S, depth int, reached *int) (float64, error) {
	if p.sim.IsTerminal(state) {
		node.addParticle(p.rng, state)
		return p.terminalValue, nil
	}
	legal, err := p.legalActions(state)
	if err != nil {
		return 0, err
	}
	if len(legal) == 0 {
		return p.deadEndCost, nil
	}
	if depth > *reached {
		*reached = depth
	}

	action := p.rollout.Choose(state, legal, p.rng)
	out, err := p.step(state, action)
	if err != nil {
		return 0, err
	}
	future, err := p.rolloutValue(out.State, depth+1)
	if err != nil {
		return 0, err
	}

	ret := out.Cost + p.discount*future
	node.backup(action, ret)
	node.addParticle(p.rng, state)
	return ret, nil
}

func (p *Planner[S, A, O]) rolloutValue(state S, depth int) (float64, error) {
	total, factor := 0.0, 1.0
	for ; depth < p.maxDepth; depth++ {
		if p.sim.IsTerminal(state) {
			p.metrics.AddFullRollout()
			return total + factor*p.terminalValue, nil
		}
		legal, err := p.legalActions(state)
		if err != nil {
			return 0, err
		}
		if len(legal) == 0 {
			return total + factor*p.deadEndCost, nil
		}

		action := p.rollout.Choose(state, legal, p.rng)
		out, err := p.step(state, action)
		if err != nil {
			return 0, err
		}
		total += factor * out.Cost
		factor *= p.discount
		state = out.State
	}
	return total + factor*p.terminalValue, nil
}

func (p *Planner[S, A, O]) cutoff(state S, depth int) bool {
	return depth >= p.maxDepth || p.sim.IsTerminal(state)
}

func (p *Planner[S, A, O]) legalActions(state S) ([]A, error) {
	legal, err := p.sim.LegalActions(state)
	if err != nil {
		return nil, simulatorError("legal actions", err)
	}
	return legal, nil
}

func (p *Planner[S, A, O]) step(state S, action A) (Outcome[S, O], error) {
	out, err := p.sim.Step(p.rng, state, action)
	if err != nil {
		return out, simulatorError("step", err)
	}
	return out, nil
}

func (p *Planner[S, A, O]) seedRoot() error {
	root := newNode[S, A, O](nil, edge[A, O]{}, p.beliefCapacity)
	for i := 0; i < p.samples; i++ {
		state, err := p.sim.SampleInitialState(p.rng)
		if err != nil {
			return simulatorError("sample initial state", err)
		}
		root.addParticle(p.rng, state)
	}
	p.tree = root
	p.root = root
	p.nodes = 1
	return nil
}

// reinvigorate fills the belief of a node the search never reached. Parent
// particles are pushed through the node's action and kept when they produce
// its observation. If none does, the initial state sampler takes over.
func (p *Planner[S, A, O]) reinvigorate(node *Node[S, A, O]) error {
	parent := node.parent
	if parent != nil && parent.belief.Len() > 0 {
		for i := 0; i < reinvigorationAttempts*p.samples && node.belief.Len() < p.samples; i++ {
			state, err := parent.belief.Sample(p.rng)
			if err != nil {
				return err
			}
			if p.sim.IsTerminal(state) {
				continue
			}
			out, err := p.step(state, node.edge.action)
			if err != nil {
				return err
			}
			if out.Observation == node.edge.observation {
				node.addParticle(p.rng, out.State)
			}
		}
	}
	if node.belief.Len() > 0 {
		return nil
	}

	log.Warn().Msgf("no particle explains history %v, reseeding from the initial belief", node.History())
	for i := 0; i < p.samples; i++ {
		state, err := p.sim.SampleInitialState(p.rng)
		if err != nil {
			return simulatorError("sample initial state", err)
		}
		node.addParticle(p.rng, state)
	}
	return nil
}

// target resolves the node an observation leads to: the child reached by
// the last returned action and the observation, or the root when no action
// was returned since the root last moved.
func (p *Planner[S, A, O]) target(observation O) *Node[S, A, O] {
	if p.root == nil {
		return nil
	}
	if !p.hasPending {
		return p.root
	}
	child, ok := p.root.Child(p.pending, observation)
	if !ok {
		return nil
	}
	return child
}

// GetNextAction returns the action with the lowest expected cost at the
// node observation leads to, and makes that node the new root. It does not
// run simulations.
func (p *Planner[S, A, O]) GetNextAction(observation O) (A, error) {
	var zero A
	if p.status == Solving {
		return zero, ErrSolving
	}

	node := p.target(observation)
	if node == nil || node.visits == 0 {
		return zero, errors.Wrapf(ErrPolicyUndefined, "observation %v after history %v", observation, p.history)
	}
	action, err := p.greedy.Select(node, nil, p.rng)
	if err != nil {
		return zero, errors.Wrapf(err, "observation %v after history %v", observation, p.history)
	}

	if node != p.root {
		p.history = p.history.Extend(p.pending, observation)
		p.root = node
	}
	p.pending = action
	p.hasPending = true
	return action, nil
}

// IsPolicyDefinedFor reports whether GetNextAction(observation) would
// succeed.
func (p *Planner[S, A, O]) IsPolicyDefinedFor(observation O) bool {
	node := p.target(observation)
	return node != nil && node.visits > 0
}

// Observe moves the root to the history extended by the last returned action
// and observation, so the next solve refines that belief. Without a returned
// action it does nothing.
func (p *Planner[S, A, O]) Observe(observation O) error {
	if p.status == Solving {
		return ErrSolving
	}
	if !p.hasPending || p.root == nil {
		return nil
	}

	child, ok := p.root.Child(p.pending, observation)
	if !ok {
		child = p.root.addChild(p.pending, observation, p.beliefCapacity)
		p.nodes++
	}
	if child.belief.Len() == 0 {
		if err := p.reinvigorate(child); err != nil {
			return err
		}
	}

	p.history = p.history.Extend(p.pending, observation)
	p.root = child
	p.hasPending = false
	return nil
}

// Commit records an action chosen outside the policy, such as a fallback,
// as the last returned action. The next Observe or GetNextAction follows it.
func (p *Planner[S, A, O]) Commit(action A) error {
	if p.status == Solving {
		return ErrSolving
	}
	p.pending = action
	p.hasPending = true
	return nil
}

// Reset discards the tree and the history.
func (p *Planner[S, A, O]) Reset() {
	p.tree = nil
	p.root = nil
	p.history = History[A, O]{}
	var zero A
	p.pending = zero
	p.hasPending = false
	p.status = Idle
	p.iteration = 0
	p.nodes = 0
	p.metric = metrics.SearchMetric{}
}

// Lookup finds the node of a history relative to the tree root.
func (p *Planner[S, A, O]) Lookup(h History[A, O]) (*Node[S, A, O], bool) {
	if p.tree == nil || len(h.Actions) != len(h.Observations) {
		return nil, false
	}
	node := p.tree
	for _, e := range h.edges() {
		child, ok := node.children[e]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// Root returns the node searches start from, nil before the first solve.
func (p *Planner[S, A, O]) Root() *Node[S, A, O] {
	return p.root
}

// History returns the path from the tree root to the current root.
func (p *Planner[S, A, O]) History() History[A, O] {
	return p.history
}

func (p *Planner[S, A, O]) Status() Status {
	return p.status
}

// Iteration returns the number of simulations completed by the current or
// last solve.
func (p *Planner[S, A, O]) Iteration() int {
	return p.iteration
}

func (p *Planner[S, A, O]) Elapsed() time.Duration {
	if p.start.IsZero() {
		return 0
	}
	return time.Since(p.start)
}

func (p *Planner[S, A, O]) Nodes() int {
	return p.nodes
}

// Metric returns the metrics of the last solve.
func (p *Planner[S, A, O]) Metric() metrics.SearchMetric {
	return p.metric
}

func (p *Planner[S, A, O]) DefaultCost() float64 {
	return p.defaultCost
}

// ActionStats returns the statistics of action at node, reporting the
// configured default cost while the action is untried.
func (p *Planner[S, A, O]) ActionStats(node *Node[S, A, O], action A) ActionStats {
	return node.ActionStats(action, p.defaultCost)
}
