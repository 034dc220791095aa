package searcher

import (
	"golang.org/x/exp/rand"
)

// ActionStats aggregates the returns observed after taking an action at a
// node, over all the observations that followed it.
type ActionStats struct {
	Visits int
	Value  float64
}

// Node is a history node of the search tree.
type Node[S any, A comparable, O comparable] struct {
	parent   *Node[S, A, O]
	edge     edge[A, O] // Edge from parent, zero for the root
	depth    int        // Length of the history from the tree root
	visits   int
	value    float64
	belief   *Belief[S]
	actions  []A // Tried actions in first-tried order
	stats    map[A]*ActionStats
	children map[edge[A, O]]*Node[S, A, O]
}

func newNode[S any, A comparable, O comparable](parent *Node[S, A, O], e edge[A, O], beliefCapacity int) *Node[S, A, O] {
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
	}
	return &Node[S, A, O]{
		parent:   parent,
		edge:     e,
		depth:    depth,
		belief:   newBelief[S](beliefCapacity),
		stats:    make(map[A]*ActionStats),
		children: make(map[edge[A, O]]*Node[S, A, O]),
	}
}

func (n *Node[S, A, O]) Visits() int {
	return n.visits
}

// Value is the running mean of the returns backed up through the node.
func (n *Node[S, A, O]) Value() float64 {
	return n.value
}

func (n *Node[S, A, O]) Belief() *Belief[S] {
	return n.belief
}

func (n *Node[S, A, O]) Parent() *Node[S, A, O] {
	return n.parent
}

// Actions returns the actions tried at this node in the order they were
// first tried.
func (n *Node[S, A, O]) Actions() []A {
	actions := make([]A, len(n.actions))
	copy(actions, n.actions)
	return actions
}

// ActionStats returns the statistics of action. An untried action reports
// zero visits and defaultCost.
func (n *Node[S, A, O]) ActionStats(action A, defaultCost float64) ActionStats {
	if s, ok := n.stats[action]; ok {
		return *s
	}
	return ActionStats{Visits: 0, Value: defaultCost}
}

func (n *Node[S, A, O]) Child(action A, observation O) (*Node[S, A, O], bool) {
	child, ok := n.children[edge[A, O]{action: action, observation: observation}]
	return child, ok
}

// NumChildren counts the direct children of the node.
func (n *Node[S, A, O]) NumChildren() int {
	return len(n.children)
}

// History rebuilds the path from the tree root to this node.
func (n *Node[S, A, O]) History() History[A, O] {
	h := History[A, O]{
		Actions:      make([]A, n.depth),
		Observations: make([]O, n.depth),
	}
	for node := n; node.parent != nil; node = node.parent {
		h.Actions[node.depth-1] = node.edge.action
		h.Observations[node.depth-1] = node.edge.observation
	}
	return h
}

func (n *Node[S, A, O]) addChild(action A, observation O, beliefCapacity int) *Node[S, A, O] {
	e := edge[A, O]{action: action, observation: observation}
	child := newNode(n, e, beliefCapacity)
	n.children[e] = child
	return child
}

// backup folds one observed return into the node and the chosen action.
func (n *Node[S, A, O]) backup(action A, ret float64) {
	n.visits++
	n.value += (ret - n.value) / float64(n.visits)

	s, ok := n.stats[action]
	if !ok {
		s = &ActionStats{}
		n.stats[action] = s
		n.actions = append(n.actions, action)
	}
	s.Visits++
	s.Value += (ret - s.Value) / float64(s.Visits)
}

func (n *Node[S, A, O]) addParticle(rng *rand.Rand, state S) {
	n.belief.Add(rng, state)
}

// count returns the number of nodes in the subtree rooted at n.
func (n *Node[S, A, O]) count() int {
	total := 1
	for _, child := range n.children {
		total += child.count()
	}
	return total
}
