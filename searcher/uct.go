package searcher

import (
	"math"

	"golang.org/x/exp/rand"
)

// ActionSelector picks the action to take at a node.
type ActionSelector[S any, A comparable, O comparable] interface {
	// Select chooses among legal. A nil legal slice means every action
	// tried at the node is a candidate.
	Select(node *Node[S, A, O], legal []A, rng *rand.Rand) (A, error)
}

type uct struct {
	weight float64
	lnN    float64
}

func newUCT(weight float64, N int) uct {
	if N == 0 {
		panic("N cannot be 0")
	}
	return uct{weight: weight, lnN: math.Log(float64(N))}
}

// evaluate scores an action for cost minimization, lower is better:
// UCT = value - w*sqrt(ln(N)/n)
func (u uct) evaluate(value float64, n int) float64 {
	if n == 0 {
		panic("n cannot be 0")
	}
	return value - u.weight*math.Sqrt(u.lnN/float64(n))
}

// UCTSelector descends the tree during search. Untried actions score
// -Inf so each legal action is tried once before the exploration bonus
// comes into play.
type UCTSelector[S any, A comparable, O comparable] struct {
	Weight float64
}

func (s UCTSelector[S, A, O]) Select(node *Node[S, A, O], legal []A, rng *rand.Rand) (A, error) {
	if legal == nil {
		legal = node.actions
	}
	if len(legal) == 0 {
		var zero A
		return zero, ErrPolicyUndefined
	}

	untried := make([]A, 0, len(legal))
	for _, action := range legal {
		if stats, ok := node.stats[action]; !ok || stats.Visits == 0 {
			untried = append(untried, action)
		}
	}
	if len(untried) > 0 {
		return untried[rng.Intn(len(untried))], nil
	}

	u := newUCT(s.Weight, node.visits)
	ties := make([]A, 0, 1)
	minScore := math.Inf(1)
	for _, action := range legal {
		stats := node.stats[action]
		score := u.evaluate(stats.Value, stats.Visits)
		switch {
		case score < minScore:
			minScore = score
			ties = append(ties[:0], action)
		case score == minScore:
			ties = append(ties, action)
		}
	}
	return ties[rng.Intn(len(ties))], nil
}

// GreedySelector reports the action with the lowest expected cost among
// the visited ones. It fails with ErrPolicyUndefined when none was visited.
type GreedySelector[S any, A comparable, O comparable] struct{}

func (GreedySelector[S, A, O]) Select(node *Node[S, A, O], legal []A, rng *rand.Rand) (A, error) {
	candidates := node.actions
	if legal != nil {
		candidates = legal
	}

	ties := make([]A, 0, 1)
	minValue := math.Inf(1)
	for _, action := range candidates {
		stats, ok := node.stats[action]
		if !ok || stats.Visits == 0 {
			continue
		}
		switch {
		case stats.Value < minValue:
			minValue = stats.Value
			ties = append(ties[:0], action)
		case stats.Value == minValue:
			ties = append(ties, action)
		}
	}
	if len(ties) == 0 {
		var zero A
		return zero, ErrPolicyUndefined
	}
	return ties[rng.Intn(len(ties))], nil
}
