package searcher

import (
	"fmt"
	"strings"
)

// History is the sequence of (action, observation) pairs taken from the
// search root. The root history is empty.
type History[A comparable, O comparable] struct {
	Actions      []A
	Observations []O
}

type edge[A comparable, O comparable] struct {
	action      A
	observation O
}

func (h History[A, O]) Len() int {
	return len(h.Actions)
}

// Extend returns a new history with (action, observation) appended. The
// receiver is left untouched.
func (h History[A, O]) Extend(action A, observation O) History[A, O] {
	actions := make([]A, len(h.Actions), len(h.Actions)+1)
	copy(actions, h.Actions)
	observations := make([]O, len(h.Observations), len(h.Observations)+1)
	copy(observations, h.Observations)

	return History[A, O]{
		Actions:      append(actions, action),
		Observations: append(observations, observation),
	}
}

func (h History[A, O]) Equal(other History[A, O]) bool {
	if len(h.Actions) != len(other.Actions) || len(h.Observations) != len(other.Observations) {
		return false
	}
	for i := range h.Actions {
		if h.Actions[i] != other.Actions[i] {
			return false
		}
	}
	for i := range h.Observations {
		if h.Observations[i] != other.Observations[i] {
			return false
		}
	}
	return true
}

func (h History[A, O]) edges() []edge[A, O] {
	if len(h.Actions) != len(h.Observations) {
		panic("history has unpaired actions and observations")
	}
	edges := make([]edge[A, O], len(h.Actions))
	for i := range h.Actions {
		edges[i] = edge[A, O]{action: h.Actions[i], observation: h.Observations[i]}
	}
	return edges
}

func (h History[A, O]) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i := range h.Actions {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v/%v", h.Actions[i], h.Observations[i])
	}
	b.WriteString("]")
	return b.String()
}
