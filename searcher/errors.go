package searcher

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEmptyBelief is returned when sampling a particle from a node that
	// holds none.
	ErrEmptyBelief = errors.New("belief has no particles")
	// ErrPolicyUndefined is returned when an action is requested for a
	// history the search never reached.
	ErrPolicyUndefined = errors.New("policy undefined for history")
	// ErrSolving is returned by calls that require an idle planner.
	ErrSolving = errors.New("planner is solving")
)

// SimulatorError wraps a failure raised by the domain simulator. It aborts
// the solve call it occurred in.
type SimulatorError struct {
	Op  string
	Err error
}

func (e *SimulatorError) Error() string {
	return fmt.Sprintf("simulator %s: %v", e.Op, e.Err)
}

func (e *SimulatorError) Unwrap() error {
	return e.Err
}

func simulatorError(op string, err error) error {
	return errors.WithStack(&SimulatorError{Op: op, Err: err})
}
