// Package state defines the run state machine for mission runs.
//
// A run walks a fixed set of states from CREATED to one of the terminal
// states COMPLETED or FAILED. Every state change goes through Transition,
// which rejects edges that are not in the allowed-transition table.
package state

import "fmt"

// RunState is the lifecycle state of a mission run.
type RunState string

const (
	Created     RunState = "CREATED"
	Planned     RunState = "PLANNED"
	Executing   RunState = "EXECUTING"
	Validating  RunState = "VALIDATING"
	Retrying    RunState = "RETRYING"
	HumanReview RunState = "HUMAN_REVIEW"
	Completed   RunState = "COMPLETED"
	Failed      RunState = "FAILED"
)

// transitions is the allowed-transition adjacency table. Terminal states
// have no outgoing edges. There are no self-loops.
var transitions = map[RunState][]RunState{
	Created:     {Planned, Failed},
	Planned:     {Executing, Failed},
	Executing:   {Validating, Retrying, Failed},
	Validating:  {Completed, Retrying, HumanReview, Failed},
	Retrying:    {Executing, HumanReview, Failed},
	HumanReview: {Executing, Failed, Completed},
	Completed:   {},
	Failed:      {},
}

// InvalidTransitionError reports a state change that is not in the
// allowed-transition table. It indicates a programming error and is
// never retried.
type InvalidTransitionError struct {
	From RunState
	To   RunState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid run transition %s -> %s", e.From, e.To)
}

// All returns every known run state.
func All() []RunState {
	return []RunState{Created, Planned, Executing, Validating, Retrying, HumanReview, Completed, Failed}
}

// Can reports whether the edge current -> next is allowed.
func Can(current, next RunState) bool {
	for _, s := range transitions[current] {
		if s == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing edges.
func Terminal(s RunState) bool {
	return len(transitions[s]) == 0
}

// Transition returns next if the edge current -> next is allowed,
// otherwise an *InvalidTransitionError naming both endpoints.
func Transition(current, next RunState) (RunState, error) {
	if !Can(current, next) {
		return current, &InvalidTransitionError{From: current, To: next}
	}
	return next, nil
}
