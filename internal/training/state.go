package training

import "fmt"

// State is the lifecycle stage of a Trainer.
type State int

const (
	Uninitialized State = iota
	Training
	Checkpointed
	Resumed
	Finalized
	Failed
)

var stateNames = [...]string{"uninitialized", "training", "checkpointed", "resumed", "finalized", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == Finalized || s == Failed }

var transitions = map[State][]State{
	Uninitialized: {Training, Resumed, Failed},
	Resumed:       {Training, Failed},
	Training:      {Checkpointed, Failed},
	Checkpointed:  {Training, Resumed, Finalized, Failed},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError reports a lifecycle step that is not allowed.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid trainer transition %s -> %s", e.From, e.To)
}
