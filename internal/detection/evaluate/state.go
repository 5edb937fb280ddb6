package evaluate

// State is the position of an Orchestrator in its run.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateLoaded        State = "LOADED"
	StateFiltered      State = "FILTERED"
	StateValidated     State = "VALIDATED"
	StateScored        State = "SCORED"
	StateRendered      State = "RENDERED"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// transitions lists the states reachable from each state. Any state except
// Done may also move to Failed.
var transitions = map[State][]State{
	StateUninitialized: {StateLoaded},
	StateLoaded:        {StateFiltered, StateValidated},
	StateFiltered:      {StateValidated},
	StateValidated:     {StateScored},
	StateScored:        {StateRendered, StateDone},
	StateRendered:      {StateDone},
}

// CanTransition reports whether an orchestrator in from may move to to.
func CanTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateDone && from != StateFailed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
