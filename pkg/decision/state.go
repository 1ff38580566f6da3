package decision

// State is the loop's position in handling one command.
type State int

const (
	Idle State = iota
	Evaluating
	Executing
	Responding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case Executing:
		return "executing"
	case Responding:
		return "responding"
	default:
		return "unknown"
	}
}

// validTransitions lists the legal moves out of each state. Evaluating
// may drop straight back to Idle when a command is rejected.
var validTransitions = map[State]map[State]bool{
	Idle:       {Evaluating: true},
	Evaluating: {Executing: true, Responding: true, Idle: true},
	Executing:  {Idle: true},
	Responding: {Idle: true},
}

// IsValidTransition reports whether from -> to is legal.
func IsValidTransition(from, to State) bool {
	return validTransitions[from][to]
}
