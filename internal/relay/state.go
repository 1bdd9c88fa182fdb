package relay

// State is the position of an exchange in its lifecycle. An exchange moves
// Idle → ContextLoaded → Streaming and ends in Committed or Failed; terminal
// states are never left.
type State int

const (
	StateIdle State = iota
	StateContextLoaded
	StateStreaming
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateContextLoaded:
		return "CONTEXT_LOADED"
	case StateStreaming:
		return "STREAMING"
	case StateCommitted:
		return "COMMITTED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether s is Committed or Failed.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// canMove lists the allowed transitions.
func (s State) canMove(to State) bool {
	switch s {
	case StateIdle:
		return to == StateContextLoaded
	case StateContextLoaded:
		return to == StateStreaming
	case StateStreaming:
		return to == StateCommitted || to == StateFailed
	default:
		return false
	}
}
