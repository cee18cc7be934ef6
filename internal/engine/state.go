package engine

// State is the lifecycle position of a run, and of an engine through its
// current run.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
	StateStopped   State = "STOPPED"
)

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateStopped:
		return true
	}
	return false
}
