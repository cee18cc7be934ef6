package session

type State string

const (
	StateActive State = "ACTIVE"
	StateClosed State = "CLOSED"
)
