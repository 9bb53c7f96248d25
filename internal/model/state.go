package model

// ConnectionState is the state of the single logical broker connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	switch s {
	case Connecting:
		return next == Connected || next == Error
	case Connected:
		return next == Disconnected
	case Disconnected:
		return next == Connecting
	case Error:
		return next == Connecting
	default:
		return false
	}
}
