package realtime

// ConnectionState is the lifecycle position of an EventClient.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// StateChange is handed to a StateHandler on every transition. Err carries the cause of an
// unexpected disconnect or a failed connection attempt.
type StateChange struct {
	Old ConnectionState
	New ConnectionState
	Err error
}
