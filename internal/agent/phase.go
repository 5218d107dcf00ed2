package agent

// Phase is the session lifecycle state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAuthorizing
	PhaseConnecting
	PhaseOpen
	PhaseForwarding
	PhaseReconnecting
	// PhaseDisconnected follows a normal closure. Details and the persisted
	// url are kept; Start connects again.
	PhaseDisconnected
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAuthorizing:
		return "authorizing"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseForwarding:
		return "forwarding"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseDisconnected:
		return "disconnected"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
