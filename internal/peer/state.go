package peer

type Role int

const (
	RoleOfferer Role = iota
	RoleAnswerer
)

func (r Role) String() string {
	if r == RoleOfferer {
		return "offerer"
	}
	return "answerer"
}

type State int

const (
	StateNew State = iota
	StateHaveLocalDescription
	StateNegotiating
	StateConnected
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateHaveLocalDescription:
		return "have-local-description"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
