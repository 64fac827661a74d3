package session

// State is the single tagged value describing where the current flow
// is. Invalid combinations (connected with no peer, completed while
// still inviting) are unrepresentable.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateInviting
	StateConnected
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateInviting:
		return "INVITING"
	case StateConnected:
		return "CONNECTED"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Role distinguishes the two sides of a flow. The advertiser makes
// itself discoverable and receives; the browser discovers and sends.
type Role int

const (
	RoleNone Role = iota
	RoleAdvertiser
	RoleBrowser
)

func (r Role) String() string {
	switch r {
	case RoleAdvertiser:
		return "ADVERTISER"
	case RoleBrowser:
		return "BROWSER"
	default:
		return "NONE"
	}
}

// Outcome tracks whether the invitation made it across in the current
// flow. It is never persisted beyond the flow.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
)

func (o Outcome) String() string {
	if o == OutcomeCompleted {
		return "COMPLETED"
	}
	return "NONE"
}

// Peer is a discovered remote device, listed in discovery order.
type Peer struct {
	ID          string
	DisplayName string
}
