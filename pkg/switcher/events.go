package switcher

// State is a display slot's switching state.
type State int

const (
	Idle State = iota
	Negotiating
	Live
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// EventKind classifies slot events for the presentation layer.
type EventKind int

const (
	EventNegotiationStarted EventKind = iota
	EventLive
	EventIdle
	EventNegotiationFailed
	EventConnectionLost
)

func (k EventKind) String() string {
	switch k {
	case EventNegotiationStarted:
		return "negotiation-started"
	case EventLive:
		return "live"
	case EventIdle:
		return "idle"
	case EventNegotiationFailed:
		return "negotiation-failed"
	case EventConnectionLost:
		return "connection-lost"
	default:
		return "unknown"
	}
}

// Event is emitted by a slot on every visible change.
type Event struct {
	Kind       EventKind
	SlotID     string
	EndpointID string
	Err        error
}

// SlotState is a point-in-time view of a slot.
type SlotState struct {
	SlotID        string
	State         State
	Target        string
	Visible       bool
	ActiveTarget  string
	PendingTarget string
}
