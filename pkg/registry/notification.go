package registry

// Kind classifies a roster notification.
type Kind int

const (
	SourceJoined Kind = iota
	SourceUpdated
	SourceLeft
	PreferenceChanged
)

func (k Kind) String() string {
	switch k {
	case SourceJoined:
		return "source-joined"
	case SourceUpdated:
		return "source-updated"
	case SourceLeft:
		return "source-left"
	case PreferenceChanged:
		return "preference-changed"
	default:
		return "unknown"
	}
}

// Notification describes one registry mutation.
type Notification struct {
	Kind     Kind
	Endpoint Endpoint
}

// Observer receives notifications synchronously while the registry is locked.
// Implementations must not block and must not call back into the registry;
// enqueue and return.
type Observer interface {
	Notify(n Notification)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(n Notification)

func (f ObserverFunc) Notify(n Notification) { f(n) }
