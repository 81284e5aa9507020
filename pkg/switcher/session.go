package switcher

import (
	"context"
	"errors"
)

var (
	// ErrNegotiationFailed is reported when a replacement session fails
	// before producing media.
	ErrNegotiationFailed = errors.New("negotiation failed")

	// ErrNegotiationTimeout is reported when a replacement session does not
	// connect in time.
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)

// SessionState is a transport session's connection state.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionConnecting
	SessionConnected
	SessionFailed
	SessionDisconnected
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionFailed:
		return "failed"
	case SessionDisconnected:
		return "disconnected"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Media is inbound media ready to be displayed. The switcher never looks
// inside it.
type Media interface {
	ID() string
}

// Request describes the session a slot wants.
type Request struct {
	SlotID     string
	EndpointID string
	// SessionID distinguishes this negotiation from others between the same
	// viewer and source.
	SessionID string
}

// Callbacks deliver a session's events. They may be called from any
// goroutine, before or after Start returns.
type Callbacks struct {
	OnState func(SessionState)
	OnMedia func(Media)
}

// Session is one negotiated media path to a source.
type Session interface {
	// Start begins negotiation. It must not wait for the remote side.
	Start(ctx context.Context) error

	// Close tears the session down. Safe to call from any state, more than once.
	Close() error
}

// Factory creates sessions.
type Factory interface {
	NewSession(req Request, cb Callbacks) (Session, error)
}

// Display renders media for a slot.
type Display interface {
	Show(slotID string, m Media)
	Clear(slotID string)
}
