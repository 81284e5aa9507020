package signal

import "github.com/tomaslejdung/obscam/pkg/registry"

// Message types
const (
	TypeRegister       = "register"
	TypeRegisterResult = "register-result"
	TypeUnregister     = "unregister"
	TypeSetVisibility  = "set-visibility"
	TypeHello          = "hello"
	TypeRoster         = "roster"
	TypeOffer          = "offer"
	TypeAnswer         = "answer"
	TypeICE            = "ice"
	TypeRouteError     = "route-error"
	TypeTargetChanged  = "target-changed"
	TypeFeedPlayersReq = "feed-players-request"
	TypeFeedPlayers    = "feed-players"
	TypeError          = "error"

	TypeSourceJoined      = "source-joined"
	TypeSourceUpdated     = "source-updated"
	TypeSourceLeft        = "source-left"
	TypePreferenceChanged = "preference-changed"
)

// Registration results carried in register-result.
const (
	ResultOK            = "ok"
	ResultNameTaken     = "name-taken"
	ResultEndpointTaken = "endpoint-taken"
	ResultInvalid       = "invalid"
)

// SignalMessage represents a WebSocket signaling message
type SignalMessage struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp,omitempty"`       // SDP offer/answer
	Candidate string `json:"candidate,omitempty"` // JSON-encoded ICE candidate init
	Error     string `json:"error,omitempty"`

	// Registration fields
	EndpointID  string `json:"endpointId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	ExternalID  string `json:"externalId,omitempty"`
	Result      string `json:"result,omitempty"` // register-result outcome

	// Routing fields
	TargetID       string `json:"targetEndpointId,omitempty"`
	SenderID       string `json:"senderEndpointId,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`      // opaque to the relay
	IsTargetSource bool   `json:"isTargetSource,omitempty"` // candidate addressed to a registered source
	ViewerID       string `json:"viewerId,omitempty"`       // hello

	// Preference fields
	Identifier string `json:"identifier,omitempty"` // endpoint id or external id
	Visible    *bool  `json:"visible,omitempty"`

	// Pushed state
	Source      *SourceInfo  `json:"source,omitempty"`
	Sources     []SourceInfo `json:"sources,omitempty"`
	Target      *TargetInfo  `json:"target,omitempty"`
	FeedPlayers []FeedPlayer `json:"feedPlayers,omitempty"`
}

// SourceInfo describes one registered source as viewers see it.
type SourceInfo struct {
	EndpointID  string `json:"endpointId"`
	DisplayName string `json:"displayName"`
	ExternalID  string `json:"externalId,omitempty"`
	Visible     bool   `json:"visible"`
}

// TargetInfo is the source the external feed currently points at. EndpointID
// is empty when the observed identity has no live stream.
type TargetInfo struct {
	ExternalID  string `json:"externalId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	EndpointID  string `json:"endpointId,omitempty"`
	Visible     bool   `json:"visible"`
}

// FeedPlayer is one identity known to the external feed, offered to sources
// picking who they are.
type FeedPlayer struct {
	ExternalID   string `json:"externalId"`
	DisplayName  string `json:"displayName"`
	IsRegistered bool   `json:"isRegistered"`
}

// NewSourceInfo converts a registry entry to its wire form.
func NewSourceInfo(e registry.Endpoint) SourceInfo {
	return SourceInfo{
		EndpointID:  e.EndpointID,
		DisplayName: e.DisplayName,
		ExternalID:  e.ExternalID,
		Visible:     e.Visible,
	}
}

// Bool returns a pointer to v, for SignalMessage.Visible.
func Bool(v bool) *bool { return &v }
