package signal

import (
	"errors"
	"fmt"

	"github.com/tomaslejdung/obscam/pkg/platform/metrics"
	"github.com/tomaslejdung/obscam/pkg/registry"
)

// ErrTargetNotFound is returned when a message is addressed to an endpoint
// with no live registration.
var ErrTargetNotFound = errors.New("target endpoint not found")

// Directory resolves registered endpoint ids to their connections.
type Directory interface {
	Lookup(endpointID string) (registry.Handle, error)
}

// Transport delivers messages to connections. Implementations must not block
// and must keep per-recipient submission order.
type Transport interface {
	// SendTo delivers to the connection behind h.
	SendTo(h registry.Handle, msg SignalMessage) error

	// SendToViewer delivers to the connection that announced viewerID, or
	// broadcasts when no connection has.
	SendToViewer(viewerID string, msg SignalMessage) error
}

// Relay routes negotiation messages between a viewer and a source without
// looking at their payloads.
type Relay struct {
	dir     Directory
	tr      Transport
	metrics *metrics.Metrics
}

// NewRelay creates a relay. m may be nil.
func NewRelay(dir Directory, tr Transport, m *metrics.Metrics) *Relay {
	return &Relay{dir: dir, tr: tr, metrics: m}
}

// RouteOffer delivers an offer to its registered target.
func (r *Relay) RouteOffer(msg SignalMessage) error {
	return r.toSource(TypeOffer, msg)
}

// RouteAnswer delivers a source's answer to the viewer named in msg.TargetID.
func (r *Relay) RouteAnswer(msg SignalMessage) error {
	return r.toViewer(TypeAnswer, msg)
}

// RouteCandidate delivers an ICE candidate. Candidates flagged IsTargetSource
// go to a registered source; the rest go to a viewer.
func (r *Relay) RouteCandidate(msg SignalMessage) error {
	if msg.IsTargetSource {
		return r.toSource(TypeICE, msg)
	}
	return r.toViewer(TypeICE, msg)
}

func (r *Relay) toSource(msgType string, msg SignalMessage) error {
	if msg.TargetID == "" {
		r.metrics.IncRouteFailure(msgType)
		return fmt.Errorf("%w: missing target", ErrTargetNotFound)
	}

	h, err := r.dir.Lookup(msg.TargetID)
	if err != nil {
		r.metrics.IncRouteFailure(msgType)
		return fmt.Errorf("%w: %s", ErrTargetNotFound, msg.TargetID)
	}

	msg.Type = msgType
	if err := r.tr.SendTo(h, msg); err != nil {
		r.metrics.IncRouteFailure(msgType)
		return err
	}
	r.metrics.IncRelayed(msgType)
	return nil
}

func (r *Relay) toViewer(msgType string, msg SignalMessage) error {
	if msg.TargetID == "" {
		r.metrics.IncRouteFailure(msgType)
		return fmt.Errorf("%w: missing target", ErrTargetNotFound)
	}

	msg.Type = msgType
	if err := r.tr.SendToViewer(msg.TargetID, msg); err != nil {
		r.metrics.IncRouteFailure(msgType)
		return err
	}
	r.metrics.IncRelayed(msgType)
	return nil
}
