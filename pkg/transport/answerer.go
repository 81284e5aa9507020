package transport

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/signal"
)

// ViewerInfo holds information about a connected viewer
type ViewerInfo struct {
	ViewerID       string
	SessionID      string
	State          string // connecting, connected, disconnected
	ConnectedAt    time.Time
	ConnectionType string // "direct", "relay", or "unknown"
}

type peer struct {
	pc   *webrtc.PeerConnection
	info *ViewerInfo
}

// Answerer is the source side: it answers viewer offers with the local tracks,
// one peer connection per (viewer, session).
type Answerer struct {
	config     webrtc.Configuration
	endpointID string
	out        Sender
	tracks     []webrtc.TrackLocal
	log        *slog.Logger

	mu     sync.RWMutex
	peers  map[string]*peer
	closed bool

	onChange func()
}

// NewAnswerer creates an answerer publishing tracks as endpointID.
func NewAnswerer(ice ICEConfig, endpointID string, out Sender, tracks []webrtc.TrackLocal, log *slog.Logger) *Answerer {
	if log == nil {
		log = logger.Discard()
	}
	return &Answerer{
		config:     ice.Configuration(),
		endpointID: endpointID,
		out:        out,
		tracks:     tracks,
		log:        log,
		peers:      make(map[string]*peer),
	}
}

// SetEndpointID changes the id answers are sent from, after re-registration.
func (a *Answerer) SetEndpointID(id string) {
	a.mu.Lock()
	a.endpointID = id
	a.mu.Unlock()
}

// SetChangeCallback sets a callback run whenever the viewer list changes.
func (a *Answerer) SetChangeCallback(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

func peerKey(viewerID, sessionID string) string {
	return viewerID + "/" + sessionID
}

// HandleSignal processes offers and candidates addressed to this source. It
// reports whether msg was consumed.
func (a *Answerer) HandleSignal(msg signal.SignalMessage) bool {
	a.mu.RLock()
	self := a.endpointID
	a.mu.RUnlock()

	if msg.TargetID != self {
		return false
	}

	switch {
	case msg.Type == signal.TypeOffer:
		if err := a.handleOffer(msg); err != nil {
			a.log.Warn("answer offer", "viewer", msg.SenderID, "session", msg.SessionID, "error", err)
		}
		return true
	case msg.Type == signal.TypeICE && msg.IsTargetSource:
		a.addCandidate(msg)
		return true
	}
	return false
}

func (a *Answerer) handleOffer(msg signal.SignalMessage) error {
	key := peerKey(msg.SenderID, msg.SessionID)

	pc, err := webrtc.NewPeerConnection(a.config)
	if err != nil {
		return errors.Wrap(err, "create peer connection")
	}

	for _, t := range a.tracks {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			return errors.Wrapf(err, "add track %s", t.ID())
		}
	}

	viewerID, sessionID := msg.SenderID, msg.SessionID
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		cand, err := encodeCandidate(c)
		if err != nil {
			return
		}
		a.mu.RLock()
		self := a.endpointID
		a.mu.RUnlock()
		if err := a.out.Send(signal.SignalMessage{
			Type:      signal.TypeICE,
			Candidate: cand,
			TargetID:  viewerID,
			SenderID:  self,
			SessionID: sessionID,
		}); err != nil {
			a.log.Warn("send candidate", "viewer", viewerID, "error", err)
		}
	})

	info := &ViewerInfo{
		ViewerID:       viewerID,
		SessionID:      sessionID,
		State:          "connecting",
		ConnectionType: "unknown",
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		a.log.Debug("peer connection state", "viewer", viewerID, "session", sessionID, "state", state.String())

		a.mu.Lock()
		info.State = state.String()
		if state == webrtc.PeerConnectionStateConnected {
			info.ConnectedAt = time.Now()
			info.ConnectionType = connectionType(pc)
		}
		a.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			a.removePeer(key, pc)
		}
		a.changed()
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP}); err != nil {
		pc.Close()
		return errors.Wrap(err, "set remote description")
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return errors.Wrap(err, "create answer")
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return errors.Wrap(err, "set local description")
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		pc.Close()
		return nil
	}
	old := a.peers[key]
	a.peers[key] = &peer{pc: pc, info: info}
	self := a.endpointID
	a.mu.Unlock()

	if old != nil {
		old.pc.Close()
	}
	a.changed()

	return errors.Wrap(a.out.Send(signal.SignalMessage{
		Type:      signal.TypeAnswer,
		SDP:       answer.SDP,
		TargetID:  viewerID,
		SenderID:  self,
		SessionID: sessionID,
	}), "send answer")
}

func (a *Answerer) addCandidate(msg signal.SignalMessage) {
	a.mu.RLock()
	p, ok := a.peers[peerKey(msg.SenderID, msg.SessionID)]
	a.mu.RUnlock()
	if !ok {
		a.log.Debug("candidate for unknown peer", "viewer", msg.SenderID, "session", msg.SessionID)
		return
	}

	c, err := decodeCandidate(msg.Candidate)
	if err != nil {
		a.log.Debug("bad remote candidate", "error", err)
		return
	}
	if err := p.pc.AddICECandidate(c); err != nil {
		a.log.Debug("add remote candidate", "error", err)
	}
}

func (a *Answerer) removePeer(key string, pc *webrtc.PeerConnection) {
	a.mu.Lock()
	p, ok := a.peers[key]
	if ok && p.pc == pc {
		delete(a.peers, key)
	}
	a.mu.Unlock()

	if ok && p.pc == pc {
		go pc.Close()
	}
}

func (a *Answerer) changed() {
	a.mu.RLock()
	fn := a.onChange
	a.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Viewers returns the connected viewers ordered by viewer id.
func (a *Answerer) Viewers() []ViewerInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]ViewerInfo, 0, len(a.peers))
	for _, p := range a.peers {
		out = append(out, *p.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewerID != out[j].ViewerID {
			return out[i].ViewerID < out[j].ViewerID
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Close closes every peer connection.
func (a *Answerer) Close() {
	a.mu.Lock()
	a.closed = true
	peers := a.peers
	a.peers = make(map[string]*peer)
	a.mu.Unlock()

	for _, p := range peers {
		p.pc.Close()
	}
}
