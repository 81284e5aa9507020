package transport

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/switcher"
)

// Sender submits messages to the signaling hub.
type Sender interface {
	Send(msg signal.SignalMessage) error
}

// Factory creates receive-only viewer sessions and routes the hub's replies
// to them by session id. It implements switcher.Factory.
type Factory struct {
	config   webrtc.Configuration
	viewerID string
	out      Sender
	log      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewFactory creates a factory for the viewer identified by viewerID.
func NewFactory(ice ICEConfig, viewerID string, out Sender, log *slog.Logger) *Factory {
	if log == nil {
		log = logger.Discard()
	}
	return &Factory{
		config:   ice.Configuration(),
		viewerID: viewerID,
		out:      out,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// NewSession implements switcher.Factory.
func (f *Factory) NewSession(req switcher.Request, cb switcher.Callbacks) (switcher.Session, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, errors.Wrap(err, "create peer connection")
	}

	s := &Session{
		factory: f,
		req:     req,
		cb:      cb,
		pc:      pc,
		log:     f.log.With("slot", req.SlotID, "endpoint", req.EndpointID, "session", req.SessionID),
	}

	f.mu.Lock()
	f.sessions[req.SessionID] = s
	f.mu.Unlock()
	return s, nil
}

// HandleSignal delivers an answer, candidate or routing error to the
// session it belongs to. It reports whether msg was for this viewer.
func (f *Factory) HandleSignal(msg signal.SignalMessage) bool {
	switch msg.Type {
	case signal.TypeAnswer, signal.TypeRouteError:
	case signal.TypeICE:
		if msg.IsTargetSource {
			return false
		}
	default:
		return false
	}
	// Broadcast fallback reaches every viewer; keep only ours.
	if msg.Type != signal.TypeRouteError && msg.TargetID != f.viewerID {
		return false
	}

	f.mu.Lock()
	s, ok := f.sessions[msg.SessionID]
	f.mu.Unlock()
	if !ok {
		return false
	}

	switch msg.Type {
	case signal.TypeAnswer:
		s.handleAnswer(msg.SDP)
	case signal.TypeICE:
		s.handleCandidate(msg.Candidate)
	case signal.TypeRouteError:
		s.log.Warn("offer not routed", "error", msg.Error)
		s.fail()
	}
	return true
}

// Close closes every open session.
func (f *Factory) Close() {
	f.mu.Lock()
	sessions := make([]*Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		sessions = append(sessions, s)
	}
	f.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

func (f *Factory) remove(id string) {
	f.mu.Lock()
	delete(f.sessions, id)
	f.mu.Unlock()
}

// Session is one receive-only peer connection to a source.
type Session struct {
	factory *Factory
	req     switcher.Request
	cb      switcher.Callbacks
	pc      *webrtc.PeerConnection
	log     *slog.Logger
	closed  atomic.Bool

	mu         sync.Mutex
	stop       func() bool
	remoteSet  bool
	candidates []webrtc.ICECandidateInit
	gotMedia   bool
}

// Start adds receive-only transceivers, creates the offer and sends it.
// Candidates trickle as they are gathered.
func (s *Session) Start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
		if _, err := s.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return errors.Wrapf(err, "add %s transceiver", kind)
		}
	}

	s.pc.OnICECandidate(s.onICECandidate)
	s.pc.OnConnectionStateChange(s.onConnectionState)
	s.pc.OnTrack(s.onTrack)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local description")
	}

	f := s.factory
	err = f.out.Send(signal.SignalMessage{
		Type:      signal.TypeOffer,
		SDP:       offer.SDP,
		TargetID:  s.req.EndpointID,
		SenderID:  f.viewerID,
		SessionID: s.req.SessionID,
	})
	return errors.Wrap(err, "send offer")
}

// Close releases the peer connection. No callbacks fire afterwards.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	s.factory.remove(s.req.SessionID)
	return s.pc.Close()
}

func (s *Session) onICECandidate(c *webrtc.ICECandidate) {
	if c == nil || s.closed.Load() {
		return
	}
	cand, err := encodeCandidate(c)
	if err != nil {
		s.log.Warn("drop local candidate", "error", err)
		return
	}
	f := s.factory
	err = f.out.Send(signal.SignalMessage{
		Type:           signal.TypeICE,
		Candidate:      cand,
		TargetID:       s.req.EndpointID,
		SenderID:       f.viewerID,
		SessionID:      s.req.SessionID,
		IsTargetSource: true,
	})
	if err != nil {
		s.log.Warn("send candidate", "error", err)
	}
}

func (s *Session) onConnectionState(state webrtc.PeerConnectionState) {
	if s.closed.Load() {
		return
	}
	s.log.Debug("connection state", "state", state.String())
	if st, ok := sessionState(state); ok && s.cb.OnState != nil {
		s.cb.OnState(st)
	}
}

func (s *Session) onTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	m := newMedia(track)
	go m.drain(track)

	if track.Kind() != webrtc.RTPCodecTypeVideo || s.closed.Load() {
		return
	}

	s.mu.Lock()
	first := !s.gotMedia
	s.gotMedia = true
	s.mu.Unlock()

	if first && s.cb.OnMedia != nil {
		s.log.Info("media available", "track", m.ID(), "codec", m.Codec())
		s.cb.OnMedia(m)
	}
}

func (s *Session) handleAnswer(sdp string) {
	if s.closed.Load() {
		return
	}
	err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
	if err != nil {
		s.log.Warn("set remote description", "error", err)
		s.fail()
		return
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.candidates
	s.candidates = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Debug("add buffered candidate", "error", err)
		}
	}
}

// handleCandidate buffers candidates that arrive before the answer.
func (s *Session) handleCandidate(raw string) {
	if s.closed.Load() {
		return
	}
	c, err := decodeCandidate(raw)
	if err != nil {
		s.log.Debug("bad remote candidate", "error", err)
		return
	}

	s.mu.Lock()
	if !s.remoteSet {
		s.candidates = append(s.candidates, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(c); err != nil {
		s.log.Debug("add remote candidate", "error", err)
	}
}

func (s *Session) fail() {
	if s.closed.Load() || s.cb.OnState == nil {
		return
	}
	s.cb.OnState(switcher.SessionFailed)
}

// sessionState maps a peer connection state onto the switcher's states.
func sessionState(state webrtc.PeerConnectionState) (switcher.SessionState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return switcher.SessionNew, true
	case webrtc.PeerConnectionStateConnecting:
		return switcher.SessionConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return switcher.SessionConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return switcher.SessionDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return switcher.SessionFailed, true
	case webrtc.PeerConnectionStateClosed:
		return switcher.SessionClosed, true
	default:
		return 0, false
	}
}
