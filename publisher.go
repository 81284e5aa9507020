package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/transport"
)

// identity is how a source registers.
type identity struct {
	EndpointID  string
	DisplayName string
	ExternalID  string
}

// mediaSource produces the published track's samples.
type mediaSource interface {
	Run(ctx context.Context) error
	Frames() uint64
}

// publisher registers one source with the hub and answers viewer offers.
type publisher struct {
	link     *link
	answerer *transport.Answerer
	media    mediaSource
	log      *slog.Logger
	updates  chan struct{}

	// onRegistered runs after every accepted registration.
	onRegistered func(identity)

	mu         sync.Mutex
	id         identity
	visible    bool
	registered bool
	players    []signal.FeedPlayer
	status     linkStatus
	lastErr    string
}

func newPublisher(config Config, dial dialFunc, log *slog.Logger) (*publisher, error) {
	id := identity{
		EndpointID:  config.EndpointID,
		DisplayName: config.DisplayName,
		ExternalID:  config.ExternalID,
	}
	if id.EndpointID == "" {
		id.EndpointID = signal.NewEndpointID()
	}

	src, err := transport.NewIVFSource(config.IVFPath, id.EndpointID)
	if err != nil {
		return nil, err
	}
	l := newLink(dial, log)
	p := buildPublisher(id, !config.Hidden, l, []webrtc.TrackLocal{src.Track()}, config.ICE, log)
	p.media = src
	return p, nil
}

func buildPublisher(id identity, visible bool, l *link, tracks []webrtc.TrackLocal, ice transport.ICEConfig, log *slog.Logger) *publisher {
	p := &publisher{
		link:         l,
		answerer:     transport.NewAnswerer(ice, id.EndpointID, l, tracks, log),
		log:          log.With("endpoint", id.EndpointID),
		updates:      make(chan struct{}, 1),
		onRegistered: func(identity) {},
		id:           id,
		visible:      visible,
	}
	p.answerer.SetChangeCallback(p.changed)

	l.onConnect = p.register
	l.onMessage = p.handle
	l.onStatus = p.setStatus
	return p
}

// Run publishes until ctx ends.
func (p *publisher) Run(ctx context.Context) error {
	defer p.answerer.Close()

	if p.media != nil {
		go func() {
			if err := p.media.Run(ctx); err != nil {
				p.log.Error("media source stopped", "error", err)
				p.setError(err.Error())
			}
		}()
	}
	return p.link.Run(ctx)
}

func (p *publisher) register() error {
	p.mu.Lock()
	id := p.id
	p.registered = false
	p.mu.Unlock()

	return p.link.Send(signal.SignalMessage{
		Type:        signal.TypeRegister,
		EndpointID:  id.EndpointID,
		DisplayName: id.DisplayName,
		ExternalID:  id.ExternalID,
	})
}

func (p *publisher) handle(msg signal.SignalMessage) {
	switch msg.Type {
	case signal.TypeRegisterResult:
		p.handleRegisterResult(msg)

	case signal.TypeOffer, signal.TypeICE:
		p.answerer.HandleSignal(msg)
		return

	case signal.TypeSourceUpdated:
		// The server links an external id by name when the feed sees us.
		if msg.Source == nil || msg.Source.ExternalID == "" {
			return
		}
		p.mu.Lock()
		if msg.Source.EndpointID != p.id.EndpointID || msg.Source.ExternalID == p.id.ExternalID {
			p.mu.Unlock()
			return
		}
		p.id.ExternalID = msg.Source.ExternalID
		id := p.id
		p.mu.Unlock()
		p.log.Info("linked to feed player", "external_id", id.ExternalID)
		p.onRegistered(id)

	case signal.TypePreferenceChanged:
		if msg.Source == nil || msg.Source.EndpointID != p.Identity().EndpointID {
			return
		}
		p.mu.Lock()
		p.visible = msg.Source.Visible
		p.mu.Unlock()

	case signal.TypeFeedPlayers:
		p.mu.Lock()
		p.players = msg.FeedPlayers
		p.mu.Unlock()

	case signal.TypeError:
		p.log.Warn("signal server error", "error", msg.Error)
		p.setError(msg.Error)

	default:
		return
	}
	p.changed()
}

func (p *publisher) handleRegisterResult(msg signal.SignalMessage) {
	switch msg.Result {
	case signal.ResultOK:
		p.mu.Lock()
		p.registered = true
		p.lastErr = ""
		if msg.Source != nil {
			p.id = identity{
				EndpointID:  msg.Source.EndpointID,
				DisplayName: msg.Source.DisplayName,
				ExternalID:  msg.Source.ExternalID,
			}
		}
		id, visible := p.id, p.visible
		p.mu.Unlock()

		p.answerer.SetEndpointID(id.EndpointID)
		p.log.Info("registered", "name", id.DisplayName, "external_id", id.ExternalID)
		// A fresh registration starts visible.
		if !visible {
			p.sendVisibility(false)
		}
		p.onRegistered(id)

	case signal.ResultEndpointTaken:
		// Another connection holds our saved id; come back under a new one.
		p.mu.Lock()
		old := p.id.EndpointID
		p.id.EndpointID = signal.NewEndpointID()
		p.mu.Unlock()
		p.log.Warn("endpoint id taken, registering under a new id", "old", old)
		if err := p.register(); err != nil {
			p.setError(err.Error())
		}

	default:
		p.mu.Lock()
		p.registered = false
		p.mu.Unlock()
		p.log.Warn("registration rejected", "result", msg.Result, "error", msg.Error)
		p.setError("registration rejected: " + msg.Result)
	}
}

// ToggleVisibility flips whether viewers may show this source.
func (p *publisher) ToggleVisibility() error {
	p.mu.Lock()
	p.visible = !p.visible
	visible := p.visible
	p.mu.Unlock()
	p.changed()
	return p.sendVisibility(visible)
}

func (p *publisher) sendVisibility(visible bool) error {
	return p.link.Send(signal.SignalMessage{
		Type:       signal.TypeSetVisibility,
		Identifier: p.Identity().EndpointID,
		Visible:    signal.Bool(visible),
	})
}

// RequestPlayers asks the hub which identities the spectate feed knows.
func (p *publisher) RequestPlayers() error {
	return p.link.Send(signal.SignalMessage{Type: signal.TypeFeedPlayersReq})
}

// LinkPlayer re-registers this source as a feed player, taking its name and
// external id.
func (p *publisher) LinkPlayer(fp signal.FeedPlayer) error {
	p.mu.Lock()
	p.id.DisplayName = fp.DisplayName
	p.id.ExternalID = fp.ExternalID
	p.mu.Unlock()
	return p.register()
}

func (p *publisher) Identity() identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *publisher) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

func (p *publisher) Registered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registered
}

func (p *publisher) Players() []signal.FeedPlayer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]signal.FeedPlayer(nil), p.players...)
}

func (p *publisher) Viewers() []transport.ViewerInfo {
	return p.answerer.Viewers()
}

func (p *publisher) Frames() uint64 {
	if p.media == nil {
		return 0
	}
	return p.media.Frames()
}

func (p *publisher) Status() (linkStatus, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.lastErr
}

func (p *publisher) setStatus(st linkStatus) {
	p.mu.Lock()
	p.status = st
	p.mu.Unlock()
	p.changed()
}

func (p *publisher) setError(msg string) {
	p.mu.Lock()
	p.lastErr = msg
	p.mu.Unlock()
	p.changed()
}

func (p *publisher) changed() {
	select {
	case p.updates <- struct{}{}:
	default:
	}
}
