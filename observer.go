package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tomaslejdung/obscam/pkg/signal"
	"github.com/tomaslejdung/obscam/pkg/switcher"
	"github.com/tomaslejdung/obscam/pkg/transport"
)

const activityLen = 8

// sessionFactory creates viewer sessions and takes the hub's replies to them.
type sessionFactory interface {
	switcher.Factory
	HandleSignal(msg signal.SignalMessage) bool
	Close()
}

// observer follows the spectate feed: the hub's roster and target messages
// drive a switcher.Manager whose sessions negotiate over the same link.
type observer struct {
	viewerID string
	link     *link
	factory  sessionFactory
	manager  *switcher.Manager
	display  *terminalDisplay
	log      *slog.Logger
	updates  chan struct{}

	mu       sync.Mutex
	status   linkStatus
	activity []string
	lastErr  string
}

func newObserver(config Config, dial dialFunc, log *slog.Logger) *observer {
	viewerID := signal.NewViewerID()
	l := newLink(dial, log)
	factory := transport.NewFactory(config.ICE, viewerID, l, log)
	return buildObserver(config, viewerID, l, factory, log)
}

func buildObserver(config Config, viewerID string, l *link, factory sessionFactory, log *slog.Logger) *observer {
	o := &observer{
		viewerID: viewerID,
		link:     l,
		factory:  factory,
		display:  newTerminalDisplay(),
		log:      log.With("viewer", viewerID),
		updates:  make(chan struct{}, 1),
	}
	o.manager = switcher.NewManager(switcher.ManagerConfig{
		Factory:            factory,
		Display:            o.display,
		NegotiationTimeout: config.NegotiationTimeout,
		Logger:             o.log,
		OnEvent:            o.onEvent,
		Previews:           config.Previews,
	})

	l.onConnect = o.hello
	l.onMessage = o.handle
	l.onStatus = o.setStatus
	return o
}

// Run serves the link until ctx ends, then tears every slot down.
func (o *observer) Run(ctx context.Context) error {
	defer func() {
		o.manager.Close()
		o.factory.Close()
	}()
	return o.link.Run(ctx)
}

func (o *observer) hello() error {
	return o.link.Send(signal.SignalMessage{Type: signal.TypeHello, ViewerID: o.viewerID})
}

func (o *observer) handle(msg signal.SignalMessage) {
	switch msg.Type {
	case signal.TypeRoster:
		sources := make([]switcher.Source, 0, len(msg.Sources))
		for _, s := range msg.Sources {
			sources = append(sources, toSource(s))
		}
		o.manager.SyncRoster(sources)

	case signal.TypeSourceJoined:
		if msg.Source != nil {
			o.manager.SourceJoined(toSource(*msg.Source))
			o.record("%s joined", msg.Source.DisplayName)
		}

	case signal.TypeSourceUpdated:
		if msg.Source != nil {
			o.manager.SourceUpdated(toSource(*msg.Source))
		}

	case signal.TypePreferenceChanged:
		if msg.Source != nil {
			o.manager.PreferenceChanged(toSource(*msg.Source))
			o.record("%s %s", msg.Source.DisplayName, visibilityWord(msg.Source.Visible))
		}

	case signal.TypeSourceLeft:
		if msg.Source != nil {
			o.manager.SourceLeft(msg.Source.EndpointID)
			o.record("%s left", msg.Source.DisplayName)
		}

	case signal.TypeTargetChanged:
		var t switcher.Target
		if msg.Target != nil {
			t = switcher.Target{
				ExternalID:  msg.Target.ExternalID,
				DisplayName: msg.Target.DisplayName,
				EndpointID:  msg.Target.EndpointID,
				Visible:     msg.Target.Visible,
			}
		}
		o.manager.ApplyTarget(t)

	case signal.TypeAnswer, signal.TypeICE, signal.TypeRouteError:
		o.factory.HandleSignal(msg)

	case signal.TypeError:
		o.log.Warn("signal server error", "error", msg.Error)
		o.mu.Lock()
		o.lastErr = msg.Error
		o.mu.Unlock()

	default:
		return
	}
	o.changed()
}

func (o *observer) onEvent(ev switcher.Event) {
	switch ev.Kind {
	case switcher.EventLive:
		o.record("%s live: %s", ev.SlotID, ev.EndpointID)
	case switcher.EventNegotiationFailed:
		o.record("%s failed: %s (%v)", ev.SlotID, ev.EndpointID, ev.Err)
	case switcher.EventConnectionLost:
		o.record("%s lost: %s", ev.SlotID, ev.EndpointID)
	}
	o.changed()
}

func (o *observer) record(format string, args ...any) {
	line := time.Now().Format("15:04:05") + " " + fmt.Sprintf(format, args...)
	o.mu.Lock()
	o.activity = append(o.activity, line)
	if len(o.activity) > activityLen {
		o.activity = o.activity[len(o.activity)-activityLen:]
	}
	o.mu.Unlock()
}

func (o *observer) setStatus(st linkStatus) {
	o.mu.Lock()
	o.status = st
	o.mu.Unlock()
	o.changed()
}

// changed wakes the dashboard without blocking.
func (o *observer) changed() {
	select {
	case o.updates <- struct{}{}:
	default:
	}
}

// Activity returns the most recent slot and roster events, oldest first.
func (o *observer) Activity() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.activity...)
}

func (o *observer) Status() (linkStatus, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status, o.lastErr
}

func toSource(s signal.SourceInfo) switcher.Source {
	return switcher.Source{
		EndpointID:  s.EndpointID,
		DisplayName: s.DisplayName,
		ExternalID:  s.ExternalID,
		Visible:     s.Visible,
	}
}

func visibilityWord(visible bool) string {
	if visible {
		return "visible"
	}
	return "hidden"
}
