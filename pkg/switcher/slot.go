// Package switcher owns the viewer side of stream switching: each display
// slot holds at most one active and one pending session and swaps them
// make-before-break.
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tomaslejdung/obscam/pkg/actor"
	"github.com/tomaslejdung/obscam/pkg/platform/logger"
)

// DefaultNegotiationTimeout bounds how long a pending session may take to connect.
const DefaultNegotiationTimeout = 12 * time.Second

// Config configures a Slot.
type Config struct {
	ID                 string
	Factory            Factory
	Display            Display
	NegotiationTimeout time.Duration
	Logger             *slog.Logger

	// OnEvent is called on the slot's goroutine and must not block.
	OnEvent func(Event)
}

// liveSession is a session the slot has created, tracked by pointer identity
// so callbacks from superseded sessions can be recognised.
type liveSession struct {
	id         string
	endpointID string
	session    Session
	timer      *time.Timer
}

// Slot is one display destination. All inputs are queued to a single
// goroutine; nothing else touches active or pending.
type Slot struct {
	cfg     Config
	mailbox *actor.Mailbox[func()]
	ctx     context.Context
	cancel  context.CancelFunc
	log     *slog.Logger

	// owned by the run goroutine
	target  string
	visible bool
	state   State
	active  *liveSession
	pending *liveSession
}

// NewSlot starts a slot in Idle.
func NewSlot(cfg Config) *Slot {
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Slot{
		cfg:     cfg,
		mailbox: actor.NewMailbox[func()](),
		ctx:     ctx,
		cancel:  cancel,
		log:     cfg.Logger.With("slot", cfg.ID),
	}
	go s.mailbox.Run(func(fn func()) { fn() })
	return s
}

// ID returns the slot id.
func (s *Slot) ID() string { return s.cfg.ID }

// TargetChanged queues a new target. An empty endpointID or visible=false
// blanks the slot.
func (s *Slot) TargetChanged(endpointID string, visible bool) {
	s.mailbox.Push(func() { s.targetChanged(endpointID, visible) })
}

// Snapshot returns the slot's state after every input queued before it.
func (s *Slot) Snapshot() SlotState {
	ch := make(chan SlotState, 1)
	if !s.mailbox.Push(func() { ch <- s.snapshot() }) {
		return SlotState{SlotID: s.cfg.ID, State: Idle}
	}
	return <-ch
}

// Close tears down both sessions, clears the display and stops the slot.
func (s *Slot) Close() {
	s.mailbox.Push(func() {
		s.cut()
		s.cancel()
	})
	s.mailbox.Close()
	<-s.mailbox.Done()
}

func (s *Slot) snapshot() SlotState {
	st := SlotState{
		SlotID:  s.cfg.ID,
		State:   s.state,
		Target:  s.target,
		Visible: s.visible,
	}
	if s.active != nil {
		st.ActiveTarget = s.active.endpointID
	}
	if s.pending != nil {
		st.PendingTarget = s.pending.endpointID
	}
	return st
}

func (s *Slot) targetChanged(endpointID string, visible bool) {
	// Already showing or negotiating exactly this.
	if endpointID != "" && visible && endpointID == s.target && s.visible {
		if s.pending != nil && s.pending.endpointID == endpointID {
			return
		}
		if s.pending == nil && s.active != nil && s.active.endpointID == endpointID {
			return
		}
	}

	s.target = endpointID
	s.visible = visible

	if s.pending != nil && s.pending.endpointID != endpointID {
		s.log.Debug("superseding pending negotiation", "endpoint", s.pending.endpointID)
		s.closeSession(s.pending)
		s.pending = nil
	}

	if endpointID == "" || !visible {
		s.cut()
		return
	}

	if s.pending != nil {
		// Still negotiating this target.
		s.state = Negotiating
		return
	}

	if s.active != nil && s.active.endpointID == endpointID {
		// Switched back before the replacement finished.
		s.setState(Live, Event{Kind: EventLive, EndpointID: endpointID})
		return
	}

	s.startPending(endpointID)
}

// cut closes both sessions and blanks the display.
func (s *Slot) cut() {
	if s.pending != nil {
		s.closeSession(s.pending)
		s.pending = nil
	}
	hadActive := s.active != nil
	if hadActive {
		s.closeSession(s.active)
		s.active = nil
	}
	if hadActive || s.state != Idle {
		s.cfg.Display.Clear(s.cfg.ID)
	}
	s.setState(Idle, Event{Kind: EventIdle, EndpointID: s.target})
}

func (s *Slot) startPending(endpointID string) {
	ls := &liveSession{id: uuid.NewString(), endpointID: endpointID}

	cb := Callbacks{
		OnState: func(st SessionState) {
			s.mailbox.Push(func() { s.sessionState(ls, st) })
		},
		OnMedia: func(m Media) {
			s.mailbox.Push(func() { s.sessionMedia(ls, m) })
		},
	}

	sess, err := s.cfg.Factory.NewSession(Request{SlotID: s.cfg.ID, EndpointID: endpointID, SessionID: ls.id}, cb)
	if err != nil {
		s.failed(endpointID, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	ls.session = sess
	s.pending = ls
	s.state = Negotiating
	s.emit(Event{Kind: EventNegotiationStarted, EndpointID: endpointID})
	s.log.Info("negotiating", "endpoint", endpointID, "session", ls.id)

	ls.timer = time.AfterFunc(s.cfg.NegotiationTimeout, func() {
		s.mailbox.Push(func() { s.negotiationTimeout(ls) })
	})

	if err := sess.Start(s.ctx); err != nil {
		s.failPending(ls, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
	}
}

func (s *Slot) sessionMedia(ls *liveSession, m Media) {
	if ls != s.pending {
		// Stale, or a further track on the active session.
		return
	}

	// Show the new media before releasing the old session.
	s.cfg.Display.Show(s.cfg.ID, m)

	old := s.active
	s.active = ls
	s.pending = nil
	stopTimer(ls)
	if old != nil {
		s.closeSession(old)
	}

	s.log.Info("live", "endpoint", ls.endpointID, "session", ls.id)
	s.setState(Live, Event{Kind: EventLive, EndpointID: ls.endpointID})
}

func (s *Slot) sessionState(ls *liveSession, st SessionState) {
	switch ls {
	case s.pending:
		switch st {
		case SessionConnected:
			stopTimer(ls)
		case SessionFailed, SessionClosed:
			s.failPending(ls, fmt.Errorf("%w: session %s", ErrNegotiationFailed, st))
		}

	case s.active:
		if st != SessionFailed && st != SessionDisconnected && st != SessionClosed {
			return
		}
		s.log.Warn("active session lost", "endpoint", ls.endpointID, "state", st.String())
		s.closeSession(ls)
		s.active = nil
		s.cfg.Display.Clear(s.cfg.ID)

		if s.pending != nil {
			// The replacement is still coming; nothing to show meanwhile.
			return
		}
		if ls.endpointID == s.target {
			s.setState(Idle, Event{Kind: EventConnectionLost, EndpointID: ls.endpointID, Err: fmt.Errorf("session %s", st)})
			return
		}
		s.setState(Idle, Event{Kind: EventIdle, EndpointID: ls.endpointID})
	}
}

func (s *Slot) negotiationTimeout(ls *liveSession) {
	if ls != s.pending {
		return
	}
	s.failPending(ls, ErrNegotiationTimeout)
}

// failPending drops the pending session and keeps whatever is displayed.
func (s *Slot) failPending(ls *liveSession, err error) {
	if ls != s.pending {
		return
	}
	s.closeSession(ls)
	s.pending = nil
	s.failed(ls.endpointID, err)
}

func (s *Slot) failed(endpointID string, err error) {
	s.log.Warn("negotiation failed", "endpoint", endpointID, "error", err)
	if s.active != nil {
		s.state = Live
	} else {
		s.state = Idle
	}
	s.emit(Event{Kind: EventNegotiationFailed, EndpointID: endpointID, Err: err})
}

func (s *Slot) closeSession(ls *liveSession) {
	stopTimer(ls)
	if ls.session == nil {
		return
	}
	if err := ls.session.Close(); err != nil {
		s.log.Debug("close session", "endpoint", ls.endpointID, "error", err)
	}
}

// setState emits ev only when the state actually changes.
func (s *Slot) setState(st State, ev Event) {
	if s.state == st && ev.Kind != EventConnectionLost {
		return
	}
	s.state = st
	s.emit(ev)
}

func (s *Slot) emit(ev Event) {
	ev.SlotID = s.cfg.ID
	s.cfg.OnEvent(ev)
}

func stopTimer(ls *liveSession) {
	if ls.timer != nil {
		ls.timer.Stop()
	}
}
