package switcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// journal records display and session operations in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) index(entry string) int {
	for i, e := range j.all() {
		if e == entry {
			return i
		}
	}
	return -1
}

type fakeMedia struct{ id string }

func (m fakeMedia) ID() string { return m.id }

type fakeSession struct {
	req      Request
	cb       Callbacks
	j        *journal
	startErr error

	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Start(ctx context.Context) error {
	s.j.add("start:%s", s.req.EndpointID)
	return s.startErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.j.add("close:%s", s.req.EndpointID)
	}
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) media() { s.cb.OnMedia(fakeMedia{id: s.req.EndpointID}) }

func (s *fakeSession) state(st SessionState) { s.cb.OnState(st) }

type fakeFactory struct {
	j *journal

	mu       sync.Mutex
	sessions []*fakeSession
	newErr   error
	startErr error
}

func (f *fakeFactory) NewSession(req Request, cb Callbacks) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	s := &fakeSession{req: req, cb: cb, j: f.j, startErr: f.startErr}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func (f *fakeFactory) session(i int) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[i]
}

// last returns the newest session for slotID.
func (f *fakeFactory) last(slotID string) *fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sessions) - 1; i >= 0; i-- {
		if f.sessions[i].req.SlotID == slotID {
			return f.sessions[i]
		}
	}
	return nil
}

type fakeDisplay struct {
	j *journal

	mu    sync.Mutex
	shown map[string]string
}

func (d *fakeDisplay) Show(slotID string, m Media) {
	d.mu.Lock()
	d.shown[slotID] = m.ID()
	d.mu.Unlock()
	d.j.add("show:%s:%s", slotID, m.ID())
}

func (d *fakeDisplay) Clear(slotID string) {
	d.mu.Lock()
	delete(d.shown, slotID)
	d.mu.Unlock()
	d.j.add("clear:%s", slotID)
}

func (d *fakeDisplay) showing(slotID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown[slotID]
}

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

func (e *events) lastOf(kind EventKind) (Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.got) - 1; i >= 0; i-- {
		if e.got[i].Kind == kind {
			return e.got[i], true
		}
	}
	return Event{}, false
}

type harness struct {
	j       *journal
	factory *fakeFactory
	display *fakeDisplay
	events  *events
}

func newHarness() *harness {
	j := &journal{}
	return &harness{
		j:       j,
		factory: &fakeFactory{j: j},
		display: &fakeDisplay{j: j, shown: make(map[string]string)},
		events:  &events{},
	}
}

func (h *harness) slot(t *testing.T, id string, timeout time.Duration) *Slot {
	t.Helper()
	s := NewSlot(Config{
		ID:                 id,
		Factory:            h.factory,
		Display:            h.display,
		NegotiationTimeout: timeout,
		OnEvent:            h.events.record,
	})
	t.Cleanup(s.Close)
	return s
}

func (h *harness) manager(t *testing.T, previews bool) *Manager {
	t.Helper()
	m := NewManager(ManagerConfig{
		Factory:  h.factory,
		Display:  h.display,
		OnEvent:  h.events.record,
		Previews: previews,
	})
	t.Cleanup(m.Close)
	return m
}

// live drives slot to Live on endpointID and returns the session.
func live(t *testing.T, h *harness, s *Slot, endpointID string) *fakeSession {
	t.Helper()
	s.TargetChanged(endpointID, true)
	s.Snapshot()
	sess := h.factory.last(s.ID())
	require.NotNil(t, sess)
	require.Equal(t, endpointID, sess.req.EndpointID)
	sess.state(SessionConnected)
	sess.media()
	require.Equal(t, Live, s.Snapshot().State)
	return sess
}

var errBoom = errors.New("boom")
