package switcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlot_idempotentRetarget(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	s.TargetChanged("src-a", true)
	s.TargetChanged("src-a", true)
	st := s.Snapshot()

	require.Equal(t, 1, h.factory.count())
	require.Equal(t, Negotiating, st.State)
	require.Equal(t, "src-a", st.PendingTarget)

	h.factory.session(0).media()
	s.TargetChanged("src-a", true)
	require.Equal(t, Live, s.Snapshot().State)
	require.Equal(t, 1, h.factory.count())
}

func TestSlot_makeBeforeBreak(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")
	require.Equal(t, "src-a", h.display.showing(MainSlotID))

	s.TargetChanged("src-b", true)
	st := s.Snapshot()
	require.Equal(t, Negotiating, st.State)
	require.Equal(t, "src-a", st.ActiveTarget)
	require.Equal(t, "src-b", st.PendingTarget)
	require.False(t, a.isClosed(), "active closed before replacement had media")
	require.Equal(t, "src-a", h.display.showing(MainSlotID))

	b := h.factory.last(MainSlotID)
	b.state(SessionConnected)
	require.False(t, a.isClosed())
	b.media()

	st = s.Snapshot()
	require.Equal(t, Live, st.State)
	require.Equal(t, "src-b", st.ActiveTarget)
	require.Empty(t, st.PendingTarget)
	require.True(t, a.isClosed())
	require.Equal(t, "src-b", h.display.showing(MainSlotID))

	show := h.j.index("show:main:src-b")
	closeA := h.j.index("close:src-a")
	require.GreaterOrEqual(t, show, 0)
	require.Greater(t, closeA, show, "old session closed before new media shown")
	require.Equal(t, -1, h.j.index("clear:main"))
}

func TestSlot_supersededNegotiation(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	s.TargetChanged("src-a", true)
	s.TargetChanged("src-b", true)
	s.Snapshot()

	a := h.factory.session(0)
	b := h.factory.session(1)
	require.True(t, a.isClosed())
	require.False(t, b.isClosed())

	// late media from the abandoned negotiation
	a.media()
	a.state(SessionConnected)
	st := s.Snapshot()
	require.Equal(t, Negotiating, st.State)
	require.Equal(t, "src-b", st.PendingTarget)
	require.Empty(t, st.ActiveTarget)
	require.Empty(t, h.display.showing(MainSlotID))

	b.media()
	st = s.Snapshot()
	require.Equal(t, Live, st.State)
	require.Equal(t, "src-b", st.ActiveTarget)
}

func TestSlot_failedReplacementKeepsCurrent(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")

	s.TargetChanged("src-b", true)
	s.Snapshot()
	b := h.factory.last(MainSlotID)
	b.state(SessionFailed)

	st := s.Snapshot()
	require.Equal(t, Live, st.State)
	require.Equal(t, "src-a", st.ActiveTarget)
	require.Empty(t, st.PendingTarget)
	require.Equal(t, "src-b", st.Target)
	require.False(t, a.isClosed())
	require.True(t, b.isClosed())
	require.Equal(t, "src-a", h.display.showing(MainSlotID))

	ev, ok := h.events.lastOf(EventNegotiationFailed)
	require.True(t, ok)
	require.Equal(t, "src-b", ev.EndpointID)
	require.ErrorIs(t, ev.Err, ErrNegotiationFailed)
}

func TestSlot_hideCutsImmediately(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")

	s.TargetChanged("src-a", false)
	st := s.Snapshot()
	require.Equal(t, Idle, st.State)
	require.Empty(t, st.ActiveTarget)
	require.True(t, a.isClosed())
	require.Empty(t, h.display.showing(MainSlotID))
	require.Equal(t, 1, h.factory.count())

	// shown again: renegotiates
	s.TargetChanged("src-a", true)
	require.Equal(t, Negotiating, s.Snapshot().State)
	require.Equal(t, 2, h.factory.count())
}

func TestSlot_nullTargetCutsBoth(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")
	s.TargetChanged("src-b", true)
	s.Snapshot()
	b := h.factory.last(MainSlotID)

	s.TargetChanged("", false)
	st := s.Snapshot()
	require.Equal(t, Idle, st.State)
	require.True(t, a.isClosed())
	require.True(t, b.isClosed())
	require.Empty(t, h.display.showing(MainSlotID))

	_, ok := h.events.lastOf(EventIdle)
	require.True(t, ok)
}

func TestSlot_activeLostDoesNotRetry(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")
	a.state(SessionDisconnected)

	st := s.Snapshot()
	require.Equal(t, Idle, st.State)
	require.Equal(t, "src-a", st.Target)
	require.True(t, a.isClosed())
	require.Empty(t, h.display.showing(MainSlotID))
	require.Equal(t, 1, h.factory.count())

	ev, ok := h.events.lastOf(EventConnectionLost)
	require.True(t, ok)
	require.Equal(t, "src-a", ev.EndpointID)

	// a fresh target change retries
	s.TargetChanged("src-a", true)
	require.Equal(t, Negotiating, s.Snapshot().State)
	require.Equal(t, 2, h.factory.count())
}

func TestSlot_activeLostWhilePending(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")
	s.TargetChanged("src-b", true)
	s.Snapshot()

	a.state(SessionFailed)
	st := s.Snapshot()
	require.Equal(t, Negotiating, st.State)
	require.Empty(t, st.ActiveTarget)
	require.Equal(t, "src-b", st.PendingTarget)

	_, lost := h.events.lastOf(EventConnectionLost)
	require.False(t, lost)

	h.factory.last(MainSlotID).media()
	require.Equal(t, Live, s.Snapshot().State)
}

func TestSlot_switchBackCancelsPending(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, time.Minute)

	a := live(t, h, s, "src-a")
	s.TargetChanged("src-b", true)
	s.TargetChanged("src-a", true)

	st := s.Snapshot()
	require.Equal(t, Live, st.State)
	require.Equal(t, "src-a", st.ActiveTarget)
	require.Empty(t, st.PendingTarget)
	require.False(t, a.isClosed())
	require.True(t, h.factory.session(1).isClosed())
	require.Equal(t, 2, h.factory.count())
}

func TestSlot_negotiationTimeout(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, 30*time.Millisecond)

	a := live(t, h, s, "src-a")
	s.TargetChanged("src-b", true)

	require.Eventually(t, func() bool {
		_, ok := h.events.lastOf(EventNegotiationFailed)
		return ok
	}, time.Second, 5*time.Millisecond)

	ev, _ := h.events.lastOf(EventNegotiationFailed)
	require.ErrorIs(t, ev.Err, ErrNegotiationTimeout)

	st := s.Snapshot()
	require.Equal(t, Live, st.State)
	require.Equal(t, "src-a", st.ActiveTarget)
	require.False(t, a.isClosed())
	require.True(t, h.factory.last(MainSlotID).isClosed())
}

func TestSlot_connectedStopsTimeout(t *testing.T) {
	h := newHarness()
	s := h.slot(t, MainSlotID, 30*time.Millisecond)

	s.TargetChanged("src-a", true)
	s.Snapshot()
	h.factory.session(0).state(SessionConnected)
	s.Snapshot()

	time.Sleep(80 * time.Millisecond)
	st := s.Snapshot()
	require.Equal(t, Negotiating, st.State)
	require.Equal(t, "src-a", st.PendingTarget)
}

func TestSlot_startErrorIsLocal(t *testing.T) {
	h := newHarness()
	other := h.slot(t, "preview:src-a", time.Minute)
	live(t, h, other, "src-a")

	h.factory.mu.Lock()
	h.factory.startErr = errBoom
	h.factory.mu.Unlock()

	s := h.slot(t, MainSlotID, time.Minute)
	s.TargetChanged("src-unknown", true)

	st := s.Snapshot()
	require.Equal(t, Idle, st.State)
	require.Empty(t, st.PendingTarget)
	require.True(t, h.factory.last(MainSlotID).isClosed())

	ev, ok := h.events.lastOf(EventNegotiationFailed)
	require.True(t, ok)
	require.Equal(t, MainSlotID, ev.SlotID)

	require.Equal(t, Live, other.Snapshot().State)
	require.Equal(t, "src-a", h.display.showing("preview:src-a"))
}

func TestSlot_factoryError(t *testing.T) {
	h := newHarness()
	h.factory.newErr = errBoom
	s := h.slot(t, MainSlotID, time.Minute)

	s.TargetChanged("src-a", true)
	require.Equal(t, Idle, s.Snapshot().State)
	require.Equal(t, []EventKind{EventNegotiationFailed}, h.events.kinds())
}

func TestSlot_closeReleasesSessions(t *testing.T) {
	h := newHarness()
	s := NewSlot(Config{ID: MainSlotID, Factory: h.factory, Display: h.display})

	a := live(t, h, s, "src-a")
	s.TargetChanged("src-b", true)
	s.Snapshot()

	s.Close()
	s.Close()
	require.True(t, a.isClosed())
	require.True(t, h.factory.last(MainSlotID).isClosed())
	require.Empty(t, h.display.showing(MainSlotID))
	require.Equal(t, Idle, s.Snapshot().State)
}
