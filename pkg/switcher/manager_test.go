package switcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mainState(m *Manager) SlotState {
	return m.Slots()[0]
}

func TestManager_followsFeed(t *testing.T) {
	h := newHarness()
	m := h.manager(t, false)

	m.ApplyTarget(Target{EndpointID: "src-a", Visible: true})
	st := mainState(m)
	require.Equal(t, MainSlotID, st.SlotID)
	require.Equal(t, "src-a", st.PendingTarget)

	m.ApplyTarget(Target{ExternalID: "ext-x"})
	st = mainState(m)
	require.Equal(t, Idle, st.State)
	require.True(t, h.factory.session(0).isClosed())
}

func TestManager_pinOverridesFeed(t *testing.T) {
	h := newHarness()
	m := h.manager(t, false)
	m.SourceJoined(Source{EndpointID: "src-a", DisplayName: "alice", Visible: true})
	m.SourceJoined(Source{EndpointID: "src-b", DisplayName: "bob", Visible: true})

	m.ApplyTarget(Target{EndpointID: "src-a", Visible: true})
	require.NoError(t, m.Pin("src-b"))
	require.Equal(t, "src-b", mainState(m).Target)

	// feed moves, pinned slot stays
	m.ApplyTarget(Target{EndpointID: "src-a", Visible: true})
	require.Equal(t, "src-b", mainState(m).Target)

	m.Unpin()
	require.Equal(t, "src-a", mainState(m).Target)
	require.Empty(t, m.Pinned())

	require.ErrorIs(t, m.Pin("src-404"), ErrUnknownSource)
}

func TestManager_preferenceHidesMain(t *testing.T) {
	h := newHarness()
	m := h.manager(t, false)
	m.SourceJoined(Source{EndpointID: "src-a", DisplayName: "alice", Visible: true})

	m.ApplyTarget(Target{EndpointID: "src-a", Visible: true})
	m.Slots()
	sess := h.factory.last(MainSlotID)
	sess.media()
	require.Equal(t, Live, mainState(m).State)

	m.PreferenceChanged(Source{EndpointID: "src-a", DisplayName: "alice", Visible: false})
	st := mainState(m)
	require.Equal(t, Idle, st.State)
	require.True(t, sess.isClosed())
	require.Empty(t, h.display.showing(MainSlotID))

	m.PreferenceChanged(Source{EndpointID: "src-a", DisplayName: "alice", Visible: true})
	require.Equal(t, Negotiating, mainState(m).State)
}

func TestManager_previews(t *testing.T) {
	h := newHarness()
	m := h.manager(t, true)

	m.SourceJoined(Source{EndpointID: "src-a", DisplayName: "alice", Visible: true})
	m.SourceJoined(Source{EndpointID: "src-b", DisplayName: "bob", Visible: false})

	slots := m.Slots()
	require.Len(t, slots, 3)
	require.Equal(t, PreviewSlotID("src-a"), slots[1].SlotID)
	require.Equal(t, Negotiating, slots[1].State)
	require.Equal(t, Idle, slots[2].State)

	prev := h.factory.last(PreviewSlotID("src-a"))
	require.NotNil(t, prev)

	m.SourceLeft("src-a")
	require.True(t, prev.isClosed())
	require.Len(t, m.Slots(), 2)
	require.Len(t, m.Sources(), 1)
}

func TestManager_sourceLeftDropsPin(t *testing.T) {
	h := newHarness()
	m := h.manager(t, false)
	m.SourceJoined(Source{EndpointID: "src-a", DisplayName: "alice", Visible: true})
	m.SourceJoined(Source{EndpointID: "src-b", DisplayName: "bob", Visible: true})

	m.ApplyTarget(Target{EndpointID: "src-a", Visible: true})
	require.NoError(t, m.Pin("src-b"))

	m.SourceLeft("src-b")
	require.Empty(t, m.Pinned())
	require.Equal(t, "src-a", mainState(m).Target)

	m.SourceLeft("src-a")
	st := mainState(m)
	require.Equal(t, Idle, st.State)
	require.Empty(t, st.Target)
}

func TestManager_syncRoster(t *testing.T) {
	h := newHarness()
	m := h.manager(t, false)
	m.SourceJoined(Source{EndpointID: "src-old", DisplayName: "zed", Visible: true})

	m.SyncRoster([]Source{
		{EndpointID: "src-b", DisplayName: "bob", Visible: true},
		{EndpointID: "src-a", DisplayName: "alice", Visible: true},
	})

	srcs := m.Sources()
	require.Len(t, srcs, 2)
	require.Equal(t, "alice", srcs[0].DisplayName)
	require.Equal(t, "bob", srcs[1].DisplayName)
}
