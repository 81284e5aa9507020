package switcher

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
)

// MainSlotID is the slot that follows the spectate feed.
const MainSlotID = "main"

// PreviewSlotID returns the preview slot id for a source.
func PreviewSlotID(endpointID string) string {
	return "preview:" + endpointID
}

// ErrUnknownSource is returned when pinning a source that is not in the roster.
var ErrUnknownSource = errors.New("unknown source")

// Source is a roster entry as the viewer knows it.
type Source struct {
	EndpointID  string
	DisplayName string
	ExternalID  string
	Visible     bool
}

// Target is what the spectate feed currently points at.
type Target struct {
	ExternalID  string
	DisplayName string
	EndpointID  string
	Visible     bool
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Factory            Factory
	Display            Display
	NegotiationTimeout time.Duration
	Logger             *slog.Logger
	OnEvent            func(Event)

	// Previews opens one preview slot per visible source.
	Previews bool
}

// Manager drives the main slot from the feed or a manual pin, and keeps one
// preview slot per source when previews are on.
type Manager struct {
	mu       sync.Mutex
	cfg      ManagerConfig
	log      *slog.Logger
	main     *Slot
	previews map[string]*Slot
	sources  map[string]Source
	feed     Target
	pinned   string
	closed   bool
}

// NewManager creates a manager with an idle main slot.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	m := &Manager{
		cfg:      cfg,
		log:      cfg.Logger,
		previews: make(map[string]*Slot),
		sources:  make(map[string]Source),
	}
	m.main = m.newSlot(MainSlotID)
	return m
}

func (m *Manager) newSlot(id string) *Slot {
	return NewSlot(Config{
		ID:                 id,
		Factory:            m.cfg.Factory,
		Display:            m.cfg.Display,
		NegotiationTimeout: m.cfg.NegotiationTimeout,
		Logger:             m.log,
		OnEvent:            m.cfg.OnEvent,
	})
}

// ApplyTarget records the feed's target and follows it unless a source is pinned.
func (m *Manager) ApplyTarget(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.feed = t
	if m.pinned == "" {
		m.main.TargetChanged(t.EndpointID, t.Visible)
	}
}

// Pin shows endpointID in the main slot regardless of the feed.
func (m *Manager) Pin(endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.sources[endpointID]
	if !ok {
		return ErrUnknownSource
	}
	m.pinned = endpointID
	m.main.TargetChanged(endpointID, src.Visible)
	return nil
}

// Unpin returns the main slot to the feed's latest target.
func (m *Manager) Unpin() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pinned == "" {
		return
	}
	m.pinned = ""
	m.main.TargetChanged(m.feed.EndpointID, m.feed.Visible)
}

// Pinned returns the pinned endpoint, if any.
func (m *Manager) Pinned() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pinned
}

// Feed returns the latest feed target.
func (m *Manager) Feed() Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feed
}

// SyncRoster replaces the known roster, e.g. after reconnecting.
func (m *Manager) SyncRoster(sources []Source) {
	keep := make(map[string]bool, len(sources))
	for _, src := range sources {
		keep[src.EndpointID] = true
		m.SourceJoined(src)
	}

	m.mu.Lock()
	var gone []string
	for id := range m.sources {
		if !keep[id] {
			gone = append(gone, id)
		}
	}
	m.mu.Unlock()

	for _, id := range gone {
		m.SourceLeft(id)
	}
}

// SourceJoined adds or refreshes a roster entry.
func (m *Manager) SourceJoined(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, known := m.sources[src.EndpointID]
	m.sources[src.EndpointID] = src
	if known && prev.Visible != src.Visible {
		m.retargetLocked(src)
		return
	}
	m.openPreviewLocked(src)
}

// SourceUpdated refreshes a roster entry.
func (m *Manager) SourceUpdated(src Source) {
	m.SourceJoined(src)
}

// PreferenceChanged applies a source's new visibility to every slot showing it.
func (m *Manager) PreferenceChanged(src Source) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources[src.EndpointID] = src
	m.retargetLocked(src)
}

// SourceLeft forgets a source. Slots showing it go blank; a pin on it is dropped.
func (m *Manager) SourceLeft(endpointID string) {
	m.mu.Lock()
	delete(m.sources, endpointID)
	preview := m.previews[endpointID]
	delete(m.previews, endpointID)

	if m.feed.EndpointID == endpointID {
		m.feed.EndpointID = ""
		m.feed.Visible = false
	}
	switch {
	case m.pinned == endpointID:
		m.pinned = ""
		m.main.TargetChanged(m.feed.EndpointID, m.feed.Visible)
	case m.pinned == "" && m.feed.EndpointID == "":
		m.main.TargetChanged("", false)
	}
	m.mu.Unlock()

	if preview != nil {
		preview.Close()
	}
}

// Slots returns a snapshot of every slot, main first.
func (m *Manager) Slots() []SlotState {
	m.mu.Lock()
	slots := []*Slot{m.main}
	ids := make([]string, 0, len(m.previews))
	for id := range m.previews {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		slots = append(slots, m.previews[id])
	}
	m.mu.Unlock()

	out := make([]SlotState, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Snapshot())
	}
	return out
}

// Sources returns the known roster ordered by display name.
func (m *Manager) Sources() []Source {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].EndpointID < out[j].EndpointID
	})
	return out
}

// Close stops every slot.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	slots := []*Slot{m.main}
	for _, s := range m.previews {
		slots = append(slots, s)
	}
	m.previews = make(map[string]*Slot)
	m.mu.Unlock()

	for _, s := range slots {
		s.Close()
	}
}

func (m *Manager) openPreviewLocked(src Source) {
	if !m.cfg.Previews || m.closed {
		return
	}
	slot, ok := m.previews[src.EndpointID]
	if !ok {
		slot = m.newSlot(PreviewSlotID(src.EndpointID))
		m.previews[src.EndpointID] = slot
	}
	slot.TargetChanged(src.EndpointID, src.Visible)
}

// retargetLocked re-sends a source's target to the slots bound to it so a
// hidden source is cut at once and a shown one renegotiates.
func (m *Manager) retargetLocked(src Source) {
	if slot, ok := m.previews[src.EndpointID]; ok {
		slot.TargetChanged(src.EndpointID, src.Visible)
	} else {
		m.openPreviewLocked(src)
	}

	switch {
	case m.pinned == src.EndpointID:
		m.main.TargetChanged(src.EndpointID, src.Visible)
	case m.pinned == "" && m.feed.EndpointID == src.EndpointID:
		m.feed.Visible = src.Visible
		m.main.TargetChanged(src.EndpointID, src.Visible)
	}
}
