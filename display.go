package main

import (
	"sort"
	"sync"
	"time"

	"github.com/tomaslejdung/obscam/pkg/switcher"
	"github.com/tomaslejdung/obscam/pkg/transport"
)

// tile is what the dashboard shows for one slot.
type tile struct {
	SlotID  string
	MediaID string
	Codec   string
	Since   time.Time
	Packets uint64
	Bytes   uint64
	Bitrate float64 // kbps since the previous sample
	Ended   bool
}

type shown struct {
	media     switcher.Media
	since     time.Time
	lastBytes uint64
	lastAt    time.Time
}

// terminalDisplay implements switcher.Display by tracking which media each
// slot shows; the dashboard renders its counters.
type terminalDisplay struct {
	mu    sync.Mutex
	slots map[string]*shown
}

func newTerminalDisplay() *terminalDisplay {
	return &terminalDisplay{slots: make(map[string]*shown)}
}

func (d *terminalDisplay) Show(slotID string, m switcher.Media) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	d.slots[slotID] = &shown{media: m, since: now, lastAt: now}
}

func (d *terminalDisplay) Clear(slotID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.slots, slotID)
}

// Tiles samples every shown slot, ordered with the main slot first.
func (d *terminalDisplay) Tiles() []tile {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	out := make([]tile, 0, len(d.slots))
	for id, s := range d.slots {
		t := tile{SlotID: id, MediaID: s.media.ID(), Since: s.since}
		if tm, ok := s.media.(*transport.Media); ok {
			st := tm.Stats()
			t.Codec = tm.Codec()
			t.Packets = st.Packets
			t.Bytes = st.Bytes
			if dt := now.Sub(s.lastAt).Seconds(); dt > 0 && st.Bytes >= s.lastBytes {
				t.Bitrate = float64(st.Bytes-s.lastBytes) * 8 / 1000 / dt
			}
			s.lastBytes = st.Bytes
			s.lastAt = now
			select {
			case <-tm.Done():
				t.Ended = true
			default:
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if (out[i].SlotID == switcher.MainSlotID) != (out[j].SlotID == switcher.MainSlotID) {
			return out[i].SlotID == switcher.MainSlotID
		}
		return out[i].SlotID < out[j].SlotID
	})
	return out
}

func (d *terminalDisplay) Showing(slotID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[slotID]
	if !ok {
		return "", false
	}
	return s.media.ID(), true
}
