package transport

import (
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/atomic"
)

// MediaStats is a snapshot of a received track's counters.
type MediaStats struct {
	Packets  uint64
	Bytes    uint64
	LastSeen time.Time
}

// Media is a remote track being received. It implements switcher.Media.
type Media struct {
	id       string
	kind     string
	codec    string
	packets  atomic.Uint64
	bytes    atomic.Uint64
	lastSeen atomic.Int64 // unix nanos
	done     chan struct{}
}

func newMedia(track *webrtc.TrackRemote) *Media {
	return &Media{
		id:    track.StreamID() + "/" + track.ID(),
		kind:  track.Kind().String(),
		codec: codecName(track.Codec().MimeType),
		done:  make(chan struct{}),
	}
}

// ID returns the remote stream and track id.
func (m *Media) ID() string { return m.id }

// Kind returns "video" or "audio".
func (m *Media) Kind() string { return m.kind }

// Codec returns the codec name, e.g. "vp8".
func (m *Media) Codec() string { return m.codec }

// Stats returns the counters so far.
func (m *Media) Stats() MediaStats {
	st := MediaStats{
		Packets: m.packets.Load(),
		Bytes:   m.bytes.Load(),
	}
	if ns := m.lastSeen.Load(); ns > 0 {
		st.LastSeen = time.Unix(0, ns)
	}
	return st
}

// Done is closed when the track ends.
func (m *Media) Done() <-chan struct{} { return m.done }

// drain reads the track until it ends. Rendering is out of scope; reading
// keeps the receiver's buffers moving and feeds the counters.
func (m *Media) drain(track *webrtc.TrackRemote) {
	defer close(m.done)

	buf := make([]byte, 1500)
	for {
		n, _, err := track.Read(buf)
		if err != nil {
			return
		}
		m.packets.Inc()
		m.bytes.Add(uint64(n))
		m.lastSeen.Store(time.Now().UnixNano())
	}
}
