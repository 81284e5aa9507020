package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
	"github.com/tomaslejdung/obscam/pkg/platform/metrics"
	"github.com/tomaslejdung/obscam/pkg/registry"
)

// DefaultSendBuffer is the outbound queue length per connection.
const DefaultSendBuffer = 256

// errNotConnected is returned by SendTo when the handle has gone away.
var errNotConnected = errors.New("connection closed")

// Client represents a connected signaling connection. conn is nil for
// in-process connections.
type Client struct {
	id       registry.Handle
	conn     *websocket.Conn
	viewerID string // set by hello; guarded by server.mu
	send     chan []byte
	server   *Server
}

// Options configures a Server. Zero values are usable.
type Options struct {
	SendBuffer int
	Logger     *slog.Logger
	Metrics    *metrics.Metrics

	// CurrentTarget reports the latest spectate target for viewers saying hello.
	CurrentTarget func() (TargetInfo, bool)

	// FeedPlayers lists identities known to the external feed.
	FeedPlayers func() []FeedPlayer
}

// Server is the signaling hub: it owns every connection, routes negotiation
// messages through a Relay and pushes roster changes to everyone.
type Server struct {
	clients  map[registry.Handle]*Client
	viewers  map[string]*Client
	mu       sync.RWMutex
	upgrader websocket.Upgrader

	registry *registry.Registry
	relay    *Relay
	opts     Options
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewServer creates a hub over reg and subscribes it to roster changes.
func NewServer(reg *registry.Registry, opts Options) *Server {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	s := &Server{
		clients:  make(map[registry.Handle]*Client),
		viewers:  make(map[string]*Client),
		registry: reg,
		opts:     opts,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // agents and OBS browser sources connect from anywhere
			},
		},
	}
	s.relay = NewRelay(reg, s, opts.Metrics)
	reg.Subscribe(s)
	return s
}

// HandleWebSocket upgrades the request and serves one signaling connection.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := s.addClient(conn)
	s.log.Info("connection opened", "conn", client.id, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleRoster serves the current roster as JSON.
func (s *Server) HandleRoster(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.roster()); err != nil {
		s.log.Warn("encode roster", "error", err)
	}
}

func (s *Server) addClient(conn *websocket.Conn) *Client {
	c := &Client{
		id:     NewHandle(),
		conn:   conn,
		send:   make(chan []byte, s.opts.SendBuffer),
		server: s,
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.metrics.ConnectionOpened()
	return c
}

// removeClient forgets c and drops its registrations. The registry is called
// after s.mu is released: its observers take s.mu themselves.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	if c.viewerID != "" && s.viewers[c.viewerID] == c {
		delete(s.viewers, c.viewerID)
	}
	close(c.send)
	s.mu.Unlock()

	s.metrics.ConnectionClosed()
	s.registry.OnConnectionLost(c.id)
	s.log.Info("connection closed", "conn", c.id)
}

func (s *Server) setViewer(c *Client, viewerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[c.id]; !ok {
		return
	}
	if c.viewerID != "" && s.viewers[c.viewerID] == c {
		delete(s.viewers, c.viewerID)
	}
	c.viewerID = viewerID
	s.viewers[viewerID] = c
}

func (s *Server) viewerOf(c *Client) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.viewerID
}

// SendTo implements Transport.
func (s *Server) SendTo(h registry.Handle, msg SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.clients[h]
	if !ok {
		return fmt.Errorf("%w: %s", errNotConnected, h)
	}
	s.enqueueLocked(c, data)
	return nil
}

// SendToViewer implements Transport. Viewers that never said hello are reached
// by broadcast; they filter on the target id themselves.
func (s *Server) SendToViewer(viewerID string, msg SignalMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.viewers[viewerID]; ok {
		s.enqueueLocked(c, data)
		return nil
	}
	for _, c := range s.clients {
		s.enqueueLocked(c, data)
	}
	return nil
}

// Broadcast sends msg to every connection.
func (s *Server) Broadcast(msg SignalMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("marshal broadcast", "type", msg.Type, "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.clients {
		s.enqueueLocked(c, data)
	}
}

// BroadcastTarget pushes a spectate target change to every connection.
func (s *Server) BroadcastTarget(t TargetInfo) {
	s.metrics.IncTargetChanges()
	s.Broadcast(SignalMessage{Type: TypeTargetChanged, Target: &t})
}

// Notify implements registry.Observer. It runs under the registry lock, so it
// only enqueues.
func (s *Server) Notify(n registry.Notification) {
	info := NewSourceInfo(n.Endpoint)
	s.Broadcast(SignalMessage{Type: n.Kind.String(), Source: &info})
}

// ConnectionCount returns the number of open connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// enqueueLocked never blocks: a full queue drops the message. Caller holds s.mu.
func (s *Server) enqueueLocked(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		s.metrics.IncDropped()
		s.log.Warn("send queue full, dropping message", "conn", c.id)
	}
}

func (s *Server) roster() []SourceInfo {
	snap := s.registry.Snapshot()
	out := make([]SourceInfo, 0, len(snap))
	for _, e := range snap {
		out = append(out, NewSourceInfo(e))
	}
	return out
}
