package signal

import (
	"encoding/json"
	"sync"

	"go.uber.org/atomic"
)

// Signaler is the agent side of a signaling connection. Conn implements it
// over WebSocket; LocalConn implements it in-process.
type Signaler interface {
	// Send submits a message to the hub.
	Send(msg SignalMessage) error

	// Messages returns the channel of messages pushed by the hub. It is
	// closed when the connection ends.
	Messages() <-chan SignalMessage

	// Close ends the connection. Safe to call more than once.
	Close() error
}

// LocalConn is a hub connection without a socket, used when the hub runs in
// the same process as the agent.
type LocalConn struct {
	client *Client
	msgs   chan SignalMessage
	mu     sync.Mutex // serializes Send like a readPump would
	closed atomic.Bool
}

// ConnectLocal opens an in-process connection to s.
func (s *Server) ConnectLocal() *LocalConn {
	c := s.addClient(nil)
	lc := &LocalConn{
		client: c,
		msgs:   make(chan SignalMessage, s.opts.SendBuffer),
	}
	go lc.decodeLoop()
	return lc
}

func (lc *LocalConn) decodeLoop() {
	defer close(lc.msgs)
	for data := range lc.client.send {
		var msg SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		lc.msgs <- msg
	}
}

// Send handles msg as if it had arrived on a socket.
func (lc *LocalConn) Send(msg SignalMessage) error {
	if lc.closed.Load() {
		return errNotConnected
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.client.handleMessage(msg)
	return nil
}

// Messages returns messages queued for this connection.
func (lc *LocalConn) Messages() <-chan SignalMessage {
	return lc.msgs
}

// Close disconnects, dropping any registrations made through this connection.
func (lc *LocalConn) Close() error {
	if lc.closed.CompareAndSwap(false, true) {
		lc.client.server.removeClient(lc.client)
	}
	return nil
}
