package signal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/tomaslejdung/obscam/pkg/platform/logger"
)

// Conn is an agent's WebSocket connection to the signaling server.
type Conn struct {
	conn    *websocket.Conn
	connMu  sync.Mutex
	msgChan chan SignalMessage
	done    chan struct{}
	closed  bool
	closeMu sync.Mutex
	log     *slog.Logger
}

// Dial connects to the hub at url (ws:// or wss://).
func Dial(ctx context.Context, url string, log *slog.Logger) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewConn(ws, log), nil
}

// NewConn wraps an established WebSocket.
func NewConn(ws *websocket.Conn, log *slog.Logger) *Conn {
	if log == nil {
		log = logger.Discard()
	}
	c := &Conn{
		conn:    ws,
		msgChan: make(chan SignalMessage, 100),
		done:    make(chan struct{}),
		log:     log,
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.msgChan)

	for {
		var msg SignalMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.closeMu.Lock()
			closed := c.closed
			c.closeMu.Unlock()
			if !closed {
				c.log.Warn("signaling read error", "error", err)
			}
			return
		}
		select {
		case c.msgChan <- msg:
		case <-c.done:
			return
		}
	}
}

// Send writes msg to the hub.
func (c *Conn) Send(msg SignalMessage) error {
	c.closeMu.Lock()
	closed := c.closed
	c.closeMu.Unlock()
	if closed {
		return errNotConnected
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.Wrapf(err, "send %s", msg.Type)
	}
	return nil
}

// Messages returns channel of incoming messages
func (c *Conn) Messages() <-chan SignalMessage {
	return c.msgChan
}

// Close shuts down the connection
func (c *Conn) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)

	c.connMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.connMu.Unlock()
	return c.conn.Close()
}
