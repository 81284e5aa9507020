package signal

import (
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"

	"github.com/tomaslejdung/obscam/pkg/registry"
)

// readPump reads messages from the WebSocket. One goroutine per connection
// handles that connection's messages in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.log.Warn("websocket read error", "conn", c.id, "error", err)
			}
			return
		}

		var msg SignalMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.server.log.Warn("invalid message format", "conn", c.id, "error", err)
			c.reply(SignalMessage{Type: TypeError, Error: "invalid message format"})
			continue
		}

		c.handleMessage(msg)
	}
}

// writePump sends messages to the WebSocket
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.server.log.Warn("websocket write error", "conn", c.id, "error", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// reply queues msg for this connection only.
func (c *Client) reply(msg SignalMessage) {
	if err := c.server.SendTo(c.id, msg); err != nil {
		c.server.log.Debug("reply dropped", "conn", c.id, "type", msg.Type, "error", err)
	}
}

// handleMessage processes incoming signaling messages
func (c *Client) handleMessage(msg SignalMessage) {
	switch msg.Type {
	case TypeRegister:
		c.handleRegister(msg)
	case TypeUnregister:
		c.handleUnregister(msg)
	case TypeSetVisibility:
		c.handleSetVisibility(msg)
	case TypeHello:
		c.handleHello(msg)
	case TypeOffer:
		c.handleOffer(msg)
	case TypeAnswer:
		if err := c.server.relay.RouteAnswer(msg); err != nil {
			c.server.log.Debug("answer not routed", "conn", c.id, "target", msg.TargetID, "error", err)
		}
	case TypeICE:
		c.handleICE(msg)
	case TypeFeedPlayersReq:
		c.handleFeedPlayers()
	default:
		c.server.log.Warn("unknown message type", "conn", c.id, "type", msg.Type)
		c.reply(SignalMessage{Type: TypeError, Error: "unknown message type: " + msg.Type})
	}
}

func (c *Client) handleRegister(msg SignalMessage) {
	s := c.server
	err := s.registry.Register(msg.EndpointID, msg.DisplayName, msg.ExternalID, c.id)

	result := registerResult(err)
	s.metrics.IncRegistrations(result)

	resp := SignalMessage{Type: TypeRegisterResult, Result: result, EndpointID: msg.EndpointID}
	if err != nil {
		resp.Error = err.Error()
		s.log.Info("registration rejected", "conn", c.id, "endpoint", msg.EndpointID, "name", msg.DisplayName, "result", result)
	} else {
		if e, ok := s.registry.Get(msg.EndpointID); ok {
			info := NewSourceInfo(e)
			resp.Source = &info
		}
		s.log.Info("source registered", "conn", c.id, "endpoint", msg.EndpointID, "name", msg.DisplayName)
	}
	c.reply(resp)
}

func registerResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, registry.ErrNameTaken):
		return ResultNameTaken
	case errors.Is(err, registry.ErrEndpointTaken):
		return ResultEndpointTaken
	default:
		return ResultInvalid
	}
}

// handleUnregister only lets a connection remove its own registrations.
func (c *Client) handleUnregister(msg SignalMessage) {
	s := c.server
	h, err := s.registry.Lookup(msg.EndpointID)
	if err != nil || h != c.id {
		c.reply(SignalMessage{Type: TypeError, EndpointID: msg.EndpointID, Error: registry.ErrNotFound.Error()})
		return
	}
	if err := s.registry.Unregister(msg.EndpointID); err != nil {
		c.reply(SignalMessage{Type: TypeError, EndpointID: msg.EndpointID, Error: err.Error()})
		return
	}
	s.log.Info("source unregistered", "conn", c.id, "endpoint", msg.EndpointID)
}

func (c *Client) handleSetVisibility(msg SignalMessage) {
	if msg.Visible == nil {
		c.reply(SignalMessage{Type: TypeError, Error: "visible is required"})
		return
	}
	if err := c.server.registry.SetVisibility(msg.Identifier, *msg.Visible); err != nil {
		c.reply(SignalMessage{Type: TypeError, Identifier: msg.Identifier, Error: err.Error()})
	}
}

// handleHello binds a viewer id to this connection and sends it the current state.
func (c *Client) handleHello(msg SignalMessage) {
	s := c.server
	if msg.ViewerID != "" {
		s.setViewer(c, msg.ViewerID)
	}

	c.reply(SignalMessage{Type: TypeRoster, Sources: s.roster()})

	if s.opts.CurrentTarget != nil {
		if t, ok := s.opts.CurrentTarget(); ok {
			c.reply(SignalMessage{Type: TypeTargetChanged, Target: &t})
		}
	}
}

func (c *Client) handleOffer(msg SignalMessage) {
	// A viewer that skipped hello is still reachable once it has sent an offer.
	if msg.SenderID != "" && c.server.viewerOf(c) == "" {
		c.server.setViewer(c, msg.SenderID)
	}

	if err := c.server.relay.RouteOffer(msg); err != nil {
		c.routeError(msg, err)
	}
}

func (c *Client) handleICE(msg SignalMessage) {
	if err := c.server.relay.RouteCandidate(msg); err != nil {
		if msg.IsTargetSource {
			c.routeError(msg, err)
			return
		}
		c.server.log.Debug("candidate not routed", "conn", c.id, "target", msg.TargetID, "error", err)
	}
}

func (c *Client) routeError(msg SignalMessage, err error) {
	c.server.log.Info("route failed", "conn", c.id, "type", msg.Type, "target", msg.TargetID, "error", err)
	c.reply(SignalMessage{
		Type:      TypeRouteError,
		TargetID:  msg.TargetID,
		SenderID:  msg.SenderID,
		SessionID: msg.SessionID,
		Error:     err.Error(),
	})
}

func (c *Client) handleFeedPlayers() {
	var players []FeedPlayer
	if c.server.opts.FeedPlayers != nil {
		players = c.server.opts.FeedPlayers()
	}
	c.reply(SignalMessage{Type: TypeFeedPlayers, FeedPlayers: players})
}
