package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConnection is the subset of *websocket.Conn the client pumps use.
// Grounded on the teacher's session.wsConnection: kept as its own
// interface so tests can drive a Client with a fake connection instead of
// a real socket.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client is one attachment: one live WebSocket tied to a session. Several
// Clients may share a userID (one per tabId) but never a sessionID.
type Client struct {
	conn wsConnection
	send chan []byte
	hub  *Hub

	attachmentID protocol.AttachmentID
	sessionID    protocol.SessionID
	userID       protocol.UserID
}

// enqueue drops the message rather than blocking the publisher goroutine
// when an attachment's outbound buffer is saturated; a stuck client must
// not stall delivery to every other attachment.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "transport: client send buffer full, dropping message", zap.String("user_id", string(c.userID)))
	}
}

// readPump decodes one JSON envelope per frame and hands it to the hub's
// dispatcher. Exits, and triggers disconnect handling, on the first read
// error (the client closed the socket, or it dropped).
func (c *Client) readPump() {
	defer c.hub.handleDisconnect(c)
	defer c.conn.Close()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(context.Background(), "transport: failed to unmarshal envelope", zap.String("user_id", string(c.userID)), zap.Error(err))
			continue
		}

		c.hub.dispatch(c, env)
	}
}

// writePump drains the client's send buffer to the socket. Exits (closing
// the connection) on the first write error.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func marshalEnvelope(env protocol.Envelope) ([]byte, error) {
	return json.Marshal(env)
}
