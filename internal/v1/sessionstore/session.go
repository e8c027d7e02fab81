// Package sessionstore holds the server-side session registry: the record
// that survives a single attachment (one WebSocket connection) so a
// reconnecting client can resume the same identity, room membership, and
// confession without starting over (spec §4.2).
//
// A Session is keyed by a server-minted sessionId and carries the signed
// bearer token the client presents on every future connect. Session
// identity is independent of the transport-level attachment: a session can
// exist with no live attachment (client disconnected, within the grace
// window) or be rebound to a new attachment on reconnect.
package sessionstore

import (
	"time"

	"github.com/confessionparty/server/internal/v1/protocol"
)

// IdleTimeout is how long a session may go untouched before the sweep
// lazily evicts it (spec §4.2: "idle > 24h or past expiresAt").
const IdleTimeout = 24 * time.Hour

// Session is one registered identity: a user that has bound (or reattached)
// to the store, independent of whether a WebSocket is currently attached.
type Session struct {
	ID           protocol.SessionID
	UserID       protocol.UserID
	Nickname     string
	TabID        string
	Token        string
	Attachment   protocol.AttachmentID // empty when no attachment is live
	RoomCode     protocol.RoomCode     // empty when not in a room
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

func (s *Session) expired(now time.Time) bool {
	if now.After(s.ExpiresAt) {
		return true
	}
	return now.Sub(s.LastActiveAt) > IdleTimeout
}

func (s *Session) clone() *Session {
	cp := *s
	return &cp
}
