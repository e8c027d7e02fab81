package sessionstore

import (
	"errors"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/auth"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Reattach when the referenced session
// does not exist or has already been swept. LookupByAttachment reports the
// same condition with a false result instead.
var ErrSessionNotFound = errors.New("sessionstore: session not found")

// Store is the in-process session registry. It is guarded by a single
// mutex in the same style as the teacher's Hub.mu: reads and writes are
// infrequent enough per session (one per connect/reconnect/heartbeat) that a
// single lock avoids the complexity of finer-grained sharding.
type Store struct {
	mu           sync.RWMutex
	tokens       *auth.TokenService
	sessions     map[protocol.SessionID]*Session
	byAttachment map[protocol.AttachmentID]protocol.SessionID
}

// New builds a Store backed by tokens for minting and verifying bearer
// tokens handed to clients.
func New(tokens *auth.TokenService) *Store {
	return &Store{
		tokens:       tokens,
		sessions:     make(map[protocol.SessionID]*Session),
		byAttachment: make(map[protocol.AttachmentID]protocol.SessionID),
	}
}

// Bind mints a brand-new session and bearer token for a client with no
// usable prior token (spec §4.1: "no token, or newSession requested").
func (s *Store) Bind(nickname, tabID string, attachment protocol.AttachmentID) (*Session, error) {
	userID := uuid.NewString()
	sessionID := uuid.NewString()

	token, expiresAt, err := s.tokens.Issue(userID, sessionID, tabID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           protocol.SessionID(sessionID),
		UserID:       protocol.UserID(userID),
		Nickname:     nickname,
		TabID:        tabID,
		Token:        token,
		Attachment:   attachment,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    expiresAt,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	if attachment != "" {
		s.byAttachment[attachment] = sess.ID
	}
	s.mu.Unlock()

	return sess.clone(), nil
}

// Reattach verifies a previously issued bearer token and, if the session it
// names is still registered and unexpired, rebinds it to a new attachment
// id. sessionId is preserved; only the attachment changes (spec §4.2).
//
// A verification failure or a missing/expired session record is reported as
// ErrSessionNotFound itself (the lower-level cause is not wrapped) so
// the gateway can fall back to Bind uniformly rather than branching on
// error type.
func (s *Store) Reattach(token string, attachment protocol.AttachmentID) (*Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[protocol.SessionID(claims.SessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := time.Now()
	if sess.expired(now) {
		delete(s.sessions, sess.ID)
		if sess.Attachment != "" {
			delete(s.byAttachment, sess.Attachment)
		}
		return nil, ErrSessionNotFound
	}

	if sess.Attachment != "" && sess.Attachment != attachment {
		delete(s.byAttachment, sess.Attachment)
	}
	sess.Attachment = attachment
	sess.LastActiveAt = now
	if attachment != "" {
		s.byAttachment[attachment] = sess.ID
	}

	return sess.clone(), nil
}

// Touch refreshes a session's LastActiveAt, keeping it alive against the
// idle sweep. The gateway calls this on every inbound event.
func (s *Store) Touch(id protocol.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.LastActiveAt = time.Now()
	}
}

// ClearAttachment detaches the live attachment from a session without
// evicting the session record, for use when a WebSocket drops. The session
// stays reattachable until Sweep evicts it; the gateway runs no grace timer
// of its own.
func (s *Store) ClearAttachment(id protocol.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	if sess.Attachment != "" {
		delete(s.byAttachment, sess.Attachment)
		sess.Attachment = ""
	}
}

// SetRoom records which room a session is currently a member of, so a
// reconnect can be routed back to the right room without the client
// re-supplying the room code.
func (s *Store) SetRoom(id protocol.SessionID, room protocol.RoomCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.RoomCode = room
	}
}

// Expire forcibly evicts a session, for explicit logout or a kick.
func (s *Store) Expire(id protocol.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		if sess.Attachment != "" {
			delete(s.byAttachment, sess.Attachment)
		}
		delete(s.sessions, id)
	}
}

// LookupByAttachment resolves a live attachment id back to its session,
// used by the transport gateway to route an inbound frame without
// re-parsing the handshake.
func (s *Store) LookupByAttachment(attachment protocol.AttachmentID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAttachment[attachment]
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Get returns a copy of a session by id.
func (s *Store) Get(id protocol.SessionID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.clone(), true
}

// Sweep evicts every session idle past IdleTimeout or whose token has
// expired, and is meant to be called periodically (spec §4.2: "lazily
// removed by a periodic sweep"). It returns the number of sessions evicted.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, sess := range s.sessions {
		if !sess.expired(now) {
			continue
		}
		if sess.Attachment != "" {
			delete(s.byAttachment, sess.Attachment)
		}
		delete(s.sessions, id)
		evicted++
	}
	return evicted
}

// Count returns the number of registered sessions, for diagnostics.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
