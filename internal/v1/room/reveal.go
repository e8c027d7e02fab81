package room

import (
	"context"
	"fmt"
	"time"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/protocol"
	"go.uber.org/zap"
)

// RevealConfession marks userID's confession in roomCode revealed, appends a
// confession-kind system message with its text, and broadcasts
// confessionRevealed. Called only by the scheduler on game end (spec §4.4,
// §4.6 step 3).
func (m *Manager) RevealConfession(roomCode protocol.RoomCode, userID protocol.UserID, gameID protocol.GameID) error {
	r, err := m.lookup(roomCode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	c, ok := r.confessions[userID]
	if !ok || c.IsRevealed {
		r.mu.Unlock()
		return nil
	}
	now := time.Now()
	c.IsRevealed = true
	c.RevealedAt = &now
	c.RevealedInGameID = gameID

	nickname := string(userID)
	if p, ok := r.players[userID]; ok {
		nickname = p.Nickname
	}
	msg := r.appendChatLocked(ChatKindConfession, userID, nickname, fmt.Sprintf("%s's confession: %s", nickname, c.Text))
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventConfessionRevealed, map[string]any{"userId": userID, "message": msg})
	return nil
}

// SetCurrentGame links roomCode to an in-progress game and marks its
// players as playing, called by the scheduler when a game instance starts.
func (m *Manager) SetCurrentGame(roomCode protocol.RoomCode, gameID protocol.GameID, playerIDs []protocol.UserID) error {
	r, err := m.lookup(roomCode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.currentGameID = gameID
	for _, id := range playerIDs {
		if p, ok := r.players[id]; ok {
			p.IsPlaying = true
		}
	}
	r.mu.Unlock()

	m.persist(r)
	return nil
}

// ClearCurrentGame unlinks roomCode from its ended game and resets every
// player's IsPlaying flag (spec §4.6 end-of-game step 5).
func (m *Manager) ClearCurrentGame(roomCode protocol.RoomCode) error {
	r, err := m.lookup(roomCode)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.currentGameID = ""
	for _, p := range r.players {
		p.IsPlaying = false
	}
	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventRoomUpdated, map[string]any{"room": snap})
	return nil
}

// NotifyDisconnected rebroadcasts a temporary disconnect for userID without
// removing them from the room's membership (spec §4.1: "Disconnection does
// NOT remove the user from their room").
func (m *Manager) NotifyDisconnected(roomCode protocol.RoomCode, userID protocol.UserID) {
	r, err := m.lookup(roomCode)
	if err != nil {
		return
	}
	r.mu.Lock()
	if p, ok := r.players[userID]; ok {
		p.Connected = false
	}
	recipients := r.recipientsLocked()
	r.mu.Unlock()
	m.setPresence(roomCode, userID, false)
	m.broadcast(recipients, protocol.EventPlayerDisconnected, map[string]any{"userId": userID, "temporary": true})
}

// NotifyReconnected rebroadcasts a player's return within the reattach
// grace window (spec §4.1, §8 scenario S4).
func (m *Manager) NotifyReconnected(roomCode protocol.RoomCode, userID protocol.UserID) {
	r, err := m.lookup(roomCode)
	if err != nil {
		return
	}
	r.mu.Lock()
	if p, ok := r.players[userID]; ok {
		p.Connected = true
	}
	recipients := r.recipientsLocked()
	r.mu.Unlock()
	m.setPresence(roomCode, userID, true)
	m.broadcast(recipients, protocol.EventPlayerReconnected, map[string]any{"userId": userID})
}

// setPresence records userID's connection state in the room's presence hash
// so another server instance can read it without deserializing the whole
// room snapshot (spec §4.3, §6).
func (m *Manager) setPresence(roomCode protocol.RoomCode, userID protocol.UserID, connected bool) {
	value := "disconnected"
	if connected {
		value = "connected"
	}
	if err := m.cache.HSet(context.Background(), cache.RoomPresenceKey(roomCode), string(userID), value); err != nil {
		logging.Warn(context.Background(), "room: failed to update presence hash", zap.String("room", string(roomCode)), zap.Error(err))
	}
}
