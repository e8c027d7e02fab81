package room

import (
	"github.com/confessionparty/server/internal/v1/protocol"
)

// UpdateRoomSettings applies a partial settings patch. Host-only.
func (m *Manager) UpdateRoomSettings(userID protocol.UserID, code protocol.RoomCode, patch SettingsUpdate) (Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if r.creatorUserID != userID {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotHost, "only the host can update room settings")
	}

	if patch.Name != nil {
		r.name = *patch.Name
	}
	if patch.Description != nil {
		r.description = *patch.Description
	}
	if patch.Password != nil {
		r.password = *patch.Password
	}
	if patch.MaxPlayers != nil && *patch.MaxPlayers >= len(r.players) {
		r.maxPlayers = *patch.MaxPlayers
	}
	if patch.IsPublic != nil {
		r.isPublic = *patch.IsPublic
	}

	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventRoomSettingsUpdated, map[string]any{"room": snap})
	return snap, nil
}

// UpdateGamePool filters pool against the known game-type set (unknown
// types are silently dropped) and substitutes the default pool if the
// filtered result is empty (spec §4.4). Host-only.
func (m *Manager) UpdateGamePool(userID protocol.UserID, code protocol.RoomCode, pool []protocol.GameType) (Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	filtered := make([]protocol.GameType, 0, len(pool))
	for _, t := range pool {
		if protocol.IsKnownGameType(t) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		filtered = append([]protocol.GameType{}, protocol.KnownGameTypes...)
	}

	r.mu.Lock()
	if r.creatorUserID != userID {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotHost, "only the host can update the game pool")
	}
	r.gamePool = filtered
	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventGamePoolUpdated, map[string]any{"room": snap, "gamePool": filtered})
	m.broadcast(recipients, protocol.EventRoomUpdated, map[string]any{"room": snap})
	return snap, nil
}

// KickPlayer removes target from the room, host-only, and notifies the
// removed player with a dedicated "kicked" event distinct from the
// room-wide "playerKicked" broadcast.
func (m *Manager) KickPlayer(userID protocol.UserID, code protocol.RoomCode, target protocol.UserID) (Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if r.creatorUserID != userID {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotHost, "only the host can kick players")
	}
	if userID == target {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrValidation, "the host cannot kick themselves")
	}
	player, ok := r.players[target]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotFound, "player not in room")
	}

	delete(r.players, target)
	r.playerOrder = removeUserID(r.playerOrder, target)
	delete(r.confessions, target)
	r.appendSystemLocked(player.Nickname + " was removed from the room")

	snap := r.snapshotLocked()
	remaining := r.recipientsLocked()
	r.mu.Unlock()

	m.mu.Lock()
	delete(m.byUser, target)
	m.mu.Unlock()

	m.persist(r)
	m.broadcast([]protocol.UserID{target}, protocol.EventKicked, map[string]any{"roomCode": code})
	m.broadcast(remaining, protocol.EventPlayerKicked, map[string]any{"userId": target, "room": snap})
	return snap, nil
}

// UpdateNickname changes a player's nickname within whatever room they
// currently occupy (a user occupies at most one active room, spec §3).
func (m *Manager) UpdateNickname(userID protocol.UserID, nickname string) error {
	code, ok := m.RoomCodeForUser(userID)
	if !ok {
		return nil
	}
	r, err := m.lookup(code)
	if err != nil {
		return nil
	}

	r.mu.Lock()
	player, ok := r.players[userID]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	player.Nickname = nickname
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventPlayerUpdated, map[string]any{"userId": userID, "nickname": nickname})
	return nil
}
