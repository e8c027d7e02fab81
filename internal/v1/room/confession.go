package room

import (
	"github.com/confessionparty/server/internal/v1/protocol"
	"k8s.io/utils/set"
)

// SubmitConfession stores userID's confession text for the room at code.
// Rejects if an unrevealed confession already exists (spec §4.4, §3's
// "at most one unrevealed confession per (roomId, userId)").
func (m *Manager) SubmitConfession(userID protocol.UserID, code protocol.RoomCode, text string) (Snapshot, error) {
	if verr := protocol.ValidateConfessionText(text); verr != nil {
		return Snapshot{}, verr
	}

	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	player, ok := r.players[userID]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotInRoom, "not a member of this room")
	}
	if existing, ok := r.confessions[userID]; ok && !existing.IsRevealed {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrValidation, "an unrevealed confession already exists")
	}

	r.confessions[userID] = &Confession{RoomCode: code, UserID: userID, Text: text}
	player.HasConfession = true
	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventConfessionSubmitted, map[string]any{"userId": userID, "room": snap})
	return snap, nil
}

// UpdateConfession replaces the text of an unrevealed confession. Once a
// confession is revealed it is immutable (spec §3).
func (m *Manager) UpdateConfession(userID protocol.UserID, code protocol.RoomCode, text string) (Snapshot, error) {
	if verr := protocol.ValidateConfessionText(text); verr != nil {
		return Snapshot{}, verr
	}

	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if _, ok := r.players[userID]; !ok {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotInRoom, "not a member of this room")
	}
	existing, ok := r.confessions[userID]
	if !ok {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrNotFound, "no confession to update")
	}
	if existing.IsRevealed {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrValidation, "a revealed confession cannot be changed")
	}
	existing.Text = text
	snap := r.snapshotLocked()
	r.mu.Unlock()

	m.persist(r)
	return snap, nil
}

// GetConfessions returns the public-safe projection of every confession in
// the room: text only for ones already revealed.
func (m *Manager) GetConfessions(code protocol.RoomCode) ([]ConfessionView, error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConfessionView, 0, len(r.confessions))
	for _, id := range r.playerOrder {
		c, ok := r.confessions[id]
		if !ok {
			continue
		}
		view := ConfessionView{UserID: c.UserID, IsRevealed: c.IsRevealed}
		if c.IsRevealed {
			view.Text = c.Text
		}
		out = append(out, view)
	}
	return out, nil
}

// GetMyConfession returns the caller's own confession, text included
// regardless of reveal state (it's their own secret).
func (m *Manager) GetMyConfession(userID protocol.UserID, code protocol.RoomCode) (*Confession, error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.confessions[userID]
	if !ok {
		return nil, protocol.NewError(protocol.ErrNotFound, "no confession submitted")
	}
	cp := *c
	return &cp, nil
}

// readyPlayersLocked returns the userIds currently holding an unrevealed
// confession, in join order. Caller must hold r.mu (read or write).
func (r *Room) readyPlayersLocked() []protocol.UserID {
	out := make([]protocol.UserID, 0, len(r.players))
	for _, id := range r.playerOrder {
		c, ok := r.confessions[id]
		if ok && !c.IsRevealed {
			out = append(out, id)
		}
	}
	return out
}

// ReadyPlayers returns the userIds currently holding an unrevealed
// confession (spec §4.5's "ready player"), used by the matchmaker.
func (m *Manager) ReadyPlayers(code protocol.RoomCode) ([]protocol.UserID, error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readyPlayersLocked(), nil
}

// ReadySet returns the same ready-player membership as ReadyPlayers but as
// a set. The matchmaker selects players through ReadyPlayers; ReadySet has
// no caller outside this package's tests.
func (m *Manager) ReadySet(code protocol.RoomCode) (set.Set[protocol.UserID], error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return set.New(r.readyPlayersLocked()...), nil
}
