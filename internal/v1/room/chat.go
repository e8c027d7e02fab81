package room

import (
	"time"

	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/google/uuid"
)

// SendMessage appends a player-authored chat message and broadcasts it
// (spec §4.4, §4.8).
func (m *Manager) SendMessage(userID protocol.UserID, code protocol.RoomCode, text string) error {
	if verr := protocol.ValidateChatText(text); verr != nil {
		return verr
	}

	r, err := m.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	player, ok := r.players[userID]
	if !ok {
		r.mu.Unlock()
		return protocol.NewError(protocol.ErrNotInRoom, "not a member of this room")
	}
	msg := r.appendChatLocked(ChatKindChat, userID, player.Nickname, text)
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.broadcast(recipients, protocol.EventNewMessage, map[string]any{"message": msg})
	return nil
}

// AppendGameMessage appends a game-kind chat entry (e.g. a Draw&Guess
// round reveal) without requiring the author to be
// validated chat text; called by the scheduler, not by a client-facing
// handler (spec §4.7.3, §4.8).
func (m *Manager) AppendGameMessage(code protocol.RoomCode, authorUserID protocol.UserID, nickname, text string) error {
	r, err := m.lookup(code)
	if err != nil {
		return err
	}

	r.mu.Lock()
	msg := r.appendChatLocked(ChatKindGame, authorUserID, nickname, text)
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.broadcast(recipients, protocol.EventNewMessage, map[string]any{"message": msg})
	return nil
}

// GetChatHistory returns up to ChatHistoryFetchLimit of the most recent
// messages, oldest first.
func (m *Manager) GetChatHistory(code protocol.RoomCode) ([]ChatMessage, error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]ChatMessage, 0, r.chat.Len())
	for e := r.chat.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(ChatMessage))
	}
	if len(all) > ChatHistoryFetchLimit {
		all = all[len(all)-ChatHistoryFetchLimit:]
	}
	return all, nil
}

// appendChatLocked appends a message to the ring buffer, trimming the
// oldest entry once MaxChatHistory is exceeded. Caller must hold r.mu.
func (r *Room) appendChatLocked(kind ChatMessageKind, author protocol.UserID, nickname, text string) ChatMessage {
	msg := ChatMessage{
		ID:           protocol.ChatMessageID(uuid.NewString()),
		RoomCode:     r.code,
		AuthorUserID: author,
		Nickname:     nickname,
		Text:         text,
		Kind:         kind,
		CreatedAt:    time.Now(),
	}
	r.chat.PushBack(msg)
	if r.chat.Len() > MaxChatHistory {
		r.chat.Remove(r.chat.Front())
	}
	return msg
}

// appendSystemLocked appends a system-kind notice (join/leave/kick/game
// lifecycle). Caller must hold r.mu.
func (r *Room) appendSystemLocked(text string) ChatMessage {
	return r.appendChatLocked(ChatKindSystem, "", "", text)
}
