// Package room implements the C4 room manager and C8 chat/reveal: room
// membership, creator (host) privileges, confession storage, the bounded
// chat log, and the broadcast discipline that keeps every attachment in a
// room observing the same mutation order (spec §4.4, §4.8, §5).
//
// A Room's in-memory state is authoritative while the Manager holding it is
// alive; cache writes are save-through snapshots for cross-attachment
// restoration only (spec §4.3).
package room

import (
	"time"

	"github.com/confessionparty/server/internal/v1/protocol"
)

// MaxChatHistory bounds the per-room ring buffer (spec §4.8).
const MaxChatHistory = 100

// ChatHistoryFetchLimit bounds a single getChatHistory response (spec §4.8).
const ChatHistoryFetchLimit = 50

// DefaultMaxPlayers is used when CreateOptions.MaxPlayers is unset (spec §4.4).
const DefaultMaxPlayers = 20

// Player is one room member's mutable membership state (spec §3's Room.players).
type Player struct {
	UserID        protocol.UserID
	Nickname      string
	HasConfession bool
	IsPlaying     bool
	Connected     bool
	JoinedAt      time.Time
}

// PlayerView is the condensed, public player projection included in a room
// snapshot. Raw confession text never appears here, only the flag (spec
// §4.4: "Room snapshots include a condensed player list").
type PlayerView struct {
	UserID        protocol.UserID `json:"userId"`
	Nickname      string          `json:"nickname"`
	HasConfession bool            `json:"hasConfession"`
	IsPlaying     bool            `json:"isPlaying"`
}

// Snapshot is the public, broadcastable view of a room.
type Snapshot struct {
	Code          protocol.RoomCode   `json:"code"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	CreatorUserID protocol.UserID     `json:"creatorUserId"`
	MaxPlayers    int                 `json:"maxPlayers"`
	IsPublic      bool                `json:"isPublic"`
	HasPassword   bool                `json:"hasPassword"`
	GamePool      []protocol.GameType `json:"gamePool"`
	Players       []PlayerView        `json:"players"`
	CurrentGameID protocol.GameID     `json:"currentGameId,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// ChatMessageKind distinguishes player chat from system/confession/game
// notices (spec §3's ChatMessage.kind).
type ChatMessageKind string

const (
	ChatKindChat       ChatMessageKind = "chat"
	ChatKindConfession ChatMessageKind = "confession"
	ChatKindSystem     ChatMessageKind = "system"
	ChatKindGame       ChatMessageKind = "game"
)

// ChatMessage is one entry in a room's append-only, ring-buffered chat log.
type ChatMessage struct {
	ID             protocol.ChatMessageID `json:"id"`
	RoomCode       protocol.RoomCode      `json:"roomCode"`
	AuthorUserID   protocol.UserID        `json:"authorUserId,omitempty"`
	Nickname       string                 `json:"nickname"`
	Text           string                 `json:"text"`
	Kind           ChatMessageKind        `json:"kind"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// Confession is the private (roomCode, userId)-keyed secret a player submits
// on joining a room (spec §3).
type Confession struct {
	RoomCode         protocol.RoomCode
	UserID           protocol.UserID
	Text             string
	IsRevealed       bool
	RevealedAt       *time.Time
	RevealedInGameID protocol.GameID
}

// ConfessionView is the public-safe projection returned by getConfessions:
// text is present only once revealed.
type ConfessionView struct {
	UserID     protocol.UserID `json:"userId"`
	IsRevealed bool            `json:"isRevealed"`
	Text       string          `json:"text,omitempty"`
}

// CreateOptions parametrizes Manager.CreateRoom (spec §4.4).
type CreateOptions struct {
	Name        string
	Description string
	Password    string
	MaxPlayers  int
	IsPublic    bool
}

// SettingsUpdate parametrizes Manager.UpdateRoomSettings. A nil pointer
// field means "leave unchanged".
type SettingsUpdate struct {
	Name        *string
	Description *string
	Password    *string
	MaxPlayers  *int
	IsPublic    *bool
}
