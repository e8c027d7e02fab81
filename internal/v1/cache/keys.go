package cache

import (
	"strings"

	"github.com/confessionparty/server/internal/v1/protocol"
)

// Key builders for the cache keyspace (spec §6's keyspace table). Centralizing
// these avoids fmt.Sprintf call sites drifting out of sync with each other.

// RoomStateKey is the serialized snapshot of a room's public state.
func RoomStateKey(code protocol.RoomCode) string {
	return "room:state:" + string(code)
}

// GameStateKey is the serialized snapshot of one in-progress game instance.
func GameStateKey(id protocol.GameID) string {
	return "game:state:" + string(id)
}

// MatchmakingKey tracks the outstanding match request for a room.
func MatchmakingKey(code protocol.RoomCode) string {
	return "matchmaking:" + string(code)
}

// WordKey namespaces the draw-and-guess word list lookup by lowercased word,
// so case variations of the same word share one cache entry.
func WordKey(word string) string {
	return "word:" + strings.ToLower(word)
}

// RateLimitKey is the per-(user,event) token bucket key used by ratelimit.Limiter.
func RateLimitKey(userID, event string) string {
	return "rate:" + userID + ":" + event
}

// LeaderboardKey is the global sorted-set leaderboard.
const LeaderboardKey = "leaderboard:global"

// OnlinePlayersKey is the set of currently-attached user ids, used for
// presence/diagnostics.
const OnlinePlayersKey = "online:players"

// RoomPresenceKey is the per-room hash of userId -> "connected"/
// "disconnected", so another instance can read a player's live connection
// state without deserializing the whole room snapshot.
func RoomPresenceKey(code protocol.RoomCode) string {
	return "room:presence:" + string(code)
}
