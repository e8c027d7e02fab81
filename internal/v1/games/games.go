// Package games defines the capability set every mini-game state machine
// implements (spec §4.7) and the types the scheduler uses to drive them
// uniformly: construct, feed actions and ticks, receive state/end signals
// through injected callback sinks rather than a shared reference back to
// the transport (spec §9's callback-on-instance redesign note).
package games

import (
	"encoding/json"
	"time"

	"github.com/confessionparty/server/internal/v1/protocol"
)

// Callbacks are the two outbound signals an Instance emits (spec §4.6),
// plus the optional OnChatMessage hook below. The scheduler supplies them
// at construction time; an instance never holds a reference to the room
// or transport.
type Callbacks struct {
	OnStateUpdate func(state any)
	OnEnd         func(result Result)

	// OnChatMessage appends a game-authored entry to the room's persistent
	// chat history (e.g. Draw & Guess's round-reveal announcement). Optional:
	// most instances never call it.
	OnChatMessage func(authorUserID protocol.UserID, nickname, text string)
}

// RankingEntry is one player's final standing in a Result.
type RankingEntry struct {
	UserID protocol.UserID `json:"userId"`
	Rank   int             `json:"rank"`
	Score  int             `json:"score"`
}

// Result is what an Instance reports through Callbacks.OnEnd. Winner is
// empty for a forced end (spec §9's open question: winner null) or a
// fully-tied battle-royale termination.
type Result struct {
	Winner    protocol.UserID `json:"winner,omitempty"`
	Rankings  []RankingEntry  `json:"rankings"`
	ForcedEnd bool            `json:"forcedEnd"`
}

// Instance is the uniform shape the scheduler drives every mini-game
// through (spec §4.7's "all mini-games implement the same capability
// set"). ProcessAction receives the raw action kind/payload already
// stripped of the envelope; an unrecognized kind or malformed payload is
// a VALIDATION-class error, not a panic.
type Instance interface {
	ProcessAction(playerID protocol.UserID, kind string, payload json.RawMessage) error
	State() any
	Cleanup()
}

// Ticker is implemented by games that need continuous simulation (the
// racer) or timer-driven phases (Draw & Guess's round and reveal-pause
// timers). The scheduler only opens a tick loop for instances satisfying
// this interface (spec §4.6's "only games that need continuous simulation
// open a tick").
type Ticker interface {
	Tick(dt time.Duration)
}

// Projector is implemented by games with per-recipient private state (the
// drawer's word in Draw&Guess). ProjectFor is a pure transform over a state
// value already produced by State or OnStateUpdate — it must not touch the
// instance's own lock, since the scheduler may call it from inside the
// OnStateUpdate callback while that lock is still held by the caller.
// Instead of maintaining N copies of state, the scheduler calls ProjectFor
// once per recipient during fan-out (spec §9's per-recipient projection
// note).
type Projector interface {
	ProjectFor(recipient protocol.UserID, state any) any
}

// Constructor builds a new Instance for the given ready-player set. Each
// games/* subpackage exposes one matching this signature; the scheduler
// is the only component that maps a protocol.GameType to a Constructor
// (spec §9: "C6 is the only component that maps string → constructor").
type Constructor func(players []protocol.UserID, cb Callbacks) Instance

// Disconnectable is implemented by games that track per-player presence
// inside their own state (e.g. marking a disconnected racer's input
// frozen). The scheduler calls these on attachment loss/return; an
// instance that doesn't care about presence simply doesn't implement it.
type Disconnectable interface {
	PlayerDisconnected(playerID protocol.UserID)
	PlayerReconnected(playerID protocol.UserID)
}
