// Package protocol defines the wire-facing shapes shared by every
// component: the envelope exchanged with clients, ID newtypes, the event
// name vocabulary, and the error taxonomy. Nothing in here owns state; it
// is the contract other packages speak.
package protocol

// UserID identifies a player. Immutable once minted; guests get one on
// first authenticated connection.
type UserID string

// SessionID identifies a session record in the session store. Stable
// across reattachment.
type SessionID string

// AttachmentID identifies one live transport connection. A session has at
// most one attachment at a time.
type AttachmentID string

// RoomCode is the six-character uppercase alphanumeric room identifier.
type RoomCode string

// GameID identifies one game instance.
type GameID string

// ChatMessageID identifies one chat log entry.
type ChatMessageID string

// GameType is a tagged identifier for a mini-game variant (e.g. "rps").
type GameType string

const (
	GameTypeRPS       GameType = "rps"
	GameTypeRacer     GameType = "racer"
	GameTypeDrawGuess GameType = "drawguess"
)

// KnownGameTypes is the closed set of game-type identifiers the matchmaker
// and scheduler recognize. Order is stable so a default pool substitution
// is deterministic in tests.
var KnownGameTypes = []GameType{GameTypeRPS, GameTypeRacer, GameTypeDrawGuess}

// IsKnownGameType reports whether t is one of KnownGameTypes.
func IsKnownGameType(t GameType) bool {
	for _, k := range KnownGameTypes {
		if k == t {
			return true
		}
	}
	return false
}
