// Package matchmaker implements the C5 host-driven pool start: the single
// supported path from a room full of ready players to a live game instance
// (spec §4.5).
package matchmaker

import (
	"context"
	"math/rand/v2"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/confessionparty/server/internal/v1/room"
	"go.uber.org/zap"
)

// GameCreator is the subset of scheduler.Scheduler the matchmaker drives.
// Defined here, consumer-side, so matchmaker never imports scheduler.
type GameCreator interface {
	CreateGame(gameType protocol.GameType, roomCode protocol.RoomCode, players []protocol.UserID) (protocol.GameID, error)
}

// Publisher broadcasts the pre-launch gameStarting notice.
type Publisher interface {
	PublishToUsers(userIDs []protocol.UserID, env protocol.Envelope)
}

// Matchmaker is the C5 component. It holds no state of its own: every
// precondition it checks comes from the room manager.
type Matchmaker struct {
	rooms     *room.Manager
	scheduler GameCreator
	publisher Publisher
	cache     *cache.Store
}

// New builds a Matchmaker.
func New(rooms *room.Manager, scheduler GameCreator, publisher Publisher, store *cache.Store) *Matchmaker {
	return &Matchmaker{rooms: rooms, scheduler: scheduler, publisher: publisher, cache: store}
}

const minReadyPlayers = 2

// StartGameWithPool runs the host-driven pool start (spec §4.5): verifies
// the four preconditions, picks uniformly from the room's filtered game
// pool, snapshots the ready-player set, emits gameStarting, and hands off
// to the scheduler. The selection is not revocable: a confession submitted
// after the ready-player snapshot is taken does not retroactively join this
// game.
func (m *Matchmaker) StartGameWithPool(callerUserID protocol.UserID, code protocol.RoomCode) (protocol.GameID, error) {
	snap, err := m.rooms.GetRoomInfo(code)
	if err != nil {
		return "", err
	}
	if snap.CreatorUserID != callerUserID {
		return "", protocol.NewError(protocol.ErrNotHost, "only the room host may start a game")
	}
	if snap.CurrentGameID != "" {
		return "", protocol.NewError(protocol.ErrGameInProgress, "a game is already in progress for this room")
	}

	pool := filterPool(snap.GamePool)
	if len(pool) == 0 {
		pool = append([]protocol.GameType{}, protocol.KnownGameTypes...)
	}
	if len(pool) == 0 {
		return "", protocol.NewError(protocol.ErrNoGamesAvailable, "no game types are available for this room")
	}

	players, err := m.rooms.ReadyPlayers(code)
	if err != nil {
		return "", err
	}
	if len(players) < minReadyPlayers {
		return "", protocol.NewError(protocol.ErrNotEnoughReady, "at least two players must have a confession ready")
	}

	m.markMatching(code, players)

	gameType := pool[rand.IntN(len(pool))]

	m.publish(players, protocol.EventGameStarting, map[string]any{
		"type":        gameType,
		"playerCount": len(players),
	})

	id, err := m.scheduler.CreateGame(gameType, code, players)
	m.clearMatching(code, players)
	if err != nil {
		return "", err
	}

	metrics.MatchesStartedTotal.WithLabelValues(string(gameType)).Inc()
	return id, nil
}

// markMatching records the ready-player snapshot in the room's outstanding
// match-request set (spec §4.3, §6) for the duration of the hand-off to the
// scheduler.
func (m *Matchmaker) markMatching(code protocol.RoomCode, players []protocol.UserID) {
	for _, p := range players {
		if err := m.cache.SAdd(context.Background(), cache.MatchmakingKey(code), string(p)); err != nil {
			logging.Warn(context.Background(), "matchmaker: failed to record matchmaking request", zap.String("room", string(code)), zap.String("user_id", string(p)), zap.Error(err))
		}
	}
}

// clearMatching removes the players from the outstanding match-request set
// once the game they were snapshotted for has been created.
func (m *Matchmaker) clearMatching(code protocol.RoomCode, players []protocol.UserID) {
	for _, p := range players {
		if err := m.cache.SRem(context.Background(), cache.MatchmakingKey(code), string(p)); err != nil {
			logging.Warn(context.Background(), "matchmaker: failed to clear matchmaking request", zap.String("room", string(code)), zap.String("user_id", string(p)), zap.Error(err))
		}
	}
}

// filterPool keeps only recognized game types, preserving order.
func filterPool(pool []protocol.GameType) []protocol.GameType {
	out := make([]protocol.GameType, 0, len(pool))
	for _, t := range pool {
		if protocol.IsKnownGameType(t) {
			out = append(out, t)
		}
	}
	return out
}

func (m *Matchmaker) publish(recipients []protocol.UserID, event string, payload any) {
	if m.publisher == nil {
		return
	}
	env, err := protocol.Event(event, payload)
	if err != nil {
		logging.Error(context.Background(), "matchmaker: failed to build broadcast envelope", zap.String("event", event), zap.Error(err))
		return
	}
	m.publisher.PublishToUsers(recipients, env)
}
