package scheduler

import (
	"context"
	"time"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"go.uber.org/zap"
)

type gameView struct {
	ID      protocol.GameID   `json:"id"`
	Type    protocol.GameType `json:"type"`
	Players []protocol.UserID `json:"players"`
	State   any               `json:"state,omitempty"`
}

// handleStateUpdate fans a state snapshot out to every player in the game,
// per-recipient projected when the instance implements games.Projector
// (spec §4.6's "for games with private information... the fan-out projects
// per-recipient"). Invoked synchronously from inside the instance's own
// locked method, so it must never call back into the instance.
func (s *Scheduler) handleStateUpdate(entry *gameEntry, state any) {
	s.persistSnapshot(entry, state)

	projector, isProjector := entry.instance.(games.Projector)
	for _, playerID := range entry.players {
		view := state
		if isProjector {
			view = projector.ProjectFor(playerID, state)
		}
		s.publish([]protocol.UserID{playerID}, protocol.EventGameUpdate, map[string]any{
			"game": gameView{ID: entry.id, Type: entry.gameType, Players: entry.players, State: view},
		})
	}
}

// handleEnd runs the five end-of-game steps (spec §4.6): mark ended,
// determine the loser set, reveal losers' confessions, broadcast gameEnded
// with the post-reveal room snapshot, then clear the room/game linkage.
// Invoked synchronously from inside the instance's own locked method, so it
// must never call back into the instance.
func (s *Scheduler) handleEnd(entry *gameEntry, result games.Result) {
	entry.mu.Lock()
	if entry.ended {
		entry.mu.Unlock()
		return
	}
	entry.ended = true
	entry.mu.Unlock()

	reason := "completed"
	if result.ForcedEnd {
		reason = "forced"
	}
	metrics.GamesEndedTotal.WithLabelValues(string(entry.gameType), reason).Inc()

	for _, loserID := range losersOf(entry.players, result) {
		if err := s.rooms.RevealConfession(entry.roomCode, loserID, entry.id); err != nil {
			logging.Warn(context.Background(), "scheduler: failed to reveal loser confession",
				zap.String("game_id", string(entry.id)), zap.String("user_id", string(loserID)), zap.Error(err))
		}
	}

	s.recordLeaderboard(entry, result)

	roomSnap, err := s.rooms.GetRoomInfo(entry.roomCode)
	if err != nil {
		logging.Warn(context.Background(), "scheduler: failed to fetch post-reveal room snapshot",
			zap.String("game_id", string(entry.id)), zap.Error(err))
	}

	// Note: does not read entry.instance.State() here — OnEnd fires
	// synchronously from inside the instance's own locked method, and
	// State() would re-acquire that same lock from the same goroutine.
	// winner/rankings already convey the terminal state.
	s.publish(entry.players, protocol.EventGameEnded, map[string]any{
		"game":     gameView{ID: entry.id, Type: entry.gameType, Players: entry.players},
		"winner":   result.Winner,
		"rankings": result.Rankings,
		"room":     roomSnap,
	})

	if err := s.rooms.ClearCurrentGame(entry.roomCode); err != nil {
		logging.Warn(context.Background(), "scheduler: failed to clear room/game linkage",
			zap.String("game_id", string(entry.id)), zap.Error(err))
	}

	entry.instance.Cleanup()
	s.unregister(entry)
}

// recordLeaderboard adds each ranked player's score to the global
// leaderboard sorted set (spec §4.3, §6). A forced end with no rankings has
// nothing to record.
func (s *Scheduler) recordLeaderboard(entry *gameEntry, result games.Result) {
	for _, r := range result.Rankings {
		if err := s.cache.ZAdd(context.Background(), cache.LeaderboardKey, float64(r.Score), string(r.UserID)); err != nil {
			logging.Warn(context.Background(), "scheduler: failed to record leaderboard score",
				zap.String("game_id", string(entry.id)), zap.String("user_id", string(r.UserID)), zap.Error(err))
		}
	}
}

// losersOf determines the loser set per spec §4.6 step 2 and §8 invariant
// 5: for a two-player game, the non-winner; for ranked multiplayer, every
// player sharing the last-place rank. A forced end with no winner names no
// losers (nothing to reveal).
func losersOf(players []protocol.UserID, result games.Result) []protocol.UserID {
	if result.Winner == "" {
		return nil
	}
	if len(players) == 2 {
		for _, p := range players {
			if p != result.Winner {
				return []protocol.UserID{p}
			}
		}
		return nil
	}
	if len(result.Rankings) == 0 {
		return nil
	}
	last := result.Rankings[0].Rank
	for _, r := range result.Rankings {
		if r.Rank > last {
			last = r.Rank
		}
	}
	var losers []protocol.UserID
	for _, r := range result.Rankings {
		if r.Rank == last {
			losers = append(losers, r.UserID)
		}
	}
	return losers
}

func (s *Scheduler) publish(recipients []protocol.UserID, event string, payload any) {
	if s.publisher == nil {
		return
	}
	env, err := protocol.Event(event, payload)
	if err != nil {
		logging.Error(context.Background(), "scheduler: failed to build broadcast envelope", zap.String("event", event), zap.Error(err))
		return
	}
	s.publisher.PublishToUsers(recipients, env)
}

// sweepLoop force-ends games that are idle, over duration, or abandoned
// beyond the reattach grace (spec §4.6, §5), once per minute.
func (s *Scheduler) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepOnceNow()
		case <-s.sweepStop:
			return
		}
	}
}

func (s *Scheduler) sweepOnceNow() {
	s.mu.RLock()
	entries := make([]*gameEntry, 0, len(s.byGameID))
	for _, e := range s.byGameID {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, entry := range entries {
		if reason, expired := s.expiryReasonLocked(entry, now); expired {
			s.forceEnd(entry, reason)
		}
	}
}

func (s *Scheduler) expiryReasonLocked(entry *gameEntry, now time.Time) (string, bool) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.ended {
		return "", false
	}
	if now.Sub(entry.lastActivity) > idleTimeout {
		return "idle", true
	}
	if now.Sub(entry.createdAt) > maxGameDuration {
		return "elapsed", true
	}
	if s.allDisconnectedBeyondGraceLocked(entry, now) {
		return "abandoned", true
	}
	return "", false
}

func (s *Scheduler) allDisconnectedBeyondGraceLocked(entry *gameEntry, now time.Time) bool {
	if len(entry.disconnected) < len(entry.players) {
		return false
	}
	for _, since := range entry.disconnected {
		if now.Sub(since) < disconnectGrace {
			return false
		}
	}
	return true
}

// forceEnd ends a game outside the normal OnEnd path (cleanup sweep or a
// panic recovered while running an action), with winner null (spec §7,
// §9). A panic inside a Tick is not recovered.
func (s *Scheduler) forceEnd(entry *gameEntry, reason string) {
	logging.Info(context.Background(), "scheduler: force-ending game",
		zap.String("game_id", string(entry.id)), zap.String("reason", reason))
	s.handleEnd(entry, games.Result{ForcedEnd: true})
}
