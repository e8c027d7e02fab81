package scheduler

import (
	"context"
	"time"

	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"go.uber.org/zap"
)

// ProcessAction enqueues a player's action onto the named game's queue. The
// single executor goroutine for that game drains it strictly in order, so
// no two actions on the same game are ever in flight simultaneously (spec
// §5). Returns QUEUE_FULL if the queue is saturated.
func (s *Scheduler) ProcessAction(gameID protocol.GameID, playerID protocol.UserID, kind string, payload []byte) error {
	entry, ok := s.lookup(gameID)
	if !ok {
		return protocol.NewError(protocol.ErrNotFound, "game not found")
	}

	item := queueItem{playerID: playerID, actionKind: kind, payload: payload}
	select {
	case entry.queue <- item:
		metrics.GameActionQueueDepth.WithLabelValues(string(gameID)).Set(float64(len(entry.queue)))
		return nil
	default:
		metrics.GameActionsTotal.WithLabelValues(string(entry.gameType), "queue_full").Inc()
		return protocol.NewError(protocol.ErrQueueFull, "game action queue is saturated")
	}
}

// PlayerDisconnected marks a player's attachment loss inside the game they
// currently occupy, starting the reattach-grace clock (spec §5).
func (s *Scheduler) PlayerDisconnected(playerID protocol.UserID) {
	gameID, ok := s.GameIDForPlayer(playerID)
	if !ok {
		return
	}
	entry, ok := s.lookup(gameID)
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.disconnected[playerID] = time.Now()
	entry.mu.Unlock()

	if d, ok := entry.instance.(games.Disconnectable); ok {
		d.PlayerDisconnected(playerID)
	}
}

// PlayerReconnected clears the disconnected marker within the reattach
// grace window (spec §5, §8 scenario S4).
func (s *Scheduler) PlayerReconnected(playerID protocol.UserID) {
	gameID, ok := s.GameIDForPlayer(playerID)
	if !ok {
		return
	}
	entry, ok := s.lookup(gameID)
	if !ok {
		return
	}
	entry.mu.Lock()
	delete(entry.disconnected, playerID)
	entry.mu.Unlock()

	if d, ok := entry.instance.(games.Disconnectable); ok {
		d.PlayerReconnected(playerID)
	}
}

// executorLoop is the single goroutine that drains a game's action queue.
// Each action is run with a soft timeout; a timed-out action is rotated to
// the back of the queue with an incremented retry counter, dropped after
// maxActionRetries (spec §4.6).
func (s *Scheduler) executorLoop(entry *gameEntry) {
	for {
		select {
		case item, ok := <-entry.queue:
			if !ok {
				return
			}
			if item.isTick {
				s.runTick(entry, item)
			} else {
				s.runAction(entry, item)
			}
		case <-entry.stop:
			return
		}
	}
}

func (s *Scheduler) runAction(entry *gameEntry, item queueItem) {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error(context.Background(), "scheduler: game instance panicked",
					zap.String("game_id", string(entry.id)), zap.Any("panic", r))
				done <- protocol.NewError(protocol.ErrInternal, "game instance panicked")
				s.forceEnd(entry, "panic")
			}
		}()
		done <- entry.instance.ProcessAction(item.playerID, item.actionKind, item.payload)
	}()

	select {
	case err := <-done:
		entry.mu.Lock()
		entry.lastActivity = time.Now()
		if err == nil {
			entry.actionLog = append(entry.actionLog, loggedAction{PlayerID: item.playerID, Kind: item.actionKind, CommittedAt: time.Now()})
			if len(entry.actionLog) > actionLogCap {
				entry.actionLog = entry.actionLog[len(entry.actionLog)-actionLogCap:]
			}
		}
		entry.mu.Unlock()

		status := "ok"
		if err != nil {
			status = "rejected"
		}
		metrics.GameActionsTotal.WithLabelValues(string(entry.gameType), status).Inc()
	case <-time.After(actionTimeout):
		item.retries++
		if item.retries > maxActionRetries {
			logging.Warn(context.Background(), "scheduler: action dropped after exhausting retries",
				zap.String("game_id", string(entry.id)), zap.String("kind", item.actionKind))
			metrics.GameActionsTotal.WithLabelValues(string(entry.gameType), "dropped").Inc()
			return
		}
		select {
		case entry.queue <- item:
		default:
			logging.Warn(context.Background(), "scheduler: could not rotate timed-out action, queue full",
				zap.String("game_id", string(entry.id)))
			metrics.GameActionsTotal.WithLabelValues(string(entry.gameType), "dropped").Inc()
		}
	}
}

func (s *Scheduler) runTick(entry *gameEntry, item queueItem) {
	ticker, ok := entry.instance.(games.Ticker)
	if !ok {
		return
	}
	ticker.Tick(item.dt)
	entry.mu.Lock()
	entry.lastActivity = time.Now()
	entry.mu.Unlock()
}

// tickLoop feeds tick-commits into the game's own action queue at tickRate
// so ticks never interleave with actions (spec §5). A tick that falls
// behind compresses into a larger deltaTime rather than re-simulating.
func (s *Scheduler) tickLoop(entry *gameEntry) {
	interval := time.Second / tickRate
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			dt := now.Sub(last)
			select {
			case entry.queue <- queueItem{isTick: true, dt: dt}:
				last = now
			default:
				// Queue saturated with actions; this tick is skipped and
				// folds into the next one's larger delta.
			}
		case <-entry.stop:
			return
		}
	}
}
