package scheduler

import (
	"context"
	"encoding/json"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/logging"
	"go.uber.org/zap"
)

// persistSnapshot save-throughs a game's state to the shared cache with a
// CAS update keyed on the previous snapshot, so two racing ticks can't
// clobber each other's write (spec §4.6's persistence step). No replay
// from this snapshot is required for correctness, only for debugging.
func (s *Scheduler) persistSnapshot(entry *gameEntry, state any) {
	data, err := json.Marshal(state)
	if err != nil {
		logging.Error(context.Background(), "scheduler: failed to marshal game snapshot",
			zap.String("game_id", string(entry.id)), zap.Error(err))
		return
	}

	entry.mu.Lock()
	previous := entry.lastSnapshot
	entry.mu.Unlock()

	key := cache.GameStateKey(entry.id)
	ctx := context.Background()
	swapped, err := s.cache.CompareAndSwap(ctx, key, string(previous), string(data), gameSnapshotTTL)
	if err != nil {
		logging.Warn(context.Background(), "scheduler: failed to persist game snapshot",
			zap.String("game_id", string(entry.id)), zap.Error(err))
		return
	}
	if !swapped {
		// Another writer beat us to it (e.g. a concurrent sweep); the
		// cache already reflects a snapshot at least as recent.
		return
	}

	entry.mu.Lock()
	entry.lastSnapshot = data
	entry.mu.Unlock()
}
