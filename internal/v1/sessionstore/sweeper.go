package sessionstore

import (
	"context"
	"time"

	"github.com/confessionparty/server/internal/v1/logging"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often RunSweeper calls Sweep in production.
const DefaultSweepInterval = 10 * time.Minute

// RunSweeper evicts idle sessions on interval until ctx is cancelled. It is
// meant to be started once as a background goroutine from main.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(time.Now()); n > 0 {
				logging.Info(ctx, "sessionstore: swept idle sessions", zap.Int("count", n))
			}
		}
	}
}
