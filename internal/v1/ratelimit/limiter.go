// Package ratelimit enforces the per-(userId, event) token buckets that
// gate every inbound client event, backed by Redis when available and an
// in-process memory store otherwise.
package ratelimit

import (
	"context"
	"fmt"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/config"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// Event names gated by a dedicated token bucket. Any event not in this set
// is not throttled.
const (
	EventGameAction       = "gameAction"
	EventSendMessage      = "sendMessage"
	EventCreateRoom       = "createRoom"
	EventJoinRoom         = "joinRoom"
	EventSubmitConfession = "submitConfession"
	EventRequestMatch     = "requestMatch"
	EventStartGame        = "startGameWithPool"
	EventUpdateNickname   = "updateNickname"
)

// Limiter holds one token-bucket limiter per gated event.
type Limiter struct {
	store    limiter.Store
	byEvent  map[string]*limiter.Limiter
}

// New builds a Limiter from validated config. redisClient may be nil, in
// which case buckets fall back to an in-process memory store (acceptable
// for a single-instance deployment; a multi-instance deployment should
// always set REDIS_ENABLED).
func New(cfg *config.Config, redisClient *redis.Client) (*Limiter, error) {
	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "ratelimit:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("ratelimit: create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using in-process memory store (redis disabled)")
	}

	rates := map[string]string{
		EventGameAction:       cfg.RateLimitGameAction,
		EventSendMessage:      cfg.RateLimitSendMessage,
		EventCreateRoom:       cfg.RateLimitCreateRoom,
		EventJoinRoom:         cfg.RateLimitJoinRoom,
		EventSubmitConfession: cfg.RateLimitSubmitConfession,
		EventRequestMatch:     cfg.RateLimitRequestMatch,
		EventStartGame:        cfg.RateLimitRequestMatch,
		EventUpdateNickname:   cfg.RateLimitUpdateNickname,
	}

	byEvent := make(map[string]*limiter.Limiter, len(rates))
	for event, formatted := range rates {
		rate, err := limiter.NewRateFromFormatted(formatted)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: invalid rate for %s (%q): %w", event, formatted, err)
		}
		byEvent[event] = limiter.New(store, rate)
	}

	return &Limiter{store: store, byEvent: byEvent}, nil
}

// Allow checks the (userID, event) bucket. A event with no configured
// bucket is always allowed. On store failure the check fails open, since
// an unreachable limiter store should not take the whole game down.
func (l *Limiter) Allow(ctx context.Context, userID, event string) bool {
	inst, ok := l.byEvent[event]
	if !ok {
		return true
	}

	metrics.RateLimitChecks.WithLabelValues(event).Inc()

	key := cache.RateLimitKey(userID, event)
	lctx, err := inst.Get(ctx, key)
	if err != nil {
		logging.Error(ctx, "rate limiter store failed, failing open", zap.Error(err))
		return true
	}

	if lctx.Reached {
		metrics.RateLimitExceeded.WithLabelValues(event).Inc()
		return false
	}

	return true
}
