// Package cache is the C3 shared cache: serialized room/game snapshots,
// matchmaking markers, the draw-and-guess word list, rate-limit buckets,
// the global leaderboard, and presence, all addressed through one Redis
// client wrapped in a circuit breaker (spec §4.3, §6).
//
// When Redis is disabled (single-instance deployment, no REDIS_ADDR), Store
// degrades to an in-memory map guarded by a mutex so the rest of the
// server keeps working without a shared backing store, matching the
// teacher's nil-service fallback for its Redis bus.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrNotFound is returned by Get/HGet when the key (or hash field) does not
// exist.
var ErrNotFound = errors.New("cache: key not found")

// casScript atomically replaces a key's value only if its current value
// matches oldValue, used for optimistic-concurrency snapshot writes (the
// scheduler's game-state persistence, spec §5).
const casScript = `
local current = redis.call("GET", KEYS[1])
if current == false then
  if ARGV[1] == "" then
    redis.call("SET", KEYS[1], ARGV[2])
    if ARGV[3] ~= "" then redis.call("PEXPIRE", KEYS[1], ARGV[3]) end
    return 1
  end
  return 0
end
if current == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[2])
  if ARGV[3] ~= "" then redis.call("PEXPIRE", KEYS[1], ARGV[3]) end
  return 1
end
return 0
`

// Store is the shared cache client. A nil *redis.Client means single-instance
// mode: operations fall back to the local map instead of erroring.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker

	memMu sync.RWMutex
	mem   map[string]string
}

// New builds a Store. When enabled is false, Store runs in single-instance
// (in-memory) mode and never dials Redis.
func New(enabled bool, addr, password string) (*Store, error) {
	if !enabled {
		return &Store{mem: make(map[string]string)}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("cache").Set(stateVal)
		},
	}

	return &Store{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		mem:    make(map[string]string),
	}, nil
}

// Client exposes the underlying redis client, for components (e.g.
// ratelimit.New) that need to build their own store on top of the same
// connection. Returns nil in single-instance mode.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

func (s *Store) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.CacheOperationsTotal.WithLabelValues(op, status).Inc()
	metrics.CacheOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Ping checks backing-store connectivity. Satisfies health.PingChecker.
// Always healthy in single-instance mode.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return s.degrade(err)
}

// Close releases the underlying connection, a no-op in single-instance mode.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// degrade maps an open-circuit error to nil (graceful degradation, matching
// the teacher's bus.Service) while propagating any other error.
func (s *Store) degrade(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) {
		metrics.CircuitBreakerFailures.WithLabelValues("cache").Inc()
		return nil
	}
	return err
}

// Get returns the string value stored at key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var val string
	var err error
	if s == nil || s.client == nil {
		s.memMu.RLock()
		v, ok := s.mem[key]
		s.memMu.RUnlock()
		if !ok {
			err = ErrNotFound
		}
		val = v
	} else {
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.Get(ctx, key).Result()
		})
		switch {
		case cbErr == nil:
			val = res.(string)
		case errors.Is(cbErr, redis.Nil):
			err = ErrNotFound
		case errors.Is(cbErr, gobreaker.ErrOpenState):
			err = s.degrade(cbErr)
		default:
			err = cbErr
		}
	}
	s.observe("get", start, err)
	return val, err
}

// Set stores value at key with an optional TTL (0 = no expiry).
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		s.mem[key] = value
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.Set(ctx, key, value, ttl).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("set", start, err)
	return err
}

// Delete removes key, a no-op if it does not exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		delete(s.mem, key)
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.Del(ctx, key).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("delete", start, err)
	return err
}

// CompareAndSwap replaces key's value with newValue only if its current
// value equals oldValue (oldValue == "" means "key must not yet exist").
// It returns whether the swap happened. Used for the scheduler's game
// snapshot persistence so two racing ticks can't clobber each other.
func (s *Store) CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	start := time.Now()
	var swapped bool
	var err error

	if s == nil || s.client == nil {
		s.memMu.Lock()
		current, exists := s.mem[key]
		if (!exists && oldValue == "") || (exists && current == oldValue) {
			s.mem[key] = newValue
			swapped = true
		}
		s.memMu.Unlock()
	} else {
		ttlMillis := ""
		if ttl > 0 {
			ttlMillis = fmt.Sprintf("%d", ttl.Milliseconds())
		}
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.Eval(ctx, casScript, []string{key}, oldValue, newValue, ttlMillis).Result()
		})
		switch {
		case cbErr == nil:
			swapped = res.(int64) == 1
		default:
			err = s.degrade(cbErr)
		}
	}
	s.observe("cas", start, err)
	return swapped, err
}

// SAdd adds member to the set at key.
func (s *Store) SAdd(ctx context.Context, key, member string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		s.mem["set:"+key+":"+member] = "1"
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.SAdd(ctx, key, member).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("sadd", start, err)
	return err
}

// SRem removes member from the set at key.
func (s *Store) SRem(ctx context.Context, key, member string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		delete(s.mem, "set:"+key+":"+member)
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.SRem(ctx, key, member).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("srem", start, err)
	return err
}

// SMembers returns every member of the set at key.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	start := time.Now()
	var members []string
	var err error
	if s == nil || s.client == nil {
		s.memMu.RLock()
		prefix := "set:" + key + ":"
		for k := range s.mem {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				members = append(members, k[len(prefix):])
			}
		}
		s.memMu.RUnlock()
	} else {
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.SMembers(ctx, key).Result()
		})
		switch {
		case cbErr == nil:
			members = res.([]string)
		default:
			err = s.degrade(cbErr)
		}
	}
	s.observe("smembers", start, err)
	return members, err
}

// ZAdd inserts or updates member's score in the sorted set at key, used by
// the global leaderboard.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		s.mem["zset:"+key+":"+member] = fmt.Sprintf("%f", score)
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("zadd", start, err)
	return err
}

// ZRevRange returns the top `count` members of the sorted set at key,
// highest score first.
func (s *Store) ZRevRange(ctx context.Context, key string, count int64) ([]string, error) {
	start := time.Now()
	var members []string
	var err error
	if s == nil || s.client == nil {
		err = nil // single-instance leaderboard is best-effort only
	} else {
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.ZRevRange(ctx, key, 0, count-1).Result()
		})
		switch {
		case cbErr == nil:
			members = res.([]string)
		default:
			err = s.degrade(cbErr)
		}
	}
	s.observe("zrevrange", start, err)
	return members, err
}

// HSet sets field to value in the hash at key, used for per-room player
// presence (room:presence:{code}).
func (s *Store) HSet(ctx context.Context, key, field, value string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		s.mem["hash:"+key+":"+field] = value
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.HSet(ctx, key, field, value).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("hset", start, err)
	return err
}

// HGet returns the value of field in the hash at key.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	start := time.Now()
	var val string
	var err error
	if s == nil || s.client == nil {
		s.memMu.RLock()
		v, ok := s.mem["hash:"+key+":"+field]
		s.memMu.RUnlock()
		if !ok {
			err = ErrNotFound
		}
		val = v
	} else {
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.HGet(ctx, key, field).Result()
		})
		switch {
		case cbErr == nil:
			val = res.(string)
		case errors.Is(cbErr, redis.Nil):
			err = ErrNotFound
		default:
			err = s.degrade(cbErr)
		}
	}
	s.observe("hget", start, err)
	return val, err
}

// HDel removes field from the hash at key, a no-op if it does not exist.
func (s *Store) HDel(ctx context.Context, key, field string) error {
	start := time.Now()
	var err error
	if s == nil || s.client == nil {
		s.memMu.Lock()
		delete(s.mem, "hash:"+key+":"+field)
		s.memMu.Unlock()
	} else {
		_, cbErr := s.cb.Execute(func() (interface{}, error) {
			return nil, s.client.HDel(ctx, key, field).Err()
		})
		err = s.degrade(cbErr)
	}
	s.observe("hdel", start, err)
	return err
}

// HGetAll returns every field/value pair in the hash at key.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	var result map[string]string
	var err error
	if s == nil || s.client == nil {
		result = make(map[string]string)
		s.memMu.RLock()
		prefix := "hash:" + key + ":"
		for k, v := range s.mem {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				result[k[len(prefix):]] = v
			}
		}
		s.memMu.RUnlock()
	} else {
		res, cbErr := s.cb.Execute(func() (interface{}, error) {
			return s.client.HGetAll(ctx, key).Result()
		})
		switch {
		case cbErr == nil:
			result = res.(map[string]string)
		default:
			err = s.degrade(cbErr)
		}
	}
	s.observe("hgetall", start, err)
	return result, err
}
