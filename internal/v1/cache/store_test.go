package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	s, err := New(true, mr.Addr(), "")
	require.NoError(t, err)

	return s, mr
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s, err := New(false, "", "")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "room:state:ABCDEF", "{}", 0))

	val, err := s.Get(ctx, "room:state:ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "{}", val)

	require.NoError(t, s.Delete(ctx, "room:state:ABCDEF"))
	_, err = s.Get(ctx, "room:state:ABCDEF")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	s, err := New(false, "", "")
	require.NoError(t, err)
	ctx := context.Background()

	swapped, err := s.CompareAndSwap(ctx, "game:state:g1", "", "v1", 0)
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = s.CompareAndSwap(ctx, "game:state:g1", "stale", "v2", 0)
	require.NoError(t, err)
	assert.False(t, swapped)

	val, _ := s.Get(ctx, "game:state:g1")
	assert.Equal(t, "v1", val)

	swapped, err = s.CompareAndSwap(ctx, "game:state:g1", "v1", "v2", 0)
	require.NoError(t, err)
	assert.True(t, swapped)

	val, _ = s.Get(ctx, "game:state:g1")
	assert.Equal(t, "v2", val)
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	s, mr := newRedisTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, RoomStateKey("ABCDEF"), "{}", time.Minute))

	val, err := s.Get(ctx, RoomStateKey("ABCDEF"))
	require.NoError(t, err)
	assert.Equal(t, "{}", val)

	require.NoError(t, s.Delete(ctx, RoomStateKey("ABCDEF")))
	_, err = s.Get(ctx, RoomStateKey("ABCDEF"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_CompareAndSwap(t *testing.T) {
	s, mr := newRedisTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	key := GameStateKey("game-1")

	swapped, err := s.CompareAndSwap(ctx, key, "", "v1", 0)
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = s.CompareAndSwap(ctx, key, "wrong", "v2", 0)
	require.NoError(t, err)
	assert.False(t, swapped)

	swapped, err = s.CompareAndSwap(ctx, key, "v1", "v2", 0)
	require.NoError(t, err)
	assert.True(t, swapped)

	val, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}

func TestRedisStore_SetMembers(t *testing.T) {
	s, mr := newRedisTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.SAdd(ctx, OnlinePlayersKey, "user-1"))
	require.NoError(t, s.SAdd(ctx, OnlinePlayersKey, "user-2"))

	members, err := s.SMembers(ctx, OnlinePlayersKey)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user-1", "user-2"}, members)

	require.NoError(t, s.SRem(ctx, OnlinePlayersKey, "user-1"))
	members, err = s.SMembers(ctx, OnlinePlayersKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-2"}, members)
}

func TestRedisStore_Leaderboard(t *testing.T) {
	s, mr := newRedisTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, s.ZAdd(ctx, LeaderboardKey, 10, "alice"))
	require.NoError(t, s.ZAdd(ctx, LeaderboardKey, 30, "bob"))
	require.NoError(t, s.ZAdd(ctx, LeaderboardKey, 20, "carol"))

	top, err := s.ZRevRange(ctx, LeaderboardKey, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, top)
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newRedisTestStore(t)
	defer mr.Close()

	assert.NoError(t, s.Ping(context.Background()))
}

func TestRedisStore_PingDegradesWhenUnreachable(t *testing.T) {
	s, mr := newRedisTestStore(t)
	mr.Close()

	// A dead connection surfaces as a plain error from the client, not a
	// tripped circuit breaker on the first call; the breaker only opens
	// after enough consecutive failures.
	err := s.Ping(context.Background())
	if err != nil {
		assert.NotErrorIs(t, err, ErrNotFound)
	}
}

func TestMemoryStore_Ping_AlwaysHealthy(t *testing.T) {
	s, err := New(false, "", "")
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "room:state:ABCDEF", RoomStateKey("ABCDEF"))
	assert.Equal(t, "game:state:g1", GameStateKey("g1"))
	assert.Equal(t, "matchmaking:ABCDEF", MatchmakingKey("ABCDEF"))
	assert.Equal(t, "word:banana", WordKey("BANANA"))
	assert.Equal(t, "rate:u1:gameAction", RateLimitKey("u1", "gameAction"))
}
