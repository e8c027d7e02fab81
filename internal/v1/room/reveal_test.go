package room

import (
	"testing"

	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevealConfession(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	_, err = m.SubmitConfession("host-1", created.Code, "I stole a cookie")
	require.NoError(t, err)

	require.NoError(t, m.RevealConfession(created.Code, "host-1", "game-1"))

	c, err := m.GetMyConfession("host-1", created.Code)
	require.NoError(t, err)
	assert.True(t, c.IsRevealed)
	assert.Equal(t, protocol.GameID("game-1"), c.RevealedInGameID)
	assert.NotNil(t, c.RevealedAt)

	history, err := m.GetChatHistory(created.Code)
	require.NoError(t, err)
	last := history[len(history)-1]
	assert.Equal(t, ChatKindConfession, last.Kind)
	assert.Contains(t, last.Text, "I stole a cookie")
	assert.Contains(t, pub.events(), protocol.EventConfessionRevealed)
}

func TestRevealConfession_NoOpWhenNoneExists(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	assert.NoError(t, m.RevealConfession(created.Code, "host-1", "game-1"))
}

func TestRevealConfession_NoOpWhenAlreadyRevealed(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	_, err = m.SubmitConfession("host-1", created.Code, "secret confession")
	require.NoError(t, err)
	require.NoError(t, m.RevealConfession(created.Code, "host-1", "game-1"))

	before := len(pub.events())
	require.NoError(t, m.RevealConfession(created.Code, "host-1", "game-2"))
	assert.Equal(t, before, len(pub.events()), "a second reveal of an already-revealed confession is a no-op")
}

func TestSetCurrentGame_MarksPlayersPlaying(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	_, err = m.JoinRoom("guest-1", "Guest", created.Code, "")
	require.NoError(t, err)

	require.NoError(t, m.SetCurrentGame(created.Code, "game-1", []protocol.UserID{"host-1", "guest-1"}))

	snap, err := m.GetRoomInfo(created.Code)
	require.NoError(t, err)
	assert.Equal(t, protocol.GameID("game-1"), snap.CurrentGameID)
	for _, p := range snap.Players {
		assert.True(t, p.IsPlaying)
	}
}

func TestClearCurrentGame_ResetsPlayingFlags(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	require.NoError(t, m.SetCurrentGame(created.Code, "game-1", []protocol.UserID{"host-1"}))

	require.NoError(t, m.ClearCurrentGame(created.Code))

	snap, err := m.GetRoomInfo(created.Code)
	require.NoError(t, err)
	assert.Empty(t, snap.CurrentGameID)
	assert.False(t, snap.Players[0].IsPlaying)
	assert.Contains(t, pub.events(), protocol.EventRoomUpdated)
}

func TestNotifyDisconnectedAndReconnected(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	m.NotifyDisconnected(created.Code, "host-1")
	assert.Contains(t, pub.events(), protocol.EventPlayerDisconnected)

	m.NotifyReconnected(created.Code, "host-1")
	assert.Contains(t, pub.events(), protocol.EventPlayerReconnected)
}
