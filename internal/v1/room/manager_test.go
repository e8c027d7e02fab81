package room

import (
	"sync"
	"testing"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePublisher records every envelope published to it, for assertions in
// place of a real transport.Hub.
type fakePublisher struct {
	mu   sync.Mutex
	sent []sentEnvelope
}

type sentEnvelope struct {
	recipients []protocol.UserID
	event      string
}

func (f *fakePublisher) PublishToUsers(userIDs []protocol.UserID, env protocol.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEnvelope{recipients: append([]protocol.UserID{}, userIDs...), event: env.Event})
}

func (f *fakePublisher) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.event
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *fakePublisher) {
	t.Helper()
	store, err := cache.New(false, "", "")
	require.NoError(t, err)
	pub := &fakePublisher{}
	return NewManager(store, pub), pub
}

func TestCreateRoom(t *testing.T) {
	m, _ := newTestManager(t)

	snap, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party", MaxPlayers: 4, IsPublic: true})
	require.NoError(t, err)

	assert.Len(t, snap.Code, protocol.RoomCodeLength)
	assert.Equal(t, protocol.UserID("host-1"), snap.CreatorUserID)
	assert.Equal(t, 4, snap.MaxPlayers)
	assert.Len(t, snap.Players, 1)
	assert.Equal(t, protocol.KnownGameTypes, snap.GamePool)
}

func TestCreateRoom_DefaultMaxPlayers(t *testing.T) {
	m, _ := newTestManager(t)
	snap, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxPlayers, snap.MaxPlayers)
}

func TestJoinRoom(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party", MaxPlayers: 2})
	require.NoError(t, err)

	snap, err := m.JoinRoom("guest-1", "Guest", created.Code, "")
	require.NoError(t, err)
	assert.Len(t, snap.Players, 2)
	assert.Contains(t, pub.events(), protocol.EventPlayerJoined)
}

func TestJoinRoom_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	snap, err := m.JoinRoom("host-1", "Host", created.Code, "")
	require.NoError(t, err)
	assert.Len(t, snap.Players, 1)
}

func TestJoinRoom_WrongPassword(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party", Password: "secret"})
	require.NoError(t, err)

	_, err = m.JoinRoom("guest-1", "Guest", created.Code, "wrong")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrBadPassword, protocol.ErrorKindOf(err))
}

func TestJoinRoom_Full(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party", MaxPlayers: 1})
	require.NoError(t, err)

	_, err = m.JoinRoom("guest-1", "Guest", created.Code, "")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrFull, protocol.ErrorKindOf(err))
}

func TestJoinRoom_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.JoinRoom("guest-1", "Guest", "ZZZZZZ", "")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrNotFound, protocol.ErrorKindOf(err))
}

func TestLeaveRoom_DeactivatesWhenEmpty(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	snap, err := m.LeaveRoom("host-1", created.Code)
	require.NoError(t, err)
	assert.Nil(t, snap)

	_, ok := m.RoomCodeForUser("host-1")
	assert.False(t, ok)

	_, err = m.GetRoomInfo(created.Code)
	require.Error(t, err)
	assert.Contains(t, pub.events(), protocol.EventPlayerLeft)
}

func TestLeaveRoom_KeepsRoomWithRemainingPlayers(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)
	_, err = m.JoinRoom("guest-1", "Guest", created.Code, "")
	require.NoError(t, err)

	snap, err := m.LeaveRoom("guest-1", created.Code)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Len(t, snap.Players, 1)
}

func TestListRooms_OnlyPublic(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Public", IsPublic: true})
	require.NoError(t, err)
	_, err = m.CreateRoom("host-2", "Host2", CreateOptions{Name: "Private", IsPublic: false})
	require.NoError(t, err)

	rooms := m.ListRooms()
	require.Len(t, rooms, 1)
	assert.Equal(t, "Public", rooms[0].Name)
}

func TestRoomCodeForUser(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	code, ok := m.RoomCodeForUser("host-1")
	require.True(t, ok)
	assert.Equal(t, created.Code, code)
}
