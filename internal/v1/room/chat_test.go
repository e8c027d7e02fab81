package room

import (
	"fmt"
	"testing"

	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage(t *testing.T) {
	m, pub := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	require.NoError(t, m.SendMessage("host-1", created.Code, "hello room"))

	history, err := m.GetChatHistory(created.Code)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Equal(t, "hello room", last.Text)
	assert.Equal(t, ChatKindChat, last.Kind)
	assert.Contains(t, pub.events(), protocol.EventNewMessage)
}

func TestSendMessage_RejectsNonMember(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	err = m.SendMessage("stranger", created.Code, "hi")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrNotInRoom, protocol.ErrorKindOf(err))
}

func TestSendMessage_RejectsBlankText(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	err = m.SendMessage("host-1", created.Code, "")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.ErrorKindOf(err))
}

func TestChatHistory_BoundedByMaxChatHistory(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	for i := 0; i < MaxChatHistory+20; i++ {
		require.NoError(t, m.SendMessage("host-1", created.Code, fmt.Sprintf("msg-%d", i)))
	}

	r, err := m.lookup(created.Code)
	require.NoError(t, err)
	r.mu.RLock()
	length := r.chat.Len()
	r.mu.RUnlock()
	assert.Equal(t, MaxChatHistory, length)
}

func TestChatHistory_FetchLimit(t *testing.T) {
	m, _ := newTestManager(t)
	created, err := m.CreateRoom("host-1", "Host", CreateOptions{Name: "Party"})
	require.NoError(t, err)

	for i := 0; i < ChatHistoryFetchLimit+10; i++ {
		require.NoError(t, m.SendMessage("host-1", created.Code, fmt.Sprintf("msg-%d", i)))
	}

	history, err := m.GetChatHistory(created.Code)
	require.NoError(t, err)
	assert.Len(t, history, ChatHistoryFetchLimit)
	assert.Equal(t, fmt.Sprintf("msg-%d", ChatHistoryFetchLimit+9), history[len(history)-1].Text)
}
