package transport

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/confessionparty/server/internal/v1/auth"
	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/config"
	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/matchmaker"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/confessionparty/server/internal/v1/ratelimit"
	"github.com/confessionparty/server/internal/v1/room"
	"github.com/confessionparty/server/internal/v1/scheduler"
	"github.com/confessionparty/server/internal/v1/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "this-is-a-test-secret-at-least-32-bytes-long"

func testConfig() *config.Config {
	return &config.Config{
		RateLimitGameAction:       "30-1S",
		RateLimitSendMessage:      "10-10S",
		RateLimitCreateRoom:       "3-60S",
		RateLimitJoinRoom:         "10-60S",
		RateLimitSubmitConfession: "5-60S",
		RateLimitRequestMatch:     "5-30S",
		RateLimitUpdateNickname:   "3-60S",
	}
}

// newTestHub wires real components, same as the other domain packages'
// test helpers, working around the Hub/room/scheduler/matchmaker
// construction cycle by building Hub first as a zero value and filling in
// its fields once its dependents exist.
func newTestHub(t *testing.T, registry scheduler.Registry) *Hub {
	t.Helper()

	store, err := cache.New(false, "", "")
	require.NoError(t, err)

	tokens, err := auth.NewTokenService(testJWTSecret, time.Hour)
	require.NoError(t, err)

	sessions := sessionstore.New(tokens)

	h := &Hub{
		attachments: make(map[protocol.AttachmentID]*Client),
		byUser:      make(map[protocol.UserID]map[protocol.AttachmentID]*Client),
	}

	rooms := room.NewManager(store, h)
	sched := scheduler.New(registry, rooms, store, h)
	mm := matchmaker.New(rooms, sched, h, store)

	limiter, err := ratelimit.New(testConfig(), nil)
	require.NoError(t, err)

	h.sessions = sessions
	h.rooms = rooms
	h.matchmaker = mm
	h.scheduler = sched
	h.limiter = limiter
	h.cache = store

	return h
}

func noopRegistry() scheduler.Registry {
	return scheduler.Registry{
		protocol.GameTypeRPS: func(players []protocol.UserID, cb games.Callbacks) games.Instance {
			return noopInstance{}
		},
	}
}

type noopInstance struct{}

func (noopInstance) ProcessAction(playerID protocol.UserID, kind string, payload json.RawMessage) error {
	return nil
}
func (noopInstance) State() any { return map[string]any{} }
func (noopInstance) Cleanup()   {}

func bindClient(t *testing.T, h *Hub) *Client {
	t.Helper()
	sess, err := h.sessions.Bind("Alice", "tab-1", protocol.AttachmentID("att-1"))
	require.NoError(t, err)

	c := &Client{
		hub:          h,
		attachmentID: sess.Attachment,
		sessionID:    sess.ID,
		userID:       sess.UserID,
		send:         make(chan []byte, 16),
	}
	h.registerClient(c)
	return c
}

func readAck(t *testing.T, c *Client) (bool, map[string]any) {
	t.Helper()
	select {
	case data := <-c.send:
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		var body map[string]any
		require.NoError(t, json.Unmarshal(env.Payload, &body))
		return body["success"].(bool), body
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ack")
		return false, nil
	}
}

func TestDispatch_CreateRoom_HappyPath(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	payload, _ := json.Marshal(map[string]any{"name": "Party Room"})
	h.dispatch(c, protocol.Envelope{Event: protocol.EventCreateRoom, Payload: payload, AckID: "ack-1"})

	ok, body := readAck(t, c)
	assert.True(t, ok)
	assert.Contains(t, body, "room")
}

func TestDispatch_UnknownEvent_RespondsValidationError(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	h.dispatch(c, protocol.Envelope{Event: "notARealEvent", AckID: "ack-1"})

	ok, body := readAck(t, c)
	assert.False(t, ok)
	assert.Equal(t, string(protocol.ErrValidation), body["error"])
}

func TestDispatch_RateLimitExceeded(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	payload, _ := json.Marshal(map[string]any{"name": "Room"})
	// RateLimitCreateRoom allows 3 per 60s; four rapid requests should
	// exhaust the bucket.
	for i := 0; i < 3; i++ {
		h.dispatch(c, protocol.Envelope{Event: protocol.EventCreateRoom, Payload: payload, AckID: "ack"})
		readAck(t, c)
	}
	h.dispatch(c, protocol.Envelope{Event: protocol.EventCreateRoom, Payload: payload, AckID: "ack-4"})
	ok, body := readAck(t, c)
	assert.False(t, ok)
	assert.Equal(t, string(protocol.ErrRateLimited), body["error"])
}

func TestDispatch_NoAckID_SendsNothing(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	h.dispatch(c, protocol.Envelope{Event: protocol.EventGetRooms})

	select {
	case <-c.send:
		t.Fatal("expected no response for an ack-less request")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleGameAction_NoActiveGameReturnsNotFound(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	payload, _ := json.Marshal(map[string]any{"kind": "choice"})
	h.dispatch(c, protocol.Envelope{Event: protocol.EventGameAction, Payload: payload, AckID: "ack-1"})

	ok, body := readAck(t, c)
	assert.False(t, ok)
	assert.Equal(t, string(protocol.ErrNotFound), body["error"])
}

func TestPublishToUsers_DeliversToEveryAttachmentOfUser(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c1 := bindClient(t, h)

	sess2, err := h.sessions.Bind(sessionNickname(h, c1), "tab-2", protocol.AttachmentID("att-2"))
	require.NoError(t, err)
	c2 := &Client{hub: h, attachmentID: sess2.Attachment, sessionID: sess2.ID, userID: c1.userID, send: make(chan []byte, 4)}
	h.registerClient(c2)

	env, err := protocol.Event("test", map[string]any{"x": 1})
	require.NoError(t, err)
	h.PublishToUsers([]protocol.UserID{c1.userID}, env)

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got protocol.Envelope
			require.NoError(t, json.Unmarshal(data, &got))
			assert.Equal(t, "test", got.Event)
		case <-time.After(time.Second):
			t.Fatal("expected both attachments of the user to receive the broadcast")
		}
	}
}

func TestHandleDisconnect_ClearsRegistryAndSessionAttachment(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	h.handleDisconnect(c)

	h.mu.RLock()
	_, stillRegistered := h.attachments[c.attachmentID]
	h.mu.RUnlock()
	assert.False(t, stillRegistered)

	sess, ok := h.sessions.Get(c.sessionID)
	require.True(t, ok)
	assert.Empty(t, sess.Attachment)
}

func TestCheckOrigin_AllowsConfiguredOrigin(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	h.allowedOrigins = []string{"https://app.confessionparty.example"}

	allowed := &http.Request{Header: http.Header{"Origin": []string{"https://app.confessionparty.example"}}}
	rejected := &http.Request{Header: http.Header{"Origin": []string{"https://evil.example"}}}
	noOrigin := &http.Request{Header: http.Header{}}

	assert.True(t, h.checkOrigin(allowed))
	assert.False(t, h.checkOrigin(rejected))
	assert.True(t, h.checkOrigin(noOrigin))
}

func TestCheckOrigin_EmptyAllowlistAllowsAnyOrigin(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	h.allowedOrigins = nil

	req := &http.Request{Header: http.Header{"Origin": []string{"https://anywhere.example"}}}
	assert.True(t, h.checkOrigin(req))
}

func TestHandleReconnect_NotifiesRoomAndReturnsSnapshot(t *testing.T) {
	h := newTestHub(t, noopRegistry())
	c := bindClient(t, h)

	createPayload, _ := json.Marshal(map[string]any{"name": "Room"})
	h.dispatch(c, protocol.Envelope{Event: protocol.EventCreateRoom, Payload: createPayload, AckID: "ack-1"})
	_, body := readAck(t, c)
	roomMap := body["room"].(map[string]any)
	code := roomMap["code"].(string)

	reconnectPayload, _ := json.Marshal(map[string]any{"roomCode": code})
	h.dispatch(c, protocol.Envelope{Event: protocol.EventReconnect, Payload: reconnectPayload, AckID: "ack-2"})
	ok, respBody := readAck(t, c)
	assert.True(t, ok)
	assert.Contains(t, respBody, "room")
}
