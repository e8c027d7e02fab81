package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/confessionparty/server/internal/v1/room"
	"go.uber.org/zap"
)

// eventHandler dispatches one inbound envelope's payload and returns the
// fields to inline into a {success:true, ...} ack, or an error to inline
// into {success:false, error, message}.
type eventHandler func(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error)

// eventHandlers is the C1 router: the sole mapping from an inbound event
// name (spec §6) to the component method it drives. requestMatch aliases
// startGameWithPool: spec §4.5 defines exactly one start path, and ranked
// skill matchmaking is out of scope (spec Non-goals), so there is nothing
// for a second handler to do differently.
var eventHandlers = map[string]eventHandler{
	protocol.EventCreateRoom:        handleCreateRoom,
	protocol.EventJoinRoom:          handleJoinRoom,
	protocol.EventLeaveRoom:         handleLeaveRoom,
	protocol.EventGetRooms:          handleGetRooms,
	protocol.EventGetRoomInfo:       handleGetRoomInfo,
	protocol.EventUpdateRoomSettings: handleUpdateRoomSettings,
	protocol.EventUpdateGamePool:    handleUpdateGamePool,
	protocol.EventKickPlayer:        handleKickPlayer,
	protocol.EventSubmitConfession:  handleSubmitConfession,
	protocol.EventUpdateConfession:  handleUpdateConfession,
	protocol.EventGetConfessions:    handleGetConfessions,
	protocol.EventGetMyConfession:   handleGetMyConfession,
	protocol.EventSendMessage:       handleSendMessage,
	protocol.EventGetChatHistory:    handleGetChatHistory,
	protocol.EventStartGameWithPool: handleStartGameWithPool,
	protocol.EventRequestMatch:      handleStartGameWithPool,
	protocol.EventGameAction:        handleGameAction,
	protocol.EventUpdateNickname:    handleUpdateNickname,
	protocol.EventReconnect:         handleReconnect,
}

// dispatch touches the session's idle clock, enforces the per-(user,event)
// rate limit, runs the handler, and replies on AckID if the request asked
// for an ack (spec §4.1, §6).
func (h *Hub) dispatch(c *Client, env protocol.Envelope) {
	ctx := context.Background()
	start := time.Now()

	h.sessions.Touch(c.sessionID)

	if !h.limiter.Allow(ctx, string(c.userID), env.Event) {
		metrics.GatewayEvents.WithLabelValues(env.Event, "rate_limited").Inc()
		c.respondErr(env.AckID, protocol.NewError(protocol.ErrRateLimited, "rate limit exceeded for "+env.Event))
		return
	}

	handler, ok := eventHandlers[env.Event]
	if !ok {
		metrics.GatewayEvents.WithLabelValues(env.Event, "unknown").Inc()
		c.respondErr(env.AckID, protocol.NewError(protocol.ErrValidation, "unknown event "+env.Event))
		return
	}

	fields, err := handler(h, c, env.Payload)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.GatewayEvents.WithLabelValues(env.Event, status).Inc()
	metrics.EventProcessingDuration.WithLabelValues(env.Event).Observe(time.Since(start).Seconds())

	if err != nil {
		logging.Warn(ctx, "transport: handler returned error", zap.String("event", env.Event), zap.String("user_id", string(c.userID)), zap.Error(err))
	}

	if env.AckID == "" {
		return
	}
	if err != nil {
		c.respondErr(env.AckID, err)
		return
	}
	c.respondOk(env.AckID, fields)
}

func (c *Client) respondOk(ackID string, fields map[string]any) {
	env, err := protocol.Ack(ackID, protocol.SuccessResponse(fields))
	if err != nil {
		logging.Error(context.Background(), "transport: failed to build ack envelope", zap.Error(err))
		return
	}
	data, err := marshalEnvelope(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *Client) respondErr(ackID string, err error) {
	if ackID == "" {
		return
	}
	env, merr := protocol.Ack(ackID, protocol.FailureResponse(err))
	if merr != nil {
		logging.Error(context.Background(), "transport: failed to build ack failure envelope", zap.Error(merr))
		return
	}
	data, merr := marshalEnvelope(env)
	if merr != nil {
		return
	}
	c.enqueue(data)
}

func unmarshalPayload(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return protocol.NewValidationError("payload", "malformed request payload")
	}
	return nil
}

// --- room handlers ---

type createRoomPayload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Password    string `json:"password"`
	MaxPlayers  int    `json:"maxPlayers"`
	IsPublic    *bool  `json:"isPublic"`
}

func handleCreateRoom(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req createRoomPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}
	snap, err := h.rooms.CreateRoom(c.userID, sessionNickname(h, c), room.CreateOptions{
		Name:        req.Name,
		Description: req.Description,
		Password:    req.Password,
		MaxPlayers:  req.MaxPlayers,
		IsPublic:    isPublic,
	})
	if err != nil {
		return nil, err
	}
	h.sessions.SetRoom(c.sessionID, snap.Code)
	return map[string]any{"room": snap}, nil
}

type roomCodePayload struct {
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

func handleJoinRoom(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	code := protocol.NormalizeRoomCode(req.RoomCode)
	snap, err := h.rooms.JoinRoom(c.userID, sessionNickname(h, c), code, req.Password)
	if err != nil {
		return nil, err
	}
	h.sessions.SetRoom(c.sessionID, code)
	return map[string]any{"room": snap}, nil
}

func handleLeaveRoom(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	code := protocol.NormalizeRoomCode(req.RoomCode)
	snap, err := h.rooms.LeaveRoom(c.userID, code)
	if err != nil {
		return nil, err
	}
	h.sessions.SetRoom(c.sessionID, "")
	if snap == nil {
		return map[string]any{}, nil
	}
	return map[string]any{"room": *snap}, nil
}

func handleGetRooms(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	return map[string]any{"rooms": h.rooms.ListRooms()}, nil
}

func handleGetRoomInfo(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.GetRoomInfo(protocol.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

type updateRoomSettingsPayload struct {
	RoomCode    string  `json:"roomCode"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Password    *string `json:"password"`
	MaxPlayers  *int    `json:"maxPlayers"`
	IsPublic    *bool   `json:"isPublic"`
}

func handleUpdateRoomSettings(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req updateRoomSettingsPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.UpdateRoomSettings(c.userID, protocol.NormalizeRoomCode(req.RoomCode), room.SettingsUpdate{
		Name:        req.Name,
		Description: req.Description,
		Password:    req.Password,
		MaxPlayers:  req.MaxPlayers,
		IsPublic:    req.IsPublic,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

type updateGamePoolPayload struct {
	RoomCode string              `json:"roomCode"`
	GamePool []protocol.GameType `json:"gamePool"`
}

func handleUpdateGamePool(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req updateGamePoolPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.UpdateGamePool(c.userID, protocol.NormalizeRoomCode(req.RoomCode), req.GamePool)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

type kickPlayerPayload struct {
	RoomCode string          `json:"roomCode"`
	UserID   protocol.UserID `json:"userId"`
}

func handleKickPlayer(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req kickPlayerPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.KickPlayer(c.userID, protocol.NormalizeRoomCode(req.RoomCode), req.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

// --- confession handlers ---

type confessionPayload struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

func handleSubmitConfession(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req confessionPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.SubmitConfession(c.userID, protocol.NormalizeRoomCode(req.RoomCode), req.Text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

func handleUpdateConfession(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req confessionPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	snap, err := h.rooms.UpdateConfession(c.userID, protocol.NormalizeRoomCode(req.RoomCode), req.Text)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

func handleGetConfessions(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	views, err := h.rooms.GetConfessions(protocol.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	return map[string]any{"confessions": views}, nil
}

func handleGetMyConfession(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	confession, err := h.rooms.GetMyConfession(c.userID, protocol.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	return map[string]any{"confession": confession}, nil
}

// --- chat handlers ---

type sendMessagePayload struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
}

func handleSendMessage(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req sendMessagePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.rooms.SendMessage(c.userID, protocol.NormalizeRoomCode(req.RoomCode), req.Text); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func handleGetChatHistory(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	history, err := h.rooms.GetChatHistory(protocol.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	return map[string]any{"messages": history}, nil
}

// --- matchmaking / game handlers ---

func handleStartGameWithPool(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req roomCodePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	gameID, err := h.matchmaker.StartGameWithPool(c.userID, protocol.NormalizeRoomCode(req.RoomCode))
	if err != nil {
		return nil, err
	}
	return map[string]any{"gameId": gameID}, nil
}

type gameActionPayload struct {
	GameID  protocol.GameID `json:"gameId"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func handleGameAction(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req gameActionPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	gameID := req.GameID
	if gameID == "" {
		id, ok := h.scheduler.GameIDForPlayer(c.userID)
		if !ok {
			return nil, protocol.NewError(protocol.ErrNotFound, "no active game for this player")
		}
		gameID = id
	}
	if err := h.scheduler.ProcessAction(gameID, c.userID, req.Kind, req.Payload); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

// --- identity / reconnect handlers ---

type updateNicknamePayload struct {
	Nickname string `json:"nickname"`
}

func handleUpdateNickname(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req updateNicknamePayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	if err := h.rooms.UpdateNickname(c.userID, req.Nickname); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

type reconnectPayload struct {
	RoomCode string `json:"roomCode"`
}

// handleReconnect is the application-level counterpart to the attachment
// handshake's session reattach: it tells the room and any live game that
// this player's attachment is back within the grace window (spec §8
// scenario S4), distinct from the transport-level token reattach that
// already ran during the WebSocket upgrade.
func handleReconnect(h *Hub, c *Client, payload json.RawMessage) (map[string]any, error) {
	var req reconnectPayload
	if err := unmarshalPayload(payload, &req); err != nil {
		return nil, err
	}
	code := protocol.NormalizeRoomCode(req.RoomCode)
	h.rooms.NotifyReconnected(code, c.userID)
	h.scheduler.PlayerReconnected(c.userID)
	h.sessions.SetRoom(c.sessionID, code)

	snap, err := h.rooms.GetRoomInfo(code)
	if err != nil {
		return nil, err
	}
	return map[string]any{"room": snap}, nil
}

func sessionNickname(h *Hub, c *Client) string {
	sess, ok := h.sessions.Get(c.sessionID)
	if !ok {
		return ""
	}
	return sess.Nickname
}
