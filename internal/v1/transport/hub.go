// Package transport implements the C1 gateway: WebSocket attachment
// handshake, per-attachment read/write pumps, per-event rate limiting, and
// dispatch to the room manager, matchmaker, and scheduler (spec §4.1).
//
// Grounded on the teacher's session.Hub/session.Client: the same gin +
// gorilla/websocket upgrade path, the same goroutine-pair-per-connection
// model. The wire codec is JSON (protocol.Envelope) rather than the
// teacher's protobuf, since this domain's protocol is the plain
// {success,...}/{event,payload} shape spec §6 describes, not a generated
// schema retrieved with the pack.
package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/matchmaker"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/confessionparty/server/internal/v1/ratelimit"
	"github.com/confessionparty/server/internal/v1/room"
	"github.com/confessionparty/server/internal/v1/scheduler"
	"github.com/confessionparty/server/internal/v1/sessionstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// Hub is the C1 gateway: the attachment registry and the single place that
// turns a live sessionstore.Session plus a room.Manager/matchmaker.Matchmaker/
// scheduler.Scheduler into one cohesive event-driven surface for clients.
type Hub struct {
	sessions   *sessionstore.Store
	rooms      *room.Manager
	matchmaker *matchmaker.Matchmaker
	scheduler  *scheduler.Scheduler
	limiter    *ratelimit.Limiter
	cache      *cache.Store

	allowedOrigins []string

	mu          sync.RWMutex
	attachments map[protocol.AttachmentID]*Client
	byUser      map[protocol.UserID]map[protocol.AttachmentID]*Client
}

// NewHub builds a Hub with its attachment registry ready but no domain
// dependencies wired yet. allowedOrigins is the parsed ALLOWED_ORIGINS list
// (config.Config.AllowedOrigins, comma-split); an empty list allows every
// origin, matching the teacher's "no Origin header" testing carve-out.
//
// room.Manager, scheduler.Scheduler, and matchmaker.Matchmaker all take a
// Hub as their Publisher, so a caller must build a Hub before it can build
// them; Wire closes the loop once they exist.
func NewHub(allowedOrigins []string) *Hub {
	return &Hub{
		allowedOrigins: allowedOrigins,
		attachments:    make(map[protocol.AttachmentID]*Client),
		byUser:         make(map[protocol.UserID]map[protocol.AttachmentID]*Client),
	}
}

// Wire attaches the domain components a Hub dispatches to. Must be called
// once, after those components have been constructed with this same Hub as
// their Publisher, and before ServeWs starts accepting connections.
func (h *Hub) Wire(sessions *sessionstore.Store, rooms *room.Manager, mm *matchmaker.Matchmaker, sched *scheduler.Scheduler, limiter *ratelimit.Limiter, store *cache.Store) {
	h.sessions = sessions
	h.rooms = rooms
	h.matchmaker = mm
	h.scheduler = sched
	h.limiter = limiter
	h.cache = store
}

// PublishToUsers delivers env to every live attachment of every user in
// userIDs. Satisfies room.Publisher, scheduler.Publisher, and
// matchmaker.Publisher identically: all three consumers see the same
// narrow interface, implemented here once.
func (h *Hub) PublishToUsers(userIDs []protocol.UserID, env protocol.Envelope) {
	data, err := marshalEnvelope(env)
	if err != nil {
		logging.Error(context.Background(), "transport: failed to marshal outbound envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, uid := range userIDs {
		for _, c := range h.byUser[uid] {
			c.enqueue(data)
		}
	}
}

// ServeWs upgrades the HTTP request to a WebSocket and performs the
// attachment handshake (spec §4.1): token/nickname/tabId/newSession decide
// whether the attachment reattaches an existing session or mints a new one.
func (h *Hub) ServeWs(c *gin.Context) {
	token := c.Query("token")
	nickname := c.Query("nickname")
	tabID := c.Query("tabId")
	newSession := c.Query("newSession") == "true"

	upgrader := websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
		WriteBufferPool: &sync.Pool{
			New: func() any { return make([]byte, 4096) },
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "transport: websocket upgrade failed", zap.Error(err))
		return
	}

	attachmentID := protocol.AttachmentID(uuid.NewString())

	var sess *sessionstore.Session
	isNew := false
	if token != "" && !newSession {
		if s, rerr := h.sessions.Reattach(token, attachmentID); rerr == nil {
			sess = s
		}
	}
	if sess == nil {
		s, berr := h.sessions.Bind(nickname, tabID, attachmentID)
		if berr != nil {
			logging.Error(c.Request.Context(), "transport: failed to bind new session", zap.Error(berr))
			_ = conn.Close()
			return
		}
		sess = s
		isNew = true
	}

	client := &Client{
		conn:         conn,
		send:         make(chan []byte, 256),
		hub:          h,
		attachmentID: attachmentID,
		sessionID:    sess.ID,
		userID:       sess.UserID,
	}

	h.registerClient(client)
	metrics.IncConnection()

	go client.writePump()
	go client.readPump()

	// Sent from its own goroutine so the client's first event listener is
	// registered before the response arrives (spec §4.1).
	go h.sendAuthenticated(client, sess, isNew)
}

func (h *Hub) sendAuthenticated(c *Client, sess *sessionstore.Session, isNew bool) {
	payload := map[string]any{
		"userId":   sess.UserID,
		"nickname": sess.Nickname,
		"avatar":   "",
		"token":    sess.Token,
		"isNew":    isNew,
	}
	env, err := protocol.Event(protocol.EventAuthenticated, payload)
	if err != nil {
		logging.Error(context.Background(), "transport: failed to build authenticated envelope", zap.Error(err))
		return
	}
	data, err := marshalEnvelope(env)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.allowedOrigins {
		allowedURL, err := url.Parse(strings.TrimSpace(allowed))
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return true
		}
	}
	return false
}

func (h *Hub) registerClient(c *Client) {
	h.mu.Lock()
	h.attachments[c.attachmentID] = c
	firstAttachment := h.byUser[c.userID] == nil
	if firstAttachment {
		h.byUser[c.userID] = make(map[protocol.AttachmentID]*Client)
	}
	h.byUser[c.userID][c.attachmentID] = c
	h.mu.Unlock()

	if firstAttachment {
		if err := h.cache.SAdd(context.Background(), cache.OnlinePlayersKey, string(c.userID)); err != nil {
			logging.Warn(context.Background(), "transport: failed to add online player", zap.String("user_id", string(c.userID)), zap.Error(err))
		}
	}
}

func (h *Hub) unregisterClient(c *Client) {
	h.mu.Lock()
	delete(h.attachments, c.attachmentID)
	lastAttachment := false
	if peers, ok := h.byUser[c.userID]; ok {
		delete(peers, c.attachmentID)
		if len(peers) == 0 {
			delete(h.byUser, c.userID)
			lastAttachment = true
		}
	}
	h.mu.Unlock()

	if lastAttachment {
		if err := h.cache.SRem(context.Background(), cache.OnlinePlayersKey, string(c.userID)); err != nil {
			logging.Warn(context.Background(), "transport: failed to remove online player", zap.String("user_id", string(c.userID)), zap.Error(err))
		}
	}
}

// handleDisconnect runs once per dropped attachment: the session keeps
// existing (reattach within the grace window resumes it), but the room and
// any live game are told the player's attachment is gone (spec §4.1, §5).
func (h *Hub) handleDisconnect(c *Client) {
	h.unregisterClient(c)
	metrics.DecConnection()

	h.sessions.ClearAttachment(c.sessionID)

	if sess, ok := h.sessions.Get(c.sessionID); ok && sess.RoomCode != "" {
		h.rooms.NotifyDisconnected(sess.RoomCode, c.userID)
	}
	h.scheduler.PlayerDisconnected(c.userID)
}
