package room

import (
	"container/list"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/protocol"
	"go.uber.org/zap"
)

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const roomCodeRetries = 10

// Publisher delivers envelopes to the attachments of a set of users. The
// room manager owns membership and decides WHO receives a broadcast;
// transport owns HOW a user's live attachment is reached. Implemented by
// internal/v1/transport.Hub.
type Publisher interface {
	PublishToUsers(userIDs []protocol.UserID, env protocol.Envelope)
}

// Room is one active room's full, mutex-guarded state. Exported so other
// domain packages (matchmaker, scheduler) can type-assert against the
// narrow read-only views the Manager exposes, but all mutation happens
// through Manager methods.
type Room struct {
	mu sync.RWMutex

	code          protocol.RoomCode
	name          string
	description   string
	creatorUserID protocol.UserID
	maxPlayers    int
	isPublic      bool
	password      string
	gamePool      []protocol.GameType
	players       map[protocol.UserID]*Player
	playerOrder   []protocol.UserID
	confessions   map[protocol.UserID]*Confession
	chat          *list.List
	currentGameID protocol.GameID
	createdAt     time.Time
}

// Manager is the C4 room registry: the single writer for every Room's
// membership, confessions, and chat log (spec §5).
type Manager struct {
	mu        sync.RWMutex
	rooms     map[protocol.RoomCode]*Room
	byUser    map[protocol.UserID]protocol.RoomCode
	cache     *cache.Store
	publisher Publisher
}

// NewManager builds a room Manager. cache may be a single-instance Store
// (cache.New(false, "", "")); publisher is supplied by the transport gateway.
func NewManager(store *cache.Store, publisher Publisher) *Manager {
	return &Manager{
		rooms:     make(map[protocol.RoomCode]*Room),
		byUser:    make(map[protocol.UserID]protocol.RoomCode),
		cache:     store,
		publisher: publisher,
	}
}

// generateRoomCode produces a six-character uppercase alphanumeric code
// (spec §4.4, §6). Collision retry is handled by the caller.
func generateRoomCode() (protocol.RoomCode, error) {
	buf := make([]byte, protocol.RoomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("room: generate code: %w", err)
	}
	out := make([]byte, protocol.RoomCodeLength)
	for i, b := range buf {
		out[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return protocol.RoomCode(out), nil
}

// CreateRoom creates a new room with userID as creator/host, retrying the
// code generation up to roomCodeRetries times on collision (spec §4.4, §8).
func (m *Manager) CreateRoom(userID protocol.UserID, nickname string, opts CreateOptions) (Snapshot, error) {
	maxPlayers := opts.MaxPlayers
	if maxPlayers <= 0 {
		maxPlayers = DefaultMaxPlayers
	}

	m.mu.Lock()
	var code protocol.RoomCode
	for i := 0; i <= roomCodeRetries; i++ {
		candidate, err := generateRoomCode()
		if err != nil {
			m.mu.Unlock()
			return Snapshot{}, protocol.NewError(protocol.ErrInternal, "failed to generate room code")
		}
		if _, exists := m.rooms[candidate]; !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		m.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrCodeExhaustion, "no room codes available")
	}

	now := time.Now()
	r := &Room{
		code:          code,
		name:          opts.Name,
		description:   opts.Description,
		creatorUserID: userID,
		maxPlayers:    maxPlayers,
		isPublic:      opts.IsPublic,
		password:      opts.Password,
		gamePool:      append([]protocol.GameType{}, protocol.KnownGameTypes...),
		players:       make(map[protocol.UserID]*Player),
		confessions:   make(map[protocol.UserID]*Confession),
		chat:          list.New(),
		createdAt:     now,
	}
	r.players[userID] = &Player{UserID: userID, Nickname: nickname, Connected: true, JoinedAt: now}
	r.playerOrder = append(r.playerOrder, userID)

	m.rooms[code] = r
	m.byUser[userID] = code
	m.mu.Unlock()

	r.mu.Lock()
	r.appendSystemLocked(fmt.Sprintf("%s created the room", nickname))
	snap := r.snapshotLocked()
	r.mu.Unlock()

	m.persist(r)
	return snap, nil
}

// JoinRoom adds userID to the room at code. Idempotent: a player already
// present gets the current snapshot back without a membership change
// (spec §4.4, §8).
func (m *Manager) JoinRoom(userID protocol.UserID, nickname string, code protocol.RoomCode, password string) (Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	if _, already := r.players[userID]; already {
		snap := r.snapshotLocked()
		r.mu.Unlock()
		return snap, nil
	}

	if r.password != "" && r.password != password {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrBadPassword, "incorrect room password")
	}
	if len(r.players) >= r.maxPlayers {
		r.mu.Unlock()
		return Snapshot{}, protocol.NewError(protocol.ErrFull, "room is at capacity")
	}

	now := time.Now()
	r.players[userID] = &Player{UserID: userID, Nickname: nickname, Connected: true, JoinedAt: now}
	r.playerOrder = append(r.playerOrder, userID)
	r.appendSystemLocked(fmt.Sprintf("%s joined the room", nickname))
	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.mu.Lock()
	m.byUser[userID] = code
	m.mu.Unlock()

	m.persist(r)
	m.broadcast(recipients, protocol.EventPlayerJoined, map[string]any{"room": snap, "userId": userID, "nickname": nickname})
	return snap, nil
}

// LeaveRoom removes userID from the room at code. When the last player
// leaves, the room is deactivated and its cache snapshot removed. Returns
// nil if the room was deactivated.
func (m *Manager) LeaveRoom(userID protocol.UserID, code protocol.RoomCode) (*Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	player, ok := r.players[userID]
	if !ok {
		r.mu.Unlock()
		return nil, protocol.NewError(protocol.ErrNotFound, "not a member of this room")
	}

	delete(r.players, userID)
	r.playerOrder = removeUserID(r.playerOrder, userID)
	delete(r.confessions, userID)
	r.appendSystemLocked(fmt.Sprintf("%s left the room", player.Nickname))

	empty := len(r.players) == 0
	snap := r.snapshotLocked()
	recipients := r.recipientsLocked()
	r.mu.Unlock()

	m.mu.Lock()
	delete(m.byUser, userID)
	if empty {
		delete(m.rooms, code)
	}
	m.mu.Unlock()

	m.broadcast(recipients, protocol.EventPlayerLeft, map[string]any{"userId": userID, "room": snap})

	if empty {
		if err := m.cache.Delete(context.Background(), cache.RoomStateKey(code)); err != nil {
			logging.Warn(context.Background(), "room: failed to delete cache snapshot on deactivation", zap.String("room", string(code)), zap.Error(err))
		}
		return nil, nil
	}

	m.persist(r)
	return &snap, nil
}

// GetRoomInfo returns the current snapshot for code.
func (m *Manager) GetRoomInfo(code protocol.RoomCode) (Snapshot, error) {
	r, err := m.lookup(code)
	if err != nil {
		return Snapshot{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(), nil
}

// ListRooms returns snapshots of every public room, for getRooms.
func (m *Manager) ListRooms() []Snapshot {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		r.mu.RLock()
		if r.isPublic {
			out = append(out, r.snapshotLocked())
		}
		r.mu.RUnlock()
	}
	return out
}

// RoomCodeForUser returns the room a user currently occupies, if any.
func (m *Manager) RoomCodeForUser(userID protocol.UserID) (protocol.RoomCode, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.byUser[userID]
	return code, ok
}

func (m *Manager) lookup(code protocol.RoomCode) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[code]
	if !ok {
		return nil, protocol.NewError(protocol.ErrNotFound, "room not found")
	}
	return r, nil
}

func (m *Manager) broadcast(recipients []protocol.UserID, event string, payload any) {
	if m.publisher == nil {
		return
	}
	env, err := protocol.Event(event, payload)
	if err != nil {
		logging.Error(context.Background(), "room: failed to build broadcast envelope", zap.String("event", event), zap.Error(err))
		return
	}
	m.publisher.PublishToUsers(recipients, env)
}

func (m *Manager) persist(r *Room) {
	r.mu.RLock()
	snap := r.snapshotLocked()
	code := r.code
	r.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		logging.Error(context.Background(), "room: failed to marshal snapshot for persistence", zap.String("room", string(code)), zap.Error(err))
		return
	}
	if err := m.cache.Set(context.Background(), cache.RoomStateKey(code), string(data), 24*time.Hour); err != nil {
		logging.Warn(context.Background(), "room: failed to persist snapshot", zap.String("room", string(code)), zap.Error(err))
	}
}

func (r *Room) snapshotLocked() Snapshot {
	players := make([]PlayerView, 0, len(r.playerOrder))
	for _, id := range r.playerOrder {
		p, ok := r.players[id]
		if !ok {
			continue
		}
		players = append(players, PlayerView{
			UserID:        p.UserID,
			Nickname:      p.Nickname,
			HasConfession: p.HasConfession,
			IsPlaying:     p.IsPlaying,
		})
	}
	return Snapshot{
		Code:          r.code,
		Name:          r.name,
		Description:   r.description,
		CreatorUserID: r.creatorUserID,
		MaxPlayers:    r.maxPlayers,
		IsPublic:      r.isPublic,
		HasPassword:   r.password != "",
		GamePool:      append([]protocol.GameType{}, r.gamePool...),
		Players:       players,
		CurrentGameID: r.currentGameID,
		CreatedAt:     r.createdAt,
	}
}

func (r *Room) recipientsLocked() []protocol.UserID {
	out := make([]protocol.UserID, 0, len(r.playerOrder))
	out = append(out, r.playerOrder...)
	return out
}

func removeUserID(s []protocol.UserID, target protocol.UserID) []protocol.UserID {
	out := s[:0]
	for _, id := range s {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
