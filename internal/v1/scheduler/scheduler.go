// Package scheduler implements the C6 game scheduler: it constructs mini-game
// instances, serializes every action and tick through one executor goroutine
// per live game, fans out state updates and end results to the room, and
// sweeps idle/expired/abandoned games (spec §4.6, §5).
package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/logging"
	"github.com/confessionparty/server/internal/v1/metrics"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/confessionparty/server/internal/v1/room"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	actionQueueDepth   = 100
	actionTimeout      = 5 * time.Second
	maxActionRetries   = 3
	actionLogCap       = 100
	tickRate           = 60
	idleTimeout        = 5 * time.Minute
	maxGameDuration    = 30 * time.Minute
	disconnectGrace    = 30 * time.Second
	sweepInterval      = 1 * time.Minute
	gameSnapshotTTL    = 4 * time.Hour
)

// Publisher delivers envelopes to the attachments of a set of users. Mirrors
// room.Publisher's shape so the scheduler doesn't have to import transport
// to talk to it; implemented by internal/v1/transport.Hub.
type Publisher interface {
	PublishToUsers(userIDs []protocol.UserID, env protocol.Envelope)
}

// Registry maps a tagged game-type identifier to the constructor that
// builds it. The scheduler is the sole place in the codebase that performs
// this string-to-constructor mapping (spec §9's explicit-tagged-variant
// redesign note); everything downstream only ever sees games.Instance.
type Registry map[protocol.GameType]games.Constructor

// DefaultRegistry wires the three built-in mini-games.
func DefaultRegistry(rps, racer, drawguess games.Constructor) Registry {
	return Registry{
		protocol.GameTypeRPS:       rps,
		protocol.GameTypeRacer:     racer,
		protocol.GameTypeDrawGuess: drawguess,
	}
}

type gameEntry struct {
	id         protocol.GameID
	gameType   protocol.GameType
	roomCode   protocol.RoomCode
	players    []protocol.UserID
	instance   games.Instance
	ticking    bool
	queue      chan queueItem
	stop       chan struct{}
	createdAt  time.Time
	lastSnapshot json.RawMessage

	mu            sync.Mutex
	lastActivity  time.Time
	ended         bool
	disconnected  map[protocol.UserID]time.Time
	actionLog     []loggedAction
}

type loggedAction struct {
	PlayerID    protocol.UserID
	Kind        string
	CommittedAt time.Time
}

type queueItem struct {
	isTick     bool
	dt         time.Duration
	playerID   protocol.UserID
	actionKind string
	payload    json.RawMessage
	retries    int
}

// Scheduler is the C6 component. One Scheduler instance owns every live
// game for the process.
type Scheduler struct {
	registry  Registry
	rooms     *room.Manager
	cache     *cache.Store
	publisher Publisher

	mu         sync.RWMutex
	byGameID   map[protocol.GameID]*gameEntry
	byRoomCode map[protocol.RoomCode]protocol.GameID
	byPlayerID map[protocol.UserID]protocol.GameID

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// New builds a Scheduler. Call Run to start the background cleanup sweeper.
func New(registry Registry, rooms *room.Manager, store *cache.Store, publisher Publisher) *Scheduler {
	return &Scheduler{
		registry:   registry,
		rooms:      rooms,
		cache:      store,
		publisher:  publisher,
		byGameID:   make(map[protocol.GameID]*gameEntry),
		byRoomCode: make(map[protocol.RoomCode]protocol.GameID),
		byPlayerID: make(map[protocol.UserID]protocol.GameID),
		sweepStop:  make(chan struct{}),
	}
}

// Run starts the once-per-minute idle/elapsed/disconnect-grace sweeper
// (spec §4.6, §5). Safe to call at most once; a second call is a no-op.
func (s *Scheduler) Run() {
	s.sweepOnce.Do(func() {
		go s.sweepLoop()
	})
}

// Stop halts the cleanup sweeper. It does not tear down in-flight games.
func (s *Scheduler) Stop() {
	close(s.sweepStop)
}

// CreateGame constructs a new instance of gameType for players in roomCode,
// registers it in the three lookup maps, and starts its executor (and tick
// loop, if the instance implements games.Ticker). Called by the matchmaker
// after it has selected a type and a ready-player set (spec §4.5, §4.6).
func (s *Scheduler) CreateGame(gameType protocol.GameType, roomCode protocol.RoomCode, players []protocol.UserID) (protocol.GameID, error) {
	constructor, ok := s.registry[gameType]
	if !ok {
		return "", protocol.NewError(protocol.ErrNoGamesAvailable, "unknown game type")
	}

	id := protocol.GameID(uuid.NewString())
	now := time.Now()
	entry := &gameEntry{
		id:           id,
		gameType:     gameType,
		roomCode:     roomCode,
		players:      append([]protocol.UserID{}, players...),
		queue:        make(chan queueItem, actionQueueDepth),
		stop:         make(chan struct{}),
		createdAt:    now,
		lastActivity: now,
		disconnected: make(map[protocol.UserID]time.Time),
	}

	cb := games.Callbacks{
		OnStateUpdate: func(state any) { s.handleStateUpdate(entry, state) },
		OnEnd:         func(result games.Result) { s.handleEnd(entry, result) },
		OnChatMessage: func(authorUserID protocol.UserID, nickname, text string) {
			if err := s.rooms.AppendGameMessage(entry.roomCode, authorUserID, nickname, text); err != nil {
				logging.Warn(context.Background(), "scheduler: failed to append game chat message",
					zap.String("game_id", string(entry.id)), zap.Error(err))
			}
		},
	}
	entry.instance = constructor(players, cb)
	_, entry.ticking = entry.instance.(games.Ticker)

	s.mu.Lock()
	s.byGameID[id] = entry
	s.byRoomCode[roomCode] = id
	for _, p := range players {
		s.byPlayerID[p] = id
	}
	s.mu.Unlock()

	metrics.ActiveGames.WithLabelValues(string(gameType)).Inc()

	if err := s.rooms.SetCurrentGame(roomCode, id, players); err != nil {
		logging.Warn(context.Background(), "scheduler: failed to link room to new game", zap.String("game_id", string(id)), zap.Error(err))
	}

	go s.executorLoop(entry)
	if entry.ticking {
		go s.tickLoop(entry)
	}

	s.persistSnapshot(entry, entry.instance.State())
	return id, nil
}

// GameIDForPlayer returns the game a player currently belongs to, if any.
func (s *Scheduler) GameIDForPlayer(playerID protocol.UserID) (protocol.GameID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPlayerID[playerID]
	return id, ok
}

// GameIDForRoom returns the live game linked to a room, if any.
func (s *Scheduler) GameIDForRoom(roomCode protocol.RoomCode) (protocol.GameID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byRoomCode[roomCode]
	return id, ok
}

func (s *Scheduler) lookup(id protocol.GameID) (*gameEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byGameID[id]
	return e, ok
}

func (s *Scheduler) unregister(entry *gameEntry) {
	s.mu.Lock()
	delete(s.byGameID, entry.id)
	if s.byRoomCode[entry.roomCode] == entry.id {
		delete(s.byRoomCode, entry.roomCode)
	}
	for _, p := range entry.players {
		if s.byPlayerID[p] == entry.id {
			delete(s.byPlayerID, p)
		}
	}
	s.mu.Unlock()

	metrics.ActiveGames.WithLabelValues(string(entry.gameType)).Dec()
	close(entry.stop)
}
