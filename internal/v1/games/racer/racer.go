// Package racer implements the continuous, tick-driven racing mini-game
// (spec §4.7.2): up to 8 players on 4 lanes racing to a fixed track
// length, driven by a sustained input action and a dedicated tick loop.
package racer

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/protocol"
)

const (
	maxPlayers         = 8
	laneCount          = 4
	trackLength        = 500.0
	maxSpeed           = 5.0
	boostSpeed         = 8.0
	acceleration       = 3.0
	brakeForce         = 5.0
	friction           = 1.0
	boostDuration      = 2 * time.Second
	boostCharges       = 3
	laneChangeCooldown = 300 * time.Millisecond
	countdownStart     = 3
	countdownStep      = 1 * time.Second
)

type phase string

const (
	phaseCountdown phase = "countdown"
	phaseRunning   phase = "running"
	phaseEnded     phase = "ended"
)

type inputs struct {
	Accelerate bool `json:"accelerate"`
	Brake      bool `json:"brake"`
	Left       bool `json:"left"`
	Right      bool `json:"right"`
	Boost      bool `json:"boost"`
}

type playerState struct {
	UserID         protocol.UserID
	Lane           int
	Position       float64
	Speed          float64
	Inputs         inputs
	BoostCharges   int
	BoostActive    bool
	boostEndsAt    time.Time
	lastLaneChange time.Time
	Finished       bool
	finishedAt     time.Time
	Disconnected   bool
}

// Instance is a single racer game. It implements games.Ticker: the
// scheduler drives it at 60 Hz regardless of phase (spec §4.6's "only
// games that need continuous simulation open a tick").
type Instance struct {
	mu              sync.Mutex
	order           []protocol.UserID
	players         map[protocol.UserID]*playerState
	phase           phase
	countdownValue  int
	countdownAccum  time.Duration
	tickCount       int
	startTime       time.Time
	cb              games.Callbacks
	ended           bool
}

// New builds a racer instance (games.Constructor). Lanes are assigned
// round-robin from the track's 4 discrete lanes.
func New(players []protocol.UserID, cb games.Callbacks) games.Instance {
	g := &Instance{
		order:          append([]protocol.UserID{}, players...),
		players:        make(map[protocol.UserID]*playerState, len(players)),
		phase:          phaseCountdown,
		countdownValue: countdownStart,
		cb:             cb,
	}
	for i, id := range players {
		g.players[id] = &playerState{
			UserID:       id,
			Lane:         i % laneCount,
			BoostCharges: boostCharges,
		}
	}
	return g
}

type inputPayload struct {
	Inputs inputs `json:"inputs"`
}

// ProcessAction stores the latest sustained input booleans for the
// sending player; the tick loop reads them on its next pass (spec
// §4.7.2: "the server stores the latest booleans").
func (g *Instance) ProcessAction(playerID protocol.UserID, kind string, payload json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return protocol.NewError(protocol.ErrValidation, "game has already ended")
	}
	p, ok := g.players[playerID]
	if !ok {
		return protocol.NewError(protocol.ErrNotInRoom, "not a participant in this game")
	}
	if kind != "input" {
		return protocol.NewError(protocol.ErrValidation, "unknown action kind")
	}
	var in inputPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return protocol.NewError(protocol.ErrValidation, "malformed input payload")
	}
	p.Inputs = in.Inputs
	return nil
}

// Tick advances the simulation by dt. During countdown it only decrements
// the countdown; during running it integrates physics for every
// non-finished player (spec §4.7.2).
func (g *Instance) Tick(dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return
	}

	switch g.phase {
	case phaseCountdown:
		g.tickCountdownLocked(dt)
	case phaseRunning:
		g.tickRunningLocked(dt)
	}
}

func (g *Instance) tickCountdownLocked(dt time.Duration) {
	g.countdownAccum += dt
	advanced := false
	for g.countdownAccum >= countdownStep {
		g.countdownAccum -= countdownStep
		g.countdownValue--
		advanced = true
		if g.countdownValue <= 0 {
			g.countdownValue = 0
			g.phase = phaseRunning
			g.startTime = time.Now()
			break
		}
	}
	if advanced {
		g.emitUpdate()
	}
}

func (g *Instance) tickRunningLocked(dt time.Duration) {
	seconds := dt.Seconds()
	now := time.Now()
	var winner *playerState

	for _, id := range g.order {
		p := g.players[id]
		if p.Finished {
			continue
		}
		g.integratePlayerLocked(p, seconds, now)
		if p.Position >= trackLength {
			p.Finished = true
			p.finishedAt = now
			if winner == nil {
				winner = p
			}
		}
	}

	g.tickCount++
	if g.tickCount%3 == 0 {
		g.emitUpdate()
	}

	if winner != nil {
		g.endLocked(winner)
	}
}

func (g *Instance) integratePlayerLocked(p *playerState, seconds float64, now time.Time) {
	if p.BoostActive && now.After(p.boostEndsAt) {
		p.BoostActive = false
	}
	if p.Inputs.Boost && !p.BoostActive && p.BoostCharges > 0 {
		p.BoostCharges--
		p.BoostActive = true
		p.boostEndsAt = now.Add(boostDuration)
	}

	clamp := maxSpeed
	if p.BoostActive {
		clamp = boostSpeed
	}

	switch {
	case p.Inputs.Brake:
		p.Speed -= brakeForce * seconds
	case p.Inputs.Accelerate:
		p.Speed += acceleration * seconds
	default:
		p.Speed -= friction * seconds
	}
	if p.Speed < 0 {
		p.Speed = 0
	}
	if p.Speed > clamp {
		p.Speed = clamp
	}

	if now.Sub(p.lastLaneChange) >= laneChangeCooldown {
		if p.Inputs.Left && p.Lane > 0 {
			p.Lane--
			p.lastLaneChange = now
		} else if p.Inputs.Right && p.Lane < laneCount-1 {
			p.Lane++
			p.lastLaneChange = now
		}
	}

	p.Position += p.Speed * seconds
}

func (g *Instance) endLocked(winner *playerState) {
	g.ended = true
	g.phase = phaseEnded

	ranked := make([]*playerState, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Position != ranked[j].Position {
			return ranked[i].Position > ranked[j].Position
		}
		if ranked[i].Finished != ranked[j].Finished {
			return ranked[i].Finished
		}
		return ranked[i].finishedAt.Before(ranked[j].finishedAt)
	})

	rankings := make([]games.RankingEntry, len(ranked))
	for i, p := range ranked {
		rankings[i] = games.RankingEntry{UserID: p.UserID, Rank: i + 1, Score: int(p.Position)}
	}

	if g.cb.OnEnd != nil {
		g.cb.OnEnd(games.Result{Winner: winner.UserID, Rankings: rankings})
	}
}

// PlayerDisconnected marks a player's presence for the per-tick fan-out;
// their last held inputs keep being simulated until reconnect or the
// scheduler's disconnect-grace sweep force-ends the game (games.Disconnectable).
func (g *Instance) PlayerDisconnected(playerID protocol.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[playerID]; ok {
		p.Disconnected = true
	}
}

// PlayerReconnected clears the disconnected marker (games.Disconnectable).
func (g *Instance) PlayerReconnected(playerID protocol.UserID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[playerID]; ok {
		p.Disconnected = false
	}
}

func (g *Instance) emitUpdate() {
	if g.cb.OnStateUpdate == nil {
		return
	}
	g.cb.OnStateUpdate(g.stateLocked())
}

type playerSnapshot struct {
	UserID       protocol.UserID `json:"userId"`
	Lane         int             `json:"lane"`
	Position     float64         `json:"position"`
	Speed        float64         `json:"speed"`
	BoostActive  bool            `json:"boostActive"`
	BoostCharges int             `json:"boostCharges"`
	Finished     bool            `json:"finished"`
	Disconnected bool            `json:"disconnected"`
}

type stateView struct {
	Phase          phase            `json:"phase"`
	CountdownValue int              `json:"countdownValue,omitempty"`
	TrackLength    float64          `json:"trackLength"`
	Players        []playerSnapshot `json:"players"`
}

func (g *Instance) stateLocked() stateView {
	players := make([]playerSnapshot, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		players = append(players, playerSnapshot{
			UserID:       p.UserID,
			Lane:         p.Lane,
			Position:     p.Position,
			Speed:        p.Speed,
			BoostActive:  p.BoostActive,
			BoostCharges: p.BoostCharges,
			Finished:     p.Finished,
			Disconnected: p.Disconnected,
		})
	}
	return stateView{
		Phase:          g.phase,
		CountdownValue: g.countdownValue,
		TrackLength:    trackLength,
		Players:        players,
	}
}

// State returns the current public view (games.Instance).
func (g *Instance) State() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

// Cleanup releases no external resources; the scheduler owns the tick
// timer that drives Tick (games.Instance).
func (g *Instance) Cleanup() {}
