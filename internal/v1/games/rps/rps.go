// Package rps implements the Rock-Paper-Scissors mini-game (spec §4.7.1):
// a single-round duel for exactly two players, or an N-player battle
// royale with lives, power-ups, and a round cap for three or more.
package rps

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/protocol"
)

// Choice is one of the canonical hand signs, extended with lizard/spock
// for games that start with five or more players.
type Choice string

const (
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
	ChoiceLizard   Choice = "lizard"
	ChoiceSpock    Choice = "spock"
)

// PowerUpKind is one of the battle-royale power-ups, capped at 3 per type.
type PowerUpKind string

const (
	PowerUpShield PowerUpKind = "shield"
	PowerUpPeek   PowerUpKind = "peek"
	PowerUpChange PowerUpKind = "change"
)

var allPowerUps = []PowerUpKind{PowerUpShield, PowerUpPeek, PowerUpChange}

const (
	maxPowerUpStack        = 3
	battleRoyaleStartLives = 3
	streakForPowerUp       = 3
	maxRounds              = 5
	extendedRulesetAt      = 5
)

type phase string

const (
	phaseAwaitingChoices phase = "awaiting_choices"
	phaseResolving       phase = "resolving"
	phaseEnded           phase = "ended"
)

type playerState struct {
	UserID     protocol.UserID
	Lives      int
	Eliminated bool
	Shielded   bool
	PowerUps   map[PowerUpKind]int
	Streak     int
	Score      int
	Choice     Choice
}

// Instance is a single RPS game, either duel or battle-royale mode
// depending on the player count at construction.
type Instance struct {
	mu       sync.Mutex
	order    []protocol.UserID
	players  map[protocol.UserID]*playerState
	battle   bool
	extended bool
	round    int
	phase    phase
	cb       games.Callbacks
	ended    bool
}

// New builds an RPS instance (games.Constructor). Two players run the
// single-round duel; three or more run battle-royale (spec §4.7.1).
func New(players []protocol.UserID, cb games.Callbacks) games.Instance {
	inst := &Instance{
		order:   append([]protocol.UserID{}, players...),
		players: make(map[protocol.UserID]*playerState, len(players)),
		battle:  len(players) >= 3,
		phase:   phaseAwaitingChoices,
		cb:      cb,
	}
	inst.extended = inst.battle && len(players) >= extendedRulesetAt
	for _, id := range players {
		inst.players[id] = &playerState{
			UserID: id,
			Lives:  battleRoyaleStartLives,
			PowerUps: map[PowerUpKind]int{
				PowerUpShield: 0,
				PowerUpPeek:   0,
				PowerUpChange: 0,
			},
		}
	}
	return inst
}

type choicePayload struct {
	Value Choice `json:"value"`
}

type usePowerUpPayload struct {
	Kind PowerUpKind     `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ProcessAction handles the three action kinds: choice, usePowerUp, ready
// (spec §4.7.1's processAction variants).
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

	switch kind {
	case "choice":
		return g.handleChoice(p, payload)
	case "usePowerUp":
		return g.handleUsePowerUp(p, payload)
	case "ready":
		return nil
	default:
		return protocol.NewError(protocol.ErrValidation, fmt.Sprintf("unknown action kind %q", kind))
	}
}

func (g *Instance) handleChoice(p *playerState, payload json.RawMessage) error {
	if g.phase != phaseAwaitingChoices {
		return protocol.NewError(protocol.ErrValidation, "choices are not currently accepted")
	}
	if p.Eliminated {
		return protocol.NewError(protocol.ErrValidation, "eliminated players cannot submit a choice")
	}
	var in choicePayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return protocol.NewError(protocol.ErrValidation, "malformed choice payload")
	}
	if !g.isValidChoice(in.Value) {
		return protocol.NewError(protocol.ErrValidation, "unsupported choice for this game's ruleset")
	}
	p.Choice = in.Value

	if g.allActiveSubmitted() {
		g.resolveLocked()
	}
	return nil
}

func (g *Instance) handleUsePowerUp(p *playerState, payload json.RawMessage) error {
	if !g.battle {
		return protocol.NewError(protocol.ErrValidation, "power-ups are only available in battle-royale mode")
	}
	var in usePowerUpPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return protocol.NewError(protocol.ErrValidation, "malformed power-up payload")
	}
	if p.PowerUps[in.Kind] <= 0 {
		return protocol.NewError(protocol.ErrValidation, "no charges remaining for that power-up")
	}
	p.PowerUps[in.Kind]--

	switch in.Kind {
	case PowerUpShield:
		p.Shielded = true
	case PowerUpPeek, PowerUpChange:
		// Peek and change only consume a charge (the decrement above):
		// neither reveals an opponent's choice nor alters any submitted
		// choice.
	default:
		return protocol.NewError(protocol.ErrValidation, "unknown power-up kind")
	}
	g.emitUpdate()
	return nil
}

func (g *Instance) isValidChoice(c Choice) bool {
	switch c {
	case ChoiceRock, ChoicePaper, ChoiceScissors:
		return true
	case ChoiceLizard, ChoiceSpock:
		return g.extended
	default:
		return false
	}
}

func (g *Instance) allActiveSubmitted() bool {
	for _, id := range g.order {
		p := g.players[id]
		if p.Eliminated {
			continue
		}
		if p.Choice == "" {
			return false
		}
	}
	return true
}

// beats reports 1 if a beats b, -1 if b beats a, 0 for a tie, under the
// canonical 3-cycle or the extended 5-cycle (spec §4.7.1).
func beats(a, b Choice) int {
	if a == b {
		return 0
	}
	wins := map[Choice]map[Choice]bool{
		ChoiceRock:     {ChoiceScissors: true, ChoiceLizard: true},
		ChoicePaper:    {ChoiceRock: true, ChoiceSpock: true},
		ChoiceScissors: {ChoicePaper: true, ChoiceLizard: true},
		ChoiceLizard:   {ChoicePaper: true, ChoiceSpock: true},
		ChoiceSpock:    {ChoiceRock: true, ChoiceScissors: true},
	}
	if wins[a][b] {
		return 1
	}
	return -1
}

func (g *Instance) resolveLocked() {
	g.phase = phaseResolving

	if !g.battle {
		g.resolveDuelLocked()
		return
	}
	g.resolveBattleRoyaleLocked()
}

func (g *Instance) resolveDuelLocked() {
	a, b := g.players[g.order[0]], g.players[g.order[1]]
	result := beats(a.Choice, b.Choice)
	if result == 0 {
		a.Choice, b.Choice = "", ""
		g.phase = phaseAwaitingChoices
		g.emitUpdateWith(map[string]any{"tie": true})
		return
	}

	winner, loser := a, b
	if result < 0 {
		winner, loser = b, a
	}
	winner.Score++
	g.endLocked(games.Result{
		Winner: winner.UserID,
		Rankings: []games.RankingEntry{
			{UserID: winner.UserID, Rank: 1, Score: winner.Score},
			{UserID: loser.UserID, Rank: 2, Score: loser.Score},
		},
	})
}

func (g *Instance) resolveBattleRoyaleLocked() {
	active := make([]*playerState, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		if !p.Eliminated {
			active = append(active, p)
		}
	}

	wins := make(map[protocol.UserID]int, len(active))
	losses := make(map[protocol.UserID]int, len(active))
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			r := beats(active[i].Choice, active[j].Choice)
			switch {
			case r > 0:
				wins[active[i].UserID]++
				losses[active[j].UserID]++
			case r < 0:
				wins[active[j].UserID]++
				losses[active[i].UserID]++
			}
		}
	}

	for _, p := range active {
		p.Score += wins[p.UserID]
		if losses[p.UserID] > wins[p.UserID] {
			if p.Shielded {
				p.Shielded = false
			} else {
				p.Lives--
				p.Streak = 0
				if p.Lives <= 0 {
					p.Eliminated = true
				}
			}
		} else {
			p.Streak++
			if p.Streak >= streakForPowerUp {
				g.grantRandomPowerUp(p)
				p.Streak = 0
			}
		}
		p.Choice = ""
	}
	g.round++

	remaining := g.remainingLocked()
	if len(remaining) <= 1 || g.round >= maxRounds {
		g.endBattleRoyaleLocked(remaining)
		return
	}

	g.phase = phaseAwaitingChoices
	g.emitUpdate()
}

func (g *Instance) grantRandomPowerUp(p *playerState) {
	kind := allPowerUps[rand.Intn(len(allPowerUps))]
	if p.PowerUps[kind] < maxPowerUpStack {
		p.PowerUps[kind]++
	}
}

func (g *Instance) remainingLocked() []*playerState {
	out := make([]*playerState, 0, len(g.order))
	for _, id := range g.order {
		if !g.players[id].Eliminated {
			out = append(out, g.players[id])
		}
	}
	return out
}

func (g *Instance) endBattleRoyaleLocked(remaining []*playerState) {
	ranked := make([]*playerState, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].Lives != ranked[j].Lives {
			return ranked[i].Lives > ranked[j].Lives
		}
		return ranked[i].Streak > ranked[j].Streak
	})

	rankings := make([]games.RankingEntry, len(ranked))
	rank := 1
	for i, p := range ranked {
		if i > 0 {
			prev := ranked[i-1]
			if p.Score != prev.Score || p.Lives != prev.Lives || p.Streak != prev.Streak {
				rank = i + 1
			}
		}
		rankings[i] = games.RankingEntry{UserID: p.UserID, Rank: rank, Score: p.Score}
	}

	var winner protocol.UserID
	if len(remaining) == 1 {
		winner = remaining[0].UserID
	} else if len(rankings) > 0 && rankings[0].Rank == 1 {
		count := 0
		for _, r := range rankings {
			if r.Rank == 1 {
				count++
			}
		}
		if count == 1 {
			winner = rankings[0].UserID
		}
		// count > 1: shared top rank, no single winner (spec §9's
		// simultaneous-elimination open question decision).
	}

	g.endLocked(games.Result{Winner: winner, Rankings: rankings})
}

func (g *Instance) endLocked(result games.Result) {
	g.ended = true
	g.phase = phaseEnded
	if g.cb.OnEnd != nil {
		g.cb.OnEnd(result)
	}
}

func (g *Instance) emitUpdate() {
	g.emitUpdateWith(nil)
}

func (g *Instance) emitUpdateWith(extra map[string]any) {
	if g.cb.OnStateUpdate == nil {
		return
	}
	g.cb.OnStateUpdate(g.stateLocked(extra))
}

type playerSnapshot struct {
	UserID       protocol.UserID `json:"userId"`
	Lives        int             `json:"lives"`
	Eliminated   bool            `json:"eliminated"`
	Score        int             `json:"score"`
	Streak       int             `json:"streak"`
	PowerUps     map[string]int  `json:"powerUps"`
	HasSubmitted bool            `json:"hasSubmitted"`
}

type stateView struct {
	Phase    phase            `json:"phase"`
	Round    int              `json:"round"`
	Battle   bool             `json:"battleRoyale"`
	Extended bool             `json:"extended"`
	Players  []playerSnapshot `json:"players"`
	Extra    map[string]any   `json:"extra,omitempty"`
}

func (g *Instance) stateLocked(extra map[string]any) stateView {
	players := make([]playerSnapshot, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		powerUps := make(map[string]int, len(p.PowerUps))
		for k, v := range p.PowerUps {
			powerUps[string(k)] = v
		}
		players = append(players, playerSnapshot{
			UserID:       p.UserID,
			Lives:        p.Lives,
			Eliminated:   p.Eliminated,
			Score:        p.Score,
			Streak:       p.Streak,
			PowerUps:     powerUps,
			HasSubmitted: p.Choice != "",
		})
	}
	return stateView{
		Phase:    g.phase,
		Round:    g.round,
		Battle:   g.battle,
		Extended: g.extended,
		Players:  players,
		Extra:    extra,
	}
}

// State returns the current public view (games.Instance).
func (g *Instance) State() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(nil)
}

// Cleanup releases no external resources; RPS holds no timers (games.Instance).
func (g *Instance) Cleanup() {}
