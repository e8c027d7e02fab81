// Package drawguess implements the asymmetric-turn Drawing & Guessing
// mini-game (spec §4.7.3): a round-robin drawer sketches a secret word
// while the rest of the table race to guess it before a 60-second round
// timer expires.
package drawguess

import (
	"context"
	"encoding/json"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/confessionparty/server/internal/v1/cache"
	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/protocol"
)

// wordCooldown is how long a word stays off the table server-wide after an
// instance picks it, spread across every concurrent Draw & Guess game via
// the shared cache.WordKey entry rather than just this instance's own
// usedWords set.
const wordCooldown = 10 * time.Minute

// wordCache is the optional C3 handle used to keep a word off the table
// across concurrent instances server-wide. Set once at startup via
// SetWordCache; nil (the zero value, same as in tests) just falls back to
// per-instance-only dedup.
var wordCache *cache.Store

// SetWordCache wires the shared cache store used to coordinate word
// selection across concurrently running instances. Called once from
// cmd/v1/server's wiring.
func SetWordCache(store *cache.Store) {
	wordCache = store
}

const (
	roundDuration    = 60 * time.Second
	revealPause      = 3 * time.Second
	baseGuessScore   = 100
	speedBonus       = 50
	speedBonusWindow = 30 * time.Second
	drawerAwardScore = 10
	maxRecentGuesses = 20
)

type phase string

const (
	phaseDrawing     phase = "drawing"
	phaseRevealPause phase = "reveal_pause"
	phaseEnded       phase = "ended"
)

type playerState struct {
	UserID   protocol.UserID
	Score    int
	Guessed  bool
}

type guessEntry struct {
	PlayerID protocol.UserID `json:"playerId"`
	Text     string          `json:"text"`
	Correct  bool            `json:"correct"`
}

// Instance is a single Draw & Guess game; rounds = playerCount so every
// player draws exactly once (spec §4.7.3).
type Instance struct {
	mu            sync.Mutex
	order         []protocol.UserID
	players       map[protocol.UserID]*playerState
	round         int
	word          string
	hint          string
	drawing       []json.RawMessage
	roundElapsed  time.Duration
	revealElapsed time.Duration
	phase         phase
	recentGuesses []guessEntry
	cb            games.Callbacks
	ended         bool
	usedWords     map[string]bool
}

// New builds a Draw & Guess instance (games.Constructor).
func New(players []protocol.UserID, cb games.Callbacks) games.Instance {
	g := &Instance{
		order:     append([]protocol.UserID{}, players...),
		players:   make(map[protocol.UserID]*playerState, len(players)),
		cb:        cb,
		usedWords: make(map[string]bool),
	}
	for _, id := range players {
		g.players[id] = &playerState{UserID: id}
	}
	g.startRoundLocked()
	return g
}

func (g *Instance) drawer() protocol.UserID {
	return g.order[g.round%len(g.order)]
}

func (g *Instance) startRoundLocked() {
	g.word = g.pickWordLocked()
	g.hint = maskWord(g.word)
	g.drawing = nil
	g.roundElapsed = 0
	g.recentGuesses = nil
	for _, p := range g.players {
		p.Guessed = false
	}
	g.phase = phaseDrawing
	g.emitUpdate()
}

func (g *Instance) pickWordLocked() string {
	if len(g.usedWords) >= len(allWords) {
		g.usedWords = make(map[string]bool)
	}
	// Bounded: if the whole vocabulary is on cooldown server-wide, fall
	// back to this instance's own dedup rather than spin forever.
	for attempt := 0; attempt < len(allWords)*2; attempt++ {
		candidate := allWords[rand.Intn(len(allWords))]
		if g.usedWords[candidate] {
			continue
		}
		if wordCache != nil {
			if _, err := wordCache.Get(context.Background(), cache.WordKey(candidate)); err == nil {
				continue
			}
		}
		g.usedWords[candidate] = true
		if wordCache != nil {
			_ = wordCache.Set(context.Background(), cache.WordKey(candidate), "1", wordCooldown)
		}
		return candidate
	}
	for {
		candidate := allWords[rand.Intn(len(allWords))]
		if !g.usedWords[candidate] {
			g.usedWords[candidate] = true
			return candidate
		}
	}
}

func maskWord(word string) string {
	var b strings.Builder
	first := true
	for _, r := range word {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		if unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

type drawPayload struct {
	Stroke json.RawMessage `json:"stroke"`
}

type guessPayload struct {
	Text string `json:"text"`
}

// ProcessAction handles draw, clear, and guess (spec §4.7.3).
func (g *Instance) ProcessAction(playerID protocol.UserID, kind string, payload json.RawMessage) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return protocol.NewError(protocol.ErrValidation, "game has already ended")
	}
	if _, ok := g.players[playerID]; !ok {
		return protocol.NewError(protocol.ErrNotInRoom, "not a participant in this game")
	}
	if g.phase != phaseDrawing {
		return protocol.NewError(protocol.ErrValidation, "the round is not currently accepting actions")
	}

	switch kind {
	case "draw":
		return g.handleDraw(playerID, payload)
	case "clear":
		return g.handleClear(playerID)
	case "guess":
		return g.handleGuess(playerID, payload)
	default:
		return protocol.NewError(protocol.ErrValidation, "unknown action kind")
	}
}

func (g *Instance) handleDraw(playerID protocol.UserID, payload json.RawMessage) error {
	if playerID != g.drawer() {
		return protocol.NewError(protocol.ErrValidation, "only the drawer may draw")
	}
	var in drawPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return protocol.NewError(protocol.ErrValidation, "malformed draw payload")
	}
	g.drawing = append(g.drawing, in.Stroke)
	g.emitUpdate()
	return nil
}

func (g *Instance) handleClear(playerID protocol.UserID) error {
	if playerID != g.drawer() {
		return protocol.NewError(protocol.ErrValidation, "only the drawer may clear")
	}
	g.drawing = nil
	g.emitUpdate()
	return nil
}

func (g *Instance) handleGuess(playerID protocol.UserID, payload json.RawMessage) error {
	if playerID == g.drawer() {
		return protocol.NewError(protocol.ErrValidation, "the drawer cannot guess")
	}
	p := g.players[playerID]
	if p.Guessed {
		return protocol.NewError(protocol.ErrValidation, "already guessed correctly this round")
	}
	var in guessPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return protocol.NewError(protocol.ErrValidation, "malformed guess payload")
	}
	text := strings.TrimSpace(in.Text)
	correct := strings.EqualFold(text, g.word)

	g.recentGuesses = append(g.recentGuesses, guessEntry{PlayerID: playerID, Text: text, Correct: correct})
	if len(g.recentGuesses) > maxRecentGuesses {
		g.recentGuesses = g.recentGuesses[len(g.recentGuesses)-maxRecentGuesses:]
	}

	if !correct {
		g.emitUpdate()
		return nil
	}

	award := baseGuessScore
	if g.roundElapsed < speedBonusWindow {
		award += speedBonus
	}
	p.Score += award
	p.Guessed = true
	g.players[g.drawer()].Score += drawerAwardScore

	if g.allGuessedLocked() {
		g.endRoundLocked()
		return nil
	}
	g.emitUpdate()
	return nil
}

func (g *Instance) allGuessedLocked() bool {
	for id, p := range g.players {
		if id == g.drawer() {
			continue
		}
		if !p.Guessed {
			return false
		}
	}
	return true
}

// Tick advances the round timer and the post-reveal pause (spec §4.7.3);
// Instance implements games.Ticker so the scheduler can drive both
// without a separate per-game timer goroutine.
func (g *Instance) Tick(dt time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return
	}
	switch g.phase {
	case phaseDrawing:
		g.roundElapsed += dt
		if g.roundElapsed >= roundDuration {
			g.endRoundLocked()
		}
	case phaseRevealPause:
		g.revealElapsed += dt
		if g.revealElapsed >= revealPause {
			g.advanceLocked()
		}
	}
}

func (g *Instance) endRoundLocked() {
	g.phase = phaseRevealPause
	g.revealElapsed = 0
	drawer := g.drawer()
	g.emitUpdateWith(map[string]any{"revealedWord": g.word, "drawer": drawer})
	if g.cb.OnChatMessage != nil {
		g.cb.OnChatMessage(drawer, "", string(drawer)+" was drawing \""+g.word+"\"")
	}
}

func (g *Instance) advanceLocked() {
	g.round++
	if g.round >= len(g.order) {
		g.endGameLocked()
		return
	}
	g.startRoundLocked()
}

func (g *Instance) endGameLocked() {
	g.ended = true
	g.phase = phaseEnded

	ranked := make([]*playerState, 0, len(g.order))
	for _, id := range g.order {
		ranked = append(ranked, g.players[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	rankings := make([]games.RankingEntry, len(ranked))
	rank := 1
	for i, p := range ranked {
		if i > 0 && p.Score != ranked[i-1].Score {
			rank = i + 1
		}
		rankings[i] = games.RankingEntry{UserID: p.UserID, Rank: rank, Score: p.Score}
	}

	var winner protocol.UserID
	if len(rankings) > 0 && rankings[0].Rank == 1 {
		top := 0
		for _, r := range rankings {
			if r.Rank == 1 {
				top++
			}
		}
		if top == 1 {
			winner = rankings[0].UserID
		}
	}

	if g.cb.OnEnd != nil {
		g.cb.OnEnd(games.Result{Winner: winner, Rankings: rankings})
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
	UserID  protocol.UserID `json:"userId"`
	Score   int             `json:"score"`
	Guessed bool            `json:"guessed"`
}

// stateView is the canonical, currentWord-populated state. Fan-out goes
// through ProjectFor so only the drawer's recipient copy keeps the word
// (spec §9's per-recipient projection note).
type stateView struct {
	Phase        phase            `json:"phase"`
	Round        int              `json:"round"`
	TotalRounds  int              `json:"totalRounds"`
	Drawer       protocol.UserID  `json:"drawer"`
	CurrentWord  string           `json:"currentWord,omitempty"`
	WordHint     string           `json:"wordHint"`
	Drawing      []json.RawMessage `json:"drawing"`
	RoundElapsed float64          `json:"roundElapsedSeconds"`
	Players      []playerSnapshot `json:"players"`
	RecentGuesses []guessEntry    `json:"recentGuesses,omitempty"`
	Extra        map[string]any   `json:"extra,omitempty"`
}

func (g *Instance) stateLocked(extra map[string]any) stateView {
	players := make([]playerSnapshot, 0, len(g.order))
	for _, id := range g.order {
		p := g.players[id]
		players = append(players, playerSnapshot{UserID: p.UserID, Score: p.Score, Guessed: p.Guessed})
	}
	return stateView{
		Phase:         g.phase,
		Round:         g.round,
		TotalRounds:   len(g.order),
		Drawer:        g.drawer(),
		CurrentWord:   g.word,
		WordHint:      g.hint,
		Drawing:       g.drawing,
		RoundElapsed:  g.roundElapsed.Seconds(),
		Players:       players,
		RecentGuesses: g.recentGuesses,
		Extra:         extra,
	}
}

// State returns the canonical (drawer-visible) view (games.Instance). The
// scheduler calls ProjectFor for every other recipient.
func (g *Instance) State() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked(nil)
}

// ProjectFor nulls out CurrentWord for everyone except the current drawer
// (games.Projector; spec §4.6, §9). Pure: state is a value already produced
// by State or OnStateUpdate, so this never touches g.mu.
func (g *Instance) ProjectFor(recipient protocol.UserID, state any) any {
	view := state.(stateView)
	if recipient != view.Drawer {
		view.CurrentWord = ""
	}
	return view
}

// Cleanup releases no external resources; the scheduler owns the tick
// timer that drives Tick (games.Instance).
func (g *Instance) Cleanup() {}
