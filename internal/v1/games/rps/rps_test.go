package rps

import (
	"encoding/json"
	"testing"

	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshalChoice(t *testing.T, value Choice) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(choicePayload{Value: value})
	require.NoError(t, err)
	return b
}

func TestDuel_Decisive(t *testing.T) {
	var ended *games.Result
	cb := games.Callbacks{OnEnd: func(r games.Result) { ended = &r }}
	inst := New([]protocol.UserID{"alice", "bob"}, cb)

	require.NoError(t, inst.ProcessAction("alice", "choice", marshalChoice(t, ChoicePaper)))
	require.Nil(t, ended)
	require.NoError(t, inst.ProcessAction("bob", "choice", marshalChoice(t, ChoiceRock)))

	require.NotNil(t, ended)
	assert.Equal(t, protocol.UserID("alice"), ended.Winner)
}

func TestDuel_TieResetsState(t *testing.T) {
	var updates []any
	cb := games.Callbacks{OnStateUpdate: func(s any) { updates = append(updates, s) }}
	inst := New([]protocol.UserID{"alice", "bob"}, cb)

	require.NoError(t, inst.ProcessAction("alice", "choice", marshalChoice(t, ChoiceRock)))
	require.NoError(t, inst.ProcessAction("bob", "choice", marshalChoice(t, ChoiceRock)))

	require.NotEmpty(t, updates)
	st := updates[len(updates)-1].(stateView)
	assert.Equal(t, phaseAwaitingChoices, st.Phase)
	assert.Equal(t, true, st.Extra["tie"])
	for _, p := range st.Players {
		assert.False(t, p.HasSubmitted)
	}
}

func TestBattleRoyale_LoserLosesLife(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b", "c"}, games.Callbacks{})
	g := inst.(*Instance)

	require.NoError(t, inst.ProcessAction("a", "choice", marshalChoice(t, ChoiceRock)))
	require.NoError(t, inst.ProcessAction("b", "choice", marshalChoice(t, ChoiceRock)))
	require.NoError(t, inst.ProcessAction("c", "choice", marshalChoice(t, ChoiceScissors)))

	g.mu.Lock()
	cLives := g.players["c"].Lives
	g.mu.Unlock()
	assert.Equal(t, battleRoyaleStartLives-1, cLives)
}

func TestBattleRoyale_ExtendedRulesetAtFivePlayers(t *testing.T) {
	players := []protocol.UserID{"a", "b", "c", "d", "e"}
	inst := New(players, games.Callbacks{})
	g := inst.(*Instance)
	assert.True(t, g.extended)

	err := inst.ProcessAction("a", "choice", marshalChoice(t, ChoiceLizard))
	assert.NoError(t, err)
}

func TestDuel_RejectsExtendedChoice(t *testing.T) {
	inst := New([]protocol.UserID{"alice", "bob"}, games.Callbacks{})
	err := inst.ProcessAction("alice", "choice", marshalChoice(t, ChoiceLizard))
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.ErrorKindOf(err))
}

func TestProcessAction_RejectsNonParticipant(t *testing.T) {
	inst := New([]protocol.UserID{"alice", "bob"}, games.Callbacks{})
	err := inst.ProcessAction("stranger", "choice", marshalChoice(t, ChoiceRock))
	require.Error(t, err)
	assert.Equal(t, protocol.ErrNotInRoom, protocol.ErrorKindOf(err))
}

func TestUsePowerUp_RejectsWithoutCharge(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b", "c"}, games.Callbacks{})
	payload, err := json.Marshal(usePowerUpPayload{Kind: PowerUpShield})
	require.NoError(t, err)

	err = inst.ProcessAction("a", "usePowerUp", payload)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.ErrorKindOf(err))
}

func TestUsePowerUp_RejectedInDuelMode(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	payload, err := json.Marshal(usePowerUpPayload{Kind: PowerUpShield})
	require.NoError(t, err)

	err = inst.ProcessAction("a", "usePowerUp", payload)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrValidation, protocol.ErrorKindOf(err))
}
