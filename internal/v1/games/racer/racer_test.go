package racer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/confessionparty/server/internal/v1/games"
	"github.com/confessionparty/server/internal/v1/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendInput(t *testing.T, inst games.Instance, playerID protocol.UserID, in inputs) {
	t.Helper()
	payload, err := json.Marshal(inputPayload{Inputs: in})
	require.NoError(t, err)
	require.NoError(t, inst.ProcessAction(playerID, "input", payload))
}

func runCountdown(g *Instance) {
	for g.phase == phaseCountdown {
		g.Tick(countdownStep)
	}
}

func TestCountdown_TransitionsToRunning(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	g := inst.(*Instance)

	for i := 0; i <= countdownStart; i++ {
		g.Tick(countdownStep)
	}
	assert.Equal(t, phaseRunning, g.phase)
	assert.False(t, g.startTime.IsZero())
}

func TestAccelerate_IncreasesPosition(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	g := inst.(*Instance)
	runCountdown(g)

	sendInput(t, inst, "a", inputs{Accelerate: true})
	g.Tick(1 * time.Second)

	assert.Greater(t, g.players["a"].Position, 0.0)
}

func TestBrakeWinsOverAccelerate(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	g := inst.(*Instance)
	runCountdown(g)

	sendInput(t, inst, "a", inputs{Accelerate: true})
	g.Tick(2 * time.Second)
	speedBefore := g.players["a"].Speed
	require.Greater(t, speedBefore, 0.0)

	sendInput(t, inst, "a", inputs{Accelerate: true, Brake: true})
	g.Tick(100 * time.Millisecond)

	assert.Less(t, g.players["a"].Speed, speedBefore)
}

func TestFirstFinisherEndsGameImmediately(t *testing.T) {
	var result *games.Result
	cb := games.Callbacks{OnEnd: func(r games.Result) { result = &r }}
	inst := New([]protocol.UserID{"a", "b"}, cb)
	g := inst.(*Instance)
	runCountdown(g)

	sendInput(t, inst, "a", inputs{Accelerate: true})
	sendInput(t, inst, "b", inputs{})

	for i := 0; i < 1500 && result == nil; i++ {
		g.Tick(100 * time.Millisecond)
	}

	require.NotNil(t, result)
	assert.Equal(t, protocol.UserID("a"), result.Winner)
	assert.Equal(t, phaseEnded, g.phase)
}

func TestLaneChange_RespectsCooldown(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	g := inst.(*Instance)
	runCountdown(g)

	startLane := g.players["a"].Lane
	sendInput(t, inst, "a", inputs{Right: true})
	g.Tick(10 * time.Millisecond)
	assert.Equal(t, startLane+1, g.players["a"].Lane)

	g.Tick(10 * time.Millisecond)
	assert.Equal(t, startLane+1, g.players["a"].Lane, "second lane change within cooldown window is ignored")
}

func TestProcessAction_RejectsNonParticipant(t *testing.T) {
	inst := New([]protocol.UserID{"a", "b"}, games.Callbacks{})
	payload, err := json.Marshal(inputPayload{Inputs: inputs{Accelerate: true}})
	require.NoError(t, err)

	err = inst.ProcessAction("stranger", "input", payload)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrNotInRoom, protocol.ErrorKindOf(err))
}
