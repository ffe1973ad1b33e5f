package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
)

func TestAddAIPlayer_UnknownProfile(t *testing.T) {
	m := NewHeuristicManager()
	m.Initialize(DefaultProfiles)

	_, err := m.AddAIPlayer("nope")
	assert.Error(t, err)
}

func TestAddAIPlayer_IsAIPlayer(t *testing.T) {
	m := NewHeuristicManager()
	m.Initialize(DefaultProfiles)

	id, err := m.AddAIPlayer("carmen")
	require.NoError(t, err)
	assert.True(t, m.IsAIPlayer(id))
	assert.False(t, m.IsAIPlayer("u_someone_else"))
}

func TestExecuteAITurn_RollsThenScores(t *testing.T) {
	m := NewHeuristicManager()
	m.Initialize(DefaultProfiles)
	id, err := m.AddAIPlayer("dex")
	require.NoError(t, err)

	scorer := gamestate.NewDefaultScorer(nil)
	scorer.InitializeFromRoom([]gamestate.PlayerInit{{UserID: id, DisplayName: "Dex", IsAI: true}}, gamestate.GameConfig{TurnTimeoutSeconds: 60})
	scorer.StartGameWithOrder([]string{id})

	var scored bool
	executeCommand := func(commandType string, payload map[string]any) gamestate.Result {
		switch commandType {
		case "DICE_ROLL":
			indices, _ := payload["kept"].([]int)
			mask, err := scorer.KeepDice(id, indices)
			if err != nil {
				return gamestate.Fail(gamestate.ErrInvalidIndices, err.Error())
			}
			if _, err := scorer.RollDice(id, mask); err != nil {
				return gamestate.Fail(gamestate.ErrNoRollsLeft, err.Error())
			}
			return gamestate.Ok()
		case "CATEGORY_SCORE":
			category, _ := payload["category"].(string)
			scored = true
			if _, err := scorer.ScoreCategory(id, category); err != nil {
				return gamestate.Fail(gamestate.ErrCategoryTaken, err.Error())
			}
			return gamestate.Ok()
		}
		return gamestate.Fail(gamestate.ErrUnknownCategory, "unknown command")
	}

	events := 0
	broadcast := func(eventType string, payload any) { events++ }

	err = m.ExecuteAITurn(context.Background(), id, scorer.GetState, executeCommand, broadcast)
	require.NoError(t, err)
	assert.True(t, scored)
	assert.Greater(t, events, 0)
}
