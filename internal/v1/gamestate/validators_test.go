package gamestate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScorer(order []string) *DefaultScorer {
	s := NewDefaultScorer(rand.New(rand.NewSource(42)))
	players := make([]PlayerInit, len(order))
	for i, uid := range order {
		players[i] = PlayerInit{UserID: uid, DisplayName: uid}
	}
	s.InitializeFromRoom(players, GameConfig{TurnTimeoutSeconds: 60})
	s.StartGameWithOrder(order)
	return s
}

func TestValidateDiceRoll(t *testing.T) {
	s := newTestScorer([]string{"a", "b"})
	g := s.GetState()

	assert.True(t, ValidateDiceRoll(g, "a").OK)
	assert.Equal(t, ErrNotYourTurn, ValidateDiceRoll(g, "b").Code)

	g.Players["a"].RollsRemaining = 0
	assert.Equal(t, ErrNoRollsLeft, ValidateDiceRoll(g, "a").Code)
}

func TestValidateDiceKeep_RequiresTurnDecide(t *testing.T) {
	s := newTestScorer([]string{"a", "b"})
	g := s.GetState()

	assert.Equal(t, ErrWrongPhase, ValidateDiceKeep(g, "a", []int{0, 1}).Code)

	g.Phase = PhaseTurnDecide
	assert.True(t, ValidateDiceKeep(g, "a", []int{0, 1}).OK)
	assert.Equal(t, ErrInvalidIndices, ValidateDiceKeep(g, "a", []int{5}).Code)
}

func TestValidateCategoryScore_RejectsTakenCategory(t *testing.T) {
	s := newTestScorer([]string{"a", "b"})
	g := s.GetState()
	g.Phase = PhaseTurnDecide

	v := 10
	g.Players["a"].Scorecard["chance"] = &v
	assert.Equal(t, ErrCategoryTaken, ValidateCategoryScore(g, "a", "chance").Code)
	assert.True(t, ValidateCategoryScore(g, "a", "fours").OK)
	assert.Equal(t, ErrUnknownCategory, ValidateCategoryScore(g, "a", "nonsense").Code)
}

func TestValidateRematch(t *testing.T) {
	s := newTestScorer([]string{"a", "b"})
	g := s.GetState()
	g.Phase = PhaseGameOver

	assert.Equal(t, ErrNotHost, ValidateRematch(g, "b", "a").Code)
	assert.True(t, ValidateRematch(g, "a", "a").OK)
}

func TestGameEndsAfterThirteenRounds(t *testing.T) {
	s := newTestScorer([]string{"a", "b", "c"})
	g := s.GetState()

	turns := 0
	for g.Phase != PhaseGameOver {
		current := g.CurrentPlayerID()
		_, err := s.RollDice(current, 0)
		require.NoError(t, err)

		open := g.Players[current].OpenCategories()
		require.NotEmpty(t, open)
		result, err := s.ScoreCategory(current, open[0])
		require.NoError(t, err)
		turns++
		if result.GameCompleted {
			break
		}
		if turns > 13*3+5 {
			t.Fatal("game did not terminate within expected turns")
		}
	}

	require.Equal(t, PhaseGameOver, g.Phase)
	require.Len(t, g.Rankings, 3)
}
