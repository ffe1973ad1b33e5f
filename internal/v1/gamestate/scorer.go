package gamestate

import (
	"errors"
	"math/rand"
)

// PlayerInit seeds a PlayerState when a game is initialized from RoomState.
type PlayerInit struct {
	UserID      string
	DisplayName string
	IsAI        bool
}

// GameConfig carries the room settings the Scorer needs at init time.
type GameConfig struct {
	TurnTimeoutSeconds int
}

// RollDiceResult is returned from Scorer.RollDice.
type RollDiceResult struct {
	Dice           []int
	RollNumber     int
	RollsRemaining int
	NewPhase       Phase
}

// ScoreCategoryResult is returned from Scorer.ScoreCategory.
type ScoreCategoryResult struct {
	Score           int
	TotalScore      int
	IsDiceeBonus    bool
	GameCompleted   bool
	Rankings        []RankingEntry
	NextPlayerID    string
	NextTurnNumber  int
	NextRoundNumber int
	NextPhase       Phase
}

// SkipTurnResult is returned from Scorer.SkipTurn.
type SkipTurnResult struct {
	CategoryScored bool
	Score          int
	GameCompleted  bool
	Rankings       []RankingEntry
	NextPlayerID   string
	NextPhase      Phase
}

// Scorer is the external collaborator the Room actor delegates all dice
// scoring rules to; the state machine in validators.go only checks phase
// and turn ownership, never scoring arithmetic.
type Scorer interface {
	InitializeFromRoom(players []PlayerInit, config GameConfig)
	StartGame() []string
	StartGameWithOrder(order []string)
	RollDice(userID string, keptMask uint8) (RollDiceResult, error)
	KeepDice(userID string, indices []int) (uint8, error)
	ScoreCategory(userID, category string) (ScoreCategoryResult, error)
	SkipTurn(userID, reason string) (SkipTurnResult, error)
	GetState() *GameState
	ResetForRematch()
}

// DefaultScorer implements the classic Dicee (Yahtzee-style) ruleset: five
// dice, three rolls per turn, thirteen categories, a 35-point upper-section
// bonus at 63+, and a 100-point Dicee bonus for every Dicee rolled after the
// first.
type DefaultScorer struct {
	state *GameState
	rng   *rand.Rand
}

// NewDefaultScorer constructs a scorer seeded from an external randomness
// source so tests can supply a deterministic rng.
func NewDefaultScorer(rng *rand.Rand) *DefaultScorer {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &DefaultScorer{rng: rng}
}

func (s *DefaultScorer) InitializeFromRoom(players []PlayerInit, _ GameConfig) {
	m := make(map[string]*PlayerState, len(players))
	order := make([]string, 0, len(players))
	for _, p := range players {
		m[p.UserID] = &PlayerState{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			IsAI:        p.IsAI,
			Scorecard:   make(map[string]*int, len(Categories)),
		}
		order = append(order, p.UserID)
	}
	s.state = &GameState{PlayerOrder: order, Players: m}
}

func (s *DefaultScorer) StartGame() []string {
	order := append([]string(nil), s.state.PlayerOrder...)
	s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	s.state = NewGameState(order, s.state.Players)
	return order
}

func (s *DefaultScorer) StartGameWithOrder(order []string) {
	s.state = NewGameState(order, s.state.Players)
}

func (s *DefaultScorer) GetState() *GameState { return s.state }

func (s *DefaultScorer) ResetForRematch() {
	for _, p := range s.state.Players {
		p.Scorecard = make(map[string]*int, len(Categories))
		p.TotalScore = 0
		p.DiceeBonusCount = 0
		p.CurrentDice = nil
		p.KeptDice = 0
		p.RollsRemaining = 3
		p.RollNumber = 0
	}
	s.state.Phase = ""
	s.state.Rankings = nil
	s.state.TurnNumber = 0
	s.state.RoundNumber = 0
	s.state.CurrentPlayerIndex = 0
}

func (s *DefaultScorer) rollFace() int { return s.rng.Intn(6) + 1 }

func (s *DefaultScorer) RollDice(userID string, keptMask uint8) (RollDiceResult, error) {
	p, ok := s.state.Players[userID]
	if !ok {
		return RollDiceResult{}, errors.New("unknown player")
	}
	if p.CurrentDice == nil {
		p.CurrentDice = make([]int, 5)
	}
	for i := 0; i < 5; i++ {
		if keptMask&(1<<uint(i)) == 0 {
			p.CurrentDice[i] = s.rollFace()
		}
	}
	p.KeptDice = keptMask
	p.RollNumber++
	p.RollsRemaining--
	s.state.Phase = PhaseTurnDecide

	return RollDiceResult{
		Dice:           append([]int(nil), p.CurrentDice...),
		RollNumber:     p.RollNumber,
		RollsRemaining: p.RollsRemaining,
		NewPhase:       s.state.Phase,
	}, nil
}

func (s *DefaultScorer) KeepDice(userID string, indices []int) (uint8, error) {
	p, ok := s.state.Players[userID]
	if !ok {
		return 0, errors.New("unknown player")
	}
	var mask uint8
	for _, i := range indices {
		mask |= 1 << uint(i)
	}
	p.KeptDice = mask
	return mask, nil
}

func (s *DefaultScorer) ScoreCategory(userID, category string) (ScoreCategoryResult, error) {
	p, ok := s.state.Players[userID]
	if !ok {
		return ScoreCategoryResult{}, errors.New("unknown player")
	}

	score := scoreForCategory(category, p.CurrentDice, p.DiceeBonusCount > 0)
	isDiceeBonus := category == "dicee" && p.DiceeBonusCount > 0 && score > 0
	if category == "dicee" && score > 0 {
		p.DiceeBonusCount++
	}

	v := score
	p.Scorecard[category] = &v
	p.TotalScore = totalWithBonus(p)

	result := ScoreCategoryResult{
		Score:        score,
		TotalScore:   p.TotalScore,
		IsDiceeBonus: isDiceeBonus,
	}

	if s.state.AllScored() {
		s.state.Rankings = s.state.ComputeRankings()
		s.state.Phase = PhaseGameOver
		result.GameCompleted = true
		result.Rankings = s.state.Rankings
		return result, nil
	}

	s.state.AdvanceTurn()
	result.NextPlayerID = s.state.CurrentPlayerID()
	result.NextTurnNumber = s.state.TurnNumber
	result.NextRoundNumber = s.state.RoundNumber
	result.NextPhase = s.state.Phase
	return result, nil
}

func (s *DefaultScorer) SkipTurn(userID, _ string) (SkipTurnResult, error) {
	p, ok := s.state.Players[userID]
	if !ok {
		return SkipTurnResult{}, errors.New("unknown player")
	}

	open := p.OpenCategories()
	if len(open) == 0 {
		return SkipTurnResult{}, errors.New("no open categories to force-score")
	}
	category := minScoringCategory(open, p.CurrentDice)
	score := scoreForCategory(category, p.CurrentDice, false)
	v := score
	p.Scorecard[category] = &v
	p.TotalScore = totalWithBonus(p)

	result := SkipTurnResult{CategoryScored: true, Score: score}

	if s.state.AllScored() {
		s.state.Rankings = s.state.ComputeRankings()
		s.state.Phase = PhaseGameOver
		result.GameCompleted = true
		result.Rankings = s.state.Rankings
		return result, nil
	}

	s.state.AdvanceTurn()
	result.NextPlayerID = s.state.CurrentPlayerID()
	result.NextPhase = s.state.Phase
	return result, nil
}

// minScoringCategory picks the lowest-value open category so a forced skip
// never hands out an undeserved high score.
func minScoringCategory(open []string, dice []int) string {
	best := open[0]
	bestScore := scoreForCategory(best, dice, false)
	for _, c := range open[1:] {
		sc := scoreForCategory(c, dice, false)
		if sc < bestScore {
			best, bestScore = c, sc
		}
	}
	return best
}

func totalWithBonus(p *PlayerState) int {
	upper := 0
	total := 0
	upperCats := map[string]bool{"ones": true, "twos": true, "threes": true, "fours": true, "fives": true, "sixes": true}
	for cat, v := range p.Scorecard {
		if v == nil {
			continue
		}
		total += *v
		if upperCats[cat] {
			upper += *v
		}
	}
	if upper >= 63 {
		total += 35
	}
	// DiceeBonusCount counts every Dicee scored; only those after the first
	// earn the 100-point bonus.
	if p.DiceeBonusCount > 1 {
		total += (p.DiceeBonusCount - 1) * 100
	}
	return total
}

func counts(dice []int) map[int]int {
	c := make(map[int]int, 6)
	for _, d := range dice {
		c[d]++
	}
	return c
}

func sum(dice []int) int {
	t := 0
	for _, d := range dice {
		t += d
	}
	return t
}

func hasNOfAKind(dice []int, n int) bool {
	for _, c := range counts(dice) {
		if c >= n {
			return true
		}
	}
	return false
}

func isFullHouse(dice []int) bool {
	c := counts(dice)
	has3, has2 := false, false
	for _, v := range c {
		if v == 3 {
			has3 = true
		}
		if v == 2 {
			has2 = true
		}
		if v == 5 {
			return true // five-of-a-kind counts as a full house in this ruleset
		}
	}
	return has3 && has2
}

func isSmallStraight(dice []int) bool {
	present := counts(dice)
	runs := [][]int{{1, 2, 3, 4}, {2, 3, 4, 5}, {3, 4, 5, 6}}
	for _, run := range runs {
		ok := true
		for _, v := range run {
			if present[v] == 0 {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func isLargeStraight(dice []int) bool {
	present := counts(dice)
	runs := [][]int{{1, 2, 3, 4, 5}, {2, 3, 4, 5, 6}}
	for _, run := range runs {
		ok := true
		for _, v := range run {
			if present[v] != 1 {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// scoreForCategory is pure: same dice + category always yields the same
// score. The alreadyHasDicee flag is unused here (bonus accounting happens
// in the caller) but kept for symmetry with scoreForCategory's callers.
func scoreForCategory(category string, dice []int, _ bool) int {
	if len(dice) != 5 {
		return 0
	}
	switch category {
	case "ones":
		return faceSum(dice, 1)
	case "twos":
		return faceSum(dice, 2)
	case "threes":
		return faceSum(dice, 3)
	case "fours":
		return faceSum(dice, 4)
	case "fives":
		return faceSum(dice, 5)
	case "sixes":
		return faceSum(dice, 6)
	case "three_of_a_kind":
		if hasNOfAKind(dice, 3) {
			return sum(dice)
		}
		return 0
	case "four_of_a_kind":
		if hasNOfAKind(dice, 4) {
			return sum(dice)
		}
		return 0
	case "full_house":
		if isFullHouse(dice) {
			return 25
		}
		return 0
	case "small_straight":
		if isSmallStraight(dice) {
			return 30
		}
		return 0
	case "large_straight":
		if isLargeStraight(dice) {
			return 40
		}
		return 0
	case "dicee":
		if hasNOfAKind(dice, 5) {
			return 50
		}
		return 0
	case "chance":
		return sum(dice)
	default:
		return 0
	}
}

func faceSum(dice []int, face int) int {
	n := 0
	for _, d := range dice {
		if d == face {
			n++
		}
	}
	return n * face
}
