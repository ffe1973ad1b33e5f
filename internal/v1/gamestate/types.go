// Package gamestate implements the pure dice-game state machine: the
// turn_roll / turn_decide / game_over phases, their validators, and the
// external Scorer contract the room actor delegates scoring to.
package gamestate

// Phase is one of the three states a live game cycles through.
type Phase string

const (
	PhaseTurnRoll   Phase = "turn_roll"
	PhaseTurnDecide Phase = "turn_decide"
	PhaseGameOver   Phase = "game_over"
)

// Categories is the fixed 13-category Dicee/Yahtzee-style scorecard.
var Categories = []string{
	"ones", "twos", "threes", "fours", "fives", "sixes",
	"three_of_a_kind", "four_of_a_kind", "full_house",
	"small_straight", "large_straight", "dicee", "chance",
}

// PlayerState is one player's hand and scorecard within a GameState.
type PlayerState struct {
	UserID         string         `json:"userId"`
	DisplayName    string         `json:"displayName"`
	IsAI           bool           `json:"isAI"`
	CurrentDice    []int          `json:"currentDice,omitempty"` // nil when absent (no roll yet this turn)
	KeptDice       uint8          `json:"keptDice"`               // 5-bit mask
	RollsRemaining int            `json:"rollsRemaining"`
	RollNumber     int            `json:"rollNumber"`
	Scorecard      map[string]*int `json:"scorecard"` // category -> score, nil entry means open
	TotalScore     int            `json:"totalScore"`
	DiceeBonusCount int           `json:"diceeBonusCount"`
}

// OpenCategories returns the categories this player has not yet scored.
func (p *PlayerState) OpenCategories() []string {
	var open []string
	for _, c := range Categories {
		if v, ok := p.Scorecard[c]; !ok || v == nil {
			open = append(open, c)
		}
	}
	return open
}

// ScoredCount returns how many of the 13 categories have been filled.
func (p *PlayerState) ScoredCount() int {
	n := 0
	for _, c := range Categories {
		if v, ok := p.Scorecard[c]; ok && v != nil {
			n++
		}
	}
	return n
}

// RankingEntry is one player's placement once a game reaches game_over.
type RankingEntry struct {
	UserID     string `json:"userId"`
	TotalScore int    `json:"totalScore"`
	Rank       int    `json:"rank"`
}

// GameState is the full per-room game record, persisted under key "game".
type GameState struct {
	Phase              Phase                   `json:"phase"`
	PlayerOrder        []string                `json:"playerOrder"`
	CurrentPlayerIndex int                     `json:"currentPlayerIndex"`
	TurnNumber         int                     `json:"turnNumber"`
	RoundNumber        int                     `json:"roundNumber"`
	Players            map[string]*PlayerState `json:"players"`
	Rankings           []RankingEntry          `json:"rankings,omitempty"`
}

// CurrentPlayerID returns the userId whose turn it currently is, or "" if
// the player order is empty.
func (g *GameState) CurrentPlayerID() string {
	if len(g.PlayerOrder) == 0 {
		return ""
	}
	idx := g.CurrentPlayerIndex % len(g.PlayerOrder)
	if idx < 0 {
		idx += len(g.PlayerOrder)
	}
	return g.PlayerOrder[idx]
}

// AllScored reports whether every player has filled all 13 categories.
func (g *GameState) AllScored() bool {
	for _, uid := range g.PlayerOrder {
		p, ok := g.Players[uid]
		if !ok || p.ScoredCount() < len(Categories) {
			return false
		}
	}
	return true
}

// NewGameState initializes a fresh GameState from the given player order,
// preserving any already-registered PlayerState entries (e.g. AI profiles
// attached before the shuffle/deal).
func NewGameState(order []string, players map[string]*PlayerState) *GameState {
	for _, uid := range order {
		p, ok := players[uid]
		if !ok {
			p = &PlayerState{UserID: uid}
			players[uid] = p
		}
		p.Scorecard = make(map[string]*int, len(Categories))
		p.CurrentDice = nil
		p.KeptDice = 0
		p.RollsRemaining = 3
		p.RollNumber = 0
	}
	return &GameState{
		Phase:              PhaseTurnRoll,
		PlayerOrder:        order,
		CurrentPlayerIndex: 0,
		TurnNumber:         1,
		RoundNumber:        1,
		Players:            players,
	}
}

// ComputeRankings derives 1-based rankings sorted by descending total score;
// ties share displayed rank order by player-order position (stable).
func (g *GameState) ComputeRankings() []RankingEntry {
	type scored struct {
		uid   string
		score int
	}
	entries := make([]scored, 0, len(g.PlayerOrder))
	for _, uid := range g.PlayerOrder {
		entries = append(entries, scored{uid, g.Players[uid].TotalScore})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].score > entries[j-1].score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	rankings := make([]RankingEntry, len(entries))
	for i, e := range entries {
		rankings[i] = RankingEntry{UserID: e.uid, TotalScore: e.score, Rank: i + 1}
	}
	return rankings
}
