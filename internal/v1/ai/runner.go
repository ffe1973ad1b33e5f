// Package ai implements the AIRoomManager contract: a heuristic player that
// drives its own turn through the same command executor humans use, so the
// Room actor never special-cases AI moves beyond deciding when to trigger
// them.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
)

// Profile describes a selectable AI opponent.
type Profile struct {
	ID          string
	DisplayName string
	AvatarSeed  string
}

// DefaultProfiles is the built-in AI roster; QUICK_PLAY_START and
// ADD_AI_PLAYER reference these by ID.
var DefaultProfiles = []Profile{
	{ID: "carmen", DisplayName: "Carmen", AvatarSeed: "carmen-ai"},
	{ID: "dex", DisplayName: "Dex", AvatarSeed: "dex-ai"},
	{ID: "sable", DisplayName: "Sable", AvatarSeed: "sable-ai"},
}

// GetStateFunc returns the current game state for read-only inspection.
type GetStateFunc func() *gamestate.GameState

// ExecuteCommandFunc dispatches a command through the same pure validators
// and GameStateManager a human player's command would go through.
type ExecuteCommandFunc func(commandType string, payload map[string]any) gamestate.Result

// BroadcastFunc emits an event to the room exactly as a human-driven command
// handler would.
type BroadcastFunc func(eventType string, payload any)

// Manager is the external AIRoomManager contract from spec.md §6.
type Manager interface {
	Initialize(profiles []Profile)
	AddAIPlayer(profileID string) (playerID string, err error)
	IsAIPlayer(playerID string) bool
	ExecuteAITurn(ctx context.Context, playerID string, getState GetStateFunc, executeCommand ExecuteCommandFunc, broadcast BroadcastFunc) error
}

// HeuristicManager is the default Manager: it rolls up to three times,
// keeping dice that contribute to whichever open category currently scores
// highest, then scores that category.
type HeuristicManager struct {
	profiles map[string]Profile
	aiIDs    map[string]struct{}
	now      func() time.Time
}

func NewHeuristicManager() *HeuristicManager {
	return &HeuristicManager{
		profiles: make(map[string]Profile),
		aiIDs:    make(map[string]struct{}),
		now:      time.Now,
	}
}

func (m *HeuristicManager) Initialize(profiles []Profile) {
	for _, p := range profiles {
		m.profiles[p.ID] = p
	}
}

// AddAIPlayer mints an id of the form ai:<profileId>:<timestamp>, matching
// spec.md §4.4's required id shape.
func (m *HeuristicManager) AddAIPlayer(profileID string) (string, error) {
	if _, ok := m.profiles[profileID]; !ok {
		return "", fmt.Errorf("invalid AI profile %q", profileID)
	}
	id := fmt.Sprintf("ai:%s:%d", profileID, m.now().UnixMilli())
	m.aiIDs[id] = struct{}{}
	return id, nil
}

func (m *HeuristicManager) IsAIPlayer(playerID string) bool {
	_, ok := m.aiIDs[playerID]
	return ok
}

// ExecuteAITurn runs the heuristic loop: up to three rolls, then a score.
// It never schedules an AFK warning for the player after itself — that
// decision belongs to the Room actor once this returns.
func (m *HeuristicManager) ExecuteAITurn(ctx context.Context, playerID string, getState GetStateFunc, executeCommand ExecuteCommandFunc, broadcast BroadcastFunc) error {
	for roll := 0; roll < 3; roll++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		state := getState()
		player, ok := state.Players[playerID]
		if !ok {
			return fmt.Errorf("AI player %s not found in game state", playerID)
		}
		if player.RollsRemaining <= 0 {
			break
		}

		keep := bestKeepMask(player.CurrentDice, player.OpenCategories())
		result := executeCommand("DICE_ROLL", map[string]any{"kept": maskToIndices(keep)})
		if !result.OK {
			return fmt.Errorf("AI roll rejected: %s", result.Code)
		}
		broadcast("DICE_ROLLED", map[string]any{"playerId": playerID, "rollNumber": roll + 1})

		// Good-enough dice for the leading category: stop rolling early.
		state = getState()
		player = state.Players[playerID]
		if scoreQuality(player.CurrentDice, player.OpenCategories()) >= highQualityThreshold {
			break
		}
	}

	state := getState()
	player := state.Players[playerID]
	category := bestCategory(player.CurrentDice, player.OpenCategories())
	result := executeCommand("CATEGORY_SCORE", map[string]any{"category": category})
	if !result.OK {
		return fmt.Errorf("AI score rejected: %s", result.Code)
	}
	broadcast("CATEGORY_SCORED", map[string]any{"playerId": playerID, "category": category})
	return nil
}

const highQualityThreshold = 30

// bestKeepMask keeps every die contributing to the highest-scoring category
// currently reachable, a simple single-ply heuristic.
func bestKeepMask(dice []int, openCategories []string) uint8 {
	if len(dice) != 5 {
		return 0
	}
	best := bestCategory(dice, openCategories)
	return keepMaskForCategory(best, dice)
}

func bestCategory(dice []int, openCategories []string) string {
	if len(openCategories) == 0 {
		return ""
	}
	best := openCategories[0]
	bestScore := -1
	for _, c := range openCategories {
		s := evaluateCategory(c, dice)
		if s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

func scoreQuality(dice []int, openCategories []string) int {
	if len(dice) != 5 {
		return 0
	}
	_, score := bestCategory(dice, openCategories), evaluateCategory(bestCategory(dice, openCategories), dice)
	return score
}

// evaluateCategory is a lightweight, local re-implementation of category
// scoring for planning purposes only; the authoritative score always comes
// from gamestate.Scorer.ScoreCategory.
func evaluateCategory(category string, dice []int) int {
	counts := make(map[int]int, 6)
	sum := 0
	for _, d := range dice {
		counts[d]++
		sum += d
	}
	switch {
	case strings.HasPrefix(category, "ones"):
		return counts[1] * 1
	case strings.HasPrefix(category, "twos"):
		return counts[2] * 2
	case strings.HasPrefix(category, "threes"):
		return counts[3] * 3
	case strings.HasPrefix(category, "fours"):
		return counts[4] * 4
	case strings.HasPrefix(category, "fives"):
		return counts[5] * 5
	case strings.HasPrefix(category, "sixes"):
		return counts[6] * 6
	case category == "three_of_a_kind":
		for _, c := range counts {
			if c >= 3 {
				return sum
			}
		}
		return 0
	case category == "four_of_a_kind":
		for _, c := range counts {
			if c >= 4 {
				return sum
			}
		}
		return 0
	case category == "full_house":
		has2, has3 := false, false
		for _, c := range counts {
			if c == 2 {
				has2 = true
			}
			if c == 3 {
				has3 = true
			}
		}
		if has2 && has3 {
			return 25
		}
		return 0
	case category == "dicee":
		for _, c := range counts {
			if c == 5 {
				return 50
			}
		}
		return 0
	case category == "chance":
		return sum
	default:
		return sum / 2 // rough estimate for straights; good enough for planning
	}
}

func keepMaskForCategory(category string, dice []int) uint8 {
	var target int
	switch category {
	case "ones":
		target = 1
	case "twos":
		target = 2
	case "threes":
		target = 3
	case "fours":
		target = 4
	case "fives":
		target = 5
	case "sixes":
		target = 6
	default:
		// For combo categories, keep whichever face appears most often.
		counts := make(map[int]int, 6)
		for _, d := range dice {
			counts[d]++
		}
		bestFace, bestCount := 0, 0
		for face, c := range counts {
			if c > bestCount {
				bestFace, bestCount = face, c
			}
		}
		target = bestFace
	}

	var mask uint8
	for i, d := range dice {
		if d == target {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

func maskToIndices(mask uint8) []int {
	var out []int
	for i := 0; i < 5; i++ {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}
