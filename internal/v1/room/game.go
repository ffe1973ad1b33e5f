package room

import (
	"context"
	"fmt"

	"github.com/verlyn13/dicee/internal/v1/ai"
	"github.com/verlyn13/dicee/internal/v1/gamestate"
)

// handleStartGame implements START_GAME from spec.md §4.4.
func (r *Room) handleStartGame(ctx context.Context, userID string) gamestate.Result {
	if userID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may start the game")
	}
	if r.state.Status != StatusWaiting {
		return gamestate.Fail("WRONG_PHASE", "room is not waiting")
	}

	players := r.humanPlayerInits()
	players = append(players, r.aiPlayerInits()...)
	if len(players) < 2 {
		return gamestate.Fail("NOT_ENOUGH_PLAYERS", "need at least 2 players")
	}

	r.scorer.InitializeFromRoom(players, gamestate.GameConfig{TurnTimeoutSeconds: r.state.Settings.TurnTimeoutSeconds})
	r.state.Status = StatusStarting
	r.broadcastRoom(ctx, "GAME_STARTING", map[string]any{"roomCode": r.code})

	order := r.scorer.StartGame()
	r.cancelAllInvitesLocked(ctx, "room_closed")
	r.state.Status = StatusPlaying
	now := r.now()
	r.state.StartedAt = &now

	gs := r.scorer.GetState()
	r.broadcastRoom(ctx, "GAME_STARTED", map[string]any{
		"playerOrder":     order,
		"currentPlayerId": gs.CurrentPlayerID(),
		"turnNumber":      gs.TurnNumber,
		"roundNumber":     gs.RoundNumber,
		"phase":           gs.Phase,
		"players":         gs.Players,
	})
	r.persist(ctx)
	r.publishStatus(ctx)
	r.afterTurnStartLocked(ctx, gs.CurrentPlayerID())
	return gamestate.Ok()
}

// handleQuickPlayStart implements QUICK_PLAY_START from spec.md §4.4: the
// host is always the first player, no shuffle.
func (r *Room) handleQuickPlayStart(ctx context.Context, userID string, aiProfiles []string) gamestate.Result {
	if userID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may start the game")
	}
	if r.state.Status != StatusWaiting {
		return gamestate.Fail("WRONG_PHASE", "room is not waiting")
	}
	if len(aiProfiles) == 0 {
		return gamestate.Fail("INVALID_PROFILE", "aiProfiles must be non-empty")
	}

	for _, profile := range aiProfiles {
		if res := r.addAIPlayerLocked(profile); !res.OK {
			return res
		}
	}

	players := r.humanPlayerInits()
	players = append(players, r.aiPlayerInits()...)
	r.scorer.InitializeFromRoom(players, gamestate.GameConfig{TurnTimeoutSeconds: r.state.Settings.TurnTimeoutSeconds})

	order := append([]string{r.state.HostUserID}, otherPlayerIDs(players, r.state.HostUserID)...)
	r.scorer.StartGameWithOrder(order)
	r.state.Status = StatusPlaying
	now := r.now()
	r.state.StartedAt = &now

	gs := r.scorer.GetState()
	r.broadcastRoom(ctx, "QUICK_PLAY_STARTED", map[string]any{
		"playerOrder":     order,
		"currentPlayerId": gs.CurrentPlayerID(),
		"players":         gs.Players,
	})
	r.persist(ctx)
	r.publishStatus(ctx)
	r.afterTurnStartLocked(ctx, gs.CurrentPlayerID())
	return gamestate.Ok()
}

func otherPlayerIDs(players []gamestate.PlayerInit, exclude string) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		if p.UserID != exclude {
			out = append(out, p.UserID)
		}
	}
	return out
}

func (r *Room) humanPlayerInits() []gamestate.PlayerInit {
	out := make([]gamestate.PlayerInit, 0, len(r.seats))
	for _, uid := range r.state.PlayerOrder {
		seat, ok := r.seats[uid]
		if !ok || !seat.IsConnected {
			continue
		}
		out = append(out, gamestate.PlayerInit{UserID: seat.UserID, DisplayName: seat.DisplayName})
	}
	return out
}

func (r *Room) aiPlayerInits() []gamestate.PlayerInit {
	out := make([]gamestate.PlayerInit, 0, len(r.state.AIPlayers))
	for _, a := range r.state.AIPlayers {
		out = append(out, gamestate.PlayerInit{UserID: a.ID, DisplayName: a.DisplayName, IsAI: true})
	}
	return out
}

// handleAddAIPlayer implements ADD_AI_PLAYER from spec.md §4.4.
func (r *Room) handleAddAIPlayer(ctx context.Context, userID, profileID string) gamestate.Result {
	if userID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may add AI players")
	}
	if r.state.Status != StatusWaiting {
		return gamestate.Fail("GAME_IN_PROGRESS", "cannot add AI players once the game has started")
	}
	if r.activeSeatCount()+len(r.state.AIPlayers) >= r.state.Settings.MaxPlayers {
		return gamestate.Fail("ROOM_FULL", "room is full")
	}
	res := r.addAIPlayerLocked(profileID)
	if res.OK {
		r.broadcastRoom(ctx, "AI_PLAYER_JOINED", map[string]any{"profileId": profileID})
		r.persist(ctx)
		r.publishStatus(ctx)
	}
	return res
}

func (r *Room) addAIPlayerLocked(profileID string) gamestate.Result {
	id, err := r.ai.AddAIPlayer(profileID)
	if err != nil {
		return gamestate.Fail("INVALID_PROFILE", err.Error())
	}
	var profile ai.Profile
	for _, p := range ai.DefaultProfiles {
		if p.ID == profileID {
			profile = p
			break
		}
	}
	r.state.AIPlayers = append(r.state.AIPlayers, AIPlayerRef{
		ID: id, ProfileID: profileID, DisplayName: profile.DisplayName, AvatarSeed: profile.AvatarSeed,
	})
	return gamestate.Ok()
}

// handleRemoveAIPlayer implements REMOVE_AI_PLAYER from spec.md §4.4.
func (r *Room) handleRemoveAIPlayer(ctx context.Context, userID, playerID string) gamestate.Result {
	if userID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may remove AI players")
	}
	if r.state.Status != StatusWaiting {
		return gamestate.Fail("GAME_IN_PROGRESS", "cannot remove AI players once the game has started")
	}
	idx := -1
	for i, a := range r.state.AIPlayers {
		if a.ID == playerID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return gamestate.Fail("PLAYER_NOT_FOUND", "no such AI player")
	}
	r.state.AIPlayers = append(r.state.AIPlayers[:idx], r.state.AIPlayers[idx+1:]...)
	r.broadcastRoom(ctx, "AI_PLAYER_REMOVED", map[string]any{"playerId": playerID})
	r.persist(ctx)
	r.publishStatus(ctx)
	return gamestate.Ok()
}

// handleDiceRoll implements DICE_ROLL from spec.md §4.5.
func (r *Room) handleDiceRoll(ctx context.Context, userID string, kept []int) gamestate.Result {
	gs := r.scorer.GetState()
	if res := gamestate.ValidateDiceRoll(gs, userID); !res.OK {
		return res
	}
	var mask uint8
	if len(kept) > 0 {
		m, err := r.scorer.KeepDice(userID, kept)
		if err != nil {
			return gamestate.Fail("INVALID_DICE_INDICES", err.Error())
		}
		mask = m
	}
	result, err := r.scorer.RollDice(userID, mask)
	if err != nil {
		return gamestate.Fail("NO_ROLLS_REMAINING", err.Error())
	}
	r.clearKibitzLocked(ctx)
	r.broadcastRoom(ctx, "DICE_ROLLED", map[string]any{
		"playerId": userID, "dice": result.Dice, "rollNumber": result.RollNumber, "rollsRemaining": result.RollsRemaining,
	})
	r.persist(ctx)
	return gamestate.Ok()
}

// handleDiceKeep implements DICE_KEEP from spec.md §4.5.
func (r *Room) handleDiceKeep(ctx context.Context, userID string, indices []int) gamestate.Result {
	gs := r.scorer.GetState()
	if res := gamestate.ValidateDiceKeep(gs, userID, indices); !res.OK {
		return res
	}
	mask, err := r.scorer.KeepDice(userID, indices)
	if err != nil {
		return gamestate.Fail("INVALID_DICE_INDICES", err.Error())
	}
	r.broadcastRoom(ctx, "DICE_KEPT", map[string]any{"playerId": userID, "keptMask": mask})
	r.persist(ctx)
	return gamestate.Ok()
}

// handleCategoryScore implements CATEGORY_SCORE from spec.md §4.5, including
// prediction evaluation and the game-over / turn-advance branches.
func (r *Room) handleCategoryScore(ctx context.Context, userID, category string) gamestate.Result {
	gs := r.scorer.GetState()
	if res := gamestate.ValidateCategoryScore(gs, userID, category); !res.OK {
		return res
	}
	turnNumber := gs.TurnNumber
	result, err := r.scorer.ScoreCategory(userID, category)
	if err != nil {
		return gamestate.Fail("CATEGORY_TAKEN", err.Error())
	}

	r.broadcastRoom(ctx, "CATEGORY_SCORED", map[string]any{
		"playerId": userID, "category": category, "score": result.Score,
		"totalScore": result.TotalScore, "isDiceeBonus": result.IsDiceeBonus,
	})
	r.evaluatePredictionsLocked(ctx, turnNumber, userID, result)

	if result.GameCompleted {
		r.finishGameLocked(ctx, result.Rankings)
		return gamestate.Ok()
	}

	r.clearKibitzLocked(ctx)
	r.broadcastRoom(ctx, "TURN_CHANGED", map[string]any{
		"playerId": result.NextPlayerID, "turnNumber": result.NextTurnNumber,
		"roundNumber": result.NextRoundNumber, "phase": result.NextPhase,
	})
	r.persist(ctx)
	r.afterTurnStartLocked(ctx, result.NextPlayerID)
	return gamestate.Ok()
}

func (r *Room) finishGameLocked(ctx context.Context, rankings []gamestate.RankingEntry) {
	r.state.Status = StatusCompleted
	r.broadcastRoom(ctx, "GAME_OVER", map[string]any{"rankings": rankings})
	r.awardRootingBonusesLocked(ctx, rankings)
	r.persist(ctx)
	r.publishStatus(ctx)
	r.processWarmSeatLocked(ctx)
}

// handleRematch implements REMATCH from spec.md §4.5.
func (r *Room) handleRematch(ctx context.Context, userID string) gamestate.Result {
	gs := r.scorer.GetState()
	if res := gamestate.ValidateRematch(gs, userID, r.state.HostUserID); !res.OK {
		return res
	}
	r.scorer.ResetForRematch()
	r.state.Status = StatusWaiting
	r.state.StartedAt = nil
	r.predictions = make(map[predictionKey][]Prediction)
	r.rooting = make(map[string]RootingChoice)
	r.rootingChanges = make(map[string]int)
	r.kibitzVotes = make(map[string]KibitzVote)
	r.broadcastRoom(ctx, "REMATCH_STARTED", map[string]any{})
	r.persist(ctx)
	r.publishStatus(ctx)
	return gamestate.Ok()
}

// afterTurnStartLocked schedules an AFK warning for a human player or
// triggers the AI runner for an AI player, per spec.md §4.4/§4.5/§4.7.
func (r *Room) afterTurnStartLocked(ctx context.Context, playerID string) {
	if r.ai.IsAIPlayer(playerID) {
		r.triggerAITurnLocked(ctx, playerID)
		return
	}
	if r.state.Settings.TurnTimeoutSeconds > 0 {
		r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmAFKCheck, UserID: playerID}, r.cfg.AFKGrace)
	}
}

// triggerAITurnLocked implements the AI Runner dispatch from spec.md §4.7:
// a watchdog alarm guards the asynchronous turn in case it never completes.
func (r *Room) triggerAITurnLocked(ctx context.Context, playerID string) {
	if r.bus != nil {
		_ = r.bus.Set(ctx, r.kvKey("ai_turn_state"), map[string]any{"playerId": playerID, "status": "scheduled"}, 0)
	}
	r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmAITurnTimeout, PlayerID: playerID, RetryCount: 0}, r.cfg.AITurnWatchdog)

	go func() {
		getState := r.scorer.GetState
		executeCommand := func(commandType string, payload map[string]any) gamestate.Result {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.dispatchAICommand(ctx, playerID, commandType, payload)
		}
		broadcast := func(eventType string, payload any) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.broadcastRoom(ctx, eventType, payload)
		}
		if err := r.ai.ExecuteAITurn(ctx, playerID, getState, executeCommand, broadcast); err == nil {
			r.mu.Lock()
			if r.bus != nil {
				_ = r.bus.Del(ctx, r.kvKey("ai_turn_state"))
			}
			r.clearAlarmIfLocked(AlarmAITurnTimeout)
			r.mu.Unlock()
		}
	}()
}

func (r *Room) dispatchAICommand(ctx context.Context, playerID, commandType string, payload map[string]any) gamestate.Result {
	switch commandType {
	case "DICE_ROLL":
		kept, _ := payload["kept"].([]int)
		return r.handleDiceRoll(ctx, playerID, kept)
	case "CATEGORY_SCORE":
		category, _ := payload["category"].(string)
		return r.handleCategoryScore(ctx, playerID, category)
	}
	return gamestate.Fail("UNKNOWN_CATEGORY", fmt.Sprintf("unknown AI command %s", commandType))
}
