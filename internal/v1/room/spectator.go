package room

import (
	"context"
	"sort"
	"time"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/transport"
)

// handlePrediction implements PREDICTION from spec.md §4.8.
func (r *Room) handlePrediction(ctx context.Context, spectatorID string, p Prediction) gamestate.Result {
	if r.state.Status != StatusPlaying {
		return gamestate.Fail("WRONG_PHASE", "predictions only accepted while playing")
	}
	seat, ok := r.seats[p.PlayerID]
	if !ok || !seat.IsConnected {
		return gamestate.Fail("PLAYER_NOT_FOUND", "target player is not connected")
	}
	if p.Type == PredictionExact && (p.ExactScore < 0 || p.ExactScore > 50) {
		return gamestate.Fail("INVALID_PREDICTION", "exactScore must be in [0,50]")
	}

	key := predictionKey{turnNumber: r.scorer.GetState().TurnNumber, playerID: p.PlayerID}
	existing := r.predictions[key]
	count := 0
	for _, e := range existing {
		if e.SpectatorID == spectatorID {
			count++
			if e.Type == p.Type {
				return gamestate.Fail("PREDICTION_LIMIT", "duplicate prediction type")
			}
		}
	}
	if count >= maxPredictionsPerKey {
		return gamestate.Fail("PREDICTION_LIMIT", "at most 3 predictions per player per turn")
	}

	p.SpectatorID = spectatorID
	p.TurnNumber = key.turnNumber
	p.CreatedAt = r.now()
	r.predictions[key] = append(existing, p)

	if c, ok := r.specConn(spectatorID); ok {
		r.sendTo(ctx, c, "PREDICTION_CONFIRMED", map[string]any{"type": p.Type, "playerId": p.PlayerID})
	}
	r.broadcastRoom(ctx, "PREDICTION_MADE", map[string]any{"type": p.Type, "count": len(r.predictions[key])})
	return gamestate.Ok()
}

// handleCancelPrediction implements CANCEL_PREDICTION: only unevaluated
// predictions may be withdrawn, per spec.md §4.8.
func (r *Room) handleCancelPrediction(spectatorID string, playerID string, predType PredictionType) gamestate.Result {
	key := predictionKey{turnNumber: r.scorer.GetState().TurnNumber, playerID: playerID}
	preds := r.predictions[key]
	for i, p := range preds {
		if p.SpectatorID == spectatorID && p.Type == predType {
			if p.Evaluated {
				return gamestate.Fail("ALREADY_EVALUATED", "prediction already evaluated")
			}
			r.predictions[key] = append(preds[:i], preds[i+1:]...)
			return gamestate.Ok()
		}
	}
	return gamestate.Fail("PREDICTION_NOT_FOUND", "no matching prediction")
}

func (r *Room) specConn(spectatorID string) (*transport.Conn, bool) {
	for _, c := range r.registry.ByTag("spectator:" + r.code) {
		if c.Attachment().UserID == spectatorID {
			return c, true
		}
	}
	return nil, false
}

// evaluatePredictionsLocked scores every prediction made for (turnNumber,
// playerId) against the just-applied outcome, per spec.md §4.5. Each
// prediction is evaluated exactly once (the evaluated flag enforces the
// prediction-tally-idempotence testable property).
func (r *Room) evaluatePredictionsLocked(ctx context.Context, turnNumber int, playerID string, outcome gamestate.ScoreCategoryResult) {
	key := predictionKey{turnNumber: turnNumber, playerID: playerID}
	preds := r.predictions[key]
	if len(preds) == 0 {
		return
	}
	wasDicee := outcome.IsDiceeBonus
	improved := outcome.Score > 0
	bricked := outcome.Score == 0

	results := make([]map[string]any, 0, len(preds))
	for i := range preds {
		p := &preds[i]
		if p.Evaluated {
			continue
		}
		p.Evaluated = true
		hit := false
		switch p.Type {
		case PredictionDicee:
			hit = wasDicee
		case PredictionExact:
			hit = p.ExactScore == outcome.Score
		case PredictionImproves:
			hit = improved
		case PredictionBricks:
			hit = bricked
		}
		points := 0
		if hit {
			points = PredictionPoints[p.Type]
			r.galleryPoints[p.SpectatorID] += points
		}
		results = append(results, map[string]any{"spectatorId": p.SpectatorID, "type": p.Type, "hit": hit, "points": points})
	}
	r.predictions[key] = preds
	r.broadcastRoom(ctx, "PREDICTION_RESULTS", map[string]any{"playerId": playerID, "turnNumber": turnNumber, "results": results})
}

// handleRootForPlayer implements ROOT_FOR_PLAYER from spec.md §4.8.
func (r *Room) handleRootForPlayer(ctx context.Context, spectatorID, playerID string) gamestate.Result {
	seat, ok := r.seats[playerID]
	if !ok || !seat.IsConnected {
		return gamestate.Fail("PLAYER_NOT_FOUND", "target player is not connected")
	}
	if existing, ok := r.rooting[spectatorID]; ok && existing.PlayerID == playerID {
		return gamestate.Fail("ALREADY_ROOTING", "already rooting for this player")
	}
	if r.rootingChanges[spectatorID] >= maxRootingChangesGame {
		return gamestate.Fail("RATE_LIMITED", "rooting change limit reached for this game")
	}
	r.rootingChanges[spectatorID]++
	r.rooting[spectatorID] = RootingChoice{PlayerID: playerID, ChosenAt: r.now(), ChangeNum: r.rootingChanges[spectatorID]}

	if c, ok := r.specConn(spectatorID); ok {
		r.sendTo(ctx, c, "ROOTING_CONFIRMED", map[string]any{"playerId": playerID})
	}
	r.broadcastRootingUpdateLocked(ctx)
	return gamestate.Ok()
}

func (r *Room) broadcastRootingUpdateLocked(ctx context.Context) {
	counts := make(map[string]int)
	for _, choice := range r.rooting {
		counts[choice.PlayerID]++
	}
	r.broadcastRoom(ctx, "ROOTING_UPDATE", map[string]any{"counts": counts})
}

// handleClearRooting implements CLEAR_ROOTING.
func (r *Room) handleClearRooting(ctx context.Context, spectatorID string) gamestate.Result {
	delete(r.rooting, spectatorID)
	if c, ok := r.specConn(spectatorID); ok {
		r.sendTo(ctx, c, "ROOTING_CLEARED", map[string]any{})
	}
	r.broadcastRootingUpdateLocked(ctx)
	return gamestate.Ok()
}

// awardRootingBonusesLocked pays out spectators who backed a winner, per
// spec.md §4.5's "award rooting/backing bonuses" step. Underdog detection is
// deliberately not implemented, per spec.md §9 open question 4.
func (r *Room) awardRootingBonusesLocked(ctx context.Context, rankings []gamestate.RankingEntry) {
	if len(rankings) == 0 {
		return
	}
	winner := rankings[0].UserID
	for spectatorID, choice := range r.rooting {
		if choice.PlayerID == winner {
			r.galleryPoints[spectatorID] += 20
		}
	}
}

// handleKibitz implements KIBITZ from spec.md §4.8.
func (r *Room) handleKibitz(ctx context.Context, spectatorID string, vote KibitzVote) gamestate.Result {
	if r.state.Status != StatusPlaying {
		return gamestate.Fail("WRONG_PHASE", "kibitzing only during a live turn")
	}
	r.kibitzVotes[spectatorID] = vote
	if c, ok := r.specConn(spectatorID); ok {
		r.sendTo(ctx, c, "KIBITZ_CONFIRMED", map[string]any{})
	}
	r.broadcastKibitzUpdateLocked(ctx)
	return gamestate.Ok()
}

func (r *Room) handleClearKibitz(ctx context.Context, spectatorID string) gamestate.Result {
	delete(r.kibitzVotes, spectatorID)
	if c, ok := r.specConn(spectatorID); ok {
		r.sendTo(ctx, c, "KIBITZ_CLEARED", map[string]any{})
	}
	r.broadcastKibitzUpdateLocked(ctx)
	return gamestate.Ok()
}

// clearKibitzLocked empties the kibitz vote map; called on every DICE_ROLLED
// and TURN_CHANGED per spec.md §4.8 and the kibitz-reset testable property.
func (r *Room) clearKibitzLocked(ctx context.Context) {
	if len(r.kibitzVotes) == 0 {
		return
	}
	r.kibitzVotes = make(map[string]KibitzVote)
	r.broadcastKibitzUpdateLocked(ctx)
}

type kibitzOption struct {
	optionID string
	count    int
}

func (r *Room) broadcastKibitzUpdateLocked(ctx context.Context) {
	tally := make(map[string]int)
	for _, v := range r.kibitzVotes {
		tally[kibitzOptionID(v)]++
	}
	total := len(r.kibitzVotes)
	options := make([]kibitzOption, 0, len(tally))
	for id, c := range tally {
		options = append(options, kibitzOption{optionID: id, count: c})
	}
	sort.Slice(options, func(i, j int) bool { return options[i].count > options[j].count })

	payload := make([]map[string]any, 0, len(options))
	for _, o := range options {
		pct := 0
		if total > 0 {
			pct = o.count * 100 / total
		}
		payload = append(payload, map[string]any{"optionId": o.optionID, "voteCount": o.count, "percentage": pct})
	}
	r.broadcastRoom(ctx, "KIBITZ_UPDATE", map[string]any{"options": payload})
}

func kibitzOptionID(v KibitzVote) string {
	switch v.Type {
	case KibitzCategory:
		return v.Category
	case KibitzAction:
		return v.Action
	default:
		return "keep"
	}
}

// handleSpectatorReaction implements SPECTATOR_REACTION from spec.md §4.8.
func (r *Room) handleSpectatorReaction(ctx context.Context, spectatorID, emoji, targetPlayerID string) gamestate.Result {
	if !allowedReaction(emoji) {
		return gamestate.Fail("INVALID_REACTION", "emoji not in the allowed set")
	}
	if isRootingEmoji(emoji) {
		choice, ok := r.rooting[spectatorID]
		if !ok || choice.PlayerID != targetPlayerID {
			return gamestate.Fail("NOT_ROOTING", "rooting emoji requires an active rooting choice for this player")
		}
	}

	now := r.now()
	windowStart := now.Add(-reactionWindow)
	log := r.reactionLog[spectatorID]
	kept := log[:0]
	for _, t := range log {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= reactionLimitPerSpec {
		r.reactionLog[spectatorID] = kept
		return gamestate.Fail("RATE_LIMITED", "reaction rate limit exceeded")
	}
	r.reactionLog[spectatorID] = append(kept, now)

	comboCount := r.comboCountLocked(emoji, now)
	playSound := comboCount == 1 || comboCount%5 == 0

	r.broadcastRoom(ctx, "SPECTATOR_REACTION", map[string]any{
		"spectatorId": spectatorID, "emoji": emoji, "targetPlayerId": targetPlayerID, "playSound": playSound,
	})
	return gamestate.Ok()
}

func (r *Room) comboCountLocked(emoji string, now time.Time) int {
	windowStart := now.Add(-comboWindow)
	seen := make(map[string]struct{})
	for spectatorID, log := range r.reactionLog {
		for _, t := range log {
			if t.After(windowStart) {
				seen[spectatorID] = struct{}{}
				break
			}
		}
	}
	_ = emoji
	return len(seen)
}

var standardEmojis = map[string]struct{}{"🎲": {}, "🎉": {}, "😬": {}, "🔥": {}, "👀": {}}
var rootingEmojis = map[string]struct{}{"📣": {}, "💪": {}}

func allowedReaction(emoji string) bool {
	if _, ok := standardEmojis[emoji]; ok {
		return true
	}
	_, ok := rootingEmojis[emoji]
	return ok
}

func isRootingEmoji(emoji string) bool {
	_, ok := rootingEmojis[emoji]
	return ok
}

// handleJoinQueue implements JOIN_QUEUE from spec.md §4.8.
func (r *Room) handleJoinQueue(ctx context.Context, spectatorID string) gamestate.Result {
	for _, u := range r.joinQueue {
		if u == spectatorID {
			return gamestate.Fail("ALREADY_QUEUED", "already in the join queue")
		}
	}
	if len(r.joinQueue) >= maxJoinQueueEntries {
		return gamestate.Fail("QUEUE_FULL", "join queue is full")
	}
	r.joinQueue = append(r.joinQueue, spectatorID)
	r.broadcastQueueUpdateLocked(ctx)
	return gamestate.Ok()
}

func (r *Room) handleLeaveQueue(ctx context.Context, spectatorID string) gamestate.Result {
	r.removeFromJoinQueueLocked(spectatorID)
	r.broadcastQueueUpdateLocked(ctx)
	return gamestate.Ok()
}

func (r *Room) broadcastQueueUpdateLocked(ctx context.Context) {
	positions := make([]map[string]any, 0, len(r.joinQueue))
	for i, u := range r.joinQueue {
		positions = append(positions, map[string]any{"userId": u, "position": i + 1})
	}
	r.broadcastRoom(ctx, "QUEUE_UPDATE", map[string]any{"queue": positions})
}

// processWarmSeatLocked promotes queued spectators into newly-open seats
// once a game ends, per spec.md §4.8 and the warm-seat-transition scenario.
func (r *Room) processWarmSeatLocked(ctx context.Context) {
	free := r.state.Settings.MaxPlayers - r.activeSeatCount()
	for free > 0 && len(r.joinQueue) > 0 {
		userID := r.joinQueue[0]
		r.joinQueue = r.joinQueue[1:]
		free--

		r.broadcastRoom(ctx, "WARM_SEAT_TRANSITION", map[string]any{"userId": userID})
		if c, ok := r.specConn(userID); ok {
			r.sendTo(ctx, c, "YOU_ARE_TRANSITIONING", map[string]any{"countdownSeconds": int(r.cfg.WarmSeatCountdown.Seconds())})
		}
		r.scheduleWarmSeatCompletionLocked(ctx, userID)
	}
}

// scheduleWarmSeatCompletionLocked gives each promoted spectator its own
// delayed completion task, since processWarmSeatLocked can free more than
// one seat at a time and the room's single alarm slot can only hold one
// pending deadline.
func (r *Room) scheduleWarmSeatCompletionLocked(ctx context.Context, userID string) {
	go func() {
		<-time.After(r.cfg.WarmSeatCountdown)
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, alreadySeated := r.seats[userID]; alreadySeated {
			return
		}
		if r.state == nil || r.state.Status != StatusWaiting {
			return
		}
		r.completeWarmSeatLocked(ctx, userID)
	}()
}

func (r *Room) completeWarmSeatLocked(ctx context.Context, userID string) {
	if c, ok := r.specConn(userID); ok {
		att := c.Attachment()
		att.Role = "player"
		c.SetAttachment(att)
		r.registry.Retag(c, []string{"user:" + userID, "room:" + r.code, "role:player", "player:" + r.code})
	}
	r.seats[userID] = &PlayerSeat{
		UserID: userID, JoinedAt: r.now(), IsConnected: true, TurnOrder: len(r.state.PlayerOrder),
		SeatOdal: "seat:" + r.code + ":" + userID,
	}
	r.state.PlayerOrder = append(r.state.PlayerOrder, userID)
	r.state.Status = StatusWaiting
	r.broadcastRoom(ctx, "WARM_SEAT_COMPLETE", map[string]any{"userId": userID})
	r.persist(ctx)
	r.publishStatus(ctx)
}
