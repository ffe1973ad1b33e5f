package room

import (
	"context"
	"time"
)

// scheduleAlarmLocked overwrites the room's single alarm slot. It is only
// safe for alarm types a room can have at most one of pending at a time
// (turn timeout, AFK check, seat expiration, pause timeout, room cleanup,
// AI turn timeout). Deadlines keyed per entity — join-request expiry,
// per-seat warm-seat completion, invite expiry — run as their own detached
// self-checking goroutines instead (see scheduleInviteExpiryLocked,
// scheduleJoinRequestExpiryLocked, scheduleWarmSeatCompletionLocked).
func (r *Room) scheduleAlarmLocked(ctx context.Context, data AlarmData, in time.Duration) {
	if r.alarmTimer != nil {
		r.alarmTimer.Stop()
	}
	r.alarm = &data
	if r.bus != nil {
		_ = r.bus.Set(ctx, r.kvKey("alarm_data"), data, 0)
	}
	r.alarmTimer = time.AfterFunc(in, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.fireAlarmLocked(ctx, data)
	})
}

func (r *Room) clearAlarmIfLocked(t AlarmType) {
	if r.alarm != nil && r.alarm.Type == t {
		if r.alarmTimer != nil {
			r.alarmTimer.Stop()
		}
		r.alarm = nil
	}
}

func (r *Room) fireAlarmLocked(ctx context.Context, data AlarmData) {
	if r.alarm == nil || r.alarm.Type != data.Type {
		return // a later schedule superseded this one; self-check and discard
	}
	switch data.Type {
	case AlarmTurnTimeout:
		r.fireTurnTimeoutLocked(ctx, data.UserID)
	case AlarmAFKCheck:
		r.fireAFKCheckLocked(ctx, data.UserID)
	case AlarmRoomCleanup:
		r.fireRoomCleanupLocked(ctx, data)
	case AlarmSeatExpiration:
		r.fireSeatExpirationLocked(ctx)
	case AlarmPauseTimeout:
		r.firePauseTimeoutLocked(ctx)
	case AlarmAITurnTimeout:
		r.fireAITurnTimeoutLocked(ctx, data.PlayerID, data.RetryCount)
	}
}

// fireTurnTimeoutLocked forces a minimum-value score for a player who never
// acted, per spec.md §4.6.
func (r *Room) fireTurnTimeoutLocked(ctx context.Context, userID string) {
	gs := r.scorer.GetState()
	if gs.CurrentPlayerID() != userID {
		return
	}
	result, err := r.scorer.SkipTurn(userID, "timeout")
	if err != nil {
		return
	}
	r.broadcastRoom(ctx, "TURN_SKIPPED", map[string]any{"playerId": userID, "score": result.Score})
	if result.GameCompleted {
		r.finishGameLocked(ctx, result.Rankings)
		return
	}
	r.clearKibitzLocked(ctx)
	r.afterTurnStartLocked(ctx, result.NextPlayerID)
}

// fireAFKCheckLocked marks a silent player disconnected and escalates to a
// turn timeout if it's currently their turn, per spec.md §4.6.
func (r *Room) fireAFKCheckLocked(ctx context.Context, userID string) {
	if r.registry.CountByTag("user:"+userID) > 0 {
		return
	}
	seat, ok := r.seats[userID]
	if ok {
		now := r.now()
		deadline := now.Add(r.cfg.ReconnectWindow)
		seat.IsConnected = false
		seat.DisconnectedAt = &now
		seat.ReconnectDeadline = &deadline
		r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmSeatExpiration}, r.cfg.ReconnectWindow)
	}
	r.broadcastRoom(ctx, "PLAYER_AFK", map[string]any{"userId": userID})
	if r.scorer.GetState().CurrentPlayerID() == userID {
		r.fireTurnTimeoutLocked(ctx, userID)
	}
}

// fireRoomCleanupLocked abandons an empty room, per spec.md §4.6. Warm-seat
// promotion completion runs on its own per-seat detached task (see
// scheduleWarmSeatCompletionLocked in spectator.go), not through this alarm.
func (r *Room) fireRoomCleanupLocked(ctx context.Context, data AlarmData) {
	if r.connectedPlayerCount() > 0 {
		return
	}
	r.state.Status = StatusAbandoned
	for _, c := range r.registry.ByTag("spectator:" + r.code) {
		c.Close(1000, "room abandoned")
	}
	r.persist(ctx)
	r.publishStatus(ctx)
}

// fireSeatExpirationLocked removes every seat past its reconnect deadline,
// per spec.md §4.6 and the seat-expiry-purity testable property.
func (r *Room) fireSeatExpirationLocked(ctx context.Context) {
	now := r.now()
	var earliest *time.Time
	for uid, seat := range r.seats {
		if seat.IsConnected {
			continue
		}
		if seat.ReconnectDeadline != nil && !seat.ReconnectDeadline.After(now) {
			delete(r.seats, uid)
			r.removeFromPlayerOrderLocked(uid)
			r.broadcastRoom(ctx, "PLAYER_SEAT_EXPIRED", map[string]any{"userId": uid})
			continue
		}
		if seat.ReconnectDeadline != nil && (earliest == nil || seat.ReconnectDeadline.Before(*earliest)) {
			earliest = seat.ReconnectDeadline
		}
	}
	r.persist(ctx)
	r.publishStatus(ctx)
	if earliest != nil {
		r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmSeatExpiration}, earliest.Sub(now))
		return
	}
	r.clearAlarmIfLocked(AlarmSeatExpiration)
	if r.state.Status == StatusWaiting && len(r.seats) == 0 {
		r.fireRoomCleanupLocked(ctx, AlarmData{Type: AlarmRoomCleanup})
	}
}

func (r *Room) firePauseTimeoutLocked(ctx context.Context) {
	if r.state.Status != StatusPaused {
		return
	}
	r.state.Status = StatusAbandoned
	for _, c := range r.registry.ByTag("spectator:" + r.code) {
		c.Close(1000, "room abandoned")
	}
	r.persist(ctx)
	r.publishStatus(ctx)
}

// fireAITurnTimeoutLocked is the watchdog described in spec.md §4.7: if the
// AI turn never signaled completion, retry up to AITurnMaxRetries times,
// then force the lowest-value open category to unstick the game.
func (r *Room) fireAITurnTimeoutLocked(ctx context.Context, playerID string, retryCount int) {
	if r.bus != nil {
		exists, _ := r.bus.Get(ctx, r.kvKey("ai_turn_state"), &map[string]any{})
		if !exists {
			return
		}
	}
	gs := r.scorer.GetState()
	if gs.CurrentPlayerID() != playerID {
		return
	}
	if retryCount < r.cfg.AITurnMaxRetries {
		r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmAITurnTimeout, PlayerID: playerID, RetryCount: retryCount + 1}, 5*time.Second)
		r.triggerAITurnLocked(ctx, playerID)
		return
	}
	result, err := r.scorer.SkipTurn(playerID, "ai_watchdog_exhausted")
	if err != nil {
		return
	}
	if r.bus != nil {
		_ = r.bus.Del(ctx, r.kvKey("ai_turn_state"))
	}
	r.broadcastRoom(ctx, "TURN_SKIPPED", map[string]any{"playerId": playerID, "score": result.Score, "forced": true})
	if result.GameCompleted {
		r.finishGameLocked(ctx, result.Rankings)
		return
	}
	r.clearKibitzLocked(ctx)
	r.afterTurnStartLocked(ctx, result.NextPlayerID)
}
