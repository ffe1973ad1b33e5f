package room

import (
	"context"
	"fmt"

	"github.com/verlyn13/dicee/internal/v1/identity"
	"github.com/verlyn13/dicee/internal/v1/transport"
)

// ConnectRequest is what the router hands the Room after a successful
// WebSocket upgrade and token verification.
type ConnectRequest struct {
	UserID      string
	DisplayName string
	AvatarSeed  string
	Role        string // "player" | "spectator"
}

const closeRoomNotFound = 4004
const closeRoomFull = 4003

// HandleConnect runs the onConnect sequence from spec.md §4.2 against an
// already-upgraded socket.
func (r *Room) HandleConnect(ctx context.Context, ws *transport.Conn, req ConnectRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Role == "spectator" {
		r.handleSpectatorConnectLocked(ctx, ws, req)
		return
	}
	r.handlePlayerConnectLocked(ctx, ws, req)
}

func (r *Room) handleSpectatorConnectLocked(ctx context.Context, ws *transport.Conn, req ConnectRequest) {
	if r.state == nil {
		ws.Close(closeRoomNotFound, "room not found")
		return
	}
	tags := []string{"user:" + req.UserID, "room:" + r.code, "role:spectator", "spectator:" + r.code}
	ws.SetTags(tags)
	ws.SetAttachment(transport.Attachment{
		UserID: req.UserID, DisplayName: req.DisplayName, AvatarSeed: req.AvatarSeed,
		ConnectedAt: r.now(), Role: "spectator",
	})
	r.registry.Add(ws)

	r.sendTo(ctx, ws, "SPECTATOR_CONNECTED", map[string]any{"roomCode": r.code})
	if r.state.Status == StatusPlaying || r.state.Status == StatusStarting {
		r.sendTo(ctx, ws, "GAME_STATE_SYNC", r.scorer.GetState())
	}
	r.broadcastRoom(ctx, "SPECTATOR_JOINED", map[string]any{"userId": req.UserID, "displayName": req.DisplayName})
	r.publishStatus(ctx)
	if r.lobby != nil {
		r.lobby.UpdateUserRoomStatus(ctx, req.UserID, r.code, "entered")
	}
}

func (r *Room) handlePlayerConnectLocked(ctx context.Context, ws *transport.Conn, req ConnectRequest) {
	reconnected := false

	switch {
	case r.state == nil:
		r.state = &RoomState{
			RoomCode:   r.code,
			HostUserID: req.UserID,
			CreatedAt:  r.now(),
			Settings:   RoomSettings{MaxPlayers: 4, TurnTimeoutSeconds: 60, IsPublic: true, AllowSpectators: true},
			Status:     StatusWaiting,
			Identity:   identity.Generate(r.code),
		}
		r.reserveSeatLocked(req, true, 0)

	case r.seats[req.UserID] != nil:
		seat := r.seats[req.UserID]
		now := r.now()
		if seat.IsConnected || (seat.ReconnectDeadline != nil && now.Before(*seat.ReconnectDeadline)) {
			seat.IsConnected = true
			seat.DisconnectedAt = nil
			seat.ReconnectDeadline = nil
			reconnected = true
			if r.state.Status == StatusPaused {
				r.resumeFromPauseLocked(ctx)
			}
		} else {
			delete(r.seats, req.UserID)
			r.removeFromPlayerOrderLocked(req.UserID)
			if !r.reserveSeatLocked(req, false, len(r.state.PlayerOrder)) {
				ws.Close(closeRoomFull, "room full")
				return
			}
		}

	default:
		if !r.reserveSeatLocked(req, false, len(r.state.PlayerOrder)) {
			ws.Close(closeRoomFull, "room full")
			return
		}
	}

	tags := []string{"user:" + req.UserID, "room:" + r.code, "role:player", "player:" + r.code}
	ws.SetTags(tags)
	ws.SetAttachment(transport.Attachment{
		UserID: req.UserID, DisplayName: req.DisplayName, AvatarSeed: req.AvatarSeed,
		ConnectedAt: r.now(), IsHost: req.UserID == r.state.HostUserID, Role: "player",
	})
	r.registry.Add(ws)

	payload := map[string]any{
		"players":      r.seats,
		"aiPlayers":    r.state.AIPlayers,
		"spectators":   len(r.registry.ByTag("spectator:" + r.code)),
		"reconnected":  reconnected,
		"identity":     r.state.Identity,
		"status":       r.state.Status,
	}
	r.sendTo(ctx, ws, "CONNECTED", payload)
	if reconnected && (r.state.Status == StatusPlaying || r.state.Status == StatusStarting) {
		r.sendTo(ctx, ws, "GAME_STATE_SYNC", r.scorer.GetState())
	}
	if reconnected {
		r.broadcastRoom(ctx, "PLAYER_RECONNECTED", map[string]any{"userId": req.UserID})
	} else {
		r.broadcastRoom(ctx, "PLAYER_JOINED", map[string]any{"userId": req.UserID, "displayName": req.DisplayName})
	}
	r.persist(ctx)
	r.publishStatus(ctx)
	if r.lobby != nil {
		r.lobby.UpdateUserRoomStatus(ctx, req.UserID, r.code, "entered")
	}
}

// reserveSeatLocked reserves a seat for req if capacity allows. isHost and
// turnOrder are supplied by the caller since the room-creation path and the
// join path compute them differently.
func (r *Room) reserveSeatLocked(req ConnectRequest, isHost bool, turnOrder int) bool {
	if r.activeSeatCount() >= r.state.Settings.MaxPlayers {
		return false
	}
	r.seats[req.UserID] = &PlayerSeat{
		UserID: req.UserID, DisplayName: req.DisplayName, AvatarSeed: req.AvatarSeed,
		JoinedAt: r.now(), IsConnected: true, IsHost: isHost, TurnOrder: turnOrder,
		SeatOdal: fmt.Sprintf("seat:%s:%s", r.code, req.UserID),
	}
	r.state.PlayerOrder = append(r.state.PlayerOrder, req.UserID)
	return true
}

func (r *Room) removeFromPlayerOrderLocked(userID string) {
	out := r.state.PlayerOrder[:0]
	for _, u := range r.state.PlayerOrder {
		if u != userID {
			out = append(out, u)
		}
	}
	r.state.PlayerOrder = out
}

// HandleDisconnect runs the close/error sequence from spec.md §4.2.
func (r *Room) HandleDisconnect(ctx context.Context, ws *transport.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	att := ws.Attachment()
	r.registry.Remove(ws)
	r.removeFromJoinQueueLocked(att.UserID)

	if att.Role != "player" {
		r.broadcastRoom(ctx, "SPECTATOR_LEFT", map[string]any{"userId": att.UserID})
		r.publishStatus(ctx)
		return
	}

	seat, ok := r.seats[att.UserID]
	if !ok {
		return
	}
	now := r.now()
	deadline := now.Add(r.cfg.ReconnectWindow)
	seat.IsConnected = false
	seat.DisconnectedAt = &now
	seat.ReconnectDeadline = &deadline
	r.broadcastRoom(ctx, "PLAYER_DISCONNECTED", map[string]any{"userId": att.UserID, "reconnectDeadline": deadline})
	r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmSeatExpiration}, r.cfg.ReconnectWindow)

	if att.UserID == r.state.HostUserID {
		r.cancelAllInvitesLocked(ctx, "host_left")
	}

	if r.state.Status == StatusPlaying && r.connectedPlayerCount() == 0 {
		r.pauseLocked(ctx)
	}

	r.persist(ctx)
	r.publishStatus(ctx)
	if r.lobby != nil {
		r.lobby.UpdateUserRoomStatus(ctx, att.UserID, r.code, "left")
	}
}

func (r *Room) removeFromJoinQueueLocked(userID string) {
	out := r.joinQueue[:0]
	for _, u := range r.joinQueue {
		if u != userID {
			out = append(out, u)
		}
	}
	r.joinQueue = out
}

// pauseLocked transitions a playing room to paused per spec.md §4.3.
func (r *Room) pauseLocked(ctx context.Context) {
	now := r.now()
	r.state.Status = StatusPaused
	r.state.PausedAt = &now
	r.scheduleAlarmLocked(ctx, AlarmData{Type: AlarmPauseTimeout}, r.cfg.PauseTimeout)
	r.broadcastToTag(ctx, "spectator:"+r.code, "ROOM_STATUS", map[string]any{"status": StatusPaused, "reason": "all_players_disconnected"})
}

func (r *Room) resumeFromPauseLocked(ctx context.Context) {
	r.state.Status = StatusPlaying
	r.state.PausedAt = nil
	r.clearAlarmIfLocked(AlarmPauseTimeout)
	r.broadcastRoom(ctx, "ROOM_STATUS", map[string]any{"status": StatusPlaying, "reason": "player_reconnected"})
}

func (r *Room) cancelAllInvitesLocked(ctx context.Context, reason string) {
	for id, inv := range r.pendingInvites {
		if r.lobby != nil {
			r.lobby.DeliverInviteCancelled(ctx, inv.TargetUserID, r.code, reason)
		}
		delete(r.pendingInvites, id)
	}
}
