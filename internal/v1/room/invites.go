package room

import (
	"context"
	"fmt"
	"time"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
)

// HandleSendInvite is the Lobby RPC entry point for the Lobby-accepted
// SEND_INVITE command (spec.md:193), used when the host issues the command
// from their Lobby connection rather than from inside the room socket.
func (r *Room) HandleSendInvite(ctx context.Context, hostUserID, targetUserID string) gamestate.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleSendInvite(ctx, hostUserID, targetUserID)
}

// HandleCancelInvite is the Lobby RPC entry point for the Lobby-accepted
// CANCEL_INVITE command (spec.md:193).
func (r *Room) HandleCancelInvite(ctx context.Context, hostUserID, inviteID string) gamestate.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleCancelInvite(ctx, hostUserID, inviteID)
}

// handleSendInvite implements SEND_INVITE from spec.md §4.9.
func (r *Room) handleSendInvite(ctx context.Context, hostUserID, targetUserID string) gamestate.Result {
	if hostUserID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may send invites")
	}
	if r.state.Status != StatusWaiting {
		return gamestate.Fail("WRONG_PHASE", "room is not waiting")
	}
	if r.activeSeatCount() >= r.state.Settings.MaxPlayers {
		return gamestate.Fail("ROOM_FULL", "room is full")
	}
	for _, inv := range r.pendingInvites {
		if inv.TargetUserID == targetUserID {
			return gamestate.Fail("ALREADY_INVITED", "user already has a pending invite")
		}
	}
	if _, ok := r.seats[targetUserID]; ok {
		return gamestate.Fail("ALREADY_INVITED", "user is already in the room")
	}
	if r.lobby == nil || !r.lobby.IsUserOnline(ctx, targetUserID) {
		return gamestate.Fail("USER_OFFLINE", "target user is not online")
	}

	invite := &PendingInvite{
		ID: fmt.Sprintf("invite:%s:%s:%d", r.code, targetUserID, r.now().UnixNano()),
		RoomCode: r.code, TargetUserID: targetUserID, HostUserID: hostUserID,
		CreatedAt: r.now(), ExpiresAt: r.now().Add(r.cfg.InviteExpiry),
	}
	if !r.lobby.DeliverInvite(ctx, *invite) {
		return gamestate.Fail("DELIVERY_FAILED", "failed to deliver invite")
	}
	r.pendingInvites[invite.ID] = invite
	r.scheduleInviteExpiryLocked(ctx, invite.ID)

	if host := r.hostConn(); host != nil {
		r.sendTo(ctx, host, "INVITE_SENT", map[string]any{"inviteId": invite.ID, "targetUserId": targetUserID})
	}
	return gamestate.Ok()
}

// scheduleInviteExpiryLocked is an advisory delayed task per spec.md §9's
// design note on optional wall-clock expirations: it self-checks the
// invite's pending status before acting, so it never double-fires.
func (r *Room) scheduleInviteExpiryLocked(ctx context.Context, inviteID string) {
	go func() {
		<-time.After(r.cfg.InviteExpiry)
		r.mu.Lock()
		defer r.mu.Unlock()
		inv, ok := r.pendingInvites[inviteID]
		if !ok {
			return
		}
		delete(r.pendingInvites, inviteID)
		if r.lobby != nil {
			r.lobby.DeliverJoinRequestResponse(ctx, inv.TargetUserID, r.code, JoinRequestExpired)
		}
		if host := r.hostConn(); host != nil {
			r.sendTo(ctx, host, "INVITE_EXPIRED", map[string]any{"inviteId": inviteID})
		}
	}()
}

// scheduleJoinRequestExpiryLocked is keyed per request ID rather than routed
// through the room's single alarm slot, since multiple join requests can be
// pending at once alongside an unrelated turn/AFK/seat deadline.
func (r *Room) scheduleJoinRequestExpiryLocked(ctx context.Context, requestID string) {
	go func() {
		<-time.After(r.cfg.JoinRequestExpiry)
		r.mu.Lock()
		defer r.mu.Unlock()
		req, ok := r.joinRequests[requestID]
		if !ok || req.Status != JoinRequestPending {
			return
		}
		req.Status = JoinRequestExpired
		delete(r.joinRequests, requestID)
		if r.lobby != nil {
			r.lobby.DeliverJoinRequestResponse(ctx, req.RequesterID, r.code, JoinRequestExpired)
		}
		if host := r.hostConn(); host != nil {
			r.sendTo(ctx, host, "JOIN_REQUEST_EXPIRED", map[string]any{"requestId": requestID})
		}
	}()
}

// handleCancelInvite implements CANCEL_INVITE.
func (r *Room) handleCancelInvite(ctx context.Context, hostUserID, inviteID string) gamestate.Result {
	if hostUserID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may cancel invites")
	}
	inv, ok := r.pendingInvites[inviteID]
	if !ok {
		return gamestate.Fail("INVITE_NOT_FOUND", "no such invite")
	}
	delete(r.pendingInvites, inviteID)
	if r.lobby != nil {
		r.lobby.DeliverInviteCancelled(ctx, inv.TargetUserID, r.code, "host_cancelled")
	}
	return gamestate.Ok()
}

// HandleInviteResponse is called by Lobby's RPC surface when a target user
// accepts or declines an invite, per spec.md §4.9 step 5.
func (r *Room) HandleInviteResponse(ctx context.Context, inviteID, targetUserID, action string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.pendingInvites[inviteID]
	if !ok || inv.TargetUserID != targetUserID {
		return
	}
	delete(r.pendingInvites, inviteID)
	host := r.hostConn()
	if host == nil {
		return
	}
	if action == "accept" {
		r.sendTo(ctx, host, "INVITE_ACCEPTED", map[string]any{"inviteId": inviteID, "targetUserId": targetUserID})
	} else {
		r.sendTo(ctx, host, "INVITE_DECLINED", map[string]any{"inviteId": inviteID, "targetUserId": targetUserID})
	}
}

// HandleJoinRequest is the Lobby RPC entry point from spec.md §4.9 step 1.
func (r *Room) HandleJoinRequest(ctx context.Context, requesterID, displayName, avatarSeed string) gamestate.Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil || r.state.Status != StatusWaiting {
		return gamestate.Fail("WRONG_PHASE", "room is not accepting join requests")
	}
	if r.activeSeatCount() >= r.state.Settings.MaxPlayers {
		return gamestate.Fail("ROOM_FULL", "room is full")
	}

	id := fmt.Sprintf("joinreq:%s:%s:%d", r.code, requesterID, r.now().UnixNano())
	r.joinRequests[id] = &JoinRequest{
		ID: id, RequesterID: requesterID, DisplayName: displayName, AvatarSeed: avatarSeed,
		Status: JoinRequestPending, CreatedAt: r.now(),
	}
	r.scheduleJoinRequestExpiryLocked(ctx, id)

	if host := r.hostConn(); host != nil {
		r.sendTo(ctx, host, "JOIN_REQUEST_RECEIVED", map[string]any{
			"requestId": id, "requesterId": requesterID, "displayName": displayName,
		})
	}
	return gamestate.Ok()
}

// handleJoinRequestResponse implements JOIN_REQUEST_RESPONSE from spec.md §4.9 step 2.
func (r *Room) handleJoinRequestResponse(ctx context.Context, hostUserID, requestID string, approved bool) gamestate.Result {
	if hostUserID != r.state.HostUserID {
		return gamestate.Fail("NOT_HOST", "only the host may respond to join requests")
	}
	req, ok := r.joinRequests[requestID]
	if !ok || req.Status != JoinRequestPending {
		return gamestate.Fail("REQUEST_NOT_FOUND", "no such pending join request")
	}

	status := JoinRequestDeclined
	if approved {
		status = JoinRequestApproved
	}
	req.Status = status
	delete(r.joinRequests, requestID)
	if r.lobby != nil {
		r.lobby.DeliverJoinRequestResponse(ctx, req.RequesterID, r.code, status)
	}
	return gamestate.Ok()
}

// HandleCancelJoinRequest implements the requester cancel path from spec.md §4.9 step 3.
func (r *Room) HandleCancelJoinRequest(ctx context.Context, requesterID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.joinRequests[requestID]
	if !ok || req.RequesterID != requesterID {
		return
	}
	delete(r.joinRequests, requestID)
	if host := r.hostConn(); host != nil {
		r.sendTo(ctx, host, "JOIN_REQUEST_CANCELLED", map[string]any{"requestId": requestID})
	}
}
