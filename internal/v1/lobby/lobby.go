// Package lobby implements the singleton Lobby actor: cross-tab presence
// dedup, the storage-first room directory, chat history, and the
// invite/join-request RPC surface Room actors call into.
package lobby

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/verlyn13/dicee/internal/v1/bus"
	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/identity"
	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/verlyn13/dicee/internal/v1/room"
	"github.com/verlyn13/dicee/internal/v1/transport"
	"go.uber.org/zap"
)

// RoomInfo is one directory entry, upserted by RoomRPC.UpdateRoomStatus.
type RoomInfo struct {
	Code           string                `json:"code"`
	HostID         string                `json:"hostId"`
	HostName       string                `json:"hostName"`
	PlayerCount    int                   `json:"playerCount"`
	SpectatorCount int                   `json:"spectatorCount"`
	Status         string                `json:"status"`
	IsPublic       bool                  `json:"isPublic"`
	Identity       identity.RoomIdentity `json:"identity"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

// ChatMessage is one entry of the persisted, capped chat history.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sentAt"`
}

const (
	chatHistoryCap     = 200
	chatRateLimitCount = 30
	chatRateLimitEvery = time.Minute
	finishedRoomLinger = 60 * time.Second
)

// RoomRPC is the subset of Room behavior Lobby calls into — join-request and
// invite-response delivery. Satisfied by *room.Room in production.
type RoomRPC interface {
	HandleJoinRequest(ctx context.Context, requesterID, displayName, avatarSeed string) gamestate.Result
	HandleInviteResponse(ctx context.Context, inviteID, targetUserID, action string)
	HandleCancelJoinRequest(ctx context.Context, requesterID, requestID string)
	HandleSendInvite(ctx context.Context, hostUserID, targetUserID string) gamestate.Result
	HandleCancelInvite(ctx context.Context, hostUserID, inviteID string) gamestate.Result
}

var _ room.LobbyRPC = (*Lobby)(nil)

// RoomLookup resolves a room code to its RoomRPC handle; the router supplies
// this so Lobby never needs to own the Room registry itself.
type RoomLookup func(code string) (RoomRPC, bool)

// Lobby is the process-wide singleton actor.
type Lobby struct {
	mu sync.Mutex

	bus        *bus.Service
	registry   *transport.Registry
	lookupRoom RoomLookup
	logger     *zap.Logger
	now        func() time.Time

	directory   map[string]*RoomInfo
	chatHistory *list.List
	chatRate    map[string][]time.Time
}

func New(busSvc *bus.Service, lookupRoom RoomLookup, logger *zap.Logger) *Lobby {
	return &Lobby{
		bus:         busSvc,
		registry:    transport.NewRegistry(),
		lookupRoom:  lookupRoom,
		logger:      logger,
		now:         time.Now,
		directory:   make(map[string]*RoomInfo),
		chatHistory: list.New(),
		chatRate:    make(map[string][]time.Time),
	}
}

const (
	kvActiveRooms  = "lobby:activeRooms"
	kvChatHistory  = "lobby:chatHistory"
)

func (l *Lobby) persistDirectory(ctx context.Context) {
	if l.bus == nil {
		return
	}
	_ = l.bus.Set(ctx, kvActiveRooms, l.directory, 0)
}

func (l *Lobby) persistChat(ctx context.Context) {
	if l.bus == nil {
		return
	}
	msgs := make([]ChatMessage, 0, l.chatHistory.Len())
	for e := l.chatHistory.Front(); e != nil; e = e.Next() {
		msgs = append(msgs, e.Value.(ChatMessage))
	}
	_ = l.bus.Set(ctx, kvChatHistory, msgs, 0)
}

func (l *Lobby) broadcastAll(ctx context.Context, eventType string, payload any) {
	env := transport.ServerEnvelope{Type: eventType, Payload: payload, Timestamp: l.now().UnixMilli()}
	for _, c := range l.registry.All() {
		c.Send(ctx, env)
	}
}

func (l *Lobby) onlineUsers() []string {
	seen := make(map[string]struct{})
	for _, c := range l.registry.All() {
		seen[c.Attachment().UserID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// HandleConnect registers a new Lobby tab and fires presence events per
// spec.md §4.10: PRESENCE_JOIN only on a user's first open tab.
func (l *Lobby) HandleConnect(ctx context.Context, c *transport.Conn, userID, displayName, avatarSeed string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	firstTab := l.registry.CountByTag("user:"+userID) == 0
	c.SetTags([]string{"user:" + userID, "lobby"})
	c.SetAttachment(transport.Attachment{UserID: userID, DisplayName: displayName, AvatarSeed: avatarSeed, ConnectedAt: l.now()})
	l.registry.Add(c)

	l.sendTo(ctx, c, "PRESENCE_INIT", map[string]any{"onlineUsers": l.onlineUsers()})
	l.sendTo(ctx, c, "LOBBY_ROOMS_LIST", l.getPublic())
	l.sendTo(ctx, c, "LOBBY_CHAT_HISTORY", l.chatSnapshot())

	if firstTab {
		l.broadcastAll(ctx, "PRESENCE_JOIN", map[string]any{"userId": userID, "displayName": displayName})
	}
	l.broadcastAll(ctx, "LOBBY_ONLINE_USERS", map[string]any{"users": l.onlineUsers()})
}

// HandleDisconnect fires PRESENCE_LEAVE only once the user's last tab closes.
func (l *Lobby) HandleDisconnect(ctx context.Context, c *transport.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	userID := c.Attachment().UserID
	l.registry.Remove(c)
	lastTab := l.registry.CountByTag("user:"+userID) == 0

	if lastTab {
		l.broadcastAll(ctx, "PRESENCE_LEAVE", map[string]any{"userId": userID})
	}
	l.broadcastAll(ctx, "LOBBY_ONLINE_USERS", map[string]any{"users": l.onlineUsers()})
}

func (l *Lobby) sendTo(ctx context.Context, c *transport.Conn, eventType string, payload any) {
	c.Send(ctx, transport.ServerEnvelope{Type: eventType, Payload: payload, Timestamp: l.now().UnixMilli()})
}

func (l *Lobby) chatSnapshot() []ChatMessage {
	out := make([]ChatMessage, 0, l.chatHistory.Len())
	for e := l.chatHistory.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(ChatMessage))
	}
	return out
}

// getPublic returns public rooms sorted playing-first, then by spectator
// count, then by recency, per spec.md §4.10.
func (l *Lobby) getPublic() []*RoomInfo {
	out := make([]*RoomInfo, 0, len(l.directory))
	for _, info := range l.directory {
		if info.IsPublic {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Status == "playing") != (b.Status == "playing") {
			return a.Status == "playing"
		}
		if a.SpectatorCount != b.SpectatorCount {
			return a.SpectatorCount > b.SpectatorCount
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return out
}

// UpdateRoomStatus implements room.LobbyRPC: the storage-first directory
// upsert every Room publishes on connect, disconnect, and status change.
func (l *Lobby) UpdateRoomStatus(ctx context.Context, u room.RoomStatusUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()

	info, existed := l.directory[u.Code]
	if !existed {
		info = &RoomInfo{Code: u.Code, CreatedAt: l.now()}
		l.directory[u.Code] = info
	}
	info.HostID = u.HostID
	info.HostName = u.HostName
	info.PlayerCount = u.PlayerCount
	info.SpectatorCount = u.SpectatorCount
	info.Status = string(u.Status)
	info.IsPublic = u.IsPublic
	info.Identity = u.Identity
	info.UpdatedAt = u.UpdatedAt

	if u.Status == "completed" || u.Status == "abandoned" {
		go l.expireRoomAfter(u.Code, finishedRoomLinger)
	}

	l.persistDirectory(ctx)
	l.broadcastAll(ctx, "LOBBY_ROOMS_LIST", l.getPublic())
}

func (l *Lobby) expireRoomAfter(code string, d time.Duration) {
	<-time.After(d)
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.directory[code]; ok && (info.Status == "completed" || info.Status == "abandoned") {
		delete(l.directory, code)
		l.persistDirectory(context.Background())
		l.broadcastAll(context.Background(), "LOBBY_ROOMS_LIST", l.getPublic())
	}
}

// UpdateUserRoomStatus notifies a user's own open Lobby tabs that their
// room membership changed (e.g. kicked, seat expired, game ended).
func (l *Lobby) UpdateUserRoomStatus(ctx context.Context, userID, roomCode, event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.registry.ByTag("user:" + userID) {
		l.sendTo(ctx, c, "USER_ROOM_STATUS", map[string]any{"roomCode": roomCode, "event": event})
	}
}

// IsUserOnline reports whether the user has at least one open Lobby tab.
func (l *Lobby) IsUserOnline(_ context.Context, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registry.CountByTag("user:"+userID) > 0
}

// GetOnlineUserInfo returns the display name/avatar seed of any one open
// tab for userID, used by Room when relaying an invite or join request.
func (l *Lobby) GetOnlineUserInfo(_ context.Context, userID string) (string, string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.registry.ByTag("user:" + userID) {
		a := c.Attachment()
		return a.DisplayName, a.AvatarSeed, true
	}
	return "", "", false
}

// DeliverInvite pushes an INVITE_RECEIVED event to every open tab of the
// invite's target user, per spec.md §4.9 step 2.
func (l *Lobby) DeliverInvite(ctx context.Context, invite room.PendingInvite) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	conns := l.registry.ByTag("user:" + invite.TargetUserID)
	if len(conns) == 0 {
		return false
	}
	for _, c := range conns {
		l.sendTo(ctx, c, "INVITE_RECEIVED", invite)
	}
	return true
}

// DeliverJoinRequestResponse notifies the requester of a join-request
// outcome, emitting the distinct event spec.md:241 assigns to each status
// rather than one generic envelope.
func (l *Lobby) DeliverJoinRequestResponse(ctx context.Context, requesterID, roomCode string, status room.JoinRequestStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var eventType string
	switch status {
	case room.JoinRequestApproved:
		eventType = "JOIN_APPROVED"
	case room.JoinRequestDeclined:
		eventType = "JOIN_DECLINED"
	case room.JoinRequestExpired:
		eventType = "JOIN_REQUEST_EXPIRED"
	default:
		eventType = "LOBBY_ERROR"
	}
	for _, c := range l.registry.ByTag("user:" + requesterID) {
		l.sendTo(ctx, c, eventType, map[string]any{"roomCode": roomCode, "status": status})
	}
}

// DeliverInviteCancelled notifies an invite's target that the host withdrew
// it, per spec.md §4.9 step 6. Distinct from DeliverJoinRequestResponse:
// invite cancellation is never a join-request outcome.
func (l *Lobby) DeliverInviteCancelled(ctx context.Context, targetUserID, roomCode, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.registry.ByTag("user:" + targetUserID) {
		l.sendTo(ctx, c, "INVITE_CANCELLED", map[string]any{"roomCode": roomCode, "reason": reason})
	}
}

// SendHighlight relays a noteworthy in-room moment (e.g. a Dicee) to the
// lobby-wide activity feed, per spec.md §4.10.
func (l *Lobby) SendHighlight(ctx context.Context, highlight map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.broadcastAll(ctx, "LOBBY_HIGHLIGHT", highlight)
}

// DispatchChat implements LOBBY_CHAT: rate-limited, history-capped lobby
// chat. Unlike Room commands, chat has no ack/error envelope — spec.md
// treats it as fire-and-forget best effort.
func (l *Lobby) DispatchChat(ctx context.Context, userID, displayName, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-chatRateLimitEvery)
	recent := l.chatRate[userID][:0]
	for _, t := range l.chatRate[userID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= chatRateLimitCount {
		return
	}
	l.chatRate[userID] = append(recent, now)

	msg := ChatMessage{ID: fmt.Sprintf("chat:%d", now.UnixNano()), UserID: userID, DisplayName: displayName, Text: text, SentAt: now}
	l.chatHistory.PushBack(msg)
	for l.chatHistory.Len() > chatHistoryCap {
		l.chatHistory.Remove(l.chatHistory.Front())
	}
	l.persistChat(ctx)
	l.broadcastAll(ctx, "LOBBY_CHAT_MESSAGE", msg)
}

// DispatchJoinRequest forwards a requester's REQUEST_JOIN to the target
// room's actor via the injected RoomLookup, per spec.md §4.9 step 1.
func (l *Lobby) DispatchJoinRequest(ctx context.Context, c *transport.Conn, roomCode string) {
	a := c.Attachment()
	rm, ok := l.lookupRoom(roomCode)
	if !ok {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: "ROOM_NOT_FOUND", Message: "no such room"})
		return
	}
	res := rm.HandleJoinRequest(ctx, a.UserID, a.DisplayName, a.AvatarSeed)
	if !res.OK {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: res.Code, Message: res.Message})
		return
	}
	l.sendTo(ctx, c, "JOIN_REQUEST_SENT", map[string]any{"roomCode": roomCode})
}

// DispatchSendInvite forwards the Lobby-level SEND_INVITE to the target
// room's actor, per spec.md:193.
func (l *Lobby) DispatchSendInvite(ctx context.Context, c *transport.Conn, roomCode, targetUserID string) {
	rm, ok := l.lookupRoom(roomCode)
	if !ok {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: "ROOM_NOT_FOUND", Message: "no such room"})
		return
	}
	res := rm.HandleSendInvite(ctx, c.Attachment().UserID, targetUserID)
	if !res.OK {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: res.Code, Message: res.Message})
	}
}

// DispatchCancelInvite forwards the Lobby-level CANCEL_INVITE to the target
// room's actor, per spec.md:193.
func (l *Lobby) DispatchCancelInvite(ctx context.Context, c *transport.Conn, roomCode, inviteID string) {
	rm, ok := l.lookupRoom(roomCode)
	if !ok {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: "ROOM_NOT_FOUND", Message: "no such room"})
		return
	}
	res := rm.HandleCancelInvite(ctx, c.Attachment().UserID, inviteID)
	if !res.OK {
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: res.Code, Message: res.Message})
	}
}

// DispatchCancelJoinRequest forwards CANCEL_JOIN_REQUEST to the room actor.
func (l *Lobby) DispatchCancelJoinRequest(ctx context.Context, c *transport.Conn, roomCode, requestID string) {
	rm, ok := l.lookupRoom(roomCode)
	if !ok {
		return
	}
	rm.HandleCancelJoinRequest(ctx, c.Attachment().UserID, requestID)
}

// DispatchInviteResponse forwards INVITE_RESPONSE to the room actor.
func (l *Lobby) DispatchInviteResponse(ctx context.Context, c *transport.Conn, roomCode, inviteID, action string) {
	rm, ok := l.lookupRoom(roomCode)
	if !ok {
		return
	}
	rm.HandleInviteResponse(ctx, inviteID, c.Attachment().UserID, action)
}

// Dispatch routes one Lobby-scoped client command, mirroring room.Dispatch's
// shape but for the singleton Lobby connection rather than a room code. The
// accepted set matches spec.md:193. A panic inside a single command handler
// is recovered here rather than crashing the process, the same discipline
// room.Dispatch applies.
func (l *Lobby) Dispatch(ctx context.Context, c *transport.Conn, env transport.ClientEnvelope) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "panic in lobby dispatch", zap.String("commandType", env.Type), zap.Any("panic", rec))
		}
	}()

	switch env.Type {
	case "PING":
		l.sendTo(ctx, c, "PONG", map[string]any{})

	case "GET_ROOMS":
		l.mu.Lock()
		rooms := l.getPublic()
		l.mu.Unlock()
		l.sendTo(ctx, c, "LOBBY_ROOMS_LIST", rooms)

	case "GET_ONLINE_USERS":
		l.mu.Lock()
		users := l.onlineUsers()
		l.mu.Unlock()
		l.sendTo(ctx, c, "LOBBY_ONLINE_USERS", map[string]any{"users": users})

	case "LOBBY_CHAT":
		var p struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		a := c.Attachment()
		l.DispatchChat(ctx, a.UserID, a.DisplayName, p.Text)

	case "REQUEST_JOIN":
		var p struct {
			RoomCode string `json:"roomCode"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		l.DispatchJoinRequest(ctx, c, p.RoomCode)

	case "CANCEL_JOIN_REQUEST":
		var p struct {
			RoomCode  string `json:"roomCode"`
			RequestID string `json:"requestId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		l.DispatchCancelJoinRequest(ctx, c, p.RoomCode, p.RequestID)

	case "SEND_INVITE":
		var p struct {
			RoomCode     string `json:"roomCode"`
			TargetUserID string `json:"targetUserId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		l.DispatchSendInvite(ctx, c, p.RoomCode, p.TargetUserID)

	case "CANCEL_INVITE":
		var p struct {
			RoomCode string `json:"roomCode"`
			InviteID string `json:"inviteId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		l.DispatchCancelInvite(ctx, c, p.RoomCode, p.InviteID)

	case "INVITE_RESPONSE":
		var p struct {
			RoomCode string `json:"roomCode"`
			InviteID string `json:"inviteId"`
			Action   string `json:"action"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		l.DispatchInviteResponse(ctx, c, p.RoomCode, p.InviteID, p.Action)

	case "ROOM_CREATED", "ROOM_UPDATED", "ROOM_CLOSED":
		// No-op backwards-compat per spec.md:193; the directory already
		// converges on these via UpdateRoomStatus.

	default:
		l.sendTo(ctx, c, "LOBBY_ERROR", transport.ErrorPayload{Code: transport.CodeUnknownCommand, Message: "unknown command " + env.Type})
	}
}
