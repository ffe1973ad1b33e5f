// Package room implements the per-room-code actor: connection lifecycle,
// seat reservation, the turn state machine, alarm-driven timeouts, AI turn
// triggering, and spectator coordination. Each Room instance is single-writer
// — every public entry point takes the room's mutex for its whole duration,
// giving the same one-handler-at-a-time guarantee an actor mailbox would,
// without the bookkeeping of a channel-based dispatch loop.
package room

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/verlyn13/dicee/internal/v1/ai"
	"github.com/verlyn13/dicee/internal/v1/bus"
	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/identity"
	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/verlyn13/dicee/internal/v1/transport"
	"go.uber.org/zap"
)

// LobbyRPC is the subset of Lobby behavior a Room calls into; satisfied by
// *lobby.Lobby in production and a fake in tests.
type LobbyRPC interface {
	UpdateRoomStatus(ctx context.Context, update RoomStatusUpdate)
	UpdateUserRoomStatus(ctx context.Context, userID, roomCode, event string)
	IsUserOnline(ctx context.Context, userID string) bool
	GetOnlineUserInfo(ctx context.Context, userID string) (displayName, avatarSeed string, ok bool)
	DeliverInvite(ctx context.Context, invite PendingInvite) bool
	DeliverJoinRequestResponse(ctx context.Context, requesterID, roomCode string, status JoinRequestStatus)
	DeliverInviteCancelled(ctx context.Context, targetUserID, roomCode, reason string)
	SendHighlight(ctx context.Context, highlight map[string]any)
}

// RoomStatusUpdate is the payload Room publishes to Lobby on every
// status-relevant mutation; Lobby's directory upserts from this.
type RoomStatusUpdate struct {
	Code             string                `json:"code"`
	HostID           string                `json:"hostId"`
	HostName         string                `json:"hostName"`
	PlayerCount      int                   `json:"playerCount"`
	SpectatorCount   int                   `json:"spectatorCount"`
	Status           RoomStatus            `json:"status"`
	IsPublic         bool                  `json:"isPublic"`
	Identity         identity.RoomIdentity `json:"identity"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// Config carries the room-actor timing knobs sourced from config.Config.
type Config struct {
	ReconnectWindow        time.Duration
	AFKGrace               time.Duration
	PauseTimeout           time.Duration
	SeatSweepInterval       time.Duration
	InviteExpiry           time.Duration
	JoinRequestExpiry      time.Duration
	AITurnWatchdog         time.Duration
	AITurnMaxRetries       int
	WarmSeatCountdown      time.Duration
}

// Room is one room-code's actor instance.
type Room struct {
	mu sync.Mutex

	code     string
	cfg      Config
	bus      *bus.Service
	lobby    LobbyRPC
	registry *transport.Registry
	scorer   gamestate.Scorer
	ai       ai.Manager
	logger   *zap.Logger
	now      func() time.Time

	state *RoomState
	seats map[string]*PlayerSeat

	alarm      *AlarmData
	alarmTimer *time.Timer

	predictions     map[predictionKey][]Prediction
	rooting         map[string]RootingChoice
	rootingChanges  map[string]int
	kibitzVotes     map[string]KibitzVote
	reactionLog     map[string][]time.Time
	joinQueue       []string
	pendingInvites  map[string]*PendingInvite
	joinRequests    map[string]*JoinRequest
	galleryPoints   map[string]int

	onEmpty func(code string)
}

// New constructs an empty, not-yet-loaded Room actor for code.
func New(code string, cfg Config, busSvc *bus.Service, lobby LobbyRPC, scorer gamestate.Scorer, aiMgr ai.Manager, logger *zap.Logger, onEmpty func(string)) *Room {
	return &Room{
		code:           code,
		cfg:            cfg,
		bus:            busSvc,
		lobby:          lobby,
		registry:       transport.NewRegistry(),
		scorer:         scorer,
		ai:             aiMgr,
		logger:         logger,
		now:            time.Now,
		seats:          make(map[string]*PlayerSeat),
		predictions:    make(map[predictionKey][]Prediction),
		rooting:        make(map[string]RootingChoice),
		rootingChanges: make(map[string]int),
		kibitzVotes:    make(map[string]KibitzVote),
		reactionLog:    make(map[string][]time.Time),
		pendingInvites: make(map[string]*PendingInvite),
		joinRequests:   make(map[string]*JoinRequest),
		galleryPoints:  make(map[string]int),
		onEmpty:        onEmpty,
	}
}

func (r *Room) kvKey(suffix string) string { return "room:" + r.code + ":" + suffix }

// SpectatorsAllowed reports whether the room exists yet and, if so, whether
// its host has allowed spectator connections. The router consults this
// before upgrading a role=spectator request, per spec.md §6.
func (r *Room) SpectatorsAllowed() (exists, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return false, false
	}
	return true, r.state.Settings.AllowSpectators
}

// persist writes the room's full mutable state to the KV store; a no-op
// (successfully) when no bus is configured, so the actor runs in-memory-only
// for tests and single-process deployments.
func (r *Room) persist(ctx context.Context) {
	if r.bus == nil {
		return
	}
	_ = r.bus.Set(ctx, r.kvKey("room"), r.state, 0)
	_ = r.bus.Set(ctx, r.kvKey("seats"), r.seats, 0)
	if gs := r.scorer.GetState(); gs != nil {
		_ = r.bus.Set(ctx, r.kvKey("game"), gs, 0)
	}
	if r.alarm != nil {
		_ = r.bus.Set(ctx, r.kvKey("alarm_data"), r.alarm, 0)
	}
}

// broadcastToTag sends an event envelope to every connection carrying tag.
func (r *Room) broadcastToTag(ctx context.Context, tag, eventType string, payload any) {
	env := transport.ServerEnvelope{Type: eventType, Payload: payload, Timestamp: r.now().UnixMilli()}
	for _, c := range r.registry.ByTag(tag) {
		c.Send(ctx, env)
	}
}

// broadcastRoom sends to every player and spectator connection in the room.
func (r *Room) broadcastRoom(ctx context.Context, eventType string, payload any) {
	r.broadcastToTag(ctx, "player:"+r.code, eventType, payload)
	r.broadcastToTag(ctx, "spectator:"+r.code, eventType, payload)
}

func (r *Room) sendTo(ctx context.Context, c *transport.Conn, eventType string, payload any) {
	c.Send(ctx, transport.ServerEnvelope{Type: eventType, Payload: payload, Timestamp: r.now().UnixMilli()})
}

func (r *Room) sendError(ctx context.Context, c *transport.Conn, code, message string) {
	r.sendTo(ctx, c, "ERROR", transport.ErrorPayload{Code: code, Message: message})
}

func (r *Room) connectedPlayerCount() int {
	n := 0
	for _, s := range r.seats {
		if s.IsConnected {
			n++
		}
	}
	return n
}

func (r *Room) activeSeatCount() int {
	now := r.now()
	n := 0
	for _, s := range r.seats {
		if s.IsConnected || (s.ReconnectDeadline != nil && now.Before(*s.ReconnectDeadline)) {
			n++
		}
	}
	return n
}

func (r *Room) hostConn() *transport.Conn {
	for _, c := range r.registry.ByTag("player:" + r.code) {
		if c.Attachment().UserID == r.state.HostUserID {
			return c
		}
	}
	return nil
}

func (r *Room) publishStatus(ctx context.Context) {
	if r.lobby == nil || r.state == nil {
		return
	}
	hostName := ""
	if s, ok := r.seats[r.state.HostUserID]; ok {
		hostName = s.DisplayName
	}
	r.lobby.UpdateRoomStatus(ctx, RoomStatusUpdate{
		Code:           r.code,
		HostID:         r.state.HostUserID,
		HostName:       hostName,
		PlayerCount:    r.connectedPlayerCount(),
		SpectatorCount: r.registry.CountByTag("spectator:" + r.code),
		Status:         r.state.Status,
		IsPublic:       r.state.Settings.IsPublic,
		Identity:       r.state.Identity,
		UpdatedAt:      r.now(),
	})
}

// marshalPayload is a small helper for RPC/debug handlers that need a plain
// JSON-able snapshot of room state.
func (r *Room) marshalPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal room payload", zap.Error(err))
		return nil
	}
	return b
}
