// Package router wires the HTTP surface: room/lobby WebSocket upgrades,
// health checks, and admin debug endpoints, onto gin.
package router

import (
	"context"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/verlyn13/dicee/internal/v1/ai"
	"github.com/verlyn13/dicee/internal/v1/auth"
	"github.com/verlyn13/dicee/internal/v1/bus"
	"github.com/verlyn13/dicee/internal/v1/config"
	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/health"
	"github.com/verlyn13/dicee/internal/v1/lobby"
	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/verlyn13/dicee/internal/v1/metrics"
	"github.com/verlyn13/dicee/internal/v1/middleware"
	"github.com/verlyn13/dicee/internal/v1/ratelimit"
	"github.com/verlyn13/dicee/internal/v1/room"
	"github.com/verlyn13/dicee/internal/v1/transport"
)

// Router owns the process-wide actor registry: one Lobby singleton and one
// Room per active room code, created lazily on first connect.
type Router struct {
	cfg       *config.Config
	roomCfg   room.Config
	validator *auth.Validator
	bus       *bus.Service
	rl        *ratelimit.RateLimiter
	upgrader  *transport.Upgrader
	logger    *zap.Logger

	mu    sync.Mutex
	rooms map[string]*room.Room
	lob   *lobby.Lobby
}

func New(cfg *config.Config, roomCfg room.Config, validator *auth.Validator, busSvc *bus.Service, rl *ratelimit.RateLimiter) *Router {
	allowed := strings.Split(cfg.AllowedOrigins, ",")
	rt := &Router{
		cfg:       cfg,
		roomCfg:   roomCfg,
		validator: validator,
		bus:       busSvc,
		rl:        rl,
		upgrader:  transport.NewUpgrader(allowed),
		logger:    logging.GetLogger(),
		rooms:     make(map[string]*room.Room),
	}
	rt.lob = lobby.New(busSvc, rt.lookupRoom, rt.logger)
	return rt
}

func (rt *Router) lookupRoom(code string) (lobby.RoomRPC, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	r, ok := rt.rooms[strings.ToUpper(code)]
	return r, ok
}

// getOrCreateRoom returns the Room actor for code, creating it empty on first
// access; its RoomState is set when the first player connects.
func (rt *Router) getOrCreateRoom(code string) *room.Room {
	code = strings.ToUpper(code)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if r, ok := rt.rooms[code]; ok {
		return r
	}
	scorer := gamestate.NewDefaultScorer(rand.New(rand.NewSource(time.Now().UnixNano())))
	aiMgr := ai.NewHeuristicManager()
	aiMgr.Initialize(ai.DefaultProfiles)
	r := room.New(code, rt.roomCfg, rt.bus, rt.lob, scorer, aiMgr, rt.logger, rt.dropRoom)
	rt.rooms[code] = r
	return r
}

func (rt *Router) dropRoom(code string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.rooms, strings.ToUpper(code))
}

// Engine builds the gin engine with every route attached.
func (rt *Router) Engine() *gin.Engine {
	eng := gin.New()
	eng.Use(gin.Recovery(), middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = strings.Split(rt.cfg.AllowedOrigins, ",")
	corsCfg.AllowCredentials = true
	eng.Use(cors.New(corsCfg))

	if rt.rl != nil {
		eng.Use(rt.rl.GlobalMiddleware())
	}

	h := health.NewHandler(rt.bus)
	eng.GET("/health/live", h.Liveness)
	eng.GET("/health/ready", h.Readiness)
	eng.GET("/health", rt.handleHealth)

	eng.GET("/room/:code", rt.handleRoom)
	eng.GET("/lobby", rt.handleLobbyUpgrade)

	debug := eng.Group("/_debug")
	{
		debug.GET("/rooms", rt.debugRooms)
		debug.GET("/connections", rt.debugConnections)
		debug.GET("/storage", rt.debugStorage)
		debug.DELETE("/rooms/all", rt.debugDeleteAllRooms)
		debug.DELETE("/rooms/:code", rt.debugDeleteRoom)
	}
	return eng
}

// authenticate implements spec.md §4.2 step 1 / §7's auth error table: a
// JWKS fetch failure is a dependency outage (503), any other verification
// failure is the caller's fault (401).
func (rt *Router) authenticate(c *gin.Context) (userID, displayName, avatarSeed string, ok bool) {
	token := transport.ExtractToken(c.Request)
	if token == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return "", "", "", false
	}
	claims, verr := rt.validator.VerifyToken(token)
	if verr != nil {
		status := http.StatusUnauthorized
		if verr.Code == auth.ErrJWKSUnavailable {
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatus(status)
		return "", "", "", false
	}
	return claims.UserID, claims.DisplayName, claims.AvatarURL, true
}

// handleHealth implements the plain GET /health summary from spec.md §6,
// distinct from the Kubernetes-style /health/live and /health/ready probes.
func (rt *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// roomCodePattern is spec.md:43's Crockford-style room-code alphabet:
// uppercase A-Z minus the visually confusable I/O, plus digits 2-9.
var roomCodePattern = regexp.MustCompile(`^[A-HJ-NP-Z2-9]{6}$`)

// handleRoom serves GET /room/:code. A WebSocket upgrade request runs the
// normal connect sequence; a plain GET returns the public-safe room JSON
// per spec.md §6's "/info" non-upgrade behavior and SPEC_FULL.md §4.13.
func (rt *Router) handleRoom(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		rt.handleRoomUpgrade(c)
		return
	}
	rt.handleRoomInfo(c)
}

// handleRoomInfo implements the non-upgrade GET /room/:code described in
// spec.md §6: plain JSON instead of a WebSocket upgrade.
func (rt *Router) handleRoomInfo(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !roomCodePattern.MatchString(code) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	rt.mu.Lock()
	r, ok := rt.rooms[code]
	rt.mu.Unlock()
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	exists, allowSpectators := r.SpectatorsAllowed()
	c.JSON(http.StatusOK, gin.H{"code": code, "exists": exists, "allowSpectators": allowSpectators})
}

func (rt *Router) handleRoomUpgrade(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	if !roomCodePattern.MatchString(code) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}

	userID, displayName, avatarSeed, ok := rt.authenticate(c)
	if !ok {
		return
	}
	role := c.Query("role")
	if role != "spectator" {
		role = "player"
	}

	if role == "spectator" {
		rt.mu.Lock()
		existing, roomExists := rt.rooms[code]
		rt.mu.Unlock()
		if roomExists {
			if exists, allowed := existing.SpectatorsAllowed(); exists && !allowed {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}
	}

	ws, err := rt.upgrader.Upgrade(c.Writer, c.Request)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.IncConnection()
	defer metrics.DecConnection()

	conn := transport.NewConn(ws, []string{"room:" + code, role + ":" + code, "user:" + userID}, transport.Attachment{
		UserID: userID, DisplayName: displayName, AvatarSeed: avatarSeed, ConnectedAt: time.Now(), Role: role,
	})

	r := rt.getOrCreateRoom(code)
	ctx := c.Request.Context()
	r.HandleConnect(ctx, conn, room.ConnectRequest{UserID: userID, DisplayName: displayName, AvatarSeed: avatarSeed, Role: role})

	conn.ReadPump(ctx,
		func(env transport.ClientEnvelope) { r.Dispatch(ctx, conn, env) },
		func() { conn.Close(1003, "binary not supported") },
		func(error) { r.HandleDisconnect(context.Background(), conn) },
	)
}

func (rt *Router) handleLobbyUpgrade(c *gin.Context) {
	userID, displayName, avatarSeed, ok := rt.authenticate(c)
	if !ok {
		return
	}
	ws, err := rt.upgrader.Upgrade(c.Writer, c.Request)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.IncConnection()
	defer metrics.DecConnection()

	conn := transport.NewConn(ws, nil, transport.Attachment{
		UserID: userID, DisplayName: displayName, AvatarSeed: avatarSeed, ConnectedAt: time.Now(),
	})

	ctx := c.Request.Context()
	rt.lob.HandleConnect(ctx, conn, userID, displayName, avatarSeed)

	conn.ReadPump(ctx,
		func(env transport.ClientEnvelope) { rt.lob.Dispatch(ctx, conn, env) },
		func() { conn.Close(1003, "binary not supported") },
		func(error) { rt.lob.HandleDisconnect(context.Background(), conn) },
	)
}

func (rt *Router) debugRooms(c *gin.Context) {
	rt.mu.Lock()
	codes := make([]string, 0, len(rt.rooms))
	for code := range rt.rooms {
		codes = append(codes, code)
	}
	rt.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"rooms": codes})
}

func (rt *Router) debugConnections(c *gin.Context) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"roomCount": len(rt.rooms)})
}

func (rt *Router) debugDeleteRoom(c *gin.Context) {
	code := strings.ToUpper(c.Param("code"))
	rt.mu.Lock()
	delete(rt.rooms, code)
	rt.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (rt *Router) debugStorage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"redisEnabled": rt.cfg.RedisEnabled})
}

func (rt *Router) debugDeleteAllRooms(c *gin.Context) {
	rt.mu.Lock()
	rt.rooms = make(map[string]*room.Room)
	rt.mu.Unlock()
	c.Status(http.StatusNoContent)
}
