package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// Attachment is the small serialized identity every connection carries; the
// Room and Lobby read a connection's user and role from it.
type Attachment struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	AvatarSeed  string    `json:"avatarSeed"`
	ConnectedAt time.Time `json:"connectedAt"`
	IsHost      bool      `json:"isHost"`
	Role        string    `json:"role"` // "player" | "spectator"
}

// Conn wraps an accepted WebSocket with the tag set and attachment the rest
// of the system addresses it by. Tags are set at accept time and replaced
// wholesale by SetTags; the attachment may be overwritten wholesale on role
// transitions (e.g. warm-seat promotion).
type Conn struct {
	ws   *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	tags       map[string]struct{}
	attachment Attachment
	closed     bool
	closeOnce  sync.Once
}

// NewConn constructs a Conn with its initial tag set and attachment, and
// starts its write pump. Callers must separately run ReadPump (typically in
// the goroutine that accepted the connection).
func NewConn(ws *websocket.Conn, tags []string, attachment Attachment) *Conn {
	c := &Conn{
		ws:         ws,
		send:       make(chan []byte, sendBufferSize),
		tags:       make(map[string]struct{}, len(tags)),
		attachment: attachment,
	}
	for _, t := range tags {
		c.tags[t] = struct{}{}
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

// HasTag reports whether tag is present on this connection.
func (c *Conn) HasTag(tag string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.tags[tag]
	return ok
}

// Tags returns a snapshot of this connection's tag set.
func (c *Conn) Tags() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.tags))
	for t := range c.tags {
		out = append(out, t)
	}
	return out
}

// Attachment returns a copy of the connection's current attachment.
func (c *Conn) Attachment() Attachment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attachment
}

// SetAttachment overwrites the attachment wholesale (role transitions,
// display-name updates).
func (c *Conn) SetAttachment(a Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachment = a
}

// SetTags replaces the tag set. The Room calls it when a connection joins,
// and through Registry.Retag when a warm-seat promotion turns a spectator
// into a player on the same socket.
func (c *Conn) SetTags(tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = make(map[string]struct{}, len(tags))
	for _, t := range tags {
		c.tags[t] = struct{}{}
	}
}

// Send enqueues an event envelope for delivery. WebSocket writes are
// best-effort and non-blocking: a full send buffer drops the message and
// logs, rather than stalling the actor.
func (c *Conn) Send(ctx context.Context, env ServerEnvelope) {
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "failed to marshal server envelope", zap.Error(err), zap.String("type", env.Type))
		return
	}
	c.sendRaw(ctx, data)
}

func (c *Conn) sendRaw(ctx context.Context, data []byte) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Warn(ctx, "dropping message: send buffer full", zap.String("userId", c.Attachment().UserID))
	}
}

// Close closes the underlying socket with the given close code/reason and
// stops the write pump. Safe to call multiple times.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
		close(c.send)
	})
}

// ReadPump blocks reading frames from the socket, decoding JSON command
// envelopes and invoking onMessage for each one. Binary frames invoke
// onBinary (the caller closes with 1003). Returns when the connection
// closes; the caller is responsible for actor-side cleanup (tag removal,
// seat disconnection, etc).
func (c *Conn) ReadPump(ctx context.Context, onMessage func(ClientEnvelope), onBinary func(), onClose func(err error)) {
	defer func() {
		_ = c.ws.Close()
	}()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			onBinary()
			return
		case websocket.TextMessage:
			var env ClientEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.Send(ctx, ServerEnvelope{Type: "ERROR", Payload: ErrorPayload{Code: CodeInvalidMessage, Message: "malformed JSON"}})
				continue
			}
			onMessage(env)
		}
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
