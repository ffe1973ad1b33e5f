package lobby

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/room"
	"github.com/verlyn13/dicee/internal/v1/transport"
)

func testLobby(t *testing.T) *Lobby {
	t.Helper()
	l := New(nil, func(string) (RoomRPC, bool) { return nil, false }, nil)
	return l
}

// dialConn spins up a real (loopback) WebSocket pair so Conn's ws-touching
// paths (Send, writePump) behave exactly as in production, since Conn's
// fields are unexported outside the transport package.
func dialConn(t *testing.T, tags []string, att transport.Attachment) *transport.Conn {
	t.Helper()
	var serverConn *transport.Conn
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = transport.NewConn(ws, tags, att)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.Eventually(t, func() bool { return serverConn != nil }, time.Second, time.Millisecond)
	return serverConn
}

type fakeRoomRPC struct {
	joinRequests int
}

func (f *fakeRoomRPC) HandleJoinRequest(context.Context, string, string, string) gamestate.Result {
	f.joinRequests++
	return gamestate.Ok()
}
func (*fakeRoomRPC) HandleInviteResponse(context.Context, string, string, string) {}
func (*fakeRoomRPC) HandleCancelJoinRequest(context.Context, string, string)      {}
func (*fakeRoomRPC) HandleSendInvite(context.Context, string, string) gamestate.Result {
	return gamestate.Ok()
}
func (*fakeRoomRPC) HandleCancelInvite(context.Context, string, string) gamestate.Result {
	return gamestate.Ok()
}

func TestDispatch_CommandVocabularyMatchesSpec(t *testing.T) {
	ctx := context.Background()
	rm := &fakeRoomRPC{}
	l := New(nil, func(string) (RoomRPC, bool) { return rm, true }, nil)
	c := dialConn(t, []string{"user:alice", "lobby"}, transport.Attachment{UserID: "alice", DisplayName: "Alice"})

	l.Dispatch(ctx, c, transport.ClientEnvelope{Type: "GET_ONLINE_USERS"})
	l.Dispatch(ctx, c, transport.ClientEnvelope{Type: "LOBBY_CHAT", Payload: json.RawMessage(`{"text":"hi"}`)})
	l.Dispatch(ctx, c, transport.ClientEnvelope{Type: "REQUEST_JOIN", Payload: json.RawMessage(`{"roomCode":"ABCDEF"}`)})
	l.Dispatch(ctx, c, transport.ClientEnvelope{Type: "ROOM_CREATED"})
	l.Dispatch(ctx, c, transport.ClientEnvelope{Type: "UNKNOWN_THING"})

	l.mu.Lock()
	chatLen := l.chatHistory.Len()
	l.mu.Unlock()
	assert.Equal(t, 1, chatLen, "LOBBY_CHAT must be accepted under its spec.md:193 name")
	assert.Equal(t, 1, rm.joinRequests, "REQUEST_JOIN must forward to the room's join-request handler")
}

func TestUpdateRoomStatus_DirectorySortOrder(t *testing.T) {
	ctx := context.Background()
	l := testLobby(t)

	l.UpdateRoomStatus(ctx, room.RoomStatusUpdate{Code: "AAAAAA", Status: room.StatusWaiting, IsPublic: true, SpectatorCount: 1, UpdatedAt: time.Now()})
	l.UpdateRoomStatus(ctx, room.RoomStatusUpdate{Code: "BBBBBB", Status: room.StatusPlaying, IsPublic: true, SpectatorCount: 0, UpdatedAt: time.Now()})
	l.UpdateRoomStatus(ctx, room.RoomStatusUpdate{Code: "CCCCCC", Status: room.StatusWaiting, IsPublic: true, SpectatorCount: 3, UpdatedAt: time.Now()})
	l.UpdateRoomStatus(ctx, room.RoomStatusUpdate{Code: "DDDDDD", Status: room.StatusWaiting, IsPublic: false, SpectatorCount: 9, UpdatedAt: time.Now()})

	rooms := l.getPublic()
	require.Len(t, rooms, 3, "private room must not appear")
	assert.Equal(t, "BBBBBB", rooms[0].Code, "playing rooms sort first")
	assert.Equal(t, "CCCCCC", rooms[1].Code, "among waiting rooms, higher spectator count sorts first")
	assert.Equal(t, "AAAAAA", rooms[2].Code)
}

func TestUpdateRoomStatus_FinishedRoomExpires(t *testing.T) {
	ctx := context.Background()
	l := testLobby(t)
	l.UpdateRoomStatus(ctx, room.RoomStatusUpdate{Code: "EEEEEE", Status: room.StatusCompleted, IsPublic: true, UpdatedAt: time.Now()})

	l.mu.Lock()
	_, ok := l.directory["EEEEEE"]
	l.mu.Unlock()
	assert.True(t, ok, "completed room stays in the directory until its linger window elapses")
}

func TestDispatchChat_HistoryCapAndRateLimit(t *testing.T) {
	ctx := context.Background()
	l := testLobby(t)

	for i := 0; i < chatHistoryCap+10; i++ {
		l.DispatchChat(ctx, "alice", "Alice", "hi")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.LessOrEqual(t, l.chatHistory.Len(), chatHistoryCap)
	assert.LessOrEqual(t, len(l.chatRate["alice"]), chatRateLimitCount)
}

func TestIsUserOnline_NoConnections(t *testing.T) {
	l := testLobby(t)
	assert.False(t, l.IsUserOnline(context.Background(), "nobody"))
}

func TestDeliverInvite_NoTargetOnline(t *testing.T) {
	l := testLobby(t)
	ok := l.DeliverInvite(context.Background(), room.PendingInvite{TargetUserID: "offline-user"})
	assert.False(t, ok)
}
