package room

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verlyn13/dicee/internal/v1/ai"
	"github.com/verlyn13/dicee/internal/v1/gamestate"
)

type fakeLobby struct{}

func (fakeLobby) UpdateRoomStatus(context.Context, RoomStatusUpdate)                 {}
func (fakeLobby) UpdateUserRoomStatus(context.Context, string, string, string)       {}
func (fakeLobby) IsUserOnline(context.Context, string) bool                          { return true }
func (fakeLobby) GetOnlineUserInfo(context.Context, string) (string, string, bool)    { return "", "", false }
func (fakeLobby) DeliverInvite(context.Context, PendingInvite) bool                   { return true }
func (fakeLobby) DeliverJoinRequestResponse(context.Context, string, string, JoinRequestStatus) {}
func (fakeLobby) DeliverInviteCancelled(context.Context, string, string, string)      {}
func (fakeLobby) SendHighlight(context.Context, map[string]any)                       {}

func testRoom(t *testing.T, code string, playerIDs []string) *Room {
	t.Helper()
	scorer := gamestate.NewDefaultScorer(rand.New(rand.NewSource(1)))
	aiMgr := ai.NewHeuristicManager()
	aiMgr.Initialize(ai.DefaultProfiles)

	cfg := Config{
		ReconnectWindow:   5 * time.Minute,
		AFKGrace:          time.Minute,
		PauseTimeout:      30 * time.Minute,
		SeatSweepInterval: 30 * time.Second,
		InviteExpiry:      5 * time.Minute,
		JoinRequestExpiry: 2 * time.Minute,
		AITurnWatchdog:    35 * time.Second,
		AITurnMaxRetries:  3,
		WarmSeatCountdown: 10 * time.Second,
	}
	r := New(code, cfg, nil, fakeLobby{}, scorer, aiMgr, nil, func(string) {})

	r.state = &RoomState{
		RoomCode: code, HostUserID: playerIDs[0], CreatedAt: time.Now(),
		Settings: RoomSettings{MaxPlayers: 4, TurnTimeoutSeconds: 60, IsPublic: true, AllowSpectators: true},
		Status:   StatusWaiting,
	}
	for i, uid := range playerIDs {
		r.seats[uid] = &PlayerSeat{UserID: uid, DisplayName: uid, IsConnected: true, IsHost: i == 0, TurnOrder: i}
		r.state.PlayerOrder = append(r.state.PlayerOrder, uid)
	}
	return r
}

func TestTurnOrderFairness_GameCompletesWithRankings(t *testing.T) {
	ctx := context.Background()
	players := []string{"alice", "bob", "carol"}
	r := testRoom(t, "ABCDEF", players)

	inits := r.humanPlayerInits()
	require.Len(t, inits, 3)
	r.scorer.InitializeFromRoom(inits, gamestate.GameConfig{TurnTimeoutSeconds: 60})
	r.scorer.StartGameWithOrder(players)
	r.state.Status = StatusPlaying

	for round := 0; round < len(gamestate.Categories); round++ {
		for range players {
			gs := r.scorer.GetState()
			if gs.Phase == gamestate.PhaseGameOver {
				break
			}
			current := gs.CurrentPlayerID()
			res := r.handleDiceRoll(ctx, current, nil)
			require.True(t, res.OK, res.Message)
			open := gs.Players[current].OpenCategories()
			require.NotEmpty(t, open)
			res = r.handleCategoryScore(ctx, current, open[0])
			require.True(t, res.OK, res.Message)
		}
	}

	gs := r.scorer.GetState()
	assert.Equal(t, gamestate.PhaseGameOver, gs.Phase)
	assert.Len(t, gs.Rankings, 3)
}

func TestSeatExpirationPurity(t *testing.T) {
	ctx := context.Background()
	r := testRoom(t, "GHIJKL", []string{"alice", "bob"})

	past := time.Now().Add(-time.Second)
	r.seats["bob"].IsConnected = false
	r.seats["bob"].ReconnectDeadline = &past
	r.state.PlayerOrder = []string{"alice", "bob"}

	r.fireSeatExpirationLocked(ctx)

	_, stillPresent := r.seats["bob"]
	assert.False(t, stillPresent)
	assert.NotContains(t, r.state.PlayerOrder, "bob")
}

func TestKibitzResetOnClear(t *testing.T) {
	ctx := context.Background()
	r := testRoom(t, "MNPQRS", []string{"alice", "bob"})
	r.kibitzVotes["spectator1"] = KibitzVote{Type: KibitzCategory, Category: "fours"}
	require.Len(t, r.kibitzVotes, 1)

	r.clearKibitzLocked(ctx)
	assert.Empty(t, r.kibitzVotes)
}

func TestPauseRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := testRoom(t, "TUVWXY", []string{"alice", "bob"})
	r.state.Status = StatusPlaying
	r.seats["alice"].IsConnected = false
	r.seats["bob"].IsConnected = false

	r.pauseLocked(ctx)
	assert.Equal(t, StatusPaused, r.state.Status)
	require.NotNil(t, r.alarm)
	assert.Equal(t, AlarmPauseTimeout, r.alarm.Type)

	r.resumeFromPauseLocked(ctx)
	assert.Equal(t, StatusPlaying, r.state.Status)
	assert.Nil(t, r.alarm)
}

func TestPredictionEvaluation_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	players := []string{"alice", "bob"}
	r := testRoom(t, "PRDCTN", players)
	r.scorer.InitializeFromRoom(r.humanPlayerInits(), gamestate.GameConfig{TurnTimeoutSeconds: 60})
	r.scorer.StartGameWithOrder(players)
	r.state.Status = StatusPlaying

	res := r.handlePrediction(ctx, "spectator1", Prediction{PlayerID: "alice", Type: PredictionImproves})
	require.True(t, res.OK, res.Message)

	outcome := gamestate.ScoreCategoryResult{Score: 12}
	r.evaluatePredictionsLocked(ctx, r.scorer.GetState().TurnNumber, "alice", outcome)

	key := predictionKey{turnNumber: r.scorer.GetState().TurnNumber, playerID: "alice"}
	require.Len(t, r.predictions[key], 1)
	assert.True(t, r.predictions[key][0].Evaluated)
	before := r.galleryPoints["spectator1"]

	// Re-running evaluation for the same key must not double-award points.
	r.evaluatePredictionsLocked(ctx, r.scorer.GetState().TurnNumber, "alice", outcome)
	assert.Equal(t, before, r.galleryPoints["spectator1"])
}

func TestSpectatorReaction_RateLimited(t *testing.T) {
	ctx := context.Background()
	r := testRoom(t, "RCTLMT", []string{"alice", "bob"})

	var last gamestate.Result
	for i := 0; i < reactionLimitPerSpec+1; i++ {
		last = r.handleSpectatorReaction(ctx, "spectator1", "🎉", "alice")
	}
	assert.False(t, last.OK)
	assert.Equal(t, "RATE_LIMITED", last.Code)
}

func TestKibitzClearedByDiceRoll(t *testing.T) {
	ctx := context.Background()
	players := []string{"alice", "bob"}
	r := testRoom(t, "ZZYYXX", players)
	r.scorer.InitializeFromRoom(r.humanPlayerInits(), gamestate.GameConfig{TurnTimeoutSeconds: 60})
	r.scorer.StartGameWithOrder(players)
	r.state.Status = StatusPlaying

	r.kibitzVotes["spectator1"] = KibitzVote{Type: KibitzAction, Action: "roll"}
	current := r.scorer.GetState().CurrentPlayerID()
	res := r.handleDiceRoll(ctx, current, nil)
	require.True(t, res.OK)
	assert.Empty(t, r.kibitzVotes)
}
