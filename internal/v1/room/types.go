package room

import (
	"time"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/identity"
)

// RoomStatus is RoomState.status.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "waiting"
	StatusStarting  RoomStatus = "starting"
	StatusPlaying   RoomStatus = "playing"
	StatusPaused    RoomStatus = "paused"
	StatusCompleted RoomStatus = "completed"
	StatusAbandoned RoomStatus = "abandoned"
)

// RoomSettings is the host-configurable portion of RoomState.
type RoomSettings struct {
	MaxPlayers         int  `json:"maxPlayers"`
	TurnTimeoutSeconds int  `json:"turnTimeoutSeconds"`
	IsPublic           bool `json:"isPublic"`
	AllowSpectators    bool `json:"allowSpectators"`
}

// AIPlayerRef is RoomState's record of an AI seat.
type AIPlayerRef struct {
	ID          string `json:"id"`
	ProfileID   string `json:"profileId"`
	DisplayName string `json:"displayName"`
	AvatarSeed  string `json:"avatarSeed"`
}

// RoomState is persisted under key "room".
type RoomState struct {
	RoomCode    string                  `json:"roomCode"`
	HostUserID  string                  `json:"hostUserId"`
	CreatedAt   time.Time               `json:"createdAt"`
	Settings    RoomSettings            `json:"settings"`
	PlayerOrder []string                `json:"playerOrder"`
	Status      RoomStatus              `json:"status"`
	StartedAt   *time.Time              `json:"startedAt,omitempty"`
	PausedAt    *time.Time              `json:"pausedAt,omitempty"`
	AIPlayers   []AIPlayerRef           `json:"aiPlayers"`
	Identity    identity.RoomIdentity   `json:"identity"`
}

// PlayerSeat is one entry of the persisted "seats" map.
type PlayerSeat struct {
	UserID            string     `json:"userId"`
	DisplayName       string     `json:"displayName"`
	AvatarSeed        string     `json:"avatarSeed"`
	JoinedAt          time.Time  `json:"joinedAt"`
	IsConnected       bool       `json:"isConnected"`
	DisconnectedAt    *time.Time `json:"disconnectedAt,omitempty"`
	ReconnectDeadline *time.Time `json:"reconnectDeadline,omitempty"`
	IsHost            bool       `json:"isHost"`
	TurnOrder         int        `json:"turnOrder"`
	SeatOdal          string     `json:"seatOdal"`
}

// AlarmType enumerates the single-slot alarm's possible meanings.
type AlarmType string

const (
	AlarmTurnTimeout    AlarmType = "TURN_TIMEOUT"
	AlarmAFKCheck       AlarmType = "AFK_CHECK"
	AlarmRoomCleanup    AlarmType = "ROOM_CLEANUP"
	AlarmSeatExpiration AlarmType = "SEAT_EXPIRATION"
	AlarmAITurnTimeout  AlarmType = "AI_TURN_TIMEOUT"
	AlarmPauseTimeout   AlarmType = "PAUSE_TIMEOUT"
)

// AlarmData is persisted under key "alarm_data"; it disambiguates which
// subsystem the actor's single scheduled fire-time belongs to.
type AlarmData struct {
	Type       AlarmType `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	PlayerID   string    `json:"playerId,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
}

// PredictionType is the kind of spectator prediction.
type PredictionType string

const (
	PredictionDicee    PredictionType = "dicee"
	PredictionExact    PredictionType = "exact"
	PredictionImproves PredictionType = "improves"
	PredictionBricks   PredictionType = "bricks"
)

// Prediction is one spectator's bet on a player's upcoming score.
type Prediction struct {
	SpectatorID string         `json:"spectatorId"`
	PlayerID    string         `json:"playerId"`
	TurnNumber  int            `json:"turnNumber"`
	Type        PredictionType `json:"type"`
	ExactScore  int            `json:"exactScore,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	Evaluated   bool           `json:"evaluated"`
}

type predictionKey struct {
	turnNumber int
	playerID   string
}

// PendingInvite tracks a host-issued invite awaiting a Lobby-mediated response.
type PendingInvite struct {
	ID           string    `json:"id"`
	RoomCode     string    `json:"roomCode"`
	TargetUserID string    `json:"targetUserId"`
	HostUserID   string    `json:"hostUserId"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// JoinRequestStatus is the lifecycle state of a JoinRequest.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestDeclined JoinRequestStatus = "declined"
	JoinRequestExpired  JoinRequestStatus = "expired"
)

// JoinRequest is a requester's pending ask to join a waiting room.
type JoinRequest struct {
	ID          string            `json:"id"`
	RequesterID string            `json:"requesterId"`
	DisplayName string            `json:"displayName"`
	AvatarSeed  string            `json:"avatarSeed"`
	Status      JoinRequestStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// KibitzVoteType distinguishes what a kibitz vote is about.
type KibitzVoteType string

const (
	KibitzCategory KibitzVoteType = "category"
	KibitzKeep     KibitzVoteType = "keep"
	KibitzAction   KibitzVoteType = "action"
)

// KibitzVote is one spectator's current-turn advisory vote.
type KibitzVote struct {
	Type     KibitzVoteType `json:"voteType"`
	Category string         `json:"category,omitempty"`
	KeepMask uint8          `json:"keepMask,omitempty"`
	Action   string         `json:"action,omitempty"`
}

// RootingChoice is a spectator's chosen player to back.
type RootingChoice struct {
	PlayerID  string    `json:"playerId"`
	ChosenAt  time.Time `json:"chosenAt"`
	ChangeNum int       `json:"changeNum"`
}

// PredictionPoints awarded per prediction type, per spec.md §4.8.
var PredictionPoints = map[PredictionType]int{
	PredictionDicee:    50,
	PredictionExact:    25,
	PredictionImproves: 10,
	PredictionBricks:   10,
}

const (
	maxPredictionsPerKey  = 3
	maxRootingChangesGame = 5
	maxJoinQueueEntries   = 10
	reactionLimitPerSpec  = 10
	reactionWindow        = 30 * time.Second
	comboWindow           = 3 * time.Second
)

func diceStateFromPlayer(p *gamestate.PlayerState) (dice []int, rollsRemaining int) {
	return p.CurrentDice, p.RollsRemaining
}
