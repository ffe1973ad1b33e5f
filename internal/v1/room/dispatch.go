package room

import (
	"context"
	"encoding/json"

	"github.com/verlyn13/dicee/internal/v1/gamestate"
	"github.com/verlyn13/dicee/internal/v1/logging"
	"github.com/verlyn13/dicee/internal/v1/transport"
	"go.uber.org/zap"
)

// Dispatch routes one parsed client command to its handler, per the command
// table in spec.md §4.2/§6. It holds the room's mutex for the handler's
// entire duration, matching the actor model's single-handler-at-a-time
// guarantee. A panic inside a single command handler is recovered here
// rather than crashing the process, mirroring the teacher's "Panic in
// onEmpty callback" recover in room.go; the deferred unlock still runs so
// the actor keeps serving later messages.
func (r *Room) Dispatch(ctx context.Context, c *transport.Conn, env transport.ClientEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error(ctx, "panic in room dispatch", zap.String("roomCode", r.code), zap.String("commandType", env.Type), zap.Any("panic", rec))
		}
	}()

	userID := c.Attachment().UserID
	var result gamestate.Result
	var ackType string
	var ackPayload any

	switch env.Type {
	case "PING":
		r.sendTo(ctx, c, "PONG", map[string]any{})
		return

	case "START_GAME":
		result = r.handleStartGame(ctx, userID)

	case "QUICK_PLAY_START":
		var p struct {
			AIProfiles []string `json:"aiProfiles"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleQuickPlayStart(ctx, userID, p.AIProfiles)

	case "ADD_AI_PLAYER":
		var p struct {
			ProfileID string `json:"profileId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleAddAIPlayer(ctx, userID, p.ProfileID)

	case "REMOVE_AI_PLAYER":
		var p struct {
			PlayerID string `json:"playerId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleRemoveAIPlayer(ctx, userID, p.PlayerID)

	case "DICE_ROLL":
		var p struct {
			Kept []int `json:"kept"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleDiceRoll(ctx, userID, p.Kept)

	case "DICE_KEEP":
		var p struct {
			Indices []int `json:"indices"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleDiceKeep(ctx, userID, p.Indices)

	case "CATEGORY_SCORE":
		var p struct {
			Category string `json:"category"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleCategoryScore(ctx, userID, p.Category)

	case "REMATCH":
		result = r.handleRematch(ctx, userID)

	case "PREDICTION":
		var p struct {
			PlayerID   string         `json:"playerId"`
			Type       PredictionType `json:"type"`
			ExactScore int            `json:"exactScore"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handlePrediction(ctx, userID, Prediction{PlayerID: p.PlayerID, Type: p.Type, ExactScore: p.ExactScore})

	case "CANCEL_PREDICTION":
		var p struct {
			PlayerID string         `json:"playerId"`
			Type     PredictionType `json:"type"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleCancelPrediction(userID, p.PlayerID, p.Type)

	case "GET_PREDICTIONS":
		ackType, ackPayload = "PREDICTIONS", r.predictionsFor(userID)
		result = gamestate.Ok()

	case "GET_PREDICTION_STATS":
		ackType, ackPayload = "PREDICTION_STATS", map[string]any{"galleryPoints": r.galleryPoints[userID]}
		result = gamestate.Ok()

	case "ROOT_FOR_PLAYER":
		var p struct {
			PlayerID string `json:"playerId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleRootForPlayer(ctx, userID, p.PlayerID)

	case "CLEAR_ROOTING":
		result = r.handleClearRooting(ctx, userID)

	case "GET_ROOTING":
		ackType, ackPayload = "ROOTING_STATE", r.rooting[userID]
		result = gamestate.Ok()

	case "KIBITZ":
		var p struct {
			VoteType KibitzVoteType `json:"voteType"`
			Category string         `json:"category"`
			KeepMask uint8          `json:"keepMask"`
			Action   string         `json:"action"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleKibitz(ctx, userID, KibitzVote{Type: p.VoteType, Category: p.Category, KeepMask: p.KeepMask, Action: p.Action})

	case "CLEAR_KIBITZ":
		result = r.handleClearKibitz(ctx, userID)

	case "GET_KIBITZ":
		ackType, ackPayload = "KIBITZ_STATE", r.kibitzVotes[userID]
		result = gamestate.Ok()

	case "SPECTATOR_REACTION":
		var p struct {
			Emoji          string `json:"emoji"`
			TargetPlayerID string `json:"targetPlayerId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleSpectatorReaction(ctx, userID, p.Emoji, p.TargetPlayerID)

	case "JOIN_QUEUE":
		result = r.handleJoinQueue(ctx, userID)

	case "LEAVE_QUEUE":
		result = r.handleLeaveQueue(ctx, userID)

	case "GET_QUEUE":
		ackType, ackPayload = "QUEUE_STATE", r.joinQueue
		result = gamestate.Ok()

	case "GET_GALLERY_POINTS":
		ackType, ackPayload = "GALLERY_POINTS", map[string]any{"points": r.galleryPoints[userID]}
		result = gamestate.Ok()

	case "SEND_INVITE":
		var p struct {
			TargetUserID string `json:"targetUserId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleSendInvite(ctx, userID, p.TargetUserID)

	case "CANCEL_INVITE":
		var p struct {
			InviteID string `json:"inviteId"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleCancelInvite(ctx, userID, p.InviteID)

	case "JOIN_REQUEST_RESPONSE":
		var p struct {
			RequestID string `json:"requestId"`
			Approved  bool   `json:"approved"`
		}
		_ = json.Unmarshal(env.Payload, &p)
		result = r.handleJoinRequestResponse(ctx, userID, p.RequestID, p.Approved)

	default:
		r.sendError(ctx, c, transport.CodeUnknownCommand, "unknown command "+env.Type)
		return
	}

	if !result.OK {
		c.Send(ctx, transport.ServerEnvelope{
			Type:          "ERROR",
			Payload:       transport.ErrorPayload{Code: result.Code, Message: result.Message},
			CorrelationID: env.CorrelationID,
		})
		return
	}
	if ackType != "" {
		c.Send(ctx, transport.ServerEnvelope{Type: ackType, Payload: ackPayload, CorrelationID: env.CorrelationID})
	}
}

func (r *Room) predictionsFor(spectatorID string) []Prediction {
	var out []Prediction
	for _, preds := range r.predictions {
		for _, p := range preds {
			if p.SpectatorID == spectatorID {
				out = append(out, p)
			}
		}
	}
	return out
}
