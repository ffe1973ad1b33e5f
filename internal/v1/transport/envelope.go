// Package transport implements the WebSocket connection layer shared by the
// Room and Lobby actors: tagged connections, JSON command/event envelopes,
// and the read/write pumps that bridge a gorilla/websocket connection to an
// actor's command handlers.
package transport

import "encoding/json"

// ClientEnvelope is the client->server command shape: {type, payload?, correlationId?}.
type ClientEnvelope struct {
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
}

// ServerEnvelope is the server->client event shape: {type, payload, timestamp?}.
type ServerEnvelope struct {
	Type          string `json:"type"`
	Payload       any    `json:"payload"`
	Timestamp     int64  `json:"timestamp,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ErrorPayload is the body of an ERROR event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Standard error codes used across both actors' ERROR envelopes.
const (
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeRateLimited    = "RATE_LIMITED"
)
