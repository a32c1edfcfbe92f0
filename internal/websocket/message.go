package websocket

import (
	"encoding/json"

	"github.com/isdelr/tts-broker-be/internal/models"
	"github.com/rs/zerolog/log"
)

// Actions pushed to or accepted from clients.
const (
	ActionBalanceUpdated = "balance.updated"
	ActionArtifactReady  = "artifact.ready"
	ActionError          = "error"
	ActionPing           = "ping"
	ActionPong           = "pong"
)

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

// BalancePayload is the payload of a balance.updated message.
type BalancePayload struct {
	Balance int `json:"balance"`
}

// ArtifactPayload is the payload of an artifact.ready message.
type ArtifactPayload struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

func newMessage(action string, payload interface{}) []byte {
	data, err := json.Marshal(Message{Action: action, Payload: payload})
	if err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to encode websocket message")
		return nil
	}
	return data
}

// NewBalanceMessage builds a balance.updated message.
func NewBalanceMessage(balance int) []byte {
	return newMessage(ActionBalanceUpdated, BalancePayload{Balance: balance})
}

// NewArtifactReadyMessage builds an artifact.ready message.
func NewArtifactReadyMessage(artifact models.Artifact) []byte {
	return newMessage(ActionArtifactReady, ArtifactPayload{Filename: artifact.Filename, Size: artifact.Size})
}

// NewErrorMessage builds an error message for a single client.
func NewErrorMessage(text string) []byte {
	return newMessage(ActionError, map[string]string{"message": text})
}

// NewPongMessage answers a client ping.
func NewPongMessage() []byte {
	return newMessage(ActionPong, nil)
}
