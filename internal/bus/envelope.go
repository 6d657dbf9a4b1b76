package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// Dead-letter reasons. These are wire values consumed by whatever
// drains the dead-letter subject, so they stay stable.
const (
	ReasonMissingField         = "MissingField"
	ReasonDeserializationError = "DeserializationError"
	ReasonInvalidAgentID       = "InvalidAgentId"
	ReasonBodyReadError        = "BodyReadError"
)

// PromptEnvelope is one inbound bus request.
type PromptEnvelope struct {
	CorrelationID string `json:"correlationId"`
	AgentID       string `json:"agentId"`
	Prompt        string `json:"prompt"`
	Sender        string `json:"sender"`
}

// ResponseEnvelope is the outbound reply matched to a request by its
// correlation id.
type ResponseEnvelope struct {
	CorrelationID string    `json:"correlationId"`
	AgentID       string    `json:"agentId"`
	Response      string    `json:"response"`
	CompletedAt   time.Time `json:"completedAt"`
}

// DeadLetter wraps a rejected inbound message with its rejection
// reason and the original payload for later inspection.
type DeadLetter struct {
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	Subject    string    `json:"subject"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// parseEnvelope validates an inbound payload. A non-empty reason means
// the message must be dead-lettered; detail carries the specifics.
func parseEnvelope(data []byte) (PromptEnvelope, string, string) {
	if len(data) == 0 {
		return PromptEnvelope{}, ReasonBodyReadError, "empty message body"
	}

	var env PromptEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return PromptEnvelope{}, ReasonDeserializationError, err.Error()
	}

	var missing []string
	if env.CorrelationID == "" {
		missing = append(missing, "correlationId")
	}
	if env.AgentID == "" {
		missing = append(missing, "agentId")
	}
	if env.Prompt == "" {
		missing = append(missing, "prompt")
	}
	if len(missing) > 0 {
		return PromptEnvelope{}, ReasonMissingField, strings.Join(missing, ", ")
	}
	return env, "", ""
}

// conversationKeyFor derives the conversation key for a bus request.
// The chat id is a stable hash of the correlation id, so a sender that
// reuses a correlation id after completion continues the same
// transcript, while distinct requests stay isolated.
func conversationKeyFor(correlationID, agentID string) models.ConversationKey {
	return models.ConversationKey{
		ChatID:  models.DeriveChatID(correlationID),
		AgentID: agentID,
	}
}

// prompt builds the monitor-facing prompt for a validated envelope.
func (e PromptEnvelope) prompt(receivedAt time.Time) *models.Prompt {
	return &models.Prompt{
		PromptID:   fmt.Sprintf("bus-%s-%d", e.CorrelationID, receivedAt.UnixNano()),
		Key:        conversationKeyFor(e.CorrelationID, e.AgentID),
		Text:       e.Prompt,
		SenderID:   e.Sender,
		Source:     models.SourceBus,
		ReceivedAt: receivedAt,
	}
}
