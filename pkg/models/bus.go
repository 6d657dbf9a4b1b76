package models

import "time"

// DeadLetterReason classifies why an inbound bus message was rejected.
type DeadLetterReason string

const (
	DeadLetterMissingField         DeadLetterReason = "MissingField"
	DeadLetterDeserializationError DeadLetterReason = "DeserializationError"
	DeadLetterInvalidAgentID       DeadLetterReason = "InvalidAgentId"
	DeadLetterBodyReadError        DeadLetterReason = "BodyReadError"
)

// BusPrompt is the inbound message-bus envelope.
type BusPrompt struct {
	CorrelationID string `json:"correlationId"`
	AgentID       string `json:"agentId"`
	Prompt        string `json:"prompt"`
	Sender        string `json:"sender"`
}

// BusResponse is the outbound message-bus envelope.
type BusResponse struct {
	CorrelationID string    `json:"correlationId"`
	AgentID       string    `json:"agentId"`
	Response      string    `json:"response"`
	CompletedAt   time.Time `json:"completedAt"`
}

// DeadLetter wraps a rejected bus message with its typed reason.
type DeadLetter struct {
	Reason     DeadLetterReason `json:"reason"`
	Detail     string           `json:"detail,omitempty"`
	RawMessage []byte           `json:"raw_message,omitempty"`
	ReceivedAt time.Time        `json:"received_at"`
}
