// Package uistate is the state engine behind the browser adapter: a
// dispatcher routes typed actions to pure per-slice reducers, selectors
// memoize projections by reference equality, and a render coordinator
// throttles streaming bursts to one frame per window.
package uistate

import (
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// Message is one finalized chat message.
type Message struct {
	ID        string
	Role      string
	Content   string
	CreatedAt time.Time
}

// StreamContent is the accumulated in-flight assistant output for one
// topic.
type StreamContent struct {
	MessageID string
	Content   string
	Reasoning string
}

// ConnectionStatus tracks the websocket link to the agent.
type ConnectionStatus string

const (
	ConnDisconnected ConnectionStatus = "disconnected"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnReconnecting ConnectionStatus = "reconnecting"
)

// TopicsState lists the known topics and the current selection. Rows
// carry unread bookkeeping: LastMessageAt bumps as messages land, and
// LastReadCount follows the transcript length of the selected topic.
type TopicsState struct {
	Topics   []models.TopicMetadata
	Selected string
	Loaded   bool
}

// MessagesState holds per-topic message history. Loaded marks topics
// whose history has been fetched.
type MessagesState struct {
	ByTopic map[string][]Message
	Loaded  map[string]bool
}

// StreamingState holds in-flight assistant output. Streaming marks
// topics with a live stream; Resuming marks topics whose stream is
// being re-attached after a reconnect.
type StreamingState struct {
	ByTopic   map[string]StreamContent
	Streaming map[string]bool
	Resuming  map[string]bool
}

// ConnectionState tracks the transport link.
type ConnectionState struct {
	Status  ConnectionStatus
	LastErr string
}

// ApprovalState holds the tool approval awaiting a decision, if any.
type ApprovalState struct {
	Pending *models.ApprovalRequest
}

// SpaceState tracks which agent the UI is pointed at and what else is
// available.
type SpaceState struct {
	AgentID       string
	Agents        []string
	Notifications bool
}

// State is the root snapshot. Slices are held by pointer and replaced
// wholesale by their reducers, so two States compare equal exactly when
// no slice changed.
type State struct {
	Topics     *TopicsState
	Messages   *MessagesState
	Streaming  *StreamingState
	Connection *ConnectionState
	Approval   *ApprovalState
	Space      *SpaceState
}

func initialState() State {
	return State{
		Topics: &TopicsState{},
		Messages: &MessagesState{
			ByTopic: map[string][]Message{},
			Loaded:  map[string]bool{},
		},
		Streaming: &StreamingState{
			ByTopic:   map[string]StreamContent{},
			Streaming: map[string]bool{},
			Resuming:  map[string]bool{},
		},
		Connection: &ConnectionState{Status: ConnDisconnected},
		Approval:   &ApprovalState{},
		Space:      &SpaceState{},
	}
}

func cloneMessageMap(in map[string][]Message) map[string][]Message {
	out := make(map[string][]Message, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneBoolSet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneContentMap(in map[string]StreamContent) map[string]StreamContent {
	out := make(map[string]StreamContent, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
