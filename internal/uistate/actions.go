package uistate

import "github.com/Dethon/Agent-sub012/pkg/models"

// Action kinds, used for dispatcher registration.
const (
	KindTopicsLoaded  = "topics/loaded"
	KindTopicCreated  = "topics/created"
	KindTopicRenamed  = "topics/renamed"
	KindTopicDeleted  = "topics/deleted"
	KindTopicSelected = "topics/selected"

	KindHistoryLoaded          = "messages/history_loaded"
	KindHistoryReloadRequested = "messages/reload_requested"
	KindMessageReceived        = "messages/received"
	KindMessagesCleared        = "messages/cleared"

	KindStreamStarted         = "streaming/started"
	KindStreamDelta           = "streaming/delta"
	KindStreamFinalized       = "streaming/finalized"
	KindStreamCancelled       = "streaming/cancelled"
	KindStreamResumeRequested = "streaming/resume_requested"

	KindConnectionChanged = "connection/changed"

	KindApprovalRequested = "approval/requested"
	KindApprovalResolved  = "approval/resolved"

	KindSpaceChanged         = "space/changed"
	KindAgentsLoaded         = "space/agents_loaded"
	KindNotificationsToggled = "space/notifications_toggled"
	KindPushSubscribeRequest = "push/subscribe_requested"
)

// Action is a tagged state-transition request. Reducers switch on the
// concrete type; the dispatcher routes on Kind.
type Action interface {
	Kind() string
}

// TopicsLoaded replaces the topic list, usually from a topics.list
// round trip.
type TopicsLoaded struct{ Topics []models.TopicMetadata }

// TopicCreated appends a freshly created topic.
type TopicCreated struct{ Topic models.TopicMetadata }

// TopicRenamed retitles one topic.
type TopicRenamed struct {
	TopicID string
	Name    string
}

// TopicDeleted removes a topic and everything hanging off it.
type TopicDeleted struct{ TopicID string }

// TopicSelected moves the UI focus to a topic.
type TopicSelected struct{ TopicID string }

// HistoryLoaded installs a topic's fetched message history.
type HistoryLoaded struct {
	TopicID  string
	Messages []Message
}

// HistoryReloadRequested marks a topic's history stale; the transport
// layer listens for it and re-fetches.
type HistoryReloadRequested struct{ TopicID string }

// MessageReceived appends one finalized message, deduplicated by id.
type MessageReceived struct {
	TopicID string
	Message Message
}

// MessagesCleared wipes a topic's transcript.
type MessagesCleared struct{ TopicID string }

// StreamStarted opens in-flight output for a topic.
type StreamStarted struct {
	TopicID   string
	MessageID string
}

// StreamDelta appends streamed content to a topic's in-flight output.
type StreamDelta struct {
	TopicID   string
	Content   string
	Reasoning string
}

// StreamFinalized closes a topic's stream: the in-flight content is
// dropped and the finalized message lands in the history, deduplicated
// by the streaming message id.
type StreamFinalized struct {
	TopicID string
	Message Message
}

// StreamCancelled drops a topic's in-flight output without a final
// message.
type StreamCancelled struct{ TopicID string }

// StreamResumeRequested marks a topic's stream as being re-attached;
// the transport layer listens for it and re-subscribes.
type StreamResumeRequested struct{ TopicID string }

// ConnectionChanged records a transport status transition.
type ConnectionChanged struct {
	Status ConnectionStatus
	Err    string
}

// ApprovalRequested surfaces a pending tool approval.
type ApprovalRequested struct{ Request models.ApprovalRequest }

// ApprovalResolved records the user's decision and clears the pending
// request when the ids match.
type ApprovalResolved struct {
	ApprovalID string
	Result     models.ApprovalResult
}

// SpaceChanged points the UI at another agent.
type SpaceChanged struct{ AgentID string }

// AgentsLoaded replaces the available-agent list.
type AgentsLoaded struct{ Agents []string }

// NotificationsToggled flips browser push notifications.
type NotificationsToggled struct{ Enabled bool }

// PushSubscribeRequested asks the transport layer to sync the push
// subscription with the server. No reducer handles it.
type PushSubscribeRequested struct{ Enabled bool }

func (TopicsLoaded) Kind() string { return KindTopicsLoaded }

func (TopicCreated) Kind() string { return KindTopicCreated }

func (TopicRenamed) Kind() string { return KindTopicRenamed }

func (TopicDeleted) Kind() string { return KindTopicDeleted }

func (TopicSelected) Kind() string { return KindTopicSelected }

func (HistoryLoaded) Kind() string { return KindHistoryLoaded }

func (HistoryReloadRequested) Kind() string { return KindHistoryReloadRequested }

func (MessageReceived) Kind() string { return KindMessageReceived }

func (MessagesCleared) Kind() string { return KindMessagesCleared }

func (StreamStarted) Kind() string { return KindStreamStarted }

func (StreamDelta) Kind() string { return KindStreamDelta }

func (StreamFinalized) Kind() string { return KindStreamFinalized }

func (StreamCancelled) Kind() string { return KindStreamCancelled }

func (StreamResumeRequested) Kind() string { return KindStreamResumeRequested }

func (ConnectionChanged) Kind() string { return KindConnectionChanged }

func (ApprovalRequested) Kind() string { return KindApprovalRequested }

func (ApprovalResolved) Kind() string { return KindApprovalResolved }

func (SpaceChanged) Kind() string { return KindSpaceChanged }

func (AgentsLoaded) Kind() string { return KindAgentsLoaded }

func (NotificationsToggled) Kind() string { return KindNotificationsToggled }

func (PushSubscribeRequested) Kind() string { return KindPushSubscribeRequest }
