package models

import (
	"encoding/json"
	"time"
)

// UpdateKind tags the variant carried by a ResponseUpdate.
type UpdateKind string

const (
	UpdateTextDelta      UpdateKind = "text_delta"
	UpdateReasoningDelta UpdateKind = "reasoning_delta"
	UpdateToolCallDelta  UpdateKind = "tool_call_delta"
	UpdateApproval       UpdateKind = "approval_request"
	UpdateStreamComplete UpdateKind = "stream_complete"
	UpdateError          UpdateKind = "error"
)

// ToolCallStage tracks a tool invocation through its lifecycle.
type ToolCallStage string

const (
	ToolStageRequested ToolCallStage = "requested"
	ToolStageRunning   ToolCallStage = "running"
	ToolStageCompleted ToolCallStage = "completed"
	ToolStageFailed    ToolCallStage = "failed"
	ToolStageRejected  ToolCallStage = "rejected"
)

// ToolCallUpdate reports progress of one tool invocation to subscribers.
type ToolCallUpdate struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Stage     ToolCallStage   `json:"stage"`
	Result    string          `json:"result,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// UpdateErr carries a stream-level error to subscribers. The message is
// user-presentable; Cause is not serialized.
type UpdateErr struct {
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// ResponseUpdate is the tagged union multicast to every subscriber of a
// conversation. Exactly one payload field is set, selected by Kind.
// StreamComplete and Error are terminal: each is guaranteed to be the
// last update a subscriber sees for the current run.
type ResponseUpdate struct {
	Kind           UpdateKind       `json:"kind"`
	Seq            int64            `json:"seq"`
	TextDelta      string           `json:"text_delta,omitempty"`
	ReasoningDelta string           `json:"reasoning_delta,omitempty"`
	ToolCall       *ToolCallUpdate  `json:"tool_call,omitempty"`
	Approval       *ApprovalRequest `json:"approval,omitempty"`
	Err            *UpdateErr       `json:"error,omitempty"`
	Cancelled      bool             `json:"cancelled,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Terminal reports whether the update ends the current run.
func (u *ResponseUpdate) Terminal() bool {
	return u.Kind == UpdateStreamComplete || u.Kind == UpdateError
}

// SessionStatus is the session state machine position.
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusProcessing SessionStatus = "processing"
	StatusCancelled  SessionStatus = "cancelled"
	StatusComplete   SessionStatus = "complete"
)

// StreamState is the snapshot adapters query before deciding to subscribe.
type StreamState struct {
	Status             SessionStatus `json:"status"`
	HasPendingApproval bool          `json:"has_pending_approval"`
	BufferSize         int           `json:"buffer_size"`
}
