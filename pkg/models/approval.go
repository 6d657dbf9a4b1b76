package models

import (
	"encoding/json"
	"time"
)

// ApprovalResult is the user's decision on a tool invocation.
type ApprovalResult string

const (
	ApprovalApproved    ApprovalResult = "approved"
	ApprovalRemembered  ApprovalResult = "approved_and_remember"
	ApprovalRejected    ApprovalResult = "rejected"
	ApprovalAutoGranted ApprovalResult = "auto_approved"
)

// Granted reports whether the decision permits execution.
func (r ApprovalResult) Granted() bool {
	switch r {
	case ApprovalApproved, ApprovalRemembered, ApprovalAutoGranted:
		return true
	default:
		return false
	}
}

// ApprovalRequest asks the user to allow one tool call. At most one
// request is pending per conversation; its ApprovalID ties the eventual
// resolution back to the suspended call.
type ApprovalRequest struct {
	ApprovalID string          `json:"approval_id"`
	Key        ConversationKey `json:"key"`
	ToolName   string          `json:"tool_name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	Remember   bool            `json:"remember,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
