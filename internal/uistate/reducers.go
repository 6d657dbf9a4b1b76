package uistate

import (
	"time"

	"github.com/Dethon/Agent-sub012/pkg/models"
)

// reduceRoot applies an action to every slice. Slices that do not
// handle the action return their input pointer, so the root State
// compares equal when nothing changed. Topics reduce last, against the
// already-reduced messages: read counts derive from transcript lengths.
func reduceRoot(s State, action Action) State {
	next := State{
		Messages:   reduceMessages(s.Messages, action),
		Streaming:  reduceStreaming(s.Streaming, action),
		Connection: reduceConnection(s.Connection, action),
		Approval:   reduceApproval(s.Approval, action),
		Space:      reduceSpace(s.Space, action),
	}
	next.Topics = reduceTopics(s.Topics, next.Messages, action)
	return next
}

func reduceTopics(s *TopicsState, msgs *MessagesState, action Action) *TopicsState {
	switch a := action.(type) {
	case TopicsLoaded:
		next := *s
		next.Topics = append([]models.TopicMetadata(nil), a.Topics...)
		next.Loaded = true
		return &next
	case TopicCreated:
		next := *s
		next.Topics = append(append([]models.TopicMetadata(nil), s.Topics...), a.Topic)
		return &next
	case TopicRenamed:
		next := *s
		next.Topics = append([]models.TopicMetadata(nil), s.Topics...)
		for i := range next.Topics {
			if next.Topics[i].TopicID == a.TopicID {
				next.Topics[i].Name = a.Name
			}
		}
		return &next
	case TopicDeleted:
		next := *s
		next.Topics = make([]models.TopicMetadata, 0, len(s.Topics))
		for _, t := range s.Topics {
			if t.TopicID != a.TopicID {
				next.Topics = append(next.Topics, t)
			}
		}
		if next.Selected == a.TopicID {
			next.Selected = ""
		}
		return &next
	case TopicSelected:
		next := *s
		next.Selected = a.TopicID
		next.Topics = markRead(s.Topics, a.TopicID, len(msgs.ByTopic[a.TopicID]))
		return &next
	case HistoryLoaded:
		// Fetched history of the open topic counts as read on arrival.
		if a.TopicID != s.Selected {
			return s
		}
		next := *s
		next.Topics = markRead(s.Topics, a.TopicID, len(msgs.ByTopic[a.TopicID]))
		return &next
	case MessageReceived:
		return touchTopic(s, msgs, a.TopicID, a.Message.CreatedAt)
	case StreamFinalized:
		return touchTopic(s, msgs, a.TopicID, a.Message.CreatedAt)
	default:
		return s
	}
}

// touchTopic records a landed message on its topic row: LastMessageAt
// bumps, and when the row is the selected topic the user has seen the
// message, so LastReadCount follows the transcript length.
func touchTopic(s *TopicsState, msgs *MessagesState, topicID string, at time.Time) *TopicsState {
	next := *s
	next.Topics = append([]models.TopicMetadata(nil), s.Topics...)
	for i := range next.Topics {
		if next.Topics[i].TopicID != topicID {
			continue
		}
		next.Topics[i].LastMessageAt = at
		if s.Selected == topicID {
			next.Topics[i].LastReadCount = len(msgs.ByTopic[topicID])
		}
	}
	return &next
}

func markRead(topics []models.TopicMetadata, topicID string, count int) []models.TopicMetadata {
	out := append([]models.TopicMetadata(nil), topics...)
	for i := range out {
		if out[i].TopicID == topicID {
			out[i].LastReadCount = count
		}
	}
	return out
}

func reduceMessages(s *MessagesState, action Action) *MessagesState {
	switch a := action.(type) {
	case HistoryLoaded:
		next := *s
		next.ByTopic = cloneMessageMap(s.ByTopic)
		next.ByTopic[a.TopicID] = append([]Message(nil), a.Messages...)
		next.Loaded = cloneBoolSet(s.Loaded)
		next.Loaded[a.TopicID] = true
		return &next
	case HistoryReloadRequested:
		next := *s
		next.Loaded = cloneBoolSet(s.Loaded)
		delete(next.Loaded, a.TopicID)
		return &next
	case MessageReceived:
		next := *s
		next.ByTopic = cloneMessageMap(s.ByTopic)
		next.ByTopic[a.TopicID] = upsertMessage(s.ByTopic[a.TopicID], a.Message)
		return &next
	case StreamFinalized:
		// The finalized assistant message lands in the history keyed
		// by the streaming message id, so a late-arriving network copy
		// of the same message replaces rather than duplicates.
		next := *s
		next.ByTopic = cloneMessageMap(s.ByTopic)
		next.ByTopic[a.TopicID] = upsertMessage(s.ByTopic[a.TopicID], a.Message)
		return &next
	case MessagesCleared:
		next := *s
		next.ByTopic = cloneMessageMap(s.ByTopic)
		delete(next.ByTopic, a.TopicID)
		return &next
	case TopicDeleted:
		next := *s
		next.ByTopic = cloneMessageMap(s.ByTopic)
		delete(next.ByTopic, a.TopicID)
		next.Loaded = cloneBoolSet(s.Loaded)
		delete(next.Loaded, a.TopicID)
		return &next
	default:
		return s
	}
}

// upsertMessage appends msg to a copy of list, replacing an existing
// entry with the same id instead of duplicating it.
func upsertMessage(list []Message, msg Message) []Message {
	out := append([]Message(nil), list...)
	for i := range out {
		if out[i].ID == msg.ID {
			out[i] = msg
			return out
		}
	}
	return append(out, msg)
}

func reduceStreaming(s *StreamingState, action Action) *StreamingState {
	switch a := action.(type) {
	case StreamStarted:
		next := *s
		next.ByTopic = cloneContentMap(s.ByTopic)
		next.ByTopic[a.TopicID] = StreamContent{MessageID: a.MessageID}
		next.Streaming = cloneBoolSet(s.Streaming)
		next.Streaming[a.TopicID] = true
		next.Resuming = cloneBoolSet(s.Resuming)
		delete(next.Resuming, a.TopicID)
		return &next
	case StreamDelta:
		cur, ok := s.ByTopic[a.TopicID]
		if !ok {
			return s
		}
		cur.Content += a.Content
		cur.Reasoning += a.Reasoning
		next := *s
		next.ByTopic = cloneContentMap(s.ByTopic)
		next.ByTopic[a.TopicID] = cur
		return &next
	case StreamFinalized:
		return clearStream(s, a.TopicID)
	case StreamCancelled:
		return clearStream(s, a.TopicID)
	case TopicDeleted:
		return clearStream(s, a.TopicID)
	case StreamResumeRequested:
		next := *s
		next.Resuming = cloneBoolSet(s.Resuming)
		next.Resuming[a.TopicID] = true
		return &next
	default:
		return s
	}
}

func clearStream(s *StreamingState, topicID string) *StreamingState {
	next := *s
	next.ByTopic = cloneContentMap(s.ByTopic)
	delete(next.ByTopic, topicID)
	next.Streaming = cloneBoolSet(s.Streaming)
	delete(next.Streaming, topicID)
	next.Resuming = cloneBoolSet(s.Resuming)
	delete(next.Resuming, topicID)
	return &next
}

func reduceConnection(s *ConnectionState, action Action) *ConnectionState {
	switch a := action.(type) {
	case ConnectionChanged:
		next := *s
		next.Status = a.Status
		next.LastErr = a.Err
		return &next
	default:
		return s
	}
}

func reduceApproval(s *ApprovalState, action Action) *ApprovalState {
	switch a := action.(type) {
	case ApprovalRequested:
		next := *s
		req := a.Request
		next.Pending = &req
		return &next
	case ApprovalResolved:
		if s.Pending == nil || s.Pending.ApprovalID != a.ApprovalID {
			return s
		}
		next := *s
		next.Pending = nil
		return &next
	default:
		return s
	}
}

func reduceSpace(s *SpaceState, action Action) *SpaceState {
	switch a := action.(type) {
	case SpaceChanged:
		next := *s
		next.AgentID = a.AgentID
		return &next
	case AgentsLoaded:
		next := *s
		next.Agents = append([]string(nil), a.Agents...)
		return &next
	case NotificationsToggled:
		next := *s
		next.Notifications = a.Enabled
		return &next
	default:
		return s
	}
}
