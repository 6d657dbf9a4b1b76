package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/internal/uistate"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

func (c *wsConn) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return c.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "chat.send":
		return c.handleChatSend(frame)
	case "chat.subscribe":
		return c.handleChatSubscribe(frame)
	case "chat.state":
		return c.handleChatState(frame)
	case "chat.cancel":
		return c.handleChatCancel(frame)
	case "chat.history":
		return c.handleChatHistory(frame)
	case "approval.resolve":
		return c.handleApprovalResolve(frame)
	case "approval.pending":
		return c.handleApprovalPending(frame)
	case "topics.list":
		return c.handleTopicsList(frame)
	case "topics.create":
		return c.handleTopicsCreate(frame)
	case "topics.rename":
		return c.handleTopicsRename(frame)
	case "topics.delete":
		return c.handleTopicsDelete(frame)
	case "agents.list":
		return c.handleAgentsList(frame)
	case "agents.validate":
		return c.handleAgentsValidate(frame)
	case "push.subscribe":
		return c.handlePushSubscribe(frame)
	case "push.unsubscribe":
		return c.handlePushUnsubscribe(frame)
	case "resource.subscribe":
		return c.handleResourceSubscribe(frame)
	case "resource.unsubscribe":
		return c.handleResourceUnsubscribe(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

type wsTopicParams struct {
	TopicID string `json:"topicId"`
}

type wsChatSendParams struct {
	TopicID string `json:"topicId"`
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
}

type wsChatHistoryParams struct {
	TopicID string `json:"topicId"`
	Limit   int    `json:"limit"`
}

type wsApprovalResolveParams struct {
	TopicID    string `json:"topicId"`
	ApprovalID string `json:"approvalId"`
	Result     string `json:"result"`
}

type wsTopicsCreateParams struct {
	Title   string `json:"title"`
	AgentID string `json:"agentId,omitempty"`
}

type wsTopicsRenameParams struct {
	TopicID string `json:"topicId"`
	Title   string `json:"title"`
}

type wsAgentsValidateParams struct {
	AgentID string `json:"agentId"`
}

type wsPushSubscribeParams struct {
	UserID       string             `json:"userId"`
	Subscription wsPushSubscription `json:"subscription"`
}

type wsPushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type wsPushUnsubscribeParams struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
}

type wsResourceParams struct {
	URI string `json:"uri"`
}

// topicView is the wire shape for one topic.
type topicView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AgentID   string    `json:"agentId"`
	ChatID    int64     `json:"chatId"`
	ThreadID  int64     `json:"threadId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func viewOfTopic(t state.Topic) topicView {
	return topicView{
		ID:        t.ID,
		Title:     t.Title,
		AgentID:   t.AgentID,
		ChatID:    t.ChatID,
		ThreadID:  t.ThreadID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// metadataOfTopic projects a stored topic into the UI's display row.
// Read counts live only in the connection's store.
func metadataOfTopic(t state.Topic) models.TopicMetadata {
	return models.TopicMetadata{
		TopicID:       t.ID,
		Name:          t.Title,
		AgentID:       t.AgentID,
		ChatID:        t.ChatID,
		ThreadID:      t.ThreadID,
		LastMessageAt: t.UpdatedAt,
	}
}

func (c *wsConn) topicKey(topicID string) (state.Topic, models.ConversationKey, error) {
	topic, err := c.control.server.topics.Get(c.ctx, topicID)
	if err != nil {
		return state.Topic{}, models.ConversationKey{}, fmt.Errorf("topic %s: %w", topicID, err)
	}
	return topic, topic.Key(), nil
}

func (c *wsConn) handleChatSend(frame *wsFrame) error {
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Content) == "" {
		return errors.New("content is required")
	}

	srv := c.control.server
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}
	sess, err := srv.registry.Get(c.ctx, key)
	if err != nil {
		return fmt.Errorf("session unavailable: %w", err)
	}

	// Baseline before the prompt is submitted, so the run-start wait in
	// streamRun can tell this run apart from an older one.
	base := sess.LastActive()

	prompt := &models.Prompt{
		PromptID:   "web-" + uuid.NewString(),
		Key:        key,
		Text:       params.Content,
		SenderID:   params.Sender,
		Source:     models.SourceWeb,
		ReceivedAt: time.Now().UTC(),
	}
	select {
	case srv.prompts <- prompt:
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
	if err := srv.topics.Touch(c.ctx, params.TopicID); err != nil {
		c.control.logger.Warn("topic touch failed", "topic_id", params.TopicID, "error", err)
	}
	c.ui.dispatcher.Dispatch(uistate.MessageReceived{
		TopicID: params.TopicID,
		Message: uistate.Message{
			ID:        prompt.PromptID,
			Role:      "user",
			Content:   params.Content,
			CreatedAt: prompt.ReceivedAt,
		},
	})

	if err := c.sendResponse(frame.ID, true, map[string]any{
		"status":   "accepted",
		"promptId": prompt.PromptID,
		"topicId":  params.TopicID,
	}, nil); err != nil {
		return err
	}
	c.streamRun(params.TopicID, sess, base, true)
	return nil
}

func (c *wsConn) handleChatSubscribe(frame *wsFrame) error {
	var params wsTopicParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}
	// Subscribing is selection: the client is now reading this topic.
	c.ui.dispatcher.Dispatch(uistate.TopicSelected{TopicID: params.TopicID})

	sess := c.control.server.registry.Peek(key)
	if sess == nil {
		return c.sendResponse(frame.ID, true, map[string]any{
			"status":   string(models.StatusIdle),
			"attached": false,
		}, nil)
	}

	st := sess.GetStreamState()
	if err := c.sendResponse(frame.ID, true, map[string]any{
		"status":             string(st.Status),
		"hasPendingApproval": st.HasPendingApproval,
		"bufferSize":         st.BufferSize,
		"attached":           true,
	}, nil); err != nil {
		return err
	}
	c.streamRun(params.TopicID, sess, time.Time{}, false)
	return nil
}

func (c *wsConn) handleChatState(frame *wsFrame) error {
	var params wsTopicParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"status":             string(models.StatusIdle),
		"hasPendingApproval": false,
		"bufferSize":         0,
	}
	if sess := c.control.server.registry.Peek(key); sess != nil {
		st := sess.GetStreamState()
		payload["status"] = string(st.Status)
		payload["hasPendingApproval"] = st.HasPendingApproval
		payload["bufferSize"] = st.BufferSize
	}
	return c.sendResponse(frame.ID, true, payload, nil)
}

func (c *wsConn) handleChatCancel(frame *wsFrame) error {
	var params wsTopicParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	cancelled := false
	if sess := c.control.server.registry.Peek(key); sess != nil {
		cancelled = sess.GetStreamState().Status == models.StatusProcessing
		sess.Cancel()
	}
	return c.sendResponse(frame.ID, true, map[string]any{"cancelled": cancelled}, nil)
}

func (c *wsConn) handleChatHistory(frame *wsFrame) error {
	srv := c.control.server
	if srv.history == nil {
		return errors.New("history store unavailable")
	}
	var params wsChatHistoryParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	msgs, err := srv.history.History(c.ctx, key, limit)
	if err != nil {
		return err
	}

	uiMsgs := make([]uistate.Message, 0, len(msgs))
	for _, m := range msgs {
		uiMsgs = append(uiMsgs, uistate.Message{
			ID:        m.ID,
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	c.ui.dispatcher.Dispatch(uistate.HistoryLoaded{TopicID: params.TopicID, Messages: uiMsgs})

	return c.sendResponse(frame.ID, true, map[string]any{
		"topicId":  params.TopicID,
		"messages": msgs,
	}, nil)
}

func (c *wsConn) handleApprovalResolve(frame *wsFrame) error {
	var params wsApprovalResolveParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	sess := c.control.server.registry.Peek(key)
	if sess == nil {
		return errors.New("no active session")
	}
	result := models.ApprovalResult(params.Result)
	if err := sess.ResolveApproval(params.ApprovalID, result); err != nil {
		return err
	}
	c.control.server.metrics.ApprovalResolved(string(result))
	c.ui.dispatcher.Dispatch(uistate.ApprovalResolved{ApprovalID: params.ApprovalID, Result: result})
	return c.sendResponse(frame.ID, true, map[string]any{"resolved": true}, nil)
}

func (c *wsConn) handleApprovalPending(frame *wsFrame) error {
	var params wsTopicParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	var approval any
	if sess := c.control.server.registry.Peek(key); sess != nil {
		if req := sess.PendingApproval(); req != nil {
			approval = req
		}
	}
	return c.sendResponse(frame.ID, true, map[string]any{"approval": approval}, nil)
}

func (c *wsConn) handleTopicsList(frame *wsFrame) error {
	topics, err := c.control.server.topics.List(c.ctx)
	if err != nil {
		return err
	}

	views := make([]topicView, 0, len(topics))
	uiTopics := make([]models.TopicMetadata, 0, len(topics))
	for _, t := range topics {
		views = append(views, viewOfTopic(t))
		uiTopics = append(uiTopics, metadataOfTopic(t))
	}
	c.ui.dispatcher.Dispatch(uistate.TopicsLoaded{Topics: uiTopics})

	return c.sendResponse(frame.ID, true, map[string]any{"topics": views}, nil)
}

func (c *wsConn) handleTopicsCreate(frame *wsFrame) error {
	var params wsTopicsCreateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Title) == "" {
		return errors.New("title is required")
	}

	srv := c.control.server
	agentID := params.AgentID
	if agentID == "" {
		agentID = srv.defaultAgent
	}
	if !srv.validAgents[agentID] {
		return fmt.Errorf("unknown agent %q", agentID)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	topic := state.Topic{
		ID:      id,
		Title:   params.Title,
		AgentID: agentID,
		// Topic ids hash onto stable chat ids so the conversation key
		// survives reconnects and restarts.
		ChatID:    models.DeriveChatID(id),
		ThreadID:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := srv.topics.Create(c.ctx, topic); err != nil {
		return err
	}
	c.ui.dispatcher.Dispatch(uistate.TopicCreated{Topic: metadataOfTopic(topic)})
	return c.sendResponse(frame.ID, true, map[string]any{"topic": viewOfTopic(topic)}, nil)
}

func (c *wsConn) handleTopicsRename(frame *wsFrame) error {
	var params wsTopicsRenameParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Title) == "" {
		return errors.New("title is required")
	}
	if err := c.control.server.topics.Rename(c.ctx, params.TopicID, params.Title); err != nil {
		return err
	}
	c.ui.dispatcher.Dispatch(uistate.TopicRenamed{TopicID: params.TopicID, Name: params.Title})
	return c.sendResponse(frame.ID, true, map[string]any{"renamed": true}, nil)
}

// handleTopicsDelete removes the topic and everything keyed by its
// conversation: the live session and the persisted history.
func (c *wsConn) handleTopicsDelete(frame *wsFrame) error {
	var params wsTopicParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	_, key, err := c.topicKey(params.TopicID)
	if err != nil {
		return err
	}

	srv := c.control.server
	if err := srv.topics.Delete(c.ctx, params.TopicID); err != nil {
		return err
	}
	srv.registry.Remove(key)
	if srv.history != nil {
		if err := srv.history.Clear(c.ctx, key); err != nil {
			c.control.logger.Warn("history clear failed", "topic_id", params.TopicID, "error", err)
		}
	}
	c.ui.dispatcher.Dispatch(uistate.TopicDeleted{TopicID: params.TopicID})
	return c.sendResponse(frame.ID, true, map[string]any{"deleted": true}, nil)
}

func (c *wsConn) handleAgentsList(frame *wsFrame) error {
	srv := c.control.server
	c.ui.dispatcher.Dispatch(uistate.AgentsLoaded{Agents: srv.agents})
	return c.sendResponse(frame.ID, true, map[string]any{
		"agents":  srv.agents,
		"default": srv.defaultAgent,
	}, nil)
}

func (c *wsConn) handleAgentsValidate(frame *wsFrame) error {
	var params wsAgentsValidateParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"agentId": params.AgentID,
		"valid":   c.control.server.validAgents[params.AgentID],
	}, nil)
}

func (c *wsConn) handlePushSubscribe(frame *wsFrame) error {
	srv := c.control.server
	if srv.push == nil {
		return errors.New("push store unavailable")
	}
	var params wsPushSubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	sub := state.PushSubscription{
		Endpoint: params.Subscription.Endpoint,
		Keys: state.PushKeys{
			P256dh: params.Subscription.Keys.P256dh,
			Auth:   params.Subscription.Keys.Auth,
		},
	}
	if err := srv.push.Subscribe(c.ctx, params.UserID, sub); err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"subscribed": true}, nil)
}

func (c *wsConn) handlePushUnsubscribe(frame *wsFrame) error {
	srv := c.control.server
	if srv.push == nil {
		return errors.New("push store unavailable")
	}
	var params wsPushUnsubscribeParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if err := srv.push.Unsubscribe(c.ctx, params.UserID, params.Endpoint); err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"subscribed": false}, nil)
}

func (c *wsConn) handleResourceSubscribe(frame *wsFrame) error {
	srv := c.control.server
	if srv.tracker == nil {
		return errors.New("resource tracking unavailable")
	}
	var params wsResourceParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	srv.tracker.Subscribe(c.id, params.URI, &wsNotifier{conn: c})
	return c.sendResponse(frame.ID, true, map[string]any{"uri": params.URI, "subscribed": true}, nil)
}

func (c *wsConn) handleResourceUnsubscribe(frame *wsFrame) error {
	srv := c.control.server
	if srv.tracker == nil {
		return errors.New("resource tracking unavailable")
	}
	var params wsResourceParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	srv.tracker.Unsubscribe(c.id, params.URI)
	return c.sendResponse(frame.ID, true, map[string]any{"uri": params.URI, "subscribed": false}, nil)
}
