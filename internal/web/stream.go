package web

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Dethon/Agent-sub012/internal/resourcemon"
	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/internal/uistate"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

// uiSession is the per-connection state engine: dispatched actions
// reduce into a store snapshot, and the render coordinator coalesces
// token bursts into at most one stream.update frame per window.
type uiSession struct {
	dispatcher *uistate.Dispatcher
	store      *uistate.Store
	render     *uistate.RenderCoordinator
}

func newUISession(c *wsConn) *uiSession {
	d := uistate.NewDispatcher()
	ui := &uiSession{
		dispatcher: d,
		store:      uistate.NewStore(d),
	}
	ui.render = uistate.NewRenderCoordinator(uistate.DefaultRenderInterval, func(topicID string, content uistate.StreamContent) {
		_ = c.sendEvent("stream.update", map[string]any{
			"topicId":   topicID,
			"messageId": content.MessageID,
			"content":   content.Content,
			"reasoning": content.Reasoning,
		})
	})
	return ui
}

func (ui *uiSession) Close() {
	ui.render.Close()
}

// streamRun attaches one relay goroutine to a session's update stream.
// At most one attachment per topic per connection; a second call while
// one is live is a no-op. When await is set the relay first waits for a
// run newer than base to go live, so a prompt submitted just before
// does not race its own subscription.
func (c *wsConn) streamRun(topicID string, sess *sessions.Session, base time.Time, await bool) {
	c.mu.Lock()
	if c.streams[topicID] {
		c.mu.Unlock()
		return
	}
	c.streams[topicID] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.streams, topicID)
			c.mu.Unlock()
			c.wg.Done()
		}()

		if await {
			if err := sessions.AwaitRunStart(c.ctx, sess, base, c.control.server.startTimeout); err != nil {
				_ = c.sendEvent("stream.error", map[string]any{
					"topicId": topicID,
					"message": err.Error(),
				})
				return
			}
		}

		sub, err := sess.Subscribe("ws:" + c.id + ":" + topicID)
		if err != nil {
			_ = c.sendEvent("stream.error", map[string]any{
				"topicId": topicID,
				"message": err.Error(),
			})
			return
		}
		defer sess.Unsubscribe(sub.ID)

		c.pipe(topicID, sub)
	}()
}

// pipe relays one subscriber's updates: token deltas reduce into the
// store and render through the coalescing window, while tool progress,
// approvals, and terminals go out immediately.
func (c *wsConn) pipe(topicID string, sub *sessions.Subscriber) {
	messageID := ""
	for {
		select {
		case <-c.ctx.Done():
			return
		case u, ok := <-sub.Updates():
			if !ok {
				c.ui.render.Flush(topicID)
				return
			}
			switch u.Kind {
			case models.UpdateTextDelta, models.UpdateReasoningDelta:
				if messageID == "" {
					messageID = uuid.NewString()
					c.ui.dispatcher.Dispatch(uistate.StreamStarted{TopicID: topicID, MessageID: messageID})
				}
				c.ui.dispatcher.Dispatch(uistate.StreamDelta{
					TopicID:   topicID,
					Content:   u.TextDelta,
					Reasoning: u.ReasoningDelta,
				})
				c.ui.render.Offer(topicID, c.ui.store.State().Streaming.ByTopic[topicID])

			case models.UpdateToolCallDelta:
				_ = c.sendEvent("tool.update", map[string]any{
					"topicId":  topicID,
					"toolCall": u.ToolCall,
				})

			case models.UpdateApproval:
				if u.Approval == nil {
					continue
				}
				c.ui.dispatcher.Dispatch(uistate.ApprovalRequested{Request: *u.Approval})
				_ = c.sendEvent("approval.request", map[string]any{
					"topicId":  topicID,
					"approval": u.Approval,
				})

			case models.UpdateError:
				c.ui.render.Flush(topicID)
				c.ui.dispatcher.Dispatch(uistate.StreamCancelled{TopicID: topicID})
				msg := "run failed"
				if u.Err != nil && u.Err.Message != "" {
					msg = u.Err.Message
				}
				_ = c.sendEvent("stream.complete", map[string]any{
					"topicId": topicID,
					"status":  "error",
					"error":   msg,
				})
				return

			case models.UpdateStreamComplete:
				content := c.ui.store.State().Streaming.ByTopic[topicID]
				c.ui.render.Flush(topicID)
				if u.Cancelled {
					c.ui.dispatcher.Dispatch(uistate.StreamCancelled{TopicID: topicID})
					_ = c.sendEvent("stream.complete", map[string]any{
						"topicId": topicID,
						"status":  "cancelled",
					})
					return
				}
				if messageID != "" {
					c.ui.dispatcher.Dispatch(uistate.StreamFinalized{
						TopicID: topicID,
						Message: uistate.Message{
							ID:        messageID,
							Role:      "assistant",
							Content:   content.Content,
							CreatedAt: time.Now().UTC(),
						},
					})
				}
				_ = c.sendEvent("stream.complete", map[string]any{
					"topicId":   topicID,
					"status":    "complete",
					"messageId": messageID,
					"content":   content.Content,
				})
				return
			}
		}
	}
}

// wsNotifier relays resource notifications for one connection's
// subscriptions back over its websocket.
type wsNotifier struct {
	conn *wsConn
}

var _ resourcemon.Notifier = (*wsNotifier)(nil)

func (n *wsNotifier) ResourceUpdated(_ context.Context, uri string) error {
	return n.conn.sendEvent("resource.updated", map[string]any{"uri": uri})
}

func (n *wsNotifier) ResourceListChanged(_ context.Context) error {
	return n.conn.sendEvent("resource.list_changed", nil)
}
