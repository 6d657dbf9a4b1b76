package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsProtocolVersion = 1
	wsMaxPayloadBytes = 1 << 20
	wsTickInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
)

// controlPlane upgrades websocket connections and owns their shared
// dependencies.
type controlPlane struct {
	server   *Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newControlPlane() http.Handler {
	return &controlPlane{
		server: s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// wsFrame is the wire envelope for requests, responses, and events.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConn is one browser connection: its state key, its send queue, its
// per-connection UI state, and its live stream attachments.
type wsConn struct {
	control *controlPlane
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	// id is the server-assigned state key handed out in the connect
	// handshake; resource subscriptions and stream subscriber ids hang
	// off it.
	id        string
	connected atomic.Bool
	seq       int64

	ui *uiSession

	mu      sync.Mutex
	streams map[string]bool
	wg      sync.WaitGroup
}

func (h *controlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &wsConn{
		control: h,
		conn:    conn,
		send:    make(chan []byte, 64),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
		streams: make(map[string]bool),
	}
	c.ui = newUISession(c)

	h.server.metrics.ClientConnected()
	h.logger.Debug("ws client connected", "state_key", c.id, "remote", r.RemoteAddr)
	c.run()
}

func (c *wsConn) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *wsConn) close() {
	c.cancel()
	c.wg.Wait()
	if c.control.server.tracker != nil {
		c.control.server.tracker.DropSession(c.id)
	}
	// The render coordinator may still fire into the send queue while it
	// drains, so the queue is never closed; the write loop exits on ctx.
	c.ui.Close()
	_ = c.conn.Close()
	c.control.server.metrics.ClientDisconnected()
	c.control.logger.Debug("ws client disconnected", "state_key", c.id)
}

func (c *wsConn) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeFrame(data)
		if err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}

		if !c.connected.Load() {
			if frame.Method != "connect" {
				c.sendError(frame.ID, "handshake_required", "first request must be connect")
				continue
			}
			if err := c.handleConnect(frame); err != nil {
				c.sendError(frame.ID, "connect_failed", err.Error())
				return
			}
			continue
		}

		if err := c.handleRequest(frame); err != nil {
			c.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if err := validateRequestFrame(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

type wsConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      wsClientInfo `json:"client"`
}

type wsClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

func (c *wsConn) handleConnect(frame *wsFrame) error {
	var params wsConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}

	minProtocol := params.MinProtocol
	maxProtocol := params.MaxProtocol
	if minProtocol <= 0 {
		minProtocol = wsProtocolVersion
	}
	if maxProtocol <= 0 {
		maxProtocol = wsProtocolVersion
	}
	if wsProtocolVersion < minProtocol || wsProtocolVersion > maxProtocol {
		return fmt.Errorf("unsupported protocol version")
	}

	srv := c.control.server
	payload := map[string]any{
		"type":     "hello-ok",
		"protocol": wsProtocolVersion,
		"stateKey": c.id,
		"features": map[string]any{
			"methods": supportedMethods(),
			"events":  supportedEvents(),
		},
		"policy": map[string]any{
			"maxPayloadBytes": wsMaxPayloadBytes,
			"tickIntervalMs":  wsTickInterval.Milliseconds(),
		},
		"agents": map[string]any{
			"available": srv.agents,
			"default":   srv.defaultAgent,
		},
	}
	if err := c.sendResponse(frame.ID, true, payload, nil); err != nil {
		return err
	}
	c.connected.Store(true)
	go c.startTicking()
	return nil
}

func (c *wsConn) sendResponse(id string, ok bool, payload any, respErr *wsError) error {
	return c.enqueue(wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
		Error:   respErr,
	})
}

func (c *wsConn) sendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&c.seq, 1)
	return c.enqueue(wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	})
}

func (c *wsConn) sendError(id, code, message string) {
	_ = c.sendResponse(id, false, nil, &wsError{Code: code, Message: message})
}

func (c *wsConn) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if len(data) > wsMaxPayloadBytes {
		return fmt.Errorf("payload too large")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

func (c *wsConn) startTicking() {
	ticker := time.NewTicker(wsTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			_ = c.sendEvent("tick", map[string]any{"timestamp": time.Now().UnixMilli()})
		}
	}
}

func supportedMethods() []string {
	return []string{
		"connect",
		"ping",
		"chat.send",
		"chat.subscribe",
		"chat.state",
		"chat.cancel",
		"chat.history",
		"approval.resolve",
		"approval.pending",
		"topics.list",
		"topics.create",
		"topics.rename",
		"topics.delete",
		"agents.list",
		"agents.validate",
		"push.subscribe",
		"push.unsubscribe",
		"resource.subscribe",
		"resource.unsubscribe",
	}
}

func supportedEvents() []string {
	return []string{
		"tick",
		"stream.update",
		"stream.complete",
		"stream.error",
		"tool.update",
		"approval.request",
		"resource.updated",
		"resource.list_changed",
	}
}
