package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Dethon/Agent-sub012/internal/sessions"
	"github.com/Dethon/Agent-sub012/internal/state"
	"github.com/Dethon/Agent-sub012/pkg/models"
)

func registerTools(srv *server.MCPServer, s *Server) {
	srv.AddTool(
		mcp.NewToolWithRawSchema("chat",
			"Send a prompt to a conversational agent and return its final answer. "+
				"Pass the same chat_id and thread_id to continue a conversation.",
			rawSchema(&chatArgs{}),
		),
		s.handleChat,
	)

	srv.AddTool(
		mcp.NewToolWithRawSchema("memory_save",
			"Store a memory for a user so later conversations can recall it.",
			rawSchema(&memorySaveArgs{}),
		),
		s.handleMemorySave,
	)

	srv.AddTool(
		mcp.NewToolWithRawSchema("memory_search",
			"Search a user's stored memories by text and tags, most important first.",
			rawSchema(&memorySearchArgs{}),
		),
		s.handleMemorySearch,
	)

	srv.AddTool(
		mcp.NewTool("download_status",
			mcp.WithDescription("Report the status of one background download, or all of them when no id is given."),
			mcp.WithString("download_id",
				mcp.Description("The download id to inspect (optional)"),
			),
		),
		s.handleDownloadStatus,
	)
}

// rawSchema reflects a tool's argument struct into its JSON schema.
func rawSchema(v any) json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	data, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// bindArgs decodes a tool call's arguments into a typed struct.
func bindArgs(req mcp.CallToolRequest, v any) error {
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

type chatArgs struct {
	Prompt   string `json:"prompt" jsonschema:"description=The user message to run through the agent"`
	AgentID  string `json:"agent_id,omitempty" jsonschema:"description=Agent to address; the configured default when omitted"`
	ChatID   int64  `json:"chat_id,omitempty" jsonschema:"description=Conversation chat id"`
	ThreadID int64  `json:"thread_id,omitempty" jsonschema:"description=Conversation thread id"`
	Sender   string `json:"sender,omitempty" jsonschema:"description=Identifier of the calling user"`
}

func (s *Server) handleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args chatArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}
	agentID := args.AgentID
	if agentID == "" {
		agentID = s.defaultAgent
	}
	if s.validAgents != nil && !s.validAgents[agentID] {
		s.metrics.ToolExecuted("chat", "rejected")
		return mcp.NewToolResultError(fmt.Sprintf("unknown agent %q", agentID)), nil
	}

	key := models.ConversationKey{ChatID: args.ChatID, ThreadID: args.ThreadID, AgentID: agentID}
	prompt := &models.Prompt{
		PromptID:   "mcp-" + uuid.NewString(),
		Key:        key,
		Text:       args.Prompt,
		SenderID:   args.Sender,
		Source:     models.SourceWeb,
		ReceivedAt: time.Now().UTC(),
	}

	sess, err := s.registry.Get(ctx, key)
	if err != nil {
		s.logger.Error("chat session unavailable", "agent", agentID, "error", err)
		s.metrics.ToolExecuted("chat", "error")
		return mcp.NewToolResultError(fmt.Sprintf("agent unavailable: %v", err)), nil
	}
	base := sess.LastActive()

	select {
	case s.prompts <- prompt:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	text, err := sessions.AwaitRunText(ctx, sess, base, "mcp:"+prompt.PromptID, s.chatTimeout)
	if err != nil {
		s.logger.Warn("chat run failed", "agent", agentID, "prompt_id", prompt.PromptID, "error", err)
		s.metrics.ToolExecuted("chat", "error")
		return mcp.NewToolResultError(fmt.Sprintf("chat failed: %v", err)), nil
	}
	s.metrics.ToolExecuted("chat", "ok")
	return mcp.NewToolResultText(text), nil
}

type memorySaveArgs struct {
	UserID     string   `json:"user_id" jsonschema:"description=Owner of the memory"`
	Content    string   `json:"content" jsonschema:"description=The memory text"`
	Tags       []string `json:"tags,omitempty" jsonschema:"description=Labels for later filtering"`
	Importance float64  `json:"importance,omitempty" jsonschema:"description=Relative weight between 0 and 1"`
}

func (s *Server) handleMemorySave(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args memorySaveArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.UserID == "" || args.Content == "" {
		return mcp.NewToolResultError("user_id and content are required"), nil
	}

	id, err := s.memories.Save(ctx, args.UserID, models.MemoryEntry{
		Content:    args.Content,
		Tags:       args.Tags,
		Importance: args.Importance,
	})
	if err != nil {
		s.metrics.ToolExecuted("memory_save", "error")
		return mcp.NewToolResultError(fmt.Sprintf("save failed: %v", err)), nil
	}
	s.metrics.ToolExecuted("memory_save", "ok")
	return jsonResult(map[string]string{"id": id})
}

type memorySearchArgs struct {
	UserID string   `json:"user_id" jsonschema:"description=Owner of the memories"`
	Query  string   `json:"query,omitempty" jsonschema:"description=Substring to match against memory content"`
	Tags   []string `json:"tags,omitempty" jsonschema:"description=Tags every result must carry"`
	Limit  int      `json:"limit,omitempty" jsonschema:"description=Maximum number of results"`
}

func (s *Server) handleMemorySearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args memorySearchArgs
	if err := bindArgs(req, &args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.UserID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	entries, err := s.memories.Search(ctx, args.UserID, args.Query, args.Tags, args.Limit)
	if err != nil {
		s.metrics.ToolExecuted("memory_search", "error")
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}
	if entries == nil {
		entries = []models.MemoryEntry{}
	}
	s.metrics.ToolExecuted("memory_search", "ok")
	// Raw embedding bytes are excluded from the entry's JSON form, so
	// results marshal straight into model context.
	return jsonResult(entries)
}

func (s *Server) handleDownloadStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("download_id", "")
	if id == "" {
		downloads, err := s.downloads.List(ctx)
		if err != nil {
			s.metrics.ToolExecuted("download_status", "error")
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		views := make([]downloadView, 0, len(downloads))
		for _, d := range downloads {
			views = append(views, viewOf(d))
		}
		s.metrics.ToolExecuted("download_status", "ok")
		return jsonResult(views)
	}

	d, err := s.downloads.Get(ctx, id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			s.metrics.ToolExecuted("download_status", "not_found")
			return mcp.NewToolResultError(fmt.Sprintf("download %s not found", id)), nil
		}
		s.metrics.ToolExecuted("download_status", "error")
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}
	s.metrics.ToolExecuted("download_status", "ok")
	return jsonResult(viewOf(d))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
