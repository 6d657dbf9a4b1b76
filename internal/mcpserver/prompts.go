package mcpserver

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// defaultPromptMemoryLimit caps user_context results when the caller
// names no limit.
const defaultPromptMemoryLimit = 10

// registerPrompts mounts the prompt templates. user_context turns a
// user's stored memories into a context block a caller can prepend to
// its own conversation.
func registerPrompts(srv *server.MCPServer, s *Server) {
	srv.AddPrompt(
		mcp.NewPrompt("user_context",
			mcp.WithPromptDescription("Known facts about a user, assembled from stored memories."),
			mcp.WithArgument("user_id",
				mcp.ArgumentDescription("Owner of the memories"),
				mcp.RequiredArgument(),
			),
			mcp.WithArgument("limit",
				mcp.ArgumentDescription("Maximum number of memories to include"),
			),
		),
		s.handleUserContextPrompt,
	)
}

func (s *Server) handleUserContextPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	userID := req.Params.Arguments["user_id"]
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	limit := defaultPromptMemoryLimit
	if raw := req.Params.Arguments["limit"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid limit %q", raw)
		}
		limit = n
	}

	entries, err := s.memories.Search(ctx, userID, "", nil, limit)
	if err != nil {
		s.logger.Warn("user context prompt failed", "user_id", userID, "error", err)
		return nil, fmt.Errorf("load memories: %w", err)
	}

	var b strings.Builder
	b.WriteString("Known facts about this user:\n")
	if len(entries) == 0 {
		b.WriteString("- nothing recorded yet\n")
	}
	for _, e := range entries {
		b.WriteString("- ")
		b.WriteString(e.Content)
		if len(e.Tags) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(e.Tags, ", "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Stored context for user %s", userID),
		Messages: []mcp.PromptMessage{
			{Role: mcp.RoleUser, Content: mcp.TextContent{Type: "text", Text: b.String()}},
		},
	}, nil
}
