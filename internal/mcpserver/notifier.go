package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/Dethon/Agent-sub012/internal/resourcemon"
)

// Broadcaster pushes a server notification to every connected client.
type Broadcaster interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

var _ Broadcaster = (*server.MCPServer)(nil)

// Notifier adapts the MCP server's broadcast channel to the resource
// tracker. Every connected client sees every change notification;
// clients that never subscribed to the URI are expected to ignore it.
type Notifier struct {
	b Broadcaster
}

var _ resourcemon.Notifier = (*Notifier)(nil)

// NewNotifier wraps a broadcaster.
func NewNotifier(b Broadcaster) *Notifier {
	return &Notifier{b: b}
}

// ResourceUpdated announces that the resource behind uri changed.
func (n *Notifier) ResourceUpdated(_ context.Context, uri string) error {
	n.b.SendNotificationToAllClients("notifications/resources/updated", map[string]any{
		"uri": uri,
	})
	return nil
}

// ResourceListChanged announces that the set of resources changed.
func (n *Notifier) ResourceListChanged(_ context.Context) error {
	n.b.SendNotificationToAllClients("notifications/resources/list_changed", nil)
	return nil
}
