package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Dethon/Agent-sub012/internal/state"
)

// downloadView is the wire shape for downloads on the resource and
// tool surfaces.
type downloadView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"`
	UpdatedAt time.Time `json:"updated_at"`
}

func viewOf(d state.Download) downloadView {
	return downloadView{
		ID:        d.ID,
		Name:      d.Name,
		Status:    d.Status,
		Progress:  d.Progress,
		UpdatedAt: d.UpdatedAt,
	}
}

func registerResources(srv *server.MCPServer, downloads Downloads) {
	srv.AddResource(
		mcp.NewResource("downloads://", "downloads",
			mcp.WithResourceDescription("All tracked background downloads"),
			mcp.WithMIMEType("application/json"),
		),
		listDownloadsHandler(downloads),
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate("download://{id}/", "download",
			mcp.WithTemplateDescription("One tracked download, by id"),
			mcp.WithTemplateMIMEType("application/json"),
		),
		readDownloadHandler(downloads),
	)
}

func listDownloadsHandler(downloads Downloads) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := downloads.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list downloads: %w", err)
		}
		views := make([]downloadView, 0, len(list))
		for _, d := range list {
			views = append(views, viewOf(d))
		}
		return jsonContents(req.Params.URI, views)
	}
}

func readDownloadHandler(downloads Downloads) server.ResourceTemplateHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id, ok := state.ParseDownloadURI(req.Params.URI)
		if !ok {
			return nil, fmt.Errorf("malformed download uri %q", req.Params.URI)
		}
		d, err := downloads.Get(ctx, id)
		if err != nil {
			if errors.Is(err, state.ErrNotFound) {
				return nil, fmt.Errorf("download %s not found", id)
			}
			return nil, fmt.Errorf("load download %s: %w", id, err)
		}
		return jsonContents(req.Params.URI, viewOf(d))
	}
}

func jsonContents(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
