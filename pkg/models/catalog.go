package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// QualifyToolName forms the catalog key for a tool exposed by an MCP
// server: "<server>:<tool>". Qualification is what keeps the merged
// catalog collision-free across servers.
func QualifyToolName(server, tool string) string {
	return server + ":" + tool
}

// SplitToolName splits a qualified name back into server and tool parts.
func SplitToolName(qualified string) (server, tool string, err error) {
	idx := strings.Index(qualified, ":")
	if idx <= 0 || idx == len(qualified)-1 {
		return "", "", fmt.Errorf("unqualified tool name %q", qualified)
	}
	return qualified[:idx], qualified[idx+1:], nil
}

// ToolDescriptor describes one tool in the merged catalog.
type ToolDescriptor struct {
	Name        string          `json:"name"` // qualified: "<server>:<tool>"
	Server      string          `json:"server"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ToolCatalog maps qualified tool names to their descriptors. It is
// built once per agent session and stable for the session's life.
type ToolCatalog map[string]ToolDescriptor

// Names returns the qualified tool names in sorted order.
func (c ToolCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
