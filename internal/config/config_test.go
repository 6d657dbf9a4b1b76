package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
server:
  port: 9090
llm:
  default_provider: local
  providers:
    local:
      base_url: http://localhost:11434/v1
      default_model: qwen3
    anthropic:
      api_key: ${TEST_ANTHROPIC_KEY}
      default_model: claude-sonnet-4-20250514
agents:
  - id: librarian
    name: Librarian
    provider: local
    user_id: user-1
    endpoints:
      - name: mcp-library
        url: http://localhost:9000/mcp
    whitelist:
      - "mcp:mcp-library:FileSearch"
bot:
  enabled: false
bus:
  enabled: true
  valid_agent_ids: [librarian]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host default = %q", cfg.Server.Host)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-ant-test" {
		t.Errorf("env expansion failed: %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
	if cfg.Sessions.HistoryTTL != 30*24*time.Hour {
		t.Errorf("HistoryTTL default = %v", cfg.Sessions.HistoryTTL)
	}
	if cfg.Bus.RequestSubject != "agent.prompts.request" {
		t.Errorf("RequestSubject default = %q", cfg.Bus.RequestSubject)
	}

	agent, ok := cfg.AgentByID("librarian")
	if !ok {
		t.Fatal("AgentByID(librarian) not found")
	}
	if agent.MaxIterations != 10 {
		t.Errorf("MaxIterations default = %d", agent.MaxIterations)
	}
	if len(agent.Endpoints) != 1 || agent.Endpoints[0].Name != "mcp-library" {
		t.Errorf("Endpoints = %+v", agent.Endpoints)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "no agents",
			mutate:  func(s string) string { return strings.Split(s, "agents:")[0] },
			wantErr: "at least one agent",
		},
		{
			name:    "unknown provider",
			mutate:  func(s string) string { return strings.Replace(s, "provider: local", "provider: missing", 1) },
			wantErr: "unknown provider",
		},
		{
			name:    "bus without whitelist",
			mutate:  func(s string) string { return strings.Replace(s, "valid_agent_ids: [librarian]", "valid_agent_ids: []", 1) },
			wantErr: "valid_agent_ids",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.mutate(sampleConfig)))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestJSONSchema(t *testing.T) {
	schema, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if !strings.Contains(string(schema), "default_provider") {
		t.Error("schema missing yaml-tagged field names")
	}
}
