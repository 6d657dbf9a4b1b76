// Package config loads and validates the agent configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig        `yaml:"server" json:"server"`
	Redis     RedisConfig         `yaml:"redis" json:"redis"`
	Bus       BusConfig           `yaml:"bus" json:"bus"`
	Bot       BotConfig           `yaml:"bot" json:"bot"`
	LLM       LLMConfig           `yaml:"llm" json:"llm"`
	Agents    []AgentConfig       `yaml:"agents" json:"agents"`
	Approval  ApprovalConfig      `yaml:"approval" json:"approval"`
	Resources ResourceWatchConfig `yaml:"resources" json:"resources"`
	Sessions  SessionConfig       `yaml:"sessions" json:"sessions"`
	Logging   LoggingConfig       `yaml:"logging" json:"logging"`
}

// ServerConfig configures the web surface (websocket control plane,
// MCP server mounts, metrics).
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisConfig configures the persisted-state store.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`
}

// BusConfig configures the NATS prompt bus adapter.
type BusConfig struct {
	Enabled           bool     `yaml:"enabled" json:"enabled"`
	URL               string   `yaml:"url" json:"url"`
	RequestSubject    string   `yaml:"request_subject" json:"request_subject"`
	ResponseSubject   string   `yaml:"response_subject" json:"response_subject"`
	DeadLetterSubject string   `yaml:"dead_letter_subject" json:"dead_letter_subject"`
	QueueGroup        string   `yaml:"queue_group" json:"queue_group"`
	ValidAgentIDs     []string `yaml:"valid_agent_ids" json:"valid_agent_ids"`
}

// BotConfig configures the messenger bot adapter.
type BotConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Token        string  `yaml:"token" json:"token,omitempty"`
	AllowedUsers []int64 `yaml:"allowed_users" json:"allowed_users,omitempty"`
	DefaultAgent string  `yaml:"default_agent" json:"default_agent"`
}

// LLMConfig configures the chat-client providers.
type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider" json:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" json:"providers"`
}

// ProviderConfig configures one LLM provider. A BaseURL pointing at an
// OpenAI-compatible local server selects the local-model path.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key" json:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url" json:"base_url,omitempty"`
	DefaultModel string `yaml:"default_model" json:"default_model"`
	MaxTokens    int    `yaml:"max_tokens" json:"max_tokens"`
}

// AgentConfig describes one configured agent: its chat client, its MCP
// tool endpoints, and its approval whitelist.
type AgentConfig struct {
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	Provider      string           `yaml:"provider" json:"provider"`
	Model         string           `yaml:"model" json:"model"`
	UserID        string           `yaml:"user_id" json:"user_id"`
	Endpoints     []EndpointConfig `yaml:"endpoints" json:"endpoints"`
	Whitelist     []string         `yaml:"whitelist" json:"whitelist"`
	MaxIterations int              `yaml:"max_iterations" json:"max_iterations"`
}

// EndpointConfig is one MCP tool-server endpoint.
type EndpointConfig struct {
	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// ApprovalConfig tunes the tool-approval gate.
type ApprovalConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ResourceWatchConfig tunes the resource subscription monitor.
type ResourceWatchConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// SessionConfig tunes the per-conversation session manager.
type SessionConfig struct {
	SubscriberBuffer int           `yaml:"subscriber_buffer" json:"subscriber_buffer"`
	HistoryLimit     int           `yaml:"history_limit" json:"history_limit"`
	HistoryTTL       time.Duration `yaml:"history_ttl" json:"history_ttl"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load reads, expands, parses, defaults, and validates the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand ${VAR} references so secrets stay out of the file.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Bus.URL == "" {
		cfg.Bus.URL = "nats://localhost:4222"
	}
	if cfg.Bus.RequestSubject == "" {
		cfg.Bus.RequestSubject = "agent.prompts.request"
	}
	if cfg.Bus.ResponseSubject == "" {
		cfg.Bus.ResponseSubject = "agent.prompts.response"
	}
	if cfg.Bus.DeadLetterSubject == "" {
		cfg.Bus.DeadLetterSubject = "agent.prompts.deadletter"
	}
	if cfg.Bus.QueueGroup == "" {
		cfg.Bus.QueueGroup = "agent-workers"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Approval.Timeout == 0 {
		cfg.Approval.Timeout = 5 * time.Minute
	}
	if cfg.Resources.TickInterval == 0 {
		cfg.Resources.TickInterval = 5 * time.Second
	}
	if cfg.Sessions.SubscriberBuffer == 0 {
		cfg.Sessions.SubscriberBuffer = 64
	}
	if cfg.Sessions.HistoryLimit == 0 {
		cfg.Sessions.HistoryLimit = 50
	}
	if cfg.Sessions.HistoryTTL == 0 {
		cfg.Sessions.HistoryTTL = 30 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	for i := range cfg.Agents {
		if cfg.Agents[i].Provider == "" {
			cfg.Agents[i].Provider = cfg.LLM.DefaultProvider
		}
		if cfg.Agents[i].MaxIterations == 0 {
			cfg.Agents[i].MaxIterations = 10
		}
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: at least one agent must be defined")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if _, ok := c.LLM.Providers[a.Provider]; !ok {
			return fmt.Errorf("config: agent %q references unknown provider %q", a.ID, a.Provider)
		}
		names := make(map[string]bool, len(a.Endpoints))
		for _, ep := range a.Endpoints {
			if ep.Name == "" || ep.URL == "" {
				return fmt.Errorf("config: agent %q has endpoint with empty name or url", a.ID)
			}
			if names[ep.Name] {
				return fmt.Errorf("config: agent %q has duplicate endpoint name %q", a.ID, ep.Name)
			}
			names[ep.Name] = true
		}
	}
	if c.Bot.Enabled && c.Bot.Token == "" {
		return fmt.Errorf("config: bot enabled without token")
	}
	if c.Bus.Enabled && len(c.Bus.ValidAgentIDs) == 0 {
		return fmt.Errorf("config: bus enabled without valid_agent_ids whitelist")
	}
	return nil
}

// AgentByID returns the agent config for id, if defined.
func (c *Config) AgentByID(id string) (*AgentConfig, bool) {
	for i := range c.Agents {
		if c.Agents[i].ID == id {
			return &c.Agents[i], true
		}
	}
	return nil, false
}
