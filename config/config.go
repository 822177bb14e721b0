package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig holds settings for the Anthropic provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// OpenAIConfig holds settings for the OpenAI provider.
type OpenAIConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// OllamaConfig holds settings for the local Ollama provider.
type OllamaConfig struct {
	Host   string   `yaml:"host,omitempty"`
	Models []string `yaml:"models,omitempty"`
}

// MCPServerConfig describes one MCP server to load capabilities from.
type MCPServerConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Env     []string `yaml:"env,omitempty"`
	Risk    string   `yaml:"risk,omitempty"` // low, medium, high
}

// RetryConfig tunes the orchestrator's retry policy.
type RetryConfig struct {
	MaxRetries  uint64 `yaml:"max_retries,omitempty"`
	BaseDelayMS int    `yaml:"base_delay_ms,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Providers lists the providers to register, in order. The first entry
	// becomes active.
	Providers []string `yaml:"providers,omitempty"`

	Anthropic AnthropicConfig `yaml:"anthropic,omitempty"`
	OpenAI    OpenAIConfig    `yaml:"openai,omitempty"`
	Ollama    OllamaConfig    `yaml:"ollama,omitempty"`

	MCPServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`

	// Mode selects the approval policy: auto, guarded, or restricted.
	Mode string `yaml:"mode,omitempty"`
	// ApprovalTimeoutSeconds bounds how long a tool call waits for approval.
	ApprovalTimeoutSeconds int `yaml:"approval_timeout_seconds,omitempty"`
	// Notify raises a desktop notification for each approval request.
	Notify bool `yaml:"notify,omitempty"`

	// UsageDB is the path to the SQLite usage ledger.
	UsageDB string `yaml:"usage_db,omitempty"`
	// LogFile is the log destination; empty means stdout.
	LogFile string `yaml:"log_file,omitempty"`
}

// DefaultPath returns the default config file path. It can be overridden via
// the SWITCHBOARD_CONFIG environment variable.
func DefaultPath() string {
	if envPath := os.Getenv("SWITCHBOARD_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.switchboard/config.yaml"
	}
	return filepath.Join(homeDir, ".switchboard", "config.yaml")
}

// Load reads the config file at path and merges it over the defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	defaults := Config{
		Providers: []string{"anthropic"},
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BaseDelayMS: 500,
		},
		Mode:                   "guarded",
		ApprovalTimeoutSeconds: 30,
		UsageDB:                "switchboard.db",
		MCPServers:             make(map[string]*MCPServerConfig),
	}

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return &defaults, nil
	}

	raw, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional config file read
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}

	var loaded Config
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := mergo.Merge(&defaults, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}

	if defaults.MCPServers == nil {
		defaults.MCPServers = make(map[string]*MCPServerConfig)
	}
	return &defaults, nil
}

// Save writes the configuration to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	if err := os.MkdirAll(filepath.Dir(expandedPath), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Credentials maps provider ids to their configured API credentials.
func (c *Config) Credentials() map[string]string {
	return map[string]string{
		"anthropic": c.Anthropic.APIKey,
		"openai":    c.OpenAI.APIKey,
		"ollama":    "",
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
