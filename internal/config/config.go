// Package config loads the hearthd configuration file and resolves the
// per-user data directory.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Environment variable names. API keys and the gateway token are read only
// from the environment, never from config.json.
const (
	EnvHost  = "HEARTHD_HOST"
	EnvPort  = "HEARTHD_PORT"
	EnvToken = "HEARTHD_TOKEN"

	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
)

// Config is the full configuration surface recognized by hearthd.
type Config struct {
	Gateway  GatewayConfig  `json:"gateway"`
	Agents   AgentsConfig   `json:"agents"`
	Tools    ToolsConfig    `json:"tools"`
	Memory   MemoryConfig   `json:"memory"`
	Security SecurityConfig `json:"security"`
}

// GatewayConfig controls the loopback bind address.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// AgentsConfig names the default agent and the workspace directory.
type AgentsConfig struct {
	Default       string `json:"default,omitempty"`
	WorkspacePath string `json:"workspacePath,omitempty"`
}

// ToolsConfig bounds shell tool executions.
type ToolsConfig struct {
	// Timeout is the shell tool wall-clock cap in milliseconds.
	Timeout int `json:"timeout,omitempty"`
	// MaxOutputBytes caps merged stdout+stderr per execution.
	MaxOutputBytes int `json:"maxOutputBytes,omitempty"`
}

// MemoryConfig toggles the external memory indexer. The core only consults
// Enabled when serving memory.search.
type MemoryConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	EmbeddingModel string `json:"embeddingModel,omitempty"`
}

// SecurityConfig toggles the audit log and the secret redaction filter.
// Both default to enabled.
type SecurityConfig struct {
	AuditLog      *bool `json:"auditLog,omitempty"`
	SecretsFilter *bool `json:"secretsFilter,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Gateway.Host == "" {
		c.Gateway.Host = "127.0.0.1"
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 18789
	}
	if c.Agents.Default == "" {
		c.Agents.Default = "assistant"
	}
	if c.Tools.Timeout <= 0 {
		c.Tools.Timeout = 120_000
	}
	if c.Tools.MaxOutputBytes <= 0 {
		c.Tools.MaxOutputBytes = 100 * 1024
	}
	if c.Memory.Enabled == nil {
		c.Memory.Enabled = boolPtr(true)
	}
	if c.Memory.EmbeddingModel == "" {
		c.Memory.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Security.AuditLog == nil {
		c.Security.AuditLog = boolPtr(true)
	}
	if c.Security.SecretsFilter == nil {
		c.Security.SecretsFilter = boolPtr(true)
	}
}

func (c *Config) applyEnv() error {
	if host := os.Getenv(EnvHost); host != "" {
		c.Gateway.Host = host
	}
	if port := os.Getenv(EnvPort); port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n < 1 || n > 65535 {
			return fmt.Errorf("invalid %s: %q", EnvPort, port)
		}
		c.Gateway.Port = n
	}
	return nil
}

// Load reads the configuration file at path. A missing file yields the
// defaults rather than an error; environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// No config file is fine; run on defaults.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultDataDir resolves the per-user data directory (~/.hearthd).
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".hearthd"), nil
}

// WorkspaceDir resolves the workspace directory, honoring the
// agents.workspacePath override.
func (c *Config) WorkspaceDir(dataDir string) string {
	if c.Agents.WorkspacePath != "" {
		return c.Agents.WorkspacePath
	}
	return filepath.Join(dataDir, "workspace")
}

// AuditLogEnabled reports whether the append-only audit log is on.
func (c *Config) AuditLogEnabled() bool {
	return c.Security.AuditLog == nil || *c.Security.AuditLog
}

// SecretsFilterEnabled reports whether tool output redaction is on.
func (c *Config) SecretsFilterEnabled() bool {
	return c.Security.SecretsFilter == nil || *c.Security.SecretsFilter
}

// MemoryEnabled reports whether the external memory indexer is expected to
// populate memory.db.
func (c *Config) MemoryEnabled() bool {
	return c.Memory.Enabled == nil || *c.Memory.Enabled
}

func boolPtr(b bool) *bool { return &b }
