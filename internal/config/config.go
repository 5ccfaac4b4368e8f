// Package config loads the gateway's YAML configuration with environment
// variable expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/volans-ai/relay/internal/mcp"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config is the main configuration structure for the relay gateway.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Agent   AgentConfig   `yaml:"agent"`
	Store   StoreConfig   `yaml:"store"`
	Tools   ToolsConfig   `yaml:"tools"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ModelConfig selects and authenticates the model provider. A non-empty
// Endpoint switches the client to an Azure OpenAI resource; an empty one
// uses the public OpenAI API.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type AgentConfig struct {
	SystemPrompt  string `yaml:"system_prompt"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
}

type StoreConfig struct {
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ToolsConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
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
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "gpt-4o"
	}
	if cfg.Agent.MaxToolRounds == 0 {
		cfg.Agent.MaxToolRounds = 10
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreRedis
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Tools.Servers) == 0 {
		cfg.Tools.Servers = defaultToolServers()
	}
}

// defaultToolServers is the out-of-the-box catalog: the user records server
// is a hard dependency, web fetch and search degrade gracefully when absent.
func defaultToolServers() []mcp.ServerConfig {
	return []mcp.ServerConfig{
		{
			ID:        "user-records",
			Name:      "User Records",
			Transport: mcp.TransportHTTP,
			URL:       "http://localhost:8005/mcp",
			Required:  true,
		},
		{
			ID:        "fetch",
			Name:      "Web Fetch",
			Transport: mcp.TransportHTTP,
			URL:       "https://remote.mcpservers.org/fetch/mcp",
		},
		{
			ID:        "web-search",
			Name:      "Web Search",
			Transport: mcp.TransportStdio,
			Command:   "docker",
			Args:      []string{"run", "-i", "--rm", "khshanovskyi/ddg-mcp-server:latest"},
		},
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if c.Store.Backend != StoreRedis && c.Store.Backend != StoreMemory {
		return fmt.Errorf("store.backend must be %q or %q, got %q", StoreRedis, StoreMemory, c.Store.Backend)
	}
	if c.Agent.MaxToolRounds < 1 {
		return fmt.Errorf("agent.max_tool_rounds must be positive")
	}
	seen := make(map[string]bool, len(c.Tools.Servers))
	for i := range c.Tools.Servers {
		srv := &c.Tools.Servers[i]
		if srv.Transport == "" {
			srv.Transport = mcp.TransportStdio
		}
		if err := srv.Validate(); err != nil {
			return fmt.Errorf("tools.servers[%d]: %w", i, err)
		}
		if seen[srv.ID] {
			return fmt.Errorf("tools.servers[%d]: duplicate server id %q", i, srv.ID)
		}
		seen[srv.ID] = true
	}
	return nil
}
