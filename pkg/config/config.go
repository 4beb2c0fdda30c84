// Package config loads the YAML configuration of the mcp-agent binary and
// turns it into options for the manager, the provider and the agent loop.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vikashloomba/mcp-agent-go/pkg/agent"
	"github.com/vikashloomba/mcp-agent-go/pkg/llm"
	"github.com/vikashloomba/mcp-agent-go/pkg/mcpmgr"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultPaths are searched in order when Load is given no path.
var DefaultPaths = []string{"config/config.yaml", "config.yaml", ".mcp-agent.yaml"}

// Config is the complete configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
	MCP   MCPConfig   `yaml:"mcp"`
	// MCPServers is a top-level shorthand for mcp.servers.
	MCPServers []ServerConfig `yaml:"mcp_servers,omitempty"`
	API        APIConfig      `yaml:"api"`
	Log        LogConfig      `yaml:"logging"`

	path string
}

// AgentConfig configures the conversation loop.
type AgentConfig struct {
	// Provider selects the LLM backend: "anthropic" or "openai".
	// Environment: API_PROVIDER
	Provider string `yaml:"provider"`
	// Environment: MCP_AGENT_MODEL
	Model string `yaml:"model"`
	// Environment: MCP_AGENT_MAX_TOKENS
	MaxTokens int64 `yaml:"max_tokens"`
	// Environment: MCP_AGENT_TEMPERATURE
	Temperature   float64 `yaml:"temperature"`
	MaxIterations int     `yaml:"max_iterations"`
	MaxHistory    int     `yaml:"max_history"`
	SystemPrompt  string  `yaml:"system_prompt"`
}

// MCPConfig configures the tool servers.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
	// UseToolPrefix exposes tools as "<server>_<tool>". Default: true
	UseToolPrefix *bool          `yaml:"use_tool_prefix,omitempty"`
	Servers       []ServerConfig `yaml:"servers"`
	// ConnectionTimeout is in seconds.
	ConnectionTimeout int  `yaml:"connection_timeout"`
	LogJSONRPC        bool `yaml:"log_jsonrpc"`
}

// ServerConfig is one entry of mcp.servers.
type ServerConfig struct {
	Name        string            `yaml:"name"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	Description string            `yaml:"description,omitempty"`
	// Enabled defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
	// URL selects the Streamable HTTP transport when Command is empty.
	URL string `yaml:"url,omitempty"`
	// Timeout is the connect timeout in seconds.
	Timeout int `yaml:"timeout,omitempty"`
}

// APIConfig holds provider credentials and SDK transport settings.
type APIConfig struct {
	Anthropic ProviderConfig `yaml:"anthropic"`
	OpenAI    ProviderConfig `yaml:"openai"`
	// Timeout is in seconds.
	Timeout    int `yaml:"timeout"`
	MaxRetries int `yaml:"max_retries"`
}

// ProviderConfig holds one provider's credentials.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is debug, info, warn or error. Environment: MCP_AGENT_DEBUG=true
	// forces debug.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Provider:      ProviderOpenAI,
			Model:         "claude-3-5-sonnet-20241022",
			MaxTokens:     8192,
			Temperature:   0.7,
			MaxIterations: 10,
			MaxHistory:    50,
		},
		MCP: MCPConfig{
			Enabled:           true,
			ConnectionTimeout: 30,
		},
		API: APIConfig{
			Timeout:    60,
			MaxRetries: 3,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configPath (or the first existing DefaultPaths entry when it is
// empty), applies environment overrides and validates the result. A missing
// default file is not an error; a missing explicit file is.
func Load(configPath string) (*Config, error) {
	cfg := Default()
	path := configPath
	if path == "" {
		for _, candidate := range DefaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}
	cfg.loadFromEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was read from, if any.
func (c *Config) Path() string { return c.path }

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if len(c.MCPServers) > 0 {
		c.MCP.Servers = c.MCPServers
		c.MCPServers = nil
	}
	c.path = path
	return nil
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("ANTHROPIC_API_KEY"); val != "" {
		c.API.Anthropic.APIKey = val
	}
	if val := os.Getenv("ANTHROPIC_BASE_URL"); val != "" {
		c.API.Anthropic.BaseURL = val
	}
	if val := os.Getenv("OPENAI_API_KEY"); val != "" {
		c.API.OpenAI.APIKey = val
	}
	if val := os.Getenv("OPENAI_BASE_URL"); val != "" {
		c.API.OpenAI.BaseURL = val
	}
	if val := os.Getenv("OPENAI_ORGANIZATION"); val != "" {
		c.API.OpenAI.Organization = val
	}
	if val := os.Getenv("API_PROVIDER"); val != "" {
		c.Agent.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("MCP_AGENT_MODEL"); val != "" {
		c.Agent.Model = val
	}
	if val := os.Getenv("MCP_AGENT_MAX_TOKENS"); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			c.Agent.MaxTokens = n
		}
	}
	if val := os.Getenv("MCP_AGENT_TEMPERATURE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			c.Agent.Temperature = f
		}
	}
	if val := os.Getenv("MCP_AGENT_DEBUG"); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "on":
			c.Log.Level = "debug"
		}
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Agent.Provider == "" {
		c.Agent.Provider = d.Agent.Provider
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = d.Agent.MaxTokens
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = d.Agent.MaxIterations
	}
	if c.Agent.MaxHistory <= 0 {
		c.Agent.MaxHistory = d.Agent.MaxHistory
	}
	if c.MCP.ConnectionTimeout <= 0 {
		c.MCP.ConnectionTimeout = d.MCP.ConnectionTimeout
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = d.API.Timeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Agent.Provider {
	case ProviderAnthropic, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("agent.provider %q must be %q or %q", c.Agent.Provider, ProviderAnthropic, ProviderOpenAI))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %v out of range [0, 2]", c.Agent.Temperature))
	}
	seen := make(map[string]bool)
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] has no name", i))
			continue
		}
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("mcp.servers: duplicate name %q", s.Name))
		}
		seen[s.Name] = true
		if strings.Contains(s.Name, " ") {
			errs = append(errs, fmt.Errorf("mcp.servers: name %q contains spaces", s.Name))
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// PrefixTools reports whether tool names are namespaced by server.
func (c *Config) PrefixTools() bool {
	if c.MCP.UseToolPrefix == nil {
		return true
	}
	return *c.MCP.UseToolPrefix
}

// ServerSpecs converts mcp.servers into manager specs, resolving
// ${VAR} and ${VAR:default} placeholders in env values and args. When mcp is
// disabled every spec is returned disabled.
func (c *Config) ServerSpecs() []mcpmgr.ServerSpec {
	specs := make([]mcpmgr.ServerSpec, 0, len(c.MCP.Servers))
	for _, s := range c.MCP.Servers {
		enabled := s.Enabled == nil || *s.Enabled
		spec := mcpmgr.ServerSpec{
			Name:        s.Name,
			Command:     s.Command,
			Description: s.Description,
			Enabled:     enabled && c.MCP.Enabled,
			Endpoint:    ExpandEnv(s.URL),
		}
		for _, a := range s.Args {
			spec.Args = append(spec.Args, ExpandEnv(a))
		}
		if len(s.Env) > 0 {
			spec.Env = make(map[string]string, len(s.Env))
			for k, v := range s.Env {
				spec.Env[k] = ExpandEnv(v)
			}
		}
		if s.Timeout > 0 {
			spec.Timeout = time.Duration(s.Timeout) * time.Second
		}
		specs = append(specs, spec)
	}
	return specs
}

// ManagerOptions returns manager options for this configuration.
func (c *Config) ManagerOptions(logger *slog.Logger) *mcpmgr.Options {
	return &mcpmgr.Options{
		PrefixTools:    c.PrefixTools(),
		ConnectTimeout: time.Duration(c.MCP.ConnectionTimeout) * time.Second,
		LogJSONRPC:     c.MCP.LogJSONRPC,
		Logger:         logger,
	}
}

// AgentOptions returns loop options for this configuration.
func (c *Config) AgentOptions(logger *slog.Logger) *agent.Options {
	return &agent.Options{
		Model:         c.Agent.Model,
		SystemPrompt:  c.Agent.SystemPrompt,
		MaxTokens:     c.Agent.MaxTokens,
		Temperature:   c.Agent.Temperature,
		MaxIterations: c.Agent.MaxIterations,
		MaxHistory:    c.Agent.MaxHistory,
		Logger:        logger,
	}
}

// NewProvider builds the configured LLM provider.
func (c *Config) NewProvider() (llm.Provider, error) {
	base := llm.Options{
		MaxRetries: c.API.MaxRetries,
		Timeout:    time.Duration(c.API.Timeout) * time.Second,
	}
	if base.MaxRetries == 0 {
		base.MaxRetries = -1
	}
	switch c.Agent.Provider {
	case ProviderAnthropic:
		opts := base
		opts.APIKey = c.API.Anthropic.APIKey
		opts.BaseURL = c.API.Anthropic.BaseURL
		return llm.NewAnthropic(&opts), nil
	case ProviderOpenAI:
		opts := base
		opts.APIKey = c.API.OpenAI.APIKey
		opts.BaseURL = c.API.OpenAI.BaseURL
		opts.Organization = c.API.OpenAI.Organization
		return llm.NewOpenAI(&opts), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Agent.Provider)
	}
}

// NewLogger builds a slog logger writing to w with the configured level and
// format.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(c.Log.Level)}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var placeholder = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:default} with environment values. An
// unset variable without a default expands to the empty string.
func ExpandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		groups := placeholder.FindStringSubmatch(m)
		if val, ok := os.LookupEnv(groups[1]); ok {
			return val
		}
		return groups[2]
	})
}
