// Package config loads taskpilot configuration from a YAML file, with
// ${VAR} environment expansion and optional .env loading.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/taskpilot-ai/taskpilot/mcp"
	"github.com/taskpilot-ai/taskpilot/retry"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "taskpilot.yaml"

// Config is the root of the configuration file.
type Config struct {
	Provider  Provider            `yaml:"provider"`
	Agent     Agent               `yaml:"agent"`
	Workspace string              `yaml:"workspace"`
	Retry     Retry               `yaml:"retry"`
	Tools     Tools               `yaml:"tools"`
	Skills    Skills              `yaml:"skills"`
	History   History             `yaml:"history"`
	Endpoints map[string]Endpoint `yaml:"endpoints"`
	Log       Log                 `yaml:"log"`
}

// Provider selects and parameterizes the model backend.
type Provider struct {
	Name        string   `yaml:"name"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// Agent holds the step-loop settings.
type Agent struct {
	SystemPrompt string `yaml:"system_prompt"`
	MaxSteps     int    `yaml:"max_steps"`
}

// Retry mirrors retry.Config with YAML tags. Durations are in seconds.
type Retry struct {
	Enabled         *bool   `yaml:"enabled"`
	MaxRetries      int     `yaml:"max_retries"`
	InitialDelay    float64 `yaml:"initial_delay"`
	MaxDelay        float64 `yaml:"max_delay"`
	ExponentialBase float64 `yaml:"exponential_base"`
}

// ToRetry converts to the runtime retry policy, filling defaults for
// anything left unset.
func (r Retry) ToRetry() retry.Config {
	cfg := retry.DefaultConfig()
	if r.Enabled != nil {
		cfg.Enabled = *r.Enabled
	}
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialDelay > 0 {
		cfg.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		cfg.MaxDelay = r.MaxDelay
	}
	if r.ExponentialBase > 0 {
		cfg.ExponentialBase = r.ExponentialBase
	}
	return cfg
}

// Tools overrides per-tool output caps.
type Tools struct {
	CharLimits map[string]int `yaml:"char_limits"`
	LineLimits map[string]int `yaml:"line_limits"`
}

// Skills points at the directory scanned for SKILL.md documents.
type Skills struct {
	Dir string `yaml:"dir"`
}

// History configures the run log database.
type History struct {
	Path string `yaml:"path"`
}

// Log configures the CLI logger.
type Log struct {
	Level string `yaml:"level"`
}

// Endpoint describes one remote tool server. Timeouts are in seconds.
type Endpoint struct {
	Type           string            `yaml:"type"`
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Cwd            string            `yaml:"cwd"`
	Env            map[string]string `yaml:"env"`
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	ConnectTimeout float64           `yaml:"connect_timeout"`
	ExecuteTimeout float64           `yaml:"execute_timeout"`
	SSEReadTimeout float64           `yaml:"sse_read_timeout"`
	Disabled       bool              `yaml:"disabled"`
}

// ToEndpoint converts to the runtime endpoint configuration.
func (e Endpoint) ToEndpoint() mcp.EndpointConfig {
	return mcp.EndpointConfig{
		Type:           e.Type,
		Command:        e.Command,
		Args:           e.Args,
		Cwd:            e.Cwd,
		Env:            e.Env,
		URL:            e.URL,
		Headers:        e.Headers,
		ConnectTimeout: secondsToDuration(e.ConnectTimeout),
		ExecuteTimeout: secondsToDuration(e.ExecuteTimeout),
		SSEReadTimeout: secondsToDuration(e.SSEReadTimeout),
		Disabled:       e.Disabled,
	}
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// EndpointConfigs returns the runtime endpoint map.
func (c *Config) EndpointConfigs() map[string]mcp.EndpointConfig {
	out := make(map[string]mcp.EndpointConfig, len(c.Endpoints))
	for name, ep := range c.Endpoints {
		out[name] = ep.ToEndpoint()
	}
	return out
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Provider: Provider{
			Name:   "openai",
			Model:  "gpt-4o",
			APIKey: "${OPENAI_API_KEY}",
		},
		Agent: Agent{MaxSteps: 20},
		History: History{
			Path: filepath.Join(".taskpilot", "history.db"),
		},
		Skills: Skills{Dir: "skills"},
		Log:    Log{Level: "info"},
	}
}

// Load reads a config file, expands ${VAR} references against the
// environment (after best-effort .env loading) and validates the result.
// A missing file at the default path falls back to Default.
func Load(path string) (*Config, error) {
	// .env values become visible to ${VAR} expansion. Absence is fine.
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg := Default()
			cfg.expand()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// expand resolves ${VAR} references in the string fields that commonly
// carry secrets or machine-specific paths. Unset variables expand to "".
func (c *Config) expand() {
	c.Provider.APIKey = expandEnv(c.Provider.APIKey)
	c.Provider.BaseURL = expandEnv(c.Provider.BaseURL)
	c.Workspace = expandEnv(c.Workspace)
	c.Skills.Dir = expandEnv(c.Skills.Dir)
	c.History.Path = expandEnv(c.History.Path)
	for name, ep := range c.Endpoints {
		ep.Command = expandEnv(ep.Command)
		ep.URL = expandEnv(ep.URL)
		for i, arg := range ep.Args {
			ep.Args[i] = expandEnv(arg)
		}
		for k, v := range ep.Env {
			ep.Env[k] = expandEnv(v)
		}
		for k, v := range ep.Headers {
			ep.Headers[k] = expandEnv(v)
		}
		c.Endpoints[name] = ep
	}
}

func expandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// Validate rejects configurations that cannot produce a working runtime.
func (c *Config) Validate() error {
	if c.Provider.Name == "" {
		return fmt.Errorf("provider.name is required")
	}
	if c.Agent.MaxSteps < 0 {
		return fmt.Errorf("agent.max_steps must not be negative")
	}
	for name, ep := range c.Endpoints {
		hasCommand := ep.Command != ""
		hasURL := ep.URL != ""
		if !hasCommand && !hasURL {
			return fmt.Errorf("endpoint %s: either command or url is required", name)
		}
		if hasCommand && hasURL {
			return fmt.Errorf("endpoint %s: command and url are mutually exclusive", name)
		}
		switch ep.Type {
		case "", "pipe", "sse", "http":
		default:
			return fmt.Errorf("endpoint %s: unknown type %q", name, ep.Type)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}
