package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models warroom.yml.
type Config struct {
	Agents []Agent `yaml:"agents"`
	Models struct {
		Worker       string `yaml:"worker"`
		Cheap        string `yaml:"cheap"`
		Orchestrator string `yaml:"orchestrator"`
	} `yaml:"models"`
	Poller struct {
		IntervalSeconds       int `yaml:"interval_seconds"`
		DefaultTimeoutMinutes int `yaml:"default_timeout_minutes"`
	} `yaml:"poller"`
	Server struct {
		Addr                   string `yaml:"addr"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		EnableDevLogin         bool   `yaml:"enable_dev_login"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// Agent is one entry in the static agent registry.
type Agent struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Domain     string `yaml:"domain"`
	PromptPath string `yaml:"prompt_path"`
}

// WebhookConfig forwards events to an HTTP endpoint.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Types  []string `yaml:"types,omitempty"`
	Secret string   `yaml:"secret,omitempty"`
}

// AgentByID returns the registry entry for an agent id.
func (c *Config) AgentByID(id string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// AgentForDomain returns the first agent registered for a domain.
func (c *Config) AgentForDomain(domain string) (Agent, bool) {
	for _, a := range c.Agents {
		if a.Domain == domain {
			return a, true
		}
	}
	return Agent{}, false
}

// AgentIDs returns all registered agent ids in registry order.
func (c *Config) AgentIDs() []string {
	ids := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		ids = append(ids, a.ID)
	}
	return ids
}

// FallbackAgent returns the engineering agent, or the first registered agent
// when no engineering agent exists.
func (c *Config) FallbackAgent() string {
	if a, ok := c.AgentForDomain("engineering"); ok {
		return a.ID
	}
	if len(c.Agents) > 0 {
		return c.Agents[0].ID
	}
	return ""
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config.agents is required")
	}
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config.agents contains empty agent id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config.agents has duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true
		if a.Domain == "" {
			return fmt.Errorf("agent %s has no domain", a.ID)
		}
	}
	if c.Models.Worker == "" {
		return fmt.Errorf("config.models.worker is required")
	}
	if c.Poller.IntervalSeconds < 0 {
		return fmt.Errorf("config.poller.interval_seconds must not be negative")
	}
	if c.Poller.DefaultTimeoutMinutes < 0 {
		return fmt.Errorf("config.poller.default_timeout_minutes must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "warroom.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when no config file exists.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in config.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	applyDefaults(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML for `wr init`.
func GenerateDefault() string {
	return defaultTemplate
}

func applyDefaults(cfg *Config) {
	if cfg.Models.Worker == "" {
		cfg.Models.Worker = "claude-sonnet-4-5-20250929"
	}
	if cfg.Models.Cheap == "" {
		cfg.Models.Cheap = "claude-haiku-4-5-20251001"
	}
	if cfg.Models.Orchestrator == "" {
		cfg.Models.Orchestrator = "claude-opus-4-6"
	}
	if cfg.Poller.IntervalSeconds == 0 {
		cfg.Poller.IntervalSeconds = 10
	}
	if cfg.Poller.DefaultTimeoutMinutes == 0 {
		cfg.Poller.DefaultTimeoutMinutes = 30
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8931"
	}
	for i, a := range cfg.Agents {
		cfg.Agents[i].PromptPath = expandHome(a.PromptPath)
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

const defaultTemplate = `agents:
  - id: ed
    name: Ed
    domain: engineering
    prompt_path: ~/.warroom/agents/ed.md
  - id: light
    name: Light
    domain: product
    prompt_path: ~/.warroom/agents/light.md
  - id: toji
    name: Toji
    domain: commerce
    prompt_path: ~/.warroom/agents/toji.md
  - id: power
    name: Power
    domain: influence
    prompt_path: ~/.warroom/agents/power.md
  - id: major
    name: Major
    domain: operations
    prompt_path: ~/.warroom/agents/major.md

models:
  worker: claude-sonnet-4-5-20250929
  cheap: claude-haiku-4-5-20251001
  orchestrator: claude-opus-4-6

poller:
  interval_seconds: 10
  default_timeout_minutes: 30

server:
  addr: ":8931"
`
