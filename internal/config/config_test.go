package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"warroom/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Agents) != 5 {
		t.Fatalf("agents = %d, want 5", len(cfg.Agents))
	}
	if cfg.Poller.IntervalSeconds != 10 || cfg.Poller.DefaultTimeoutMinutes != 30 {
		t.Fatalf("poller defaults: %+v", cfg.Poller)
	}
	if cfg.Models.Worker == "" || cfg.Models.Cheap == "" || cfg.Models.Orchestrator == "" {
		t.Fatalf("model tiers missing: %+v", cfg.Models)
	}
}

func TestAgentLookups(t *testing.T) {
	cfg := config.Default()
	a, ok := cfg.AgentByID("ed")
	if !ok || a.Domain != "engineering" {
		t.Fatalf("agent ed: %+v ok=%v", a, ok)
	}
	if _, ok := cfg.AgentByID("nobody"); ok {
		t.Fatalf("unknown agent id should miss")
	}
	a, ok = cfg.AgentForDomain("commerce")
	if !ok || a.ID != "toji" {
		t.Fatalf("commerce agent: %+v ok=%v", a, ok)
	}
	if got := cfg.FallbackAgent(); got != "ed" {
		t.Fatalf("fallback = %q, want engineering agent", got)
	}
	ids := cfg.AgentIDs()
	if len(ids) != 5 || ids[0] != "ed" {
		t.Fatalf("agent ids: %v", ids)
	}
}

func TestFromYAMLValidation(t *testing.T) {
	_, err := config.FromYAML([]byte("agents: []\n"))
	if err == nil {
		t.Fatalf("expected error for empty agents")
	}
	_, err = config.FromYAML([]byte(`agents:
  - id: a
    domain: engineering
  - id: a
    domain: product
`))
	if err == nil {
		t.Fatalf("expected error for duplicate agent id")
	}
	_, err = config.FromYAML([]byte(`agents:
  - id: a
`))
	if err == nil {
		t.Fatalf("expected error for missing domain")
	}

	cfg, err := config.FromYAML([]byte(`agents:
  - id: a
    domain: engineering
`))
	if err != nil {
		t.Fatalf("minimal config: %v", err)
	}
	if cfg.Models.Worker == "" {
		t.Fatalf("worker default not applied")
	}
	if cfg.Server.Addr != ":8931" {
		t.Fatalf("addr default = %q", cfg.Server.Addr)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 5 {
		t.Fatalf("expected default agents, got %d", len(cfg.Agents))
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	data := `agents:
  - id: solo
    name: Solo
    domain: engineering
poller:
  interval_seconds: 3
`
	if err := os.WriteFile(filepath.Join(dir, "warroom.yml"), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].ID != "solo" {
		t.Fatalf("agents: %+v", cfg.Agents)
	}
	if cfg.Poller.IntervalSeconds != 3 {
		t.Fatalf("interval = %d, want 3", cfg.Poller.IntervalSeconds)
	}
	if cfg.Poller.DefaultTimeoutMinutes != 30 {
		t.Fatalf("timeout default not applied")
	}
}
