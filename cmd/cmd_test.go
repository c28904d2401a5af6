package cmd

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	"github.com/tanpawarit/owid-chain/agent/llm"
	"github.com/tanpawarit/owid-chain/agent/session"
	toolx "github.com/tanpawarit/owid-chain/agent/tool"
	"github.com/tanpawarit/owid-chain/ui/web"
)

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	for _, name := range []string{"cli", "web"} {
		sub, _, err := root.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("expected subcommand %q, got %v (%v)", name, sub, err)
		}
	}
	if root.PersistentFlags().Lookup("env") == nil {
		t.Fatal("expected a persistent --env flag")
	}

	webCmd, _, _ := root.Find([]string{"web"})
	if webCmd.Flags().Lookup("addr") == nil {
		t.Fatal("expected web --addr flag")
	}
}

func TestLoadToolConfigFromEnvironment(t *testing.T) {
	t.Setenv("OWID_BASE_URL", "http://owid.test")
	t.Setenv("OWID_PREVIEW_ROWS", "3")
	t.Setenv("WIKIPEDIA_ENABLED", "false")

	cfg, err := loadToolConfig()
	if err != nil {
		t.Fatalf("loadToolConfig() error = %v", err)
	}
	if cfg.OWID.BaseURL != "http://owid.test" || cfg.OWID.PreviewRows != 3 {
		t.Fatalf("unexpected owid config %+v", cfg.OWID)
	}
	if cfg.Wikipedia.Enabled {
		t.Fatal("expected wikipedia to be disabled")
	}
	if !cfg.Arxiv.Enabled || cfg.Arxiv.TopK != 3 {
		t.Fatalf("expected arxiv defaults, got %+v", cfg.Arxiv)
	}

	catalog, err := toolx.Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := catalog.Names(); len(got) != 2 {
		t.Fatalf("expected owid and arxiv, got %v", got)
	}
}

func TestBuildAppRejectsInvalidLLMConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "key")
	t.Setenv("LLM_MODEL", "model")
	t.Setenv("LLM_PROVIDER", "carrier-pigeon")

	_, err := buildApp(context.Background())
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestBuildAppWiresSessions(t *testing.T) {
	t.Setenv("LLM_API_KEY", "key")
	t.Setenv("LLM_MODEL", "openai/gpt-4o-mini")
	t.Setenv("LLM_PROVIDER", llm.ProviderOpenRouter)

	a, err := buildApp(context.Background())
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}

	first, err := a.registry.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := a.registry.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct sessions")
	}
	if _, err := a.registry.Get(first.ID); errors.Is(err, session.ErrSessionNotFound) {
		t.Fatal("expected session to be registered")
	}

	if _, err := web.NewServer(web.Config{}, a.registry, web.WithGatherer(a.metrics)); err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
}

func TestBuildAppAppliesSessionAndTurnLimits(t *testing.T) {
	t.Setenv("LLM_API_KEY", "key")
	t.Setenv("LLM_MODEL", "openai/gpt-4o-mini")
	t.Setenv("LLM_PROVIDER", llm.ProviderOpenRouter)
	t.Setenv("SESSION_MAX_SESSIONS", "1")
	t.Setenv("AGENT_MAX_ORACLE_STEPS", "2")
	t.Setenv("AGENT_ORACLE_TIMEOUT", "10s")
	t.Setenv("AGENT_TOOL_TIMEOUT", "5s")

	a, err := buildApp(context.Background())
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	if a.turnBudget != 30*time.Second {
		t.Fatalf("turnBudget = %s, want 30s", a.turnBudget)
	}

	for i := 0; i < 3; i++ {
		if _, err := a.registry.Create(); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if n := a.registry.Len(); n != 1 {
		t.Fatalf("expected the session cap to hold, got %d sessions", n)
	}
}
