package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	oraclex "github.com/tanpawarit/owid-chain/agent/agents/oracle"
	"github.com/tanpawarit/owid-chain/agent/agents/orchestrator"
	"github.com/tanpawarit/owid-chain/agent/llm"
	"github.com/tanpawarit/owid-chain/agent/session"
	statex "github.com/tanpawarit/owid-chain/agent/state"
	toolx "github.com/tanpawarit/owid-chain/agent/tool"
	configx "github.com/tanpawarit/owid-chain/pkg/config"
	metricsx "github.com/tanpawarit/owid-chain/pkg/metrics"
)

// app is the process-wide wiring shared by every session: one chat model,
// one oracle and one tool catalog. Each session gets its own memory.
type app struct {
	catalog  *toolx.Catalog
	registry *session.Registry
	metrics  *prometheus.Registry

	// turnBudget bounds one turn end to end; presenters size their
	// timeouts from it.
	turnBudget time.Duration
}

func loadToolConfig() (toolx.Config, error) {
	owid, err := configx.New[toolx.OWIDConfig]("OWID")
	if err != nil {
		return toolx.Config{}, err
	}
	wiki, err := configx.New[toolx.WikipediaConfig]("WIKIPEDIA")
	if err != nil {
		return toolx.Config{}, err
	}
	arxiv, err := configx.New[toolx.ArxivConfig]("ARXIV")
	if err != nil {
		return toolx.Config{}, err
	}
	return toolx.Config{OWID: *owid, Wikipedia: *wiki, Arxiv: *arxiv}, nil
}

func buildApp(ctx context.Context) (*app, error) {
	agentCfg, err := configx.New[orchestrator.Config]("AGENT")
	if err != nil {
		return nil, err
	}
	llmCfg, err := configx.New[llm.Config]("LLM")
	if err != nil {
		return nil, err
	}
	toolCfg, err := loadToolConfig()
	if err != nil {
		return nil, err
	}
	sessionCfg, err := configx.New[session.Config]("SESSION")
	if err != nil {
		return nil, err
	}

	chatModel, err := llm.NewChatModel(ctx, *llmCfg)
	if err != nil {
		return nil, fmt.Errorf("build chat model: %w", err)
	}
	oracle, err := oraclex.New(ctx, chatModel)
	if err != nil {
		return nil, fmt.Errorf("build oracle: %w", err)
	}
	catalog, err := toolx.Build(toolCfg)
	if err != nil {
		return nil, fmt.Errorf("build tool catalog: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metricsx.New(promReg)
	if err != nil {
		return nil, fmt.Errorf("build metrics: %w", err)
	}

	registry, err := session.NewRegistry(func() (session.Agent, error) {
		o, err := orchestrator.New(oracle, catalog, statex.NewConversationMemory(), *agentCfg, orchestrator.WithMetrics(m))
		if err != nil {
			return nil, err
		}
		return o, nil
	}, session.WithConfig(*sessionCfg))
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", llmCfg.Provider).
		Str("model", llmCfg.Model).
		Strs("tools", catalog.Names()).
		Int("max_oracle_steps", agentCfg.MaxOracleSteps).
		Dur("session_idle_ttl", sessionCfg.IdleTTL).
		Int("max_sessions", sessionCfg.MaxSessions).
		Msg("owid-chain: agent ready")

	return &app{
		catalog:    catalog,
		registry:   registry,
		metrics:    promReg,
		turnBudget: agentCfg.TurnBudget(),
	}, nil
}
