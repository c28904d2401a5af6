package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
	statex "github.com/tanpawarit/owid-chain/agent/state"
	toolx "github.com/tanpawarit/owid-chain/agent/tool"
	metricsx "github.com/tanpawarit/owid-chain/pkg/metrics"
)

const (
	defaultMaxOracleSteps = 15
	defaultOracleTimeout  = 60 * time.Second
	defaultToolTimeout    = 30 * time.Second
)

type Config struct {
	MaxOracleSteps int           `envconfig:"MAX_ORACLE_STEPS" split_words:"true" default:"15"`
	OracleTimeout  time.Duration `envconfig:"ORACLE_TIMEOUT" split_words:"true" default:"60s"`
	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" split_words:"true" default:"30s"`
	// HistoryWindow caps how many past exchanges the oracle sees; 0 means all.
	HistoryWindow int `envconfig:"HISTORY_WINDOW" split_words:"true" default:"10"`
}

// TurnBudget is the longest a turn can run when every oracle step also
// dispatches a tool that uses its full timeout.
func (c Config) TurnBudget() time.Duration {
	steps, oracle, tool := c.MaxOracleSteps, c.OracleTimeout, c.ToolTimeout
	if steps <= 0 {
		steps = defaultMaxOracleSteps
	}
	if oracle <= 0 {
		oracle = defaultOracleTimeout
	}
	if tool <= 0 {
		tool = defaultToolTimeout
	}
	return time.Duration(steps) * (oracle + tool)
}

type Option func(*Orchestrator)

func WithMetrics(m *metricsx.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs the turns of one session. It owns the session's
// conversation memory; the oracle and tool catalog may be shared.
type Orchestrator struct {
	oracle  contractx.Oracle
	catalog *toolx.Catalog
	memory  *statex.ConversationMemory
	cfg     Config
	metrics *metricsx.Metrics
	now     func() time.Time
}

var _ contractx.History = (*Orchestrator)(nil)

func New(
	oracle contractx.Oracle,
	catalog *toolx.Catalog,
	memory *statex.ConversationMemory,
	cfg Config,
	opts ...Option,
) (*Orchestrator, error) {
	if oracle == nil {
		return nil, errors.New("oracle is required")
	}
	if catalog == nil {
		return nil, errors.New("tool catalog is required")
	}
	if memory == nil {
		memory = statex.NewConversationMemory()
	}

	if cfg.MaxOracleSteps <= 0 {
		cfg.MaxOracleSteps = defaultMaxOracleSteps
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = defaultOracleTimeout
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = defaultToolTimeout
	}
	if cfg.HistoryWindow < 0 {
		cfg.HistoryWindow = 0
	}

	o := &Orchestrator{
		oracle:  oracle,
		catalog: catalog,
		memory:  memory,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Run processes one query to completion and always returns an envelope.
// Every failure is reported as an error envelope naming the query, and the
// exchange is appended to memory exactly once.
func (o *Orchestrator) Run(ctx context.Context, query string) envelopex.Envelope {
	started := o.now()
	t := &turn{
		query:   strings.TrimSpace(query),
		history: o.memory.Recent(o.cfg.HistoryWindow),
	}

	env := o.runTurn(ctx, t)

	o.memory.Append(contractx.Exchange{
		Query:    t.query,
		Envelope: env,
		Notes:    t.steps,
	})

	elapsed := o.now().Sub(started)
	o.metrics.ObserveTurn(string(env.Kind()), t.oracleSteps, elapsed)
	log.Info().
		Str("query", t.query).
		Str("kind", string(env.Kind())).
		Int("oracle_steps", t.oracleSteps).
		Int("tool_calls", len(t.steps)).
		Dur("duration", elapsed).
		Msg("agent: turn finished")

	return env
}

// History returns a copy of the session's past exchanges.
func (o *Orchestrator) History() []contractx.Exchange {
	return o.memory.History()
}

func (o *Orchestrator) Tools() []contractx.ToolDescriptor {
	return o.catalog.Descriptors()
}
