package contract

import (
	"context"

	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

// Tool wraps one external knowledge source. Invoke never returns a Go error:
// every failure is reported through ToolResult.Failure.
type Tool interface {
	Invoke(ctx context.Context, query string) ToolResult
}

// ToolFunc adapts a plain function to Tool.
type ToolFunc func(ctx context.Context, query string) ToolResult

func (f ToolFunc) Invoke(ctx context.Context, query string) ToolResult {
	return f(ctx, query)
}

// Oracle decides the next action of a turn. Implementations are stateless
// between calls; everything they may use is carried by StepRequest.
type Oracle interface {
	Step(ctx context.Context, req StepRequest) (OracleAction, error)
}

// Presenter shows a finished turn to a human. Presenters never mutate the
// envelope and may not call back into the agent.
type Presenter interface {
	Render(query string, env envelopex.Envelope) error
}

// History is a read-only view over past exchanges.
type History interface {
	History() []Exchange
}
