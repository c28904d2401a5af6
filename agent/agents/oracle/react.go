package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
	promptx "github.com/tanpawarit/owid-chain/agent/prompt"
)

// ObservationStop keeps the model from writing the tool's observation itself.
const ObservationStop = "\nObservation:"

var _ contractx.Oracle = (*ReActOracle)(nil)

// ReActOracle drives a chat model through the Thought/Action/Observation
// text protocol. It holds no per-session state.
type ReActOracle struct {
	runner compose.Runnable[map[string]any, *schema.Message]
	stop   []string
}

func New(ctx context.Context, chatModel einomodel.BaseChatModel) (*ReActOracle, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	prompts := promptx.LoadPromptSet()
	if strings.TrimSpace(prompts.System) == "" || strings.TrimSpace(prompts.User) == "" {
		return nil, fmt.Errorf("%w: react prompt is empty", contractx.ErrValidation)
	}

	runner, err := compileReActGraph(ctx, chatModel, prompts)
	if err != nil {
		return nil, err
	}

	return &ReActOracle{
		runner: runner,
		stop:   []string{ObservationStop},
	}, nil
}

func (o *ReActOracle) Step(ctx context.Context, req contractx.StepRequest) (contractx.OracleAction, error) {
	if strings.TrimSpace(req.Query) == "" {
		return contractx.OracleAction{}, fmt.Errorf("%w: query is required", contractx.ErrValidation)
	}

	msg, err := o.runner.Invoke(ctx, variables(req), compose.WithChatModelOption(einomodel.WithStop(o.stop)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return contractx.OracleAction{}, fmt.Errorf("%w: %v", contractx.ErrOracleTimeout, err)
		}
		return contractx.OracleAction{}, fmt.Errorf("%w: %v", contractx.ErrOracleInvoke, err)
	}
	if msg == nil {
		return contractx.OracleAction{}, fmt.Errorf("%w: empty model response", contractx.ErrOracleInvoke)
	}

	return ParseReAct(msg.Content)
}

type toolView struct {
	Name        string
	Description string
}

type historyView struct {
	Query    string
	Response string
}

func variables(req contractx.StepRequest) map[string]any {
	tools := make([]toolView, 0, len(req.Tools))
	names := make([]string, 0, len(req.Tools))
	for _, d := range req.Tools {
		tools = append(tools, toolView{Name: d.Name, Description: d.Description})
		names = append(names, d.Name)
	}

	history := make([]historyView, 0, len(req.History))
	for _, ex := range req.History {
		history = append(history, historyView{
			Query:    ex.Query,
			Response: envelopex.EncodeString(ex.Envelope),
		})
	}

	return map[string]any{
		"tools":            tools,
		"tool_names":       strings.Join(names, ", "),
		"history":          history,
		"input":            strings.TrimSpace(req.Query),
		"agent_scratchpad": scratchpad(req.Scratchpad),
	}
}

// scratchpad replays earlier steps of the turn in protocol form so the model
// continues after the last observation.
func scratchpad(steps []contractx.Step) string {
	var b strings.Builder
	for _, s := range steps {
		log := s.Action.Log
		if strings.TrimSpace(log) == "" {
			log = fmt.Sprintf(" %s\nAction: %s\nAction Input: %s", s.Action.Thought, s.Action.Tool, s.Action.ToolInput)
		}
		b.WriteString(log)
		b.WriteString("\nObservation: ")
		b.WriteString(s.Observation)
		b.WriteString("\nThought:")
	}
	return b.String()
}
