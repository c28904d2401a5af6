package oracle

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	promptx "github.com/tanpawarit/owid-chain/agent/prompt"
)

func compileReActGraph(
	ctx context.Context,
	chatModel einomodel.BaseChatModel,
	prompts promptx.PromptSet,
) (compose.Runnable[map[string]any, *schema.Message], error) {
	template := einoprompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(prompts.System),
		schema.UserMessage(prompts.User),
	)

	graph := compose.NewGraph[map[string]any, *schema.Message]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add react prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add react model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "prompt"); err != nil {
		return nil, fmt.Errorf("add react edge start->prompt: %w", err)
	}
	if err := graph.AddEdge("prompt", "model"); err != nil {
		return nil, fmt.Errorf("add react edge prompt->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add react edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("oracle.react_graph"))
	if err != nil {
		return nil, fmt.Errorf("compile react graph: %w", err)
	}
	return runner, nil
}
