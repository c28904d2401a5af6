package llm

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	openaisdk "github.com/openai/openai-go"

	openrouterx "github.com/tanpawarit/owid-chain/pkg/openrouter"
)

var _ einomodel.BaseChatModel = (*OpenAIChatModel)(nil)

// OpenAIChatModel calls the Chat Completions API through openai-go.
type OpenAIChatModel struct {
	client      *openaisdk.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIChatModel(cfg Config) (*OpenAIChatModel, error) {
	client := openrouterx.NewClient(cfg.Endpoint())
	if client == nil {
		return nil, errors.New("openai api key is required")
	}
	return &OpenAIChatModel{
		client:      client,
		model:       cfg.Model,
		maxTokens:   cfg.MaxCompletionToken,
		temperature: cfg.Temperature,
	}, nil
}

func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	o := einomodel.GetCommonOptions(&einomodel.Options{
		Model:       &m.model,
		MaxTokens:   &m.maxTokens,
		Temperature: &m.temperature,
	}, opts...)

	params := openaisdk.ChatCompletionNewParams{
		Messages: toOpenAIMessages(input),
		Model:    *o.Model,
	}
	if o.Temperature != nil {
		params.Temperature = openaisdk.Float(float64(*o.Temperature))
	}
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(*o.MaxTokens))
	}
	if len(o.Stop) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: o.Stop}
	}

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai api returned no choices")
	}
	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming is not supported by the openai oracle backend")
}

func toOpenAIMessages(input []*schema.Message) []openaisdk.ChatCompletionMessageParamUnion {
	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		case schema.Assistant:
			out = append(out, openaisdk.AssistantMessage(msg.Content))
		default:
			out = append(out, openaisdk.UserMessage(msg.Content))
		}
	}
	return out
}
