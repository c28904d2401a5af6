package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var _ einomodel.BaseChatModel = (*AnthropicChatModel)(nil)

// AnthropicChatModel calls the Messages API. System messages are lifted into
// the request's system blocks.
type AnthropicChatModel struct {
	client      *anthropic.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewAnthropicChatModel(cfg Config) (*AnthropicChatModel, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicChatModel{
		client:      &client,
		model:       strings.TrimSpace(cfg.Model),
		maxTokens:   cfg.MaxCompletionToken,
		temperature: cfg.Temperature,
	}, nil
}

func (m *AnthropicChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	o := einomodel.GetCommonOptions(&einomodel.Options{
		Model:       &m.model,
		MaxTokens:   &m.maxTokens,
		Temperature: &m.temperature,
	}, opts...)

	var (
		system   []anthropic.TextBlockParam
		messages []anthropic.MessageParam
	)
	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		case schema.Assistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(1024)
	if o.MaxTokens != nil && *o.MaxTokens > 0 {
		maxTokens = int64(*o.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(*o.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if o.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*o.Temperature))
	}
	if len(o.Stop) > 0 {
		params.StopSequences = o.Stop
	}

	resp, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}
	return schema.AssistantMessage(text.String(), nil), nil
}

func (m *AnthropicChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming is not supported by the anthropic oracle backend")
}
