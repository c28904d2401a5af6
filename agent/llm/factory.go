package llm

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

// NewChatModel builds the chat model backing the oracle for the configured
// provider.
func NewChatModel(ctx context.Context, cfg Config) (einomodel.BaseChatModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", cfg.provider()).
		Str("model", cfg.Model).
		Msg("llm: building chat model")

	switch cfg.provider() {
	case ProviderOpenRouter:
		return cfg.Endpoint().ChatModel(ctx)
	case ProviderOpenAI:
		return NewOpenAIChatModel(cfg)
	case ProviderAnthropic:
		return NewAnthropicChatModel(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, cfg.Provider)
	}
}
