package judge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/abhisek/lingoband/internal/store"
)

// NewProvider creates a Provider from configuration.
// It returns the provider wrapped with retry and logging middleware.
func NewProvider(ctx context.Context, cfg Config, events store.JudgeEventRepo, logger *zap.Logger) (Provider, error) {
	var base Provider
	var err error

	switch cfg.Provider {
	case "anthropic":
		base, err = NewAnthropicProvider(cfg.Anthropic)
	case "openai":
		base, err = NewOpenAIProvider(cfg.OpenAI)
	case "gemini":
		base, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "mock":
		return NewScriptedProvider(), nil
	default:
		return nil, fmt.Errorf("unknown judge provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}

	// Wrap with middleware: caller → retry → logging → base
	logged := WithLogging(base, cfg.Provider, events, logger)
	retried := WithRetry(logged, cfg.Retry)

	return retried, nil
}
