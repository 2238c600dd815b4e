package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/triage-engine/internal/config"
	"github.com/wolfman30/triage-engine/internal/llm"
	"github.com/wolfman30/triage-engine/pkg/logging"
)

// BuildLLMClient wires the primary provider and, when configured, a fallback.
// A nil client is valid: assessment then runs in keyword-only mode and replies
// use the canned text. Closers for provider clients are returned alongside.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (llm.Client, []io.Closer, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	primary, closers, err := buildProvider(ctx, cfg.LLMProvider, cfg, awsCfg)
	if err != nil {
		return nil, closers, err
	}
	if primary == nil {
		logger.Warn("no llm provider configured; assessments fall back to keyword analysis", "provider", cfg.LLMProvider)
		return nil, closers, nil
	}

	fallbackName := strings.TrimSpace(cfg.LLMFallbackProvider)
	if fallbackName == "" || fallbackName == cfg.LLMProvider {
		logger.Info("llm client configured", "provider", cfg.LLMProvider)
		return primary, closers, nil
	}
	fallback, more, err := buildProvider(ctx, fallbackName, cfg, awsCfg)
	closers = append(closers, more...)
	if err != nil {
		logger.Warn("llm fallback provider unavailable", "provider", fallbackName, "error", err)
		return primary, closers, nil
	}
	if fallback == nil {
		return primary, closers, nil
	}
	logger.Info("llm client configured", "provider", cfg.LLMProvider, "fallback", fallbackName)
	return llm.NewFallbackClient(primary, fallback, logger), closers, nil
}

func buildProvider(ctx context.Context, name string, cfg *appconfig.Config, awsCfg *aws.Config) (llm.Client, []io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openrouter", "openai":
		if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
			return nil, nil, nil
		}
		defaultModel := ""
		if len(cfg.LLMModels) > 0 {
			defaultModel = cfg.LLMModels[0]
		}
		client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:       cfg.OpenRouterAPIKey,
			BaseURL:      cfg.OpenRouterBaseURL,
			DefaultModel: defaultModel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: openrouter client: %w", err)
		}
		return client, nil, nil
	case "bedrock":
		if awsCfg == nil || strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, nil, nil
		}
		return llm.NewBedrockClient(bedrockruntime.NewFromConfig(*awsCfg), cfg.BedrockModelID), nil, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, nil, nil
		}
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		return client, []io.Closer{client}, nil
	case "", "none":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown llm provider %q", name)
	}
}
