package oracle

import (
	"context"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lazarus/api/schemas"
	"github.com/xkilldash9x/lazarus/internal/config"
)

// OpenAIOracle implements schemas.Oracle using the OpenAI chat completions
// API. Any endpoint speaking the same protocol (local inference servers
// included) can be targeted through the Endpoint override.
type OpenAIOracle struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIOracle initializes the client.
func NewOpenAIOracle(cfg config.OracleConfig, logger *zap.Logger) (*OpenAIOracle, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}

	return &OpenAIOracle{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger.Named("oracle.openai"),
	}, nil
}

// Generate sends the prompts to the chat completions endpoint.
func (c *OpenAIOracle) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: float32(req.Options.Temperature),
	}
	if req.Options.MaxTokens > 0 {
		chatReq.MaxCompletionTokens = req.Options.MaxTokens
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		c.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("openAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openAI returned no choices")
	}

	c.logger.Debug("Oracle generation complete (OpenAI)",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// Close releases client resources.
func (c *OpenAIOracle) Close() error {
	return nil
}
