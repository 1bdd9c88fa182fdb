package llm

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

const providerOpenAI = "openai"

// OpenAIClient streams from any OpenAI-compatible chat completions endpoint
// (OpenAI, OpenRouter, local proxies).
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewOpenAIClient creates a streaming client for cfg.BaseURL.
func NewOpenAIClient(cfg config.LLMConfig, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigError("llm api key is required", nil)
	}

	openAICfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		openAICfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(openAICfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger.With("component", "openai_client"),
	}, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
		for _, m := range messages {
			chatMessages = append(chatMessages, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}

		c.logger.DebugContext(ctx, "Opening completion stream",
			"model", c.model,
			"messages", len(chatMessages),
		)

		stream, err := c.client.CreateChatCompletionStream(reqCtx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    chatMessages,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
			Stream:      true,
		})
		if err != nil {
			yield("", classify(ctx, providerOpenAI, err, openAIStatus))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", classify(ctx, providerOpenAI, err, openAIStatus))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if !yield(delta, nil) {
				return
			}
		}
	}
}

func openAIStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}
