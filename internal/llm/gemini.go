package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

const providerGemini = "gemini"

// GeminiClient streams from the Gemini API. System messages become the
// request's system instruction; assistant turns are sent with the model role.
type GeminiClient struct {
	client        *genai.Client
	model         string
	contentConfig genai.GenerateContentConfig
	timeout       time.Duration
	logger        *slog.Logger
}

// NewGeminiClient creates a streaming Gemini client. A base URL other than the
// OpenRouter default overrides the Gemini endpoint.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigError("gemini api key is required", nil)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" && cfg.BaseURL != config.DefaultLLMBaseURL {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	gi, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to create genai client", err)
	}

	temperature := cfg.Temperature
	return &GeminiClient{
		client: gi,
		model:  cfg.Model,
		contentConfig: genai.GenerateContentConfig{
			Temperature:     &temperature,
			MaxOutputTokens: int32(cfg.MaxTokens),
		},
		timeout: cfg.Timeout,
		logger:  logger.With("component", "gemini_client"),
	}, nil
}

func (c *GeminiClient) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		contents, system := toGeminiContents(messages)
		cfg := c.contentConfig
		if system != "" {
			cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
		}

		c.logger.DebugContext(ctx, "Opening completion stream",
			"model", c.model,
			"contents", len(contents),
		)

		for resp, err := range c.client.Models.GenerateContentStream(reqCtx, c.model, contents, &cfg) {
			if err != nil {
				yield("", classify(ctx, providerGemini, err, geminiStatus))
				return
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func toGeminiContents(messages []Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func geminiStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code > 0 {
		return apiErrPtr.Code, true
	}
	return 0, false
}
