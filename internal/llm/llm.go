// Package llm streams chat completions from an OpenAI-compatible endpoint or
// from Gemini. Every backend reports failures as classified upstream errors.
package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"

	"github.com/Ant-Pavel/systech-aidd/internal/config"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/resilience"
)

// Roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the context sent upstream.
type Message struct {
	Role    string
	Content string
}

// Client streams a completion for the given context. The sequence yields
// text chunks in arrival order and ends either after the last chunk or with a
// single terminal error. Stopping the iteration cancels the upstream request.
type Client interface {
	Stream(ctx context.Context, messages []Message) iter.Seq2[string, error]
}

// New creates the configured backend wrapped in a circuit breaker.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		backend Client
		err     error
	)
	switch cfg.Provider {
	case "openai":
		backend, err = NewOpenAIClient(cfg, logger)
	case "gemini":
		backend, err = NewGeminiClient(ctx, cfg, logger)
	default:
		err = apperrors.NewConfigError(fmt.Sprintf("unknown llm provider %q", cfg.Provider), nil)
	}
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "llm_" + cfg.Provider,
		MaxFailures: cfg.Breaker.MaxFailures,
		OpenTimeout: cfg.Breaker.OpenTimeout,
	}, logger)

	logger.Info("LLM client initialized",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"timeout", cfg.Timeout,
	)
	return NewBreakerClient(backend, breaker, logger), nil
}

// classify turns a backend failure into an UpstreamError. Cancellation by the
// caller is passed through untouched so it is never reported as an outage.
func classify(parent context.Context, provider string, err error, status func(error) (int, bool)) error {
	if parentErr := parent.Err(); parentErr != nil {
		if errors.Is(parentErr, context.DeadlineExceeded) {
			return apperrors.NewUpstreamError(apperrors.KindTimeout, provider+" request timed out", err)
		}
		return fmt.Errorf("%s stream cancelled: %w", provider, parentErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUpstreamError(apperrors.KindTimeout, provider+" request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.NewUpstreamError(apperrors.KindTimeout, provider+" request timed out", err)
	}

	if code, ok := status(err); ok {
		kind := statusKind(code)
		return apperrors.NewUpstreamError(kind, fmt.Sprintf("%s returned status %d", provider, code), err)
	}

	if errors.As(err, &netErr) {
		return apperrors.NewUpstreamError(apperrors.KindUnavailable, provider+" is unreachable", err)
	}
	return apperrors.NewUpstreamError(apperrors.KindGeneric, provider+" request failed", err)
}

func statusKind(code int) apperrors.UpstreamKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.KindAuth
	case code == http.StatusTooManyRequests:
		return apperrors.KindRateLimit
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return apperrors.KindTimeout
	case code >= http.StatusInternalServerError:
		return apperrors.KindUnavailable
	default:
		return apperrors.KindGeneric
	}
}
