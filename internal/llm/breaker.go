package llm

import (
	"context"
	"iter"
	"log/slog"

	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/resilience"
)

// BreakerClient stops calling a backend that keeps timing out or failing.
// Only timeouts, rate limits and unavailability count as failures; caller
// cancellation and request-level errors leave the breaker alone.
type BreakerClient struct {
	next    Client
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

// NewBreakerClient wraps next with breaker.
func NewBreakerClient(next Client, breaker *resilience.CircuitBreaker, logger *slog.Logger) *BreakerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerClient{
		next:    next,
		breaker: breaker,
		logger:  logger.With("component", "llm_breaker"),
	}
}

func (b *BreakerClient) Stream(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		done, err := b.breaker.Allow()
		if err != nil {
			b.logger.WarnContext(ctx, "LLM call rejected by circuit breaker",
				"breaker", b.breaker.Name(),
				"state", b.breaker.State(),
			)
			yield("", apperrors.NewUpstreamError(apperrors.KindUnavailable, "llm circuit breaker is open", err))
			return
		}

		var failure error
		defer func() { done(!tripsBreaker(failure)) }()

		for chunk, err := range b.next.Stream(ctx, messages) {
			if err != nil {
				failure = err
				yield("", err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

func tripsBreaker(err error) bool {
	kind, ok := apperrors.UpstreamKindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case apperrors.KindTimeout, apperrors.KindRateLimit, apperrors.KindUnavailable:
		return true
	default:
		return false
	}
}
