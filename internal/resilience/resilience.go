// Package resilience wraps gobreaker for operations whose outcome is only
// known after a long-running exchange, such as a streamed LLM reply.
package resilience

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen indicates the circuit breaker is open
var ErrCircuitOpen = gobreaker.ErrOpenState

// ErrTooManyRequests indicates the half-open probe budget is used up
var ErrTooManyRequests = gobreaker.ErrTooManyRequests

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of CircuitState
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF-OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// mapState converts gobreaker state to our CircuitState
func mapState(state gobreaker.State) CircuitState {
	switch state {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}

// CircuitBreakerConfig holds configuration for circuit breakers
type CircuitBreakerConfig struct {
	Name          string
	MaxFailures   uint32
	OpenTimeout   time.Duration
	HalfOpenLimit uint32
	OnStateChange func(name string, from, to CircuitState)
}

// CircuitBreaker is a two-step breaker: callers ask for permission, run the
// operation however long it takes, then report the outcome.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.TwoStepCircuitBreaker
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenLimit == 0 {
		cfg.HalfOpenLimit = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenLimit,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromState, toState := mapState(from), mapState(to)
			logger.Warn("Circuit breaker state changed",
				"name", name,
				"from", fromState,
				"to", toState,
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, fromState, toState)
			}
		},
	}

	return &CircuitBreaker{
		name: cfg.Name,
		cb:   gobreaker.NewTwoStepCircuitBreaker(settings),
	}
}

// Allow asks for permission to run one operation. On success the caller must
// invoke done exactly once with the outcome.
func (cb *CircuitBreaker) Allow() (done func(success bool), err error) {
	return cb.cb.Allow()
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	return mapState(cb.cb.State())
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
