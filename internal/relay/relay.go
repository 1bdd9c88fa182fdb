// Package relay drives one LLM exchange per inbound message: it records the
// user message, builds the context window, forwards streamed chunks to the
// caller and persists the assistant reply only after the stream completes.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/identity"
	"github.com/Ant-Pavel/systech-aidd/internal/llm"
	"github.com/Ant-Pavel/systech-aidd/internal/metrics"
)

var (
	// ErrExchangeConsumed is yielded when the chunks of an exchange are
	// iterated a second time.
	ErrExchangeConsumed = errors.New("exchange already consumed")

	// ErrAbandoned is recorded when the consumer stops reading before the
	// upstream stream ends.
	ErrAbandoned = errors.New("consumer stopped reading the stream")
)

const defaultHistoryLimit = 10

// Options tunes a Relay. Zero values fall back to defaults.
type Options struct {
	SystemPrompt string
	HistoryLimit int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Request is one inbound user message.
type Request struct {
	Identity identity.Identity
	Text     string
	Source   database.Source
}

// Relay couples the conversation store with an LLM client.
type Relay struct {
	store        database.Store
	client       llm.Client
	systemPrompt string
	historyLimit int
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates a Relay.
func New(store database.Store, client llm.Client, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.HistoryLimit
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	return &Relay{
		store:        store,
		client:       client,
		systemPrompt: strings.TrimSpace(opts.SystemPrompt),
		historyLimit: limit,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "relay"),
	}
}

// Open records the user message verbatim and loads the context window. The
// returned exchange is in the ContextLoaded state; nothing is sent upstream
// until its chunks are consumed.
func (r *Relay) Open(ctx context.Context, req Request) (*Exchange, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperrors.NewValidationError("message text must not be empty", nil)
	}
	if !req.Source.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown message source %q", req.Source), nil)
	}

	ex := &Exchange{
		relay: r,
		ctx:   ctx,
		req:   req,
		state: StateIdle,
	}

	userMsg, err := r.store.Append(ctx, req.Identity.UserID, req.Identity.ChatID, database.RoleUser, req.Text, req.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	window, err := r.store.ReadWindow(ctx, req.Identity.UserID, req.Identity.ChatID, r.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation window: %w", err)
	}

	ex.userMessage = userMsg
	ex.messages = r.buildContext(window, userMsg)
	ex.move(StateContextLoaded)

	r.logger.DebugContext(ctx, "Context loaded",
		"user_id", req.Identity.UserID,
		"chat_id", req.Identity.ChatID,
		"source", req.Source,
		"window", len(window),
	)
	return ex, nil
}

// Complete runs a whole exchange and returns the full reply. A
// ConsistencyWarning is returned together with the delivered text.
func (r *Relay) Complete(ctx context.Context, req Request) (string, error) {
	ex, err := r.Open(ctx, req)
	if err != nil {
		return "", err
	}
	for _, err := range ex.Chunks() {
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeConsistency) {
				return ex.Text(), err
			}
			return "", err
		}
	}
	return ex.Text(), nil
}

// buildContext orders the window oldest first with the new user message last
// and the system prompt, if any, prepended once.
func (r *Relay) buildContext(window []database.Message, userMsg *database.Message) []llm.Message {
	messages := make([]llm.Message, 0, len(window)+2)
	if r.systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt})
	}
	for _, m := range window {
		if m.ID == userMsg.ID || m.Role == database.RoleSystem {
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: userMsg.Content})
}
