package relay

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/llm"
	"github.com/Ant-Pavel/systech-aidd/internal/metrics"
)

// Exchange is one relayed request. Its chunks can be consumed once.
type Exchange struct {
	relay       *Relay
	ctx         context.Context
	req         Request
	messages    []llm.Message
	userMessage *database.Message
	consumed    atomic.Bool

	mu    sync.Mutex
	state State
	err   error
	text  strings.Builder
	reply *database.Message
}

// Chunks returns the reply as a lazy sequence. Each upstream chunk is yielded
// as it arrives. The sequence ends without error once the reply is stored,
// or with a single terminal error: an UpstreamError when the backend fails,
// a ConsistencyWarning when the reply was delivered but could not be stored.
// Breaking out of the loop cancels the upstream request and nothing is stored.
func (e *Exchange) Chunks() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !e.consumed.CompareAndSwap(false, true) {
			yield("", ErrExchangeConsumed)
			return
		}

		ctx, cancel := context.WithCancel(e.ctx)
		defer cancel()

		e.move(StateStreaming)
		start := time.Now()
		source := string(e.req.Source)

		for chunk, err := range e.relay.client.Stream(ctx, e.messages) {
			if err != nil {
				e.finish(start, err)
				yield("", err)
				return
			}
			e.mu.Lock()
			e.text.WriteString(chunk)
			e.mu.Unlock()
			e.relay.metrics.AddChunk(source)

			if !yield(chunk, nil) {
				e.finish(start, ErrAbandoned)
				return
			}
		}

		if err := e.ctx.Err(); err != nil {
			err = fmt.Errorf("request ended before commit: %w", err)
			e.finish(start, err)
			yield("", err)
			return
		}

		if err := e.commit(); err != nil {
			e.finish(start, err)
			yield("", err)
			return
		}
		e.finish(start, nil)
	}
}

// commit stores the accumulated reply as one assistant message.
func (e *Exchange) commit() error {
	text := e.Text()
	if strings.TrimSpace(text) == "" {
		return apperrors.NewUpstreamError(apperrors.KindGeneric, "llm returned an empty reply", nil)
	}

	id := e.req.Identity
	reply, err := e.relay.store.Append(e.ctx, id.UserID, id.ChatID, database.RoleAssistant, text, e.req.Source)
	if err != nil {
		return apperrors.NewConsistencyWarning("reply delivered but not stored", err)
	}

	e.mu.Lock()
	e.reply = reply
	e.mu.Unlock()
	return nil
}

// finish records the terminal state and reports it.
func (e *Exchange) finish(start time.Time, err error) {
	r := e.relay
	id := e.req.Identity
	elapsed := time.Since(start)
	source := string(e.req.Source)

	if err == nil {
		e.move(StateCommitted)
		r.metrics.ObserveStream(source, metrics.OutcomeCommitted, elapsed)
		r.logger.InfoContext(e.ctx, "Reply committed",
			"user_id", id.UserID,
			"chat_id", id.ChatID,
			"source", source,
			"length", utf8.RuneCountInString(e.Text()),
			"duration", elapsed,
		)
		return
	}

	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
	e.move(StateFailed)

	attrs := []any{
		"user_id", id.UserID,
		"chat_id", id.ChatID,
		"source", source,
		"error", err,
		"duration", elapsed,
	}
	switch {
	case apperrors.HasCode(err, apperrors.CodeConsistency):
		r.metrics.ObserveStream(source, metrics.OutcomeWarning, elapsed)
		r.logger.WarnContext(e.ctx, "Reply delivered but not stored", attrs...)
	case errors.Is(err, ErrAbandoned) || errors.Is(err, context.Canceled):
		r.metrics.ObserveStream(source, metrics.OutcomeCancelled, elapsed)
		r.logger.InfoContext(e.ctx, "Stream cancelled, reply discarded", attrs...)
	default:
		r.metrics.ObserveStream(source, metrics.OutcomeFailed, elapsed)
		r.logger.ErrorContext(e.ctx, "Stream failed, reply discarded", attrs...)
	}
}

func (e *Exchange) move(to State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.state.canMove(to) {
		panic(fmt.Sprintf("relay: invalid transition %s -> %s", e.state, to))
	}
	e.state = to
}

// State returns the current lifecycle state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that moved the exchange to Failed.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Text returns the text forwarded so far.
func (e *Exchange) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.text.String()
}

// Messages returns the context sent upstream.
func (e *Exchange) Messages() []llm.Message {
	return e.messages
}

// UserMessage returns the stored user message.
func (e *Exchange) UserMessage() *database.Message {
	return e.userMessage
}

// Reply returns the stored assistant message once committed.
func (e *Exchange) Reply() *database.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reply
}
