// Package identity maps anonymous web session tokens to the synthetic
// negative user ids used as conversation keys. Telegram users keep their
// native positive ids and never pass through the mapper.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

// Identity is the conversation key of one participant.
type Identity struct {
	UserID int64
	ChatID int64
}

// Native returns the identity of a Telegram participant.
func Native(userID, chatID int64) Identity {
	return Identity{UserID: userID, ChatID: chatID}
}

// Backend stores token to id assignments. Assign must be atomic: concurrent
// calls for the same token return the same id.
type Backend interface {
	Assign(ctx context.Context, token string) (int64, error)
}

// Mapper resolves session tokens to identities.
type Mapper struct {
	backend Backend
	logger  *slog.Logger
}

// NewMapper creates a Mapper on top of backend.
func NewMapper(backend Backend, logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{
		backend: backend,
		logger:  logger.With("component", "identity_mapper"),
	}
}

// Resolve returns the identity for token, assigning the next synthetic id on
// first sight. Web sessions use the same value for user and chat.
func (m *Mapper) Resolve(ctx context.Context, token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, apperrors.NewValidationError("session token must not be empty", nil)
	}

	id, err := m.backend.Assign(ctx, token)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to resolve session", "error", err)
		return Identity{}, err
	}
	return Identity{UserID: id, ChatID: id}, nil
}

// MemoryBackend keeps assignments in process memory. Assignments are lost on
// restart.
type MemoryBackend struct {
	mu   sync.Mutex
	ids  map[string]int64
	next int64
}

// NewMemoryBackend returns a backend whose first assignment is -1.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ids:  make(map[string]int64),
		next: -1,
	}
}

func (b *MemoryBackend) Assign(_ context.Context, token string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.ids[token]; ok {
		return id, nil
	}
	id := b.next
	b.ids[token] = id
	b.next--
	return id, nil
}

// Len returns the number of known sessions.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ids)
}
