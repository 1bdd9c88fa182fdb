package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/relay"
)

type chatRequest struct {
	SessionID string `json:"session_id" binding:"required,max=128"`
	Message   string `json:"message"    binding:"required,max=4000"`
}

type historyQuery struct {
	SessionID string `form:"session_id" binding:"required,min=1,max=128"`
}

type historyMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// handleChatMessage streams the reply as server-sent events. Once the stream
// is open every outcome ends in exactly one done or error event.
func (s *Server) handleChatMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request: " + err.Error()})
		return
	}
	if !s.limiters.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "too many requests"})
		return
	}

	sse := newSSEWriter(c)

	id, err := s.deps.Mapper.Resolve(ctx, req.SessionID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to resolve session", "error", err)
		sse.Error(apperrors.UserMessage(err))
		return
	}

	ex, err := s.deps.Relay.Open(ctx, relay.Request{
		Identity: id,
		Text:     req.Message,
		Source:   database.SourceWeb,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to open exchange", "user_id", id.UserID, "error", err)
		sse.Error(apperrors.UserMessage(err))
		return
	}

	for chunk, err := range ex.Chunks() {
		if err != nil {
			if apperrors.HasCode(err, apperrors.CodeConsistency) {
				// Tokens are already on the client; the gap is only in the transcript.
				sse.Done()
				return
			}
			sse.Error(apperrors.UserMessage(err))
			return
		}
		if err := sse.Token(chunk); err != nil {
			s.logger.InfoContext(ctx, "Client went away during stream", "user_id", id.UserID, "error", err)
			return
		}
	}
	sse.Done()
}

func (s *Server) handleChatHistory(c *gin.Context) {
	ctx := c.Request.Context()

	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request: " + err.Error()})
		return
	}

	id, err := s.deps.Mapper.Resolve(ctx, q.SessionID)
	if err != nil {
		s.respondError(c, err, "Failed to fetch chat history")
		return
	}

	window, err := s.deps.Store.ReadWindow(ctx, id.UserID, id.ChatID, s.deps.HistoryLimit)
	if err != nil {
		s.respondError(c, err, "Failed to fetch chat history")
		return
	}

	out := make([]historyMessage, 0, len(window))
	for _, m := range window {
		out = append(out, historyMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	c.JSON(http.StatusOK, out)
}

// respondError maps validation failures to 400 and everything else to 500.
func (s *Server) respondError(c *gin.Context, err error, detail string) {
	if apperrors.HasCode(err, apperrors.CodeValidation) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	s.logger.ErrorContext(c.Request.Context(), detail, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": detail})
}
