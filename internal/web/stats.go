package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ant-Pavel/systech-aidd/internal/stats"
)

func (s *Server) handleStats(c *gin.Context) {
	period := c.DefaultQuery("period", stats.DefaultPeriod)

	dashboard, err := s.deps.Stats.Dashboard(c.Request.Context(), period)
	if err != nil {
		s.respondError(c, err, "Failed to fetch dashboard stats")
		return
	}
	c.JSON(http.StatusOK, dashboard)
}
