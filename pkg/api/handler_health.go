package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepscout/deepscout/pkg/version"
)

// Health handles GET /api/health. The database section appears only when
// event history persistence is enabled.
func (s *Server) Health(c *gin.Context) {
	body := gin.H{
		"status":             "healthy",
		"version":            version.Full(),
		"active_connections": s.connManager.ActiveConnections(),
		"summary_queue":      s.summarizer.QueueSize(),
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		dbHealth, err := s.db.Health(ctx)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}

	c.JSON(http.StatusOK, body)
}
