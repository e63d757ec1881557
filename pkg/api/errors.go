package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
)

// abortWithError maps domain errors to HTTP responses with a JSON error body.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scrape.ErrUnknownTask),
		errors.Is(err, research.ErrSessionNotFound),
		errors.Is(err, events.ErrUnknownPrompt):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scrape.ErrBatchCancelled),
		errors.Is(err, scrape.ErrDuplicateTaskID),
		errors.Is(err, research.ErrSessionNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
