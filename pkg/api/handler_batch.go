package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deepscout/deepscout/pkg/models"
)

// LinkRequest is one link submitted for scraping.
type LinkRequest struct {
	URL      string          `json:"url" binding:"required"`
	Kind     models.LinkKind `json:"kind" binding:"required"`
	LinkID   string          `json:"link_id,omitempty"`
	Priority int             `json:"priority,omitempty"`
}

// CreateBatchRequest is the body of POST /api/batches.
type CreateBatchRequest struct {
	Links []LinkRequest `json:"links" binding:"required,min=1"`
}

// CreateBatch handles POST /api/batches: registers the batch with the
// scraping control center, wires the summarization watch, and enqueues one
// task per link.
func (s *Server) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	for i, link := range req.Links {
		if !link.Kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("links[%d]: unknown link kind %q", i, link.Kind),
			})
			return
		}
	}

	ctx := c.Request.Context()
	batchID := uuid.NewString()
	s.center.RegisterBatch(ctx, batchID, len(req.Links))
	s.summarizer.WatchBatch(ctx, batchID)

	for i, link := range req.Links {
		linkID := link.LinkID
		if linkID == "" {
			linkID = fmt.Sprintf("link-%03d", i+1)
		}
		task := models.ScrapingTask{
			TaskID:      uuid.NewString(),
			BatchID:     batchID,
			LinkID:      linkID,
			URL:         link.URL,
			LinkKind:    link.Kind,
			ScraperKind: models.ScraperKindFor(link.Kind),
			Priority:    link.Priority,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.center.Submit(ctx, task); err != nil {
			abortWithError(c, fmt.Errorf("submit link %s: %w", linkID, err))
			return
		}
	}

	s.logger.Info("Batch created", "batch_id", batchID, "links", len(req.Links))
	c.JSON(http.StatusCreated, gin.H{
		"batch_id":   batchID,
		"registered": len(req.Links),
		"channel":    "batch:" + batchID,
	})
}

// GetBatch handles GET /api/batches/:id with a progress snapshot.
func (s *Server) GetBatch(c *gin.Context) {
	batchID := c.Param("id")
	progress := s.tracker.Statistics(batchID)
	if progress.ExpectedTotal == 0 && progress.RegisteredCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// CancelBatch handles POST /api/batches/:id/cancel.
func (s *Server) CancelBatch(c *gin.Context) {
	batchID := c.Param("id")
	progress := s.tracker.Statistics(batchID)
	if progress.ExpectedTotal == 0 && progress.RegisteredCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	s.center.Cancel(c.Request.Context(), batchID)
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID, "status": "cancelling"})
}
