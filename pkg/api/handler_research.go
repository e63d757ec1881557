package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartResearchRequest is the body of POST /api/research.
type StartResearchRequest struct {
	BatchID  string `json:"batch_id" binding:"required"`
	Guidance string `json:"guidance,omitempty"`
}

// UserInputRequest is the body of POST /api/research/:id/input. The same
// payload is accepted over the WebSocket inbound channel.
type UserInputRequest struct {
	PromptID string `json:"prompt_id" binding:"required"`
	Response string `json:"response,omitempty"`
}

// StartResearch handles POST /api/research: starts an orchestrated session
// over a scraped batch.
func (s *Server) StartResearch(c *gin.Context) {
	var req StartResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	progress := s.tracker.Statistics(req.BatchID)
	if progress.ExpectedTotal == 0 && progress.RegisteredCount == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
		return
	}
	if !progress.CanProceed {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "batch has no completed scrapes to research",
			"progress": progress,
		})
		return
	}

	sessionID, err := s.research.Start(c.Request.Context(), req.BatchID, req.Guidance)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"session_id": sessionID,
		"batch_id":   req.BatchID,
		"channel":    "batch:" + req.BatchID,
	})
}

// GetResearch handles GET /api/research/:id with a session status snapshot.
func (s *Server) GetResearch(c *gin.Context) {
	status, err := s.research.Status(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelResearch handles POST /api/research/:id/cancel.
func (s *Server) CancelResearch(c *gin.Context) {
	sessionID := c.Param("id")
	if err := s.research.Cancel(sessionID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "status": "cancelling"})
}

// PostResearchInput handles POST /api/research/:id/input, delivering a user
// response to the session's pending prompt.
func (s *Server) PostResearchInput(c *gin.Context) {
	var req UserInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := s.research.Status(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}

	control := NewControl(s.center, s.research, s.prompts, s.publisher)
	if err := control.DeliverUserResponse(req.PromptID, req.Response); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt_id": req.PromptID, "status": "accepted"})
}
