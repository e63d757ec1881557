// Package api exposes the HTTP surface: batch ingestion and control,
// research session control, the WebSocket event stream, and health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/database"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
	"github.com/deepscout/deepscout/pkg/summarize"
)

// Server is the HTTP server wiring the subsystems behind REST and WebSocket.
type Server struct {
	cfg         *config.Config
	tracker     *scrape.Tracker
	center      *scrape.ControlCenter
	summarizer  *summarize.Manager
	research    *research.Registry
	prompts     *events.PromptRegistry
	publisher   *events.Publisher
	connManager *events.ConnectionManager
	db          *database.Client // nil when event history is disabled
	logger      *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server. db may be nil.
func NewServer(
	cfg *config.Config,
	tracker *scrape.Tracker,
	center *scrape.ControlCenter,
	summarizer *summarize.Manager,
	researchReg *research.Registry,
	prompts *events.PromptRegistry,
	publisher *events.Publisher,
	connManager *events.ConnectionManager,
	db *database.Client,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		tracker:     tracker,
		center:      center,
		summarizer:  summarizer,
		research:    researchReg,
		prompts:     prompts,
		publisher:   publisher,
		connManager: connManager,
		db:          db,
		logger:      logger.With("component", "api_server"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/batches", s.CreateBatch)
		apiGroup.GET("/batches/:id", s.GetBatch)
		apiGroup.POST("/batches/:id/cancel", s.CancelBatch)

		apiGroup.POST("/research", s.StartResearch)
		apiGroup.GET("/research/:id", s.GetResearch)
		apiGroup.POST("/research/:id/cancel", s.CancelResearch)
		apiGroup.POST("/research/:id/input", s.PostResearchInput)

		apiGroup.GET("/health", s.Health)
	}
	router.GET("/ws", s.HandleWebSocket)

	return router
}

// Start begins serving on addr. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		// WebSocket upgrades hold the connection open; logging them on
		// close would report misleading durations.
		if c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		s.logger.Info("Request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
