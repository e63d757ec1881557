// DeepScout server: HTTP API, WebSocket event stream, scraping and
// summarization worker pools, and the research orchestrator in one process.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/deepscout/deepscout/pkg/api"
	"github.com/deepscout/deepscout/pkg/cleanup"
	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/database"
	"github.com/deepscout/deepscout/pkg/embedding"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
	"github.com/deepscout/deepscout/pkg/storage"
	"github.com/deepscout/deepscout/pkg/summarize"
	"github.com/deepscout/deepscout/pkg/version"
)

const scrapeTimeout = 60 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env from the config directory; a missing file is fine.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Info("No .env file loaded, using existing environment", "path", envPath)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting DeepScout", "version", version.Full())

	ctx := context.Background()

	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	layout := storage.NewLayout(cfg.Storage.DataDir)

	// Optional Postgres event history. Without DB_HOST the bus runs purely
	// in memory and WebSocket catchup is disabled.
	var dbClient *database.Client
	var history events.History
	if database.Enabled() {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		history = database.NewEventStore(dbClient)
		slog.Info("Event history enabled", "host", dbConfig.Host, "database", dbConfig.Database)
	} else {
		slog.Info("Event history disabled (DB_HOST not set)")
	}

	// Event bus and publishers.
	bus := events.NewBus(cfg.EventBus.SubscriberBuffer, nil)
	publisher := events.NewPublisher(bus, history, nil)
	prompts := events.NewPromptRegistry()

	// LLM client, shared by summarization and research.
	llmClient, err := llm.NewAnthropicClient(cfg.LLM.APIKeyEnv, cfg.LLM.Model)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	// Embedding engine for the novelty filter. Optional: without a key the
	// filter passes findings through unfiltered.
	var engine embedding.Engine
	if os.Getenv(cfg.Embedding.APIKeyEnv) != "" {
		engine, err = embedding.NewGenAIEngine(ctx, cfg.Embedding.APIKeyEnv, cfg.Embedding.Model)
		if err != nil {
			slog.Error("Failed to initialize embedding engine", "error", err)
			os.Exit(1)
		}
		slog.Info("Novelty filter enabled", "model", cfg.Embedding.Model)
	} else {
		slog.Warn("Novelty filter disabled: embedding API key not set",
			"env", cfg.Embedding.APIKeyEnv)
	}

	// Scraping control center. The generic HTTP scraper backs the article
	// and forum kinds; transcript and comment scrapers attach here when a
	// site-specific implementation is available.
	tracker := scrape.NewTracker()
	queue := scrape.NewQueue()
	scrapers := scrape.NewRegistry()
	httpFactory := scrape.NewHTTPFactory(scrapeTimeout)
	scrapers.Register(models.ScraperKindArticle, httpFactory)
	scrapers.Register(models.ScraperKindForum, httpFactory)
	persister := scrape.NewPersister(layout, cfg.Scraping.Retry.PersistenceAttempts, nil)
	center := scrape.NewControlCenter(tracker, queue, scrapers, persister, publisher, cfg.Scraping, nil)
	center.Start(ctx)
	defer center.Stop()
	slog.Info("Scraping control center started",
		"workers", cfg.Scraping.WorkerPoolSize,
		"scraper_kinds", scrapers.Kinds())

	// Summarization pipeline.
	summarizer := summarize.NewSummarizer(llmClient, cfg.LLM.MaxTokens)
	summaryManager := summarize.NewManager(summarizer, layout, publisher, cfg.Summarization, nil)
	summaryManager.Start(ctx)
	defer summaryManager.Stop()
	slog.Info("Summarization manager started", "workers", cfg.Summarization.WorkerPoolSize)

	// Research sessions.
	researchReg := research.NewRegistry(llmClient, engine, publisher, prompts, layout, cfg.Research, nil)

	// Retention sweeper.
	if cfg.Retention.Enabled {
		var pruner cleanup.HistoryPruner
		if dbClient != nil {
			pruner = database.NewEventStore(dbClient)
		}
		sweeper := cleanup.NewService(cfg.Retention, layout, pruner, nil)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// WebSocket delivery plus the inbound control surface.
	writeTimeout := time.Duration(cfg.Server.WSWriteTimeoutMS) * time.Millisecond
	connManager := events.NewConnectionManager(bus, history, nil, writeTimeout, nil)
	connManager.SetControl(api.NewControl(center, researchReg, prompts, publisher))

	server := api.NewServer(cfg, tracker, center, summaryManager, researchReg,
		prompts, publisher, connManager, dbClient, nil)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("DeepScout stopped")
}
