// Package e2e exercises the whole pipeline in one process: HTTP ingestion,
// scraping workers, summarization, research orchestration, and the event
// stream, with fake scrapers and a mock LLM standing in for the outside
// world.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/api"
	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
	"github.com/deepscout/deepscout/pkg/storage"
	"github.com/deepscout/deepscout/pkg/summarize"
)

// fakeScraper returns deterministic content per URL, including comments so
// summaries cover audience discussion. Extraction blocks on gate so tests
// can subscribe to the batch channel before any event fires.
type fakeScraper struct {
	gate <-chan struct{}
}

func (s *fakeScraper) Extract(ctx context.Context, url string) (*models.ScrapeResult, error) {
	select {
	case <-s.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.ScrapeResult{
		Title:   "Source at " + url,
		Content: "Planetary gearboxes wear at the sun gear first. Shorter oil intervals slow the wear.",
		Comments: []models.Comment{
			{Author: "mech1", Text: "Matches my fleet data.", Likes: 12},
			{Author: "mech2", Text: "Only under shock loads.", Likes: 3},
		},
	}, nil
}
func (s *fakeScraper) ValidateURL(string) bool { return true }
func (s *fakeScraper) Close() error            { return nil }

type harness struct {
	cfg     *config.Config
	layout  *storage.Layout
	bus     *events.Bus
	prompts *events.PromptRegistry
	tracker *scrape.Tracker
	llm     *mockLLM
	manager *summarize.Manager
	router  http.Handler

	gate     chan struct{}
	gateOnce sync.Once
}

// releaseScrapers lets blocked fake scrapers proceed. Idempotent.
func (h *harness) releaseScrapers() {
	h.gateOnce.Do(func() { close(h.gate) })
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Scraping.WorkerPoolSize = 4
	cfg.Scraping.QueueCheckIntervalMS = 5
	cfg.Scraping.CompletionTimeoutS = 5
	cfg.Summarization.WaitTimeoutS = 5
	cfg.Research.HeartbeatSeconds = 60

	layout := storage.NewLayout(t.TempDir())
	bus := events.NewBus(8192, nil)
	publisher := events.NewPublisher(bus, nil, nil)
	prompts := events.NewPromptRegistry()
	client := newMockLLM()

	gate := make(chan struct{})
	tracker := scrape.NewTracker()
	queue := scrape.NewQueue()
	scrapers := scrape.NewRegistry()
	for _, kind := range []models.ScraperKind{
		models.ScraperKindArticle, models.ScraperKindForum,
		models.ScraperKindTranscript, models.ScraperKindComments,
	} {
		scrapers.Register(kind, func(scrape.ProgressSink) (scrape.Scraper, error) {
			return &fakeScraper{gate: gate}, nil
		})
	}
	persister := scrape.NewPersister(layout, cfg.Scraping.Retry.PersistenceAttempts, nil)
	center := scrape.NewControlCenter(tracker, queue, scrapers, persister, publisher, cfg.Scraping, nil)
	center.Start(context.Background())
	t.Cleanup(center.Stop)

	manager := summarize.NewManager(summarize.NewSummarizer(client, 0), layout, publisher, cfg.Summarization, nil)
	manager.Start(context.Background())
	t.Cleanup(manager.Stop)

	researchReg := research.NewRegistry(client, nil, publisher, prompts, layout, cfg.Research, nil)
	connManager := events.NewConnectionManager(bus, nil, nil, time.Second, nil)
	connManager.SetControl(api.NewControl(center, researchReg, prompts, publisher))

	server := api.NewServer(cfg, tracker, center, manager, researchReg,
		prompts, publisher, connManager, nil, nil)

	h := &harness{
		cfg:     cfg,
		layout:  layout,
		bus:     bus,
		prompts: prompts,
		tracker: tracker,
		llm:     client,
		manager: manager,
		router:  server.Router(),
		gate:    gate,
	}
	t.Cleanup(h.releaseScrapers)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *harness) body(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// submitBatch posts one link per kind and returns the batch id.
func (h *harness) submitBatch(t *testing.T, kinds ...models.LinkKind) string {
	t.Helper()
	links := make([]api.LinkRequest, len(kinds))
	for i, kind := range kinds {
		links[i] = api.LinkRequest{
			URL:  fmt.Sprintf("https://example.com/source-%d", i+1),
			Kind: kind,
		}
	}
	w := h.do(t, http.MethodPost, "/api/batches", api.CreateBatchRequest{Links: links})
	require.Equal(t, http.StatusCreated, w.Code)
	return h.body(t, w)["batch_id"].(string)
}

// recorder captures every envelope on a channel for later inspection.
type recorder struct {
	mu     sync.Mutex
	events []events.Envelope
}

func (h *harness) record(t *testing.T, channel string) *recorder {
	t.Helper()
	rec := &recorder{}
	sub := h.bus.Subscribe(channel)
	t.Cleanup(func() { h.bus.Unsubscribe(sub) })
	go func() {
		for env := range sub.Events() {
			rec.mu.Lock()
			rec.events = append(rec.events, env)
			rec.mu.Unlock()
		}
	}()
	return rec
}

func (r *recorder) ofType(eventType string) []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, env := range r.events {
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// awaitPrompt waits for a user_input_required event and returns its payload.
func awaitPrompt(t *testing.T, rec *recorder) events.UserInputRequiredPayload {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(rec.ofType(events.EventTypeUserInputRequired)) > 0
	}, 5*time.Second, 10*time.Millisecond)

	var payload events.UserInputRequiredPayload
	env := rec.ofType(events.EventTypeUserInputRequired)[0]
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	return payload
}
