package api

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepscout/deepscout/pkg/config"
	"github.com/deepscout/deepscout/pkg/events"
	"github.com/deepscout/deepscout/pkg/llm"
	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/research"
	"github.com/deepscout/deepscout/pkg/scrape"
	"github.com/deepscout/deepscout/pkg/storage"
	"github.com/deepscout/deepscout/pkg/summarize"
)

// stubScraper returns fixed content immediately.
type stubScraper struct{}

func (s *stubScraper) Extract(ctx context.Context, url string) (*models.ScrapeResult, error) {
	return &models.ScrapeResult{
		Title:   "stub page",
		Content: "Planetary gearboxes wear at the sun gear first.",
	}, nil
}
func (s *stubScraper) ValidateURL(string) bool { return true }
func (s *stubScraper) Close() error            { return nil }

// stallingLLM blocks every stream until released, then emits its response.
// Cancelling the stream context unblocks immediately.
type stallingLLM struct {
	mu       sync.Mutex
	release  chan struct{}
	response string
}

func newStallingLLM(response string) *stallingLLM {
	return &stallingLLM{release: make(chan struct{}), response: response}
}

func (s *stallingLLM) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.release:
	default:
		close(s.release)
	}
}

func (s *stallingLLM) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 2)
	go func() {
		defer close(ch)
		select {
		case <-s.release:
			ch <- &llm.TextChunk{Content: s.response}
		case <-ctx.Done():
			ch <- &llm.ErrorChunk{Message: "stream aborted"}
		}
	}()
	return ch, nil
}

func (s *stallingLLM) Close() error { return nil }

type apiFixture struct {
	server  *Server
	router  http.Handler
	tracker *scrape.Tracker
	prompts *events.PromptRegistry
	bus     *events.Bus
	llm     *stallingLLM
}

func setupServer(t *testing.T) *apiFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Scraping.WorkerPoolSize = 2
	cfg.Scraping.QueueCheckIntervalMS = 5
	cfg.Scraping.CompletionTimeoutS = 5
	cfg.Summarization.WaitTimeoutS = 5

	layout := storage.NewLayout(t.TempDir())
	bus := events.NewBus(4096, nil)
	publisher := events.NewPublisher(bus, nil, nil)
	prompts := events.NewPromptRegistry()

	tracker := scrape.NewTracker()
	queue := scrape.NewQueue()
	scrapers := scrape.NewRegistry()
	scrapers.Register(models.ScraperKindArticle, func(scrape.ProgressSink) (scrape.Scraper, error) {
		return &stubScraper{}, nil
	})
	persister := scrape.NewPersister(layout, cfg.Scraping.Retry.PersistenceAttempts, nil)
	center := scrape.NewControlCenter(tracker, queue, scrapers, persister, publisher, cfg.Scraping, nil)
	center.Start(context.Background())
	t.Cleanup(center.Stop)

	// The summarizer and research phases share one stalling LLM; tests that
	// need model output call Release.
	client := newStallingLLM(`{"transcript_summary": "gears wear", "comments_summary": ""}`)
	manager := summarize.NewManager(summarize.NewSummarizer(client, 0), layout, publisher, cfg.Summarization, nil)
	manager.Start(context.Background())
	t.Cleanup(manager.Stop)
	// Unblock any stalled streams before the manager drains its workers.
	t.Cleanup(client.Release)

	researchReg := research.NewRegistry(client, nil, publisher, prompts, layout, cfg.Research, nil)
	connManager := events.NewConnectionManager(bus, nil, nil, time.Second, nil)
	server := NewServer(cfg, tracker, center, manager, researchReg, prompts, publisher, connManager, nil, nil)
	connManager.SetControl(NewControl(center, researchReg, prompts, publisher))

	return &apiFixture{
		server:  server,
		router:  server.Router(),
		tracker: tracker,
		prompts: prompts,
		bus:     bus,
		llm:     client,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
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
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// createBatch submits n article links and waits for all scrapes to finish.
func (f *apiFixture) createBatch(t *testing.T, n int) string {
	t.Helper()
	links := make([]LinkRequest, n)
	for i := range links {
		links[i] = LinkRequest{
			URL:  fmt.Sprintf("https://example.com/a%d", i),
			Kind: models.LinkKindArticle,
		}
	}
	w := f.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{Links: links})
	require.Equal(t, http.StatusCreated, w.Code)
	batchID := decodeBody(t, w)["batch_id"].(string)

	require.Eventually(t, func() bool {
		return f.tracker.Statistics(batchID).IsComplete
	}, 3*time.Second, 10*time.Millisecond)
	return batchID
}

func TestCreateBatchValidation(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/batches", CreateBatchRequest{
		Links: []LinkRequest{{URL: "https://example.com/x", Kind: "carrier-pigeon"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "unknown link kind")
}

func TestBatchLifecycleOverHTTP(t *testing.T) {
	f := setupServer(t)
	batchID := f.createBatch(t, 3)

	w := f.do(t, http.MethodGet, "/api/batches/"+batchID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var progress models.BatchProgress
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &progress))
	assert.Equal(t, 3, progress.ExpectedTotal)
	assert.Equal(t, 3, progress.Completed)
	assert.True(t, progress.IsComplete)
	assert.True(t, progress.CanProceed)
}

func TestGetBatchNotFound(t *testing.T) {
	f := setupServer(t)
	w := f.do(t, http.MethodGet, "/api/batches/no-such-batch", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelBatch(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodPost, "/api/batches/no-such-batch/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	batchID := f.createBatch(t, 1)
	w = f.do(t, http.MethodPost, "/api/batches/"+batchID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	// A cancelled batch rejects further links at the control center, which
	// the handler surfaces as a conflict. Exercised through the center
	// directly since the HTTP surface always opens a fresh batch.
	err := f.server.center.Submit(context.Background(), models.ScrapingTask{
		TaskID:  "late-task",
		BatchID: batchID,
		LinkID:  "late",
		URL:     "https://example.com/late",
	})
	assert.ErrorIs(t, err, scrape.ErrBatchCancelled)
}

func TestStartResearchGuards(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodPost, "/api/research", StartResearchRequest{BatchID: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// A batch with no completed scrapes yet cannot be researched. Register
	// one directly so no worker picks anything up.
	f.tracker.SetExpectedTotal("pending-batch", 2)
	require.NoError(t, f.tracker.Register(models.ScrapingTask{
		TaskID:  "t1",
		BatchID: "pending-batch",
		LinkID:  "l1",
		URL:     "https://example.com/l1",
		Status:  models.TaskStatusPending,
	}))
	w = f.do(t, http.MethodPost, "/api/research", StartResearchRequest{BatchID: "pending-batch"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResearchSessionLifecycleOverHTTP(t *testing.T) {
	f := setupServer(t)
	batchID := f.createBatch(t, 1)

	w := f.do(t, http.MethodPost, "/api/research", StartResearchRequest{
		BatchID:  batchID,
		Guidance: "focus on wear",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	sessionID := decodeBody(t, w)["session_id"].(string)

	// The stalling LLM keeps the session in the role phase.
	w = f.do(t, http.MethodGet, "/api/research/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status research.SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, research.SessionStateRunning, status.State)
	assert.Equal(t, batchID, status.BatchID)

	w = f.do(t, http.MethodPost, "/api/research/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/research/"+sessionID, nil)
		var s research.SessionStatus
		if err := json.Unmarshal(w.Body.Bytes(), &s); err != nil {
			return false
		}
		return s.State == research.SessionStateCancelled
	}, 3*time.Second, 10*time.Millisecond)

	// Cancelling a finished session is a conflict.
	w = f.do(t, http.MethodPost, "/api/research/"+sessionID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestResearchNotFound(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, http.MethodGet, "/api/research/no-such-session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/research/no-such-session/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPostResearchInputUnknownPrompt(t *testing.T) {
	f := setupServer(t)
	batchID := f.createBatch(t, 1)

	w := f.do(t, http.MethodPost, "/api/research", StartResearchRequest{BatchID: batchID})
	require.Equal(t, http.StatusAccepted, w.Code)
	sessionID := decodeBody(t, w)["session_id"].(string)

	sub := f.bus.Subscribe(events.GlobalBatchesChannel)
	defer f.bus.Unsubscribe(sub)

	w = f.do(t, http.MethodPost, "/api/research/"+sessionID+"/input", UserInputRequest{
		PromptID: "bogus-prompt",
		Response: "1",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The rejection is also visible to observers as an error event.
	select {
	case env := <-sub.Events():
		require.Equal(t, events.EventTypeError, env.Type)
		var payload events.ErrorPayload
		require.NoError(t, json.Unmarshal(env.Payload, &payload))
		assert.Equal(t, events.ErrorCodeUnknownPrompt, payload.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("no error event published for unknown prompt")
	}

	// Unknown session gets a 404 before the prompt id is even looked at.
	w = f.do(t, http.MethodPost, "/api/research/no-such-session/input", UserInputRequest{
		PromptID: "whatever",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	f := setupServer(t)
	w := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "database")
}
