package scrape

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/deepscout/deepscout/pkg/models"
)

// ProgressSink receives incremental progress from a scraper while it works.
// Implementations forward to the event bus; the scraper never sees the bus.
type ProgressSink interface {
	Progress(linkID, stage string, progress float64, message string)
}

// Scraper extracts content for one kind of link. Implementations are
// external collaborators; this contract is the sole coupling point.
type Scraper interface {
	// Extract fetches and parses the content behind url. Not interruptible
	// mid-extraction; ctx bounds only the setup and network phases.
	Extract(ctx context.Context, url string) (*models.ScrapeResult, error)

	// ValidateURL reports whether the scraper can handle url at all.
	ValidateURL(url string) bool

	// Close releases external resources (browser, sockets).
	Close() error
}

// Factory constructs a scraper for one task. A fresh scraper per task keeps
// failures isolated; a crashed browser takes down one task, not a worker.
type Factory func(sink ProgressSink) (Scraper, error)

// Registry maps scraper kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.ScraperKind]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.ScraperKind]Factory)}
}

// Register installs the factory for kind, replacing any previous one.
func (r *Registry) Register(kind models.ScraperKind, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// New constructs a scraper for kind, passing it the progress sink.
func (r *Registry) New(kind models.ScraperKind, sink ProgressSink) (Scraper, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no scraper registered for kind %q", kind)
	}
	return f(sink)
}

// Kinds returns the registered scraper kinds.
func (r *Registry) Kinds() []models.ScraperKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ScraperKind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	return out
}

// ValidHTTPURL is a helper for scraper implementations: it accepts absolute
// http(s) URLs with a host.
func ValidHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
