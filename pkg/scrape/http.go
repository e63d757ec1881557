package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/deepscout/deepscout/pkg/models"
	"github.com/deepscout/deepscout/pkg/version"
)

// maxFetchBytes caps how much of a response body is read.
const maxFetchBytes = 4 << 20

// HTTPScraper is a generic fetch-and-extract scraper for article-like pages:
// one GET, HTML parsed, visible text collected. Site-specific scrapers
// (browser automation, API clients) plug in through the same Factory
// contract; this one is the built-in default.
type HTTPScraper struct {
	client *http.Client
	sink   ProgressSink
}

// NewHTTPFactory returns a Factory producing HTTPScrapers that share one
// underlying HTTP client.
func NewHTTPFactory(timeout time.Duration) Factory {
	client := &http.Client{Timeout: timeout}
	return func(sink ProgressSink) (Scraper, error) {
		return &HTTPScraper{client: client, sink: sink}, nil
	}
}

// Extract fetches url and returns its title and visible text.
func (s *HTTPScraper) Extract(ctx context.Context, url string) (*models.ScrapeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	title, content := extractText(doc)
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("fetch %s: no extractable text", url)
	}
	return &models.ScrapeResult{Title: title, Content: content}, nil
}

// ValidateURL accepts absolute http(s) URLs.
func (s *HTTPScraper) ValidateURL(url string) bool { return ValidHTTPURL(url) }

// Close is a no-op; the HTTP client is shared and stateless.
func (s *HTTPScraper) Close() error { return nil }

// extractText walks the DOM collecting the title and the visible text,
// skipping script, style, and other non-content subtrees.
func extractText(doc *html.Node) (title, content string) {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				// title lives inside head; grab it before skipping
				if t := findTitle(n); t != "" && title == "" {
					title = t
				}
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, b.String()
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "title" && c.FirstChild != nil {
			return strings.TrimSpace(c.FirstChild.Data)
		}
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}
