package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/chatforge/knowledge/internal/models"
)

type Config struct {
	RateLimit       float64 // requests per second
	Timeout         time.Duration
	MaxContentBytes int
}

// Fetcher retrieves a single page for a URL source and extracts its
// readable text. Knowledge sources are individual pages, so there is no
// recursive crawl.
type Fetcher struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config Config) *Fetcher {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if config.MaxContentBytes == 0 {
		config.MaxContentBytes = models.MaxContentBytes
	}
	return &Fetcher{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

func New() *Fetcher {
	return NewWithConfig(Config{})
}

// Fetch downloads the page and returns its title and extracted text.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (title, content string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").Text())
	content = f.extractMainContent(doc)
	if len(content) > f.config.MaxContentBytes {
		content = content[:f.config.MaxContentBytes]
	}
	return title, content, nil
}

func (f *Fetcher) extractMainContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header").Remove()

	selectors := []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	var content string
	for _, selector := range selectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			content = selected.Text()
			break
		}
	}
	if content == "" {
		content = doc.Find("body").Text()
	}
	return cleanContent(content)
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}
	return strings.TrimSpace(content)
}
