package fetcher

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/rfletcher/intelforge/internal/models"
	"github.com/rfletcher/intelforge/internal/ratelimit"
)

// Error kinds reported by the fetcher.
const (
	KindTimeout   = "timeout"
	KindStatus    = "status"
	KindTransport = "transport"
	KindParse     = "parse"
)

// FetchError describes why a feed fetch failed. Kind lets callers decide
// whether a retry makes sense without string matching.
type FetchError struct {
	Kind       string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config holds fetcher settings.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}

// Fetcher downloads and parses RSS/Atom feeds. Requests to the same host
// are spaced out by the shared limiter.
type Fetcher struct {
	client  *http.Client
	parser  *gofeed.Parser
	limiter *ratelimit.Limiter
	config  Config
}

func New(limiter *ratelimit.Limiter, config Config) *Fetcher {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	return &Fetcher{
		client:  &http.Client{Timeout: config.Timeout},
		parser:  gofeed.NewParser(),
		limiter: limiter,
		config:  config,
	}
}

// Fetch downloads the feed at url and returns its parsed channel metadata
// and entries. FinalURL differs from RequestedURL when the server
// redirected; callers use that to heal stored feed URLs.
func (f *Fetcher) Fetch(ctx context.Context, url string) (models.FetchResult, error) {
	if f.limiter != nil {
		f.limiter.Wait(url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.FetchResult{}, &FetchError{Kind: KindTransport, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		kind := KindTransport
		if ctx.Err() == context.DeadlineExceeded || strings.Contains(err.Error(), "Client.Timeout") {
			kind = KindTimeout
		}
		return models.FetchResult{}, &FetchError{Kind: kind, URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.FetchResult{}, &FetchError{Kind: KindStatus, URL: url, StatusCode: resp.StatusCode}
	}

	// resp.Request.URL reflects the URL after any redirects.
	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return models.FetchResult{}, &FetchError{Kind: KindParse, URL: url, Err: err}
	}

	result := models.FetchResult{
		RequestedURL: url,
		FinalURL:     finalURL,
		Title:        cleanText(feed.Title),
		Description:  cleanText(feed.Description),
	}
	if feed.UpdatedParsed != nil {
		t := *feed.UpdatedParsed
		result.LastBuildDate = &t
	} else if feed.PublishedParsed != nil {
		t := *feed.PublishedParsed
		result.LastBuildDate = &t
	}

	result.Entries = make([]models.CandidateEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if strings.TrimSpace(item.Link) == "" {
			continue
		}

		entry := models.CandidateEntry{
			Link:        strings.TrimSpace(item.Link),
			Title:       cleanText(item.Title),
			Description: cleanText(item.Description),
			Categories:  item.Categories,
		}
		if item.Author != nil {
			entry.Author = cleanText(item.Author.Name)
		}
		if item.PublishedParsed != nil {
			entry.Published = *item.PublishedParsed
		}
		// Published stays zero when the date is missing or malformed;
		// the raw string is kept for diagnostics.
		entry.PublishedRaw = item.Published

		result.Entries = append(result.Entries, entry)
	}

	return result, nil
}

// cleanText strips HTML markup from feed fields and collapses whitespace.
// Feeds routinely ship titles like "<b>Critical</b> RCE in&nbsp;Foo".
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.ContainsAny(s, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		} else {
			s = html.UnescapeString(s)
		}
	}

	return strings.Join(strings.Fields(s), " ")
}
