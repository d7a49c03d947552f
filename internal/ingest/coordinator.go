// Package ingest drives the feed-to-database pipeline: fetch a feed,
// fingerprint its entries, extract full text for the new ones, and store
// the results.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rfletcher/intelforge/internal/database"
	"github.com/rfletcher/intelforge/internal/dedup"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/models"
)

// FeedStore is the slice of the feed store the coordinator needs.
type FeedStore interface {
	List(ctx context.Context) ([]models.Feed, error)
	GetByID(ctx context.Context, id string) (models.Feed, error)
	UpdateURL(ctx context.Context, id, newURL string) error
	UpdateMeta(ctx context.Context, id, title, description string, lastBuild *time.Time) error
}

// ContentStore is the slice of the content store the coordinator needs.
type ContentStore interface {
	FingerprintExists(ctx context.Context, fingerprint string) (bool, error)
	Insert(ctx context.Context, rec models.ContentRecord) (models.ContentRecord, error)
}

// FeedFetcher downloads and parses one feed.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (models.FetchResult, error)
}

// TextExtractor pulls readable article text for a URL.
type TextExtractor interface {
	Extract(ctx context.Context, url string) (string, error)
}

// Coordinator runs ingestion across registered feeds.
type Coordinator struct {
	feeds     FeedStore
	content   ContentStore
	fetcher   FeedFetcher
	extractor TextExtractor
	sanitizer *bluemonday.Policy
	logger    *logging.Logger
}

func NewCoordinator(feeds FeedStore, content ContentStore, fetcher FeedFetcher, extractor TextExtractor, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		feeds:     feeds,
		content:   content,
		fetcher:   fetcher,
		extractor: extractor,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger,
	}
}

// IngestAll runs IngestFeed for every registered feed. A failing feed is
// recorded and skipped; the sweep itself only errors when the feed list
// cannot be loaded.
func (c *Coordinator) IngestAll(ctx context.Context) (models.SweepReport, error) {
	report := models.SweepReport{FeedErrors: make(map[string]string)}

	feeds, err := c.feeds.List(ctx)
	if err != nil {
		return report, fmt.Errorf("list feeds: %w", err)
	}

	for _, feed := range feeds {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		feedReport, err := c.IngestFeed(ctx, feed.ID)
		if err != nil {
			c.logger.Error("feed ingestion failed",
				logging.WithField("feed_id", feed.ID),
				logging.WithField("url", feed.URL),
				logging.WithField("error", err.Error()))
			report.FeedErrors[feed.ID] = err.Error()
			continue
		}
		report.Add(feedReport)
	}

	c.logger.Info("ingestion sweep complete",
		logging.WithFields(map[string]interface{}{
			"feeds":   report.Feeds,
			"new":     report.New,
			"skipped": report.Skipped,
			"failed":  report.Failed,
			"errors":  len(report.FeedErrors),
		}))
	return report, nil
}

// IngestFeed fetches one feed and stores its new entries. Entries whose
// fingerprint is already known are skipped before any extraction call is
// spent on them. A failing entry is counted and does not stop the rest.
func (c *Coordinator) IngestFeed(ctx context.Context, feedID string) (models.IngestReport, error) {
	feed, err := c.feeds.GetByID(ctx, feedID)
	if err != nil {
		return models.IngestReport{}, err
	}
	report := models.IngestReport{FeedID: feed.ID, FeedURL: feed.URL}

	result, err := c.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return report, err
	}

	if result.Redirected() {
		// The host moved the feed. Store the new URL so the next sweep
		// skips the redirect hop.
		if err := c.feeds.UpdateURL(ctx, feed.ID, result.FinalURL); err != nil {
			if errors.Is(err, database.ErrDuplicate) {
				c.logger.Warn("feed redirect target already registered",
					logging.WithField("feed_id", feed.ID),
					logging.WithField("target", result.FinalURL))
			} else {
				return report, fmt.Errorf("update feed url: %w", err)
			}
		} else {
			c.logger.Info("feed url updated after redirect",
				logging.WithField("feed_id", feed.ID),
				logging.WithField("old", result.RequestedURL),
				logging.WithField("new", result.FinalURL))
		}
	}

	if err := c.feeds.UpdateMeta(ctx, feed.ID, result.Title, result.Description, result.LastBuildDate); err != nil {
		c.logger.Warn("failed to update feed metadata",
			logging.WithField("feed_id", feed.ID),
			logging.WithField("error", err.Error()))
	}

	for _, entry := range result.Entries {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		switch outcome := c.ingestEntry(ctx, feed, entry); outcome {
		case entryNew:
			report.New++
		case entrySkipped:
			report.Skipped++
		case entryFailed:
			report.Failed++
		}
	}

	c.logger.Info("feed ingested",
		logging.WithFields(map[string]interface{}{
			"feed_id": feed.ID,
			"url":     feed.URL,
			"new":     report.New,
			"skipped": report.Skipped,
			"failed":  report.Failed,
		}))
	return report, nil
}

type entryOutcome int

const (
	entryNew entryOutcome = iota
	entrySkipped
	entryFailed
)

func (c *Coordinator) ingestEntry(ctx context.Context, feed models.Feed, entry models.CandidateEntry) entryOutcome {
	fingerprint := dedup.Fingerprint(entry.Link, entry.Title)

	exists, err := c.content.FingerprintExists(ctx, fingerprint)
	if err != nil {
		c.logger.Error("fingerprint lookup failed",
			logging.WithField("url", entry.Link),
			logging.WithField("error", err.Error()))
		return entryFailed
	}
	if exists {
		return entrySkipped
	}

	text, err := c.extractor.Extract(ctx, entry.Link)
	if err != nil {
		c.logger.Warn("extraction failed",
			logging.WithField("url", entry.Link),
			logging.WithField("error", err.Error()))
		return entryFailed
	}

	content := c.sanitize(text)
	if content == "" {
		// Paywalled or otherwise unextractable. Not storing it leaves
		// the fingerprint unknown, so a later sweep can try again.
		c.logger.Warn("no content extracted, skipping entry",
			logging.WithField("url", entry.Link))
		return entryFailed
	}

	rec := models.ContentRecord{
		FeedID:      feed.ID,
		Title:       entry.Title,
		URL:         entry.Link,
		Description: entry.Description,
		Content:     content,
		Creator:     entry.Author,
		PubDate:     entry.Published,
		Fingerprint: fingerprint,
	}

	if _, err := c.content.Insert(ctx, rec); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			// Lost a race with a concurrent ingest of the same article.
			return entrySkipped
		}
		c.logger.Error("insert failed",
			logging.WithField("url", entry.Link),
			logging.WithField("error", err.Error()))
		return entryFailed
	}
	return entryNew
}

// sanitize strips any markup that survived extraction. The strict policy
// escapes entities, so unescape afterwards to keep plain text plain.
func (c *Coordinator) sanitize(text string) string {
	if text == "" {
		return ""
	}
	return html.UnescapeString(c.sanitizer.Sanitize(text))
}
