package models

import "time"

// ContentRecord is one ingested article. Content is required at creation;
// Summary stays empty until the enrichment pipeline fills it in.
type ContentRecord struct {
	ID          string    `json:"id"`
	FeedID      string    `json:"feed_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Summary     string    `json:"summary,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	PubDate     time.Time `json:"pub_date,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
	// TaggedAt is set once the entity tagger has processed the record.
	TaggedAt *time.Time `json:"tagged_at,omitempty"`
}

// HasSummary reports whether the enrichment pipeline already summarized the
// record.
func (r *ContentRecord) HasSummary() bool {
	return r.Summary != ""
}

// TagText returns the text the entity tagger scans: the feed description
// followed by the summary when one exists. Stored tag offsets index this
// exact string, so a summary arriving later invalidates earlier tags.
func (r *ContentRecord) TagText() string {
	switch {
	case r.Description != "" && r.Summary != "":
		return r.Description + "\n\n" + r.Summary
	case r.Summary != "":
		return r.Summary
	default:
		return r.Description
	}
}

// FilterParams narrows record listings.
type FilterParams struct {
	Query    string
	FeedID   string
	Category string
	Limit    int
	Offset   int
}

// IngestReport aggregates the outcome of one feed ingestion run.
type IngestReport struct {
	FeedID  string `json:"feed_id"`
	FeedURL string `json:"feed_url"`
	New     int    `json:"new"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// SweepReport aggregates one pass across all feeds.
type SweepReport struct {
	Feeds   int `json:"feeds"`
	New     int `json:"new"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
	// FeedErrors maps feed IDs that could not be ingested at all to the
	// failure message.
	FeedErrors map[string]string `json:"feed_errors,omitempty"`
}

// Add folds a single feed report into the sweep totals.
func (s *SweepReport) Add(r IngestReport) {
	s.Feeds++
	s.New += r.New
	s.Skipped += r.Skipped
	s.Failed += r.Failed
}
