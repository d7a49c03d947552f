package models

import "time"

// Feed is a registered RSS/Atom endpoint.
type Feed struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
	// LastBuildDate is the channel-level timestamp reported by the feed,
	// nil when the feed never carried one.
	LastBuildDate *time.Time `json:"last_build_date,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CandidateEntry is one feed item before persistence. It is never stored
// directly; the ingestion coordinator decides whether it becomes a
// ContentRecord.
type CandidateEntry struct {
	Link        string
	Title       string
	Description string
	Author      string
	// Published is the parsed publication time; zero when the feed carried
	// no date or one we could not parse.
	Published time.Time
	// PublishedRaw preserves the feed's original date string so unparsable
	// dates are not lost.
	PublishedRaw string
	Categories   []string
}

// FetchResult is the outcome of retrieving and parsing one feed document.
type FetchResult struct {
	// RequestedURL is the URL the fetch was issued against.
	RequestedURL string
	// FinalURL is the URL after following redirects. Differs from
	// RequestedURL when the feed has moved.
	FinalURL      string
	Title         string
	Description   string
	LastBuildDate *time.Time
	Entries       []CandidateEntry
}

// Redirected reports whether the feed answered from a different URL than the
// one requested.
func (r *FetchResult) Redirected() bool {
	return r.FinalURL != "" && r.FinalURL != r.RequestedURL
}
