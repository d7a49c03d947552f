package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfletcher/intelforge/internal/database"
	"github.com/rfletcher/intelforge/internal/models"
	"github.com/rfletcher/intelforge/internal/testutil"
)

type fakeFeedService struct {
	feeds   map[string]models.Feed
	deleted []string
}

func (s *fakeFeedService) List(ctx context.Context) ([]models.Feed, error) {
	var out []models.Feed
	for _, f := range s.feeds {
		out = append(out, f)
	}
	return out, nil
}

func (s *fakeFeedService) GetByID(ctx context.Context, id string) (models.Feed, error) {
	f, ok := s.feeds[id]
	if !ok {
		return models.Feed{}, database.ErrNotFound
	}
	return f, nil
}

func (s *fakeFeedService) Create(ctx context.Context, feed models.Feed) (models.Feed, error) {
	for _, f := range s.feeds {
		if f.URL == feed.URL {
			return models.Feed{}, database.ErrDuplicate
		}
	}
	feed.ID = "new-id"
	if s.feeds == nil {
		s.feeds = make(map[string]models.Feed)
	}
	s.feeds[feed.ID] = feed
	return feed, nil
}

func (s *fakeFeedService) Delete(ctx context.Context, id string) error {
	if _, ok := s.feeds[id]; !ok {
		return database.ErrNotFound
	}
	delete(s.feeds, id)
	s.deleted = append(s.deleted, id)
	return nil
}

type fakeRecordService struct {
	records    map[string]models.ContentRecord
	lastParams models.FilterParams
	dedupCount int
}

func (s *fakeRecordService) Search(ctx context.Context, params models.FilterParams) ([]models.ContentRecord, int, error) {
	s.lastParams = params
	var out []models.ContentRecord
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, len(out), nil
}

func (s *fakeRecordService) GetByID(ctx context.Context, id string) (models.ContentRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return models.ContentRecord{}, database.ErrNotFound
	}
	return r, nil
}

func (s *fakeRecordService) DeduplicateSweep(ctx context.Context) (int, error) {
	return s.dedupCount, nil
}

func (s *fakeRecordService) CountByFeed(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	for _, r := range s.records {
		counts[r.FeedID]++
	}
	return counts, nil
}

func (s *fakeRecordService) CountPendingSummaries(ctx context.Context) (int, error) {
	n := 0
	for _, r := range s.records {
		if !r.HasSummary() {
			n++
		}
	}
	return n, nil
}

type fakeTagService struct {
	byRecord map[string][]models.EntityTag
}

func (s *fakeTagService) ListForRecord(ctx context.Context, recordID string) ([]models.EntityTag, error) {
	return s.byRecord[recordID], nil
}

type fakeIngestor struct {
	feedReports map[string]models.IngestReport
}

func (s *fakeIngestor) IngestAll(ctx context.Context) (models.SweepReport, error) {
	return models.SweepReport{Feeds: 2, New: 5, Skipped: 3}, nil
}

func (s *fakeIngestor) IngestFeed(ctx context.Context, feedID string) (models.IngestReport, error) {
	r, ok := s.feedReports[feedID]
	if !ok {
		return models.IngestReport{}, database.ErrNotFound
	}
	return r, nil
}

type fakeSummaryService struct {
	lastForce bool
}

func (s *fakeSummaryService) Summarize(ctx context.Context, recordID string, force bool) (string, error) {
	s.lastForce = force
	return "generated summary", nil
}

type fakeTaggerService struct {
	tagged []string
}

func (s *fakeTaggerService) TagRecord(ctx context.Context, rec models.ContentRecord) (int, error) {
	s.tagged = append(s.tagged, rec.ID)
	return 2, nil
}

type testEnv struct {
	feeds      *fakeFeedService
	records    *fakeRecordService
	tags       *fakeTagService
	ingestor   *fakeIngestor
	summarizer *fakeSummaryService
	tagger     *fakeTaggerService
	handler    http.Handler
}

func newTestEnv() *testEnv {
	env := &testEnv{
		feeds: &fakeFeedService{feeds: map[string]models.Feed{
			"f1": {ID: "f1", URL: "https://example.com/feed", Title: "Example"},
		}},
		records: &fakeRecordService{records: map[string]models.ContentRecord{
			"r1": {ID: "r1", FeedID: "f1", Title: "Article", URL: "https://example.com/a", Summary: "APT28 did things."},
			"r2": {ID: "r2", FeedID: "f1", Title: "No summary yet", URL: "https://example.com/b"},
		}},
		tags: &fakeTagService{byRecord: map[string][]models.EntityTag{
			"r1": {{ID: "t1", RecordID: "r1", EntityType: models.EntityActor, EntityID: "g-1", EntityName: "APT28", StartChar: 0, EndChar: 5}},
		}},
		ingestor: &fakeIngestor{feedReports: map[string]models.IngestReport{
			"f1": {FeedID: "f1", New: 4, Skipped: 1},
		}},
		summarizer: &fakeSummaryService{},
		tagger:     &fakeTaggerService{},
	}
	srv := New(env.feeds, env.records, env.tags, env.ingestor, env.summarizer, env.tagger, nil, testutil.NullLogger())
	env.handler = srv.Handler()
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListFeeds(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/feeds", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
}

func TestCreateFeed(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/feeds", map[string]string{
		"url":      "https://krebsonsecurity.com/feed/",
		"title":    "Krebs",
		"category": "news",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "new-id", decode(t, rec)["id"])
}

func TestCreateFeed_Validation(t *testing.T) {
	env := newTestEnv()

	rec := env.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode(t, rec)["code"])

	rec = env.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": "ftp://example.com/feed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateFeed_Duplicate(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": "https://example.com/feed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDeleteFeed(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodDelete, "/api/feeds/f1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"f1"}, env.feeds.deleted)

	rec = env.do(t, http.MethodDelete, "/api/feeds/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["code"])
}

func TestIngestFeed(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/feeds/f1/ingest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(4), body["new"])
	assert.Equal(t, float64(1), body["skipped"])
}

func TestIngestAll(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/ingest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(5), decode(t, rec)["new"])
}

func TestListRecords_PassesFilters(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/records?q=apt&feed_id=f1&category=news&limit=10&offset=20", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "apt", env.records.lastParams.Query)
	assert.Equal(t, "f1", env.records.lastParams.FeedID)
	assert.Equal(t, "news", env.records.lastParams.Category)
	assert.Equal(t, 10, env.records.lastParams.Limit)
	assert.Equal(t, 20, env.records.lastParams.Offset)
}

func TestGetRecord_WithTags(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/records/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	tags := body["tags"].([]interface{})
	require.Len(t, tags, 1)

	rec = env.do(t, http.MethodGet, "/api/records/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSummarizeRecord(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/records/r1/summarize", map[string]bool{"force": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "generated summary", decode(t, rec)["summary"])
	assert.True(t, env.summarizer.lastForce)

	// Empty body defaults to force=false.
	rec = env.do(t, http.MethodPost, "/api/records/r1/summarize", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.summarizer.lastForce)
}

func TestSummarizeRecord_NoBackend(t *testing.T) {
	env := newTestEnv()
	srv := New(env.feeds, env.records, env.tags, env.ingestor, nil, env.tagger, nil, testutil.NullLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/records/r1/summarize", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decode(t, rec)["code"])
}

func TestTagRecord(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/records/r1/tags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["new_tags"])
	assert.Equal(t, []string{"r1"}, env.tagger.tagged)
}

func TestTagRecord_NoText(t *testing.T) {
	// r2 has neither description nor summary, so there is nothing to scan.
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/records/r2/tags", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, env.tagger.tagged)
}

func TestDedup(t *testing.T) {
	env := newTestEnv()
	env.records.dedupCount = 7
	rec := env.do(t, http.MethodPost, "/api/maintenance/dedup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["deleted"])
}

func TestRefdataRefresh_NotConfigured(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodPost, "/api/refdata/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, float64(2), body["total_records"])
	assert.Equal(t, float64(1), body["pending_summaries"])
}

func TestHealth(t *testing.T) {
	env := newTestEnv()
	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv()
	req := httptest.NewRequest(http.MethodOptions, "/api/feeds", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
