package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rfletcher/intelforge/internal/cache"
	"github.com/rfletcher/intelforge/internal/ratelimit"
	"github.com/rfletcher/intelforge/internal/retry"
	"github.com/rfletcher/intelforge/internal/testutil"
)

func readerBody(text string) string {
	return fmt.Sprintf(`{"code":200,"status":20000,"data":{"text":%q}}`, text)
}

func newTestClient(endpoint string, c cache.Cache) *Client {
	client := New(Config{Endpoint: endpoint, APIKey: "test-key", Timeout: 5 * time.Second},
		ratelimit.NewBudget(0, time.Minute), c, testutil.NullLogger())
	client.policy = retry.Policy{Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}
	return client
}

func newArticleServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>article</html>"))
	}))
}

func TestExtract_Success(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var gotAuth, gotAccept, gotFormat, gotPath string
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotFormat = r.Header.Get("X-Return-Format")
		gotPath = r.URL.String()
		w.Write([]byte(readerBody("Extracted article text.")))
	}))
	defer reader.Close()

	text, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "Extracted article text." {
		t.Errorf("text = %q", text)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotFormat != "text" {
		t.Errorf("X-Return-Format = %q", gotFormat)
	}
	if !strings.Contains(gotPath, strings.TrimPrefix(article.URL, "http://")) {
		t.Errorf("reader path %q should contain the article URL", gotPath)
	}
}

func TestExtract_ResolvesArticleRedirect(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, article.URL+"/real", http.StatusFound)
	}))
	defer redirector.Close()

	var gotPath string
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.String()
		w.Write([]byte(readerBody("text")))
	}))
	defer reader.Close()

	if _, err := newTestClient(reader.URL, nil).Extract(context.Background(), redirector.URL); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(gotPath, "/real") {
		t.Errorf("reader was asked for %q, want the post-redirect URL", gotPath)
	}
}

func TestExtract_UsesCache(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(readerBody("cached text")))
	}))
	defer reader.Close()

	mem := cache.NewMemory(time.Minute, 10)
	defer mem.Stop()

	c := newTestClient(reader.URL, mem)
	for i := 0; i < 3; i++ {
		text, err := c.Extract(context.Background(), article.URL)
		if err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		if text != "cached text" {
			t.Errorf("text = %q", text)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("reader called %d times, want 1", n)
	}
}

func TestExtract_PermanentFailureYieldsEmpty(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer reader.Close()

	text, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v, unextractable pages should not error", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("reader called %d times, 4xx should not be retried", n)
	}
}

func TestExtract_CancelledBudgetWaitNotCached(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(readerBody("never fetched")))
	}))
	defer reader.Close()

	mem := cache.NewMemory(time.Minute, 10)
	defer mem.Stop()

	// Drain the only slot so the next Acquire blocks until the context
	// gives up.
	budget := ratelimit.NewBudget(1, time.Hour)
	if err := budget.Acquire(context.Background()); err != nil {
		t.Fatalf("drain budget: %v", err)
	}

	c := New(Config{Endpoint: reader.URL, APIKey: "test-key", Timeout: 5 * time.Second},
		budget, mem, testutil.NullLogger())
	c.policy = retry.Policy{Attempts: 3, Base: time.Millisecond, Max: 5 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.Extract(ctx, article.URL); err == nil {
		t.Fatal("Extract() should fail when cancelled while waiting for budget")
	}

	// An aborted attempt must not be recorded as an unextractable page.
	if cached, ok := mem.Get(article.URL); ok {
		t.Errorf("cache holds %q after cancellation, want no entry", cached)
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("reader called %d times, want 0", n)
	}
}

func TestExtract_RetriesServerErrors(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(readerBody("recovered")))
	}))
	defer reader.Close()

	text, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("reader called %d times, want 3", n)
	}
}

func TestExtract_RetriesRateLimited(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(readerBody("after backoff")))
	}))
	defer reader.Close()

	text, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "after backoff" {
		t.Errorf("text = %q", text)
	}
}

func TestExtract_ExhaustedRetriesError(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer reader.Close()

	if _, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL); err == nil {
		t.Error("Extract() should error after exhausting retries on bad responses")
	}
}

func TestExtract_UpstreamCodeRetried(t *testing.T) {
	article := newArticleServer()
	defer article.Close()

	var calls int32
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"code":451,"status":45102,"data":{"text":""}}`))
			return
		}
		w.Write([]byte(readerBody("second try")))
	}))
	defer reader.Close()

	text, err := newTestClient(reader.URL, nil).Extract(context.Background(), article.URL)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if text != "second try" {
		t.Errorf("text = %q", text)
	}
}
