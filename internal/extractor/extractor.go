package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rfletcher/intelforge/internal/cache"
	"github.com/rfletcher/intelforge/internal/logging"
	"github.com/rfletcher/intelforge/internal/ratelimit"
	"github.com/rfletcher/intelforge/internal/retry"
)

// Config holds extraction client settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client extracts readable article text through a reader proxy API.
// Calls share a rolling budget so a burst of new entries cannot blow
// through the upstream quota, and results are cached by source URL.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	budget   *ratelimit.Budget
	cache    cache.Cache
	logger   *logging.Logger
	policy   retry.Policy
}

type readerResponse struct {
	Code   int    `json:"code"`
	Status int    `json:"status"`
	Data   struct {
		Text string `json:"text"`
	} `json:"data"`
}

func New(cfg Config, budget *ratelimit.Budget, c cache.Cache, logger *logging.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		budget:   budget,
		cache:    c,
		logger:   logger,
		policy: retry.Policy{
			Attempts: 5,
			Base:     4 * time.Second,
			Max:      60 * time.Second,
		},
	}
}

// Extract returns the readable text of the article at url. Unextractable
// pages (paywalls, 404s, anything the upstream rejects outright) yield an
// empty string with no error so ingestion can proceed without content.
func (c *Client) Extract(ctx context.Context, url string) (string, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(url); ok {
			if text, ok := cached.(string); ok {
				return text, nil
			}
		}
	}

	// Some feeds link through tracking redirectors. Resolve to the real
	// article URL first so the reader fetches the final page and the
	// upstream cache keys stay stable.
	target, err := c.resolveRedirects(ctx, url)
	if err != nil {
		c.logger.Debug("redirect resolution failed, using original URL",
			logging.WithField("url", url), logging.WithField("error", err.Error()))
		target = url
	}

	var text string
	err = retry.Do(ctx, c.policy, func() error {
		var attemptErr error
		text, attemptErr = c.extractOnce(ctx, target)
		return attemptErr
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation says nothing about the page. Caching "" here
			// would mark the article unextractable for the cache TTL.
			return "", fmt.Errorf("extract %s: %w", target, ctx.Err())
		}
		if retry.IsPermanent(err) {
			c.logger.Warn("content not extractable",
				logging.WithField("url", target), logging.WithField("error", err.Error()))
			if c.cache != nil {
				c.cache.Set(url, "")
			}
			return "", nil
		}
		return "", fmt.Errorf("extract %s: %w", target, err)
	}

	if c.cache != nil {
		c.cache.Set(url, text)
	}
	return text, nil
}

func (c *Client) extractOnce(ctx context.Context, url string) (string, error) {
	// A budget wait only fails when the context goes; that is a caller
	// problem, not a verdict on the page, so it must stay retryable.
	if err := c.budget.Acquire(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+url, nil)
	if err != nil {
		return "", &retry.Permanent{Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "text")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("reader returned status %d", resp.StatusCode)
	default:
		// Remaining 4xx statuses mean the page itself is the problem.
		io.Copy(io.Discard, resp.Body)
		return "", &retry.Permanent{Err: fmt.Errorf("reader returned status %d", resp.StatusCode)}
	}

	var parsed readerResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode reader response: %w", err)
	}
	if parsed.Code != http.StatusOK {
		return "", fmt.Errorf("reader reported code %d status %d", parsed.Code, parsed.Status)
	}

	return strings.TrimSpace(parsed.Data.Text), nil
}

// resolveRedirects follows url to its final destination without reading
// the body.
func (c *Client) resolveRedirects(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.Request != nil && resp.Request.URL != nil {
		return resp.Request.URL.String(), nil
	}
	return url, nil
}
