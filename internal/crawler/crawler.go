// Package crawler is an HTTP client against an external web-crawl
// service's start/progress contract, grounded on the teacher's
// internal/connectors/github client's manual net/http request
// construction. Requests are paced by a client-side limiter checked
// before each call; no rate-limit response headers are read.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/indexforge/indexforge/internal/observability"
	"github.com/indexforge/indexforge/internal/security/ratelimit"
)

const (
	startPath    = "/crawl"
	progressPath = "/progress/"
)

// CrawlType distinguishes the kind of crawl requested.
type CrawlType string

const (
	CrawlTypeFull        CrawlType = "full"
	CrawlTypeIncremental CrawlType = "incremental"
)

// Status mirrors the crawler service's progress status field.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StartRequest is the POST /crawl request body.
type StartRequest struct {
	StartURL  string    `json:"startUrl"`
	Project   string    `json:"project"`
	Dataset   string    `json:"dataset"`
	CrawlType CrawlType `json:"crawlType"`
	MaxPages  int       `json:"maxPages"`
	Depth     int       `json:"depth"`
	Scope     string    `json:"scope,omitempty"`
}

// StartResponse is the POST /crawl response body.
type StartResponse struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`
}

// Progress is the GET /progress/{id} response body.
type Progress struct {
	Phase               string `json:"phase"`
	Percentage          float64 `json:"percentage"`
	Current             int    `json:"current"`
	Total               int    `json:"total"`
	Status              Status `json:"status"`
	ChunksTotal         int    `json:"chunksTotal"`
	ChunksProcessed     int    `json:"chunksProcessed"`
	SummariesGenerated  int    `json:"summariesGenerated"`
	EmbeddingsGenerated int    `json:"embeddingsGenerated"`
	PhaseDetail         string `json:"phaseDetail,omitempty"`
}

// Done reports whether the session has reached a terminal status.
func (p Progress) Done() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// Page is a single crawled document, fetched separately from progress
// polling via the crawler's page-content endpoint.
type Page struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Client talks to a single crawler service instance.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *ratelimit.RateLimiter
}

// NewClient creates a Client against baseURL, optionally throttled by
// limiter (pass nil to disable outbound rate limiting).
func NewClient(baseURL string, limiter *ratelimit.RateLimiter) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: limiter,
	}
}

// Start issues POST /crawl and returns the crawler-assigned session id.
func (c *Client) Start(ctx context.Context, req StartRequest) (StartResponse, error) {
	if err := c.wait(ctx); err != nil {
		return StartResponse{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return StartResponse{}, fmt.Errorf("crawler: encode start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+startPath, bytes.NewReader(body))
	if err != nil {
		return StartResponse{}, fmt.Errorf("crawler: build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StartResponse{}, observability.Upstream("crawler", fmt.Errorf("start crawl: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		data, _ := io.ReadAll(resp.Body)
		return StartResponse{}, observability.Upstream("crawler", fmt.Errorf("start crawl: status %d: %s", resp.StatusCode, string(data)))
	}

	var out StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StartResponse{}, fmt.Errorf("crawler: decode start response: %w", err)
	}
	return out, nil
}

// Progress issues GET /progress/{sessionID}.
func (c *Client) Progress(ctx context.Context, sessionID string) (Progress, error) {
	if err := c.wait(ctx); err != nil {
		return Progress{}, err
	}

	reqURL := c.baseURL + progressPath + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Progress{}, fmt.Errorf("crawler: build progress request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Progress{}, observability.Upstream("crawler", fmt.Errorf("poll progress %s: %w", sessionID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Progress{}, observability.NotFound("crawl_session", sessionID)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return Progress{}, observability.Upstream("crawler", fmt.Errorf("poll progress %s: status %d: %s", sessionID, resp.StatusCode, string(data)))
	}

	var out Progress
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Progress{}, fmt.Errorf("crawler: decode progress response: %w", err)
	}
	return out, nil
}

// Pages issues GET /pages/{sessionID}, returning crawled document
// bodies for the ingestion pipeline to chunk and embed. The crawler
// service is expected to retain page bodies until the session is
// garbage collected.
func (c *Client) Pages(ctx context.Context, sessionID string) ([]Page, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/pages/" + url.PathEscape(sessionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("crawler: build pages request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, observability.Upstream("crawler", fmt.Errorf("fetch pages %s: %w", sessionID, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, observability.Upstream("crawler", fmt.Errorf("fetch pages %s: status %d: %s", sessionID, resp.StatusCode, string(data)))
	}

	var pages []Page
	if err := json.NewDecoder(resp.Body).Decode(&pages); err != nil {
		return nil, fmt.Errorf("crawler: decode pages response: %w", err)
	}
	return pages, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	limit := c.limiter.LimitConfigFor(ratelimit.CrawlerLimiter)
	result, err := c.limiter.Allow(ctx, ratelimit.CrawlerLimiter, c.baseURL, limit)
	if err != nil {
		return observability.Transient(fmt.Errorf("crawler: rate limit check: %w", err))
	}
	if !result.Allowed {
		select {
		case <-time.After(result.RetryAfter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
