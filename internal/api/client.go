package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/frontier"
)

// Client speaks the frontier HTTP protocol. It lets remote workers use the
// same loop as in-process ones.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a Client for baseURL (e.g. "http://frontier:8080").
func NewClient(baseURL, apiKey string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid frontier url %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}, nil
}

// Submit posts a URL to /v1/urls.
func (c *Client) Submit(ctx context.Context, rawURL string, priority int) (crawler.URLEntry, error) {
	resp, err := c.post(ctx, "/v1/urls", submitRequest{URL: rawURL, Priority: priority})
	if err != nil {
		return crawler.URLEntry{}, err
	}
	defer resp.Body.Close()

	var body submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return crawler.URLEntry{}, fmt.Errorf("decode submit response: %w", err)
	}
	entry := crawler.URLEntry{ID: body.URLID, URL: body.URL, Domain: body.Domain, Priority: priority}
	switch resp.StatusCode {
	case http.StatusAccepted:
		return entry, nil
	case http.StatusConflict:
		return entry, crawler.ErrDuplicate
	case http.StatusUnprocessableEntity:
		if body.Reason == crawler.ReasonRobotsDisallowed {
			return entry, crawler.ErrRobotsDisallowed
		}
		return entry, crawler.ErrInvalidEntry
	default:
		return entry, unexpected(resp)
	}
}

// RequestWork posts to /v1/work.
func (c *Client) RequestWork(ctx context.Context, workerID string) (frontier.Work, error) {
	resp, err := c.post(ctx, "/v1/work", workRequest{WorkerID: workerID})
	if err != nil {
		return frontier.Work{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		ms, _ := strconv.ParseInt(resp.Header.Get(RetryAfterHeader), 10, 64)
		return frontier.Work{RetryAfter: time.Duration(ms) * time.Millisecond}, nil
	case http.StatusOK:
		var body workResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return frontier.Work{}, fmt.Errorf("decode work response: %w", err)
		}
		return frontier.Work{
			Found: true,
			Assignment: crawler.Assignment{
				Entry: crawler.URLEntry{
					ID:       body.URLID,
					URL:      body.URL,
					Domain:   body.Domain,
					Attempts: body.Attempts,
					Priority: body.Priority,
					State:    crawler.StateInFlight,
				},
				Method:    body.Method,
				LeaseID:   body.LeaseID,
				WorkerID:  workerID,
				ExpiresAt: body.LeaseExpiresAt,
			},
		}, nil
	default:
		return frontier.Work{}, unexpected(resp)
	}
}

// ReportResult posts an outcome to /v1/results/{url_id}.
func (c *Client) ReportResult(ctx context.Context, urlID string, outcome crawler.FetchOutcome) error {
	resp, err := c.post(ctx, "/v1/results/"+url.PathEscape(urlID), toPayload(outcome))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return unexpected(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrFrontierUnavailable, path, err)
	}
	return resp, nil
}

func unexpected(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", crawler.ErrFrontierUnavailable, strings.TrimSpace(string(msg)))
	}
	return fmt.Errorf("frontier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}
