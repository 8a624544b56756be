// Package client talks to the ledger service on behalf of one subject.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tabwarden/tabwarden/internal/model"
)

// Client is a thin HTTP client for the subject-scoped ledger API. All calls
// are synchronous; callers wanting fire-and-forget submit them to a queue.
type Client struct {
	baseURL   string
	subjectID string
	token     string
	http      *http.Client
}

// New constructs a Client for subjectID, authenticating with token.
func New(baseURL, subjectID, token string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: baseURL cannot be empty", model.ErrValidation)
	}
	if subjectID == "" {
		return nil, fmt.Errorf("%w: subjectID cannot be empty", model.ErrValidation)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: token cannot be empty", model.ErrValidation)
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		subjectID: subjectID,
		token:     token,
		http:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http.Transport = &apiKeyTransport{base: base, apiKey: token}
	return c, nil
}

// SubjectID returns the subject this client reports for.
func (c *Client) SubjectID() string { return c.subjectID }

// apiKeyTransport adds the bearer credential to every request.
type apiKeyTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(cloned)
}

// ReportUsage adds seconds on domain to today's bucket.
func (c *Client) ReportUsage(ctx context.Context, r model.UsageReport) error {
	return c.do(ctx, "report usage", http.MethodPost, "/usage", r, http.StatusNoContent, nil)
}

// ReportSearch records a search query.
func (c *Client) ReportSearch(ctx context.Context, r model.SearchReport) error {
	return c.do(ctx, "report search", http.MethodPost, "/searches", r, http.StatusNoContent, nil)
}

// ReportIncognito records a private window and returns the stored alert.
func (c *Client) ReportIncognito(ctx context.Context, r model.IncognitoReport) (*model.IncognitoAlert, error) {
	var alert model.IncognitoAlert
	if err := c.do(ctx, "report incognito", http.MethodPost, "/incognito", r, http.StatusCreated, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

// Heartbeat marks the subject online.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, "heartbeat", http.MethodPost, "/heartbeat", nil, http.StatusNoContent, nil)
}

// Activate announces agent startup.
func (c *Client) Activate(ctx context.Context) error {
	return c.do(ctx, "activate", http.MethodPost, "/activate", nil, http.StatusNoContent, nil)
}

// Disconnect announces agent shutdown.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, "disconnect", http.MethodPost, "/disconnect", nil, http.StatusNoContent, nil)
}

// CheckBlocked asks whether rawURL's domain is blocked for the subject.
func (c *Client) CheckBlocked(ctx context.Context, rawURL string) (*model.BlockCheck, error) {
	var out model.BlockCheck
	path := "/blocked?url=" + url.QueryEscape(rawURL)
	if err := c.do(ctx, "check blocked", http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, want int, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	endpoint := fmt.Sprintf("%s/api/subjects/%s%s", c.baseURL, url.PathEscape(c.subjectID), path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return newNetworkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newHTTPError(op, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newNetworkError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
