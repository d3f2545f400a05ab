// Package httpapi is the small REST client every graph-style adapter shares: it sends form,
// query or JSON requests, insists on a 2xx status and decodes the JSON reply.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/blacktop/xpublish/internal/logutil"
	"github.com/blacktop/xpublish/internal/publish"
)

const maxResponseSize = 4 << 20

// Client issues provider API calls and converts failures into publish errors.
type Client struct {
	http     *http.Client
	provider string
	account  string
}

// New returns a client for provider that sends requests through hc.
func New(provider string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, provider: provider}
}

// ForAccount returns a copy of c that tags its diagnostics with the account id.
func (c *Client) ForAccount(id string) *Client {
	cp := *c
	cp.account = id
	return &cp
}

// HTTP exposes the underlying HTTP client.
func (c *Client) HTTP() *http.Client { return c.http }

// Get sends a GET with query parameters and decodes the JSON reply into out.
func (c *Client) Get(ctx context.Context, step, endpoint string, query url.Values, out any) error {
	u, err := withQuery(endpoint, query)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", step, err)
	}
	_, err = c.Do(req, step, out)
	return err
}

// PostForm sends an application/x-www-form-urlencoded POST and decodes the JSON reply into out.
func (c *Client) PostForm(ctx context.Context, step, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = c.Do(req, step, out)
	return err
}

// PostJSON sends body as JSON with the extra headers and decodes the JSON reply into out.
// The response headers are returned for protocols that hand off through them.
func (c *Client) PostJSON(ctx context.Context, step, endpoint string, header http.Header, body, out any) (http.Header, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: encode body: %w", step, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", step, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	return c.Do(req, step, out)
}

// Do sends req and requires a 2xx status. A non-empty body is decoded into out when out is non-nil.
func (c *Client) Do(req *http.Request, step string, out any) (http.Header, error) {
	logutil.Debugf("%s %s: %s %s", c.provider, step, req.Method, redact(req.URL))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.provider, step, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", c.provider, step, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logutil.Error("api request failed",
			"provider", c.provider,
			"account", c.account,
			"step", step,
			"status", resp.StatusCode,
			"body", string(body),
		)
		return resp.Header, &publish.StatusError{
			Provider:   c.provider,
			Step:       step,
			StatusCode: resp.StatusCode,
			Body:       ErrorMessage(body),
		}
	}

	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return resp.Header, fmt.Errorf("%s %s: decode response: %w", c.provider, step, err)
		}
	}
	return resp.Header, nil
}

// ErrorMessage extracts the human readable part of a provider error body. Graph-style
// APIs nest it under error.message; anything else is returned as-is.
func ErrorMessage(body []byte) string {
	var graph struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &graph); err == nil {
		switch {
		case graph.Error.Message != "" && graph.Error.Code != 0:
			return fmt.Sprintf("%s (code %d)", graph.Error.Message, graph.Error.Code)
		case graph.Error.Message != "":
			return graph.Error.Message
		case graph.Description != "":
			return graph.Description
		}
	}
	return string(body)
}

func withQuery(endpoint string, query url.Values) (string, error) {
	if len(query) == 0 {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// redact hides access tokens that graph-style APIs carry in the query string.
func redact(u *url.URL) string {
	q := u.Query()
	if q.Get("access_token") == "" {
		return u.Redacted()
	}
	q.Set("access_token", "REDACTED")
	cp := *u
	cp.RawQuery = q.Encode()
	return cp.Redacted()
}
