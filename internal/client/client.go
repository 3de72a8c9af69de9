// Package client calls a remote jsbox server. A Client satisfies
// sandbox.Sandbox, so local and remote execution are interchangeable.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/michaelbrown/jsbox/internal/sandbox"
)

// DefaultTimeout bounds a whole round trip to the server.
const DefaultTimeout = 10 * time.Second

// DefaultURL is the endpoint of a server running with default settings.
const DefaultURL = "http://localhost:8081/run_js"

// Client posts programs to a /run_js endpoint.
type Client struct {
	url  string
	http *resty.Client
}

var _ sandbox.Sandbox = (*Client)(nil)

// New creates a client for the full endpoint URL, e.g. DefaultURL.
func New(url string) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url: url,
		http: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.http.SetTimeout(d)
	return c
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.url
}

type errorBody struct {
	Error string `json:"error"`
}

// Run executes req.Code remotely. Transport problems and non-200 responses
// are reported as failed outcomes. Logs reach req.OnLog once the response
// arrives.
func (c *Client) Run(ctx context.Context, req sandbox.Request) *sandbox.Outcome {
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"code": req.Code}).
		Post(c.url)
	if err != nil {
		return c.finish(sandbox.Failed(fmt.Sprintf("JS sandbox unreachable (%s): %v", c.url, err), nil), start)
	}

	body := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		var e errorBody
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return c.finish(sandbox.Failed(e.Error, nil), start)
		}
		return c.finish(sandbox.Failed(fmt.Sprintf("JS sandbox returned %s: %s", resp.Status(), snippet(body)), nil), start)
	}

	var out sandbox.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		return c.finish(sandbox.Failed(fmt.Sprintf("JS sandbox returned invalid JSON: %v", err), nil), start)
	}
	if out.Failed && sandbox.IsTimeoutMessage(out.Error) {
		out.TimedOut = true
	}

	if req.OnLog != nil {
		for _, entry := range out.Logs {
			req.OnLog(entry)
		}
	}
	return c.finish(&out, start)
}

func (c *Client) finish(out *sandbox.Outcome, start time.Time) *sandbox.Outcome {
	out.Duration = time.Since(start)
	return out
}

func snippet(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
