// Package client talks to the message API of a running daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/p-blackswan/tabcleaner/internal/api"
	"github.com/p-blackswan/tabcleaner/internal/app"
	"github.com/p-blackswan/tabcleaner/internal/classify"
	"github.com/p-blackswan/tabcleaner/internal/cleanup"
	"github.com/p-blackswan/tabcleaner/internal/requestid"
)

// DefaultTimeout bounds one API call.
const DefaultTimeout = 15 * time.Second

// Error is a non-success API response.
type Error struct {
	Status int
	Type   string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Type)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Type, e.Detail)
}

// Client is a message API client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the API at addr. A bare host:port gets an http
// scheme.
func New(addr string, timeout time.Duration) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Tabs returns the classified tab list in the given order.
func (c *Client) Tabs(ctx context.Context, order classify.Ordering) ([]classify.View, error) {
	path := "/api/v1/tabs"
	if order != "" {
		path += "?order=" + url.QueryEscape(string(order))
	}
	var out app.TabsData
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tabs, nil
}

// Closed returns the recovery list, most recent first.
func (c *Client) Closed(ctx context.Context) ([]api.ClosedTabView, error) {
	var out api.ClosedListResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/closed", nil, &out); err != nil {
		return nil, err
	}
	return out.Tabs, nil
}

// Reopen reopens a closed tab by its recovery id.
func (c *Client) Reopen(ctx context.Context, closedID string) (app.ReopenResult, error) {
	var out app.ReopenResult
	err := c.do(ctx, http.MethodPost, "/api/v1/closed/"+url.PathEscape(closedID)+"/reopen", nil, &out)
	return out, resultErr(err, out.Success, out.Error)
}

// Close closes a live tab through the recovery path.
func (c *Client) Close(ctx context.Context, tabID int) (app.CloseResult, error) {
	var out app.CloseResult
	err := c.do(ctx, http.MethodPost, "/api/v1/tabs/"+strconv.Itoa(tabID)+"/close", nil, &out)
	return out, resultErr(err, out.Success, out.Error)
}

// SetPaused sets the pause flag and returns the new value.
func (c *Client) SetPaused(ctx context.Context, paused bool) (bool, error) {
	var out api.PauseResponse
	if err := c.do(ctx, http.MethodPut, "/api/v1/pause", api.PauseRequest{Paused: &paused}, &out); err != nil {
		return false, err
	}
	return out.Paused, nil
}

// Stats returns the usage statistics.
func (c *Client) Stats(ctx context.Context) (app.Statistics, error) {
	var out app.Statistics
	err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out)
	return out, err
}

// ResetStats zeroes the statistics.
func (c *Client) ResetStats(ctx context.Context) (app.Statistics, error) {
	var out app.Statistics
	err := c.do(ctx, http.MethodDelete, "/api/v1/stats", nil, &out)
	return out, err
}

// Sweep runs a cleanup sweep now.
func (c *Client) Sweep(ctx context.Context) (cleanup.SweepReport, error) {
	var out cleanup.SweepReport
	err := c.do(ctx, http.MethodPost, "/api/v1/sweep", nil, &out)
	return out, err
}

// Ping checks that the daemon is responsive.
func (c *Client) Ping(ctx context.Context) (app.Pong, error) {
	var out app.Pong
	err := c.do(ctx, http.MethodGet, "/api/v1/ping", nil, &out)
	return out, err
}

// resultErr prefers the error carried in a success/error result body.
func resultErr(err error, success bool, msg string) error {
	if err != nil {
		if apiErr, ok := err.(*Error); ok && msg != "" {
			apiErr.Detail = msg
		}
		return err
	}
	if !success {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestid.Header, requestid.FromContext(ctx))

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode, Type: "http_error"}
		var problem api.ProblemDetail
		if json.Unmarshal(raw, &problem) == nil && problem.Type != "" {
			apiErr.Type = problem.Type
			apiErr.Detail = problem.Detail
		}
		// Result-shaped bodies still carry the outcome.
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
