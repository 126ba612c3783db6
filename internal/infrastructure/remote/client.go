// Package remote holds the HTTP clients for the extraction and export
// collaborators and for the intake API itself.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/infrastructure/resilience"
)

type Options struct {
	Timeout  time.Duration
	Token    string
	Executor *resilience.Executor
}

// Client is a JSON-over-HTTP client for one collaborator.
type Client struct {
	service    string
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewClient(service, baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		executor:   opts.Executor,
	}
}

// call runs one request through the resilience executor and marks
// retryable failures as temporary.
func (c *Client) call(ctx context.Context, method, path string, payload any, out any, operation string) error {
	op := c.service + "." + operation
	send := func(callCtx context.Context) error {
		return c.sendJSON(callCtx, method, path, payload, out, operation)
	}
	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, op, send, resilience.ClassifyHTTP)
	} else {
		err = send(ctx)
	}
	return resilience.WrapTemporary(op, err, resilience.ClassifyHTTP)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s request: %w", c.service, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &resilience.HTTPStatusError{
			Service:    c.service,
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}
