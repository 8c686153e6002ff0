// Package todoist wraps the Todoist REST v2 endpoints the service needs:
// fetching a task, updating its description, posting comments, and listing
// labels. Calls are bearer-authenticated and bounded by the client timeout;
// failures surface as ErrUnavailable and are never retried here.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable marks transport failures and non-2xx provider responses.
var ErrUnavailable = errors.New("todoist unavailable")

// DefaultTimeout bounds each provider call.
const DefaultTimeout = 15 * time.Second

// Task is the subset of a Todoist task the service reads.
type Task struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Description string `json:"description"`
}

// Label is a Todoist label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client is a Todoist REST v2 client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for baseURL authenticated with token.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetTask fetches an active task. Completed tasks may 404, which is reported
// as ErrUnavailable like any other non-2xx response.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil, &task); err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return &task, nil
}

// UpdateDescription replaces the description of an active task.
func (c *Client) UpdateDescription(ctx context.Context, taskID, description string) error {
	body := map[string]string{"description": description}
	if err := c.do(ctx, http.MethodPost, "/tasks/"+taskID, body, nil); err != nil {
		return fmt.Errorf("update description of task %s: %w", taskID, err)
	}
	return nil
}

// PostComment adds a comment to a task.
func (c *Client) PostComment(ctx context.Context, taskID, content string) error {
	body := map[string]string{"task_id": taskID, "content": content}
	if err := c.do(ctx, http.MethodPost, "/comments", body, nil); err != nil {
		return fmt.Errorf("post comment on task %s: %w", taskID, err)
	}
	return nil
}

// ListLabels returns all labels of the authenticated user.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := c.do(ctx, http.MethodGet, "/labels", nil, &labels); err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	return labels, nil
}

// do performs one authenticated request. A non-nil out is decoded from the
// response body.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount for the error message.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, bytes.TrimSpace(detail))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
