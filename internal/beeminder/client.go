// Package beeminder posts datapoints to the Beeminder API. Datapoints carry
// a caller-supplied requestid so provider retries and webhook redeliveries
// cannot double-count.
package beeminder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrDisabled is returned when Beeminder credentials are not configured.
var ErrDisabled = errors.New("beeminder not configured")

// ErrUnavailable marks transport failures and non-2xx provider responses.
var ErrUnavailable = errors.New("beeminder unavailable")

// Client posts datapoints for a single Beeminder user.
type Client struct {
	baseURL   string
	username  string
	authToken string
	http      *http.Client
}

// New creates a Client. Empty credentials produce a disabled client whose
// calls return ErrDisabled.
func New(baseURL, username, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		username:  username,
		authToken: authToken,
		http:      &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.username != "" && c.authToken != ""
}

// Datapoint is one value to record against a goal.
type Datapoint struct {
	Goal    string
	Value   float64
	Comment string
	// Timestamp is the unix time of the datapoint; nil uses Beeminder's
	// server time.
	Timestamp *int64
	// RequestID makes the create idempotent on the Beeminder side.
	RequestID string
}

// CreateDatapoint records dp against its goal.
func (c *Client) CreateDatapoint(ctx context.Context, dp Datapoint) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	if dp.Goal == "" {
		return fmt.Errorf("goal is empty")
	}

	form := url.Values{}
	form.Set("auth_token", c.authToken)
	form.Set("value", strconv.FormatFloat(dp.Value, 'f', -1, 64))
	form.Set("comment", dp.Comment)
	if dp.Timestamp != nil {
		form.Set("timestamp", strconv.FormatInt(*dp.Timestamp, 10))
	}
	if dp.RequestID != "" {
		form.Set("requestid", dp.RequestID)
	}

	endpoint := fmt.Sprintf("%s/users/%s/goals/%s/datapoints.json", c.baseURL, c.username, dp.Goal)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
