package faceworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnavailable is returned when the worker responds with a non-success
// status. The response body is logged, never shown to the user.
var ErrUnavailable = errors.New("face worker unavailable")

// Client calls the external face-processing worker over HTTP. One request
// carries the stored input reference and the active target mode; a success
// response is a JSON array of output image references in worker order.
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a worker client with a bounded call timeout
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Process submits one input image and returns the worker's output
// references. Timeouts and transport errors come back wrapped so callers
// can distinguish them with errors.Is.
func (c *Client) Process(ctx context.Context, inputRef, mode string) ([]string, error) {
	form := url.Values{}
	form.Set("input_ref", inputRef)
	form.Set("mode", mode)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var outputs []string
	if err := json.Unmarshal(body, &outputs); err != nil {
		return nil, fmt.Errorf("failed to decode worker response: %w", err)
	}

	return outputs, nil
}
