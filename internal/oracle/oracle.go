// Package oracle is the client for the external submission review
// service. The oracle returns a short free-text quality annotation; it is
// consumed, never implemented, here. Callers must treat failures as
// non-fatal and fall back to models.FallbackReview.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Reviewer produces a quality annotation for a task submission.
type Reviewer interface {
	Review(ctx context.Context, title, description, content string) (string, error)
}

// Client calls an HTTP review oracle.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the oracle at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

var _ Reviewer = (*Client)(nil)

type reviewRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type reviewResponse struct {
	Annotation string `json:"annotation"`
}

// Review posts the submission to the oracle and returns its annotation.
func (c *Client) Review(ctx context.Context, title, description, content string) (string, error) {
	body, err := json.Marshal(reviewRequest{Title: title, Description: description, Content: content})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/review", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call review oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("review oracle returned status %d", resp.StatusCode)
	}
	var out reviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oracle response: %w", err)
	}
	if out.Annotation == "" {
		return "", fmt.Errorf("oracle returned empty annotation")
	}
	return out.Annotation, nil
}
