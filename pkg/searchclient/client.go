/**
 * @description
 * This package provides a client for the Google Custom Search JSON API used by the
 * web_search tool.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, time: Standard Go libraries.
 */
package searchclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://www.googleapis.com/customsearch/v1"
	// MaxResults is the provider's per-request cap.
	MaxResults = 10
)

// ErrNotConfigured is returned when the API key or engine id is missing.
var ErrNotConfigured = errors.New("web search is not configured")

// Client is a client for the search provider.
type Client struct {
	BaseURL    string
	APIKey     string
	EngineID   string
	HTTPClient *http.Client
}

// NewClient creates a new search client.
func NewClient(baseURL, apiKey, engineID string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		EngineID: engineID,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Source  string `json:"source"`
	Snippet string `json:"snippet"`
}

type searchResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		DisplayLink string `json:"displayLink"`
		Snippet     string `json:"snippet"`
	} `json:"items"`
}

// ErrorResponse represents an error from the search API.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("search api error (status %d): %s", e.StatusCode, e.Err.Message)
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.APIKey != "" && c.EngineID != ""
}

// Search runs query and returns up to num results.
func (c *Client) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if num < 1 {
		num = 1
	}
	if num > MaxResults {
		num = MaxResults
	}

	q := url.Values{}
	q.Set("key", c.APIKey)
	q.Set("cx", c.EngineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(num))

	sep := "?"
	if strings.Contains(c.BaseURL, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+sep+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, errResp); err != nil {
			log.Printf("level=warn component=search_client op=search status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
		} else {
			log.Printf("level=warn component=search_client op=search status=%d detail=%q", resp.StatusCode, errResp.Err.Message)
		}
		return nil, errResp
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		results = append(results, Result{
			Title:   item.Title,
			Link:    item.Link,
			Source:  item.DisplayLink,
			Snippet: item.Snippet,
		})
	}
	return results, nil
}
