/**
 * @description
 * This package provides a client for the analysis-file bucket. It speaks the Google
 * Cloud Storage JSON API: listing objects under a prefix and downloading object media.
 * Analysis pipelines write one JSON file per ticker per day, named
 * `{prefix}{TICKER}_{YYYY-MM-DD}.json`; the client can pick the latest by that date.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, net/url, regexp, time: Standard Go libraries.
 */
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultBaseURL is the public GCS JSON API endpoint.
const DefaultBaseURL = "https://storage.googleapis.com"

// ErrObjectNotFound is returned when no object matches.
var ErrObjectNotFound = errors.New("object not found")

// Client reads objects from one bucket.
type Client struct {
	BaseURL     string
	Bucket      string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient creates a new bucket client. An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL, bucket, accessToken string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		Bucket:      bucket,
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type listResponse struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// ErrorResponse is the GCS JSON API error body.
type ErrorResponse struct {
	StatusCode int `json:"-"`
	Err        struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.Err.Message != "" {
		return fmt.Sprintf("object store error (status %d): %s", e.StatusCode, e.Err.Message)
	}
	return fmt.Sprintf("object store error (status %d)", e.StatusCode)
}

func (c *Client) do(ctx context.Context, op, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrObjectNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, errResp); err != nil {
			log.Printf("level=warn component=objectstore_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
		} else {
			log.Printf("level=warn component=objectstore_client op=%s status=%d detail=%q", op, resp.StatusCode, errResp.Err.Message)
		}
		return nil, errResp
	}
	return body, nil
}

// List returns the names of every object under prefix, following pagination.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("prefix", prefix)
		q.Set("fields", "items(name),nextPageToken")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}
		endpoint := fmt.Sprintf("%s/storage/v1/b/%s/o?%s", c.BaseURL, url.PathEscape(c.Bucket), q.Encode())

		body, err := c.do(ctx, "list", endpoint)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return nil, fmt.Errorf("bucket %s: %w", c.Bucket, err)
			}
			return nil, err
		}

		var page listResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("failed to decode list response: %w", err)
		}
		for _, item := range page.Items {
			names = append(names, item.Name)
		}
		if page.NextPageToken == "" {
			return names, nil
		}
		pageToken = page.NextPageToken
	}
}

// Get downloads the object named name.
func (c *Client) Get(ctx context.Context, name string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/storage/v1/b/%s/o/%s?alt=media", c.BaseURL, url.PathEscape(c.Bucket), url.PathEscape(name))
	return c.do(ctx, "get", endpoint)
}

// GetJSON downloads name and decodes it, tolerating a Markdown code fence around the body.
func (c *Client) GetJSON(ctx context.Context, name string) (any, error) {
	body, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal([]byte(StripCodeFence(string(body))), &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return out, nil
}

var (
	fenceOpen  = regexp.MustCompile("^```[a-zA-Z]*\\s*\n")
	fenceClose = regexp.MustCompile("\n?```\\s*$")
	datePart   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`)
)

// StripCodeFence removes a leading ```lang line and a trailing ``` line if present.
func StripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = fenceOpen.ReplaceAllString(trimmed, "")
	trimmed = fenceClose.ReplaceAllString(trimmed, "")
	return strings.TrimSpace(trimmed)
}

// LatestDated picks the object whose name carries the most recent YYYY-MM-DD date.
// Only names containing contains (when set) and ending in ext are considered.
func LatestDated(names []string, contains, ext string) (string, bool) {
	var (
		latest     time.Time
		latestName string
	)
	for _, name := range names {
		if contains != "" && !strings.Contains(name, contains) {
			continue
		}
		if ext != "" && !strings.HasSuffix(name, ext) {
			continue
		}
		match := datePart.FindString(name)
		if match == "" {
			continue
		}
		day, err := time.Parse("2006-01-02", match)
		if err != nil {
			continue
		}
		if latestName == "" || day.After(latest) {
			latest = day
			latestName = name
		}
	}
	return latestName, latestName != ""
}

// FindLatest lists prefix and returns the newest dated object for contains.
func (c *Client) FindLatest(ctx context.Context, prefix, contains, ext string) (string, error) {
	names, err := c.List(ctx, prefix)
	if err != nil {
		return "", err
	}
	name, ok := LatestDated(names, contains, ext)
	if !ok {
		return "", ErrObjectNotFound
	}
	return name, nil
}
