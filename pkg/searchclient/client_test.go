package searchclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_MapsItemsAndCapsNum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "k", q.Get("key"))
		assert.Equal(t, "cx", q.Get("cx"))
		assert.Equal(t, "nvda earnings", q.Get("q"))
		assert.Equal(t, "10", q.Get("num"))
		w.Write([]byte(`{"items":[{"title":"NVDA beats","link":"https://example.com/a","displayLink":"example.com","snippet":"Revenue up"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "cx")
	results, err := client.Search(context.Background(), "nvda earnings", 25)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Result{Title: "NVDA beats", Link: "https://example.com/a", Source: "example.com", Snippet: "Revenue up"}, results[0])
}

func TestSearch_NotConfigured(t *testing.T) {
	_, err := NewClient("", "", "").Search(context.Background(), "q", 5)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestSearch_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k", "cx").Search(context.Background(), "q", 5)
	var errResp *ErrorResponse
	require.True(t, errors.As(err, &errResp))
	assert.Equal(t, http.StatusForbidden, errResp.StatusCode)
}
