package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gammarips/tool-service/internal/app"
	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/store"
	"github.com/gammarips/tool-service/internal/tools"
	"github.com/gammarips/tool-service/pkg/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type credentialStub struct {
	subs map[string]*domain.Subscriber
}

func (c credentialStub) FindSubscriberByKeyHash(_ context.Context, keyHash string) (*domain.Subscriber, error) {
	if sub, ok := c.subs[keyHash]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, store.ErrSubscriberNotFound
}

const testKey = "ps_live_0123456789abcdef0123456789abcdef"

type memUsage struct {
	mu      sync.Mutex
	records map[string]domain.UsageRecord
	order   []string
}

func (m *memUsage) InsertUsageRecord(_ context.Context, rec domain.UsageRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.RequestID]; ok {
		return false, nil
	}
	m.records[rec.RequestID] = rec
	m.order = append(m.order, rec.RequestID)
	return true, nil
}

func (m *memUsage) requestIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

type testServer struct {
	handler  http.Handler
	calls    int
	usage    *memUsage
	recorder *app.UsageRecorder
}

func newTestServer(t *testing.T, freeLimit int, opts RouterOptions) *testServer {
	t.Helper()
	return newLimitedTestServer(t, 1000, freeLimit, opts)
}

func newLimitedTestServer(t *testing.T, globalLimit, trialLimit int, opts RouterOptions) *testServer {
	t.Helper()
	ts := &testServer{usage: &memUsage{records: make(map[string]domain.UsageRecord)}}

	reg := tools.NewRegistry(time.Second)
	require.NoError(t, reg.Register(tools.Descriptor{
		Name:        "get_quote",
		Description: "Quote a ticker.",
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "ticker", Type: tools.TypeString, Required: true, Uppercase: true},
			{Name: "limit", Type: tools.TypeInteger, Default: 5, Max: tools.Bound(10)},
		}},
		Handler: func(_ context.Context, in tools.Input) (any, error) {
			ts.calls++
			if in.String("ticker") == "NONE" {
				return nil, tools.NotFound("No quote found for %s.", "NONE")
			}
			return map[string]any{"ticker": in.String("ticker"), "limit": in.Int("limit")}, nil
		},
	}))

	creds := credentialStub{subs: map[string]*domain.Subscriber{
		app.HashAPIKey(testKey): {ID: "sub-1", APIKeyHash: app.HashAPIKey(testKey), TrialExpiresAt: ptrTime(time.Now().Add(time.Hour))},
	}}
	validator := app.NewKeyValidator(creds, app.AuthModeRequired)
	limiter := app.NewRateLimiter(app.NewMemoryWindowStore(middleware.NewFixedWindowCounter(0)), app.RateLimits{
		GlobalPerMinute: globalLimit,
		PerTier:         map[domain.Tier]int{domain.TierTrial: trialLimit},
	})
	ts.recorder = app.NewUsageRecorder(ts.usage, nil, 16)
	t.Cleanup(func() { ts.recorder.Close(context.Background()) })
	dispatcher := app.NewDispatcher(validator, limiter, reg, ts.recorder)

	h := NewToolHandlers(dispatcher, reg, nil, ServerInfo{}, app.AuthModeRequired)
	ts.handler = Routes(h, opts)
	return ts
}

func ptrTime(t time.Time) *time.Time { return &t }

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) app.Envelope {
	t.Helper()
	var env app.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

var withKey = map[string]string{APIKeyHeader: testKey}

func TestCallTool_Success(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	rec := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"aapl","limit":3}`, withKey)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	assert.True(t, env.OK)
	assert.Equal(t, map[string]any{"ticker": "AAPL", "limit": float64(3)}, env.Data)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestCallTool_StatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		body    string
		headers map[string]string
		status  int
		kind    domain.ErrorKind
		field   string
	}{
		{name: "missing key", path: "/v1/tools/get_quote", body: `{"ticker":"A"}`, status: http.StatusUnauthorized, kind: domain.KindInvalidCredential},
		{name: "malformed key", path: "/v1/tools/get_quote", body: `{"ticker":"A"}`, headers: map[string]string{APIKeyHeader: "nope"}, status: http.StatusUnauthorized, kind: domain.KindMalformedCredential},
		{name: "bearer is not a tool credential", path: "/v1/tools/get_quote", body: `{"ticker":"A"}`, headers: map[string]string{"Authorization": "Bearer " + testKey}, status: http.StatusUnauthorized, kind: domain.KindInvalidCredential},
		{name: "unknown tool", path: "/v1/tools/nope", body: `{}`, headers: withKey, status: http.StatusNotFound, kind: domain.KindUnknownTool},
		{name: "invalid input", path: "/v1/tools/get_quote", body: `{"ticker":"A","limit":99}`, headers: withKey, status: http.StatusBadRequest, kind: domain.KindInvalidInput, field: "limit"},
		{name: "not found", path: "/v1/tools/get_quote", body: `{"ticker":"none"}`, headers: withKey, status: http.StatusNotFound, kind: domain.KindNotFound},
		{name: "bad json", path: "/v1/tools/get_quote", body: `{"ticker":`, headers: withKey, status: http.StatusBadRequest, kind: domain.KindInvalidInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, 10, RouterOptions{})
			rec := ts.do(t, http.MethodPost, tc.path, tc.body, tc.headers)

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			env := decodeEnvelope(t, rec)
			assert.False(t, env.OK)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.kind, env.Error.Kind)
			assert.Equal(t, tc.field, env.Error.Field)
		})
	}
}

func TestCallTool_QueryStringKeyIsIgnored(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	rec := ts.do(t, http.MethodPost, "/v1/tools/get_quote?api_key="+testKey, `{"ticker":"A"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, ts.calls)
}

func TestCallTool_RateLimitedSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t, 1, RouterOptions{})
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"A"}`, withKey).Code)

	rec := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"A"}`, withKey)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	env := decodeEnvelope(t, rec)
	assert.Equal(t, domain.ScopeSubscriber, env.Error.Scope)
	assert.GreaterOrEqual(t, env.Error.RetryAfter, 1)
	assert.Equal(t, 1, ts.calls)
}

func TestDiscoveryRoutes(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})

	rec := ts.do(t, http.MethodGet, "/v1/tools", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tools []toolSummary `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Tools, 1)
	assert.Equal(t, "get_quote", list.Tools[0].Name)
	assert.Equal(t, "object", list.Tools[0].InputSchema["type"])

	rec = ts.do(t, http.MethodGet, "/.well-known/mcp/server-card.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var card map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, "gammarips-mcp", card["serverInfo"].(map[string]any)["name"])
	assert.Equal(t, true, card["authentication"].(map[string]any)["required"])

	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAccountRouteUnmountedWithoutAuth(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	rec := ts.do(t, http.MethodPost, "/v1/account/api-key", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallTool_RetryWithSameRequestIDRecordsUsageOnce(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	headers := map[string]string{APIKeyHeader: testKey, "X-Request-Id": "retry-abc"}

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"aapl"}`, headers)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "retry-abc", rec.Header().Get("X-Request-Id"))
	}
	rpc := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_quote","arguments":{"ticker":"aapl"}}}`
	rec := ts.do(t, http.MethodPost, "/rpc", rpc, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "retry-abc", rec.Header().Get("X-Request-Id"))

	require.NoError(t, ts.recorder.Close(context.Background()))
	assert.Equal(t, 3, ts.calls)
	assert.Equal(t, []string{"retry-abc"}, ts.usage.requestIDs())
	assert.Equal(t, int64(2), ts.recorder.Stats().Duplicates)
}

func TestCallTool_DistinctRequestsRecordSeparately(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	first := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"aapl"}`, withKey)
	second := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"aapl"}`, withKey)
	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.NotEqual(t, first.Header().Get("X-Request-Id"), second.Header().Get("X-Request-Id"))

	require.NoError(t, ts.recorder.Close(context.Background()))
	assert.Len(t, ts.usage.requestIDs(), 2)
}

func TestCallTool_OversizedRequestIDIsReplaced(t *testing.T) {
	ts := newTestServer(t, 10, RouterOptions{})
	long := strings.Repeat("x", maxRequestIDLen+1)
	rec := ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"aapl"}`, map[string]string{APIKeyHeader: testKey, "X-Request-Id": long})
	require.Equal(t, http.StatusOK, rec.Code)
	got := rec.Header().Get("X-Request-Id")
	assert.NotEmpty(t, got)
	assert.NotEqual(t, long, got)
}

func TestCallTool_ForwardedHeadersOnlyTrustedWhenConfigured(t *testing.T) {
	call := func(ts *testServer, forwarded string) int {
		return ts.do(t, http.MethodPost, "/v1/tools/get_quote", `{"ticker":"A"}`, map[string]string{
			APIKeyHeader:      testKey,
			"X-Forwarded-For": forwarded,
		}).Code
	}

	untrusted := newLimitedTestServer(t, 2, 100, RouterOptions{})
	assert.Equal(t, http.StatusOK, call(untrusted, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, call(untrusted, "203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, call(untrusted, "203.0.113.3"), "rotating X-Forwarded-For must not reset the per-address cap")

	trusted := newLimitedTestServer(t, 2, 100, RouterOptions{TrustProxyHeaders: true})
	assert.Equal(t, http.StatusOK, call(trusted, "203.0.113.1"))
	assert.Equal(t, http.StatusOK, call(trusted, "203.0.113.2"))
	assert.Equal(t, http.StatusOK, call(trusted, "203.0.113.3"))
	assert.Equal(t, http.StatusOK, call(trusted, "203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, call(trusted, "203.0.113.1"))
}
