package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuth struct {
	caller domain.SubscriberContext
	err    error
}

func (s stubAuth) Validate(_ context.Context, _ string) (domain.SubscriberContext, error) {
	return s.caller, s.err
}

type stubLimiter struct {
	err      error
	admitted []Admission
}

func (s *stubLimiter) Admit(_ context.Context, a Admission) error {
	s.admitted = append(s.admitted, a)
	return s.err
}

type recordingSink struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func (s *recordingSink) Record(rec domain.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

var proCaller = domain.SubscriberContext{SubscriberID: "sub-1", Tier: domain.TierPro}

func newTestDispatcher(t *testing.T, auth Authenticator, limiter Admitter, sink UsageSink, descs ...tools.Descriptor) *Dispatcher {
	t.Helper()
	reg := tools.NewRegistry(time.Second)
	for _, d := range descs {
		require.NoError(t, reg.Register(d))
	}
	return NewDispatcher(auth, limiter, reg, sink)
}

func echoTool(calls *int) tools.Descriptor {
	return tools.Descriptor{
		Name: "echo",
		Schema: tools.Schema{Fields: []tools.Field{
			{Name: "ticker", Type: tools.TypeString, Required: true, Uppercase: true},
		}},
		Handler: func(_ context.Context, in tools.Input) (any, error) {
			*calls++
			return map[string]string{"ticker": in.String("ticker")}, nil
		},
	}
}

func TestDispatch_Success(t *testing.T) {
	calls := 0
	sink := &recordingSink{}
	limiter := &stubLimiter{}
	d := newTestDispatcher(t, stubAuth{caller: proCaller}, limiter, sink, echoTool(&calls))

	env := d.Dispatch(context.Background(), Call{RequestID: "req-1", ToolName: "echo", Input: map[string]any{"ticker": "aapl"}, ClientAddr: "10.0.0.1"})

	require.True(t, env.OK)
	assert.Nil(t, env.Error)
	assert.Equal(t, map[string]string{"ticker": "AAPL"}, env.Data)
	assert.NotEmpty(t, env.AsOf)
	assert.Equal(t, 1, calls)

	require.Len(t, limiter.admitted, 1)
	assert.Equal(t, Admission{SubscriberID: "sub-1", Tier: domain.TierPro, ToolName: "echo", ClientAddr: "10.0.0.1"}, limiter.admitted[0])

	require.Len(t, sink.records, 1)
	assert.Equal(t, "req-1", sink.records[0].RequestID)
	assert.Equal(t, domain.UsageStatusSuccess, sink.records[0].ResultStatus)
}

func TestDispatch_AssignsRequestID(t *testing.T) {
	calls := 0
	d := newTestDispatcher(t, stubAuth{caller: proCaller}, nil, nil, echoTool(&calls))
	env := d.Dispatch(context.Background(), Call{ToolName: "echo", Input: map[string]any{"ticker": "A"}})
	assert.Len(t, env.RequestID, 36)
}

func TestDispatch_PipelineRejections(t *testing.T) {
	tests := []struct {
		name    string
		auth    stubAuth
		limit   error
		tool    string
		input   map[string]any
		kind    domain.ErrorKind
		field   string
		invoked bool
	}{
		{name: "invalid credential", auth: stubAuth{err: domain.ErrInvalidCredential}, tool: "echo", kind: domain.KindInvalidCredential},
		{name: "entitlement expired", auth: stubAuth{err: domain.ErrEntitlementExpired}, tool: "echo", kind: domain.KindEntitlementExpired},
		{name: "rate limited", auth: stubAuth{caller: proCaller}, limit: domain.NewRateLimited(domain.ScopeSubscriber, 12), tool: "echo", kind: domain.KindRateLimited},
		{name: "unknown tool", auth: stubAuth{caller: proCaller}, tool: "nope", kind: domain.KindUnknownTool},
		{name: "invalid input", auth: stubAuth{caller: proCaller}, tool: "echo", input: map[string]any{}, kind: domain.KindInvalidInput, field: "ticker"},
		{name: "unknown field", auth: stubAuth{caller: proCaller}, tool: "echo", input: map[string]any{"ticker": "A", "x": 1.0}, kind: domain.KindInvalidInput, field: "x"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			sink := &recordingSink{}
			d := newTestDispatcher(t, tc.auth, &stubLimiter{err: tc.limit}, sink, echoTool(&calls))

			env := d.Dispatch(context.Background(), Call{ToolName: tc.tool, Input: tc.input})

			require.False(t, env.OK)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.kind, env.Error.Kind)
			assert.Equal(t, tc.field, env.Error.Field)
			assert.Equal(t, 0, calls, "handler must not run")
			assert.Empty(t, sink.records, "no usage for calls that never reached a handler")
		})
	}
}

func TestDispatch_RateLimitedCarriesScopeAndRetryAfter(t *testing.T) {
	calls := 0
	d := newTestDispatcher(t, stubAuth{caller: proCaller}, &stubLimiter{err: domain.NewRateLimited(domain.ScopeGlobal, 7)}, nil, echoTool(&calls))
	env := d.Dispatch(context.Background(), Call{ToolName: "echo"})

	require.NotNil(t, env.Error)
	assert.Equal(t, domain.ScopeGlobal, env.Error.Scope)
	assert.Equal(t, 7, env.Error.RetryAfter)
	assert.Equal(t, 429, env.ToolError().HTTPStatus())
}

func TestDispatch_HandlerErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler tools.Handler
		kind    domain.ErrorKind
		message string
	}{
		{
			name:    "not found",
			handler: func(context.Context, tools.Input) (any, error) { return nil, tools.NotFound("No data for %s.", "AAPL") },
			kind:    domain.KindNotFound,
			message: "No data for AAPL.",
		},
		{
			name: "invalid argument",
			handler: func(context.Context, tools.Input) (any, error) {
				return nil, tools.InvalidArgument("only SELECT allowed", errors.New("parse"))
			},
			kind:    domain.KindInvalidInput,
			message: "only SELECT allowed",
		},
		{
			name:    "internal error",
			handler: func(context.Context, tools.Input) (any, error) { return nil, errors.New("pq: connection reset") },
			kind:    domain.KindHandlerFailure,
			message: domain.ErrHandlerFailure.Message,
		},
		{
			name:    "panic",
			handler: func(context.Context, tools.Input) (any, error) { panic("nil map") },
			kind:    domain.KindHandlerFailure,
			message: domain.ErrHandlerFailure.Message,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sink := &recordingSink{}
			d := newTestDispatcher(t, stubAuth{caller: proCaller}, nil, sink, tools.Descriptor{Name: "t", Handler: tc.handler, Schema: tools.Schema{Passthrough: true}})

			env := d.Dispatch(context.Background(), Call{RequestID: "r", ToolName: "t"})

			require.NotNil(t, env.Error)
			assert.Equal(t, tc.kind, env.Error.Kind)
			assert.Equal(t, tc.message, env.Error.Message)
			require.Len(t, sink.records, 1)
			assert.Equal(t, string(tc.kind), sink.records[0].ResultStatus)
		})
	}
}

func TestDispatch_HandlerTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := newTestDispatcher(t, stubAuth{caller: proCaller}, nil, nil, tools.Descriptor{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Handler: func(context.Context, tools.Input) (any, error) {
			<-release
			return "late", nil
		},
	})

	start := time.Now()
	env := d.Dispatch(context.Background(), Call{ToolName: "slow"})

	require.NotNil(t, env.Error)
	assert.Equal(t, domain.KindHandlerTimeout, env.Error.Kind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_ContextAwareHandlerTimeout(t *testing.T) {
	d := newTestDispatcher(t, stubAuth{caller: proCaller}, nil, nil, tools.Descriptor{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Handler: func(ctx context.Context, _ tools.Input) (any, error) {
			<-ctx.Done()
			return nil, tools.InvalidArgument("query rejected", ctx.Err())
		},
	})

	env := d.Dispatch(context.Background(), Call{ToolName: "slow"})
	require.NotNil(t, env.Error)
	assert.Equal(t, domain.KindHandlerTimeout, env.Error.Kind)
}

func TestDispatch_AnonymousCallerRecordsNoUsage(t *testing.T) {
	calls := 0
	sink := &recordingSink{}
	anon := domain.SubscriberContext{SubscriberID: domain.AnonymousSubscriberID, Tier: domain.TierFree}
	d := newTestDispatcher(t, stubAuth{caller: anon}, nil, sink, echoTool(&calls))

	env := d.Dispatch(context.Background(), Call{ToolName: "echo", Input: map[string]any{"ticker": "A"}})
	assert.True(t, env.OK)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sink.records)
}

func TestDispatch_EndToEndWithRecorderAndLimiter(t *testing.T) {
	keyStore := newMemCredentials()
	key := mustKey(t)
	keyStore.add(&domain.Subscriber{ID: "sub-9", APIKeyHash: HashAPIKey(key), SubscriptionActive: true})

	usage := newMemUsage()
	recorder := NewUsageRecorder(usage, nil, 16)

	limits := RateLimits{GlobalPerMinute: 100, PerTier: map[domain.Tier]int{domain.TierPro: 2}}
	limiter := NewRateLimiter(NewMemoryWindowStore(nil), limits)

	calls := 0
	d := newTestDispatcher(t, NewKeyValidator(keyStore, AuthModeRequired), limiter, recorder, echoTool(&calls))

	for i := 0; i < 2; i++ {
		env := d.Dispatch(context.Background(), Call{ToolName: "echo", Input: map[string]any{"ticker": "nvda"}, Credential: key, ClientAddr: "1.2.3.4"})
		require.True(t, env.OK, "call %d", i)
	}
	env := d.Dispatch(context.Background(), Call{ToolName: "echo", Input: map[string]any{"ticker": "nvda"}, Credential: key, ClientAddr: "1.2.3.4"})
	require.NotNil(t, env.Error)
	assert.Equal(t, domain.KindRateLimited, env.Error.Kind)
	assert.Equal(t, domain.ScopeSubscriber, env.Error.Scope)
	assert.GreaterOrEqual(t, env.Error.RetryAfter, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, recorder.Close(ctx))

	assert.Equal(t, 2, calls)
	assert.Len(t, usage.all(), 2)
	assert.Equal(t, int64(2), usage.usageCount("sub-9"))
}
