/**
 * @description
 * Dispatcher runs one tool call through the full pipeline: authenticate and entitle
 * the caller, admit it through the rate limiter, resolve the tool, validate input,
 * and invoke the handler under its timeout budget. Every outcome becomes an Envelope.
 *
 * Key features:
 * - Handler panics are recovered and reported as HandlerFailure.
 * - Handler errors are folded into the ToolError taxonomy; causes are logged only.
 * - Calls that reached a handler are queued on the usage recorder.
 *
 * @dependencies
 * - internal/tools: Registry, schemas and handler failure kinds.
 * - github.com/google/uuid: Request ids for calls that arrive without one.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/tools"
	"github.com/google/uuid"
)

var errHandlerPanic = errors.New("handler panicked")

// Authenticator resolves a presented credential to a caller context.
type Authenticator interface {
	Validate(ctx context.Context, presentedKey string) (domain.SubscriberContext, error)
}

// Admitter applies rate limits to a call.
type Admitter interface {
	Admit(ctx context.Context, a Admission) error
}

// UsageSink accepts usage records without blocking.
type UsageSink interface {
	Record(rec domain.UsageRecord)
}

// Call is one tool invocation as received from a transport.
type Call struct {
	RequestID  string
	ToolName   string
	Input      map[string]any
	Credential string
	ClientAddr string
}

// EnvelopeError is the caller-facing error inside an Envelope.
type EnvelopeError struct {
	Kind       domain.ErrorKind      `json:"kind"`
	Message    string                `json:"message"`
	Field      string                `json:"field,omitempty"`
	Scope      domain.RateLimitScope `json:"scope,omitempty"`
	RetryAfter int                   `json:"retry_after,omitempty"`
}

// Envelope is the uniform result of a dispatched call.
type Envelope struct {
	OK        bool           `json:"ok"`
	Data      any            `json:"data,omitempty"`
	Error     *EnvelopeError `json:"error,omitempty"`
	AsOf      string         `json:"as_of"`
	RequestID string         `json:"request_id,omitempty"`
}

// ToolError rebuilds the domain error carried by a failed envelope.
func (e Envelope) ToolError() *domain.ToolError {
	if e.Error == nil {
		return nil
	}
	return &domain.ToolError{
		Kind:       e.Error.Kind,
		Message:    e.Error.Message,
		Field:      e.Error.Field,
		Scope:      e.Error.Scope,
		RetryAfter: e.Error.RetryAfter,
	}
}

// Dispatcher wires the pipeline stages together.
type Dispatcher struct {
	auth     Authenticator
	limiter  Admitter
	registry *tools.Registry
	usage    UsageSink
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. limiter and usage may be nil.
func NewDispatcher(auth Authenticator, limiter Admitter, registry *tools.Registry, usage UsageSink) *Dispatcher {
	return &Dispatcher{
		auth:     auth,
		limiter:  limiter,
		registry: registry,
		usage:    usage,
		now:      time.Now,
	}
}

// Dispatch executes c and returns its envelope. It never returns a Go error; every
// failure is described by the envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, c Call) Envelope {
	start := d.now()
	if c.RequestID == "" {
		c.RequestID = uuid.NewString()
	}

	caller, data, invoked, err := d.run(ctx, c)

	kind := "ok"
	te := domain.AsToolError(err)
	if te != nil {
		kind = string(te.Kind)
		if cause := errors.Unwrap(te); cause != nil {
			log.Printf("level=warn component=dispatcher msg=\"tool call failed\" request_id=%s tool=%s kind=%s err=%v", c.RequestID, c.ToolName, te.Kind, cause)
		}
	}

	if invoked && d.usage != nil && !caller.Anonymous() {
		status := domain.UsageStatusSuccess
		if te != nil {
			status = string(te.Kind)
		}
		d.usage.Record(domain.UsageRecord{
			RequestID:    c.RequestID,
			SubscriberID: caller.SubscriberID,
			ToolName:     c.ToolName,
			ResultStatus: status,
			Timestamp:    start.UTC(),
		})
	}

	log.Printf("level=info component=dispatcher msg=\"tool call\" request_id=%s tool=%s subscriber_id=%s kind=%s duration_ms=%d",
		c.RequestID, c.ToolName, caller.SubscriberID, kind, d.now().Sub(start).Milliseconds())

	env := Envelope{AsOf: start.UTC().Format(time.RFC3339), RequestID: c.RequestID}
	if te != nil {
		env.Error = &EnvelopeError{
			Kind:       te.Kind,
			Message:    te.Message,
			Field:      te.Field,
			Scope:      te.Scope,
			RetryAfter: te.RetryAfter,
		}
		return env
	}
	env.OK = true
	env.Data = data
	return env
}

// run executes the pipeline stages and reports whether the handler was invoked.
func (d *Dispatcher) run(ctx context.Context, c Call) (domain.SubscriberContext, any, bool, error) {
	caller, err := d.auth.Validate(ctx, c.Credential)
	if err != nil {
		return caller, nil, false, err
	}

	if d.limiter != nil {
		err := d.limiter.Admit(ctx, Admission{
			SubscriberID: caller.SubscriberID,
			Tier:         caller.Tier,
			ToolName:     c.ToolName,
			ClientAddr:   c.ClientAddr,
		})
		if err != nil {
			return caller, nil, false, err
		}
	}

	desc, ok := d.registry.Lookup(c.ToolName)
	if !ok {
		return caller, nil, false, domain.ErrUnknownTool
	}

	in, err := desc.Schema.Validate(c.Input)
	if err != nil {
		return caller, nil, false, err
	}

	data, err := invoke(ctx, desc, in)
	return caller, data, true, err
}

type outcome struct {
	data any
	err  error
}

// invoke runs the handler in its own goroutine so a handler that ignores ctx cannot
// hold the call past its budget.
func invoke(parent context.Context, desc tools.Descriptor, in tools.Input) (any, error) {
	ctx, cancel := context.WithTimeout(parent, desc.Timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", errHandlerPanic, p)}
			}
		}()
		data, err := desc.Handler(ctx, in)
		done <- outcome{data: data, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, classifyHandlerError(ctx, o.err)
		}
		if ctx.Err() != nil {
			return nil, domain.ErrHandlerTimeout.WithCause(ctx.Err())
		}
		return o.data, nil
	case <-ctx.Done():
		return nil, domain.ErrHandlerTimeout.WithCause(ctx.Err())
	}
}

func classifyHandlerError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.ErrHandlerTimeout.WithCause(err)
	}

	var failure *tools.Failure
	if errors.As(err, &failure) {
		switch {
		case errors.Is(failure.Kind, tools.ErrNotFound):
			return domain.NewNotFound(failure.Message).WithCause(failure.Cause)
		case errors.Is(failure.Kind, tools.ErrInvalidArgument):
			return domain.NewInvalidInput("", failure.Message).WithCause(failure.Cause)
		}
	}

	var te *domain.ToolError
	if errors.As(err, &te) && (te.Kind == domain.KindInvalidInput || te.Kind == domain.KindNotFound) {
		return te
	}
	return domain.ErrHandlerFailure.WithCause(err)
}
