package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the stable machine-readable error identifier returned to agents.
type ErrorKind string

const (
	KindMalformedCredential ErrorKind = "MalformedCredential"
	KindInvalidCredential   ErrorKind = "InvalidCredential"
	KindEntitlementExpired  ErrorKind = "EntitlementExpired"
	KindStoreUnavailable    ErrorKind = "StoreUnavailable"
	KindRateLimited         ErrorKind = "RateLimited"
	KindUnknownTool         ErrorKind = "UnknownTool"
	KindInvalidInput        ErrorKind = "InvalidInput"
	KindNotFound            ErrorKind = "NotFound"
	KindHandlerTimeout      ErrorKind = "HandlerTimeout"
	KindHandlerFailure      ErrorKind = "HandlerFailure"
)

// RateLimitScope names which limiter window rejected a call.
type RateLimitScope string

const (
	ScopeGlobal     RateLimitScope = "global"
	ScopeSubscriber RateLimitScope = "subscriber"
)

// ToolError is the normalized error every pipeline stage produces. Message is safe to
// show to callers; cause is kept for logs only.
type ToolError struct {
	Kind       ErrorKind
	Message    string
	Field      string
	Scope      RateLimitScope
	RetryAfter int
	cause      error
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ToolError) Unwrap() error {
	return e.cause
}

// Is matches another ToolError by kind and message so copies made by WithCause
// still match their sentinel.
func (e *ToolError) Is(target error) bool {
	t, ok := target.(*ToolError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// WithCause returns a copy of e carrying the internal cause.
func (e *ToolError) WithCause(cause error) *ToolError {
	cp := *e
	cp.cause = cause
	return &cp
}

// HTTPStatus maps the error kind to its HTTP status class.
func (e *ToolError) HTTPStatus() int {
	return StatusForKind(e.Kind)
}

// StatusForKind maps an error kind to an HTTP status code.
func StatusForKind(kind ErrorKind) int {
	switch kind {
	case KindMalformedCredential, KindInvalidCredential:
		return http.StatusUnauthorized
	case KindEntitlementExpired:
		return http.StatusPaymentRequired
	case KindUnknownTool, KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case KindHandlerTimeout:
		return http.StatusGatewayTimeout
	case KindHandlerFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrMissingCredential = &ToolError{
		Kind:    KindInvalidCredential,
		Message: "API key required. Send your key in the X-API-Key header.",
	}
	ErrMalformedCredential = &ToolError{
		Kind:    KindMalformedCredential,
		Message: "API key format is not recognized.",
	}
	ErrInvalidCredential = &ToolError{
		Kind:    KindInvalidCredential,
		Message: "Invalid API key.",
	}
	ErrEntitlementExpired = &ToolError{
		Kind:    KindEntitlementExpired,
		Message: "Subscription required. Your trial has expired or your subscription is inactive.",
	}
	ErrStoreUnavailable = &ToolError{
		Kind:    KindStoreUnavailable,
		Message: "Authentication is temporarily unavailable. Please retry shortly.",
	}
	ErrUnknownTool = &ToolError{
		Kind:    KindUnknownTool,
		Message: "Tool not found. Refresh the tool list.",
	}
	ErrHandlerTimeout = &ToolError{
		Kind:    KindHandlerTimeout,
		Message: "The data source did not respond in time.",
	}
	ErrHandlerFailure = &ToolError{
		Kind:    KindHandlerFailure,
		Message: "The data source failed to answer this request.",
	}
)

// NewRateLimited builds a RateLimited error for the given scope.
func NewRateLimited(scope RateLimitScope, retryAfter int) *ToolError {
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &ToolError{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("Rate limit exceeded (%s). Retry after %d seconds.", scope, retryAfter),
		Scope:      scope,
		RetryAfter: retryAfter,
	}
}

// NewInvalidInput builds an InvalidInput error naming the offending field.
func NewInvalidInput(field, reason string) *ToolError {
	return &ToolError{
		Kind:    KindInvalidInput,
		Message: reason,
		Field:   field,
	}
}

// NewNotFound builds a NotFound error with a caller-facing message.
func NewNotFound(message string) *ToolError {
	return &ToolError{
		Kind:    KindNotFound,
		Message: message,
	}
}

// AsToolError extracts a ToolError from err, falling back to HandlerFailure.
func AsToolError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return ErrHandlerFailure.WithCause(err)
}
