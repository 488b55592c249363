/**
 * @description
 * The tool registry: named descriptors carrying an input schema, a handler and a
 * timeout budget. Descriptors are registered once at startup and only read after.
 */

package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout is the handler budget when a descriptor does not set one.
const DefaultTimeout = 20 * time.Second

var (
	// ErrNotFound marks a handler result for data that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument marks input that passed the schema but was rejected by the handler.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
)

// Failure is a handler error with a caller-safe message.
type Failure struct {
	Kind    error
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() []error {
	errs := []error{f.Kind}
	if f.Cause != nil {
		errs = append(errs, f.Cause)
	}
	return errs
}

// NotFound builds a Failure of kind ErrNotFound.
func NotFound(format string, args ...any) error {
	return &Failure{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument builds a Failure of kind ErrInvalidArgument.
func InvalidArgument(message string, cause error) error {
	return &Failure{Kind: ErrInvalidArgument, Message: message, Cause: cause}
}

// Handler executes a tool with validated input.
type Handler func(ctx context.Context, in Input) (any, error)

// Descriptor is one registered tool.
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Handler     Handler
	Timeout     time.Duration
}

// Registry holds the tool descriptors by name.
type Registry struct {
	mu             sync.RWMutex
	tools          map[string]Descriptor
	defaultTimeout time.Duration
}

func NewRegistry(defaultTimeout time.Duration) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = DefaultTimeout
	}
	return &Registry{
		tools:          make(map[string]Descriptor),
		defaultTimeout: defaultTimeout,
	}
}

// Register adds d. Names must be unique and handlers non-nil.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s: handler is required", d.Name)
	}
	if d.Timeout <= 0 {
		d.Timeout = r.defaultTimeout
	}
	schema, err := d.Schema.Compile()
	if err != nil {
		return fmt.Errorf("tool %s: %w", d.Name, err)
	}
	d.Schema = schema

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, d.Name)
	}
	r.tools[d.Name] = d
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// List returns every descriptor sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
