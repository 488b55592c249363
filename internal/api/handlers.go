/**
 * @description
 * This file contains the HTTP handlers for the tool-service's REST endpoints: tool
 * discovery, direct tool calls, the MCP server card, and API key regeneration.
 * Handlers only translate HTTP to dispatcher calls; every pipeline decision lives in
 * internal/app.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameters.
 * - internal/app, internal/tools: The dispatcher and the tool registry.
 */

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gammarips/tool-service/internal/app"
	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/internal/tools"
	"github.com/gammarips/tool-service/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const (
	// APIKeyHeader is the only channel subscriber keys are accepted on.
	APIKeyHeader = "X-API-Key"

	maxBodyBytes = 1 << 20
)

// Dispatcher runs tool calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, c app.Call) app.Envelope
}

// KeyRotator regenerates subscriber API keys.
type KeyRotator interface {
	Rotate(ctx context.Context, clerkUserID string) (*app.RotatedKey, error)
}

// ServerInfo identifies the server to MCP clients.
type ServerInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// DefaultServerInfo is advertised when no override is configured.
var DefaultServerInfo = ServerInfo{
	Name:        "gammarips-mcp",
	Version:     "1.0.0",
	Description: "Options trading signals and market analysis backed by fundamentals, technicals and options flow.",
}

// ToolHandlers holds what the HTTP handlers need.
type ToolHandlers struct {
	dispatcher Dispatcher
	registry   *tools.Registry
	rotator    KeyRotator
	info       ServerInfo
	authMode   app.AuthMode
}

// NewToolHandlers creates the handlers. rotator may be nil, which disables key regeneration.
func NewToolHandlers(dispatcher Dispatcher, registry *tools.Registry, rotator KeyRotator, info ServerInfo, mode app.AuthMode) *ToolHandlers {
	if info.Name == "" {
		info = DefaultServerInfo
	}
	return &ToolHandlers{dispatcher: dispatcher, registry: registry, rotator: rotator, info: info, authMode: mode}
}

type toolSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func (h *ToolHandlers) toolList() []toolSummary {
	list := h.registry.List()
	out := make([]toolSummary, 0, len(list))
	for _, d := range list {
		out = append(out, toolSummary{Name: d.Name, Description: d.Description, InputSchema: d.Schema.JSONSchema()})
	}
	return out
}

// HealthHandler reports liveness.
func (h *ToolHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy", "tools": h.registry.Len()})
}

// ListToolsHandler returns every registered tool with its input schema.
func (h *ToolHandlers) ListToolsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"tools": h.toolList()})
}

// ServerCardHandler serves the discovery card MCP registries scan.
func (h *ToolHandlers) ServerCardHandler(w http.ResponseWriter, r *http.Request) {
	schemes := []string{"api-key"}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"serverInfo": h.info,
		"authentication": map[string]any{
			"required": h.authMode != app.AuthModeDisabled,
			"schemes":  schemes,
			"header":   APIKeyHeader,
		},
		"tools":     h.toolList(),
		"resources": []any{},
		"prompts":   []any{},
	})
}

// CallToolHandler runs the tool named in the URL with the JSON body as its input.
func (h *ToolHandlers) CallToolHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	input, err := decodeInput(r)
	if err != nil {
		log.Printf("level=warn component=api endpoint=call_tool outcome=reject reason=invalid_json tool=%s err=%v", name, err)
		env := app.Envelope{Error: &app.EnvelopeError{Kind: domain.KindInvalidInput, Message: "Request body must be a JSON object."}}
		h.writeJSON(w, http.StatusBadRequest, env)
		return
	}

	env := h.dispatcher.Dispatch(r.Context(), app.Call{
		ToolName:   name,
		Input:      input,
		RequestID:  callRequestID(r),
		Credential: r.Header.Get(APIKeyHeader),
		ClientAddr: middleware.ClientIP(r),
	})
	h.writeEnvelope(w, env)
}

// RegenerateAPIKeyHandler issues a new API key for the signed-in account and returns
// it once.
func (h *ToolHandlers) RegenerateAPIKeyHandler(w http.ResponseWriter, r *http.Request) {
	clerkUserID, ok := GetClerkUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	if h.rotator == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Key regeneration is not available")
		return
	}

	rotated, err := h.rotator.Rotate(r.Context(), clerkUserID)
	if err != nil {
		if errors.Is(err, app.ErrNoSubscriber) {
			log.Printf("level=warn component=api endpoint=regenerate_api_key outcome=reject reason=no_subscriber clerk_user_id=%s", clerkUserID)
			h.writeError(w, http.StatusNotFound, "No subscription found for this account")
			return
		}
		log.Printf("level=error component=api endpoint=regenerate_api_key outcome=failed clerk_user_id=%s err=%v", clerkUserID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusCreated, rotated)
}

// maxRequestIDLen bounds client supplied X-Request-Id values kept for usage dedup.
const maxRequestIDLen = 128

// callRequestID is the id chi's RequestID middleware assigned, which is the inbound
// X-Request-Id when the client sent one. A retry with the same id is recorded once.
// Oversized ids are dropped and the dispatcher mints one instead.
func callRequestID(r *http.Request) string {
	id := chimw.GetReqID(r.Context())
	if len(id) > maxRequestIDLen {
		return ""
	}
	return id
}

// decodeInput reads an optional JSON object body. An empty body is an empty input.
func decodeInput(r *http.Request) (map[string]any, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var input map[string]any
	if err := dec.Decode(&input); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}

func (h *ToolHandlers) writeEnvelope(w http.ResponseWriter, env app.Envelope) {
	if env.RequestID != "" {
		w.Header().Set("X-Request-Id", env.RequestID)
	}
	status := http.StatusOK
	if te := env.ToolError(); te != nil {
		status = te.HTTPStatus()
		if te.Kind == domain.KindRateLimited {
			w.Header().Set("Retry-After", strconv.Itoa(te.RetryAfter))
		}
	}
	h.writeJSON(w, status, env)
}

// writeJSON is a helper for writing JSON responses.
func (h *ToolHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ToolHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
