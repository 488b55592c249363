/**
 * @description
 * This file sets up the HTTP router for the tool-service. Discovery and health routes
 * are public, tool calls authenticate inside the dispatcher with X-API-Key, and the
 * account routes sit behind the Clerk JWT middleware.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for browser-based MCP clients.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures Routes.
type RouterOptions struct {
	// AccountAuth guards the account routes. Nil leaves them unmounted.
	AccountAuth    func(http.Handler) http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
	// TrustProxyHeaders rewrites RemoteAddr from X-Forwarded-For and X-Real-IP. Leave
	// it off unless a proxy in front sets those headers itself.
	TrustProxyHeaders bool
}

// Routes creates and returns the router for the tool service.
func Routes(h *ToolHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", APIKeyHeader},
		ExposedHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthHandler)
	r.Get("/healthz", h.HealthHandler)
	r.Get("/.well-known/mcp/server-card.json", h.ServerCardHandler)

	r.Post("/rpc", h.JSONRPCHandler)
	r.Post("/jsonrpc", h.JSONRPCHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/tools", h.ListToolsHandler)
		r.Post("/tools/{name}", h.CallToolHandler)

		if opts.AccountAuth != nil {
			r.Group(func(r chi.Router) {
				r.Use(opts.AccountAuth)
				r.Post("/account/api-key", h.RegenerateAPIKeyHandler)
			})
		}
	})

	return r
}
