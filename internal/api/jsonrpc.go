package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gammarips/tool-service/internal/app"
	"github.com/gammarips/tool-service/internal/domain"
	"github.com/gammarips/tool-service/pkg/middleware"
)

// JSON-RPC error codes. The -3200x range is server defined.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcInternalError  = -32603
	rpcUnauthorized   = -32001
	rpcRateLimited    = -32002
)

const mcpProtocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// rpcCode maps an error kind to its JSON-RPC code. NotFound is not a protocol error;
// it is returned as a tool result flagged isError.
func rpcCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindMalformedCredential, domain.KindInvalidCredential, domain.KindEntitlementExpired, domain.KindStoreUnavailable:
		return rpcUnauthorized
	case domain.KindRateLimited:
		return rpcRateLimited
	case domain.KindInvalidInput:
		return rpcInvalidParams
	case domain.KindUnknownTool:
		return rpcMethodNotFound
	default:
		return rpcInternalError
	}
}

// JSONRPCHandler serves the stateless MCP JSON-RPC endpoint: initialize, tools/list
// and tools/call.
func (h *ToolHandlers) JSONRPCHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.writeRPC(w, http.StatusBadRequest, rpcResponse{Error: &rpcError{Code: rpcParseError, Message: "Parse error"}})
		return
	}

	var req rpcRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=jsonrpc outcome=reject reason=parse_error err=%v", err)
		h.writeRPC(w, http.StatusBadRequest, rpcResponse{Error: &rpcError{Code: rpcParseError, Message: "Parse error"}})
		return
	}
	if req.Method == "" {
		h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcInvalidRequest, Message: "Invalid request: method is required"}})
		return
	}

	switch req.Method {
	case "initialize":
		h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Result: map[string]any{
			"protocolVersion": mcpProtocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": h.info.Name, "version": h.info.Version},
		}})
	case "tools/list":
		h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Result: map[string]any{"tools": h.toolList()}})
	case "tools/call":
		h.rpcToolCall(w, r, req)
	default:
		h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcMethodNotFound, Message: "Method not found: " + req.Method}})
	}
}

func (h *ToolHandlers) rpcToolCall(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params toolCallParams
	if len(req.Params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Params))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcInvalidParams, Message: "Invalid params: " + err.Error()}})
			return
		}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}

	env := h.dispatcher.Dispatch(r.Context(), app.Call{
		ToolName:   params.Name,
		Input:      params.Arguments,
		RequestID:  callRequestID(r),
		Credential: r.Header.Get(APIKeyHeader),
		ClientAddr: middleware.ClientIP(r),
	})
	if env.RequestID != "" {
		w.Header().Set("X-Request-Id", env.RequestID)
	}

	te := env.ToolError()
	if te != nil && te.Kind != domain.KindNotFound {
		status := http.StatusOK
		switch rpcCode(te.Kind) {
		case rpcUnauthorized:
			status = te.HTTPStatus()
		case rpcRateLimited:
			status = http.StatusTooManyRequests
			w.Header().Set("Retry-After", strconv.Itoa(te.RetryAfter))
		}
		h.writeRPC(w, status, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcCode(te.Kind), Message: te.Message, Data: env.Error}})
		return
	}

	text, err := json.Marshal(env)
	if err != nil {
		log.Printf("level=error component=api endpoint=jsonrpc outcome=failed reason=encode_result tool=%s err=%v", params.Name, err)
		h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Error: &rpcError{Code: rpcInternalError, Message: "Result could not be encoded"}})
		return
	}
	h.writeRPC(w, http.StatusOK, rpcResponse{ID: req.ID, Result: toolCallResult{
		Content: []textContent{{Type: "text", Text: string(text)}},
		IsError: te != nil,
	}})
}

func (h *ToolHandlers) writeRPC(w http.ResponseWriter, status int, resp rpcResponse) {
	resp.JSONRPC = "2.0"
	if len(resp.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}
	h.writeJSON(w, status, resp)
}
