// Package rpc implements the JSON-RPC gateway (spec.md §6, §9 "typed
// registries"): `POST /rpc` dispatches to a compile-time map of method
// name -> typed handler, replacing the source's string-prefix dynamic
// dispatch. Grounded on the teacher's HTTP router construction
// (internal/delivery/server/http/router.go's method-specific mux
// patterns and middleware ordering) adapted from its REST-resource
// routing into one JSON-envelope endpoint.
package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"

	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/shared/tracing"
)

// DefaultTimeout is the per-call timeout applied when a request doesn't
// set timeout_ms (spec.md §5 "Timeouts": "RPC calls carry a per-call
// timeout (default 120s)").
const DefaultTimeout = 120 * time.Second

// Request is the RPC envelope (spec.md §6).
type Request struct {
	Method         string          `json:"method"`
	Args           json.RawMessage `json:"args,omitempty"`
	Kwargs         json.RawMessage `json:"kwargs,omitempty"`
	UserID         string          `json:"user_id"`
	SessionID      string          `json:"session_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TimeoutMS      int             `json:"timeout_ms,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
}

// Error is the RPC error shape.
type Error struct {
	Code         agentcoreerrors.RPCCode `json:"code"`
	Message      string                  `json:"message"`
	RetryAfterMS int                     `json:"retry_after_ms,omitempty"`
}

// Response is the RPC envelope's response shape.
type Response struct {
	OK    bool  `json:"ok"`
	Data  any   `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Handler implements one RPC method. It receives the whole decoded
// Request and decodes its `args` (or `kwargs`) payload itself into its
// expected shape, mirroring the teacher's per-route decode-then-dispatch
// idiom.
type Handler func(ctx context.Context, req Request) (any, error)

// Gateway is the compile-time method registry and POST /rpc handler.
type Gateway struct {
	methods map[string]Handler
	logger  logging.Logger
}

// New builds an empty Gateway.
func New(logger logging.Logger) *Gateway {
	return &Gateway{methods: make(map[string]Handler), logger: logging.OrNop(logger)}
}

// Register binds name to handler. Later calls overwrite earlier ones;
// RegisterNamespace, the namespace extension point SPEC_FULL.md §6.[ADD]
// names, loops this per method.
func (g *Gateway) Register(name string, handler Handler) {
	g.methods[name] = handler
}

// RegisterNamespace registers every entry of handlers, prefixed by
// "namespace." (spec.md §9's out-of-core-scope RPC namespaces hook in
// here without the gateway needing to know about them).
func (g *Gateway) RegisterNamespace(namespace string, handlers map[string]Handler) {
	for name, h := range handlers {
		g.Register(namespace+"."+name, h)
	}
}

// ServeHTTP handles POST /rpc.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, Response{OK: false, Error: &Error{Code: agentcoreerrors.CodeInvalidArgs, Message: "invalid request body"}})
		return
	}

	handler, ok := g.methods[req.Method]
	if !ok {
		writeResponse(w, Response{OK: false, Error: &Error{Code: agentcoreerrors.CodeMethodNotFound, Message: "unknown method " + req.Method}})
		return
	}

	timeout := DefaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	ctx, span := tracing.Start(ctx, tracing.SpanRPCMethod, attribute.String(tracing.AttrMethod, req.Method))
	data, err := handler(ctx, req)
	tracing.End(span, err)
	if err != nil {
		code := agentcoreerrors.CodeFor(err)
		g.logger.Warn("rpc: method %s failed: %v", req.Method, err)
		writeResponse(w, Response{OK: false, Error: &Error{Code: code, Message: err.Error()}})
		return
	}
	writeResponse(w, Response{OK: true, Data: data})
}

func writeResponse(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if !resp.OK {
		switch resp.Error.Code {
		case agentcoreerrors.CodeMethodNotFound:
			w.WriteHeader(http.StatusNotFound)
		case agentcoreerrors.CodeInvalidArgs:
			w.WriteHeader(http.StatusBadRequest)
		case agentcoreerrors.CodeThreadBusy, agentcoreerrors.CodeRateLimited:
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
