// Package rpc binds api.Service to JSON-RPC 2.0 over stdio and HTTP,
// per spec.md §4.8. Both transports share the same method table:
// tools/list, tools/call, pml.discover, pml.execute, pml.recordOutcome.
package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/Casys-AI/pml-std-sub000/api"
	"github.com/Casys-AI/pml-std-sub000/gateway"
)

const (
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodDiscover      = "pml.discover"
	MethodExecute       = "pml.execute"
	MethodRecordOutcome = "pml.recordOutcome"
)

// Server dispatches JSON-RPC 2.0 requests to an api.Service and, for
// tools/list and tools/call, to the underlying Gateway.
type Server struct {
	service *api.Service
	gateway *gateway.Gateway
}

// NewServer builds a Server bound to service and gateway.
func NewServer(service *api.Service, gw *gateway.Gateway) *Server {
	return &Server{service: service, gateway: gw}
}

// Handle implements jsonrpc2.Handler, dispatching by method name.
func (s *Server) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	result, err := s.dispatch(ctx, req.Method, req.Params)
	if req.Notif {
		return
	}
	if err != nil {
		respErr := &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: err.Error()}
		_ = conn.ReplyWithError(ctx, req.ID, respErr)
		return
	}
	_ = conn.Reply(ctx, req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, method string, params *json.RawMessage) (any, error) {
	switch method {
	case MethodToolsList:
		return s.gateway.ListTools(ctx)
	case MethodToolsCall:
		var p toolsCallParams
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return s.gateway.Call(ctx, p.Name, p.Arguments)
	case MethodDiscover:
		var p api.DiscoverRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return s.service.Discover(ctx, p)
	case MethodExecute:
		var p api.ExecuteRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return s.service.Execute(ctx, p)
	case MethodRecordOutcome:
		var p api.RecordOutcomeRequest
		if err := unmarshalParams(params, &p); err != nil {
			return nil, err
		}
		return nil, s.service.RecordOutcome(ctx, p)
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method: " + method}
	}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func unmarshalParams(raw *json.RawMessage, dst any) error {
	if raw == nil {
		return nil
	}
	return json.Unmarshal(*raw, dst)
}

// ServeStdio runs the JSON-RPC 2.0 server over stdin/stdout until rwc is
// closed or ctx is cancelled, blocking until the connection terminates.
func ServeStdio(ctx context.Context, s *Server, rwc io.ReadWriteCloser) error {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(s))
	select {
	case <-conn.DisconnectNotify():
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	}
}

// Mount registers the JSON-RPC-over-HTTP endpoint on r: a single POST
// route that decodes one JSON-RPC 2.0 request object, dispatches it
// through the same handler table as ServeStdio, and writes back a
// JSON-RPC 2.0 response.
func Mount(r chi.Router, s *Server) {
	r.Post("/rpc", func(w http.ResponseWriter, req *http.Request) {
		var envelope struct {
			ID     json.RawMessage  `json:"id"`
			Method string           `json:"method"`
			Params *json.RawMessage `json:"params,omitempty"`
		}
		if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
			httpError(w, err)
			return
		}

		result, err := s.dispatch(req.Context(), envelope.Method, envelope.Params)
		resp := struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      json.RawMessage `json:"id,omitempty"`
			Result  any             `json:"result,omitempty"`
			Error   *rpcError       `json:"error,omitempty"`
		}{JSONRPC: "2.0", ID: envelope.ID}
		if err != nil {
			resp.Error = &rpcError{Code: -32000, Message: err.Error()}
		} else {
			resp.Result = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func httpError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(rpcError{Code: -32700, Message: err.Error()})
}
