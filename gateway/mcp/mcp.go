// Package mcp implements gateway.Connector over JSON-RPC 2.0, for
// external MCP-style tool providers reached over stdio or a network
// stream (spec.md §4.7's non-in-process provider case).
package mcp

import (
	"context"
	"encoding/json"
	"io"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

const (
	methodToolsList = "tools/list"
	methodToolsCall = "tools/call"
)

// Connector talks to a single upstream provider process over a
// jsonrpc2.Conn built from an io.ReadWriteCloser (stdio pipe or socket).
type Connector struct {
	provider string
	conn     *jsonrpc2.Conn
}

// Dial wraps rwc in a JSON-RPC 2.0 connection addressed to one upstream
// provider. The connection is closed when ctx is cancelled.
func Dial(ctx context.Context, provider string, rwc io.ReadWriteCloser) *Connector {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.HandlerWithError(noServerRequests))
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-conn.DisconnectNotify():
		}
	}()
	return &Connector{provider: provider, conn: conn}
}

func noServerRequests(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "pml gateway does not accept server-initiated requests"}
}

// toolsListResult is the wire shape of a tools/list response.
type toolsListResult struct {
	Tools []types.Tool `json:"tools"`
}

// ListTools issues a tools/list request to the upstream provider.
func (c *Connector) ListTools(ctx context.Context) ([]types.Tool, error) {
	var result toolsListResult
	if err := c.conn.Call(ctx, methodToolsList, struct{}{}, &result); err != nil {
		return nil, pmlerr.Wrap(pmlerr.UpstreamFailure, err, "tools/list on provider "+c.provider)
	}
	for i := range result.Tools {
		if result.Tools[i].Provider == "" {
			result.Tools[i].Provider = c.provider
		}
	}
	return result.Tools, nil
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CallTool issues a tools/call request for name with the given arguments.
func (c *Connector) CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	var result json.RawMessage
	params := toolsCallParams{Name: name, Arguments: args}
	if err := c.conn.Call(ctx, methodToolsCall, params, &result); err != nil {
		return nil, pmlerr.Wrap(pmlerr.UpstreamFailure, err, "tools/call "+name+" on provider "+c.provider)
	}
	return result, nil
}

// Close shuts down the underlying connection.
func (c *Connector) Close() error {
	return c.conn.Close()
}
