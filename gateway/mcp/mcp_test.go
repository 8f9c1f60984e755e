package mcp

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{}

func (fakeProvider) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	switch req.Method {
	case methodToolsList:
		result := toolsListResult{Tools: nil}
		_ = conn.Reply(ctx, req.ID, result)
	case methodToolsCall:
		var p toolsCallParams
		_ = json.Unmarshal(*req.Params, &p)
		if p.Name == "weather:get" {
			_ = conn.Reply(ctx, req.ID, json.RawMessage(`{"temp":72}`))
			return
		}
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown tool"})
	}
}

func dialPair(t *testing.T) (*Connector, *jsonrpc2.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	ctx := context.Background()

	serverStream := jsonrpc2.NewBufferedStream(serverConn, jsonrpc2.VSCodeObjectCodec{})
	server := jsonrpc2.NewConn(ctx, serverStream, fakeProvider{})

	client := Dial(ctx, "weather", clientConn)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestListToolsOverJSONRPC(t *testing.T) {
	client, _ := dialPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestCallToolOverJSONRPC(t *testing.T) {
	client, _ := dialPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := client.CallTool(ctx, "weather:get", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"temp":72}`, string(out))
}

func TestCallUnknownToolWrapsUpstreamFailure(t *testing.T) {
	client, _ := dialPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.CallTool(ctx, "weather:missing", json.RawMessage(`{}`))
	assert.Error(t, err)
}
