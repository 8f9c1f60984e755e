package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casys-AI/pml-std-sub000/api"
	"github.com/Casys-AI/pml-std-sub000/config"
	"github.com/Casys-AI/pml-std-sub000/dag"
	"github.com/Casys-AI/pml-std-sub000/embedding/hashvec"
	"github.com/Casys-AI/pml-std-sub000/gateway"
	"github.com/Casys-AI/pml-std-sub000/gateway/local"
	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/retriever"
	"github.com/Casys-AI/pml-std-sub000/shgat"
	"github.com/Casys-AI/pml-std-sub000/store/memory"
	"github.com/Casys-AI/pml-std-sub000/types"
)

func buildServer(t *testing.T) *Server {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	emb := hashvec.New(16)

	v, err := emb.Encode(ctx, "get weather")
	require.NoError(t, err)
	tool := &types.Tool{ID: "weather:get", Provider: "weather", Name: "get", Schema: json.RawMessage(`{}`), Embedding: v, CreatedAt: time.Now()}
	require.NoError(t, st.UpsertTool(ctx, tool))

	idx := hypergraph.New()
	require.NoError(t, idx.Rebuild(ctx, []*types.Tool{tool}, nil))

	net := shgat.New(shgat.Config{D: 16, Heads: 2, HeadDim: 4, Layers: 2, Seed: 1})
	r := retriever.New(st, emb, idx, net, config.DefaultRetrievalWeights())

	conn := local.New("weather")
	conn.Register(*tool, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"temp":72}`), nil
	})
	gw := gateway.New()
	require.NoError(t, gw.RegisterProvider(ctx, "weather", conn))
	exec := dag.NewExecutor(gw, 4)

	svc := api.New(r, exec, nil, st, idx, shgat.NewTrainer(net, idx), nil, nil)
	return NewServer(svc, gw)
}

func TestHTTPDiscover(t *testing.T) {
	srv := buildServer(t)
	r := chi.NewRouter()
	Mount(r, srv)

	body := `{"jsonrpc":"2.0","id":1,"method":"pml.discover","params":{"intent":"get weather","k":3}}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Result []types.DiscoverHit `json:"result"`
		Error  *rpcError           `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.NotEmpty(t, resp.Result)
}

func TestHTTPToolsList(t *testing.T) {
	srv := buildServer(t)
	r := chi.NewRouter()
	Mount(r, srv)

	body := `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Result []types.Tool `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Result, 1)
}

func TestHTTPUnknownMethod(t *testing.T) {
	srv := buildServer(t)
	r := chi.NewRouter()
	Mount(r, srv)

	body := `{"jsonrpc":"2.0","id":3,"method":"nope"}`
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Error *rpcError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
}
