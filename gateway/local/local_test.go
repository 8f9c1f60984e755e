package local

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

func TestRegisterAndCallTool(t *testing.T) {
	c := New("weather")
	c.Register(types.Tool{ID: "weather:get"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"ok":true}`), nil
	})

	out, err := c.CallTool(context.Background(), "weather:get", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out))
}

func TestListToolsReturnsCopy(t *testing.T) {
	c := New("weather")
	c.Register(types.Tool{ID: "weather:get"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	tools, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	tools[0].ID = "mutated"

	tools2, err := c.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "weather:get", tools2[0].ID)
}

func TestCallUnknownToolReturnsNotFound(t *testing.T) {
	c := New("weather")
	_, err := c.CallTool(context.Background(), "weather:missing", nil)
	require.Error(t, err)
	assert.Equal(t, pmlerr.NotFound, pmlerr.KindOf(err))
}
