// Package local implements gateway.Connector as an in-process function
// table, for tests and for embedding the peripheral tool wrappers that
// don't warrant a network hop (spec.md §1's "≈200 tool wrappers").
package local

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Handler implements one tool's behavior in-process.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Connector is an in-process gateway.Connector backed by a function table.
type Connector struct {
	mu       sync.RWMutex
	provider string
	tools    []types.Tool
	handlers map[string]Handler
}

// New builds an empty Connector for the given provider name.
func New(provider string) *Connector {
	return &Connector{provider: provider, handlers: make(map[string]Handler)}
}

// Register adds a tool and its handler. tool.ID must be "provider:name".
func (c *Connector) Register(tool types.Tool, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = append(c.tools, tool)
	c.handlers[tool.ID] = handler
}

// ListTools returns every tool registered on this connector.
func (c *Connector) ListTools(ctx context.Context) ([]types.Tool, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Tool, len(c.tools))
	copy(out, c.tools)
	return out, nil
}

// CallTool dispatches to the handler registered for toolID.
func (c *Connector) CallTool(ctx context.Context, toolID string, args json.RawMessage) (json.RawMessage, error) {
	c.mu.RLock()
	h, ok := c.handlers[toolID]
	c.mu.RUnlock()
	if !ok {
		return nil, pmlerr.New(pmlerr.NotFound, "unknown tool: "+toolID)
	}
	return h(ctx, args)
}
