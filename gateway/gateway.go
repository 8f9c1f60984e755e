// Package gateway implements the Tool Gateway: a routing layer in front of
// upstream tool providers that validates call arguments against each
// tool's JSON Schema, applies a per-provider circuit breaker, and bounds
// in-flight concurrency per connection, per spec.md §4.7.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Connector is the upstream provider abstraction the Gateway routes
// through: list the tools a provider exposes, and call one by name.
type Connector interface {
	ListTools(ctx context.Context) ([]types.Tool, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)
}

type connection struct {
	connector Connector
	breaker   *gobreaker.CircuitBreaker
	sem       *semaphore.Weighted
}

// Gateway routes tool calls by "provider:name" id to the registered
// Connector, enforcing schema validation, circuit breaking, and bounded
// concurrency at the boundary.
type Gateway struct {
	mu             sync.RWMutex
	connections    map[string]*connection // provider -> connection
	toolProvider   map[string]string      // toolID -> provider
	schemas        map[string]*jsonschema.Schema
	maxConcurrency int64
}

// Option configures a Gateway at construction.
type Option func(*Gateway)

// WithMaxConcurrency overrides the default per-connection concurrency cap.
func WithMaxConcurrency(n int64) Option {
	return func(g *Gateway) { g.maxConcurrency = n }
}

// New builds an empty Gateway. Connectors are added via RegisterProvider.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		connections:    make(map[string]*connection),
		toolProvider:   make(map[string]string),
		schemas:        make(map[string]*jsonschema.Schema),
		maxConcurrency: 16,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// RegisterProvider lists conn's tools, compiles each tool's schema, and
// wires a dedicated circuit breaker and concurrency semaphore for it.
func (g *Gateway) RegisterProvider(ctx context.Context, provider string, conn Connector) error {
	tools, err := conn.ListTools(ctx)
	if err != nil {
		return pmlerr.Wrap(pmlerr.UpstreamFailure, err, "list tools for provider "+provider)
	}

	compiled := make(map[string]*jsonschema.Schema, len(tools))
	for _, tool := range tools {
		schema, err := compileSchema(tool.ID, tool.Schema)
		if err != nil {
			return pmlerr.Wrap(pmlerr.InvalidArgument, err, "compile schema for tool "+tool.ID)
		}
		compiled[tool.ID] = schema
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections[provider] = &connection{
		connector: conn,
		breaker:   gobreaker.NewCircuitBreaker(settings),
		sem:       semaphore.NewWeighted(g.maxConcurrency),
	}
	for id, schema := range compiled {
		g.schemas[id] = schema
		g.toolProvider[id] = provider
	}
	return nil
}

func compileSchema(toolID string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	c := jsonschema.NewCompiler()
	url := "mem://pml/" + toolID
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// HasTool reports whether toolID is registered with any provider.
func (g *Gateway) HasTool(toolID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.toolProvider[toolID]
	return ok
}

// ListTools aggregates the tool list across every registered provider.
func (g *Gateway) ListTools(ctx context.Context) ([]types.Tool, error) {
	g.mu.RLock()
	conns := make([]*connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	var out []types.Tool
	for _, c := range conns {
		tools, err := c.connector.ListTools(ctx)
		if err != nil {
			return nil, pmlerr.Wrap(pmlerr.UpstreamFailure, err, "list tools")
		}
		out = append(out, tools...)
	}
	return out, nil
}

// Call validates args against toolID's compiled schema, then dispatches
// through the owning provider's circuit breaker and concurrency
// semaphore. Returns Overloaded if the semaphore is saturated or the
// breaker is open, and UpstreamFailure if the call itself fails.
func (g *Gateway) Call(ctx context.Context, toolID string, args json.RawMessage) (json.RawMessage, error) {
	g.mu.RLock()
	provider, ok := g.toolProvider[toolID]
	var conn *connection
	var schema *jsonschema.Schema
	if ok {
		conn = g.connections[provider]
		schema = g.schemas[toolID]
	}
	g.mu.RUnlock()

	if !ok || conn == nil {
		return nil, pmlerr.New(pmlerr.NotFound, "unknown tool: "+toolID)
	}

	if schema != nil {
		var instance any
		if len(args) == 0 {
			instance = map[string]any{}
		} else if err := json.Unmarshal(args, &instance); err != nil {
			return nil, pmlerr.Wrap(pmlerr.InvalidArgument, err, "decode arguments for "+toolID)
		}
		if err := schema.Validate(instance); err != nil {
			return nil, pmlerr.Wrap(pmlerr.InvalidArgument, err, "arguments fail schema validation for "+toolID)
		}
	}

	if !conn.sem.TryAcquire(1) {
		return nil, pmlerr.New(pmlerr.Overloaded, fmt.Sprintf("provider %s at concurrency cap", provider))
	}
	defer conn.sem.Release(1)

	result, err := conn.breaker.Execute(func() (any, error) {
		return conn.connector.CallTool(ctx, toolID, args)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, pmlerr.Wrap(pmlerr.Overloaded, err, "provider "+provider+" circuit open")
		}
		return nil, pmlerr.Wrap(pmlerr.UpstreamFailure, err, "call "+toolID)
	}
	out, _ := result.(json.RawMessage)
	return out, nil
}
