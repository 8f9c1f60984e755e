// Package memory provides an in-memory implementation of store.Store.
//
// This implementation is suitable for development, testing, and
// single-node deployments where persistence across restarts is not
// required.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Casys-AI/pml-std-sub000/store"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Store is an in-memory implementation of store.Store. It is safe for
// concurrent use.
type Store struct {
	mu           sync.RWMutex
	tools        map[string]*types.Tool
	capabilities map[string]*types.Capability
	episodes     []types.EpisodicTrace
	maxEpisodes  int
	params       []byte
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxEpisodes bounds the episodic ring log. Defaults to 10000.
func WithMaxEpisodes(n int) Option {
	return func(s *Store) { s.maxEpisodes = n }
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		tools:        make(map[string]*types.Tool),
		capabilities: make(map[string]*types.Capability),
		maxEpisodes:  10000,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// UpsertTool stores or updates a tool.
func (s *Store) UpsertTool(ctx context.Context, tool *types.Tool) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.ID] = tool
	return nil
}

// GetTool retrieves a tool by id.
func (s *Store) GetTool(ctx context.Context, id string) (*types.Tool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, store.ErrNotFound("tool", id)
	}
	return t, nil
}

// ListTools returns every registered tool.
func (s *Store) ListTools(ctx context.Context) ([]*types.Tool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t)
	}
	return out, nil
}

// UpsertCapability stores or updates a capability.
func (s *Store) UpsertCapability(ctx context.Context, cap *types.Capability) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := store.ValidateCapability(cap); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities[cap.ID] = cap
	return nil
}

// GetCapability retrieves a capability by id.
func (s *Store) GetCapability(ctx context.Context, id string) (*types.Capability, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.capabilities[id]
	if !ok {
		return nil, store.ErrNotFound("capability", id)
	}
	return c, nil
}

// DeleteCapability removes a capability by id.
func (s *Store) DeleteCapability(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.capabilities[id]; !ok {
		return store.ErrNotFound("capability", id)
	}
	delete(s.capabilities, id)
	return nil
}

// ListCapabilities returns every registered capability.
func (s *Store) ListCapabilities(ctx context.Context) ([]*types.Capability, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Capability, 0, len(s.capabilities))
	for _, c := range s.capabilities {
		out = append(out, c)
	}
	return out, nil
}

// GetEmbedding returns the embedding for a tool or capability id.
func (s *Store) GetEmbedding(ctx context.Context, id string) ([]float32, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tools[id]; ok {
		return t.Embedding, true, nil
	}
	if c, ok := s.capabilities[id]; ok {
		return c.Embedding, true, nil
	}
	return nil, false, nil
}

// TopKCosine performs a brute-force nearest-neighbor scan over every tool
// and capability embedding.
func (s *Store) TopKCosine(ctx context.Context, query []float32, k int, minSim float64) ([]store.Scored, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	scored := make([]store.Scored, 0, len(s.tools)+len(s.capabilities))
	for id, t := range s.tools {
		if sim := dot(query, t.Embedding); sim >= minSim {
			scored = append(scored, store.Scored{ID: id, Score: sim})
		}
	}
	for id, c := range s.capabilities {
		if sim := dot(query, c.Embedding); sim >= minSim {
			scored = append(scored, store.Scored{ID: id, Score: sim})
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if k >= 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// AppendEpisode appends an episodic trace, evicting the oldest entry once
// the bounded ring log is full.
func (s *Store) AppendEpisode(ctx context.Context, trace types.EpisodicTrace) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = append(s.episodes, trace)
	if len(s.episodes) > s.maxEpisodes {
		s.episodes = s.episodes[len(s.episodes)-s.maxEpisodes:]
	}
	return nil
}

// IterRecentEpisodes returns up to n of the most recently appended traces.
func (s *Store) IterRecentEpisodes(ctx context.Context, n int) ([]types.EpisodicTrace, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.episodes) {
		n = len(s.episodes)
	}
	out := make([]types.EpisodicTrace, n)
	src := s.episodes[len(s.episodes)-n:]
	for i := range src {
		out[i] = src[len(src)-1-i]
	}
	return out, nil
}

// SaveParams persists an opaque SHGAT parameter snapshot blob.
func (s *Store) SaveParams(ctx context.Context, blob []byte) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = append([]byte(nil), blob...)
	return nil
}

// LoadParams returns the most recently saved SHGAT parameter blob.
func (s *Store) LoadParams(ctx context.Context) ([]byte, bool, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.params == nil {
		return nil, false, nil
	}
	return append([]byte(nil), s.params...), true, nil
}
