// Package mongo provides a MongoDB implementation of store.Store.
//
// This implementation persists tool schemas, capability metadata,
// embeddings, episodic traces, and SHGAT parameter snapshots across
// restarts, suitable for production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Casys-AI/pml-std-sub000/store"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Collections names the MongoDB collections backing a Store.
type Collections struct {
	Tools        *mongo.Collection
	Capabilities *mongo.Collection
	Episodes     *mongo.Collection
	Params       *mongo.Collection
}

// Store is a MongoDB implementation of store.Store.
type Store struct {
	cols Collections
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// New creates a new MongoDB store using the given database, deriving
// collection names "tool_schema", "capability", "episode", and
// "shgat_params".
func New(db *mongo.Database) *Store {
	return &Store{cols: Collections{
		Tools:        db.Collection("tool_schema"),
		Capabilities: db.Collection("capability"),
		Episodes:     db.Collection("episode"),
		Params:       db.Collection("shgat_params"),
	}}
}

type paramsDocument struct {
	Version   int64     `bson:"version"`
	Blob      []byte    `bson:"blob"`
	CreatedAt time.Time `bson:"created_at"`
}

// UpsertTool stores or updates a tool document.
func (s *Store) UpsertTool(ctx context.Context, tool *types.Tool) error {
	opts := options.Replace().SetUpsert(true)
	_, err := s.cols.Tools.ReplaceOne(ctx, bson.M{"_id": tool.ID}, tool, opts)
	if err != nil {
		return fmt.Errorf("mongodb upsert tool %q: %w", tool.ID, err)
	}
	return nil
}

// GetTool retrieves a tool by id.
func (s *Store) GetTool(ctx context.Context, id string) (*types.Tool, error) {
	var t types.Tool
	err := s.cols.Tools.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound("tool", id)
		}
		return nil, fmt.Errorf("mongodb get tool %q: %w", id, err)
	}
	return &t, nil
}

// ListTools returns every registered tool.
func (s *Store) ListTools(ctx context.Context) ([]*types.Tool, error) {
	cursor, err := s.cols.Tools.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list tools: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var out []*types.Tool
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list tools decode: %w", err)
	}
	return out, nil
}

// UpsertCapability stores or updates a capability document.
func (s *Store) UpsertCapability(ctx context.Context, cap *types.Capability) error {
	if err := store.ValidateCapability(cap); err != nil {
		return err
	}
	opts := options.Replace().SetUpsert(true)
	_, err := s.cols.Capabilities.ReplaceOne(ctx, bson.M{"_id": cap.ID}, cap, opts)
	if err != nil {
		return fmt.Errorf("mongodb upsert capability %q: %w", cap.ID, err)
	}
	return nil
}

// GetCapability retrieves a capability by id.
func (s *Store) GetCapability(ctx context.Context, id string) (*types.Capability, error) {
	var c types.Capability
	err := s.cols.Capabilities.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound("capability", id)
		}
		return nil, fmt.Errorf("mongodb get capability %q: %w", id, err)
	}
	return &c, nil
}

// DeleteCapability removes a capability by id.
func (s *Store) DeleteCapability(ctx context.Context, id string) error {
	result, err := s.cols.Capabilities.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("mongodb delete capability %q: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound("capability", id)
	}
	return nil
}

// ListCapabilities returns every registered capability.
func (s *Store) ListCapabilities(ctx context.Context) ([]*types.Capability, error) {
	cursor, err := s.cols.Capabilities.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongodb list capabilities: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var out []*types.Capability
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb list capabilities decode: %w", err)
	}
	return out, nil
}

// GetEmbedding returns the embedding for a tool or capability id.
func (s *Store) GetEmbedding(ctx context.Context, id string) ([]float32, bool, error) {
	var t types.Tool
	err := s.cols.Tools.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err == nil {
		return t.Embedding, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("mongodb get embedding %q: %w", id, err)
	}
	var c types.Capability
	err = s.cols.Capabilities.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err == nil {
		return c.Embedding, true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	return nil, false, fmt.Errorf("mongodb get embedding %q: %w", id, err)
}

// TopKCosine loads every candidate vector and scores it in-process; a
// brute-force scan is acceptable for <=10^5 entries.
func (s *Store) TopKCosine(ctx context.Context, query []float32, k int, minSim float64) ([]store.Scored, error) {
	tools, err := s.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	caps, err := s.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	scored := make([]store.Scored, 0, len(tools)+len(caps))
	for _, t := range tools {
		if sim := dot(query, t.Embedding); sim >= minSim {
			scored = append(scored, store.Scored{ID: t.ID, Score: sim})
		}
	}
	for _, c := range caps {
		if sim := dot(query, c.Embedding); sim >= minSim {
			scored = append(scored, store.Scored{ID: c.ID, Score: sim})
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

// AppendEpisode appends an episodic trace document. The episode collection
// is not capped: older traces are never evicted.
func (s *Store) AppendEpisode(ctx context.Context, trace types.EpisodicTrace) error {
	_, err := s.cols.Episodes.InsertOne(ctx, trace)
	if err != nil {
		return fmt.Errorf("mongodb append episode: %w", err)
	}
	return nil
}

// IterRecentEpisodes returns up to n of the most recently appended traces.
func (s *Store) IterRecentEpisodes(ctx context.Context, n int) ([]types.EpisodicTrace, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if n > 0 {
		opts.SetLimit(int64(n))
	}
	cursor, err := s.cols.Episodes.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb iter episodes: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()
	var out []types.EpisodicTrace
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongodb iter episodes decode: %w", err)
	}
	return out, nil
}

// SaveParams persists an opaque SHGAT parameter snapshot blob with a
// monotonically increasing version.
func (s *Store) SaveParams(ctx context.Context, blob []byte) error {
	version := time.Now().UnixNano()
	doc := paramsDocument{Version: version, Blob: blob, CreatedAt: time.Now()}
	_, err := s.cols.Params.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("mongodb save params: %w", err)
	}
	return nil
}

// LoadParams returns the most recently saved SHGAT parameter blob.
func (s *Store) LoadParams(ctx context.Context) ([]byte, bool, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	var doc paramsDocument
	err := s.cols.Params.FindOne(ctx, bson.M{}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("mongodb load params: %w", err)
	}
	return doc.Blob, true, nil
}
