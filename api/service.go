// Package api implements PML's Public API (spec.md §6): Discover and
// Execute, plus the supplemental RecordOutcome maintenance operation that
// closes the online-learning loop described in spec.md
// §4.4's episodic training model. Wire bindings live in api/rpc.
package api

import (
	"context"
	"time"

	"github.com/Casys-AI/pml-std-sub000/dag"
	"github.com/Casys-AI/pml-std-sub000/hypergraph"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/retriever"
	"github.com/Casys-AI/pml-std-sub000/shgat"
	"github.com/Casys-AI/pml-std-sub000/store"
	"github.com/Casys-AI/pml-std-sub000/telemetry"
	"github.com/Casys-AI/pml-std-sub000/types"
)

// Service is PML's core, transport-agnostic API surface.
type Service struct {
	Retriever *retriever.Retriever
	Executor  *dag.Executor
	Planner   dag.Planner
	Store     store.Store
	Index     *hypergraph.Index
	Trainer   *shgat.Trainer

	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// New wires a Service from its component dependencies. A nil Logger or
// Tracer falls back to a no-op implementation.
func New(r *retriever.Retriever, exec *dag.Executor, planner dag.Planner, st store.Store, idx *hypergraph.Index, trainer *shgat.Trainer, logger telemetry.Logger, tracer telemetry.Tracer) *Service {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Service{Retriever: r, Executor: exec, Planner: planner, Store: st, Index: idx, Trainer: trainer, Logger: logger, Tracer: tracer}
}

// DiscoverRequest is the decoded shape of a discover call.
type DiscoverRequest struct {
	Intent         string   `json:"intent"`
	ContextToolIDs []string `json:"context_tool_ids,omitempty"`
	K              int      `json:"k"`
	Explain        bool     `json:"explain,omitempty"`
}

// Discover ranks tools/capabilities/meta-capabilities against intent.
func (s *Service) Discover(ctx context.Context, req DiscoverRequest) ([]types.DiscoverHit, error) {
	ctx, span := s.Tracer.Start(ctx, "pml.discover")
	defer span.End()
	s.Logger.Debug(ctx, "discover", "intent", req.Intent, "k", req.K)

	if req.K <= 0 {
		req.K = 10
	}
	hits, err := s.Retriever.Discover(ctx, req.Intent, req.ContextToolIDs, req.K, req.Explain)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return hits, nil
}

// ExecuteRequest is the decoded shape of an execute call: either an
// explicit workflow, or an intent to be expanded by the configured
// Planner, plus the options named in spec.md's execute signature.
type ExecuteRequest struct {
	Workflow *types.Workflow `json:"workflow,omitempty"`
	Intent   string          `json:"intent,omitempty"`

	DeadlineMs     *int              `json:"deadline_ms,omitempty"`
	OnError        types.OnErrorMode `json:"on_error,omitempty"`
	MaxParallelism int64             `json:"max_parallelism,omitempty"`
}

// Execute runs req.Workflow (or the workflow produced by planning
// req.Intent) to completion and returns the aggregate ResultBundle.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*types.ResultBundle, error) {
	ctx, span := s.Tracer.Start(ctx, "pml.execute")
	defer span.End()

	wf := req.Workflow
	if wf == nil {
		if req.Intent == "" || s.Planner == nil {
			return nil, pmlerr.New(pmlerr.InvalidArgument, "execute requires a workflow or an intent with a configured planner")
		}
		planned, err := s.Planner.Plan(ctx, req.Intent)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		wf = planned
	}

	s.Logger.Info(ctx, "execute", "tasks", len(wf.Tasks))
	bundle, err := s.Executor.ExecuteWithOptions(ctx, wf, dag.ExecuteOptions{
		DeadlineMs:     req.DeadlineMs,
		OnError:        req.OnError,
		MaxParallelism: req.MaxParallelism,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.Logger.Info(ctx, "execute completed", "run_id", bundle.RunID, "succeeded", bundle.Succeeded, "failed", bundle.Failed)
	return bundle, nil
}

// RecordOutcomeRequest closes the online-training loop: the caller
// reports which capability was selected for an intent, the tools that
// were in context, and whether the outcome succeeded.
type RecordOutcomeRequest struct {
	Intent           string   `json:"intent"`
	ContextToolIDs   []string `json:"context_tool_ids,omitempty"`
	CapabilityID     string   `json:"capability_id"`
	MetaCapabilityID string   `json:"meta_capability_id,omitempty"`
	Outcome          bool     `json:"outcome"`
}

// RecordOutcome appends an episodic trace, updates the selected
// capability's success/attempt counters, and records a hypergraph
// co-occurrence selection. It is supplemental to the two named public
// operations (spec.md §6) — the seam that feeds SHGAT's online training.
func (s *Service) RecordOutcome(ctx context.Context, req RecordOutcomeRequest) error {
	trace := types.EpisodicTrace{
		Timestamp:        time.Now(),
		Intent:           req.Intent,
		ContextToolIDs:   req.ContextToolIDs,
		CapabilityID:     req.CapabilityID,
		MetaCapabilityID: req.MetaCapabilityID,
		Outcome:          req.Outcome,
	}
	if err := s.Store.AppendEpisode(ctx, trace); err != nil {
		return pmlerr.Wrap(pmlerr.Internal, err, "append episode")
	}

	cap, err := s.Store.GetCapability(ctx, req.CapabilityID)
	if err != nil {
		return err
	}
	cap.RecordOutcome(req.Outcome)
	if err := s.Store.UpsertCapability(ctx, cap); err != nil {
		return pmlerr.Wrap(pmlerr.Internal, err, "update capability outcome")
	}
	if s.Index != nil {
		s.Index.RecordSelection(cap.ID)
	}
	return nil
}
