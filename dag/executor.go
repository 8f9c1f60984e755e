package dag

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Casys-AI/pml-std-sub000/gateway"
	"github.com/Casys-AI/pml-std-sub000/pmlerr"
	"github.com/Casys-AI/pml-std-sub000/types"
)

const defaultMaxAttempts = 1

// Executor dispatches a validated workflow's tasks layer by layer,
// parallelizing within a layer up to MaxConcurrency via errgroup and a
// bounded semaphore (spec.md §5).
type Executor struct {
	Gateway        *gateway.Gateway
	MaxConcurrency int64
}

// NewExecutor builds an Executor bound to gw, capping in-flight task
// dispatch at maxConcurrency.
func NewExecutor(gw *gateway.Gateway, maxConcurrency int64) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Executor{Gateway: gw, MaxConcurrency: maxConcurrency}
}

// ExecuteOptions carries the per-call overrides named in spec.md's execute
// operation (deadline_ms, on_error, max_parallelism) on top of an
// Executor's defaults. A nil DeadlineMs means no deadline; a zero value
// means already-expired, so every task that reaches dispatch fails
// immediately with a Timeout result, and tasks depending on a failed task
// are skipped as usual. OnError is the workflow-level override: "" (the default) and
// "continue" both confine a task failure's fallout to that task's own
// dependents (via DependsOn edges); only "abort" halts scheduling of
// every not-yet-dispatched task in the run, regardless of whether it
// actually depends on the failure.
type ExecuteOptions struct {
	DeadlineMs     *int
	OnError        types.OnErrorMode
	MaxParallelism int64
}

// Execute validates wf, then runs it to completion, returning the
// aggregate ResultBundle. Cross-task failures do not abort the executor
// (spec.md §7): a failed task's dependents are skipped or, if that task's
// own on_error is "continue", left to fail naturally when they try to
// resolve a reference to its missing output. Unrelated independent
// branches keep running. Only ExecuteOptions.OnError == "abort" halts the
// whole run on the first failure.
func (e *Executor) Execute(ctx context.Context, wf *types.Workflow) (*types.ResultBundle, error) {
	return e.ExecuteWithOptions(ctx, wf, ExecuteOptions{})
}

// ExecuteWithOptions is Execute with per-call deadline and concurrency
// overrides applied on top of the Executor's configured defaults.
func (e *Executor) ExecuteWithOptions(ctx context.Context, wf *types.Workflow, opts ExecuteOptions) (*types.ResultBundle, error) {
	if err := Validate(wf, e.Gateway); err != nil {
		return nil, err
	}
	layers, err := Layer(wf)
	if err != nil {
		return nil, err
	}

	if opts.DeadlineMs != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*opts.DeadlineMs)*time.Millisecond)
		defer cancel()
	}

	byID := make(map[string]types.Task, len(wf.Tasks))
	for _, t := range wf.Tasks {
		byID[t.ID] = t
	}

	var mu sync.Mutex
	outputs := make(map[string]types.TaskResult, len(wf.Tasks))
	var globalAbort bool

	maxConcurrency := e.MaxConcurrency
	if opts.MaxParallelism > 0 && opts.MaxParallelism < maxConcurrency {
		maxConcurrency = opts.MaxParallelism
	}
	sem := semaphore.NewWeighted(maxConcurrency)
	start := time.Now()

	for _, layer := range layers {
		g, gctx := errgroup.WithContext(ctx)
		for _, taskID := range layer {
			taskID := taskID
			task := byID[taskID]
			g.Go(func() error {
				mu.Lock()
				skip := globalAbort || dependencyFailed(task, byID, outputs)
				mu.Unlock()
				if skip {
					now := time.Now()
					mu.Lock()
					outputs[taskID] = types.TaskResult{TaskID: taskID, Status: types.TaskSkipped, StartedAt: now, EndedAt: now}
					mu.Unlock()
					return nil
				}

				if err := sem.Acquire(gctx, 1); err != nil {
					now := time.Now()
					mu.Lock()
					outputs[taskID] = errorResult(taskID, now, pmlerr.Wrap(pmlerr.Timeout, err, "deadline exceeded before dispatch"))
					if opts.OnError == types.OnErrorAbort {
						globalAbort = true
					}
					mu.Unlock()
					return nil
				}
				result := e.runTask(gctx, task, outputs, &mu)
				sem.Release(1)

				mu.Lock()
				outputs[taskID] = result
				if result.Status == types.TaskError && opts.OnError == types.OnErrorAbort {
					globalAbort = true
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, pmlerr.Wrap(pmlerr.Internal, err, "workflow execution")
		}
	}

	bundle := &types.ResultBundle{
		RunID:                 uuid.NewString(),
		TotalTasks:            len(wf.Tasks),
		ParallelizationLayers: len(layers),
		ExecutionTimeMs:       time.Since(start).Milliseconds(),
		Outputs:               outputs,
	}
	for _, t := range wf.Tasks {
		r := outputs[t.ID]
		switch r.Status {
		case types.TaskSuccess:
			bundle.Succeeded++
		case types.TaskError:
			bundle.Failed++
			bundle.Errors = append(bundle.Errors, types.ResultError{TaskID: t.ID, ErrorKind: r.ErrorKind, Message: r.Error})
		case types.TaskSkipped:
			bundle.Skipped++
		}
	}
	return bundle, nil
}

// dependencyFailed reports whether task must be skipped because one of
// its declared dependencies did not succeed and that dependency's own
// on_error is not "continue". Dependencies always belong to a strictly
// earlier layer (Layer's invariant), so outputs already holds their
// final result by the time this is evaluated.
func dependencyFailed(task types.Task, byID map[string]types.Task, outputs map[string]types.TaskResult) bool {
	for _, dep := range task.DependsOn {
		result, ok := outputs[dep]
		if !ok || result.Status == types.TaskSuccess {
			continue
		}
		if byID[dep].OnError == types.OnErrorContinue {
			continue
		}
		return true
	}
	return false
}

func (e *Executor) runTask(ctx context.Context, task types.Task, outputs map[string]types.TaskResult, mu *sync.Mutex) types.TaskResult {
	started := time.Now()
	taskCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutMs > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	policy := task.Retry
	maxAttempts := defaultMaxAttempts
	if policy != nil && policy.MaxAttempts > 0 {
		maxAttempts = policy.MaxAttempts
	}

	args, err := substituteArguments(task.Arguments, outputs, mu)
	if err != nil {
		return errorResult(task.ID, started, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-taskCtx.Done():
			return errorResult(task.ID, started, pmlerr.Wrap(pmlerr.Timeout, taskCtx.Err(), "task timed out"))
		default:
		}

		out, callErr := e.Gateway.Call(taskCtx, task.Tool, args)
		if callErr == nil {
			return types.TaskResult{
				TaskID:    task.ID,
				Status:    types.TaskSuccess,
				Output:    ensureJSON(out),
				StartedAt: started,
				EndedAt:   time.Now(),
			}
		}
		lastErr = callErr
		if attempt == maxAttempts {
			break
		}
		if err := sleepBackoff(taskCtx, policy, attempt); err != nil {
			return errorResult(task.ID, started, err)
		}
	}
	return errorResult(task.ID, started, lastErr)
}

func ensureJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`null`)
	}
	return raw
}

func errorResult(taskID string, started time.Time, err error) types.TaskResult {
	return types.TaskResult{
		TaskID:    taskID,
		Status:    types.TaskError,
		Error:     err.Error(),
		ErrorKind: pmlerr.KindOf(err).String(),
		StartedAt: started,
		EndedAt:   time.Now(),
	}
}

// sleepBackoff waits base*2^(attempt-1) ms, capped at MaxDelayMs and
// perturbed by +/- jitter fraction, before the next retry attempt.
func sleepBackoff(ctx context.Context, policy *types.RetryPolicy, attempt int) error {
	base := 100.0
	maxDelay := 5000.0
	jitter := 0.1
	if policy != nil {
		if policy.BaseDelayMs > 0 {
			base = float64(policy.BaseDelayMs)
		}
		if policy.MaxDelayMs > 0 {
			maxDelay = float64(policy.MaxDelayMs)
		}
		jitter = policy.Jitter
	}
	delay := base * math.Pow(2, float64(attempt-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	if jitter > 0 {
		spread := delay * jitter
		delay += (rand.Float64()*2 - 1) * spread
		if delay < 0 {
			delay = 0
		}
	}

	timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return pmlerr.Wrap(pmlerr.Cancelled, ctx.Err(), "retry backoff cancelled")
	}
}
