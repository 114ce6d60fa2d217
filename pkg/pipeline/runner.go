package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/cache"
	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
	"github.com/charmbracelet/log"
)

/*
Runner executes pipeline definitions. Linear definitions run their
steps in order on a single goroutine; DAG definitions are scheduled by
RunDAG with bounded parallelism. Both share the step executor and the
result cache.
*/
type Runner struct {
	executor       *StepExecutor
	cache          cache.ResultCache
	maxConcurrency int
	runTimeout     time.Duration
}

type RunnerOption func(*Runner)

func NewRunner(executor *StepExecutor, options ...RunnerOption) *Runner {
	runner := &Runner{
		executor:       executor,
		maxConcurrency: 4,
	}

	for _, option := range options {
		option(runner)
	}

	return runner
}

/*
Run validates the definition, consults the result cache, and executes
the steps in order. A failed run is never written to the cache.
*/
func (runner *Runner) Run(
	ctx context.Context, def *Definition, req RunRequest,
) (*Response, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	if def.IsDAG() {
		result, err := runner.RunDAG(ctx, def, req)
		if err != nil {
			return nil, err
		}
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	}

	if runner.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runner.runTimeout)
		defer cancel()
	}

	started := time.Now()
	key := cache.Key(def.ID, req.Query)

	if cached, ok := runner.lookup(def, req, key); ok {
		cached.Cached = true
		cached.LatencyMS = time.Since(started).Milliseconds()
		log.Debug("cache hit", "pipeline", def.ID)
		return cached, nil
	}

	ec := NewExecutionContext(req.Query, req.UserID)

	for _, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewError(errors.ErrRunCancelled, err)
		}

		log.Debug("executing step", "pipeline", def.ID, "step", step.ID, "kind", step.Kind)

		if err := runner.executor.Execute(ctx, step.ID, step.Kind, step.Config, ec); err != nil {
			// A deadline firing mid-step surfaces as a provider
			// failure; classify it as cancellation, not run failure.
			if ctx.Err() != nil {
				return nil, errors.NewError(errors.ErrRunCancelled, ctx.Err())
			}

			return nil, errors.NewError(
				errors.ErrRunFailed.WithData(fmt.Sprintf("step %q failed", step.ID)),
				err,
			)
		}
	}

	response := ec.Snapshot()
	response.LatencyMS = time.Since(started).Milliseconds()

	runner.store(def, req, key, response)
	return response, nil
}

func (runner *Runner) lookup(def *Definition, req RunRequest, key string) (*Response, bool) {
	if runner.cache == nil || !def.Cache.Enabled || !req.UseCache {
		return nil, false
	}

	value, ok := runner.cache.Get(key)
	if !ok {
		return nil, false
	}

	stored, ok := value.(*Response)
	if !ok {
		return nil, false
	}

	return cloneResponse(stored), true
}

func (runner *Runner) store(def *Definition, req RunRequest, key string, response *Response) {
	if runner.cache == nil || !def.Cache.Enabled || !req.UseCache {
		return
	}

	ttl := time.Duration(def.Cache.TTLSeconds) * time.Second
	if ttl <= 0 {
		return
	}

	runner.cache.Set(key, cloneResponse(response), ttl)
}

// cloneResponse copies a response deeply enough that neither side of
// the cache boundary can mutate the other's slices or maps.
func cloneResponse(response *Response) *Response {
	clone := *response

	clone.Sources = make([]retrieval.Document, len(response.Sources))
	copy(clone.Sources, response.Sources)

	for i, doc := range clone.Sources {
		if doc.Metadata == nil {
			continue
		}

		meta := make(map[string]any, len(doc.Metadata))
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		clone.Sources[i].Metadata = meta
	}

	clone.LLMsUsed = append([]string(nil), response.LLMsUsed...)
	clone.RetrieversUsed = append([]string(nil), response.RetrieversUsed...)

	if response.Metadata != nil {
		clone.Metadata = make(map[string]any, len(response.Metadata))
		for k, v := range response.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

func WithCache(store cache.ResultCache) RunnerOption {
	return func(runner *Runner) { runner.cache = store }
}

func WithMaxConcurrency(limit int) RunnerOption {
	return func(runner *Runner) {
		if limit > 0 {
			runner.maxConcurrency = limit
		}
	}
}

func WithRunTimeout(timeout time.Duration) RunnerOption {
	return func(runner *Runner) { runner.runTimeout = timeout }
}
