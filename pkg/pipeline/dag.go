package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/cache"
	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/charmbracelet/log"
)

type nodeOutcome struct {
	id  string
	err error
}

/*
RunDAG executes a node/edge definition with bounded parallelism. A
node becomes ready when every predecessor has completed; a failed node
marks all transitive dependents skipped without running them, while
independent branches keep executing. The shared execution context
accumulates state across branches.
*/
func (runner *Runner) RunDAG(
	ctx context.Context, def *Definition, req RunRequest,
) (*DAGResult, error) {
	if err := Validate(def); err != nil {
		return nil, err
	}

	if !def.IsDAG() {
		return nil, errors.ErrPipelineInvalid.WithData("definition has no nodes")
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

		return &DAGResult{
			Status:     StatusCompleted,
			Duration:   time.Since(started),
			NodeStates: make(map[string]NodeState),
			Response:   cached,
		}, nil
	}

	nodes := make(map[string]Node, len(def.Nodes))
	states := make(map[string]NodeState, len(def.Nodes))
	indegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string, len(def.Nodes))

	for _, node := range def.Nodes {
		nodes[node.ID] = node
		states[node.ID] = NodePending
	}

	for _, edge := range def.Edges {
		indegree[edge.Target]++
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
	}

	ready := make([]string, 0, len(def.Nodes))

	for _, node := range def.Nodes {
		if indegree[node.ID] == 0 {
			states[node.ID] = NodeReady
			ready = append(ready, node.ID)
		}
	}

	ec := NewExecutionContext(req.Query, req.UserID)
	outcomes := make(chan nodeOutcome, len(def.Nodes))

	var (
		running   int
		executed  int
		failed    int
		cancelled bool
		firstErr  error
	)

	terminal := 0

	// skip marks every transitive dependent of a failed node without
	// running it. Skipped nodes are terminal.
	var skip func(id string)
	skip = func(id string) {
		for _, next := range successors[id] {
			state := states[next]
			if state == NodePending || state == NodeReady {
				states[next] = NodeSkipped
				terminal++
				log.Debug("skipping node", "pipeline", def.ID, "node", next)
				skip(next)
			}
		}
	}

	launch := func(id string) {
		node := nodes[id]
		states[id] = NodeRunning
		running++

		go func() {
			err := runner.executor.Execute(ctx, node.ID, node.Kind, node.Config, ec)
			outcomes <- nodeOutcome{id: node.ID, err: err}
		}()
	}

	for terminal < len(def.Nodes) {
		for len(ready) > 0 && running < runner.maxConcurrency {
			id := ready[0]
			ready = ready[1:]
			launch(id)
		}

		if running == 0 {
			// Nothing in flight and nothing ready: the remaining
			// pending nodes hang off skipped ancestry.
			break
		}

		select {
		case <-ctx.Done():
			cancelled = true
		case outcome := <-outcomes:
			running--
			executed++
			terminal++

			if outcome.err != nil {
				states[outcome.id] = NodeFailed
				failed++

				if firstErr == nil {
					firstErr = fmt.Errorf("node %q: %w", outcome.id, outcome.err)
				}

				log.Error("node failed", "pipeline", def.ID, "node", outcome.id, "error", outcome.err)
				skip(outcome.id)
				continue
			}

			states[outcome.id] = NodeCompleted

			for _, next := range successors[outcome.id] {
				indegree[next]--
				if indegree[next] == 0 && states[next] == NodePending {
					states[next] = NodeReady
					ready = append(ready, next)
				}
			}
		}

		if cancelled {
			break
		}
	}

	// Drain in-flight workers so nothing writes after we return.
	for running > 0 {
		outcome := <-outcomes
		running--
		executed++
		terminal++

		if outcome.err != nil {
			states[outcome.id] = NodeFailed
			failed++
		} else {
			states[outcome.id] = NodeCompleted
		}
	}

	for id, state := range states {
		if state == NodePending || state == NodeReady {
			states[id] = NodeSkipped
		}
	}

	result := &DAGResult{
		Duration:      time.Since(started),
		NodesExecuted: executed,
		NodeStates:    states,
	}

	switch {
	case cancelled:
		result.Status = StatusCancelled
		result.Err = errors.NewError(errors.ErrRunCancelled, ctx.Err())
	case failed > 0:
		result.Status = StatusFailed
		result.Err = errors.NewError(errors.ErrRunFailed, firstErr)
	default:
		result.Status = StatusCompleted
		response := ec.Snapshot()
		response.LatencyMS = time.Since(started).Milliseconds()
		result.Response = response
		runner.store(def, req, key, response)
	}

	return result, nil
}
