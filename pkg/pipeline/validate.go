package pipeline

import (
	"fmt"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/cohesivestack/valgo"
)

/*
Validate checks a definition before any execution side effects. It
enforces the field-level rules, the per-kind config requirements, and
for DAG pipelines, that the graph is well-formed and acyclic.
*/
func Validate(def *Definition) error {
	val := valgo.Is(
		valgo.String(def.ID, "id").Not().Blank(),
		valgo.String(def.Name, "name").Not().Blank(),
	)

	if !val.Valid() {
		return errors.ErrPipelineInvalid.WithData(val.Error().Error())
	}

	if def.IsDAG() {
		if len(def.Steps) > 0 {
			return errors.ErrPipelineInvalid.WithData(
				"definition carries both steps and nodes",
			)
		}
		return validateGraph(def)
	}

	if len(def.Steps) == 0 {
		return errors.ErrPipelineInvalid.WithData("pipeline has no steps")
	}

	seen := make(map[string]bool, len(def.Steps))

	for _, step := range def.Steps {
		if err := validateStep(step.ID, step.Kind, step.Config); err != nil {
			return err
		}

		if seen[step.ID] {
			return errors.ErrPipelineInvalid.WithData(
				fmt.Sprintf("duplicate step id %q", step.ID),
			)
		}

		seen[step.ID] = true
	}

	return nil
}

func validateStep(id string, kind StepKind, config StepConfig) error {
	val := valgo.Is(valgo.String(id, "id").Not().Blank())

	if !val.Valid() {
		return errors.ErrStepConfig.WithData(val.Error().Error())
	}

	if !knownKinds[kind] {
		return errors.ErrStepConfig.WithData(
			fmt.Sprintf("step %q has unknown kind %q", id, kind),
		)
	}

	if llmKinds[kind] {
		val = valgo.Is(
			valgo.String(config.Model.Provider, "model.provider").Not().Blank(),
			valgo.String(config.Model.Model, "model.model").Not().Blank(),
		)

		if !val.Valid() {
			return errors.ErrStepConfig.WithData(fmt.Sprintf(
				"step %q: %s", id, val.Error().Error(),
			))
		}

		for idx, ref := range config.Fallbacks {
			if ref.Provider == "" || ref.Model == "" {
				return errors.ErrStepConfig.WithData(fmt.Sprintf(
					"step %q: fallback %d is missing provider or model", id, idx,
				))
			}
		}
	}

	if kind == StepRetrieve {
		val = valgo.Is(
			valgo.String(config.Retriever, "retriever").Not().Blank(),
		)

		if !val.Valid() {
			return errors.ErrStepConfig.WithData(fmt.Sprintf(
				"step %q: %s", id, val.Error().Error(),
			))
		}
	}

	if config.TopK < 0 {
		return errors.ErrStepConfig.WithData(
			fmt.Sprintf("step %q: topK must not be negative", id),
		)
	}

	return nil
}

func validateGraph(def *Definition) error {
	nodes := make(map[string]Node, len(def.Nodes))

	for _, node := range def.Nodes {
		if err := validateStep(node.ID, node.Kind, node.Config); err != nil {
			return err
		}

		if _, dup := nodes[node.ID]; dup {
			return errors.ErrPipelineInvalid.WithData(
				fmt.Sprintf("duplicate node id %q", node.ID),
			)
		}

		nodes[node.ID] = node
	}

	indegree := make(map[string]int, len(def.Nodes))
	successors := make(map[string][]string, len(def.Nodes))

	for _, edge := range def.Edges {
		if _, ok := nodes[edge.Source]; !ok {
			return errors.ErrDanglingEdge.WithData(
				fmt.Sprintf("edge source %q is not a node", edge.Source),
			)
		}

		if _, ok := nodes[edge.Target]; !ok {
			return errors.ErrDanglingEdge.WithData(
				fmt.Sprintf("edge target %q is not a node", edge.Target),
			)
		}

		if edge.Source == edge.Target {
			return errors.ErrGraphCycle.WithData(
				fmt.Sprintf("node %q depends on itself", edge.Source),
			)
		}

		indegree[edge.Target]++
		successors[edge.Source] = append(successors[edge.Source], edge.Target)
	}

	// Kahn's algorithm: if the topological order does not cover every
	// node, the remainder forms at least one cycle.
	queue := make([]string, 0, len(nodes))

	for id := range nodes {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, next := range successors[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(nodes) {
		return errors.ErrGraphCycle.WithData("graph contains a cycle")
	}

	return nil
}
