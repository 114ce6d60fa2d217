package service

import (
	"sort"
	"sync"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/pipeline"
)

/*
Registry holds the pipeline definitions the server can run. Writes
validate before storing so a bad definition is rejected at register
time, not at run time.
*/
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*pipeline.Definition
}

func NewRegistry() *Registry {
	return &Registry{definitions: make(map[string]*pipeline.Definition)}
}

func (reg *Registry) Put(def *pipeline.Definition) error {
	if err := pipeline.Validate(def); err != nil {
		return err
	}

	reg.mu.Lock()
	reg.definitions[def.ID] = def
	reg.mu.Unlock()
	return nil
}

func (reg *Registry) Get(id string) (*pipeline.Definition, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	def, ok := reg.definitions[id]
	if !ok {
		return nil, errors.ErrPipelineInvalid.WithMessagef(
			"pipeline %q is not registered", id,
		)
	}

	return def, nil
}

func (reg *Registry) Delete(id string) {
	reg.mu.Lock()
	delete(reg.definitions, id)
	reg.mu.Unlock()
}

func (reg *Registry) List() []*pipeline.Definition {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]*pipeline.Definition, 0, len(reg.definitions))
	for _, def := range reg.definitions {
		out = append(out, def)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
