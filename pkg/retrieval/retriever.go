package retrieval

import (
	"context"
	"strings"
	"sync"
)

// Document is one retrieved unit of source material, carried through
// the execution context and surfaced to the caller as provenance.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever turns a natural-language query into scored documents.
type Retriever interface {
	Name() string
	Search(ctx context.Context, query string, topK int) ([]Document, error)
}

// StaticRetriever serves a fixed corpus ranked by naive term overlap.
// It backs tests and demos; production uses VectorRetriever.
type StaticRetriever struct {
	RetrieverName string

	mu   sync.RWMutex
	docs []Document

	// Err, when set, is returned by every Search call.
	Err error
}

func NewStaticRetriever(name string, docs ...Document) *StaticRetriever {
	return &StaticRetriever{RetrieverName: name, docs: docs}
}

func (r *StaticRetriever) Name() string { return r.RetrieverName }

func (r *StaticRetriever) Add(docs ...Document) {
	r.mu.Lock()
	r.docs = append(r.docs, docs...)
	r.mu.Unlock()
}

func (r *StaticRetriever) Search(ctx context.Context, query string, topK int) ([]Document, error) {
	if r.Err != nil {
		return nil, r.Err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	out := make([]Document, 0, len(r.docs))

	for _, doc := range r.docs {
		haystack := strings.ToLower(doc.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				hits++
			}
		}

		scored := doc
		if len(terms) > 0 {
			scored.Score = float64(hits) / float64(len(terms))
		}
		out = append(out, scored)
	}

	// Keep insertion order for equal scores so tests are deterministic.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}

	return out, nil
}

var _ Retriever = (*VectorRetriever)(nil)
var _ Retriever = (*StaticRetriever)(nil)
