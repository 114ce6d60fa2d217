package pipeline

import (
	"sync"

	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
)

/*
ExecutionContext is the mutable state threaded through a run. Steps
read and write it through accessors; the internal lock makes the
accumulating fields safe for parallel DAG branches.
*/
type ExecutionContext struct {
	mu sync.Mutex

	originalQuery string
	currentQuery  string
	userID        string

	documents []retrieval.Document
	memories  []memory.Match

	answer     string
	confidence float64

	llmsUsed       []string
	retrieversUsed []string

	metadata map[string]any
}

func NewExecutionContext(query, userID string) *ExecutionContext {
	return &ExecutionContext{
		originalQuery: query,
		currentQuery:  query,
		userID:        userID,
		metadata:      make(map[string]any),
	}
}

func (ec *ExecutionContext) OriginalQuery() string { return ec.originalQuery }

func (ec *ExecutionContext) UserID() string { return ec.userID }

func (ec *ExecutionContext) CurrentQuery() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.currentQuery
}

func (ec *ExecutionContext) SetCurrentQuery(query string) {
	ec.mu.Lock()
	ec.currentQuery = query
	ec.mu.Unlock()
}

// AppendDocuments accumulates retrieval results; it never replaces.
func (ec *ExecutionContext) AppendDocuments(docs ...retrieval.Document) {
	ec.mu.Lock()
	ec.documents = append(ec.documents, docs...)
	ec.mu.Unlock()
}

func (ec *ExecutionContext) Documents() []retrieval.Document {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]retrieval.Document, len(ec.documents))
	copy(out, ec.documents)
	return out
}

// SetDocuments replaces the working set; rerank uses this after
// reordering what retrieval accumulated.
func (ec *ExecutionContext) SetDocuments(docs []retrieval.Document) {
	ec.mu.Lock()
	ec.documents = docs
	ec.mu.Unlock()
}

func (ec *ExecutionContext) AppendMemories(matches ...memory.Match) {
	ec.mu.Lock()
	ec.memories = append(ec.memories, matches...)
	ec.mu.Unlock()
}

func (ec *ExecutionContext) Memories() []memory.Match {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]memory.Match, len(ec.memories))
	copy(out, ec.memories)
	return out
}

func (ec *ExecutionContext) SetAnswer(answer string, confidence float64) {
	ec.mu.Lock()
	ec.answer = answer
	ec.confidence = confidence
	ec.mu.Unlock()
}

func (ec *ExecutionContext) Answer() (string, float64) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.answer, ec.confidence
}

func (ec *ExecutionContext) RecordLLM(name string) {
	ec.mu.Lock()
	ec.llmsUsed = appendUnique(ec.llmsUsed, name)
	ec.mu.Unlock()
}

func (ec *ExecutionContext) RecordRetriever(name string) {
	ec.mu.Lock()
	ec.retrieversUsed = appendUnique(ec.retrieversUsed, name)
	ec.mu.Unlock()
}

func (ec *ExecutionContext) SetMeta(key string, value any) {
	ec.mu.Lock()
	ec.metadata[key] = value
	ec.mu.Unlock()
}

func (ec *ExecutionContext) Meta(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	value, ok := ec.metadata[key]
	return value, ok
}

// Snapshot folds the context into a caller-facing response.
func (ec *ExecutionContext) Snapshot() *Response {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	meta := make(map[string]any, len(ec.metadata))
	for k, v := range ec.metadata {
		meta[k] = v
	}

	sources := make([]retrieval.Document, len(ec.documents))
	copy(sources, ec.documents)

	return &Response{
		Answer:         ec.answer,
		Sources:        sources,
		Confidence:     ec.confidence,
		LLMsUsed:       append([]string(nil), ec.llmsUsed...),
		RetrieversUsed: append([]string(nil), ec.retrieversUsed...),
		Metadata:       meta,
	}
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
