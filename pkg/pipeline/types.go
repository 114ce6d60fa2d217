package pipeline

import (
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
)

// StepKind identifies the operation a step performs.
type StepKind string

const (
	StepRewrite         StepKind = "rewrite"
	StepRetrieve        StepKind = "retrieve"
	StepRerank          StepKind = "rerank"
	StepGenerate        StepKind = "generate"
	StepPostProcess     StepKind = "post-process"
	StepMemoryRetrieve  StepKind = "memory-retrieve"
	StepMemoryUpdate    StepKind = "memory-update"
	StepMemorySummarize StepKind = "memory-summarize"
)

// knownKinds is the validation whitelist.
var knownKinds = map[StepKind]bool{
	StepRewrite:         true,
	StepRetrieve:        true,
	StepRerank:          true,
	StepGenerate:        true,
	StepPostProcess:     true,
	StepMemoryRetrieve:  true,
	StepMemoryUpdate:    true,
	StepMemorySummarize: true,
}

// llmKinds are the kinds whose config must carry a primary model.
var llmKinds = map[StepKind]bool{
	StepRewrite:  true,
	StepRerank:   true,
	StepGenerate: true,
}

/*
StepConfig carries the per-kind tuning knobs. A single bag keeps the
JSON surface flat; validation enforces which fields each kind requires.
*/
type StepConfig struct {
	// LLM-backed kinds (rewrite, rerank, generate).
	Model        provider.ModelRef   `json:"model,omitempty"`
	Fallbacks    []provider.ModelRef `json:"fallbacks,omitempty"`
	Temperature  float64             `json:"temperature,omitempty"`
	MaxTokens    int64               `json:"maxTokens,omitempty"`
	SystemPrompt string              `json:"systemPrompt,omitempty"`

	// PromptTemplate, when set, replaces the default prompt; the
	// literal "{{query}}" expands to the current query.
	PromptTemplate string `json:"promptTemplate,omitempty"`

	// retrieve
	Retriever string `json:"retriever,omitempty"`
	TopK      int    `json:"topK,omitempty"`

	// memory-* kinds
	MemoryTopK     int                  `json:"memoryTopK,omitempty"`
	MergeStrategy  memory.MergeStrategy `json:"mergeStrategy,omitempty"`
	GroupThreshold float64              `json:"groupThreshold,omitempty"`
	MemoryType     memory.EntryType     `json:"memoryType,omitempty"`
	SkipDedup      bool                 `json:"skipDedup,omitempty"`
	HybridSearch   bool                 `json:"hybridSearch,omitempty"`
	MinMemoryScore float64              `json:"minMemoryScore,omitempty"`
}

// Step is one unit of work in a linear pipeline.
type Step struct {
	ID     string     `json:"id"`
	Kind   StepKind   `json:"kind"`
	Config StepConfig `json:"config"`
}

// Position is presentation-only; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one vertex of a DAG pipeline.
type Node struct {
	ID       string     `json:"id"`
	Kind     StepKind   `json:"kind"`
	Config   StepConfig `json:"config"`
	Position Position   `json:"position"`
}

// Edge is a directed dependency: Target runs after Source completes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// CachePolicy controls result caching for a pipeline.
type CachePolicy struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttlSeconds"`
}

/*
Definition is a stored pipeline: either a linear sequence of steps or
a DAG of nodes and edges. A definition carries exactly one shape; the
runner picks the matching execution strategy.
*/
type Definition struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Steps []Step      `json:"steps,omitempty"`
	Nodes []Node      `json:"nodes,omitempty"`
	Edges []Edge      `json:"edges,omitempty"`
	Cache CachePolicy `json:"cache"`
}

// IsDAG reports whether the definition is node/edge shaped.
func (def *Definition) IsDAG() bool { return len(def.Nodes) > 0 }

// RunRequest is one execution of a pipeline against a query.
type RunRequest struct {
	Query    string `json:"query"`
	UserID   string `json:"userId,omitempty"`
	UseCache bool   `json:"useCache"`
}

// Response is the caller-facing outcome of a run.
type Response struct {
	Answer         string               `json:"answer"`
	Sources        []retrieval.Document `json:"sources,omitempty"`
	Confidence     float64              `json:"confidence"`
	LatencyMS      int64                `json:"latencyMs"`
	LLMsUsed       []string             `json:"llmsUsed,omitempty"`
	RetrieversUsed []string             `json:"retrieversUsed,omitempty"`
	Cached         bool                 `json:"cached"`
	Metadata       map[string]any       `json:"metadata,omitempty"`
}

// NodeState is the lifecycle of one DAG node during a run.
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeCompleted NodeState = "completed"
	NodeFailed    NodeState = "failed"
	NodeSkipped   NodeState = "skipped"
)

// RunStatus is the terminal status of a DAG run.
type RunStatus string

const (
	StatusCompleted RunStatus = "COMPLETED"
	StatusFailed    RunStatus = "FAILED"
	StatusCancelled RunStatus = "CANCELLED"
)

// DAGResult reports a finished DAG run.
type DAGResult struct {
	Status        RunStatus            `json:"status"`
	Duration      time.Duration        `json:"duration"`
	NodesExecuted int                  `json:"nodesExecuted"`
	NodeStates    map[string]NodeState `json:"nodeStates"`
	Response      *Response            `json:"response,omitempty"`
	Err           error                `json:"-"`
}
