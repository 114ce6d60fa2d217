package pipeline

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/cache"
	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
	"github.com/stretchr/testify/assert"
)

var mockRef = provider.ModelRef{Provider: "mock", Model: "test-model"}

func testCorpus() []retrieval.Document {
	return []retrieval.Document{
		{ID: "doc-1", Content: "The capital of France is Paris.", Score: 0.9},
		{ID: "doc-2", Content: "Paris hosts the Louvre museum.", Score: 0.8},
		{ID: "doc-3", Content: "Berlin is the capital of Germany.", Score: 0.4},
	}
}

func newTestExecutor(mock *provider.MockProvider, options ...ExecutorOption) *StepExecutor {
	orch := provider.NewOrchestrator(provider.WithProvider(mock))
	return NewStepExecutor(orch, options...)
}

func linearDefinition(steps ...Step) *Definition {
	return &Definition{ID: "pipe-1", Name: "test pipeline", Steps: steps}
}

func TestValidateRejectsBlankID(t *testing.T) {
	def := &Definition{Name: "unnamed", Steps: []Step{
		{ID: "s1", Kind: StepPostProcess},
	}}

	err := Validate(def)
	assert.Error(t, err)

	var engineErr *errors.EngineError
	assert.True(t, stderrors.As(err, &engineErr))
	assert.Equal(t, errors.ErrPipelineInvalid.Code, engineErr.Code)
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	def := linearDefinition(Step{ID: "s1", Kind: StepKind("explode")})

	err := Validate(def)
	assert.Error(t, err)

	var engineErr *errors.EngineError
	assert.True(t, stderrors.As(err, &engineErr))
	assert.Equal(t, errors.ErrStepConfig.Code, engineErr.Code)
}

func TestValidateRequiresModelForLLMSteps(t *testing.T) {
	def := linearDefinition(Step{ID: "s1", Kind: StepGenerate})
	assert.Error(t, Validate(def))
}

func TestValidateRejectsDanglingEdge(t *testing.T) {
	def := &Definition{
		ID:   "dag-1",
		Name: "bad graph",
		Nodes: []Node{
			{ID: "a", Kind: StepPostProcess},
		},
		Edges: []Edge{{Source: "a", Target: "ghost"}},
	}

	err := Validate(def)
	assert.Error(t, err)

	var engineErr *errors.EngineError
	assert.True(t, stderrors.As(err, &engineErr))
	assert.Equal(t, errors.ErrDanglingEdge.Code, engineErr.Code)
}

func TestValidateRejectsCycle(t *testing.T) {
	def := &Definition{
		ID:   "dag-2",
		Name: "cyclic graph",
		Nodes: []Node{
			{ID: "a", Kind: StepPostProcess},
			{ID: "b", Kind: StepPostProcess},
			{ID: "c", Kind: StepPostProcess},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
		},
	}

	err := Validate(def)
	assert.Error(t, err)

	var engineErr *errors.EngineError
	assert.True(t, stderrors.As(err, &engineErr))
	assert.Equal(t, errors.ErrGraphCycle.Code, engineErr.Code)
}

func TestRewriteReplacesCurrentQuery(t *testing.T) {
	exec := newTestExecutor(provider.NewMockProvider("mock", "capital city of France"))

	ec := NewExecutionContext("Whats frances capital??", "user-1")

	err := exec.Execute(context.Background(), "rw", StepRewrite, StepConfig{
		Model:          mockRef,
		PromptTemplate: "Clean up this query: {{query}}",
	}, ec)

	assert.NoError(t, err)
	assert.Equal(t, "capital city of France", ec.CurrentQuery())
	assert.Equal(t, "Whats frances capital??", ec.OriginalQuery())

	rewritten, ok := ec.Meta("rewrittenQuery")
	assert.True(t, ok)
	assert.Equal(t, "capital city of France", rewritten)
}

func TestRerankReordersDocuments(t *testing.T) {
	exec := newTestExecutor(provider.NewMockProvider("mock", "2, 1, 3"))

	ec := NewExecutionContext("capital of France", "user-1")
	ec.AppendDocuments(testCorpus()...)

	err := exec.Execute(context.Background(), "rank", StepRerank, StepConfig{
		Model: mockRef,
	}, ec)

	assert.NoError(t, err)

	docs := ec.Documents()
	assert.Len(t, docs, 3)
	assert.Equal(t, "doc-2", docs[0].ID)
	assert.Equal(t, "doc-1", docs[1].ID)
	assert.Equal(t, "doc-3", docs[2].ID)
}

func TestRerankDropsUnmentionedDocuments(t *testing.T) {
	exec := newTestExecutor(provider.NewMockProvider("mock", "2"))

	ec := NewExecutionContext("museums", "user-1")
	ec.AppendDocuments(testCorpus()...)

	err := exec.Execute(context.Background(), "rank", StepRerank, StepConfig{
		Model: mockRef,
	}, ec)

	assert.NoError(t, err)

	docs := ec.Documents()
	assert.Len(t, docs, 1)
	assert.Equal(t, "doc-2", docs[0].ID)
}

func TestRerankKeepsOrderOnUnparseableReply(t *testing.T) {
	exec := newTestExecutor(provider.NewMockProvider("mock", "banana"))

	ec := NewExecutionContext("capital of France", "user-1")
	ec.AppendDocuments(testCorpus()...)

	err := exec.Execute(context.Background(), "rank", StepRerank, StepConfig{
		Model: mockRef,
	}, ec)

	assert.NoError(t, err)

	docs := ec.Documents()
	assert.Len(t, docs, 3)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "doc-3", docs[2].ID)
}

func TestRerankIgnoresOutOfRangeAndDuplicates(t *testing.T) {
	exec := newTestExecutor(provider.NewMockProvider("mock", "9, 3, 3, 1"))

	ec := NewExecutionContext("capitals", "user-1")
	ec.AppendDocuments(testCorpus()...)

	err := exec.Execute(context.Background(), "rank", StepRerank, StepConfig{
		Model: mockRef,
	}, ec)

	assert.NoError(t, err)

	docs := ec.Documents()
	assert.Len(t, docs, 2)
	assert.Equal(t, "doc-3", docs[0].ID)
	assert.Equal(t, "doc-1", docs[1].ID)
}

func TestLinearRunProducesAnswer(t *testing.T) {
	mock := provider.NewMockProvider("mock", "Paris is the capital of France.")
	rtvr := retrieval.NewStaticRetriever("corpus", testCorpus()...)
	runner := NewRunner(newTestExecutor(mock, WithRetriever(rtvr)))

	def := linearDefinition(
		Step{ID: "fetch", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
		Step{ID: "tidy", Kind: StepPostProcess},
	)

	response, err := runner.Run(context.Background(), def, RunRequest{
		Query: "capital of France", UserID: "user-1",
	})

	assert.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", response.Answer)
	assert.False(t, response.Cached)
	assert.Equal(t, []string{"mock/test-model"}, response.LLMsUsed)
	assert.Equal(t, []string{"corpus"}, response.RetrieversUsed)
	assert.NotEmpty(t, response.Sources)
}

func TestConfidenceTracksTopDocumentScore(t *testing.T) {
	mock := provider.NewMockProvider("mock", "answer")
	exec := newTestExecutor(mock)

	ec := NewExecutionContext("q", "user-1")
	ec.AppendDocuments(retrieval.Document{ID: "d", Content: "text", Score: 0.5})

	err := exec.Execute(context.Background(), "gen", StepGenerate, StepConfig{
		Model: mockRef,
	}, ec)
	assert.NoError(t, err)

	_, confidence := ec.Answer()
	assert.InDelta(t, 0.6, confidence, 1e-9)
}

func TestConfidenceCapAndNeutralFloor(t *testing.T) {
	assert.InDelta(t, 0.95, confidenceFor([]retrieval.Document{{Score: 1.0}}), 1e-9)
	assert.InDelta(t, 0.5, confidenceFor(nil), 1e-9)
}

func TestRetrievalFailureIsSoft(t *testing.T) {
	mock := provider.NewMockProvider("mock", "best effort answer")
	rtvr := retrieval.NewStaticRetriever("corpus")
	rtvr.Err = stderrors.New("index offline")

	runner := NewRunner(newTestExecutor(mock, WithRetriever(rtvr)))

	def := linearDefinition(
		Step{ID: "fetch", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)

	response, err := runner.Run(context.Background(), def, RunRequest{Query: "anything"})

	assert.NoError(t, err)
	assert.Equal(t, "best effort answer", response.Answer)
	assert.Empty(t, response.Sources)
	assert.InDelta(t, 0.5, response.Confidence, 1e-9)
	assert.Equal(t, "index offline", response.Metadata[metaRetrievalError])
}

func TestRewriteFailureEndsRun(t *testing.T) {
	mock := provider.NewFailingProvider("mock", errors.KindTransient)
	runner := NewRunner(newTestExecutor(mock))

	def := linearDefinition(
		Step{ID: "rewrite", Kind: StepRewrite, Config: StepConfig{Model: mockRef}},
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)

	_, err := runner.Run(context.Background(), def, RunRequest{Query: "q"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), errors.ErrRewriteFailed.Message)
}

func TestCacheRoundTrip(t *testing.T) {
	mock := provider.NewMockProvider("mock", "cached answer")
	store := cache.NewInMemoryResultCache()
	runner := NewRunner(newTestExecutor(mock), WithCache(store))

	def := linearDefinition(
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)
	def.Cache = CachePolicy{Enabled: true, TTLSeconds: 60}

	req := RunRequest{Query: "capital of France", UseCache: true}

	first, err := runner.Run(context.Background(), def, req)
	assert.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := runner.Run(context.Background(), def, req)
	assert.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)

	// The second run must not have touched the provider.
	assert.Equal(t, 1, mock.Calls())
}

func TestCacheBypassWhenDisabled(t *testing.T) {
	mock := provider.NewMockProvider("mock", "fresh answer")
	store := cache.NewInMemoryResultCache()
	runner := NewRunner(newTestExecutor(mock), WithCache(store))

	def := linearDefinition(
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)
	def.Cache = CachePolicy{Enabled: true, TTLSeconds: 60}

	_, err := runner.Run(context.Background(), def, RunRequest{Query: "q", UseCache: true})
	assert.NoError(t, err)

	_, err = runner.Run(context.Background(), def, RunRequest{Query: "q", UseCache: false})
	assert.NoError(t, err)

	assert.Equal(t, 2, mock.Calls())
}

func TestFailedRunIsNotCached(t *testing.T) {
	mock := provider.NewFailingProvider("mock", errors.KindTransient)
	store := cache.NewInMemoryResultCache()
	runner := NewRunner(newTestExecutor(mock), WithCache(store))

	def := linearDefinition(
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)
	def.Cache = CachePolicy{Enabled: true, TTLSeconds: 60}

	_, err := runner.Run(context.Background(), def, RunRequest{Query: "q", UseCache: true})
	assert.Error(t, err)

	_, ok := store.Get(cache.Key(def.ID, "q"))
	assert.False(t, ok)
}

func TestLinearRunTimeoutMidStepIsCancellation(t *testing.T) {
	orch := provider.NewOrchestrator(provider.WithProvider(slowProvider{}))
	runner := NewRunner(
		NewStepExecutor(orch),
		WithRunTimeout(50*time.Millisecond),
	)

	def := linearDefinition(
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{
			Model: provider.ModelRef{Provider: "slow", Model: "m"},
		}},
	)

	_, err := runner.Run(context.Background(), def, RunRequest{Query: "q"})

	assert.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRunCancelled))
	assert.False(t, stderrors.Is(err, errors.ErrRunFailed))
}

func TestCachedResponseIsIsolated(t *testing.T) {
	mock := provider.NewMockProvider("mock", "isolated answer")
	rtvr := retrieval.NewStaticRetriever("corpus", testCorpus()...)
	store := cache.NewInMemoryResultCache()
	runner := NewRunner(newTestExecutor(mock, WithRetriever(rtvr)), WithCache(store))

	def := linearDefinition(
		Step{ID: "fetch", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)
	def.Cache = CachePolicy{Enabled: true, TTLSeconds: 60}

	req := RunRequest{Query: "capital of France", UseCache: true}

	first, err := runner.Run(context.Background(), def, req)
	assert.NoError(t, err)

	// Mutating one caller's view must not leak into the cache.
	first.Sources[0].Content = "defaced"
	first.Metadata["injected"] = true

	second, err := runner.Run(context.Background(), def, req)
	assert.NoError(t, err)
	assert.True(t, second.Cached)
	assert.NotEqual(t, "defaced", second.Sources[0].Content)
	_, injected := second.Metadata["injected"]
	assert.False(t, injected)
}

func TestLinearRunCancelled(t *testing.T) {
	mock := provider.NewMockProvider("mock", "never used")
	runner := NewRunner(newTestExecutor(mock))

	def := linearDefinition(
		Step{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, def, RunRequest{Query: "q"})
	assert.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRunCancelled))
}

func diamondDefinition() *Definition {
	return &Definition{
		ID:   "dag-diamond",
		Name: "diamond",
		Nodes: []Node{
			{ID: "fetch", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
			{ID: "left", Kind: StepPostProcess},
			{ID: "right", Kind: StepPostProcess},
			{ID: "answer", Kind: StepGenerate, Config: StepConfig{Model: mockRef}},
		},
		Edges: []Edge{
			{Source: "fetch", Target: "left"},
			{Source: "fetch", Target: "right"},
			{Source: "left", Target: "answer"},
			{Source: "right", Target: "answer"},
		},
	}
}

func TestDAGVisitsEachNodeOnce(t *testing.T) {
	mock := provider.NewMockProvider("mock", "an answer")
	rtvr := retrieval.NewStaticRetriever("corpus", testCorpus()...)
	runner := NewRunner(newTestExecutor(mock, WithRetriever(rtvr)))

	result, err := runner.RunDAG(
		context.Background(), diamondDefinition(), RunRequest{Query: "q"},
	)

	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 4, result.NodesExecuted)
	assert.Equal(t, 1, mock.Calls())

	for id, state := range result.NodeStates {
		assert.Equal(t, NodeCompleted, state, "node %s", id)
	}

	assert.NotNil(t, result.Response)
	assert.Equal(t, "an answer", result.Response.Answer)
}

func TestDAGSkipsDependentsOfFailedNode(t *testing.T) {
	good := provider.NewMockProvider("mock", "unreached")
	bad := provider.NewFailingProvider("bad", errors.KindTransient)
	orch := provider.NewOrchestrator(
		provider.WithProvider(good), provider.WithProvider(bad),
	)

	rtvr := retrieval.NewStaticRetriever("corpus", testCorpus()...)
	exec := NewStepExecutor(orch, WithRetriever(rtvr))
	runner := NewRunner(exec)

	def := &Definition{
		ID:   "dag-partial",
		Name: "partial failure",
		Nodes: []Node{
			{ID: "fetch", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
			{ID: "broken", Kind: StepGenerate, Config: StepConfig{
				Model: provider.ModelRef{Provider: "bad", Model: "m"},
			}},
			{ID: "downstream", Kind: StepPostProcess},
			{ID: "independent", Kind: StepPostProcess},
		},
		Edges: []Edge{
			{Source: "fetch", Target: "broken"},
			{Source: "broken", Target: "downstream"},
			{Source: "fetch", Target: "independent"},
		},
	}

	result, err := runner.RunDAG(context.Background(), def, RunRequest{Query: "q"})

	assert.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Error(t, result.Err)

	assert.Equal(t, NodeCompleted, result.NodeStates["fetch"])
	assert.Equal(t, NodeFailed, result.NodeStates["broken"])
	assert.Equal(t, NodeSkipped, result.NodeStates["downstream"])
	assert.Equal(t, NodeCompleted, result.NodeStates["independent"])
	assert.Equal(t, 0, good.Calls())

	// Skipped nodes never run: fetch, broken, independent only.
	assert.Equal(t, 3, result.NodesExecuted)
}

// slowProvider blocks until its context is done, standing in for a
// hung upstream API.
type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) Complete(
	ctx context.Context, req provider.CompletionRequest,
) (*provider.CompletionResult, error) {
	<-ctx.Done()
	return nil, errors.NewProviderError("slow", errors.KindTransient, ctx.Err())
}

func TestDAGRunCancelledOnTimeout(t *testing.T) {
	orch := provider.NewOrchestrator(provider.WithProvider(slowProvider{}))
	runner := NewRunner(NewStepExecutor(orch))

	def := &Definition{
		ID:   "dag-slow",
		Name: "hung run",
		Nodes: []Node{
			{ID: "answer", Kind: StepGenerate, Config: StepConfig{
				Model: provider.ModelRef{Provider: "slow", Model: "m"},
			}},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := runner.RunDAG(ctx, def, RunRequest{Query: "q"})

	assert.NoError(t, err)
	assert.Equal(t, StatusCancelled, result.Status)
	assert.True(t, stderrors.Is(result.Err, errors.ErrRunCancelled))
}

func TestDAGBoundsConcurrency(t *testing.T) {
	rtvr := retrieval.NewStaticRetriever("corpus", testCorpus()...)
	mock := provider.NewMockProvider("mock", "fan out answer")
	runner := NewRunner(
		newTestExecutor(mock, WithRetriever(rtvr)),
		WithMaxConcurrency(1),
	)

	def := &Definition{
		ID:   "dag-fan",
		Name: "fan out",
		Nodes: []Node{
			{ID: "a", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
			{ID: "b", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
			{ID: "c", Kind: StepRetrieve, Config: StepConfig{Retriever: "corpus"}},
		},
	}

	result, err := runner.RunDAG(context.Background(), def, RunRequest{Query: "paris"})

	assert.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 3, result.NodesExecuted)

	// All three branches accumulated into the shared context.
	assert.Len(t, result.Response.Sources, 9)
}

func TestParseRanking(t *testing.T) {
	assert.Equal(t, []int{1, 0, 2}, parseRanking("2, 1, 3", 3))
	assert.Equal(t, []int{1}, parseRanking("Document 2 is best", 3))
	assert.Nil(t, parseRanking("banana", 3))
	assert.Nil(t, parseRanking("99", 3))
}
