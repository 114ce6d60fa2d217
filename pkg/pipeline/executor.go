package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
	"github.com/charmbracelet/log"
)

const (
	defaultTopK        = 5
	maxGenerateDocs    = 5
	defaultMemoryTopK  = 5
	defaultGroupFloor  = 2
	metaRetrievalError = "retrievalError"
	metaMemoryError    = "memoryError"
)

var integerPattern = regexp.MustCompile(`\d+`)

/*
StepExecutor runs one step against an execution context. It holds the
shared service handles (LLM orchestrator, retriever registry, memory
manager) so the same executor serves both the linear and DAG runners.
*/
type StepExecutor struct {
	orchestrator *provider.Orchestrator
	retrievers   map[string]retrieval.Retriever
	memories     *memory.Manager
}

type ExecutorOption func(*StepExecutor)

func NewStepExecutor(
	orchestrator *provider.Orchestrator, options ...ExecutorOption,
) *StepExecutor {
	exec := &StepExecutor{
		orchestrator: orchestrator,
		retrievers:   make(map[string]retrieval.Retriever),
	}

	for _, option := range options {
		option(exec)
	}

	return exec
}

/*
Execute dispatches a step by kind. Retrieval and memory failures are
absorbed into the context's metadata so a run can still produce an
answer; every other failure is returned and ends the step.
*/
func (exec *StepExecutor) Execute(
	ctx context.Context, id string, kind StepKind, config StepConfig, ec *ExecutionContext,
) error {
	switch kind {
	case StepRewrite:
		return exec.rewrite(ctx, config, ec)
	case StepRetrieve:
		return exec.retrieve(ctx, id, config, ec)
	case StepRerank:
		return exec.rerank(ctx, config, ec)
	case StepGenerate:
		return exec.generate(ctx, config, ec)
	case StepPostProcess:
		return exec.postProcess(ec)
	case StepMemoryRetrieve:
		return exec.memoryRetrieve(ctx, config, ec)
	case StepMemoryUpdate:
		return exec.memoryUpdate(ctx, config, ec)
	case StepMemorySummarize:
		return exec.memorySummarize(ctx, config, ec)
	default:
		return errors.ErrStepConfig.WithData(
			fmt.Sprintf("step %q has unknown kind %q", id, kind),
		)
	}
}

func (exec *StepExecutor) rewrite(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "Rewrite the user's query so a search engine retrieves " +
			"the most relevant documents. Reply with the rewritten query only."
	}

	prompt := ec.CurrentQuery()
	if config.PromptTemplate != "" {
		prompt = strings.ReplaceAll(config.PromptTemplate, "{{query}}", prompt)
	}

	result, _, err := exec.orchestrator.Generate(ctx, provider.GenerateRequest{
		Primary:      config.Model,
		Fallbacks:    config.Fallbacks,
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Temperature:  config.Temperature,
		MaxTokens:    config.MaxTokens,
	})

	if err != nil {
		return errors.NewError(errors.ErrRewriteFailed, err)
	}

	rewritten := strings.TrimSpace(result.Content)
	if rewritten != "" {
		ec.SetCurrentQuery(rewritten)
		ec.SetMeta("rewrittenQuery", rewritten)
	}

	ec.RecordLLM(result.Provider + "/" + result.Model)
	return nil
}

func (exec *StepExecutor) retrieve(
	ctx context.Context, id string, config StepConfig, ec *ExecutionContext,
) error {
	rtvr, ok := exec.retrievers[config.Retriever]
	if !ok {
		log.Warn("retriever not registered", "step", id, "retriever", config.Retriever)
		ec.SetMeta(metaRetrievalError, fmt.Sprintf(
			"retriever %q is not registered", config.Retriever,
		))
		return nil
	}

	topK := config.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	docs, err := rtvr.Search(ctx, ec.CurrentQuery(), topK)
	if err != nil {
		log.Warn("retrieval failed", "step", id, "retriever", config.Retriever, "error", err)
		ec.SetMeta(metaRetrievalError, err.Error())
		return nil
	}

	ec.AppendDocuments(docs...)
	ec.RecordRetriever(rtvr.Name())
	return nil
}

/*
rerank asks an LLM to reorder the working document set and rewrites
the set from the reply. The reply is read as a sequence of 1-based
positions; positions the model does not mention drop their documents,
and a reply with no parseable positions leaves the order untouched.
*/
func (exec *StepExecutor) rerank(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	docs := ec.Documents()
	if len(docs) == 0 {
		return nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n\nDocuments:\n", ec.CurrentQuery())

	for idx, doc := range docs {
		fmt.Fprintf(&prompt, "%d. %s\n", idx+1, truncate(doc.Content, 500))
	}

	prompt.WriteString(
		"\nList the document numbers from most to least relevant, " +
			"omitting documents that do not help answer the query.",
	)

	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You rank documents by relevance. Reply with numbers only."
	}

	result, _, err := exec.orchestrator.Generate(ctx, provider.GenerateRequest{
		Primary:      config.Model,
		Fallbacks:    config.Fallbacks,
		Prompt:       prompt.String(),
		SystemPrompt: systemPrompt,
		Temperature:  config.Temperature,
		MaxTokens:    config.MaxTokens,
	})

	if err != nil {
		return err
	}

	ec.RecordLLM(result.Provider + "/" + result.Model)

	order := parseRanking(result.Content, len(docs))
	if order == nil {
		log.Warn("rerank reply had no usable ranking, keeping order")
		return nil
	}

	reordered := make([]retrieval.Document, 0, len(order))
	for _, idx := range order {
		reordered = append(reordered, docs[idx])
	}

	ec.SetDocuments(reordered)
	return nil
}

// parseRanking extracts 1-based positions from an LLM reply, dropping
// duplicates and out-of-range values. Returns nil when nothing parses.
func parseRanking(reply string, count int) []int {
	tokens := integerPattern.FindAllString(reply, -1)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[int]bool, count)
	order := make([]int, 0, count)

	for _, token := range tokens {
		position, err := strconv.Atoi(token)
		if err != nil || position < 1 || position > count {
			continue
		}

		if seen[position] {
			continue
		}

		seen[position] = true
		order = append(order, position-1)
	}

	if len(order) == 0 {
		return nil
	}

	return order
}

func (exec *StepExecutor) generate(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	docs := ec.Documents()
	memories := ec.Memories()

	var prompt strings.Builder

	if len(docs) > 0 {
		prompt.WriteString("Context documents:\n")

		limit := len(docs)
		if limit > maxGenerateDocs {
			limit = maxGenerateDocs
		}

		for idx := 0; idx < limit; idx++ {
			fmt.Fprintf(&prompt, "[%d] %s\n", idx+1, docs[idx].Content)
		}

		prompt.WriteString("\n")
	}

	if len(memories) > 0 {
		prompt.WriteString("Relevant history:\n")

		for _, match := range memories {
			fmt.Fprintf(&prompt, "- %s\n", truncate(match.Entry.Content(), 300))
		}

		prompt.WriteString("\n")
	}

	fmt.Fprintf(&prompt, "Question: %s", ec.CurrentQuery())

	systemPrompt := config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "Answer the question using the provided context. " +
			"If the context is insufficient, say so."
	}

	result, _, err := exec.orchestrator.Generate(ctx, provider.GenerateRequest{
		Primary:      config.Model,
		Fallbacks:    config.Fallbacks,
		Prompt:       prompt.String(),
		SystemPrompt: systemPrompt,
		Temperature:  config.Temperature,
		MaxTokens:    config.MaxTokens,
	})

	if err != nil {
		return err
	}

	ec.SetAnswer(strings.TrimSpace(result.Content), confidenceFor(docs))
	ec.RecordLLM(result.Provider + "/" + result.Model)
	return nil
}

// confidenceFor derives answer confidence from the best document
// score, capped below certainty. With no sources it stays neutral.
func confidenceFor(docs []retrieval.Document) float64 {
	if len(docs) == 0 {
		return 0.5
	}

	confidence := docs[0].Score * 1.2
	if confidence > 0.95 {
		confidence = 0.95
	}

	if confidence < 0 {
		confidence = 0
	}

	return confidence
}

func (exec *StepExecutor) postProcess(ec *ExecutionContext) error {
	answer, confidence := ec.Answer()
	ec.SetAnswer(strings.TrimSpace(answer), confidence)
	return nil
}

func (exec *StepExecutor) memoryRetrieve(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	if exec.memories == nil {
		ec.SetMeta(metaMemoryError, "memory manager is not configured")
		return nil
	}

	topK := config.MemoryTopK
	if topK <= 0 {
		topK = defaultMemoryTopK
	}

	matches, err := exec.memories.Retrieve(ctx, memory.RetrieveRequest{
		UserID:       ec.UserID(),
		Query:        ec.CurrentQuery(),
		TopK:         topK,
		HybridSearch: config.HybridSearch,
		Filter:       memory.Filters{MinScore: config.MinMemoryScore},
	})

	if err != nil {
		log.Warn("memory retrieve failed", "error", err)
		ec.SetMeta(metaMemoryError, err.Error())
		return nil
	}

	ec.AppendMemories(matches...)
	ec.SetMeta("memoriesRetrieved", len(matches))
	return nil
}

func (exec *StepExecutor) memoryUpdate(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	if exec.memories == nil {
		ec.SetMeta(metaMemoryError, "memory manager is not configured")
		return nil
	}

	answer, _ := ec.Answer()
	if answer == "" {
		ec.SetMeta(metaMemoryError, "no answer to store")
		return nil
	}

	entry, err := exec.memories.Store(ctx, memory.StoreRequest{
		UserID:   ec.UserID(),
		Query:    ec.OriginalQuery(),
		Response: answer,
		Dedup: memory.DedupPolicy{
			Enabled:  !config.SkipDedup,
			Strategy: config.MergeStrategy,
		},
	})

	if err != nil {
		log.Warn("memory store failed", "error", err)
		ec.SetMeta(metaMemoryError, err.Error())
		return nil
	}

	ec.SetMeta("memoryStored", entry.ID)
	return nil
}

func (exec *StepExecutor) memorySummarize(
	ctx context.Context, config StepConfig, ec *ExecutionContext,
) error {
	if exec.memories == nil {
		ec.SetMeta(metaMemoryError, "memory manager is not configured")
		return nil
	}

	groups, err := exec.memories.Group(
		ctx, ec.UserID(), config.GroupThreshold, defaultGroupFloor,
	)

	if err != nil {
		log.Warn("memory grouping failed", "error", err)
		ec.SetMeta(metaMemoryError, err.Error())
		return nil
	}

	summarized := 0

	for _, group := range groups {
		ids := make([]string, 0, len(group))
		for _, entry := range group {
			ids = append(ids, entry.ID)
		}

		if _, err := exec.memories.Summarize(ctx, ec.UserID(), ids); err != nil {
			log.Warn("memory summarize failed", "error", err)
			ec.SetMeta(metaMemoryError, err.Error())
			continue
		}

		summarized++
	}

	ec.SetMeta("memoriesSummarized", summarized)
	return nil
}

func truncate(content string, max int) string {
	if len(content) <= max {
		return content
	}
	return content[:max] + "..."
}

func WithRetriever(rtvr retrieval.Retriever) ExecutorOption {
	return func(exec *StepExecutor) { exec.retrievers[rtvr.Name()] = rtvr }
}

func WithMemoryManager(mgr *memory.Manager) ExecutorOption {
	return func(exec *StepExecutor) { exec.memories = mgr }
}
