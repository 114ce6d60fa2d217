package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
)

const (
	defaultMaxContentLength = 16384
	defaultDedupThreshold   = 0.92
	defaultTopK             = 5

	// Candidate multiplier for the secondary rerank: fetch more than
	// TopK from the index so rerank has something to reorder.
	candidateFactor = 3

	summarizeSystemPrompt = "You condense multiple related memory entries into one. " +
		"Keep every durable fact, preference and decision. Drop filler. " +
		"Respond with the condensed text only."
)

/*
Manager is the memory subsystem: it embeds, scores, deduplicates,
expires and summarizes long-term memory entries. Construct one
explicitly and pass it by reference so independent runs can use
independently configured instances.
*/
type Manager struct {
	index        VectorIndex
	embedder     provider.Embedder
	orchestrator *provider.Orchestrator

	// summaryRef selects the model used for summarize merges and
	// explicit summarization.
	summaryRef provider.ModelRef

	maxContentLength int
}

type ManagerOption func(*Manager)

func NewManager(index VectorIndex, embedder provider.Embedder, options ...ManagerOption) *Manager {
	mgr := &Manager{
		index:            index,
		embedder:         embedder,
		maxContentLength: defaultMaxContentLength,
		summaryRef:       provider.ModelRef{Provider: "openai", Model: "gpt-4o-mini"},
	}

	for _, option := range options {
		option(mgr)
	}

	return mgr
}

func WithOrchestrator(orch *provider.Orchestrator) ManagerOption {
	return func(mgr *Manager) {
		mgr.orchestrator = orch
	}
}

func WithSummaryModel(ref provider.ModelRef) ManagerOption {
	return func(mgr *Manager) {
		mgr.summaryRef = ref
	}
}

func WithMaxContentLength(n int) ManagerOption {
	return func(mgr *Manager) {
		mgr.maxContentLength = n
	}
}

/*
Store validates, classifies, tags, scores and persists a new memory
entry. When deduplication is enabled and a near-duplicate exists, the
configured merge strategy runs instead of a plain insert.
*/
func (mgr *Manager) Store(ctx context.Context, req StoreRequest) (Entry, error) {
	if strings.TrimSpace(req.Query) == "" || strings.TrimSpace(req.Response) == "" {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef("query and response must be non-empty")
	}
	if req.UserID == "" {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef("userId is required")
	}
	if len(req.Query)+len(req.Response) > mgr.maxContentLength {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef(
			"content exceeds %d characters", mgr.maxContentLength,
		)
	}

	now := time.Now().UTC()

	entry := Entry{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		WorkflowID:   req.WorkflowID,
		Query:        req.Query,
		Response:     req.Response,
		Type:         classify(req.Query, req.Response),
		Tags:         unionTags(req.Tags, extractTags(req.Query, req.Response)),
		LastAccessed: now,
		CreatedAt:    now,
	}

	if req.Importance != nil {
		entry.Importance = clamp01(*req.Importance)
	} else {
		entry.Importance = autoImportance(entry)
	}

	embedding, err := mgr.embedder.Embed(ctx, entry.Content())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate embedding: %w", err)
	}
	entry.Embedding = embedding

	if req.Dedup.Enabled {
		merged, handled, err := mgr.dedup(ctx, entry, req.Dedup)
		if err != nil {
			return Entry{}, err
		}
		if handled {
			return merged, nil
		}
	}

	if err := mgr.index.Upsert(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("failed to persist memory: %w", err)
	}

	return entry, nil
}

// dedup searches the user's memories for a near-duplicate of the new
// entry and, if one is found, applies exactly one merge strategy.
// The second return value reports whether the duplicate path handled
// persistence.
func (mgr *Manager) dedup(ctx context.Context, entry Entry, policy DedupPolicy) (Entry, bool, error) {
	threshold := policy.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = defaultDedupThreshold
	}

	matches, err := mgr.index.Search(ctx, entry.Embedding, 1, entry.UserID, Filters{})
	if err != nil {
		// Dedup is best-effort: a search failure degrades to a plain
		// insert rather than losing the memory.
		log.Warn("dedup search failed, storing without merge", "error", err)
		return Entry{}, false, nil
	}

	if len(matches) == 0 || matches[0].Score < threshold {
		return Entry{}, false, nil
	}

	existing := matches[0].Entry

	switch policy.Strategy {
	case MergeKeepRecent:
		if err := mgr.index.Delete(ctx, existing.ID); err != nil {
			return Entry{}, false, fmt.Errorf("failed to drop older duplicate: %w", err)
		}
		if err := mgr.index.Upsert(ctx, entry); err != nil {
			return Entry{}, false, fmt.Errorf("failed to persist memory: %w", err)
		}
		return entry, true, nil

	case MergeKeepImportant:
		if existing.Importance >= entry.Importance {
			return existing, true, nil
		}
		if err := mgr.index.Delete(ctx, existing.ID); err != nil {
			return Entry{}, false, fmt.Errorf("failed to drop less important duplicate: %w", err)
		}
		if err := mgr.index.Upsert(ctx, entry); err != nil {
			return Entry{}, false, fmt.Errorf("failed to persist memory: %w", err)
		}
		return entry, true, nil

	case MergeMetadata:
		existing.Tags = unionTags(existing.Tags, entry.Tags)
		if entry.Importance > existing.Importance {
			existing.Importance = entry.Importance
		}
		existing.AccessCount += entry.AccessCount
		if err := mgr.index.Upsert(ctx, existing); err != nil {
			return Entry{}, false, fmt.Errorf("failed to merge metadata: %w", err)
		}
		return existing, true, nil

	case MergeSummarize:
		merged, err := mgr.condense(ctx, entry, existing)
		if err != nil {
			return Entry{}, false, err
		}
		return merged, true, nil

	default:
		return Entry{}, false, errors.ErrMemoryInvalid.WithMessagef(
			"unknown merge strategy %q", policy.Strategy,
		)
	}
}

// condense asks the orchestrator to collapse a duplicate pair into one
// entry carrying the union of their metadata.
func (mgr *Manager) condense(ctx context.Context, fresh, existing Entry) (Entry, error) {
	if mgr.orchestrator == nil {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef(
			"summarize merge requires an orchestrator",
		)
	}

	prompt := fmt.Sprintf(
		"Memory A:\n%s\n\nMemory B:\n%s",
		existing.Content(), fresh.Content(),
	)

	result, _, err := mgr.orchestrator.Generate(ctx, provider.GenerateRequest{
		Primary:      mgr.summaryRef,
		Prompt:       prompt,
		SystemPrompt: summarizeSystemPrompt,
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to condense duplicates: %w", err)
	}

	merged := fresh
	merged.ID = uuid.NewString()
	merged.Response = strings.TrimSpace(result.Content)
	merged.Tags = unionTags(existing.Tags, fresh.Tags)
	merged.AccessCount = existing.AccessCount + fresh.AccessCount
	if existing.Importance > merged.Importance {
		merged.Importance = existing.Importance
	}

	embedding, err := mgr.embedder.Embed(ctx, merged.Content())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to embed condensed memory: %w", err)
	}
	merged.Embedding = embedding

	if err := mgr.index.Upsert(ctx, merged); err != nil {
		return Entry{}, fmt.Errorf("failed to persist condensed memory: %w", err)
	}
	if err := mgr.index.Delete(ctx, existing.ID); err != nil {
		return Entry{}, fmt.Errorf("failed to supersede duplicate: %w", err)
	}

	return merged, nil
}

/*
Retrieve embeds the query, searches the index with the request's
metadata filters, optionally blends in a keyword-overlap score, applies
the secondary rerank and returns the top-K. Every surfaced entry has
its access count bumped as a side effect.
*/
func (mgr *Manager) Retrieve(ctx context.Context, req RetrieveRequest) ([]Match, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, errors.ErrMemoryInvalid.WithMessagef("query must be non-empty")
	}

	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	embedding, err := mgr.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := mgr.index.Search(ctx, embedding, topK*candidateFactor, req.UserID, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("memory search failed: %w", err)
	}

	now := time.Now().UTC()

	for i := range candidates {
		score := candidates[i].Score

		if req.HybridSearch {
			keyword := keywordOverlap(req.Query, candidates[i].Entry.Content())
			score = hybridScore(score, keyword, req.KeywordWeight)
		}

		candidates[i].Score = rerankScore(score, candidates[i].Entry, now)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	for i := range candidates {
		// The boost can push the score past 1; clamp the surfaced
		// value so distance stays non-negative.
		candidates[i].Score = clamp01(candidates[i].Score)
		candidates[i].Distance = 1 - candidates[i].Score

		entry := candidates[i].Entry
		entry.AccessCount++
		entry.LastAccessed = now

		if err := mgr.index.Upsert(ctx, entry); err != nil {
			// Access accounting is best-effort.
			log.Warn("failed to bump access count", "id", entry.ID, "error", err)
			continue
		}

		candidates[i].Entry = entry
	}

	return candidates, nil
}

/*
UpdateImportance applies a feedback score in [-1, 1] to a stored entry,
clamping the result back into [0, 1] and recording the reason.
*/
func (mgr *Manager) UpdateImportance(ctx context.Context, id string, feedback float64, reason string) (Entry, error) {
	if feedback < -1 || feedback > 1 {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef(
			"feedback %f outside [-1, 1]", feedback,
		)
	}

	entry, err := mgr.index.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}

	before := entry.Importance
	entry.Importance = applyFeedback(entry.Importance, feedback)
	entry.FeedbackLog = append(entry.FeedbackLog, fmt.Sprintf(
		"%s %.2f->%.2f (%+.2f): %s",
		time.Now().UTC().Format(time.RFC3339), before, entry.Importance, feedback, reason,
	))

	if err := mgr.index.Upsert(ctx, entry); err != nil {
		return Entry{}, fmt.Errorf("failed to persist importance update: %w", err)
	}

	return entry, nil
}

/*
Summarize condenses two or more entries into a single new entry whose
importance is the maximum of the originals. The originals are removed
only after the summary is durably stored, so importance accounting
never sees a window with neither version present.
*/
func (mgr *Manager) Summarize(ctx context.Context, userID string, ids []string) (Entry, error) {
	if len(ids) < 2 {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef(
			"summarize needs at least 2 entries, got %d", len(ids),
		)
	}
	if mgr.orchestrator == nil {
		return Entry{}, errors.ErrMemoryInvalid.WithMessagef(
			"summarize requires an orchestrator",
		)
	}

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entry, err := mgr.index.Get(ctx, id)
		if err != nil {
			return Entry{}, err
		}

		// Entries owned by another user are treated as absent rather
		// than confirming they exist.
		if entry.UserID != userID {
			return Entry{}, errors.ErrMemoryNotFound.WithMessagef(
				"entry %s not found for user %s", id, userID,
			)
		}

		entries = append(entries, entry)
	}

	builder := &strings.Builder{}
	maxImportance := 0.0
	tags := []string{}
	accessTotal := 0

	for i, entry := range entries {
		fmt.Fprintf(builder, "Memory %d:\n%s\n\n", i+1, entry.Content())
		if entry.Importance > maxImportance {
			maxImportance = entry.Importance
		}
		tags = unionTags(tags, entry.Tags)
		accessTotal += entry.AccessCount
	}

	result, _, err := mgr.orchestrator.Generate(ctx, provider.GenerateRequest{
		Primary:      mgr.summaryRef,
		Prompt:       builder.String(),
		SystemPrompt: summarizeSystemPrompt,
		Temperature:  0.2,
		MaxTokens:    1024,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("summarization failed: %w", err)
	}

	now := time.Now().UTC()

	summary := Entry{
		ID:           uuid.NewString(),
		UserID:       userID,
		WorkflowID:   entries[0].WorkflowID,
		Query:        entries[0].Query,
		Response:     strings.TrimSpace(result.Content),
		Importance:   maxImportance,
		Type:         TypeInsight,
		Tags:         tags,
		AccessCount:  accessTotal,
		LastAccessed: now,
		CreatedAt:    now,
	}

	embedding, err := mgr.embedder.Embed(ctx, summary.Content())
	if err != nil {
		return Entry{}, fmt.Errorf("failed to embed summary: %w", err)
	}
	summary.Embedding = embedding

	if err := mgr.index.Upsert(ctx, summary); err != nil {
		return Entry{}, fmt.Errorf("failed to persist summary: %w", err)
	}

	if err := mgr.index.Delete(ctx, ids...); err != nil {
		return Entry{}, fmt.Errorf("failed to supersede summarized entries: %w", err)
	}

	return summary, nil
}

/*
Cleanup enforces a per-user memory budget. Entries beyond MaxAge are
deleted outright when age expiration is enabled; then, if more than
MaxMemories remain, the lowest-importance entries are deleted until
exactly MaxMemories are left. With Decay set, surviving entries have
their importance decayed by recency before the ceiling is applied.
*/
func (mgr *Manager) Cleanup(ctx context.Context, req CleanupRequest) (int, error) {
	entries, err := mgr.index.ListByUser(ctx, req.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to list memories: %w", err)
	}

	now := time.Now().UTC()
	deleted := 0

	if req.MaxAge > 0 {
		expired := make([]string, 0)
		kept := entries[:0]

		for _, entry := range entries {
			if now.Sub(entry.CreatedAt) > req.MaxAge {
				expired = append(expired, entry.ID)
				continue
			}
			kept = append(kept, entry)
		}

		if len(expired) > 0 {
			if err := mgr.index.Delete(ctx, expired...); err != nil {
				return deleted, fmt.Errorf("failed to expire memories: %w", err)
			}
			deleted += len(expired)
		}

		entries = kept
	}

	if req.Decay {
		for i := range entries {
			decayed := entries[i].Importance * recencyFactor(entries[i].LastAccessed, now)
			if decayed == entries[i].Importance {
				continue
			}
			entries[i].Importance = decayed
			if err := mgr.index.Upsert(ctx, entries[i]); err != nil {
				log.Warn("failed to persist decayed importance", "id", entries[i].ID, "error", err)
			}
		}
	}

	if req.MaxMemories <= 0 || len(entries) <= req.MaxMemories {
		return deleted, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Importance < entries[j].Importance
	})

	excess := len(entries) - req.MaxMemories
	ids := make([]string, 0, excess)
	for _, entry := range entries[:excess] {
		ids = append(ids, entry.ID)
	}

	if err := mgr.index.Delete(ctx, ids...); err != nil {
		return deleted, fmt.Errorf("failed to evict memories: %w", err)
	}

	return deleted + excess, nil
}

/*
Group proposes summarization candidates by greedy pairwise similarity:
each ungrouped entry seeds a group that absorbs every remaining entry
above the threshold. This is a greedy pass, not a true clustering
algorithm; it trades optimality for a single O(n²) sweep.
*/
func (mgr *Manager) Group(ctx context.Context, userID string, threshold float64, minSize int) ([][]Entry, error) {
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.85
	}
	if minSize < 2 {
		minSize = 2
	}

	entries, err := mgr.index.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	used := make([]bool, len(entries))
	groups := make([][]Entry, 0)

	for i := range entries {
		if used[i] {
			continue
		}

		group := []Entry{entries[i]}
		used[i] = true

		for j := i + 1; j < len(entries); j++ {
			if used[j] {
				continue
			}
			if Cosine(entries[i].Embedding, entries[j].Embedding) >= threshold {
				group = append(group, entries[j])
				used[j] = true
			}
		}

		if len(group) >= minSize {
			groups = append(groups, group)
		}
	}

	return groups, nil
}

// Ping reports whether the backing index is reachable.
func (mgr *Manager) Ping(ctx context.Context) error {
	return mgr.index.Ping(ctx)
}
