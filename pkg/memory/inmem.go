package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

// InMemoryIndex implements VectorIndex with real cosine similarity.
// It backs tests and dev mode; production deployments use Qdrant.
type InMemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewInMemoryIndex() *InMemoryIndex {
	return &InMemoryIndex{entries: make(map[string]Entry)}
}

func (idx *InMemoryIndex) Upsert(ctx context.Context, entry Entry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	idx.entries[entry.ID] = entry
	return nil
}

func (idx *InMemoryIndex) Get(ctx context.Context, id string) (Entry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[id]
	if !ok {
		return Entry{}, errors.ErrMemoryNotFound.WithMessagef("memory not found: %s", id)
	}

	return entry, nil
}

func (idx *InMemoryIndex) Search(
	ctx context.Context, embedding []float32, topK int, userID string, filter Filters,
) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	now := time.Now().UTC()
	matches := make([]Match, 0)

	for _, entry := range idx.entries {
		if userID != "" && entry.UserID != userID {
			continue
		}
		if !matchesFilter(entry, filter, now) {
			continue
		}

		score := Cosine(embedding, entry.Embedding)
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}

		matches = append(matches, Match{Entry: entry, Score: score, Distance: 1 - score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (idx *InMemoryIndex) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, 0)
	for _, entry := range idx.entries {
		if entry.UserID == userID {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return out, nil
}

func (idx *InMemoryIndex) Delete(ctx context.Context, ids ...string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, id := range ids {
		delete(idx.entries, id)
	}
	return nil
}

func (idx *InMemoryIndex) Ping(ctx context.Context) error {
	return nil
}

// matchesFilter applies every metadata constraint in Filters except
// MinScore, which needs the similarity score.
func matchesFilter(entry Entry, filter Filters, now time.Time) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if entry.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Tags) > 0 {
		tagSet := make(map[string]struct{}, len(entry.Tags))
		for _, tag := range entry.Tags {
			tagSet[tag] = struct{}{}
		}

		for _, want := range filter.Tags {
			if _, ok := tagSet[want]; !ok {
				return false
			}
		}
	}

	if filter.MinImportance > 0 && entry.Importance < filter.MinImportance {
		return false
	}
	if filter.MaxImportance > 0 && entry.Importance > filter.MaxImportance {
		return false
	}

	if !filter.After.IsZero() && entry.CreatedAt.Before(filter.After) {
		return false
	}
	if !filter.Before.IsZero() && entry.CreatedAt.After(filter.Before) {
		return false
	}

	if filter.MaxAge > 0 && now.Sub(entry.CreatedAt) > filter.MaxAge {
		return false
	}

	return true
}
