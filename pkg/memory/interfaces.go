package memory

import "context"

// VectorIndex provides nearest-neighbor search over stored entries.
// The engine holds no locks over the index and relies on the backing
// store's own consistency guarantees for concurrent writers.
type VectorIndex interface {
	Upsert(ctx context.Context, entry Entry) error
	Get(ctx context.Context, id string) (Entry, error)
	Search(ctx context.Context, embedding []float32, topK int, userID string, filter Filters) ([]Match, error)
	ListByUser(ctx context.Context, userID string) ([]Entry, error)
	Delete(ctx context.Context, ids ...string) error
	Ping(ctx context.Context) error
}
