package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

// QdrantIndex implements VectorIndex against Qdrant's HTTP API.
type QdrantIndex struct {
	Endpoint   string
	Collection string
	HTTPClient *http.Client
}

func NewQdrantIndex(endpoint, collection string) *QdrantIndex {
	return &QdrantIndex{
		Endpoint:   endpoint,
		Collection: collection,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ensureCollection makes sure the collection exists, creating it if needed
func (idx *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/collections/%s", idx.Endpoint, idx.Collection),
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	createPayload := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}

	createBody, err := json.Marshal(createPayload)
	if err != nil {
		return err
	}

	createReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		fmt.Sprintf("%s/collections/%s", idx.Endpoint, idx.Collection),
		bytes.NewReader(createBody),
	)
	if err != nil {
		return err
	}
	createReq.Header.Set("Content-Type", "application/json")

	createResp, err := idx.HTTPClient.Do(createReq)
	if err != nil {
		return err
	}
	createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to create collection, status: %d", createResp.StatusCode)
	}

	return nil
}

func (idx *QdrantIndex) Upsert(ctx context.Context, entry Entry) error {
	if len(entry.Embedding) == 0 {
		return errors.ErrMemoryInvalid.WithMessagef("entry %s has no embedding", entry.ID)
	}

	if err := idx.ensureCollection(ctx, len(entry.Embedding)); err != nil {
		return fmt.Errorf("failed to ensure collection: %w", err)
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	point := map[string]any{
		"id":      entry.ID,
		"vector":  entry.Embedding,
		"payload": entryPayload(entry),
	}

	payload := map[string]any{
		"points": []map[string]any{point},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPut,
		fmt.Sprintf("%s/collections/%s/points", idx.Endpoint, idx.Collection),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to store memory, status: %d", resp.StatusCode)
	}

	return nil
}

func (idx *QdrantIndex) Get(ctx context.Context, id string) (Entry, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/collections/%s/points/%s", idx.Endpoint, idx.Collection, id),
		nil,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Entry{}, errors.ErrMemoryNotFound.WithMessagef("memory not found: %s", id)
	}

	if resp.StatusCode != http.StatusOK {
		return Entry{}, fmt.Errorf("failed to get memory, status: %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			ID      string         `json:"id"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Entry{}, fmt.Errorf("failed to decode response: %w", err)
	}

	entry := entryFromPayload(result.Result.ID, result.Result.Payload)
	entry.Embedding = result.Result.Vector

	return entry, nil
}

func (idx *QdrantIndex) Search(
	ctx context.Context, embedding []float32, topK int, userID string, filter Filters,
) ([]Match, error) {
	must := make([]map[string]any, 0, 4)

	if userID != "" {
		must = append(must, map[string]any{
			"key":   "userId",
			"match": map[string]any{"value": userID},
		})
	}

	if len(filter.Types) > 0 {
		values := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			values = append(values, string(t))
		}
		must = append(must, map[string]any{
			"key":   "type",
			"match": map[string]any{"any": values},
		})
	}

	for _, tag := range filter.Tags {
		must = append(must, map[string]any{
			"key":   "tags",
			"match": map[string]any{"value": tag},
		})
	}

	if filter.MinImportance > 0 || filter.MaxImportance > 0 {
		rangeCond := map[string]any{}
		if filter.MinImportance > 0 {
			rangeCond["gte"] = filter.MinImportance
		}
		if filter.MaxImportance > 0 {
			rangeCond["lte"] = filter.MaxImportance
		}
		must = append(must, map[string]any{
			"key":   "importance",
			"range": rangeCond,
		})
	}

	now := time.Now().UTC()
	after := filter.After
	if filter.MaxAge > 0 {
		cutoff := now.Add(-filter.MaxAge)
		if cutoff.After(after) {
			after = cutoff
		}
	}

	if !after.IsZero() || !filter.Before.IsZero() {
		rangeCond := map[string]any{}
		if !after.IsZero() {
			rangeCond["gte"] = after.Format(time.RFC3339)
		}
		if !filter.Before.IsZero() {
			rangeCond["lte"] = filter.Before.Format(time.RFC3339)
		}
		must = append(must, map[string]any{
			"key":            "createdAt",
			"datetime_range": rangeCond,
		})
	}

	searchPayload := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  true,
	}

	if filter.MinScore > 0 {
		searchPayload["score_threshold"] = filter.MinScore
	}

	if len(must) > 0 {
		searchPayload["filter"] = map[string]any{"must": must}
	}

	body, err := json.Marshal(searchPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/search", idx.Endpoint, idx.Collection),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search failed, status: %d", resp.StatusCode)
	}

	var result struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	matches := make([]Match, 0, len(result.Result))

	for _, item := range result.Result {
		entry := entryFromPayload(item.ID, item.Payload)
		entry.Embedding = item.Vector

		matches = append(matches, Match{
			Entry:    entry,
			Score:    item.Score,
			Distance: 1 - item.Score,
		})
	}

	return matches, nil
}

// ListByUser pages through the scroll API collecting every entry that
// belongs to the user.
func (idx *QdrantIndex) ListByUser(ctx context.Context, userID string) ([]Entry, error) {
	entries := make([]Entry, 0)
	var offset any

	for {
		scrollPayload := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  true,
			"filter": map[string]any{
				"must": []map[string]any{{
					"key":   "userId",
					"match": map[string]any{"value": userID},
				}},
			},
		}
		if offset != nil {
			scrollPayload["offset"] = offset
		}

		body, err := json.Marshal(scrollPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			fmt.Sprintf("%s/collections/%s/points/scroll", idx.Endpoint, idx.Collection),
			bytes.NewReader(body),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := idx.HTTPClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		var result struct {
			Result struct {
				Points []struct {
					ID      string         `json:"id"`
					Payload map[string]any `json:"payload"`
					Vector  []float32      `json:"vector"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}

		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("scroll failed, status: %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
		}

		for _, point := range result.Result.Points {
			entry := entryFromPayload(point.ID, point.Payload)
			entry.Embedding = point.Vector
			entries = append(entries, entry)
		}

		if result.Result.NextPageOffset == nil {
			return entries, nil
		}
		offset = result.Result.NextPageOffset
	}
}

func (idx *QdrantIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	payload := map[string]any{
		"points": ids,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/collections/%s/points/delete", idx.Endpoint, idx.Collection),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete failed, status: %d", resp.StatusCode)
	}

	return nil
}

func (idx *QdrantIndex) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		fmt.Sprintf("%s/collections", idx.Endpoint),
		nil,
	)
	if err != nil {
		return err
	}

	resp, err := idx.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed, status: %d", resp.StatusCode)
	}

	return nil
}

func entryPayload(entry Entry) map[string]any {
	return map[string]any{
		"userId":       entry.UserID,
		"workflowId":   entry.WorkflowID,
		"query":        entry.Query,
		"response":     entry.Response,
		"importance":   entry.Importance,
		"type":         string(entry.Type),
		"tags":         entry.Tags,
		"accessCount":  entry.AccessCount,
		"lastAccessed": entry.LastAccessed.Format(time.RFC3339),
		"createdAt":    entry.CreatedAt.Format(time.RFC3339),
		"feedbackLog":  entry.FeedbackLog,
	}
}

func entryFromPayload(id string, payload map[string]any) Entry {
	entry := Entry{ID: id}

	if payload == nil {
		return entry
	}

	if v, ok := payload["userId"].(string); ok {
		entry.UserID = v
	}
	if v, ok := payload["workflowId"].(string); ok {
		entry.WorkflowID = v
	}
	if v, ok := payload["query"].(string); ok {
		entry.Query = v
	}
	if v, ok := payload["response"].(string); ok {
		entry.Response = v
	}
	if v, ok := payload["importance"].(float64); ok {
		entry.Importance = v
	}
	if v, ok := payload["type"].(string); ok {
		entry.Type = EntryType(v)
	}
	if v, ok := payload["accessCount"].(float64); ok {
		entry.AccessCount = int(v)
	}

	if raw, ok := payload["tags"].([]any); ok {
		for _, item := range raw {
			if tag, ok := item.(string); ok {
				entry.Tags = append(entry.Tags, tag)
			}
		}
	}

	if raw, ok := payload["feedbackLog"].([]any); ok {
		for _, item := range raw {
			if line, ok := item.(string); ok {
				entry.FeedbackLog = append(entry.FeedbackLog, line)
			}
		}
	}

	if v, ok := payload["lastAccessed"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			entry.LastAccessed = t
		}
	}
	if v, ok := payload["createdAt"].(string); ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			entry.CreatedAt = t
		}
	}

	return entry
}
