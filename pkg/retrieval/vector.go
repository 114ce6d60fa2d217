package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/charmbracelet/log"
)

/*
VectorRetriever searches a Qdrant collection by embedding the query and
issuing a points/search call over the HTTP API. Document payloads are
expected to carry at least a "content" field; everything else in the
payload is preserved as document metadata.
*/
type VectorRetriever struct {
	name       string
	baseURL    string
	collection string
	embedder   provider.Embedder
	client     *http.Client
}

type VectorRetrieverOption func(*VectorRetriever)

func NewVectorRetriever(
	name string, embedder provider.Embedder, options ...VectorRetrieverOption,
) *VectorRetriever {
	rtvr := &VectorRetriever{
		name:       name,
		baseURL:    "http://localhost:6333",
		collection: "documents",
		embedder:   embedder,
		client:     &http.Client{Timeout: 30 * time.Second},
	}

	for _, option := range options {
		option(rtvr)
	}

	return rtvr
}

func (rtvr *VectorRetriever) Name() string { return rtvr.name }

func (rtvr *VectorRetriever) Search(
	ctx context.Context, query string, topK int,
) ([]Document, error) {
	if topK <= 0 {
		topK = 5
	}

	embedding, err := rtvr.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	body := map[string]any{
		"vector":       embedding,
		"limit":        topK,
		"with_payload": true,
	}

	var response struct {
		Result []struct {
			ID      any            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	if err := rtvr.post(
		ctx,
		fmt.Sprintf("/collections/%s/points/search", rtvr.collection),
		body,
		&response,
	); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(response.Result))

	for _, hit := range response.Result {
		doc := Document{
			ID:    fmt.Sprintf("%v", hit.ID),
			Score: hit.Score,
		}

		if content, ok := hit.Payload["content"].(string); ok {
			doc.Content = content
		}

		if len(hit.Payload) > 0 {
			doc.Metadata = make(map[string]any, len(hit.Payload))
			for k, v := range hit.Payload {
				if k == "content" {
					continue
				}
				doc.Metadata[k] = v
			}
		}

		docs = append(docs, doc)
	}

	log.Debug("vector search", "retriever", rtvr.name, "hits", len(docs))
	return docs, nil
}

func (rtvr *VectorRetriever) post(
	ctx context.Context, path string, body any, out any,
) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, rtvr.baseURL+path, bytes.NewReader(buf),
	)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := rtvr.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("qdrant: %s returned %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func WithVectorBaseURL(url string) VectorRetrieverOption {
	return func(rtvr *VectorRetriever) { rtvr.baseURL = url }
}

func WithVectorCollection(collection string) VectorRetrieverOption {
	return func(rtvr *VectorRetriever) { rtvr.collection = collection }
}

func WithVectorHTTPClient(client *http.Client) VectorRetrieverOption {
	return func(rtvr *VectorRetriever) { rtvr.client = client }
}
