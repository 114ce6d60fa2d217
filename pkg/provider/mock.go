package provider

import (
	"context"
	"sync"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

// MockProvider is a scripted provider for tests and demos. Responses are
// consumed in order; once the script is exhausted the last entry repeats.
type MockProvider struct {
	ProviderName string
	Responses    []string
	Errs         []error

	mu    sync.Mutex
	calls int
}

func NewMockProvider(name string, responses ...string) *MockProvider {
	return &MockProvider{ProviderName: name, Responses: responses}
}

// NewFailingProvider returns a mock whose every call fails with the
// given failure kind.
func NewFailingProvider(name string, kind errors.FailureKind) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		Errs: []error{errors.NewProviderError(
			name, kind, errors.NewError("scripted failure"),
		)},
	}
}

func (m *MockProvider) Name() string { return m.ProviderName }

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if len(m.Errs) > 0 {
		errIdx := idx
		if errIdx >= len(m.Errs) {
			errIdx = len(m.Errs) - 1
		}
		if err := m.Errs[errIdx]; err != nil {
			return nil, err
		}
	}

	content := ""
	if len(m.Responses) > 0 {
		respIdx := idx
		if respIdx >= len(m.Responses) {
			respIdx = len(m.Responses) - 1
		}
		content = m.Responses[respIdx]
	}

	return &CompletionResult{
		Content:    content,
		Provider:   m.ProviderName,
		Model:      req.Model,
		TokensUsed: EstimateTokens(req.Prompt + content),
	}, nil
}

// MockEmbedder generates deterministic embeddings for tests.
type MockEmbedder struct {
	Dimension int
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Dimension: 4}
}

func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embedding := make([]float32, e.Dimension)
	for i := 0; i < e.Dimension; i++ {
		if len(text) > 0 {
			embedding[i] = float32(text[i%len(text)]) / 256.0
		} else {
			embedding[i] = 0.5
		}
	}
	return embedding, nil
}

func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, _ := e.Embed(ctx, text)
		result[i] = embedding
	}
	return result, nil
}
