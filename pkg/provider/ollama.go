package provider

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/ollama/ollama/api"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
OllamaProvider is a provider for a local Ollama instance.
*/
type OllamaProvider struct {
	client *api.Client
}

type OllamaProviderOption func(*OllamaProvider)

func NewOllamaProvider(options ...OllamaProviderOption) *OllamaProvider {
	prvdr := &OllamaProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithOllamaClient()(prvdr)
	}

	return prvdr
}

func (prvdr *OllamaProvider) Name() string { return "ollama" }

func (prvdr *OllamaProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	messages := make([]api.Message, 0, 2)

	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}

	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": clampTemperature(req.Temperature, 0, 2),
			"num_predict": int(req.MaxTokens),
		},
	}

	var content string
	var tokens int64

	respFunc := func(resp api.ChatResponse) error {
		content += resp.Message.Content
		tokens = int64(resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount)
		return nil
	}

	if err := prvdr.client.Chat(ctx, chatReq, respFunc); err != nil {
		// A local runtime has no auth or quota layer; every failure
		// is either a bad request or transient.
		return nil, errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
	}

	if tokens == 0 {
		tokens = EstimateTokens(req.Prompt + content)
	}

	return &CompletionResult{
		Content:    content,
		Provider:   prvdr.Name(),
		Model:      req.Model,
		TokensUsed: tokens,
	}, nil
}

type OllamaEmbedder struct {
	client *api.Client
	Model  string
}

type OllamaEmbedderOption func(*OllamaEmbedder)

func NewOllamaEmbedder(options ...OllamaEmbedderOption) *OllamaEmbedder {
	embedder := &OllamaEmbedder{
		Model: "nomic-embed-text",
	}

	for _, option := range options {
		option(embedder)
	}

	if embedder.client == nil {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create ollama client", "error", err)
		}
		embedder.client = client
	}

	return embedder
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  e.Model,
		Prompt: text,
	})
	if err != nil {
		return nil, err
	}
	return convertToFloat32(resp.Embedding), nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		embedding, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = embedding
	}
	return out, nil
}

func WithOllamaClient() OllamaProviderOption {
	return func(prvdr *OllamaProvider) {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			log.Error("failed to create ollama client", "error", err)
			return
		}

		prvdr.client = client
	}
}

func WithOllamaEmbedderModel(model string) OllamaEmbedderOption {
	return func(e *OllamaEmbedder) {
		e.Model = model
	}
}
