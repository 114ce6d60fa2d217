package provider

import (
	"context"
	stderrors "errors"
	"os"

	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereclient "github.com/cohere-ai/cohere-go/v2/client"
	"github.com/cohere-ai/cohere-go/v2/core"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
CohereProvider is a provider for the Cohere API.
*/
type CohereProvider struct {
	client *cohereclient.Client
}

type CohereProviderOption func(*CohereProvider)

func NewCohereProvider(options ...CohereProviderOption) *CohereProvider {
	prvdr := &CohereProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithCohereClient()(prvdr)
	}

	return prvdr
}

func (prvdr *CohereProvider) Name() string { return "cohere" }

func (prvdr *CohereProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	model := req.Model
	maxTokens := int(req.MaxTokens)
	// Cohere's valid temperature range is [0, 1].
	temperature := clampTemperature(req.Temperature, 0, 1)

	params := &cohere.ChatRequest{
		Model:       &model,
		Message:     req.Prompt,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	}

	if req.SystemPrompt != "" {
		preamble := req.SystemPrompt
		params.Preamble = &preamble
	}

	response, err := prvdr.client.Chat(ctx, params)
	if err != nil {
		return nil, prvdr.wrapError(err)
	}

	content := response.GetText()

	var tokens int64
	if response.Meta != nil && response.Meta.Tokens != nil {
		if response.Meta.Tokens.InputTokens != nil {
			tokens += int64(*response.Meta.Tokens.InputTokens)
		}
		if response.Meta.Tokens.OutputTokens != nil {
			tokens += int64(*response.Meta.Tokens.OutputTokens)
		}
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

func (prvdr *CohereProvider) wrapError(err error) error {
	var apierr *core.APIError

	if stderrors.As(err, &apierr) {
		return errors.NewProviderError(
			prvdr.Name(), errors.KindFromStatus(apierr.StatusCode), err,
		)
	}

	return errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
}

type CohereEmbedder struct {
	api   *cohereclient.Client
	Model string
}

type CohereEmbedderOption func(*CohereEmbedder)

func NewCohereEmbedder(options ...CohereEmbedderOption) *CohereEmbedder {
	embedder := &CohereEmbedder{
		Model: "embed-english-v3.0",
	}

	for _, option := range options {
		option(embedder)
	}

	return embedder
}

func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.Model
	resp, err := e.api.Embed(ctx, &cohere.EmbedRequest{
		Model: &model,
		Texts: []string{text},
	})
	if err != nil {
		return nil, err
	}
	return convertToFloat32(resp.GetEmbeddingsFloats().Embeddings[0]), nil
}

func (e *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.Model
	resp, err := e.api.Embed(ctx, &cohere.EmbedRequest{
		Model: &model,
		Texts: texts,
	})
	if err != nil {
		return nil, err
	}

	embeddings := resp.GetEmbeddingsFloats().Embeddings
	out := make([][]float32, len(embeddings))
	for i, embedding := range embeddings {
		out[i] = convertToFloat32(embedding)
	}
	return out, nil
}

func WithCohereClient() CohereProviderOption {
	return func(prvdr *CohereProvider) {
		prvdr.client = cohereclient.NewClient(
			cohereclient.WithToken(os.Getenv("COHERE_API_KEY")),
		)
	}
}

func WithCohereEmbedderClient(client *cohereclient.Client) CohereEmbedderOption {
	return func(e *CohereEmbedder) {
		e.api = client
	}
}

func WithCohereEmbedderModel(model string) CohereEmbedderOption {
	return func(e *CohereEmbedder) {
		e.Model = model
	}
}
