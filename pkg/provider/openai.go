package provider

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Nitinref/R8R-sub001/pkg/errors"
)

/*
OpenAIProvider is a provider for the OpenAI API.
*/
type OpenAIProvider struct {
	client *openai.Client
}

type OpenAIProviderOption func(*OpenAIProvider)

func NewOpenAIProvider(options ...OpenAIProviderOption) *OpenAIProvider {
	prvdr := &OpenAIProvider{}

	for _, option := range options {
		option(prvdr)
	}

	if prvdr.client == nil {
		WithOpenAIClient()(prvdr)
	}

	return prvdr
}

func (prvdr *OpenAIProvider) Name() string { return "openai" }

func (prvdr *OpenAIProvider) Complete(
	ctx context.Context, req CompletionRequest,
) (*CompletionResult, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	messages = append(messages, openai.UserMessage(req.Prompt))

	response, err := prvdr.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(clampTemperature(req.Temperature, 0, 2)),
		MaxTokens:   openai.Int(req.MaxTokens),
	})

	if err != nil {
		return nil, prvdr.wrapError(err)
	}

	if len(response.Choices) == 0 {
		return nil, errors.NewProviderError(
			prvdr.Name(), errors.KindTransient,
			errors.NewError("empty choices in completion response"),
		)
	}

	content := response.Choices[0].Message.Content

	tokens := response.Usage.TotalTokens
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

func (prvdr *OpenAIProvider) wrapError(err error) error {
	var apierr *openai.Error

	if stderrors.As(err, &apierr) {
		kind := errors.KindFromStatus(apierr.StatusCode)

		// The moderation layer reports refusals as 400s with a
		// content_policy code, which must never be retried.
		if strings.Contains(apierr.Error(), "content_policy") {
			kind = errors.KindSafety
		}

		return errors.NewProviderError(prvdr.Name(), kind, err)
	}

	return errors.NewProviderError(prvdr.Name(), errors.KindTransient, err)
}

type OpenAIEmbedder struct {
	api   openai.Client
	Model string
}

type OpenAIEmbedderOption func(*OpenAIEmbedder)

func NewOpenAIEmbedder(options ...OpenAIEmbedderOption) *OpenAIEmbedder {
	embedder := &OpenAIEmbedder{
		Model: "text-embedding-3-small",
	}

	for _, option := range options {
		option(embedder)
	}

	return embedder
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: []string{text}},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.NewError("no embeddings returned")
	}
	return convertToFloat32(resp.Data[0].Embedding), nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.Model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		out[i] = convertToFloat32(item.Embedding)
	}
	return out, nil
}

func WithOpenAIClient() OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		client := openai.NewClient(
			option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
		)

		prvdr.client = &client
	}
}

func WithOpenAIBaseURL(url string) OpenAIProviderOption {
	return func(prvdr *OpenAIProvider) {
		client := openai.NewClient(
			option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
			option.WithBaseURL(url),
		)

		log.Debug("openai provider using custom base url", "url", url)
		prvdr.client = &client
	}
}

func WithOpenAIEmbedderModel(model string) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.Model = model
	}
}

func WithOpenAIEmbedderClient(client *openai.Client) OpenAIEmbedderOption {
	return func(e *OpenAIEmbedder) {
		e.api = *client
	}
}
